// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jobs

import (
	"context"
	"fmt"

	"github.com/dagrunner/pipeliner/identifiers"
)

// WorkflowFunc builds the nested job definitions of a sub-workflow: it
// may also return further SubWorkflowDefinitions, for workflows whose
// structure itself depends on runtime state and must be regenerated
// dynamically.
type WorkflowFunc func(ctx context.Context, args []any, kwargs map[string]any) ([]*JobDefinition, []*SubWorkflowDefinition, error)

// SubWorkflowDefinition declares a sub-workflow: calling its function
// yields the job (and nested sub-workflow) definitions to splice into
// the graph, rooted at whatever node the sub-workflow itself is
// instantiated at.
type SubWorkflowDefinition struct {
	Name string
	Axes []string
	Call struct {
		Func   WorkflowFunc
		Args   []*Placeholder
		Kwargs map[string]*Placeholder
	}
}

// CreateInstances binds the definition to every node.
func (d *SubWorkflowDefinition) CreateInstances(ctx context.Context, nodes []identifiers.Node, env BindEnv) ([]*SubWorkflowInstance, error) {
	if d.Call.Func == nil {
		return nil, fmt.Errorf("%w: sub-workflow %q has no function", ErrInvalidDefinition, d.Name)
	}
	instances := make([]*SubWorkflowInstance, 0, len(nodes))
	for _, node := range nodes {
		args := make([]Arg, len(d.Call.Args))
		for i, p := range d.Call.Args {
			a, err := p.Bind(ctx, node, env)
			if err != nil {
				return nil, fmt.Errorf("jobs: %s at %s: %w", d.Name, node, err)
			}
			args[i] = a
		}
		kwargs := make(map[string]Arg, len(d.Call.Kwargs))
		for name, p := range d.Call.Kwargs {
			a, err := p.Bind(ctx, node, env)
			if err != nil {
				return nil, fmt.Errorf("jobs: %s at %s: %w", d.Name, node, err)
			}
			kwargs[name] = a
		}
		instances = append(instances, &SubWorkflowInstance{
			DefName:   d.Name,
			Node:      node,
			fn:        d.Call.Func,
			args:      args,
			kwargs:    kwargs,
			nodeInput: env.Nodes.GetNodeInputs(node),
		})
	}
	return instances, nil
}

// SubWorkflowInstance is a bound SubWorkflowDefinition, expanded through
// a WorkflowCallable.
type SubWorkflowInstance struct {
	DefName string
	Node    identifiers.Node

	fn        WorkflowFunc
	args      []Arg
	kwargs    map[string]Arg
	nodeInput []identifiers.ResourceKey
}

// ID uniquely identifies the instance within a graph.
func (inst *SubWorkflowInstance) ID() string { return inst.DefName + "@" + inst.Node.Key() }

// GetInputs returns the node-definition resources this instance depends on.
func (inst *SubWorkflowInstance) GetInputs() []identifiers.ResourceKey { return inst.nodeInput }

// WorkflowCallable expands a SubWorkflowInstance into the job (and
// nested sub-workflow) definitions it yields, scoped at inst.Node.
type WorkflowCallable struct {
	Instance *SubWorkflowInstance
}

// Expand resolves the instance's arguments and invokes its function.
func (c *WorkflowCallable) Expand(ctx context.Context) ([]*JobDefinition, []*SubWorkflowDefinition, error) {
	inst := c.Instance
	args := make([]any, len(inst.args))
	for i, a := range inst.args {
		v, err := a.Resolve(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("jobs: resolve arg %d: %w", i, err)
		}
		args[i] = v
	}
	kwargs := make(map[string]any, len(inst.kwargs))
	for name, a := range inst.kwargs {
		v, err := a.Resolve(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("jobs: resolve kwarg %q: %w", name, err)
		}
		kwargs[name] = v
	}
	return inst.fn(ctx, args, kwargs)
}
