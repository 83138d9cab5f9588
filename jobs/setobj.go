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

// SetObjDefinition is a degenerate job definition that stores a literal
// value into an oobj resource without calling any function, used by
// workflow construction helpers that need to seed a value (e.g. a
// sub-workflow's top-level parameters).
type SetObjDefinition struct {
	Name   string
	Target *Placeholder // must bind to an object-shaped output arg
	Value  any
}

// CreateInstances binds the definition to every node.
func (d *SetObjDefinition) CreateInstances(ctx context.Context, nodes []identifiers.Node, env BindEnv) ([]*SetObjInstance, error) {
	if d.Target == nil || d.Target.Kind != KindOObj {
		return nil, fmt.Errorf("%w: set-obj job %q target must be an oobj placeholder", ErrInvalidDefinition, d.Name)
	}
	instances := make([]*SetObjInstance, 0, len(nodes))
	for _, node := range nodes {
		arg, err := d.Target.Bind(ctx, node, env)
		if err != nil {
			return nil, fmt.Errorf("jobs: %s at %s: %w", d.Name, node, err)
		}
		instances = append(instances, &SetObjInstance{
			DefName:   d.Name,
			Node:      node,
			target:    arg.(*managedObjArg),
			value:     d.Value,
			nodeInput: env.Nodes.GetNodeInputs(node),
		})
	}
	return instances, nil
}

// SetObjInstance is a bound SetObjDefinition.
type SetObjInstance struct {
	DefName   string
	Node      identifiers.Node
	target    *managedObjArg
	value     any
	nodeInput []identifiers.ResourceKey

	RequiredDownstream bool
}

// SetRequiredDownstream marks this instance as forced to run because a
// downstream consumer is out of date.
func (inst *SetObjInstance) SetRequiredDownstream(v bool) { inst.RequiredDownstream = v }

// ID uniquely identifies the instance within a graph.
func (inst *SetObjInstance) ID() string { return inst.DefName + "@" + inst.Node.Key() }

// GetInputs returns the node-definition resources this instance depends on.
func (inst *SetObjInstance) GetInputs() []identifiers.ResourceKey { return inst.nodeInput }

// GetOutputs returns the single object resource this instance writes.
func (inst *SetObjInstance) GetOutputs() []identifiers.ResourceKey { return inst.target.GetOutputs() }

// OutOfDate reports whether the target resource has not yet been set.
func (inst *SetObjInstance) OutOfDate(ctx context.Context) (bool, error) {
	if inst.RequiredDownstream {
		return true, nil
	}
	ok, err := inst.target.Exists(ctx)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Explain returns a human-readable reason this instance is out of date.
func (inst *SetObjInstance) Explain(ctx context.Context) (string, error) {
	outOfDate, err := inst.OutOfDate(ctx)
	if err != nil {
		return "", err
	}
	if !outOfDate {
		return "", nil
	}
	return "target object value not yet set", nil
}

// Run stores the literal value into the target resource.
func (inst *SetObjInstance) Run(ctx context.Context) error {
	if _, err := inst.target.Resolve(ctx); err != nil {
		return err
	}
	inst.target.sink.Value = inst.value
	return inst.target.UpdateDB(ctx)
}
