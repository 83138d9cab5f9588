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
	"io"

	"github.com/dagrunner/pipeliner/identifiers"
)

// JobFunc is the user-supplied callable a JobDefinition wraps. args holds
// the resolved value of every CallSet.Args entry in order; kwargs holds
// the resolved value of every CallSet.Kwargs entry by name. stdout/stderr
// are per-instance writers backing job.out/job.err, for jobs that shell
// out to an external command.
type JobFunc func(ctx context.Context, jctx *JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error)

// CallSet is a job's function together with its managed-argument
// declarations, mirroring pypeliner's call set of positional and keyword
// arguments.
type CallSet struct {
	Func   JobFunc
	Args   []*Placeholder
	Kwargs map[string]*Placeholder
	Ret    *Placeholder // optional: the function's return value, e.g. OObj
}

// JobDefinition is a named unit of work declared once and instantiated at
// every node its Axes expand to.
type JobDefinition struct {
	Name string
	Axes []string // axes this job is split over, beyond whatever node it is regenerated under
	Call CallSet
	Ctx  map[string]float64 // base resource context, e.g. {"mem": 4}
}

// Validate rejects job definitions that cannot possibly bind: a nil
// function, or a Ret placeholder that is not an output-shaped variant.
func (d *JobDefinition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: job definition has no name", ErrInvalidDefinition)
	}
	if d.Call.Func == nil {
		return fmt.Errorf("%w: job %q has no function", ErrInvalidDefinition, d.Name)
	}
	if d.Call.Ret != nil {
		switch d.Call.Ret.Kind {
		case KindOutput, KindOFile, KindOObj, KindOChunks:
		default:
			return fmt.Errorf("%w: job %q return placeholder must be output-shaped, got %s", ErrInvalidDefinition, d.Name, d.Call.Ret.Kind)
		}
	}
	return nil
}

// CreateInstances binds the definition to every node, returning one
// JobInstance per node. Binding failures (ErrJobArgMismatch) abort the
// whole call, since they indicate a structural problem with the
// definition rather than a per-node condition.
func (d *JobDefinition) CreateInstances(ctx context.Context, nodes []identifiers.Node, env BindEnv) ([]*JobInstance, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	instances := make([]*JobInstance, 0, len(nodes))
	for _, node := range nodes {
		inst, err := d.bindOne(ctx, node, env)
		if err != nil {
			return nil, fmt.Errorf("jobs: %s at %s: %w", d.Name, node, err)
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

func (d *JobDefinition) bindOne(ctx context.Context, node identifiers.Node, env BindEnv) (*JobInstance, error) {
	args := make([]Arg, len(d.Call.Args))
	for i, p := range d.Call.Args {
		a, err := p.Bind(ctx, node, env)
		if err != nil {
			return nil, err
		}
		args[i] = a
	}
	kwargs := make(map[string]Arg, len(d.Call.Kwargs))
	for name, p := range d.Call.Kwargs {
		a, err := p.Bind(ctx, node, env)
		if err != nil {
			return nil, err
		}
		kwargs[name] = a
	}
	var ret Arg
	if d.Call.Ret != nil {
		a, err := d.Call.Ret.Bind(ctx, node, env)
		if err != nil {
			return nil, err
		}
		ret = a
	}

	inst := &JobInstance{
		DefName:   d.Name,
		Node:      node,
		fn:        d.Call.Func,
		args:      args,
		kwargs:    kwargs,
		ret:       ret,
		jctx:      NewJobContext(d.Ctx),
		nodeInput: env.Nodes.GetNodeInputs(node),
		resources: env.Resources,
	}
	return inst, nil
}
