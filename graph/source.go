// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"errors"

	"github.com/dagrunner/pipeliner/identifiers"
	"github.com/dagrunner/pipeliner/jobs"
)

// Instance is the capability every runnable unit in the graph must
// provide, whether it is a full JobInstance or a degenerate
// SetObjInstance.
type Instance interface {
	ID() string
	GetInputs() []identifiers.ResourceKey
	GetOutputs() []identifiers.ResourceKey
	OutOfDate(ctx context.Context) (bool, error)
	SetRequiredDownstream(bool)
}

// nodeRetriever is the subset of *nodemgr.Manager the graph needs to
// defer definitions whose axes are not yet materialised.
type nodeRetriever interface {
	RetrieveNodes(ctx context.Context, axes []string) ([]identifiers.Node, bool, error)
	RetrieveNodesFrom(ctx context.Context, root identifiers.Node, axes []string) ([]identifiers.Node, bool, error)
}

// Source produces the instances for one job definition, deferring
// (returning ok=false) when its axes are not yet materialised.
type Source interface {
	DefinitionName() string
	Axes() []string
	CreateInstances(ctx context.Context, nodes nodeRetriever, env jobs.BindEnv) ([]Instance, bool, error)
}

// JobSource adapts a *jobs.JobDefinition into a Source.
type JobSource struct {
	Def *jobs.JobDefinition
}

func (s JobSource) DefinitionName() string { return s.Def.Name }
func (s JobSource) Axes() []string         { return s.Def.Axes }

func (s JobSource) CreateInstances(ctx context.Context, nodes nodeRetriever, env jobs.BindEnv) ([]Instance, bool, error) {
	nodeList, ok, err := nodes.RetrieveNodes(ctx, s.Def.Axes)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	raw, err := s.Def.CreateInstances(ctx, nodeList, env)
	if err != nil {
		if errors.Is(err, jobs.ErrAxisNotReady) {
			return nil, false, nil
		}
		return nil, false, err
	}
	out := make([]Instance, len(raw))
	for i, inst := range raw {
		out[i] = inst
	}
	return out, true, nil
}

// SetObjSource adapts a *jobs.SetObjDefinition into a Source.
type SetObjSource struct {
	Def *jobs.SetObjDefinition
}

func (s SetObjSource) DefinitionName() string { return s.Def.Name }
func (s SetObjSource) Axes() []string         { return nil }

func (s SetObjSource) CreateInstances(ctx context.Context, nodes nodeRetriever, env jobs.BindEnv) ([]Instance, bool, error) {
	nodeList, ok, err := nodes.RetrieveNodes(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	raw, err := s.Def.CreateInstances(ctx, nodeList, env)
	if err != nil {
		if errors.Is(err, jobs.ErrAxisNotReady) {
			return nil, false, nil
		}
		return nil, false, err
	}
	out := make([]Instance, len(raw))
	for i, inst := range raw {
		out[i] = inst
	}
	return out, true, nil
}

// WorkflowSource adapts a *jobs.JobDefinition spliced into the graph by
// a sub-workflow's expansion. Unlike JobSource, its node retrieval is
// scoped to Root — the expanding sub-workflow instance's own node —
// rather than the global root, so a job definition the expansion
// function builds is only instantiated under that one sub-workflow
// invocation.
type WorkflowSource struct {
	Def  *jobs.JobDefinition
	Root identifiers.Node
}

func (s WorkflowSource) DefinitionName() string { return s.Def.Name }
func (s WorkflowSource) Axes() []string         { return s.Def.Axes }

func (s WorkflowSource) CreateInstances(ctx context.Context, nodes nodeRetriever, env jobs.BindEnv) ([]Instance, bool, error) {
	nodeList, ok, err := nodes.RetrieveNodesFrom(ctx, s.Root, s.Def.Axes)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	raw, err := s.Def.CreateInstances(ctx, nodeList, env)
	if err != nil {
		if errors.Is(err, jobs.ErrAxisNotReady) {
			return nil, false, nil
		}
		return nil, false, err
	}
	out := make([]Instance, len(raw))
	for i, inst := range raw {
		out[i] = inst
	}
	return out, true, nil
}

// SubWorkflowSource adapts a *jobs.SubWorkflowDefinition into a Source,
// scoped to Root the same way WorkflowSource is. Used both for
// top-level sub-workflow definitions (Root == identifiers.Root) and for
// nested ones a parent sub-workflow's expansion returns.
type SubWorkflowSource struct {
	Def  *jobs.SubWorkflowDefinition
	Root identifiers.Node
}

func (s SubWorkflowSource) DefinitionName() string { return s.Def.Name }
func (s SubWorkflowSource) Axes() []string         { return s.Def.Axes }

func (s SubWorkflowSource) CreateInstances(ctx context.Context, nodes nodeRetriever, env jobs.BindEnv) ([]Instance, bool, error) {
	nodeList, ok, err := nodes.RetrieveNodesFrom(ctx, s.Root, s.Def.Axes)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	raw, err := s.Def.CreateInstances(ctx, nodeList, env)
	if err != nil {
		if errors.Is(err, jobs.ErrAxisNotReady) {
			return nil, false, nil
		}
		return nil, false, err
	}
	out := make([]Instance, len(raw))
	for i, inst := range raw {
		out[i] = subworkflowInstance{inst: inst}
	}
	return out, true, nil
}

// ChangeAxisSource adapts a *jobs.ChangeAxisDefinition into a Source. It
// defers until its OldAxis has a defined chunk set at Root, rather than
// through the usual nodeRetriever.RetrieveNodes path, since a
// change-axis definition has no axes of its own to resolve nodes by.
type ChangeAxisSource struct {
	Def *jobs.ChangeAxisDefinition
}

func (s ChangeAxisSource) DefinitionName() string { return s.Def.Name }
func (s ChangeAxisSource) Axes() []string         { return nil }

func (s ChangeAxisSource) CreateInstances(ctx context.Context, nodes nodeRetriever, env jobs.BindEnv) ([]Instance, bool, error) {
	ready, err := env.Nodes.ChunksDefined(ctx, s.Def.OldAxis, identifiers.Root)
	if err != nil {
		return nil, false, err
	}
	if !ready {
		return nil, false, nil
	}
	raw, err := s.Def.CreateInstances(ctx, []identifiers.Node{identifiers.Root}, env)
	if err != nil {
		return nil, false, err
	}
	out := make([]Instance, len(raw))
	for i, inst := range raw {
		out[i] = inst
	}
	return out, true, nil
}

// subworkflowInstance adapts a *jobs.SubWorkflowInstance into Instance.
// A sub-workflow job produces no resource of its own — its expansion's
// job definitions do, once spliced in — so GetOutputs is empty and it
// is always out of date, the same as any other axis-less generator with
// no outputs to check an mtime against.
type subworkflowInstance struct {
	inst *jobs.SubWorkflowInstance
}

func (s subworkflowInstance) ID() string                          { return s.inst.ID() }
func (s subworkflowInstance) GetInputs() []identifiers.ResourceKey { return s.inst.GetInputs() }
func (s subworkflowInstance) GetOutputs() []identifiers.ResourceKey { return nil }
func (s subworkflowInstance) OutOfDate(ctx context.Context) (bool, error) { return true, nil }
func (s subworkflowInstance) SetRequiredDownstream(bool)                  {}

// UnwrapSubWorkflow exposes the underlying *jobs.SubWorkflowInstance so
// the scheduler can recognise and expand it without graph needing to
// export the wrapper type itself.
func (s subworkflowInstance) UnwrapSubWorkflow() *jobs.SubWorkflowInstance { return s.inst }

// SubWorkflowUnwrapper is implemented by any Instance wrapping a
// dynamic sub-workflow expansion.
type SubWorkflowUnwrapper interface {
	UnwrapSubWorkflow() *jobs.SubWorkflowInstance
}
