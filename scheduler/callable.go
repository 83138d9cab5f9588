// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dagrunner/pipeliner/execqueue"
	"github.com/dagrunner/pipeliner/graph"
	"github.com/dagrunner/pipeliner/identifiers"
	"github.com/dagrunner/pipeliner/jobs"
)

// jobCallableAdapter boxes a *jobs.JobCallable's (JobResult, error) pair
// as the (any, error) execqueue.Callable expects.
type jobCallableAdapter struct {
	cb *jobs.JobCallable
}

func (a *jobCallableAdapter) Run(ctx context.Context) (any, error) {
	result, err := a.cb.Run(ctx)
	return result, err
}

// setObjCallableAdapter adapts a *jobs.SetObjInstance's plain error
// return the same way.
type setObjCallableAdapter struct {
	inst *jobs.SetObjInstance
}

func (a *setObjCallableAdapter) Run(ctx context.Context) (any, error) {
	return nil, a.inst.Run(ctx)
}

// changeAxisCallableAdapter adapts a *jobs.ChangeAxisInstance's plain
// error return the same way.
type changeAxisCallableAdapter struct {
	inst *jobs.ChangeAxisInstance
}

func (a *changeAxisCallableAdapter) Run(ctx context.Context) (any, error) {
	return nil, a.inst.Run(ctx)
}

// workflowCallableAdapter runs a sub-workflow instance's expansion
// function and boxes the resulting definitions as a workflowExpansion,
// for handleCompletion to splice into the graph as new sources.
type workflowCallableAdapter struct {
	cb   *jobs.WorkflowCallable
	root identifiers.Node
}

func (a *workflowCallableAdapter) Run(ctx context.Context) (any, error) {
	jobDefs, subDefs, err := a.cb.Expand(ctx)
	if err != nil {
		return nil, err
	}
	return workflowExpansion{root: a.root, jobDefs: jobDefs, subDefs: subDefs}, nil
}

// workflowExpansion carries the job and nested sub-workflow definitions
// a sub-workflow instance's Expand produced, scoped to the node it ran
// at, so they can be spliced into the graph as new sources ahead of the
// next Regenerate.
type workflowExpansion struct {
	root    identifiers.Node
	jobDefs []*jobs.JobDefinition
	subDefs []*jobs.SubWorkflowDefinition
}

// buildCallable wraps inst as an execqueue.Callable and computes the
// exception directory its attempt writes under ("exc{retry_idx}" under
// "<LogRoot>/<job name>/<node subdir>", the job directory first and the
// node directory inside it). SetObjInstance and sub-workflow instances have
// no retry concept and no captured stdio, so they get an empty exc dir.
func (s *Scheduler) buildCallable(inst graph.Instance) (execqueue.Callable, string, error) {
	switch v := inst.(type) {
	case *jobs.JobInstance:
		excDir := filepath.Join(s.cfg.LogRoot, v.DefName, v.Node.Subdir(), fmt.Sprintf("exc%d", v.NumRetry()))
		return &jobCallableAdapter{cb: jobs.NewJobCallable(v, s.cfg.LogRoot)}, excDir, nil
	case *jobs.SetObjInstance:
		return &setObjCallableAdapter{inst: v}, "", nil
	case *jobs.ChangeAxisInstance:
		return &changeAxisCallableAdapter{inst: v}, "", nil
	case graph.SubWorkflowUnwrapper:
		swi := v.UnwrapSubWorkflow()
		return &workflowCallableAdapter{cb: &jobs.WorkflowCallable{Instance: swi}, root: swi.Node}, "", nil
	default:
		return nil, "", fmt.Errorf("scheduler: unsupported instance type %T", inst)
	}
}

// shouldRetry reports whether the job instance named id should be
// resubmitted rather than treated as a fatal failure: it must be a
// JobInstance (SetObjInstance has no retry capability), its budget must
// not be spent, and at least one context field must actually change on
// retry (an unproductive retry is treated as exhausted).
func (s *Scheduler) shouldRetry(id string) bool {
	inst, ok := s.graph.Instance(id)
	if !ok {
		return false
	}
	ji, ok := inst.(*jobs.JobInstance)
	if !ok {
		return false
	}
	jctx := ji.Context()
	if jctx.NumRetry >= jctx.RetryBudget() {
		return false
	}
	return jctx.HasRetryUpdate()
}

// definitionName extracts the job definition name from an instance ID
// of the form "<name>@<node key>", for metrics labeling.
func definitionName(id string) string {
	for i := 0; i < len(id); i++ {
		if id[i] == '@' {
			return id[:i]
		}
	}
	return id
}
