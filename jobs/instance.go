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
	"github.com/dagrunner/pipeliner/resourcemgr"
)

// JobInstance is a JobDefinition bound to a single node: it knows its
// resolved arguments, can report whether it is out of date, and can be
// run through a JobCallable.
type JobInstance struct {
	DefName string
	Node    identifiers.Node

	fn     JobFunc
	args   []Arg
	kwargs map[string]Arg
	ret    Arg
	jctx   *JobContext

	nodeInput []identifiers.ResourceKey
	resources *resourcemgr.Manager

	// RequiredDownstream is set by the graph when a downstream job that
	// depends on this instance's outputs is itself out of date, forcing
	// this instance to run even if its own inputs look unchanged.
	RequiredDownstream bool
}

// ID uniquely identifies the instance within a graph.
func (inst *JobInstance) ID() string {
	return inst.DefName + "@" + inst.Node.Key()
}

func (inst *JobInstance) allArgs() []Arg {
	all := make([]Arg, 0, len(inst.args)+len(inst.kwargs)+1)
	all = append(all, inst.args...)
	for _, a := range inst.kwargs {
		all = append(all, a)
	}
	if inst.ret != nil {
		all = append(all, inst.ret)
	}
	return all
}

// GetInputs returns every resource this instance reads, including the
// node-definition resources that make it depend on its own node's axes.
func (inst *JobInstance) GetInputs() []identifiers.ResourceKey {
	keys := append([]identifiers.ResourceKey(nil), inst.nodeInput...)
	for _, a := range inst.allArgs() {
		keys = append(keys, a.GetInputs()...)
	}
	return keys
}

// GetOutputs returns every resource this instance writes.
func (inst *JobInstance) GetOutputs() []identifiers.ResourceKey {
	var keys []identifiers.ResourceKey
	for _, a := range inst.allArgs() {
		keys = append(keys, a.GetOutputs()...)
	}
	return keys
}

// OutOfDate reports whether this instance needs to (re)run: any output
// resource missing, or any input resource newer than any output resource,
// or RequiredDownstream set.
func (inst *JobInstance) OutOfDate(ctx context.Context) (bool, error) {
	if inst.RequiredDownstream {
		return true, nil
	}
	outputs := inst.GetOutputs()
	if len(outputs) == 0 {
		// No tracked outputs: a pure side-effecting job always runs.
		return true, nil
	}
	inputs := inst.GetInputs()
	if len(inputs) == 0 {
		// Axis-less generator: no inputs to compare against, always runs.
		return true, nil
	}
	var oldestOutput *int64
	for _, key := range outputs {
		mtime, ok, err := inst.resources.Mtime(ctx, key)
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
		nanos := mtime.UnixNano()
		if oldestOutput == nil || nanos < *oldestOutput {
			oldestOutput = &nanos
		}
	}
	for _, key := range inputs {
		mtime, ok, err := inst.resources.Mtime(ctx, key)
		if err != nil {
			return false, err
		}
		if !ok {
			continue // input not yet produced: a missing upstream, not this job's concern
		}
		if mtime.UnixNano() > *oldestOutput {
			return true, nil
		}
	}
	return false, nil
}

// Explain returns a human-readable reason this instance is out of date,
// or "" if it is not.
func (inst *JobInstance) Explain(ctx context.Context) (string, error) {
	if inst.RequiredDownstream {
		return "a downstream job that depends on this one is out of date", nil
	}
	outputs := inst.GetOutputs()
	if len(outputs) == 0 {
		return "job has no tracked outputs", nil
	}
	inputs := inst.GetInputs()
	if len(inputs) == 0 {
		return "job has no tracked inputs (axis-less generator)", nil
	}
	var oldestOutput *int64
	var oldestKey identifiers.ResourceKey
	for _, key := range outputs {
		mtime, ok, err := inst.resources.Mtime(ctx, key)
		if err != nil {
			return "", err
		}
		if !ok {
			return fmt.Sprintf("output %s does not exist", key), nil
		}
		nanos := mtime.UnixNano()
		if oldestOutput == nil || nanos < *oldestOutput {
			oldestOutput = &nanos
			oldestKey = key
		}
	}
	for _, key := range inputs {
		mtime, ok, err := inst.resources.Mtime(ctx, key)
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}
		if mtime.UnixNano() > *oldestOutput {
			return fmt.Sprintf("input %s is newer than output %s", key, oldestKey), nil
		}
	}
	return "", nil
}

// SetRequiredDownstream marks this instance as forced to run because a
// downstream consumer is out of date, even if its own outputs look
// current.
func (inst *JobInstance) SetRequiredDownstream(v bool) {
	inst.RequiredDownstream = v
}

// Retry scales the instance's job context for resubmission.
func (inst *JobInstance) Retry() {
	inst.jctx.Retry()
}

// NumRetry reports how many times this instance has been retried.
func (inst *JobInstance) NumRetry() int {
	return inst.jctx.NumRetry
}

// Context returns the instance's job context, for the scheduler to
// inspect retry budget and scaling fields.
func (inst *JobInstance) Context() *JobContext {
	return inst.jctx
}
