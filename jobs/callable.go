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
	"os"
	"path/filepath"
	"time"
)

// JobTimer records the wall-clock span of a single job execution.
type JobTimer struct {
	Start time.Time
	End   time.Time
}

// Duration returns the elapsed time between Start and End.
func (t JobTimer) Duration() time.Duration { return t.End.Sub(t.Start) }

// JobResult is everything a JobCallable learned about one execution.
type JobResult struct {
	Timer   JobTimer
	Value   any
	OutPath string
	ErrPath string
}

// JobCallable runs a bound JobInstance to completion: it prepares and
// pulls every argument, resolves them into the values the job function
// sees, invokes the function with per-instance stdout/stderr files, and
// on success pushes and commits every output argument.
type JobCallable struct {
	Instance *JobInstance
	LogDir   string // directory holding job.out/job.err for this instance
}

// NewJobCallable constructs a callable for inst, writing its captured
// stdio under logRoot/<definition name>/<node subdir>/.
func NewJobCallable(inst *JobInstance, logRoot string) *JobCallable {
	return &JobCallable{Instance: inst, LogDir: filepath.Join(logRoot, inst.DefName, inst.Node.Subdir())}
}

// Run executes the job instance. On a non-nil error the caller (the
// scheduler) decides whether to retry; output arguments are only pushed
// and committed when the job function returns successfully.
func (c *JobCallable) Run(ctx context.Context) (JobResult, error) {
	inst := c.Instance

	if err := os.MkdirAll(c.LogDir, 0o755); err != nil {
		return JobResult{}, fmt.Errorf("jobs: create log dir: %w", err)
	}
	outPath := filepath.Join(c.LogDir, "job.out")
	errPath := filepath.Join(c.LogDir, "job.err")
	outFile, err := os.Create(outPath)
	if err != nil {
		return JobResult{}, fmt.Errorf("jobs: create %s: %w", outPath, err)
	}
	defer outFile.Close()
	errFile, err := os.Create(errPath)
	if err != nil {
		return JobResult{}, fmt.Errorf("jobs: create %s: %w", errPath, err)
	}
	defer errFile.Close()

	all := inst.allArgs()
	for _, a := range all {
		if err := a.Prepare(ctx); err != nil {
			return JobResult{}, fmt.Errorf("jobs: prepare: %w", err)
		}
	}
	for _, a := range all {
		if err := a.Pull(ctx); err != nil {
			return JobResult{}, fmt.Errorf("jobs: pull: %w", err)
		}
	}

	args := make([]any, len(inst.args))
	for i, a := range inst.args {
		v, err := a.Resolve(ctx)
		if err != nil {
			return JobResult{}, fmt.Errorf("jobs: resolve arg %d: %w", i, err)
		}
		args[i] = v
	}
	kwargs := make(map[string]any, len(inst.kwargs))
	for name, a := range inst.kwargs {
		v, err := a.Resolve(ctx)
		if err != nil {
			return JobResult{}, fmt.Errorf("jobs: resolve kwarg %q: %w", name, err)
		}
		kwargs[name] = v
	}
	var retSink any
	if inst.ret != nil {
		retSink, err = inst.ret.Resolve(ctx)
		if err != nil {
			return JobResult{}, fmt.Errorf("jobs: resolve return: %w", err)
		}
	}

	timer := JobTimer{Start: time.Now()}
	value, callErr := inst.fn(ctx, inst.jctx, args, kwargs, outFile, errFile)
	timer.End = time.Now()
	if callErr != nil {
		return JobResult{Timer: timer, OutPath: outPath, ErrPath: errPath}, callErr
	}

	if inst.ret != nil {
		if sink, ok := retSink.(*ObjectSink); ok {
			sink.Value = value
		}
	}

	for _, a := range all {
		if err := a.Push(ctx); err != nil {
			return JobResult{Timer: timer}, fmt.Errorf("jobs: push: %w", err)
		}
	}
	for _, a := range all {
		if err := a.UpdateDB(ctx); err != nil {
			return JobResult{Timer: timer}, fmt.Errorf("jobs: update db: %w", err)
		}
	}

	return JobResult{Timer: timer, Value: value, OutPath: outPath, ErrPath: errPath}, nil
}
