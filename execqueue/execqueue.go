// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package execqueue provides the execution-queue abstraction the
// scheduler submits bound job callables to. The engine itself never
// blocks on a job directly; it sends a callable under a display name
// and later waits
// for any completion to come back, so the same scheduler loop can
// drive jobs that run as local goroutines, subprocesses, or remote
// workers without change.
package execqueue

import (
	"context"
	"errors"
)

// ErrReceiveMismatch is returned by Receive when name does not
// correspond to an outstanding or completed send. The scheduler
// treats it as non-fatal: the job is resubmitted on the retry path,
// mirroring the original engine's ReceiveError handling.
var ErrReceiveMismatch = errors.New("execqueue: no result for name")

// Callable is the unit of work a Queue executes. JobCallable and
// WorkflowCallable (package jobs) both satisfy this by wrapping their
// Run methods.
type Callable interface {
	Run(ctx context.Context) (any, error)
}

// Result is what comes back from a completed Callable. ExcDir is
// threaded through unmodified so the scheduler can find the
// exception directory it allocated for this attempt.
type Result struct {
	Name   string
	Value  any
	Err    error
	ExcDir string
}

// Queue is the capability set the scheduler needs from an execution
// backend: Send submits a named callable, Wait blocks for the next
// completion, Receive consumes a named completion, Empty and Length
// report queue occupancy.
type Queue interface {
	Send(ctx context.Context, name string, job Callable, excDir string) error
	Wait(ctx context.Context) (string, error)
	Receive(name string) (Result, error)
	Empty() bool
	Length() int
}
