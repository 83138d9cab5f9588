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

import "errors"

// Sentinel errors for the scheduler package's run-level failure modes.
var (
	// ErrPipelineFailed is returned by Run when the drain completes with
	// at least one fatal job failure.
	ErrPipelineFailed = errors.New("scheduler: pipeline failed")

	// ErrIncompleteJob wraps a job failure whose retry budget is
	// exhausted (or that has no retry capability at all).
	ErrIncompleteJob = errors.New("scheduler: job failed and retries exhausted")

	// ErrNoProgress is returned when the queue is empty and nothing is
	// ready, but the graph has not reached quiescence either — a stuck
	// state that should never occur outside a bug in PopNextJob/graph
	// wiring.
	ErrNoProgress = errors.New("scheduler: no progress possible")
)
