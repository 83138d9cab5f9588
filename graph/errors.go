// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph maintains the dependency DAG of bound job instances,
// regenerates it as axes are split and re-grouped, and hands out ready
// jobs to the scheduler.
package graph

import (
	"errors"
	"fmt"
)

// Sentinel errors for the graph package's regeneration phase.
var (
	// ErrDependencyCycle is returned when regeneration finds a back edge.
	ErrDependencyCycle = errors.New("graph: dependency cycle")

	// ErrDuplicateOutput is returned when two instances declare the same
	// output resource.
	ErrDuplicateOutput = errors.New("graph: duplicate output producer")

	// ErrNoJobs is returned by PopNextJob when nothing is ready and
	// nothing is running: terminal quiescence.
	ErrNoJobs = errors.New("graph: no jobs ready")
)

// CycleError carries the chain of instance IDs that form a detected
// cycle, in order, with the first ID repeated at the end.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%v: %v", ErrDependencyCycle, e.Path)
}

func (e *CycleError) Unwrap() error { return ErrDependencyCycle }

// DuplicateOutputError names the resource and the two instances that
// both claim to produce it.
type DuplicateOutputError struct {
	Resource   string
	FirstOwner string
	SecondOwner string
}

func (e *DuplicateOutputError) Error() string {
	return fmt.Sprintf("%v: resource %q produced by both %q and %q", ErrDuplicateOutput, e.Resource, e.FirstOwner, e.SecondOwner)
}

func (e *DuplicateOutputError) Unwrap() error { return ErrDuplicateOutput }
