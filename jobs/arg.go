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

	"github.com/dagrunner/pipeliner/identifiers"
)

// Arg is the capability contract every managed-argument variant
// implements once bound to a node. The job callable only ever sees the
// value Resolve returns; everything else is scheduler-side bookkeeping.
type Arg interface {
	// GetInputs returns the resource keys this argument reads.
	GetInputs() []identifiers.ResourceKey
	// GetOutputs returns the resource keys this argument writes.
	GetOutputs() []identifiers.ResourceKey
	// Prepare creates any directories or temp paths the argument needs
	// before the job runs.
	Prepare(ctx context.Context) error
	// Pull fetches a Shared resource from the remote store, if any, before
	// the job reads it.
	Pull(ctx context.Context) error
	// Resolve returns the value the job callable sees in its place.
	Resolve(ctx context.Context) (any, error)
	// Push uploads a Shared resource to the remote store, if any, after
	// the job writes it.
	Push(ctx context.Context) error
	// UpdateDB refreshes resource-manager (and, for chunk arguments,
	// node-manager) state after the job has run.
	UpdateDB(ctx context.Context) error
}

// RemoteStore pushes and pulls Shared resources to and from a remote
// object store, keyed by resource identity.
type RemoteStore interface {
	Push(ctx context.Context, key identifiers.ResourceKey, localPath string) error
	Pull(ctx context.Context, key identifiers.ResourceKey, localPath string) error
}

// noopArg implements the parts of Arg that are trivial for variants with
// no remote or DB participation; embed and override as needed.
type noopArg struct{}

func (noopArg) Pull(ctx context.Context) error      { return nil }
func (noopArg) Push(ctx context.Context) error      { return nil }
func (noopArg) UpdateDB(ctx context.Context) error  { return nil }
func (noopArg) GetInputs() []identifiers.ResourceKey  { return nil }
func (noopArg) GetOutputs() []identifiers.ResourceKey { return nil }
