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
	"github.com/dagrunner/pipeliner/nodemgr"
)

// instArg backs inst(axis): a literal pulled straight out of the node
// identity, never a tracked resource.
type instArg struct {
	noopArg
	value identifiers.Chunk
}

func newInstArg(p *Placeholder, node identifiers.Node) (*instArg, error) {
	axis := p.Axes[0]
	chunk, ok := node.Chunk(axis)
	if !ok {
		return nil, fmt.Errorf("%w: axis %q not defined on node %s", ErrJobArgMismatch, axis, node)
	}
	return &instArg{value: chunk}, nil
}

func (a *instArg) Prepare(ctx context.Context) error { return nil }

func (a *instArg) Resolve(ctx context.Context) (any, error) {
	if v, ok := a.value.Int(); ok {
		return v, nil
	}
	return a.value.String(), nil
}

// ChunkSink is what an ochunks argument resolves to: the job callable
// appends the chunk values it discovered, and UpdateDB commits them as
// the axis's chunk set.
type ChunkSink struct {
	Chunks []identifiers.Chunk
}

// AppendInt appends an integer chunk to the sink.
func (s *ChunkSink) AppendInt(v int64) { s.Chunks = append(s.Chunks, identifiers.IntChunk(v)) }

// AppendString appends a string chunk to the sink.
func (s *ChunkSink) AppendString(v string) { s.Chunks = append(s.Chunks, identifiers.StringChunk(v)) }

// ichunksArg backs ichunks(axis): the full chunk set currently defined
// for axis, rooted at the job's own node.
type ichunksArg struct {
	axis   string
	parent identifiers.Node
	nodes  *nodemgr.Manager
}

func newIChunksArg(p *Placeholder, node identifiers.Node, env BindEnv) (*ichunksArg, error) {
	return &ichunksArg{axis: p.Axes[0], parent: node, nodes: env.Nodes}, nil
}

func (a *ichunksArg) GetInputs() []identifiers.ResourceKey {
	return []identifiers.ResourceKey{a.nodes.AxisResourceKey(a.axis, a.parent)}
}
func (a *ichunksArg) GetOutputs() []identifiers.ResourceKey { return nil }
func (a *ichunksArg) Prepare(ctx context.Context) error     { return nil }
func (a *ichunksArg) Pull(ctx context.Context) error        { return nil }
func (a *ichunksArg) Push(ctx context.Context) error        { return nil }
func (a *ichunksArg) UpdateDB(ctx context.Context) error    { return nil }

func (a *ichunksArg) Resolve(ctx context.Context) (any, error) {
	chunks, ok, err := a.nodes.Chunks(ctx, a.axis, a.parent)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("jobs: ichunks %q at %s: not yet defined", a.axis, a.parent)
	}
	return chunks, nil
}

// ochunksArg backs ochunks(axis): the job populates a ChunkSink, and
// UpdateDB commits it as axis's new chunk set, splitting the graph over
// that axis.
type ochunksArg struct {
	axis   string
	parent identifiers.Node
	nodes  *nodemgr.Manager
	sink   *ChunkSink
}

func newOChunksArg(p *Placeholder, node identifiers.Node, env BindEnv) (*ochunksArg, error) {
	return &ochunksArg{axis: p.Axes[0], parent: node, nodes: env.Nodes}, nil
}

func (a *ochunksArg) GetInputs() []identifiers.ResourceKey { return nil }
func (a *ochunksArg) GetOutputs() []identifiers.ResourceKey {
	return []identifiers.ResourceKey{a.nodes.AxisResourceKey(a.axis, a.parent)}
}
func (a *ochunksArg) Prepare(ctx context.Context) error { return nil }
func (a *ochunksArg) Pull(ctx context.Context) error    { return nil }
func (a *ochunksArg) Push(ctx context.Context) error    { return nil }

func (a *ochunksArg) Resolve(ctx context.Context) (any, error) {
	a.sink = &ChunkSink{}
	return a.sink, nil
}

func (a *ochunksArg) UpdateDB(ctx context.Context) error {
	if a.sink == nil {
		return fmt.Errorf("jobs: ochunks %q at %s: job did not resolve sink", a.axis, a.parent)
	}
	return a.nodes.StoreChunks(ctx, a.axis, a.parent, a.sink.Chunks)
}
