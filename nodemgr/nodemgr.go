// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package nodemgr persists and yields the concrete chunk values an axis
// currently takes, and exposes the node-input resources that make a job
// depend on its own node's axis definitions.
package nodemgr

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dagrunner/pipeliner/identifiers"
	"github.com/dagrunner/pipeliner/resourcemgr"
	"github.com/dagrunner/pipeliner/storage/badgerkv"
)

// axisResourceName is the object-resource name convention the resource
// manager uses to track the mtime of an axis's chunk set, so jobs that
// depend on that axis's definition become out of date when it is
// reshuffled.
func axisResourceName(axis string) string {
	return "__axis__:" + axis
}

// wireChunk is the JSON-serializable form of an identifiers.Chunk.
type wireChunk struct {
	IsInt  bool   `json:"is_int"`
	IntVal int64  `json:"int_val,omitempty"`
	StrVal string `json:"str_val,omitempty"`
}

func toWire(c identifiers.Chunk) wireChunk {
	if v, ok := c.Int(); ok {
		return wireChunk{IsInt: true, IntVal: v}
	}
	return wireChunk{StrVal: c.String()}
}

func fromWire(w wireChunk) identifiers.Chunk {
	if w.IsInt {
		return identifiers.IntChunk(w.IntVal)
	}
	return identifiers.StringChunk(w.StrVal)
}

// Manager is the node manager.
type Manager struct {
	shelf badgerkv.Shelf
	res   *resourcemgr.Manager

	mu        sync.Mutex
	committed map[string]bool // axisKey(axis, parent) -> downstream has committed
}

// New constructs a Manager whose chunk sets are persisted in shelf and
// whose axis-definition mtimes are tracked through res.
func New(shelf badgerkv.Shelf, res *resourcemgr.Manager) *Manager {
	return &Manager{shelf: shelf, res: res, committed: make(map[string]bool)}
}

func axisKey(axis string, parent identifiers.Node) string {
	if parent.IsRoot() {
		return axis
	}
	return parent.Key() + "::" + axis
}

// MarkCommitted records that a downstream job depending on axis, rooted at
// parent, has successfully completed. Once marked, a subsequent
// StoreChunks with a different chunk set for the same (axis, parent) pair
// fails with ErrAxisChunksMismatch.
func (m *Manager) MarkCommitted(axis string, parent identifiers.Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed[axisKey(axis, parent)] = true
}

// StoreChunks persists the chunk set for axis rooted at parent.
func (m *Manager) StoreChunks(ctx context.Context, axis string, parent identifiers.Node, chunks []identifiers.Chunk) error {
	key := axisKey(axis, parent)

	existing, ok, err := m.loadChunks(ctx, key)
	if err != nil {
		return err
	}
	if ok {
		m.mu.Lock()
		committed := m.committed[key]
		m.mu.Unlock()
		if committed && !sameChunks(existing, chunks) {
			return fmt.Errorf("%w: axis %q at %s", ErrAxisChunksMismatch, axis, parent)
		}
	}

	wire := make([]wireChunk, len(chunks))
	for i, c := range chunks {
		wire[i] = toWire(c)
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("nodemgr: encode chunks: %w", err)
	}
	if err := m.shelf.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("nodemgr: store chunks: %w", err)
	}

	resKey := identifiers.ResourceKey{Name: axisResourceName(axis), Node: parent}
	m.res.Register(resourcemgr.Descriptor{Key: resKey, Kind: resourcemgr.Object})
	if err := m.res.UpdateOnWrite(ctx, resKey, ""); err != nil {
		return fmt.Errorf("nodemgr: update axis mtime: %w", err)
	}

	if !sameChunks(existing, chunks) {
		m.mu.Lock()
		m.committed[key] = false
		m.mu.Unlock()
	}
	return nil
}

func sameChunks(a, b []identifiers.Chunk) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].String() != b[i].String() || a[i].IsInt() != b[i].IsInt() {
			return false
		}
	}
	return true
}

func (m *Manager) loadChunks(ctx context.Context, key string) ([]identifiers.Chunk, bool, error) {
	raw, ok, err := m.shelf.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("nodemgr: load chunks: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	var wire []wireChunk
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, false, fmt.Errorf("nodemgr: decode chunks: %w", err)
	}
	chunks := make([]identifiers.Chunk, len(wire))
	for i, w := range wire {
		chunks[i] = fromWire(w)
	}
	return chunks, true, nil
}

// ChunksDefined reports whether axis has a stored chunk set rooted at
// parent yet.
func (m *Manager) ChunksDefined(ctx context.Context, axis string, parent identifiers.Node) (bool, error) {
	_, ok, err := m.loadChunks(ctx, axisKey(axis, parent))
	return ok, err
}

// Chunks returns the chunk set currently stored for axis rooted at
// parent.
func (m *Manager) Chunks(ctx context.Context, axis string, parent identifiers.Node) ([]identifiers.Chunk, bool, error) {
	return m.loadChunks(ctx, axisKey(axis, parent))
}

// AxisResourceKey returns the resource key whose mtime tracks axis's
// chunk-set definition rooted at parent, for use by arguments that need
// to depend on (ichunks) or produce (ochunks) that definition directly.
func (m *Manager) AxisResourceKey(axis string, parent identifiers.Node) identifiers.ResourceKey {
	return identifiers.ResourceKey{Name: axisResourceName(axis), Node: parent}
}

// RetrieveNodes yields one node per element of the cartesian product of
// the current chunk sets of axes, walked outer-to-inner so a nested axis's
// chunk set (stored per outer node) is looked up at the correct parent.
// If any axis has no chunk set defined at every node currently in the
// frontier, the whole call yields nothing (ok=false) — the definition is
// deferred until its producing split job runs.
func (m *Manager) RetrieveNodes(ctx context.Context, axes []string) ([]identifiers.Node, bool, error) {
	return m.RetrieveNodesFrom(ctx, identifiers.Root, axes)
}

// RetrieveNodesFrom is RetrieveNodes generalised to start its walk from
// root instead of the global root, for definitions spliced in by a
// sub-workflow expansion and scoped to the sub-workflow instance's own
// node rather than the whole axis namespace.
func (m *Manager) RetrieveNodesFrom(ctx context.Context, root identifiers.Node, axes []string) ([]identifiers.Node, bool, error) {
	frontier := []identifiers.Node{root}
	if len(axes) == 0 {
		return frontier, true, nil
	}
	for _, axis := range axes {
		var next []identifiers.Node
		anyDefined := false
		for _, parent := range frontier {
			chunks, ok, err := m.loadChunks(ctx, axisKey(axis, parent))
			if err != nil {
				return nil, false, err
			}
			if !ok {
				continue
			}
			anyDefined = true
			for _, c := range chunks {
				next = append(next, parent.Append(axis, c))
			}
		}
		if !anyDefined {
			return nil, false, nil
		}
		frontier = next
	}
	return frontier, true, nil
}

// GetNodeInputs returns the axis-definition resource keys that define
// node's axes, from root down to node itself: a job instantiated at node
// automatically becomes out of date whenever any ancestor axis is
// reshuffled.
func (m *Manager) GetNodeInputs(node identifiers.Node) []identifiers.ResourceKey {
	axes := node.Axes()
	keys := make([]identifiers.ResourceKey, 0, len(axes))
	parent := identifiers.Root
	for _, axis := range axes {
		keys = append(keys, identifiers.ResourceKey{Name: axisResourceName(axis), Node: parent})
		chunk, _ := node.Chunk(axis)
		parent = parent.Append(axis, chunk)
	}
	return keys
}
