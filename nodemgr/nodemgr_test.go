// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package nodemgr

import (
	"context"
	"errors"
	"testing"

	"github.com/dagrunner/pipeliner/identifiers"
	"github.com/dagrunner/pipeliner/resourcemgr"
	"github.com/dagrunner/pipeliner/storage/badgerkv"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db, err := badgerkv.OpenDB(badgerkv.InMemoryConfig())
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	nodeShelf := badgerkv.NewShelf(db, "nodes")
	resShelf := badgerkv.NewShelf(db, "resources")
	res := resourcemgr.New(resShelf, t.TempDir())
	t.Cleanup(res.Close)
	return New(nodeShelf, res)
}

func TestRetrieveNodesUndefinedAxisYieldsNothing(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, ok, err := mgr.RetrieveNodes(ctx, []string{"byline"})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected undefined axis to yield nothing")
	}
}

func TestRetrieveNodesSingleAxis(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	chunks := []identifiers.Chunk{identifiers.IntChunk(0), identifiers.IntChunk(1), identifiers.IntChunk(2)}
	if err := mgr.StoreChunks(ctx, "byline", identifiers.Root, chunks); err != nil {
		t.Fatal(err)
	}

	nodes, ok, err := mgr.RetrieveNodes(ctx, []string{"byline"})
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected defined axis to yield nodes")
	}
	if len(nodes) != 3 {
		t.Fatalf("got %d nodes, want 3", len(nodes))
	}
}

func TestRetrieveNodesNestedAxes(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	outer := []identifiers.Chunk{identifiers.IntChunk(0), identifiers.IntChunk(1)}
	if err := mgr.StoreChunks(ctx, "byfile", identifiers.Root, outer); err != nil {
		t.Fatal(err)
	}
	inner2 := []identifiers.Chunk{identifiers.IntChunk(0), identifiers.IntChunk(1)}
	if err := mgr.StoreChunks(ctx, "byline", identifiers.Root.Append("byfile", identifiers.IntChunk(0)), inner2); err != nil {
		t.Fatal(err)
	}
	if err := mgr.StoreChunks(ctx, "byline", identifiers.Root.Append("byfile", identifiers.IntChunk(1)), inner2); err != nil {
		t.Fatal(err)
	}

	nodes, ok, err := mgr.RetrieveNodes(ctx, []string{"byfile", "byline"})
	if err != nil {
		t.Fatal(err)
	}
	if !ok || len(nodes) != 4 {
		t.Fatalf("got %d nodes (ok=%v), want 4", len(nodes), ok)
	}
}

func TestStoreChunksMismatchAfterCommit(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	first := []identifiers.Chunk{identifiers.IntChunk(0), identifiers.IntChunk(1)}
	if err := mgr.StoreChunks(ctx, "byline", identifiers.Root, first); err != nil {
		t.Fatal(err)
	}
	mgr.MarkCommitted("byline", identifiers.Root)

	second := []identifiers.Chunk{identifiers.IntChunk(0), identifiers.IntChunk(1), identifiers.IntChunk(2)}
	err := mgr.StoreChunks(ctx, "byline", identifiers.Root, second)
	if !errors.Is(err, ErrAxisChunksMismatch) {
		t.Fatalf("expected ErrAxisChunksMismatch, got %v", err)
	}
}

func TestStoreChunksSameValueAfterCommitIsFine(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	chunks := []identifiers.Chunk{identifiers.IntChunk(0), identifiers.IntChunk(1)}
	if err := mgr.StoreChunks(ctx, "byline", identifiers.Root, chunks); err != nil {
		t.Fatal(err)
	}
	mgr.MarkCommitted("byline", identifiers.Root)

	if err := mgr.StoreChunks(ctx, "byline", identifiers.Root, chunks); err != nil {
		t.Fatalf("expected no error re-storing identical chunk set, got %v", err)
	}
}

func TestGetNodeInputs(t *testing.T) {
	mgr := newTestManager(t)
	node := identifiers.Root.Append("byfile", identifiers.IntChunk(0)).Append("byline", identifiers.IntChunk(1))
	inputs := mgr.GetNodeInputs(node)
	if len(inputs) != 2 {
		t.Fatalf("got %d node inputs, want 2", len(inputs))
	}
	if inputs[0].Name != axisResourceName("byfile") {
		t.Fatalf("inputs[0].Name = %q", inputs[0].Name)
	}
	if inputs[1].Name != axisResourceName("byline") {
		t.Fatalf("inputs[1].Name = %q", inputs[1].Name)
	}
}
