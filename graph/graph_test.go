// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/dagrunner/pipeliner/identifiers"
	"github.com/dagrunner/pipeliner/jobs"
	"github.com/dagrunner/pipeliner/nodemgr"
	"github.com/dagrunner/pipeliner/resourcemgr"
	"github.com/dagrunner/pipeliner/storage/badgerkv"
)

func newTestGraphEnv(t *testing.T) (jobs.BindEnv, *nodemgr.Manager) {
	t.Helper()
	db, err := badgerkv.OpenDB(badgerkv.InMemoryConfig())
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	resShelf := badgerkv.NewShelf(db, "resources")
	nodeShelf := badgerkv.NewShelf(db, "nodes")
	tempDir := t.TempDir()
	res := resourcemgr.New(resShelf, tempDir)
	t.Cleanup(res.Close)
	nodes := nodemgr.New(nodeShelf, res)
	return jobs.BindEnv{Resources: res, Nodes: nodes, TempDir: tempDir}, nodes
}

func noopFunc(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
	return nil, nil
}

func writeFileFunc(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
	return nil, os.WriteFile(args[len(args)-1].(string), []byte("x"), 0o644)
}

func TestRegenerateSimpleChainOrdersByDependency(t *testing.T) {
	env, nodes := newTestGraphEnv(t)
	ctx := context.Background()

	defA := &jobs.JobDefinition{Name: "a", Call: jobs.CallSet{Func: writeFileFunc, Args: []*jobs.Placeholder{jobs.OFile("mid")}}}
	defB := &jobs.JobDefinition{Name: "b", Call: jobs.CallSet{Func: writeFileFunc, Args: []*jobs.Placeholder{jobs.IFile("mid"), jobs.OFile("final")}}}

	g := New(nodes, env, JobSource{Def: defA}, JobSource{Def: defB})
	if err := g.Regenerate(ctx); err != nil {
		t.Fatalf("Regenerate: %v", err)
	}

	id, inst, err := g.PopNextJob()
	if err != nil {
		t.Fatalf("PopNextJob: %v", err)
	}
	if id != "a@" {
		t.Fatalf("expected a to be ready first, got %q", id)
	}

	if _, _, err := g.PopNextJob(); err != nil {
		t.Fatalf("expected no error while a is running and b is blocked, got %v", err)
	}

	callable := jobs.NewJobCallable(inst.(*jobs.JobInstance), filepath.Join(t.TempDir(), "logs"))
	if _, err := callable.Run(ctx); err != nil {
		t.Fatalf("run a: %v", err)
	}
	g.NotifyCompleted(id)

	if err := g.Regenerate(ctx); err != nil {
		t.Fatalf("Regenerate 2: %v", err)
	}
	id2, _, err := g.PopNextJob()
	if err != nil {
		t.Fatalf("PopNextJob 2: %v", err)
	}
	if id2 != "b@" {
		t.Fatalf("expected b ready after a completes, got %q", id2)
	}
}

func TestRegenerateDuplicateOutputFails(t *testing.T) {
	env, nodes := newTestGraphEnv(t)
	defA := &jobs.JobDefinition{Name: "a", Call: jobs.CallSet{Func: noopFunc, Args: []*jobs.Placeholder{jobs.OFile("shared")}}}
	defB := &jobs.JobDefinition{Name: "b", Call: jobs.CallSet{Func: noopFunc, Args: []*jobs.Placeholder{jobs.OFile("shared")}}}

	g := New(nodes, env, JobSource{Def: defA}, JobSource{Def: defB})
	err := g.Regenerate(context.Background())
	var dup *DuplicateOutputError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateOutputError, got %v", err)
	}
}

func TestRegenerateCycleFails(t *testing.T) {
	env, nodes := newTestGraphEnv(t)
	defA := &jobs.JobDefinition{Name: "a", Call: jobs.CallSet{Func: noopFunc, Args: []*jobs.Placeholder{jobs.IFile("y"), jobs.OFile("x")}}}
	defB := &jobs.JobDefinition{Name: "b", Call: jobs.CallSet{Func: noopFunc, Args: []*jobs.Placeholder{jobs.IFile("x"), jobs.OFile("y")}}}

	g := New(nodes, env, JobSource{Def: defA}, JobSource{Def: defB})
	err := g.Regenerate(context.Background())
	var cyc *CycleError
	if !errors.As(err, &cyc) {
		t.Fatalf("expected CycleError, got %v", err)
	}
}

func TestPopNextJobNoJobsWhenQuiescent(t *testing.T) {
	env, nodes := newTestGraphEnv(t)
	g := New(nodes, env)
	if err := g.Regenerate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, _, err := g.PopNextJob(); !errors.Is(err, ErrNoJobs) {
		t.Fatalf("expected ErrNoJobs, got %v", err)
	}
}

// TestSubWorkflowExpansionUnblocksConsumer exercises the splice-then-
// regenerate path a sub-workflow instance's completion drives: the
// consumer job reading "produced" has no producer until the
// sub-workflow expands and its own job definition is added as a new
// source, at which point a Regenerate wires the dependency edge and the
// consumer becomes poppable.
func TestSubWorkflowExpansionUnblocksConsumer(t *testing.T) {
	env, nodes := newTestGraphEnv(t)
	ctx := context.Background()

	inner := &jobs.SubWorkflowDefinition{Name: "inner"}
	inner.Call.Func = func(ctx context.Context, args []any, kwargs map[string]any) ([]*jobs.JobDefinition, []*jobs.SubWorkflowDefinition, error) {
		produced := &jobs.JobDefinition{
			Name: "produced",
			Call: jobs.CallSet{Func: writeFileFunc, Args: []*jobs.Placeholder{jobs.OFile("produced")}},
		}
		return []*jobs.JobDefinition{produced}, nil, nil
	}
	consumer := &jobs.JobDefinition{
		Name: "consumer",
		Call: jobs.CallSet{Func: noopFunc, Args: []*jobs.Placeholder{jobs.IFile("produced"), jobs.OFile("final")}},
	}

	g := New(nodes, env, SubWorkflowSource{Def: inner, Root: identifiers.Root}, JobSource{Def: consumer})
	if err := g.Regenerate(ctx); err != nil {
		t.Fatalf("Regenerate 1: %v", err)
	}

	id, inst, err := g.PopNextJob()
	if err != nil {
		t.Fatalf("PopNextJob: %v", err)
	}
	if id != "inner@" {
		t.Fatalf("expected the sub-workflow instance ready first, got %q", id)
	}

	unwrapper, ok := inst.(SubWorkflowUnwrapper)
	if !ok {
		t.Fatalf("expected instance to implement SubWorkflowUnwrapper, got %T", inst)
	}
	callable := &jobs.WorkflowCallable{Instance: unwrapper.UnwrapSubWorkflow()}
	jobDefs, subDefs, err := callable.Expand(ctx)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(subDefs) != 0 {
		t.Fatalf("expected no nested sub-workflows, got %d", len(subDefs))
	}
	for _, def := range jobDefs {
		g.AddSource(WorkflowSource{Def: def, Root: identifiers.Root})
	}
	g.NotifyCompleted(id)

	if err := g.Regenerate(ctx); err != nil {
		t.Fatalf("Regenerate 2: %v", err)
	}

	id2, inst2, err := g.PopNextJob()
	if err != nil {
		t.Fatalf("PopNextJob 2: %v", err)
	}
	if id2 != "produced@" {
		t.Fatalf("expected the spliced-in producer ready next, got %q", id2)
	}
	producedCallable := jobs.NewJobCallable(inst2.(*jobs.JobInstance), filepath.Join(t.TempDir(), "logs"))
	if _, err := producedCallable.Run(ctx); err != nil {
		t.Fatalf("run produced: %v", err)
	}
	g.NotifyCompleted(id2)

	if err := g.Regenerate(ctx); err != nil {
		t.Fatalf("Regenerate 3: %v", err)
	}
	id3, _, err := g.PopNextJob()
	if err != nil {
		t.Fatalf("PopNextJob 3: %v", err)
	}
	if id3 != "consumer@" {
		t.Fatalf("expected consumer ready once its producer completed, got %q", id3)
	}
}

func TestCompletedChainReachesQuiescence(t *testing.T) {
	env, nodes := newTestGraphEnv(t)
	ctx := context.Background()

	defA := &jobs.JobDefinition{Name: "a", Call: jobs.CallSet{Func: writeFileFunc, Args: []*jobs.Placeholder{jobs.OFile("mid")}}}
	defB := &jobs.JobDefinition{Name: "b", Call: jobs.CallSet{Func: writeFileFunc, Args: []*jobs.Placeholder{jobs.IFile("mid"), jobs.OFile("final")}}}
	g := New(nodes, env, JobSource{Def: defA}, JobSource{Def: defB})

	// Run both to completion once.
	for i := 0; i < 2; i++ {
		if err := g.Regenerate(ctx); err != nil {
			t.Fatalf("Regenerate: %v", err)
		}
		id, inst, err := g.PopNextJob()
		if err != nil {
			t.Fatalf("PopNextJob: %v", err)
		}
		callable := jobs.NewJobCallable(inst.(*jobs.JobInstance), filepath.Join(t.TempDir(), "logs"))
		if _, err := callable.Run(ctx); err != nil {
			t.Fatalf("run: %v", err)
		}
		g.NotifyCompleted(id)
	}

	if err := g.Regenerate(ctx); err != nil {
		t.Fatal(err)
	}
	if _, _, err := g.PopNextJob(); !errors.Is(err, ErrNoJobs) {
		t.Fatalf("expected quiescence after both jobs complete, got %v", err)
	}
}

func TestSplitExpansionRegeneratesDownstreamPerChunk(t *testing.T) {
	env, nodes := newTestGraphEnv(t)
	ctx := context.Background()

	split := &jobs.JobDefinition{
		Name: "split",
		Call: jobs.CallSet{
			Args: []*jobs.Placeholder{jobs.OChunks("bychunk")},
			Func: func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
				sink := args[0].(*jobs.ChunkSink)
				sink.AppendInt(0)
				sink.AppendInt(1)
				return nil, nil
			},
		},
	}
	perChunk := &jobs.JobDefinition{
		Name: "per_chunk",
		Axes: []string{"bychunk"},
		Call: jobs.CallSet{Func: writeFileFunc, Args: []*jobs.Placeholder{jobs.OFile("out")}},
	}

	g := New(nodes, env, JobSource{Def: split}, JobSource{Def: perChunk})
	if err := g.Regenerate(ctx); err != nil {
		t.Fatal(err)
	}
	id, inst, err := g.PopNextJob()
	if err != nil {
		t.Fatal(err)
	}
	if id != "split@" {
		t.Fatalf("expected split to run first, got %q", id)
	}
	callable := jobs.NewJobCallable(inst.(*jobs.JobInstance), filepath.Join(t.TempDir(), "logs"))
	if _, err := callable.Run(ctx); err != nil {
		t.Fatal(err)
	}
	g.NotifyCompleted(id)

	if err := g.Regenerate(ctx); err != nil {
		t.Fatal(err)
	}
	count := 0
	for {
		id, inst, err := g.PopNextJob()
		if errors.Is(err, ErrNoJobs) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if id == "" {
			break
		}
		callable := jobs.NewJobCallable(inst.(*jobs.JobInstance), filepath.Join(t.TempDir(), "logs"))
		if _, err := callable.Run(ctx); err != nil {
			t.Fatal(err)
		}
		g.NotifyCompleted(id)
		count++
	}
	if count != 2 {
		t.Fatalf("expected 2 per-chunk instances after split, got %d", count)
	}
}

func TestRegenerateDefersUndefinedAxis(t *testing.T) {
	env, nodes := newTestGraphEnv(t)
	perChunk := &jobs.JobDefinition{
		Name: "per_chunk",
		Axes: []string{"bychunk"},
		Call: jobs.CallSet{Func: noopFunc, Args: []*jobs.Placeholder{jobs.OFile("out")}},
	}
	g := New(nodes, env, JobSource{Def: perChunk})
	if err := g.Regenerate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, _, err := g.PopNextJob(); !errors.Is(err, ErrNoJobs) {
		t.Fatalf("expected deferred definition to yield no jobs, got %v", err)
	}
}
