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

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/dagrunner/pipeliner/execqueue"
	"github.com/dagrunner/pipeliner/graph"
	"github.com/dagrunner/pipeliner/identifiers"
	"github.com/dagrunner/pipeliner/jobs"
)

// Scenarios in this file exercise full read/transform/write pipelines
// end to end through Scheduler.Run, the way a pypeliner-style workflow
// exercises its own scheduler test suite: whole chains, splits, merges,
// change-of-axis pairing, retry, and cycle rejection.

const eightLines = "line1\nline2\nline3\nline4\nline5\nline6\nline7\nline8\n"

func writeInput(t *testing.T, content string) string {
	t.Helper()
	path := t.TempDir() + "/input.txt"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runToCompletion(t *testing.T, g *graph.Graph) {
	t.Helper()
	ctx := context.Background()
	if err := g.Regenerate(ctx); err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	q := execqueue.NewLocalQueue(4, nil)
	s := New(g, q, newConfig(t), discardLogger())
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

// S1: read -> do -> write, a plain three-step chain over a single oobj
// value, with a rerun afterward that must submit nothing.
func TestS1SimpleChainReadDoWrite(t *testing.T) {
	env, nodes := newTestEnv(t)
	inputPath := writeInput(t, eightLines)
	outputPath := t.TempDir() + "/output.txt"

	var readCalls, doCalls, writeCalls int

	read := &jobs.JobDefinition{
		Name: "read",
		Call: jobs.CallSet{
			Args: []*jobs.Placeholder{jobs.OObj("input_data"), jobs.Input(inputPath)},
			Func: func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
				readCalls++
				sink := args[0].(*jobs.ObjectSink)
				raw, err := os.ReadFile(args[1].(string))
				if err != nil {
					return nil, err
				}
				sink.Value = strings.TrimRight(string(raw), "\n")
				return nil, nil
			},
		},
	}
	do := &jobs.JobDefinition{
		Name: "do",
		Call: jobs.CallSet{
			Args: []*jobs.Placeholder{jobs.OObj("output_data"), jobs.IObj("input_data")},
			Func: func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
				doCalls++
				sink := args[0].(*jobs.ObjectSink)
				sink.Value = args[1].(string) + "-"
				return nil, nil
			},
		},
	}
	write := &jobs.JobDefinition{
		Name: "write",
		Call: jobs.CallSet{
			Args: []*jobs.Placeholder{jobs.IObj("output_data"), jobs.Output(outputPath)},
			Func: func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
				writeCalls++
				return nil, os.WriteFile(args[1].(string), []byte(args[0].(string)), 0o644)
			},
		},
	}

	g := graph.New(nodes, env, graph.JobSource{Def: read}, graph.JobSource{Def: do}, graph.JobSource{Def: write})
	runToCompletion(t, g)

	got, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatal(err)
	}
	want := "line1\nline2\nline3\nline4\nline5\nline6\nline7\nline8-"
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if readCalls != 1 || doCalls != 1 || writeCalls != 1 {
		t.Fatalf("got calls read=%d do=%d write=%d, want 1 each", readCalls, doCalls, writeCalls)
	}

	// Rerun: same env (same resourcemgr mtimes), a fresh graph over the
	// same definitions. Nothing should be submitted a second time.
	g2 := graph.New(nodes, env, graph.JobSource{Def: read}, graph.JobSource{Def: do}, graph.JobSource{Def: write})
	runToCompletion(t, g2)
	if readCalls != 1 || doCalls != 1 || writeCalls != 1 {
		t.Fatalf("rerun resubmitted work: read=%d do=%d write=%d, want 1 each", readCalls, doCalls, writeCalls)
	}
}

// S2: split a string into one chunk per character, append "-" to each
// chunk independently, then merge back together in chunk order.
func TestS2SplitByCharacterThenMerge(t *testing.T) {
	env, nodes := newTestEnv(t)
	inputPath := writeInput(t, "line1\nline2")
	outputPath := t.TempDir() + "/output.txt"

	read := &jobs.JobDefinition{
		Name: "read",
		Call: jobs.CallSet{
			Args: []*jobs.Placeholder{jobs.OObj("input_data"), jobs.Input(inputPath)},
			Func: func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
				raw, err := os.ReadFile(args[1].(string))
				if err != nil {
					return nil, err
				}
				args[0].(*jobs.ObjectSink).Value = string(raw)
				return nil, nil
			},
		},
	}
	splitByChar := &jobs.JobDefinition{
		Name: "splitbychar",
		Call: jobs.CallSet{
			Args: []*jobs.Placeholder{jobs.OChunks("bychar"), jobs.IObj("input_data")},
			Func: func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
				sink := args[0].(*jobs.ChunkSink)
				s := args[1].(string)
				for i := range s {
					sink.AppendInt(int64(i))
				}
				return nil, nil
			},
		},
	}
	extractChar := &jobs.JobDefinition{
		Name: "extractchar",
		Axes: []string{"bychar"},
		Call: jobs.CallSet{
			Args: []*jobs.Placeholder{jobs.OObj("char_data", "bychar"), jobs.IObj("input_data"), jobs.Inst("bychar")},
			Func: func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
				s := args[1].(string)
				idx := int(args[2].(int64))
				args[0].(*jobs.ObjectSink).Value = string(s[idx])
				return nil, nil
			},
		},
	}
	do := &jobs.JobDefinition{
		Name: "do",
		Axes: []string{"bychar"},
		Call: jobs.CallSet{
			Args: []*jobs.Placeholder{jobs.OObj("output_data", "bychar"), jobs.IObj("char_data", "bychar")},
			Func: func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
				args[0].(*jobs.ObjectSink).Value = args[1].(string) + "-"
				return nil, nil
			},
		},
	}
	merge := &jobs.JobDefinition{
		Name: "mergebychar",
		Call: jobs.CallSet{
			Args: []*jobs.Placeholder{jobs.OObj("output_data"), jobs.IObj("output_data", "bychar")},
			Func: func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
				byChunk := args[1].(map[string]any)
				keys := make([]int, 0, len(byChunk))
				for k := range byChunk {
					n, _ := strconv.Atoi(k)
					keys = append(keys, n)
				}
				sort.Ints(keys)
				var b strings.Builder
				for _, k := range keys {
					b.WriteString(byChunk[strconv.Itoa(k)].(string))
				}
				args[0].(*jobs.ObjectSink).Value = b.String()
				return nil, nil
			},
		},
	}
	write := &jobs.JobDefinition{
		Name: "write",
		Call: jobs.CallSet{
			Args: []*jobs.Placeholder{jobs.IObj("output_data"), jobs.Output(outputPath)},
			Func: func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
				return nil, os.WriteFile(args[1].(string), []byte(args[0].(string)), 0o644)
			},
		},
	}

	g := graph.New(nodes, env,
		graph.JobSource{Def: read},
		graph.JobSource{Def: splitByChar},
		graph.JobSource{Def: extractChar},
		graph.JobSource{Def: do},
		graph.JobSource{Def: merge},
		graph.JobSource{Def: write},
	)
	runToCompletion(t, g)

	got, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatal(err)
	}
	want := "l-i-n-e-1-\n-l-i-n-e-2-"
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

// S3: split a file into lines two levels deep (outer chunks of 2 lines,
// inner chunks of 1 line each), transform each leaf prefixed with its
// outer-axis index, then merge both levels back.
func TestS3TwoLevelFileSplitAndMerge(t *testing.T) {
	env, nodes := newTestEnv(t)
	inputPath := writeInput(t, eightLines)
	outputPath := t.TempDir() + "/output.txt"

	splitOuter := &jobs.JobDefinition{
		Name: "split_outer",
		Call: jobs.CallSet{
			Args: []*jobs.Placeholder{jobs.OChunks("outer"), jobs.Input(inputPath)},
			Func: func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
				raw, err := os.ReadFile(args[1].(string))
				if err != nil {
					return nil, err
				}
				lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
				sink := args[0].(*jobs.ChunkSink)
				for i := 0; i*2 < len(lines); i++ {
					sink.AppendInt(int64(i))
				}
				return nil, nil
			},
		},
	}
	outerChunk := &jobs.JobDefinition{
		Name: "outer_chunk",
		Axes: []string{"outer"},
		Call: jobs.CallSet{
			Args: []*jobs.Placeholder{jobs.OFile("outer_data", "outer"), jobs.Input(inputPath), jobs.Inst("outer")},
			Func: func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
				raw, err := os.ReadFile(args[1].(string))
				if err != nil {
					return nil, err
				}
				lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
				idx := int(args[2].(int64))
				chunk := lines[idx*2 : idx*2+2]
				return nil, os.WriteFile(args[0].(string), []byte(strings.Join(chunk, "\n")+"\n"), 0o644)
			},
		},
	}
	splitInner := &jobs.JobDefinition{
		Name: "split_inner",
		Axes: []string{"outer"},
		Call: jobs.CallSet{
			Args: []*jobs.Placeholder{jobs.OChunks("inner"), jobs.IFile("outer_data", "outer")},
			Func: func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
				raw, err := os.ReadFile(args[1].(string))
				if err != nil {
					return nil, err
				}
				lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
				sink := args[0].(*jobs.ChunkSink)
				for i := range lines {
					sink.AppendInt(int64(i))
				}
				return nil, nil
			},
		},
	}
	innerChunk := &jobs.JobDefinition{
		Name: "inner_chunk",
		Axes: []string{"outer", "inner"},
		Call: jobs.CallSet{
			Args: []*jobs.Placeholder{jobs.OFile("leaf_data", "outer", "inner"), jobs.IFile("outer_data", "outer"), jobs.Inst("inner")},
			Func: func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
				raw, err := os.ReadFile(args[1].(string))
				if err != nil {
					return nil, err
				}
				lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
				idx := int(args[2].(int64))
				return nil, os.WriteFile(args[0].(string), []byte(lines[idx]+"\n"), 0o644)
			},
		},
	}
	transform := &jobs.JobDefinition{
		Name: "transform_leaf",
		Axes: []string{"outer", "inner"},
		Call: jobs.CallSet{
			Args: []*jobs.Placeholder{jobs.OFile("leaf_out", "outer", "inner"), jobs.IFile("leaf_data", "outer", "inner"), jobs.Inst("outer")},
			Func: func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
				raw, err := os.ReadFile(args[1].(string))
				if err != nil {
					return nil, err
				}
				prefix := args[2].(int64)
				return nil, os.WriteFile(args[0].(string), []byte(fmt.Sprintf("%d%s", prefix, raw)), 0o644)
			},
		},
	}
	mergeInner := &jobs.JobDefinition{
		Name: "merge_inner",
		Axes: []string{"outer"},
		Call: jobs.CallSet{
			Args: []*jobs.Placeholder{jobs.OFile("merged_outer", "outer"), jobs.IFile("leaf_out", "outer", "inner")},
			Func: func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
				return nil, mergeSortedFiles(args[1].(map[string]string), args[0].(string))
			},
		},
	}
	mergeOuter := &jobs.JobDefinition{
		Name: "merge_outer",
		Call: jobs.CallSet{
			Args: []*jobs.Placeholder{jobs.Output(outputPath), jobs.IFile("merged_outer", "outer")},
			Func: func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
				return nil, mergeSortedFiles(args[1].(map[string]string), args[0].(string))
			},
		},
	}

	g := graph.New(nodes, env,
		graph.JobSource{Def: splitOuter},
		graph.JobSource{Def: outerChunk},
		graph.JobSource{Def: splitInner},
		graph.JobSource{Def: innerChunk},
		graph.JobSource{Def: transform},
		graph.JobSource{Def: mergeInner},
		graph.JobSource{Def: mergeOuter},
	)
	runToCompletion(t, g)

	got, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatal(err)
	}
	want := "0line1\n0line2\n1line3\n1line4\n2line5\n2line6\n3line7\n3line8\n"
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func mergeSortedFiles(byChunk map[string]string, outPath string) error {
	keys := make([]int, 0, len(byChunk))
	for k := range byChunk {
		n, _ := strconv.Atoi(k)
		keys = append(keys, n)
	}
	sort.Ints(keys)
	var b strings.Builder
	for _, k := range keys {
		raw, err := os.ReadFile(byChunk[strconv.Itoa(k)])
		if err != nil {
			return err
		}
		b.Write(raw)
	}
	return os.WriteFile(outPath, []byte(b.String()), 0o644)
}

// S4: a three-step chain whose third step always fails. The run must
// report ErrPipelineFailed after running steps 1 and 2 once each and
// never completing step 3. Replacing the
// failing step with an identity transform and rerunning must not
// resubmit the first two steps, whose outputs are already up to date.
func TestS4RetryAfterFailureDoesNotResubmitCompletedSteps(t *testing.T) {
	env, nodes := newTestEnv(t)
	inputPath := writeInput(t, eightLines)
	outputPath := t.TempDir() + "/output.txt"

	var step1Calls, step2Calls int
	step1 := &jobs.JobDefinition{
		Name: "step1",
		Call: jobs.CallSet{
			Args: []*jobs.Placeholder{jobs.Input(inputPath), jobs.OFile("appended")},
			Func: func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
				step1Calls++
				raw, err := os.ReadFile(args[0].(string))
				if err != nil {
					return nil, err
				}
				return nil, os.WriteFile(args[1].(string), []byte(strings.ReplaceAll(string(raw), "\n", "!\n")), 0o644)
			},
		},
	}
	step2 := &jobs.JobDefinition{
		Name: "step2",
		Call: jobs.CallSet{
			Args: []*jobs.Placeholder{jobs.IFile("appended"), jobs.OFile("appended_copy")},
			Func: func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
				step2Calls++
				raw, err := os.ReadFile(args[0].(string))
				if err != nil {
					return nil, err
				}
				return nil, os.WriteFile(args[1].(string), raw, 0o644)
			},
		},
	}
	boom := errors.New("step3 boom")
	step3Fails := &jobs.JobDefinition{
		Name: "step3",
		Call: jobs.CallSet{
			Args: []*jobs.Placeholder{jobs.IFile("appended_copy"), jobs.Output(outputPath)},
			Func: func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
				return nil, boom
			},
		},
	}

	g := graph.New(nodes, env, graph.JobSource{Def: step1}, graph.JobSource{Def: step2}, graph.JobSource{Def: step3Fails})
	ctx := context.Background()
	if err := g.Regenerate(ctx); err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	q := execqueue.NewLocalQueue(4, nil)
	s := New(g, q, newConfig(t), discardLogger())
	if err := s.Run(ctx); !errors.Is(err, ErrPipelineFailed) {
		t.Fatalf("Run err = %v, want ErrPipelineFailed", err)
	}
	if step1Calls != 1 || step2Calls != 1 {
		t.Fatalf("got step1=%d step2=%d, want 1 each", step1Calls, step2Calls)
	}

	step3Identity := &jobs.JobDefinition{
		Name: "step3",
		Call: jobs.CallSet{
			Args: []*jobs.Placeholder{jobs.IFile("appended_copy"), jobs.Output(outputPath)},
			Func: func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
				raw, err := os.ReadFile(args[0].(string))
				if err != nil {
					return nil, err
				}
				return nil, os.WriteFile(args[1].(string), raw, 0o644)
			},
		},
	}
	g2 := graph.New(nodes, env, graph.JobSource{Def: step1}, graph.JobSource{Def: step2}, graph.JobSource{Def: step3Identity})
	runToCompletion(t, g2)

	if step1Calls != 1 || step2Calls != 1 {
		t.Fatalf("rerun resubmitted completed steps: step1=%d step2=%d, want 1 each", step1Calls, step2Calls)
	}
	got, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatal(err)
	}
	want := strings.ReplaceAll(eightLines, "\n", "!\n")
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

// S5: split A on byline, split B on byline2 (an independent split of a
// transformed copy of the same input), change-axis B from byline2 to
// byline so a paired job can read both by the same chunk index, then
// merge.
func TestS5ChangeAxisPairsIndependentlySplitFiles(t *testing.T) {
	env, nodes := newTestEnv(t)
	inputPath := writeInput(t, eightLines)
	outputPath := t.TempDir() + "/output.txt"

	linesPerChunk := func(lines []string, n int) map[string][]string {
		out := make(map[string][]string)
		for i := 0; i*n < len(lines); i++ {
			end := (i + 1) * n
			if end > len(lines) {
				end = len(lines)
			}
			out[strconv.Itoa(i)] = lines[i*n : end]
		}
		return out
	}

	modInput := &jobs.JobDefinition{
		Name: "mod_input",
		Call: jobs.CallSet{
			Args: []*jobs.Placeholder{jobs.Input(inputPath), jobs.OFile("mod_input_filename")},
			Func: func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
				raw, err := os.ReadFile(args[0].(string))
				if err != nil {
					return nil, err
				}
				var b strings.Builder
				for i, line := range strings.Split(strings.TrimRight(string(raw), "\n"), "\n") {
					b.WriteString(fmt.Sprintf("%dm%s\n", i, line))
				}
				return nil, os.WriteFile(args[1].(string), []byte(b.String()), 0o644)
			},
		},
	}
	splitByline := &jobs.JobDefinition{
		Name: "splitbyline",
		Call: jobs.CallSet{
			Args: []*jobs.Placeholder{jobs.OChunks("byline")},
			Func: func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
				raw, err := os.ReadFile(inputPath)
				if err != nil {
					return nil, err
				}
				lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
				sink := args[0].(*jobs.ChunkSink)
				for i := 0; i*2 < len(lines); i++ {
					sink.AppendInt(int64(i))
				}
				return nil, nil
			},
		},
	}
	inputFilenameChunk := &jobs.JobDefinition{
		Name: "input_filename_chunk",
		Axes: []string{"byline"},
		Call: jobs.CallSet{
			Args: []*jobs.Placeholder{jobs.OFile("input_filename", "byline"), jobs.Inst("byline")},
			Func: func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
				raw, err := os.ReadFile(inputPath)
				if err != nil {
					return nil, err
				}
				lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
				chunks := linesPerChunk(lines, 2)
				idx := args[1].(int64)
				return nil, os.WriteFile(args[0].(string), []byte(strings.Join(chunks[strconv.FormatInt(idx, 10)], "\n")+"\n"), 0o644)
			},
		},
	}
	splitByline2 := &jobs.JobDefinition{
		Name: "splitbyline2",
		Call: jobs.CallSet{
			Args: []*jobs.Placeholder{jobs.IFile("mod_input_filename"), jobs.OChunks("byline2")},
			Func: func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
				raw, err := os.ReadFile(args[0].(string))
				if err != nil {
					return nil, err
				}
				lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
				sink := args[1].(*jobs.ChunkSink)
				for i := 0; i*2 < len(lines); i++ {
					sink.AppendInt(int64(i))
				}
				return nil, nil
			},
		},
	}
	modInputChunk := &jobs.JobDefinition{
		Name: "mod_input_filename_chunk",
		Axes: []string{"byline2"},
		Call: jobs.CallSet{
			Args: []*jobs.Placeholder{jobs.IFile("mod_input_filename"), jobs.OFile("mod_input_filename", "byline2"), jobs.Inst("byline2")},
			Func: func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
				raw, err := os.ReadFile(args[0].(string))
				if err != nil {
					return nil, err
				}
				lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
				chunks := linesPerChunk(lines, 2)
				idx := args[2].(int64)
				return nil, os.WriteFile(args[1].(string), []byte(strings.Join(chunks[strconv.FormatInt(idx, 10)], "\n")+"\n"), 0o644)
			},
		},
	}
	changeAxis := &jobs.ChangeAxisDefinition{Name: "changeaxis", ResName: "mod_input_filename", OldAxis: "byline2", NewAxis: "byline"}

	doPaired := &jobs.JobDefinition{
		Name: "dopairedstuff",
		Axes: []string{"byline"},
		Call: jobs.CallSet{
			Args: []*jobs.Placeholder{jobs.OFile("paired_out", "byline"), jobs.IFile("input_filename", "byline"), jobs.IFile("mod_input_filename", "byline")},
			Func: func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
				a, err := os.ReadFile(args[1].(string))
				if err != nil {
					return nil, err
				}
				b, err := os.ReadFile(args[2].(string))
				if err != nil {
					return nil, err
				}
				return nil, os.WriteFile(args[0].(string), append(append([]byte{}, a...), b...), 0o644)
			},
		},
	}
	merge := &jobs.JobDefinition{
		Name: "mergebyline",
		Call: jobs.CallSet{
			Args: []*jobs.Placeholder{jobs.IFile("paired_out", "byline"), jobs.Output(outputPath)},
			Func: func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
				return nil, mergeSortedFiles(args[0].(map[string]string), args[1].(string))
			},
		},
	}

	g := graph.New(nodes, env,
		graph.JobSource{Def: modInput},
		graph.JobSource{Def: splitByline},
		graph.JobSource{Def: inputFilenameChunk},
		graph.JobSource{Def: splitByline2},
		graph.JobSource{Def: modInputChunk},
		graph.ChangeAxisSource{Def: changeAxis},
		graph.JobSource{Def: doPaired},
		graph.JobSource{Def: merge},
	)
	runToCompletion(t, g)

	got, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatal(err)
	}
	want := "line1\nline2\n0mline1\n1mline2\nline3\nline4\n2mline3\n3mline4\nline5\nline6\n4mline5\n5mline6\nline7\nline8\n6mline7\n7mline8\n"
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

// S6: a cycle (read consumes cyclic, write produces cyclic) must be
// rejected as ErrDependencyCycle before any job runs.
func TestS6CycleIsRejected(t *testing.T) {
	env, nodes := newTestEnv(t)
	inputPath := writeInput(t, eightLines)
	outputPath := t.TempDir() + "/output.txt"

	read := &jobs.JobDefinition{
		Name: "read",
		Call: jobs.CallSet{
			Args: []*jobs.Placeholder{jobs.OObj("input_data"), jobs.Input(inputPath), jobs.IObj("cyclic")},
			Func: func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
				return nil, nil
			},
		},
	}
	do := &jobs.JobDefinition{
		Name: "do",
		Call: jobs.CallSet{
			Args: []*jobs.Placeholder{jobs.OObj("output_data"), jobs.IObj("input_data")},
			Func: func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
				return nil, nil
			},
		},
	}
	write := &jobs.JobDefinition{
		Name: "write",
		Call: jobs.CallSet{
			Args: []*jobs.Placeholder{jobs.IObj("output_data"), jobs.Output(outputPath), jobs.OObj("cyclic")},
			Func: func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
				return nil, nil
			},
		},
	}

	g := graph.New(nodes, env, graph.JobSource{Def: read}, graph.JobSource{Def: do}, graph.JobSource{Def: write})
	if err := g.Regenerate(context.Background()); !errors.Is(err, graph.ErrDependencyCycle) {
		t.Fatalf("Regenerate err = %v, want ErrDependencyCycle", err)
	}
}

// S7: write_mid -> consume, run with Config.Cleanup enabled. After a
// successful run, write_mid's temporary ofile output must be gone from
// disk (invariant 7, "cleanup completeness"), while consume's
// user-facing output must still exist.
func TestS7CleanupRemovesTemporariesOnceConsumed(t *testing.T) {
	env, nodes := newTestEnv(t)
	outputPath := t.TempDir() + "/output.txt"

	writeMid := &jobs.JobDefinition{
		Name: "write_mid",
		Call: jobs.CallSet{
			Args: []*jobs.Placeholder{jobs.OFile("mid")},
			Func: func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
				return nil, os.WriteFile(args[0].(string), []byte("mid-data"), 0o644)
			},
		},
	}
	consume := &jobs.JobDefinition{
		Name: "consume",
		Call: jobs.CallSet{
			Args: []*jobs.Placeholder{jobs.IFile("mid"), jobs.Output(outputPath)},
			Func: func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
				raw, err := os.ReadFile(args[0].(string))
				if err != nil {
					return nil, err
				}
				return nil, os.WriteFile(args[1].(string), raw, 0o644)
			},
		},
	}

	g := graph.New(nodes, env, graph.JobSource{Def: writeMid}, graph.JobSource{Def: consume})
	ctx := context.Background()
	if err := g.Regenerate(ctx); err != nil {
		t.Fatalf("Regenerate: %v", err)
	}

	midPath := env.Resources.TempPath("mid", identifiers.Root)

	q := execqueue.NewLocalQueue(4, nil)
	cfg := newConfig(t)
	cfg.Cleanup = true
	cfg.Resources = env.Resources
	s := New(g, q, cfg, discardLogger())
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "mid-data" {
		t.Fatalf("got %q, want %q", got, "mid-data")
	}

	if _, err := os.Stat(midPath); !os.IsNotExist(err) {
		t.Fatalf("expected temporary output %s to be cleaned up, stat err = %v", midPath, err)
	}
}
