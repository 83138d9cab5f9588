// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dagrunner/pipeliner/graph"
	"github.com/dagrunner/pipeliner/jobs"
)

// wordcountSources builds the two-stage "wordcount" demo workflow: a
// discover job that splits the graph over a "files" axis by listing
// inputDir, and a count job instantiated once per file that records its
// line count.
//
// This is pipelinectl's self-test workflow, not a general-purpose
// definition language: operators embed their own job graphs the same
// way, by constructing *jobs.JobDefinition values and wrapping them in
// graph.JobSource.
func wordcountSources(inputDir string) []graph.Source {
	return []graph.Source{
		graph.JobSource{Def: discoverDefinition(inputDir)},
		graph.JobSource{Def: countDefinition(inputDir)},
	}
}

func discoverDefinition(inputDir string) *jobs.JobDefinition {
	return &jobs.JobDefinition{
		Name: "discover",
		Call: jobs.CallSet{
			Func: discoverFiles(inputDir),
			Args: []*jobs.Placeholder{jobs.OChunks("files")},
		},
	}
}

// discoverFiles lists the regular files directly under inputDir and
// appends each one's name to the "files" axis's chunk sink.
func discoverFiles(inputDir string) jobs.JobFunc {
	return func(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
		sink, ok := args[0].(*jobs.ChunkSink)
		if !ok {
			return nil, fmt.Errorf("pipelinectl: discover: expected *jobs.ChunkSink, got %T", args[0])
		}
		entries, err := os.ReadDir(inputDir)
		if err != nil {
			return nil, fmt.Errorf("pipelinectl: discover: reading %s: %w", inputDir, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			sink.AppendString(e.Name())
			fmt.Fprintf(stdout, "discovered %s\n", e.Name())
		}
		return nil, nil
	}
}

func countDefinition(inputDir string) *jobs.JobDefinition {
	return &jobs.JobDefinition{
		Name: "count",
		Axes: []string{"files"},
		Call: jobs.CallSet{
			Func: countLines,
			Args: []*jobs.Placeholder{
				jobs.Input(filepath.Join(inputDir, "{files}")),
				jobs.OFile("count", "files"),
			},
		},
	}
}

// countLines reads the file named by args[0] and writes its line count
// to the path named by args[1].
func countLines(ctx context.Context, jctx *jobs.JobContext, args []any, kwargs map[string]any, stdout, stderr io.Writer) (any, error) {
	inPath, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("pipelinectl: count: expected input path string, got %T", args[0])
	}
	outPath, ok := args[1].(string)
	if !ok {
		return nil, fmt.Errorf("pipelinectl: count: expected output path string, got %T", args[1])
	}

	f, err := os.Open(inPath)
	if err != nil {
		return nil, fmt.Errorf("pipelinectl: count: opening %s: %w", inPath, err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("pipelinectl: count: scanning %s: %w", inPath, err)
	}

	fmt.Fprintf(stdout, "%s: %d lines\n", filepath.Base(inPath), lines)
	if err := os.WriteFile(outPath, []byte(strconv.Itoa(lines)+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("pipelinectl: count: writing %s: %w", outPath, err)
	}
	return lines, nil
}
