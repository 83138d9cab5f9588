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
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/dagrunner/pipeliner/graph"
	"github.com/dagrunner/pipeliner/identifiers"
)

// printCounts reads back every "count" output the wordcount workflow
// produced, one per "files" chunk, and logs it. It exercises the same
// resourcemgr.TempPath convention the managed-file argument used to
// write the file in the first place.
func printCounts(ctx context.Context, env *pipelineEnv, g *graph.Graph) {
	chunks, ok, err := env.nodes.Chunks(ctx, "files", identifiers.Root)
	if err != nil {
		slog.Warn("pipelinectl: failed to read files axis", "error", err)
		return
	}
	if !ok {
		slog.Warn("pipelinectl: files axis was never defined")
		return
	}

	for _, chunk := range chunks {
		node := identifiers.Root.Append("files", chunk)
		path := env.res.TempPath("count", node)
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("pipelinectl: missing count output", "file", chunk.String(), "error", err)
			continue
		}
		slog.Info("line count", "file", chunk.String(), "lines", strings.TrimSpace(string(data)))
	}
}
