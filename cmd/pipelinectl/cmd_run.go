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
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dagrunner/pipeliner/execqueue"
	"github.com/dagrunner/pipeliner/graph"
	"github.com/dagrunner/pipeliner/scheduler"
	"github.com/dagrunner/pipeliner/snapshot"
	"github.com/dagrunner/pipeliner/statusapi"
)

func runRun(cmd *cobra.Command, args []string) {
	if err := execRun(cmd.Context(), false); err != nil {
		slog.Error("pipelinectl: run failed", "error", err)
		os.Exit(1)
	}
}

// execRun drives one pipeline run in pipelineDir over inputDir. When
// resume is true, instance IDs already persisted as completed on a prior
// run are loaded from the completed shelf and seeded into the graph
// before the first Regenerate.
func execRun(ctx context.Context, resume bool) error {
	env, err := openPipelineEnv(pipelineDir)
	if err != nil {
		return err
	}
	defer env.Close()

	g := graph.New(env.nodes, env.bindEnv, wordcountSources(inputDir)...)
	if resume {
		ids, err := scheduler.LoadCompletedIDs(ctx, env.completedShelf)
		if err != nil {
			return fmt.Errorf("pipelinectl: loading completed instances: %w", err)
		}
		g.MarkCompletedFromShelf(ids)
	}
	if err := g.Regenerate(ctx); err != nil {
		return fmt.Errorf("pipelinectl: regenerating graph: %w", err)
	}

	queue := execqueue.NewLocalQueue(maxJobs, nil)

	cfg := scheduler.Config{
		MaxJobs:        maxJobs,
		LockDir:        env.lockDir,
		LogRoot:        env.logRoot,
		CompletedShelf: env.completedShelf,
		Cleanup:        cleanupTemp,
		Resources:      env.res,
	}

	var server *statusapi.Server
	if serveAddr != "" {
		server = statusapi.New(g, env.lockDir)
		cfg.Notifier = statusBroadcaster{server: server}
		go func() {
			if err := server.Run(serveAddr); err != nil {
				slog.Error("pipelinectl: status API exited", "error", err)
			}
		}()
	}

	sched := scheduler.New(g, queue, cfg, slog.Default())
	runErr := sched.Run(ctx)

	state := snapshot.FromGraph(sched.SessionID(), g)
	if err := snapshot.Save(state, env.snapPath); err != nil {
		slog.Warn("pipelinectl: failed to write snapshot", "error", err)
	}

	if runErr != nil {
		return runErr
	}

	printCounts(ctx, env, g)
	return nil
}
