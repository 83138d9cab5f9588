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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dagrunner/pipeliner/pipelinelock"
)

func runLockStatus(cmd *cobra.Command, args []string) {
	info, held, err := pipelinelock.Status(filepath.Join(pipelineDir, "db", "lock"))
	if err != nil {
		slog.Error("pipelinectl: lock status", "error", err)
		os.Exit(1)
	}
	if !held {
		if info == nil {
			fmt.Println("lock: not held")
		} else {
			fmt.Printf("lock: stale (last held by pid %d, session %s, acquired %s)\n",
				info.PID, info.SessionID, info.AcquiredAt)
		}
		return
	}
	fmt.Printf("lock: held by pid %d, session %s, acquired %s, reason %q\n",
		info.PID, info.SessionID, info.AcquiredAt, info.Reason)
}

func runLockClear(cmd *cobra.Command, args []string) {
	if !forceClear {
		fmt.Fprintln(os.Stderr, "pipelinectl: refusing to clear the lock without --force")
		os.Exit(1)
	}
	if err := pipelinelock.Clear(filepath.Join(pipelineDir, "db", "lock")); err != nil {
		slog.Error("pipelinectl: lock clear", "error", err)
		os.Exit(1)
	}
	fmt.Println("lock cleared")
}
