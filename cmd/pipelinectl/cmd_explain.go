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

	"github.com/dagrunner/pipeliner/snapshot"
)

func runExplain(cmd *cobra.Command, args []string) {
	path := filepath.Join(pipelineDir, "snapshot.json")
	snap, err := snapshot.Load(path)
	if err != nil {
		slog.Error("pipelinectl: loading snapshot", "path", path, "error", err)
		os.Exit(1)
	}

	fmt.Printf("session:   %s\n", snap.State.SessionID)
	fmt.Printf("taken at:  %s\n", snap.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Printf("verified:  %t\n", snap.Verify())
	fmt.Printf("completed: %d\n", len(snap.State.Completed))
	for _, id := range snap.State.Completed {
		fmt.Printf("  - %s\n", id)
	}
	fmt.Printf("running:   %d\n", len(snap.State.Running))
	for _, id := range snap.State.Running {
		fmt.Printf("  - %s\n", id)
	}
	fmt.Printf("pending:   %d\n", len(snap.State.Pending))
	for _, id := range snap.State.Pending {
		fmt.Printf("  - %s\n", id)
	}
}
