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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	pipelineDir string
	inputDir    string
	maxJobs     int64
	serveAddr   string
	watchAddr   string
	forceClear  bool
	cleanupTemp bool

	rootCmd = &cobra.Command{
		Use:   "pipelinectl",
		Short: "Drive a dependency-tracked job graph to completion",
		Long: `pipelinectl runs a pypeliner-style workflow graph to quiescence,
tracking per-resource staleness so a resumed run only redoes what actually
changed.`,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline from scratch in the given directory",
		Run:   runRun, // Defined in cmd_run.go
	}

	resumeCmd = &cobra.Command{
		Use:   "resume",
		Short: "Resume a pipeline, skipping instances already recorded complete",
		Run:   runResume, // Defined in cmd_resume.go
	}

	explainCmd = &cobra.Command{
		Use:   "explain",
		Short: "Print the most recent snapshot written for a pipeline directory",
		Run:   runExplain, // Defined in cmd_explain.go
	}

	lockCmd = &cobra.Command{
		Use:   "lock",
		Short: "Inspect or clear a pipeline's run lock",
	}

	lockStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Report whether a pipeline's lock is currently held",
		Run:   runLockStatus, // Defined in cmd_lock.go
	}

	lockClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Forcibly remove a pipeline's lock directory",
		Long: `lock clear removes the lock directory regardless of whether its
recorded holder is still alive. Only use this once you have confirmed no
scheduler is actually running against the pipeline directory.`,
		Run: runLockClear, // Defined in cmd_lock.go
	}

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Render a running pipeline's job-state transitions live",
		Run:   runWatch, // Defined in cmd_watch.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&pipelineDir, "dir", ".pipeliner", "Pipeline state directory")

	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&inputDir, "input", "", "Directory of input files for the demo wordcount workflow (required)")
	runCmd.Flags().Int64Var(&maxJobs, "max-jobs", 4, "Maximum number of concurrently running jobs")
	runCmd.Flags().StringVar(&serveAddr, "serve", "", "Serve the status API on this address while running (e.g. :8080)")
	runCmd.Flags().BoolVar(&cleanupTemp, "cleanup", false, "Remove temporary resources once every downstream consumer has completed")
	_ = runCmd.MarkFlagRequired("input")

	rootCmd.AddCommand(resumeCmd)
	resumeCmd.Flags().StringVar(&inputDir, "input", "", "Directory of input files for the demo wordcount workflow (required)")
	resumeCmd.Flags().Int64Var(&maxJobs, "max-jobs", 4, "Maximum number of concurrently running jobs")
	resumeCmd.Flags().StringVar(&serveAddr, "serve", "", "Serve the status API on this address while running (e.g. :8080)")
	resumeCmd.Flags().BoolVar(&cleanupTemp, "cleanup", false, "Remove temporary resources once every downstream consumer has completed")
	_ = resumeCmd.MarkFlagRequired("input")

	rootCmd.AddCommand(explainCmd)

	rootCmd.AddCommand(lockCmd)
	lockCmd.AddCommand(lockStatusCmd)
	lockCmd.AddCommand(lockClearCmd)
	lockClearCmd.Flags().BoolVar(&forceClear, "force", false, "Required to confirm clearing the lock")

	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchAddr, "addr", "http://localhost:8080", "Base URL of a pipelinectl run serving --serve")
}
