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
	"os"
	"path/filepath"

	"github.com/dagrunner/pipeliner/jobs"
	"github.com/dagrunner/pipeliner/nodemgr"
	"github.com/dagrunner/pipeliner/resourcemgr"
	"github.com/dagrunner/pipeliner/storage/badgerkv"
)

// pipelineEnv bundles the collaborators every subcommand that touches a
// pipeline directory needs: the Badger-backed shelves, the resource and
// node managers built over them, and the derived filesystem layout
// (lock dir, log root, temp tree, snapshot path).
type pipelineEnv struct {
	dir      string
	db       *badgerkv.DB
	res      *resourcemgr.Manager
	nodes    *nodemgr.Manager
	bindEnv  jobs.BindEnv
	lockDir  string
	logRoot  string
	tempDir  string
	snapPath string

	completedShelf badgerkv.Shelf
}

// openPipelineEnv creates (if needed) the on-disk layout under dir and
// opens the Badger database backing it:
//
//	dir/db/         Badger's own LSM tree and value log
//	dir/db/lock/    the pipelinelock mutex directory
//	dir/tmp/        managed-resource and scratch files
//	dir/logs/       per-job stdout/stderr and exception directories
//	dir/snapshot.json
func openPipelineEnv(dir string) (*pipelineEnv, error) {
	dbPath := filepath.Join(dir, "db")
	lockDir := filepath.Join(dbPath, "lock")
	tempDir := filepath.Join(dir, "tmp")
	logRoot := filepath.Join(dir, "logs")

	for _, d := range []string{dbPath, tempDir, logRoot} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("pipelinectl: creating %s: %w", d, err)
		}
	}

	cfg := badgerkv.DefaultConfig()
	cfg.Path = dbPath
	db, err := badgerkv.OpenDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("pipelinectl: opening pipeline database: %w", err)
	}

	resShelf := badgerkv.NewShelf(db, "resources")
	nodeShelf := badgerkv.NewShelf(db, "nodes")
	completedShelf := badgerkv.NewShelf(db, "completed")

	res := resourcemgr.New(resShelf, tempDir)
	nodes := nodemgr.New(nodeShelf, res)

	return &pipelineEnv{
		dir:      dir,
		db:       db,
		res:      res,
		nodes:    nodes,
		lockDir:  lockDir,
		logRoot:  logRoot,
		tempDir:  tempDir,
		snapPath: filepath.Join(dir, "snapshot.json"),
		bindEnv: jobs.BindEnv{
			Resources: res,
			Nodes:     nodes,
			TempDir:   tempDir,
		},
		completedShelf: completedShelf,
	}, nil
}

// Close releases the resource manager's background watchers and the
// underlying database.
func (e *pipelineEnv) Close() {
	e.res.Close()
	if err := e.db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "pipelinectl: closing pipeline database: %v\n", err)
	}
}
