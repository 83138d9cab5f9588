// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package snapshot exports a checksum-verified, point-in-time view of
// a pipeline run for operator inspection (pipelinectl explain/status).
// It is purely a read-only diagnostic: resume is driven by the Badger
// shelves nodemgr/resourcemgr already maintain, never by replaying a
// snapshot, so Load never feeds back into scheduling decisions.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dagrunner/pipeliner/graph"
)

// Version is the current snapshot format version.
const Version = "1.0.0"

// State is the serializable slice of run state a snapshot captures.
type State struct {
	SessionID string   `json:"session_id"`
	Completed []string `json:"completed"`
	Pending   []string `json:"pending"`
	Running   []string `json:"running"`
}

// FromGraph captures the current instance-status partition of g under
// sessionID.
func FromGraph(sessionID string, g *graph.Graph) State {
	return State{
		SessionID: sessionID,
		Completed: g.CompletedIDs(),
		Pending:   g.PendingIDs(),
		Running:   g.RunningIDs(),
	}
}

// Snapshot is the on-disk format: state plus the metadata needed to
// verify it has not been tampered with or produced by an incompatible
// version.
type Snapshot struct {
	State     State     `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Checksum  string    `json:"checksum"`
}

func computeChecksum(state State, timestamp time.Time) (string, error) {
	data := struct {
		State     State     `json:"state"`
		Timestamp time.Time `json:"timestamp"`
		Version   string    `json:"version"`
	}{State: state, Timestamp: timestamp, Version: Version}

	encoded, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("snapshot: marshal for checksum: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// Save writes state to path atomically (temp file + rename), with a
// SHA-256 checksum over its canonical encoding so Load can detect
// truncation or tampering.
func Save(state State, path string) error {
	if state.SessionID == "" {
		return fmt.Errorf("%w: session id must not be empty", ErrInvalidInput)
	}
	if path == "" {
		return fmt.Errorf("%w: path must not be empty", ErrInvalidInput)
	}

	timestamp := time.Now()
	checksum, err := computeChecksum(state, timestamp)
	if err != nil {
		return err
	}

	snap := Snapshot{State: state, Timestamp: timestamp, Version: Version, Checksum: checksum}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshal: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot: close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("snapshot: rename: %w", err)
	}
	success = true
	return nil
}

// Load reads and verifies a snapshot previously written by Save.
func Load(path string) (*Snapshot, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: path must not be empty", ErrInvalidInput)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("snapshot: unmarshal: %w", err)
	}
	if snap.Version != Version {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrVersionMismatch, snap.Version, Version)
	}
	expected, err := computeChecksum(snap.State, snap.Timestamp)
	if err != nil {
		return nil, err
	}
	if expected != snap.Checksum {
		return nil, ErrSnapshotCorrupt
	}
	return &snap, nil
}

// Verify recomputes the checksum and reports whether it still matches.
func (s *Snapshot) Verify() bool {
	if s == nil {
		return false
	}
	expected, err := computeChecksum(s.State, s.Timestamp)
	if err != nil {
		return false
	}
	return expected == s.Checksum
}
