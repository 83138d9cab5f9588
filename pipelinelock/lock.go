// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipelinelock implements the mutual-exclusion mechanism that
// guards a pipeline directory against two schedulers running
// concurrently against it: atomic directory creation under db/lock,
// with a JSON sidecar recording who holds it so a crashed holder's
// lock can be told apart from a live one.
package pipelinelock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// LockInfo records the identity of the process holding the lock, for
// "pipeline already running" diagnostics and stale-lock detection.
type LockInfo struct {
	PID        int       `json:"pid"`
	SessionID  string    `json:"session_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	Reason     string    `json:"reason"`
}

// Lock is a held pipeline-run mutex. Release it on clean exit; on
// crash the directory is left behind and the next Acquire reclaims it
// once it determines the holder's process is gone.
type Lock struct {
	dir  string
	info LockInfo
}

// Acquire creates dir atomically as the mutex. If dir already exists
// and its recorded holder is still alive, it returns a *LockedError
// wrapping ErrAlreadyRunning. If the holder is gone (crashed without
// cleaning up, or the info sidecar is unreadable), the stale lock is
// reclaimed and a new one is acquired in its place.
func Acquire(dir, sessionID, reason string) (*Lock, error) {
	if err := os.Mkdir(dir, 0o755); err != nil {
		if !os.IsExist(err) {
			return nil, fmt.Errorf("pipelinelock: creating %s: %w", dir, err)
		}
		if err := reclaimIfStale(dir); err != nil {
			return nil, err
		}
		if err := os.Mkdir(dir, 0o755); err != nil {
			return nil, fmt.Errorf("pipelinelock: creating %s after reclaiming stale lock: %w", dir, err)
		}
	}

	info := LockInfo{
		PID:        os.Getpid(),
		SessionID:  sessionID,
		AcquiredAt: time.Now(),
		Reason:     reason,
	}
	if err := writeInfo(dir, info); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	return &Lock{dir: dir, info: info}, nil
}

// reclaimIfStale inspects an existing lock directory: if its holder
// process is still alive it reports LockedError; otherwise it removes
// the stale directory so the caller can recreate it.
func reclaimIfStale(dir string) error {
	existing, err := readInfo(dir)
	if err == nil && existing != nil && isProcessAlive(existing.PID) {
		return &LockedError{Dir: dir, Holder: existing}
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("pipelinelock: removing stale lock %s: %w", dir, err)
	}
	return nil
}

// Release removes the lock directory. Safe to call only by the
// holder that acquired it.
func (l *Lock) Release() error {
	if l == nil {
		return ErrLockNotHeld
	}
	return os.RemoveAll(l.dir)
}

// Info returns the lock metadata recorded at acquisition time.
func (l *Lock) Info() LockInfo { return l.info }

// Status reports the current lock state at dir without acquiring it,
// for a "lock status" CLI command. held=false and a nil error means
// no lock (or a stale one) is present.
func Status(dir string) (info *LockInfo, held bool, err error) {
	existing, err := readInfo(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if existing == nil {
		return nil, false, nil
	}
	return existing, isProcessAlive(existing.PID), nil
}

// Clear forcibly removes dir regardless of whether its holder is
// still alive, for a "lock clear" CLI override of an operator who has
// confirmed the pipeline is not actually running.
func Clear(dir string) error {
	return os.RemoveAll(dir)
}

func infoPath(dir string) string { return filepath.Join(dir, "info.json") }

func writeInfo(dir string, info LockInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("pipelinelock: encoding lock info: %w", err)
	}
	return os.WriteFile(infoPath(dir), data, 0o644)
}

func readInfo(dir string) (*LockInfo, error) {
	data, err := os.ReadFile(infoPath(dir))
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("pipelinelock: decoding lock info: %w", err)
	}
	return &info, nil
}

// isProcessAlive checks process existence via signal 0, which the
// kernel delivers without actually signalling the process.
func isProcessAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
