// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipelinelock

import (
	"errors"
	"fmt"
)

// Sentinel errors for lock operations.
var (
	// ErrAlreadyRunning indicates another live process holds the pipeline
	// lock.
	ErrAlreadyRunning = errors.New("pipeline already running")

	// ErrLockNotHeld indicates an attempt to release a lock this process
	// never acquired.
	ErrLockNotHeld = errors.New("pipeline lock not held")
)

// LockedError wraps ErrAlreadyRunning with the holder's recorded identity,
// so callers can report who is running and since when.
type LockedError struct {
	Dir    string
	Holder *LockInfo
}

func (e *LockedError) Error() string {
	if e.Holder != nil {
		return fmt.Sprintf("pipeline already running: pid %d (session %s) since %s, remove %s to override",
			e.Holder.PID, e.Holder.SessionID, e.Holder.AcquiredAt.Format("15:04:05"), e.Dir)
	}
	return fmt.Sprintf("pipeline already running, remove %s to override", e.Dir)
}

func (e *LockedError) Unwrap() error { return ErrAlreadyRunning }
