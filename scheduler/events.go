// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import "time"

// Event describes one job-state transition during a run.
type Event struct {
	JobID     string
	State     string // "running", "completed", "retrying", "failed"
	Timestamp time.Time
}

// Notifier receives job-state transitions as the scheduler drives the
// graph, e.g. to fan them out over statusapi's websocket stream.
type Notifier interface {
	Notify(Event)
}

func (s *Scheduler) notify(jobID, state string) {
	if s.cfg.Notifier == nil {
		return
	}
	s.cfg.Notifier.Notify(Event{JobID: jobID, State: state, Timestamp: time.Now()})
}
