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
	"github.com/dagrunner/pipeliner/scheduler"
	"github.com/dagrunner/pipeliner/statusapi"
)

// statusBroadcaster adapts a *statusapi.Server into a scheduler.Notifier,
// so a running pipelinectl watch client sees job-state transitions as
// they happen.
type statusBroadcaster struct {
	server *statusapi.Server
}

func (b statusBroadcaster) Notify(ev scheduler.Event) {
	b.server.Broadcast(statusapi.Event{
		JobID:     ev.JobID,
		State:     ev.State,
		Timestamp: ev.Timestamp,
	})
}
