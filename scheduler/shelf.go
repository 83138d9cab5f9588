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

import (
	"context"

	"github.com/dagrunner/pipeliner/storage/badgerkv"
)

// LoadCompletedIDs reads every instance ID persisted as completed on a
// prior run, for seeding graph.Graph.MarkCompletedFromShelf before the
// first Regenerate of a resumed run.
func LoadCompletedIDs(ctx context.Context, shelf badgerkv.Shelf) ([]string, error) {
	var ids []string
	err := shelf.ForEach(ctx, func(key string, value []byte) error {
		ids = append(ids, key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// recordCompleted persists id as completed, if a completed-instance
// shelf was configured, so a future run (or snapshot export) can see it
// without replaying the whole graph.
func (s *Scheduler) recordCompleted(ctx context.Context, id string) {
	if s.cfg.CompletedShelf == nil {
		return
	}
	if err := s.cfg.CompletedShelf.Set(ctx, id, []byte{1}); err != nil {
		s.logger.Warn("scheduler: failed to persist completed instance", "job", id, "error", err)
	}
}
