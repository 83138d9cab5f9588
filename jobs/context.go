// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jobs

import (
	"strings"
	"sync"
)

// JobContext carries the scalar resource hints (memory, threads, ...) a
// job function can read, and that Retry scales up on resubmission.
// A value named "mem" paired with "mem_retry_factor" is multiplied by
// that factor on every retry;
// "mem_retry_increment" adds instead of multiplying. NumRetry counts how
// many times Retry has been called.
type JobContext struct {
	mu       sync.Mutex
	values   map[string]float64
	NumRetry int
}

// NewJobContext constructs a JobContext seeded with values, which may
// include "<field>_retry_factor" / "<field>_retry_increment" entries
// alongside the base fields they scale.
func NewJobContext(values map[string]float64) *JobContext {
	cp := make(map[string]float64, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return &JobContext{values: cp}
}

// Get returns the current value of field, or 0 if unset.
func (c *JobContext) Get(field string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[field]
}

// Snapshot returns a copy of every field currently set, including the
// "_retry_factor"/"_retry_increment" control fields.
func (c *JobContext) Snapshot() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]float64, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Retry scales every base field that has a matching "<field>_retry_factor"
// (multiplicative) or "<field>_retry_increment" (additive) control field,
// and increments NumRetry.
func (c *JobContext) Retry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for field, value := range c.values {
		if factor, ok := c.values[field+"_retry_factor"]; ok {
			c.values[field] = value * factor
			continue
		}
		if inc, ok := c.values[field+"_retry_increment"]; ok {
			c.values[field] = value + inc
		}
	}
	c.NumRetry++
}

// HasRetryUpdate reports whether at least one base field has a matching
// "_retry_factor" or "_retry_increment" control field, i.e. whether a
// call to Retry would actually change anything. The scheduler only
// resubmits a failed job when this holds: a retry that can't change
// the context is futile.
func (c *JobContext) HasRetryUpdate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for field := range c.values {
		base, ok := strings.CutSuffix(field, "_retry_factor")
		if !ok {
			base, ok = strings.CutSuffix(field, "_retry_increment")
		}
		if !ok {
			continue
		}
		if _, exists := c.values[base]; exists {
			return true
		}
	}
	return false
}

// RetryBudget returns the instance's configured retry cap, read from
// the "num_retry" context field (0 if unset): the job may be submitted
// at most RetryBudget+1 times.
func (c *JobContext) RetryBudget() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(c.values["num_retry"])
}
