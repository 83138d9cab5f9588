// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resourcemgr

import (
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// statEntry is one cached filesystem stat result.
type statEntry struct {
	exists bool
	mtime  time.Time
}

// statCache is a per-Manager, invalidate-on-write cache: it must be
// reset at the start of every run and invalidated after every job
// finalises its outputs. It additionally watches the pipeline's
// directories with fsnotify (adapted from the
// teacher's lock.FileLockManager external-change detection) so that
// modifications made by a process other than this scheduler — a worker on
// a shared filesystem that doesn't route its writes back through
// UpdateOnWrite — still invalidate the cache promptly instead of only at
// the next full Reset.
type statCache struct {
	mu      sync.RWMutex
	entries map[string]statEntry

	watcher *fsnotify.Watcher
	closeCh chan struct{}
	closed  sync.Once
}

func newStatCache() *statCache {
	return &statCache{entries: make(map[string]statEntry)}
}

// watchDir adds dir to the fsnotify watch list, lazily creating the
// watcher on first use. Failures are non-fatal: without a watcher the
// cache still works correctly, just relying solely on explicit
// invalidation rather than also catching external writes.
func (c *statCache) watchDir(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watcher == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return
		}
		c.watcher = w
		c.closeCh = make(chan struct{})
		go c.watchLoop()
	}
	_ = c.watcher.Add(dir)
}

func (c *statCache) watchLoop() {
	for {
		select {
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			c.invalidate(ev.Name)
		case _, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
		case <-c.closeCh:
			return
		}
	}
}

func (c *statCache) close() {
	c.closed.Do(func() {
		c.mu.Lock()
		w := c.watcher
		closeCh := c.closeCh
		c.mu.Unlock()
		if w != nil {
			close(closeCh)
			w.Close()
		}
	})
}

func (c *statCache) lookup(path string) (statEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[path]
	return e, ok
}

func (c *statCache) store(path string, e statEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = e
}

func (c *statCache) invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}

// reset drops every cached entry, as required at the start of every run.
func (c *statCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]statEntry)
}

// stat returns the cached stat result for path, populating the cache on a
// miss.
func (c *statCache) stat(path string) statEntry {
	if e, ok := c.lookup(path); ok {
		return e
	}
	info, err := os.Stat(path)
	var e statEntry
	if err == nil {
		e = statEntry{exists: true, mtime: info.ModTime()}
	} else {
		e = statEntry{exists: false}
	}
	c.store(path, e)
	return e
}
