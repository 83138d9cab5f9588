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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dagrunner/pipeliner/identifiers"
	"github.com/dagrunner/pipeliner/storage/badgerkv"
)

// Manager is the resource manager: it registers resources, answers
// mtime/exists queries (through its own stat
// cache for File resources), refreshes state after a job writes, and
// cleans up temporary resources once they are no longer required.
type Manager struct {
	shelf   badgerkv.Shelf
	tempDir string
	cache   *statCache

	descriptors map[string]Descriptor
}

// New constructs a Manager backed by shelf (the resource shelf) with
// tempDir as the root of the temporary-file tree.
func New(shelf badgerkv.Shelf, tempDir string) *Manager {
	return &Manager{
		shelf:       shelf,
		tempDir:     tempDir,
		cache:       newStatCache(),
		descriptors: make(map[string]Descriptor),
	}
}

// Close releases the manager's background resources (the fsnotify
// watcher, if one was started).
func (m *Manager) Close() {
	m.cache.close()
}

// ResetCache drops every cached stat entry. Scheduler.Run calls this once
// at the start of every run whose Config.Resources is this manager, so
// cached entries do not leak staleness across runs.
func (m *Manager) ResetCache() {
	m.cache.reset()
}

// TempPath returns the on-disk path for a temporary resource: the temp
// directory, the resource name, then the node's subdirectory.
func (m *Manager) TempPath(name string, node identifiers.Node) string {
	return filepath.Join(m.tempDir, name, node.Subdir())
}

// Register ensures resource has a descriptor on file and, for a File
// resource, arranges for its containing directory to be fsnotify-watched
// so external writes invalidate the stat cache promptly.
func (m *Manager) Register(resource Descriptor) {
	m.descriptors[resource.Key.Key()] = resource
	if resource.Kind == File && resource.Path != "" {
		m.cache.watchDir(filepath.Dir(resource.Path))
	}
}

func (m *Manager) descriptor(key identifiers.ResourceKey) (Descriptor, bool) {
	d, ok := m.descriptors[key.Key()]
	return d, ok
}

// Exists reports whether the resource currently exists: for a File
// resource, whether the path is present on disk; for an Object resource,
// whether the resource shelf has a record for it.
func (m *Manager) Exists(ctx context.Context, key identifiers.ResourceKey) (bool, error) {
	d, ok := m.descriptor(key)
	if !ok {
		return false, fmt.Errorf("resourcemgr: exists: unregistered resource %s", key)
	}
	if d.Kind == File {
		return m.cache.stat(d.Path).exists, nil
	}
	rec, err := m.loadRecord(ctx, key)
	if err != nil {
		return false, err
	}
	return rec.Known, nil
}

// Mtime returns the resource's last-known modification time. The second
// return value is false when the mtime is unknown (missing record or
// missing file), which the out-of-date algorithm treats as "out of date".
func (m *Manager) Mtime(ctx context.Context, key identifiers.ResourceKey) (time.Time, bool, error) {
	d, ok := m.descriptor(key)
	if !ok {
		return time.Time{}, false, fmt.Errorf("resourcemgr: mtime: unregistered resource %s", key)
	}
	if d.Kind == File {
		e := m.cache.stat(d.Path)
		if !e.exists {
			return time.Time{}, false, nil
		}
		return e.mtime, true, nil
	}
	rec, err := m.loadRecord(ctx, key)
	if err != nil {
		return time.Time{}, false, err
	}
	if !rec.Known {
		return time.Time{}, false, nil
	}
	return rec.mtime(), true, nil
}

// UpdateOnWrite refreshes a resource's recorded state after a job has
// (re)written it. For a File resource written at a separate path
// (wroteFrom set and different from the descriptor's path), that file is
// compared by content against any existing file at its final
// path and only renamed over it when the contents differ; this is the
// mechanism that preserves the on-disk mtime, and thus prunes downstream
// recomputation, for byte-identical rewrites.
func (m *Manager) UpdateOnWrite(ctx context.Context, key identifiers.ResourceKey, wroteFrom string) error {
	d, ok := m.descriptor(key)
	if !ok {
		return fmt.Errorf("resourcemgr: update_on_write: unregistered resource %s", key)
	}
	if d.Kind == Object {
		m.cache.invalidate(d.Path)
		return m.storeRecord(ctx, key, record{MtimeUnixNano: nowFunc().UnixNano(), Known: true})
	}

	checksum := ""
	if wroteFrom != "" && wroteFrom != d.Path {
		sum, renamed, err := overwriteIfDifferent(wroteFrom, d.Path)
		if err != nil {
			return fmt.Errorf("resourcemgr: overwrite %s: %w", d.Path, err)
		}
		checksum = sum
		if !renamed {
			// Contents unchanged: do not touch the cache entry or the
			// recorded mtime at all, so the existing (older) mtime keeps
			// downstream consumers up to date.
			return nil
		}
	}
	m.cache.invalidate(d.Path)
	info, err := os.Stat(d.Path)
	if err != nil {
		return fmt.Errorf("resourcemgr: stat after write %s: %w", d.Path, err)
	}
	m.cache.store(d.Path, statEntry{exists: true, mtime: info.ModTime()})
	if checksum == "" {
		checksum, err = sha256File(d.Path)
		if err != nil {
			return fmt.Errorf("resourcemgr: checksum %s: %w", d.Path, err)
		}
	}
	return m.storeRecord(ctx, key, record{MtimeUnixNano: info.ModTime().UnixNano(), Known: true, Checksum: checksum})
}

// Cleanup removes a temporary resource's underlying file (or, for an
// Object resource, its shelf record) once it is no longer required by any
// downstream consumer.
func (m *Manager) Cleanup(ctx context.Context, key identifiers.ResourceKey) error {
	d, ok := m.descriptor(key)
	if !ok {
		return nil
	}
	if !d.Temporary {
		return nil
	}
	if d.Kind == File {
		m.cache.invalidate(d.Path)
		if err := os.Remove(d.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("resourcemgr: cleanup %s: %w", d.Path, err)
		}
	}
	delete(m.descriptors, key.Key())
	return m.shelf.Delete(ctx, key.Key())
}

// SetObjectPayload stores the serialized value of an Object resource and
// refreshes its recorded mtime, in one step.
func (m *Manager) SetObjectPayload(ctx context.Context, key identifiers.ResourceKey, payload []byte) error {
	if err := m.shelf.Set(ctx, key.Key()+"::payload", payload); err != nil {
		return fmt.Errorf("resourcemgr: store object payload %s: %w", key, err)
	}
	return m.UpdateOnWrite(ctx, key, "")
}

// ObjectPayload returns the last serialized value stored for an Object
// resource.
func (m *Manager) ObjectPayload(ctx context.Context, key identifiers.ResourceKey) ([]byte, bool, error) {
	raw, ok, err := m.shelf.Get(ctx, key.Key()+"::payload")
	if err != nil {
		return nil, false, fmt.Errorf("resourcemgr: load object payload %s: %w", key, err)
	}
	return raw, ok, nil
}

func (m *Manager) loadRecord(ctx context.Context, key identifiers.ResourceKey) (record, error) {
	raw, ok, err := m.shelf.Get(ctx, key.Key())
	if err != nil {
		return record{}, err
	}
	if !ok {
		return record{}, nil
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return record{}, fmt.Errorf("resourcemgr: decode record %s: %w", key, err)
	}
	return rec, nil
}

func (m *Manager) storeRecord(ctx context.Context, key identifiers.ResourceKey, rec record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return m.shelf.Set(ctx, key.Key(), raw)
}

// nowFunc is overridable in tests that need deterministic timestamps.
var nowFunc = time.Now
