// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badgerkv wraps an embedded Badger key-value engine and exposes
// the small Shelf interface the rest of the engine persists through.
package badgerkv

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config configures how the underlying Badger database is opened.
type Config struct {
	// InMemory opens a volatile, disk-less database. Mutually exclusive
	// with Path: when true, Path is ignored.
	InMemory bool
	// Path is the on-disk directory Badger stores its value log and LSM
	// tree under. Required unless InMemory is true.
	Path string
	// SyncWrites forces an fsync on every commit, trading throughput for
	// the crash-consistency every shelf mutation in this engine requires.
	SyncWrites bool
	// NumVersionsToKeep bounds how many historical versions of a key
	// Badger retains; shelves only ever need the latest value.
	NumVersionsToKeep int
	// GCInterval is how often NewGCRunner reclaims value-log space. Zero
	// disables periodic GC.
	GCInterval time.Duration
}

// DefaultConfig returns the configuration used for a production pipeline
// run: durable, synced, single-versioned, GC'd every five minutes.
func DefaultConfig() Config {
	return Config{
		InMemory:          false,
		SyncWrites:        true,
		NumVersionsToKeep: 1,
		GCInterval:        5 * time.Minute,
	}
}

// InMemoryConfig returns the configuration used by tests: volatile,
// unsynced (there is nothing to fsync), GC disabled.
func InMemoryConfig() Config {
	return Config{
		InMemory:          true,
		SyncWrites:        false,
		NumVersionsToKeep: 1,
		GCInterval:        0,
	}
}

// Open opens a raw *badger.DB per cfg. Most callers want OpenDB instead,
// which wraps the result with context-aware transaction helpers.
func Open(cfg Config) (*badger.DB, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("badgerkv: path is required for a non-in-memory database")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithLogger(nil)
	if cfg.NumVersionsToKeep > 0 {
		opts = opts.WithNumVersionsToKeep(cfg.NumVersionsToKeep)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerkv: open: %w", err)
	}
	return db, nil
}

// OpenInMemory opens a volatile database with InMemoryConfig, for tests.
func OpenInMemory() (*badger.DB, error) {
	return Open(InMemoryConfig())
}

// OpenWithPath opens a durable database at path using DefaultConfig.
func OpenWithPath(path string) (*badger.DB, error) {
	cfg := DefaultConfig()
	cfg.Path = path
	return Open(cfg)
}

// DB wraps a *badger.DB with context-aware transaction helpers and an
// optional background GC runner. It is the handle the engine's shelves
// (nodes, resources, completed) share, one key prefix each; object
// payloads live in the resources shelf, with no shelf of their own.
type DB struct {
	raw *badger.DB
	gc  *GCRunner
}

// OpenDB opens a managed DB per cfg, starting its GC runner if
// cfg.GCInterval is non-zero.
func OpenDB(cfg Config) (*DB, error) {
	raw, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	d := &DB{raw: raw}
	if cfg.GCInterval > 0 {
		runner, err := NewGCRunner(raw, cfg.GCInterval, 0.5, nil)
		if err != nil {
			raw.Close()
			return nil, err
		}
		d.gc = runner
		d.gc.Start()
	}
	return d, nil
}

// Close stops the GC runner (if any) and closes the underlying database.
func (d *DB) Close() error {
	if d.gc != nil {
		d.gc.Stop()
	}
	return d.raw.Close()
}

// Update runs fn in a read-write transaction, committing on success.
func (d *DB) Update(fn func(txn *badger.Txn) error) error {
	return d.raw.Update(fn)
}

// View runs fn in a read-only transaction.
func (d *DB) View(fn func(txn *badger.Txn) error) error {
	return d.raw.View(fn)
}

// WithTxn runs fn in a read-write transaction, aborting early if ctx is
// already cancelled.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("badgerkv: context cancelled: %w", ctx.Err())
	default:
	}
	return d.raw.Update(fn)
}

// WithReadTxn runs fn in a read-only transaction, aborting early if ctx is
// already cancelled.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("badgerkv: context cancelled: %w", ctx.Err())
	default:
	}
	return d.raw.View(fn)
}

// Raw returns the underlying *badger.DB for callers (e.g. shelf adapters)
// that need direct transaction access.
func (d *DB) Raw() *badger.DB {
	return d.raw
}

// GCRunner periodically invokes badger.DB.RunValueLogGC on an interval,
// tolerating the badger.ErrNoRewrite it returns when there is nothing to
// reclaim.
type GCRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	onError  func(error)

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewGCRunner validates its arguments and returns a stopped GCRunner; call
// Start to begin the periodic GC loop.
func NewGCRunner(db *badger.DB, interval time.Duration, ratio float64, onError func(error)) (*GCRunner, error) {
	if db == nil {
		return nil, fmt.Errorf("badgerkv: db must not be nil")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("badgerkv: interval must be positive")
	}
	if ratio <= 0 || ratio > 1 {
		return nil, fmt.Errorf("badgerkv: ratio must be between 0 and 1")
	}
	return &GCRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		onError:  onError,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start begins the background GC loop. Safe to call at most once.
func (g *GCRunner) Start() {
	go func() {
		defer close(g.done)
		// Jitter the first tick so many GCRunners across a fleet don't
		// all fire a value-log rewrite at the same instant.
		jitter := time.Duration(rand.Int63n(int64(g.interval)))
		timer := time.NewTimer(jitter)
		defer timer.Stop()
		for {
			select {
			case <-g.stop:
				return
			case <-timer.C:
				g.runOnce()
				timer.Reset(g.interval)
			}
		}
	}()
}

func (g *GCRunner) runOnce() {
again:
	err := g.db.RunValueLogGC(g.ratio)
	if err == nil {
		goto again
	}
	if err != badger.ErrNoRewrite && g.onError != nil {
		g.onError(err)
	}
}

// Stop halts the GC loop and waits for it to exit. Safe to call even if
// Start was never called or Stop was already called.
func (g *GCRunner) Stop() {
	g.once.Do(func() {
		close(g.stop)
	})
	<-g.done
}

// TempDir creates a fresh temp directory with the given prefix, for tests
// that need an on-disk (non-in-memory) database.
func TempDir(prefix string) (string, error) {
	return os.MkdirTemp("", prefix)
}

// CleanupDir removes a directory created by TempDir. A no-op on an empty
// path.
func CleanupDir(path string) error {
	if path == "" {
		return nil
	}
	return os.RemoveAll(path)
}
