// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package execqueue

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// LocalQueue runs callables as goroutines on the local host, bounding
// concurrency with a weighted semaphore and, when configured,
// throttling submissions with a rate limiter. This is the default
// queue for single-machine runs; remote backends implement the same
// Queue interface over a transport instead.
type LocalQueue struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter

	mu       sync.Mutex
	inFlight int
	ready    []string
	results  map[string]Result
	notify   chan struct{}
}

// NewLocalQueue constructs a LocalQueue allowing up to capacity
// concurrently running callables. limiter may be nil to disable
// submission throttling.
func NewLocalQueue(capacity int64, limiter *rate.Limiter) *LocalQueue {
	return &LocalQueue{
		sem:     semaphore.NewWeighted(capacity),
		limiter: limiter,
		results: make(map[string]Result),
		notify:  make(chan struct{}, 1),
	}
}

func (q *LocalQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Send blocks until a concurrency slot (and, if configured, a rate
// token) is available, then runs job in its own goroutine. The result
// becomes visible to Wait/Receive once job.Run returns.
func (q *LocalQueue) Send(ctx context.Context, name string, job Callable, excDir string) error {
	if q.limiter != nil {
		if err := q.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if err := q.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	q.mu.Lock()
	q.inFlight++
	q.mu.Unlock()

	go func() {
		defer q.sem.Release(1)
		value, err := job.Run(ctx)

		q.mu.Lock()
		q.results[name] = Result{Name: name, Value: value, Err: err, ExcDir: excDir}
		q.ready = append(q.ready, name)
		q.mu.Unlock()
		q.signal()
	}()
	return nil
}

// Wait blocks until at least one submitted callable has completed and
// returns its display name. Multiple ready completions are returned
// one at a time, oldest first.
func (q *LocalQueue) Wait(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.ready) > 0 {
			name := q.ready[0]
			q.ready = q.ready[1:]
			q.mu.Unlock()
			return name, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Receive consumes the completed result for name, returning
// ErrReceiveMismatch if no such completion is outstanding (name was
// never sent, or has already been received).
func (q *LocalQueue) Receive(name string) (Result, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	res, ok := q.results[name]
	if !ok {
		return Result{}, ErrReceiveMismatch
	}
	delete(q.results, name)
	q.inFlight--
	return res, nil
}

// Empty reports whether no callables are currently running or
// awaiting receipt.
func (q *LocalQueue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight == 0
}

// Length reports the number of callables sent but not yet received.
func (q *LocalQueue) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}
