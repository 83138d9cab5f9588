// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler drives a graph.Graph to quiescence through an
// execqueue.Queue, implementing a STEADY/SUBMIT/RUNNING/AWAITING/
// FAILING state machine: it pops ready jobs, submits them to the queue
// up to its capacity, waits for completions, retries failures with
// context-field scaling while their budget lasts, and drains to a
// PipelineFailed report when it doesn't.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/dagrunner/pipeliner/execqueue"
	"github.com/dagrunner/pipeliner/graph"
	"github.com/dagrunner/pipeliner/jobs"
	"github.com/dagrunner/pipeliner/pipelinelock"
	"github.com/dagrunner/pipeliner/resourcemgr"
	"github.com/dagrunner/pipeliner/storage/badgerkv"
	"github.com/dagrunner/pipeliner/telemetry"
)

// Config holds everything about a run that isn't graph/queue state:
// where its lock and logs live, how many jobs it may run concurrently,
// and the optional hooks (persistence, live events) a caller wires in.
type Config struct {
	// MaxJobs caps concurrent submissions; defaults to 1 if <= 0.
	MaxJobs int64
	// LockDir is the pipeline directory pipelinelock.Acquire guards.
	LockDir string
	// LogRoot is the directory job.out/job.err/exception directories
	// are written under.
	LogRoot string
	// RateLimit is not read by the scheduler and is not passed on to
	// the queue; a LocalQueue is rate-limited only by the limiter given
	// to execqueue.NewLocalQueue.
	RateLimit *rate.Limiter
	// CompletedShelf, if set, persists completed instance IDs so a
	// later run can resume past them.
	CompletedShelf badgerkv.Shelf
	// Notifier, if set, receives every job-state transition.
	Notifier Notifier
	// Cleanup enables the temporary-resource cleanup pass: after each
	// successful completion, every output of that instance whose known
	// consumers have all themselves completed is passed to Resources'
	// Cleanup, which removes it if (and only if) it is a temporary
	// resource. Requires Resources to be set; ignored otherwise.
	Cleanup bool
	// Resources is the resource manager cleanup removes temporary
	// outputs through. Required when Cleanup is true.
	Resources *resourcemgr.Manager
}

// Scheduler runs one pipeline to completion or failure.
type Scheduler struct {
	graph *graph.Graph
	queue execqueue.Queue
	cfg   Config

	logger    *slog.Logger
	metrics   *telemetry.Metrics
	sessionID string
}

// New constructs a Scheduler over g and q. logger defaults to
// slog.Default() if nil.
func New(g *graph.Graph, q execqueue.Queue, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxJobs <= 0 {
		cfg.MaxJobs = 1
	}
	if cfg.Resources != nil {
		g.SetCleanupHooks(cfg.Resources, cfg.CompletedShelf)
	}
	return &Scheduler{
		graph:     g,
		queue:     q,
		cfg:       cfg,
		logger:    logger,
		metrics:   &telemetry.Metrics{},
		sessionID: telemetry.NewSessionID(),
	}
}

// SessionID returns the run's session identifier, for log correlation
// and lock-holder identification.
func (s *Scheduler) SessionID() string { return s.sessionID }

// Run drives the graph to quiescence. It acquires the pipeline lock for
// the duration of the run and releases it on return, including on
// failure. A nil return means every must-run instance completed; a
// non-nil return wrapping ErrPipelineFailed means the drain finished
// with at least one exhausted job failure.
func (s *Scheduler) Run(ctx context.Context) error {
	s.metrics.Init(s.logger)

	ctx, span := telemetry.Tracer().Start(ctx, "scheduler.Run",
		trace.WithAttributes(attribute.String("session_id", s.sessionID)),
	)
	defer span.End()

	lock, err := pipelinelock.Acquire(s.cfg.LockDir, s.sessionID, "pipeline run")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	telemetry.SetLockHeld(true)
	defer func() {
		telemetry.SetLockHeld(false)
		if releaseErr := lock.Release(); releaseErr != nil {
			s.logger.Warn("scheduler: failed to release pipeline lock", "error", releaseErr)
		}
	}()

	if s.cfg.Resources != nil {
		s.cfg.Resources.ResetCache()
	}

	start := time.Now()
	s.logger.Info("pipeline started", "session_id", s.sessionID)

	failing := false
	var firstErr error

	for {
		if ctx.Err() != nil && firstErr == nil {
			firstErr = ctx.Err()
			failing = true
		}

		if !failing {
			if err := s.submitReady(ctx); err != nil {
				firstErr = err
				failing = true
			}
		}

		if s.queue.Length() == 0 {
			if failing {
				break
			}
			if _, _, err := s.graph.PopNextJob(); err == graph.ErrNoJobs {
				break // quiescent: nothing ready, nothing running
			} else if err != nil {
				firstErr = err
				failing = true
				continue
			}
			// Nothing ready yet, nothing running, queue empty: no
			// source of future progress.
			firstErr = ErrNoProgress
			failing = true
			continue
		}

		name, err := s.queue.Wait(ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			failing = true
			continue
		}

		if err := s.handleCompletion(ctx, name, &failing, &firstErr); err != nil {
			firstErr = err
			failing = true
		}
	}

	duration := time.Since(start)
	if s.metrics.RunDuration != nil {
		s.metrics.RunDuration.Record(ctx, duration.Seconds())
	}

	if failing {
		span.RecordError(firstErr)
		span.SetStatus(codes.Error, firstErr.Error())
		s.logger.Error("pipeline failed", "session_id", s.sessionID, "duration", duration, "error", firstErr)
		return fmt.Errorf("%w: %v", ErrPipelineFailed, firstErr)
	}
	span.SetStatus(codes.Ok, "")
	s.logger.Info("pipeline completed", "session_id", s.sessionID, "duration", duration)
	return nil
}

// submitReady pops and sends every instance currently ready, up to the
// queue's configured capacity.
func (s *Scheduler) submitReady(ctx context.Context) error {
	for int64(s.queue.Length()) < s.cfg.MaxJobs {
		id, inst, err := s.graph.PopNextJob()
		if err == graph.ErrNoJobs {
			return nil
		}
		if err != nil {
			return err
		}
		if inst == nil {
			return nil // nothing ready yet, but work is in flight
		}

		callable, excDir, err := s.buildCallable(inst)
		if err != nil {
			return err
		}
		if err := s.queue.Send(ctx, id, callable, excDir); err != nil {
			return err
		}
		s.notify(id, "running")
		s.recordActiveJobsDelta(ctx, 1)
	}
	return nil
}

// handleCompletion receives the result for name and applies it to the
// graph: success advances the graph and regenerates it, a retryable
// failure resubmits with a scaled context, and an exhausted failure
// flips the run into draining.
func (s *Scheduler) handleCompletion(ctx context.Context, name string, failing *bool, firstErr *error) error {
	result, err := s.queue.Receive(name)
	if err != nil {
		// A queue transport failure for one job is logged and routed
		// through the retry path rather than treated as the job's own
		// failure.
		s.logger.Warn("scheduler: receive error", "job", name, "error", err)
		s.graph.NotifyFailed(name)
		s.notify(name, "failed")
		return nil
	}

	def := definitionName(name)
	elapsed := resultDuration(result).Seconds()
	s.recordActiveJobsDelta(ctx, -1)

	if result.Err == nil {
		s.graph.NotifyCompleted(name)
		s.notify(name, "completed")
		s.recordCompleted(ctx, name)
		telemetry.RecordJobOutcome(def, "success", elapsed)
		if s.metrics.JobSuccesses != nil {
			s.metrics.JobSuccesses.Add(ctx, 1)
		}
		if s.metrics.JobDuration != nil {
			s.metrics.JobDuration.Record(ctx, elapsed)
		}
		if exp, ok := result.Value.(workflowExpansion); ok {
			s.spliceWorkflowExpansion(exp)
		}
		err := s.graph.Regenerate(ctx)
		telemetry.SetPendingJobs(s.graph.Pending())
		if err != nil {
			return err
		}
		// Regenerate runs first so any downstream instance the split
		// this completion may have triggered is already reflected in
		// the graph's consumer edges before we decide what is safe to
		// remove.
		s.cleanupCompleted(ctx, name)
		return nil
	}

	s.logger.Warn("scheduler: job failed", "job", name, "error", result.Err)

	if s.shouldRetry(name) {
		if inst, ok := s.graph.Instance(name); ok {
			if ji, ok := inst.(interface{ Retry() }); ok {
				ji.Retry()
			}
		}
		s.graph.NotifyFailed(name)
		s.notify(name, "retrying")
		telemetry.RecordJobOutcome(def, "retry", elapsed)
		if s.metrics.JobRetries != nil {
			s.metrics.JobRetries.Add(ctx, 1)
		}
		return nil
	}

	s.graph.NotifyFailed(name)
	s.notify(name, "failed")
	telemetry.RecordJobOutcome(def, "failure", elapsed)
	if s.metrics.JobFailures != nil {
		s.metrics.JobFailures.Add(ctx, 1)
	}

	if *firstErr == nil {
		*firstErr = fmt.Errorf("%w: %s: %v", ErrIncompleteJob, name, result.Err)
	}
	*failing = true
	return nil
}

// resultDuration extracts the wall-clock execution time of a completed
// attempt from its boxed result, where recoverable (a *jobs.JobResult
// from a JobInstance attempt); zero otherwise.
func resultDuration(result execqueue.Result) time.Duration {
	jr, ok := result.Value.(jobs.JobResult)
	if !ok {
		return 0
	}
	return jr.Timer.Duration()
}

// spliceWorkflowExpansion adds the job and nested sub-workflow
// definitions a sub-workflow instance's expansion produced as new
// graph sources, scoped to the node the sub-workflow itself ran at.
// The caller regenerates the graph immediately afterward so the new
// instances are bound before the next pop.
func (s *Scheduler) spliceWorkflowExpansion(exp workflowExpansion) {
	for _, def := range exp.jobDefs {
		s.graph.AddSource(graph.WorkflowSource{Def: def, Root: exp.root})
	}
	for _, def := range exp.subDefs {
		s.graph.AddSource(graph.SubWorkflowSource{Def: def, Root: exp.root})
	}
}

// cleanupCompleted removes id's temporary outputs once every consumer
// the graph currently knows about has itself completed. A no-op unless
// both cfg.Cleanup and cfg.Resources are set; resourcemgr.Manager.Cleanup
// itself no-ops for non-temporary (user-facing) resources, so every
// output key CleanupReady returns can be passed through unfiltered.
func (s *Scheduler) cleanupCompleted(ctx context.Context, id string) {
	if !s.cfg.Cleanup || s.cfg.Resources == nil {
		return
	}
	for _, key := range s.graph.CleanupReady(id) {
		if err := s.cfg.Resources.Cleanup(ctx, key); err != nil {
			s.logger.Warn("scheduler: failed to clean up temporary resource", "job", id, "resource", key, "error", err)
		}
	}
}

func (s *Scheduler) recordActiveJobsDelta(ctx context.Context, delta int64) {
	if s.metrics.ActiveJobs != nil {
		s.metrics.ActiveJobs.Add(ctx, delta)
	}
}
