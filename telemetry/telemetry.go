// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry provides the shared OpenTelemetry tracer/meter
// and Prometheus registry the scheduler, graph regeneration, and job
// execution loops instrument themselves with, plus the run session id
// convention used throughout logs and spans.
package telemetry

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("pipeliner.scheduler")
	meter  = otel.Meter("pipeliner.scheduler")
)

// Tracer returns the package-wide tracer, for starting spans around
// scheduler iterations, graph regeneration, and job execution.
func Tracer() trace.Tracer { return tracer }

// NewSessionID returns a short, log-friendly identifier for one
// scheduler run.
func NewSessionID() string {
	return uuid.NewString()[:12]
}

// Metrics holds the otel instruments the scheduler records against.
// Construction is lazy and tolerant of instrument-creation failure:
// a failed metric is left nil and simply not recorded, so a meter
// misconfiguration never blocks pipeline execution.
type Metrics struct {
	once sync.Once

	JobDuration  metric.Float64Histogram
	JobSuccesses metric.Int64Counter
	JobFailures  metric.Int64Counter
	JobRetries   metric.Int64Counter
	ActiveJobs   metric.Int64UpDownCounter
	RunDuration  metric.Float64Histogram
}

// Init lazily creates the underlying instruments. Safe to call from
// multiple goroutines; only the first call does any work.
func (m *Metrics) Init(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	m.once.Do(func() {
		var failed []string

		var err error
		m.JobDuration, err = meter.Float64Histogram("pipeliner_job_duration_seconds",
			metric.WithDescription("Time spent executing a single job instance"),
			metric.WithUnit("s"),
		)
		if err != nil {
			failed = append(failed, "job_duration: "+err.Error())
		}

		m.JobSuccesses, err = meter.Int64Counter("pipeliner_job_success_total",
			metric.WithDescription("Number of job instances that completed successfully"),
		)
		if err != nil {
			failed = append(failed, "job_successes: "+err.Error())
		}

		m.JobFailures, err = meter.Int64Counter("pipeliner_job_failure_total",
			metric.WithDescription("Number of job instances that failed"),
		)
		if err != nil {
			failed = append(failed, "job_failures: "+err.Error())
		}

		m.JobRetries, err = meter.Int64Counter("pipeliner_job_retry_total",
			metric.WithDescription("Number of job instance retries issued"),
		)
		if err != nil {
			failed = append(failed, "job_retries: "+err.Error())
		}

		m.ActiveJobs, err = meter.Int64UpDownCounter("pipeliner_active_jobs",
			metric.WithDescription("Number of job instances currently running"),
		)
		if err != nil {
			failed = append(failed, "active_jobs: "+err.Error())
		}

		m.RunDuration, err = meter.Float64Histogram("pipeliner_run_duration_seconds",
			metric.WithDescription("Total scheduler run duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			failed = append(failed, "run_duration: "+err.Error())
		}

		if len(failed) > 0 {
			logger.Error("failed to initialize some pipeline metrics (observability degraded)",
				slog.Int("failed_count", len(failed)),
				slog.Any("errors", failed),
			)
		}
	})
}
