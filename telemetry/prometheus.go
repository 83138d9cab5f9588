// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counterparts to the otel instruments in Metrics, exposed
// over /metrics for scrape-based monitoring alongside the push-based
// otel exporters.
var (
	jobsRunTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pipeliner",
		Subsystem: "jobs",
		Name:      "run_total",
		Help:      "Total job instances run, by definition name and outcome",
	}, []string{"definition", "outcome"})

	jobsLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pipeliner",
		Subsystem: "jobs",
		Name:      "latency_seconds",
		Help:      "Job instance execution latency in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"definition"})

	schedulerPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pipeliner",
		Subsystem: "scheduler",
		Name:      "pending_jobs",
		Help:      "Number of job instances currently pending in the graph",
	})

	lockHeld = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pipeliner",
		Subsystem: "scheduler",
		Name:      "lock_held",
		Help:      "1 if this process holds the pipeline run lock, 0 otherwise",
	})
)

// RecordJobOutcome records a completed job instance's definition name,
// outcome ("success", "failure", "retry"), and duration.
func RecordJobOutcome(definition, outcome string, durationSec float64) {
	jobsRunTotal.WithLabelValues(definition, outcome).Inc()
	jobsLatency.WithLabelValues(definition).Observe(durationSec)
}

// SetPendingJobs reports the current pending-instance count.
func SetPendingJobs(n int) {
	schedulerPending.Set(float64(n))
}

// SetLockHeld reports whether this process currently holds the
// pipeline run lock.
func SetLockHeld(held bool) {
	if held {
		lockHeld.Set(1)
		return
	}
	lockHeld.Set(0)
}

// Handler returns the HTTP handler statusapi mounts at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
