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
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Telemetry is wired up before flag parsing decides which pipeline
	// directory this invocation targets, so it exports to a process-local
	// scratch directory rather than the (not yet known) pipeline directory.
	cleanup, err := initTelemetry(filepath.Join(os.TempDir(), fmt.Sprintf("pipelinectl-otel-%d", os.Getpid())))
	if err != nil {
		log.Fatalf("pipelinectl: failed to set up telemetry: %v", err)
	}
	defer cleanup(context.Background())

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("pipelinectl: %v", err)
	}
}

// initTelemetry installs an SDK tracer provider and meter provider that
// export to JSON files under logDir, so a run leaves a trace/metric
// record behind even with no collector configured. It returns a cleanup
// closure that flushes and shuts both down.
func initTelemetry(logDir string) (func(context.Context), error) {
	ctx := context.Background()
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("pipelinectl: creating %s: %w", logDir, err)
	}

	traceFile, err := os.Create(filepath.Join(logDir, "traces.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("pipelinectl: opening trace file: %w", err)
	}
	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(traceFile))
	if err != nil {
		return nil, fmt.Errorf("pipelinectl: creating trace exporter: %w", err)
	}

	metricFile, err := os.Create(filepath.Join(logDir, "metrics.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("pipelinectl: opening metrics file: %w", err)
	}
	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(metricFile))
	if err != nil {
		return nil, fmt.Errorf("pipelinectl: creating metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("pipelinectl")))
	if err != nil {
		return nil, fmt.Errorf("pipelinectl: building telemetry resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp),
	)
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	reader := sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(15*time.Second))
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			slog.Error("pipelinectl: failed to shut down trace provider", "error", err)
		}
		if err := meterProvider.Shutdown(ctx); err != nil {
			slog.Error("pipelinectl: failed to shut down meter provider", "error", err)
		}
		traceFile.Close()
		metricFile.Close()
	}, nil
}
