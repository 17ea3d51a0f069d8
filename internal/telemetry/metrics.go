// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// MeterName scopes every lochat instrument.
const MeterName = "github.com/jeranaias/lochat"

// =============================================================================
// RECORDER
// =============================================================================

// Recorder turns pipeline measurements into OpenTelemetry instruments.
// It satisfies generate.Metrics.
type Recorder struct {
	generations metric.Int64Counter
	fragments   metric.Int64Counter
	latency     metric.Float64Histogram
}

// NewRecorder creates the instruments on meter.
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	generations, err := meter.Int64Counter("lochat.generations",
		metric.WithDescription("Finished generations by outcome"))
	if err != nil {
		return nil, err
	}
	fragments, err := meter.Int64Counter("lochat.fragments",
		metric.WithDescription("Streamed text fragments"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("lochat.generation.latency",
		metric.WithDescription("Time from start to terminal state"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &Recorder{generations: generations, fragments: fragments, latency: latency}, nil
}

// NopRecorder returns a recorder backed by no-op instruments.
func NopRecorder() *Recorder {
	r, _ := NewRecorder(noop.NewMeterProvider().Meter(MeterName))
	return r
}

// GenerationFinished records one terminal generation.
func (r *Recorder) GenerationFinished(ctx context.Context, outcome string, latency time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	r.generations.Add(ctx, 1, attrs)
	r.latency.Record(ctx, latency.Seconds(), attrs)
}

// FragmentEmitted records one delivered fragment.
func (r *Recorder) FragmentEmitted(ctx context.Context) {
	r.fragments.Add(ctx, 1)
}

// =============================================================================
// EXPORT SETUP
// =============================================================================

// MetricsConfig configures the periodic metrics export.
type MetricsConfig struct {
	Enabled  bool
	Path     string
	Interval time.Duration
	Version  string
}

// SetupMetrics builds a recorder. When disabled it is a no-op recorder and
// shutdown does nothing. Otherwise metrics are exported as JSON to a
// rotating file every Interval and once more at shutdown.
func SetupMetrics(ctx context.Context, cfg MetricsConfig) (*Recorder, func(context.Context) error, error) {
	if !cfg.Enabled {
		return NopRecorder(), func(context.Context) error { return nil }, nil
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("lochat"),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
		return nil, nil, fmt.Errorf("failed to create metrics directory: %w", err)
	}
	file := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}

	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(file))
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.Interval))),
		sdkmetric.WithResource(res),
	)

	rec, err := NewRecorder(mp.Meter(MeterName))
	if err != nil {
		file.Close()
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(mp.Shutdown(ctx), file.Close())
	}
	return rec, shutdown, nil
}
