// Package telemetry wires tracing and the Prometheus metrics used by the
// server and workflow runner.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/researchflow/config"
)

// Telemetry holds the tracer provider so Shutdown can flush spans.
type Telemetry struct {
	tp *sdktrace.TracerProvider
}

// Setup initializes tracing. With telemetry disabled it returns the
// global no-op tracer.
func Setup(ctx context.Context, cfg config.TelemetryConfig, serviceName string) (*Telemetry, trace.Tracer, error) {
	if !cfg.Enabled {
		return &Telemetry{}, otel.Tracer(serviceName), nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			attribute.String("service.namespace", "researchflow"),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("resource init: %w", err)
	}

	endpoint := cfg.OTLPEndpoint
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("trace exporter init: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return &Telemetry{tp: tp}, tp.Tracer(serviceName), nil
}

// Shutdown flushes pending spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.tp == nil {
		return nil
	}
	return t.tp.Shutdown(ctx)
}

// Prometheus metrics shared across the process.
var (
	RunsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "researchflow_runs_started_total",
		Help: "Number of workflow runs started.",
	})
	RunsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "researchflow_runs_completed_total",
		Help: "Number of workflow runs finished, by outcome.",
	}, []string{"outcome"})
	RunsSuspended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "researchflow_runs_suspended_total",
		Help: "Number of runs suspended awaiting plan review.",
	})
	NodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "researchflow_node_duration_seconds",
		Help:    "Wall time spent per workflow node.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"node"})
	EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "researchflow_stream_events_total",
		Help: "Stream events emitted, by kind.",
	}, []string{"kind"})
	ReplaysPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "researchflow_replays_pruned_total",
		Help: "Replays removed by the retention janitor.",
	})

	CheckpointWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "researchflow_checkpoint_write_failures_total",
		Help: "Checkpoint writes swallowed by the best-effort wrapper.",
	})
)

// ObserveNode records one node execution.
func ObserveNode(node string, start time.Time) {
	NodeDuration.WithLabelValues(node).Observe(time.Since(start).Seconds())
}
