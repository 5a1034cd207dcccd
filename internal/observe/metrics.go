// Package observe provides observability primitives for the hibiki
// pipeline: OpenTelemetry metrics with a Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all hibiki metrics.
const meterName = "github.com/hibiki-ai/hibiki"

// Metrics holds all OpenTelemetry metric instruments for the pipeline.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// RecognitionLatency tracks time from end of user speech (final
	// transcript request) to the final transcript.
	RecognitionLatency metric.Float64Histogram

	// GenerationFirstDelta tracks time from final transcript to the first
	// reply delta.
	GenerationFirstDelta metric.Float64Histogram

	// SynthesisLatency tracks per-chunk synthesis time, request to last
	// frame.
	SynthesisLatency metric.Float64Histogram

	// TurnDuration tracks full turn time, listening start to idle.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts completed turns. Use with attribute:
	//   attribute.String("outcome", "completed"|"cancelled"|"failed")
	Turns metric.Int64Counter

	// BargeIns counts user interruptions during playback.
	BargeIns metric.Int64Counter

	// Retries counts reconnect attempts by backend.
	Retries metric.Int64Counter

	// Errors counts pipeline errors by backend and class.
	Errors metric.Int64Counter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.RecognitionLatency, err = m.Float64Histogram("hibiki.recognition.latency",
		metric.WithDescription("Latency from end of user speech to the final transcript."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GenerationFirstDelta, err = m.Float64Histogram("hibiki.generation.first_delta",
		metric.WithDescription("Latency from final transcript to the first reply delta."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisLatency, err = m.Float64Histogram("hibiki.synthesis.latency",
		metric.WithDescription("Per-chunk synthesis latency, request to last frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("hibiki.turn.duration",
		metric.WithDescription("Full turn duration, listening start to idle."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Turns, err = m.Int64Counter("hibiki.turns",
		metric.WithDescription("Completed turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("hibiki.barge_ins",
		metric.WithDescription("User interruptions during playback."),
	); err != nil {
		return nil, err
	}
	if met.Retries, err = m.Int64Counter("hibiki.retries",
		metric.WithDescription("Reconnect attempts by backend."),
	); err != nil {
		return nil, err
	}
	if met.Errors, err = m.Int64Counter("hibiki.errors",
		metric.WithDescription("Pipeline errors by backend and class."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordTurn records a completed turn with its outcome and duration.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string, d time.Duration) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.TurnDuration.Record(ctx, d.Seconds())
}

// RecordRetry records one reconnect attempt against a backend.
func (m *Metrics) RecordRetry(ctx context.Context, backend string) {
	m.Retries.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
}

// RecordError records one classified pipeline error.
func (m *Metrics) RecordError(ctx context.Context, backend, class string) {
	m.Errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("class", class),
	))
}
