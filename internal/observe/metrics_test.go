package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"hibiki.recognition.latency", m.RecognitionLatency},
		{"hibiki.generation.first_delta", m.GenerationFirstDelta},
		{"hibiki.synthesis.latency", m.SynthesisLatency},
		{"hibiki.turn.duration", m.TurnDuration},
	}
	for _, h := range histograms {
		h.h.Record(ctx, 0.42)
	}

	rm := collect(t, reader)
	for _, h := range histograms {
		found := findMetric(rm, h.name)
		if found == nil {
			t.Errorf("metric %q not found after recording", h.name)
			continue
		}
		hist, ok := found.Data.(metricdata.Histogram[float64])
		if !ok {
			t.Errorf("metric %q has unexpected data type %T", h.name, found.Data)
			continue
		}
		if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
			t.Errorf("metric %q has unexpected data points", h.name)
		}
	}
}

func TestRecordTurn(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, "completed", 2*time.Second)
	m.RecordTurn(ctx, "cancelled", time.Second)

	rm := collect(t, reader)
	found := findMetric(rm, "hibiki.turns")
	if found == nil {
		t.Fatal("hibiki.turns not found")
	}
	sum, ok := found.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", found.Data)
	}
	// One data point per outcome attribute.
	if len(sum.DataPoints) != 2 {
		t.Fatalf("expected 2 data points, got %d", len(sum.DataPoints))
	}
}

func TestRecordErrorAndRetry(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordError(ctx, "recognition", "connection")
	m.RecordRetry(ctx, "recognition")
	m.BargeIns.Add(ctx, 1)

	rm := collect(t, reader)
	for _, name := range []string{"hibiki.errors", "hibiki.retries", "hibiki.barge_ins"} {
		if findMetric(rm, name) == nil {
			t.Errorf("metric %q not found after recording", name)
		}
	}
}

func TestDefaultMetrics_Idempotent(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics must return the same instance")
	}
}
