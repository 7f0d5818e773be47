package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
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

// sumWhere returns the value of the data point whose attribute key equals value.
func sumWhere(t *testing.T, met *metricdata.Metrics, key, value string) (int64, bool) {
	t.Helper()
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", met.Name)
	}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value, true
			}
		}
	}
	return 0, false
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
		{"dizai.generation.duration", m.GenerationDuration},
		{"dizai.stt.duration", m.STTDuration},
		{"dizai.llm.duration", m.LLMDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestRecordGeneration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordGeneration(ctx, "ok", 3*time.Second)
	m.RecordGeneration(ctx, "ok", 5*time.Second)
	m.RecordGeneration(ctx, "timeout", 2*time.Minute)

	rm := collect(t, reader)
	met := findMetric(rm, "dizai.generations")
	if met == nil {
		t.Fatal("metric not found")
	}
	if v, ok := sumWhere(t, met, "outcome", "ok"); !ok || v != 2 {
		t.Errorf("outcome=ok = %d (found %v), want 2", v, ok)
	}
	if v, ok := sumWhere(t, met, "outcome", "timeout"); !ok || v != 1 {
		t.Errorf("outcome=timeout = %d (found %v), want 1", v, ok)
	}

	if findMetric(rm, "dizai.generation.duration") == nil {
		t.Error("generation duration histogram not recorded")
	}
}

func TestCounterIncrement(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	attrs := metric.WithAttributes(
		attribute.String("provider", "openai"),
		attribute.String("kind", "llm"),
		attribute.String("status", "ok"),
	)
	m.ProviderRequests.Add(ctx, 1, attrs)
	m.ProviderRequests.Add(ctx, 1, attrs)
	m.RecordProviderRequest(ctx, "openai", "llm", "error")

	rm := collect(t, reader)
	met := findMetric(rm, "dizai.provider.requests")
	if met == nil {
		t.Fatal("metric not found")
	}
	if v, ok := sumWhere(t, met, "status", "ok"); !ok || v != 2 {
		t.Errorf("status=ok = %d (found %v), want 2", v, ok)
	}
}

func TestAnalysesAndFeedbackCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAnalysis(ctx, "perfect")
	m.RecordAnalysis(ctx, "tryagain")
	m.RecordAnalysis(ctx, "tryagain")
	m.RecordFeedbackAppend(ctx, "postgres", "ok")
	m.RecordProviderError(ctx, "whisper", "stt")
	m.FeedbackDropped.Add(ctx, 1)

	rm := collect(t, reader)

	tests := []struct {
		metric, key, value string
		want               int64
	}{
		{"dizai.analyses", "status", "tryagain", 2},
		{"dizai.analyses", "status", "perfect", 1},
		{"dizai.feedback.appends", "sink", "postgres", 1},
		{"dizai.provider.errors", "provider", "whisper", 1},
	}
	for _, tt := range tests {
		t.Run(tt.metric+"/"+tt.value, func(t *testing.T) {
			met := findMetric(rm, tt.metric)
			if met == nil {
				t.Fatalf("metric %q not found", tt.metric)
			}
			if v, ok := sumWhere(t, met, tt.key, tt.value); !ok || v != tt.want {
				t.Errorf("%s=%s = %d (found %v), want %d", tt.key, tt.value, v, ok, tt.want)
			}
		})
	}

	dropped := findMetric(rm, "dizai.feedback.dropped")
	if dropped == nil {
		t.Fatal("dropped metric not found")
	}
	if sum := dropped.Data.(metricdata.Sum[int64]); sum.DataPoints[0].Value != 1 {
		t.Errorf("dropped = %d, want 1", sum.DataPoints[0].Value)
	}
}

func TestActiveGenerationsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveGenerations.Add(ctx, 1)
	m.ActiveGenerations.Add(ctx, 1)
	m.ActiveGenerations.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "dizai.active_generations")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 1 {
		t.Errorf("gauge data points = %+v, want value 1", sum.DataPoints)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/api/exercise_set"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "dizai.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
