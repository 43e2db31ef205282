package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// testMetrics builds a Metrics over a manual reader so tests can collect
// and inspect what was recorded.
func testMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
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

// read collects everything and returns the instrument with the given name.
func read(t *testing.T, reader *sdkmetric.ManualReader, name string) (metricdata.Metrics, bool) {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name == name {
				return met, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func attrString(set attribute.Set, key string) string {
	v, ok := set.Value(attribute.Key(key))
	if !ok {
		return ""
	}
	return v.AsString()
}

func TestCallStarted(t *testing.T) {
	m, reader := testMetrics(t)
	ctx := context.Background()

	m.CallStarted(ctx)
	m.CallStarted(ctx)

	met, ok := read(t, reader, "havenline.calls.started")
	if !ok {
		t.Fatal("havenline.calls.started not collected")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("data type = %T, want Sum[int64]", met.Data)
	}
	if got := sum.DataPoints[0].Value; got != 2 {
		t.Errorf("calls started = %d, want 2", got)
	}
}

func TestObserveTurn(t *testing.T) {
	m, reader := testMetrics(t)
	ctx := context.Background()

	m.ObserveTurn(ctx, "webhook", 800*time.Millisecond)
	m.ObserveTurn(ctx, "stream", 1200*time.Millisecond)
	m.ObserveTurn(ctx, "stream", 400*time.Millisecond)

	met, ok := read(t, reader, "havenline.turn.duration")
	if !ok {
		t.Fatal("havenline.turn.duration not collected")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("data type = %T, want Histogram[float64]", met.Data)
	}

	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		counts[attrString(dp.Attributes, "transport")] = dp.Count
	}
	if counts["webhook"] != 1 {
		t.Errorf("webhook turns = %d, want 1", counts["webhook"])
	}
	if counts["stream"] != 2 {
		t.Errorf("stream turns = %d, want 2", counts["stream"])
	}
}

func TestObserveSpeech(t *testing.T) {
	m, reader := testMetrics(t)
	ctx := context.Background()

	m.ObserveSpeech(ctx, "stt", 300*time.Millisecond, nil)
	m.ObserveSpeech(ctx, "tts", 600*time.Millisecond, context.DeadlineExceeded)

	met, ok := read(t, reader, "havenline.speech.duration")
	if !ok {
		t.Fatal("havenline.speech.duration not collected")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("data type = %T, want Histogram[float64]", met.Data)
	}

	status := map[string]string{}
	for _, dp := range hist.DataPoints {
		status[attrString(dp.Attributes, "stage")] = attrString(dp.Attributes, "status")
	}
	if status["stt"] != "ok" {
		t.Errorf("stt status = %q, want %q", status["stt"], "ok")
	}
	if status["tts"] != "error" {
		t.Errorf("tts status = %q, want %q", status["tts"], "error")
	}
}

func TestStreamGauge(t *testing.T) {
	m, reader := testMetrics(t)
	ctx := context.Background()

	m.StreamOpened(ctx)
	m.StreamOpened(ctx)
	m.StreamClosed(ctx)

	met, ok := read(t, reader, "havenline.media.streams.active")
	if !ok {
		t.Fatal("havenline.media.streams.active not collected")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("data type = %T, want Sum[int64]", met.Data)
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("active streams = %d, want 1", got)
	}
}

func TestTrackActiveCalls(t *testing.T) {
	m, reader := testMetrics(t)

	calls := int64(4)
	if err := m.TrackActiveCalls(func() int64 { return calls }); err != nil {
		t.Fatalf("TrackActiveCalls: %v", err)
	}

	met, ok := read(t, reader, "havenline.calls.active")
	if !ok {
		t.Fatal("havenline.calls.active not collected")
	}
	gauge, ok := met.Data.(metricdata.Gauge[int64])
	if !ok {
		t.Fatalf("data type = %T, want Gauge[int64]", met.Data)
	}
	if got := gauge.DataPoints[0].Value; got != 4 {
		t.Errorf("active calls = %d, want 4", got)
	}

	// The gauge follows the callback, not a stored value.
	calls = 1
	met, _ = read(t, reader, "havenline.calls.active")
	gauge = met.Data.(metricdata.Gauge[int64])
	if got := gauge.DataPoints[0].Value; got != 1 {
		t.Errorf("active calls after change = %d, want 1", got)
	}
}

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	m.CallStarted(ctx)
	m.ObserveTurn(ctx, "webhook", time.Second)
	m.ObserveSpeech(ctx, "stt", time.Second, nil)
	m.StreamOpened(ctx)
	m.StreamClosed(ctx)
	if err := m.TrackActiveCalls(func() int64 { return 0 }); err != nil {
		t.Errorf("TrackActiveCalls on nil = %v, want nil", err)
	}
}
