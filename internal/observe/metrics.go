// Package observe carries the relay's observability plumbing: OpenTelemetry
// metrics with a Prometheus export path, request-id correlation for logs,
// and the HTTP middleware that applies both to every webhook.
//
// [Metrics] keeps its instruments unexported; recording goes through the
// domain verbs (CallStarted, ObserveTurn, ObserveSpeech, ...), which are
// safe on a nil receiver so call sites need no guards when metrics are
// switched off.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// scopeName is the instrumentation scope for every relay instrument.
const scopeName = "github.com/havenline/havenline"

// Turn latency runs from sub-second cache hits to double-digit seconds when
// a live search is in the loop, so the buckets stretch further right than
// usual HTTP buckets.
var turnBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30}

// Speech legs (one transcription or one synthesis) stay under a few seconds
// on healthy vendors.
var speechBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

// Metrics owns the relay's OTel instruments. Construct with [NewMetrics];
// a nil *Metrics is valid and records nothing.
type Metrics struct {
	meter metric.Meter

	requestDuration metric.Float64Histogram
	callsStarted    metric.Int64Counter
	turnDuration    metric.Float64Histogram
	speechDuration  metric.Float64Histogram
	activeStreams   metric.Int64UpDownCounter
}

// NewMetrics registers the relay's instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(scopeName)
	m := &Metrics{meter: meter}
	var err error

	if m.requestDuration, err = meter.Float64Histogram("havenline.http.request.duration",
		metric.WithDescription("Webhook request latency by method, route, and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.callsStarted, err = meter.Int64Counter("havenline.calls.started",
		metric.WithDescription("Voice calls greeted by the relay."),
	); err != nil {
		return nil, err
	}
	if m.turnDuration, err = meter.Float64Histogram("havenline.turn.duration",
		metric.WithDescription("One dialog turn, utterance in to reply out, by transport."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(turnBuckets...),
	); err != nil {
		return nil, err
	}
	if m.speechDuration, err = meter.Float64Histogram("havenline.speech.duration",
		metric.WithDescription("One speech-provider call by stage (stt or tts) and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(speechBuckets...),
	); err != nil {
		return nil, err
	}
	if m.activeStreams, err = meter.Int64UpDownCounter("havenline.media.streams.active",
		metric.WithDescription("Open media websockets."),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// CallStarted counts one greeted call.
func (m *Metrics) CallStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.callsStarted.Add(ctx, 1)
}

// ObserveTurn records one dialog turn. transport is "webhook" for
// gather-based turns and "stream" for media-stream turns.
func (m *Metrics) ObserveTurn(ctx context.Context, transport string, d time.Duration) {
	if m == nil {
		return
	}
	m.turnDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("transport", transport)))
}

// ObserveSpeech records one provider call on the speech path. stage is
// "stt" or "tts".
func (m *Metrics) ObserveSpeech(ctx context.Context, stage string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.speechDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("status", status),
		))
}

// StreamOpened marks a media websocket as live.
func (m *Metrics) StreamOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeStreams.Add(ctx, 1)
}

// StreamClosed marks a media websocket as gone. Pair with StreamOpened in
// the same function so the gauge cannot drift.
func (m *Metrics) StreamClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeStreams.Add(ctx, -1)
}

// TrackActiveCalls exports count as the havenline.calls.active gauge. The
// callback is read at collection time, so the gauge follows the session
// registry instead of trying to pair increments with hangup callbacks,
// which the provider retries and sometimes drops.
func (m *Metrics) TrackActiveCalls(count func() int64) error {
	if m == nil {
		return nil
	}
	gauge, err := m.meter.Int64ObservableGauge("havenline.calls.active",
		metric.WithDescription("Live call sessions."),
	)
	if err != nil {
		return err
	}
	_, err = m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, count())
		return nil
	}, gauge)
	return err
}
