// Package observe provides the observability primitives shared by the
// streamplay binaries: OpenTelemetry metrics, distributed tracing, trace-aware
// logging, HTTP middleware and a metrics-backed playback diagnostics sink.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. Tests should use [NewMetrics]
// with a custom [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/streamplay"

// Direction values for chunk counters.
const (
	DirectionReceived = "received"
	DirectionSent     = "sent"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Stream counters ---

	// Chunks counts audio chunks moved over the transport. Use with
	// attribute:
	//   attribute.String("direction", "received"|"sent")
	Chunks metric.Int64Counter

	// ChunkBytes counts encoded audio bytes moved over the transport. Same
	// attributes as Chunks.
	ChunkBytes metric.Int64Counter

	// Streams counts finished utterance streams. Use with attribute:
	//   attribute.String("status", "ok"|"error"|"cancelled")
	Streams metric.Int64Counter

	// --- Playback ---

	// PlaybackWarnings counts failures handled inside a playback session.
	// Use with attribute: attribute.String("kind", ...)
	PlaybackWarnings metric.Int64Counter

	// ActiveSessions tracks the number of live playback sessions or relay
	// streams.
	ActiveSessions metric.Int64UpDownCounter

	// SessionDuration tracks the time from session start to completion. Use
	// with attribute: attribute.String("mode", "streaming"|"accumulate")
	SessionDuration metric.Float64Histogram

	// FirstChunkLatency tracks the time from request to first chunk.
	FirstChunkLatency metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// first-chunk latency.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// sessionBuckets covers utterances from a short confirmation to a long
// paragraph.
var sessionBuckets = []float64{
	0.25, 0.5, 1, 2, 4, 8, 15, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.Chunks, err = m.Int64Counter("streamplay.chunks",
		metric.WithDescription("Audio chunks moved over the transport by direction."),
	); err != nil {
		return nil, err
	}
	if met.ChunkBytes, err = m.Int64Counter("streamplay.chunk.bytes",
		metric.WithDescription("Encoded audio bytes moved over the transport by direction."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.Streams, err = m.Int64Counter("streamplay.streams",
		metric.WithDescription("Finished utterance streams by status."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackWarnings, err = m.Int64Counter("streamplay.playback.warnings",
		metric.WithDescription("Failures handled inside playback sessions by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("streamplay.active_sessions",
		metric.WithDescription("Number of live playback sessions or relay streams."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.SessionDuration, err = m.Float64Histogram("streamplay.session.duration",
		metric.WithDescription("Time from session start to playback completion by mode."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FirstChunkLatency, err = m.Float64Histogram("streamplay.first_chunk.latency",
		metric.WithDescription("Time from utterance request to the first audio chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("streamplay.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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
// first call using [otel.GetMeterProvider]. Call it after [InitProvider] so
// the instruments bind to the Prometheus exporter.
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

// RecordChunk counts one chunk of n bytes in the given direction.
func (m *Metrics) RecordChunk(ctx context.Context, direction string, n int) {
	attrs := metric.WithAttributes(attribute.String("direction", direction))
	m.Chunks.Add(ctx, 1, attrs)
	m.ChunkBytes.Add(ctx, int64(n), attrs)
}

// RecordStream counts a finished stream with the given status.
func (m *Metrics) RecordStream(ctx context.Context, status string) {
	m.Streams.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordWarning counts a playback warning of the given kind.
func (m *Metrics) RecordWarning(ctx context.Context, kind string) {
	m.PlaybackWarnings.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordSession records the duration of a completed session.
func (m *Metrics) RecordSession(ctx context.Context, mode string, seconds float64) {
	m.SessionDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("mode", mode)))
}
