// Package observe provides application-wide observability primitives for
// robotface: OpenTelemetry metrics, tracing, trace-aware logging and the HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// bridges them to a Prometheus exporter so they can be scraped from /metrics.
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all robotface metrics.
const meterName = "github.com/MrWong99/robotface"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// Detections counts detection events. Attributes: expression, outcome
	// (success, miss or unscored).
	Detections metric.Int64Counter

	// SynthesisDuration tracks tone synthesis latency.
	SynthesisDuration metric.Float64Histogram

	// PlaybackDuration tracks how long a sink took to play a cue. Attribute: sink.
	PlaybackDuration metric.Float64Histogram

	// PlaybackErrors counts failed cue playbacks. Attributes: sink, reason.
	PlaybackErrors metric.Int64Counter

	// PlaybackDropped counts cues evicted from a full playback queue.
	PlaybackDropped metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Attributes:
	// name, state.
	BreakerTransitions metric.Int64Counter

	// ActiveSessions tracks the number of live detection sessions.
	ActiveSessions metric.Int64UpDownCounter

	// EventSubscribers tracks the number of connected event stream clients.
	EventSubscribers metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, sized for sub-second
// synthesis and cue-length playback.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Detections, err = m.Int64Counter("robotface.detections",
		metric.WithDescription("Detection events by expression and outcome."),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("robotface.synthesis.duration",
		metric.WithDescription("Latency of tone synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("robotface.playback.duration",
		metric.WithDescription("Time spent playing a cue by sink."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackErrors, err = m.Int64Counter("robotface.playback.errors",
		metric.WithDescription("Failed cue playbacks by sink and reason."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDropped, err = m.Int64Counter("robotface.playback.dropped",
		metric.WithDescription("Cues dropped because the playback queue was full."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("robotface.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker name and new state."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("robotface.active_sessions",
		metric.WithDescription("Number of live detection sessions."),
	); err != nil {
		return nil, err
	}
	if met.EventSubscribers, err = m.Int64UpDownCounter("robotface.event_subscribers",
		metric.WithDescription("Number of connected event stream clients."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("robotface.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordDetection increments the detection counter.
func (m *Metrics) RecordDetection(ctx context.Context, expression, outcome string) {
	m.Detections.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("expression", expression),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordPlayback records a successful playback on sink.
func (m *Metrics) RecordPlayback(ctx context.Context, sink string, seconds float64) {
	m.PlaybackDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("sink", sink)),
	)
}

// RecordPlaybackError increments the playback error counter.
func (m *Metrics) RecordPlaybackError(ctx context.Context, sink, reason string) {
	m.PlaybackErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("sink", sink),
			attribute.String("reason", reason),
		),
	)
}

// RecordBreakerTransition increments the breaker transition counter.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("name", name),
			attribute.String("state", state),
		),
	)
}
