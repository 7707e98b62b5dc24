// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics with a Prometheus exporter bridge ([InitProvider])
// and a package-level default [Metrics] instance ([DefaultMetrics]).
// The instrument set is specific to the streaming transcription domain
// (pass latency, live sessions, two-stroke stability, advance lag).
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/t184256/transcriber-go"

// Metrics holds all OpenTelemetry metric instruments for the server. All
// fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// PassDuration tracks one transcription pass's wall-clock latency,
	// tagged by pass kind ("main" or "two_stroke").
	PassDuration metric.Float64Histogram

	// ActiveSessions tracks the number of currently connected sessions.
	ActiveSessions metric.Int64UpDownCounter

	// TwoStrokeOutcomes counts two-stroke reconciliations by outcome
	// ("exact_match" or "mismatch").
	TwoStrokeOutcomes metric.Int64Counter

	// SessionErrors counts fatal session terminations by kind (mirroring
	// session.Kind: protocol_violation, auth_failure, audio_format_error,
	// advance_out_of_range, engine_failure; cmd/transcriber records
	// "terminated" for any other error that ends a session).
	SessionErrors metric.Int64Counter

	// AdvanceLagCS tracks, at each Advance, how far behind the current
	// buffer end the new advance_cs landed (centiseconds).
	AdvanceLagCS metric.Int64Histogram
}

// latencyBuckets defines histogram bucket boundaries in seconds, sized for
// sub-second-to-several-second inference passes rather than network RPCs.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.PassDuration, err = m.Float64Histogram("transcriber.pass.duration",
		metric.WithDescription("Latency of one transcription pass."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("transcriber.active_sessions",
		metric.WithDescription("Number of currently connected sessions."),
	); err != nil {
		return nil, err
	}

	if met.TwoStrokeOutcomes, err = m.Int64Counter("transcriber.two_stroke.outcomes",
		metric.WithDescription("Two-stroke reconciliation outcomes by match status."),
	); err != nil {
		return nil, err
	}

	if met.SessionErrors, err = m.Int64Counter("transcriber.session.errors",
		metric.WithDescription("Fatal session terminations by error kind."),
	); err != nil {
		return nil, err
	}

	if met.AdvanceLagCS, err = m.Int64Histogram("transcriber.advance.lag_cs",
		metric.WithDescription("Centiseconds between an Advance's timestamp and the buffer end at the time it was applied."),
		metric.WithUnit("cs"),
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

// RecordPass records one pass's duration tagged by kind ("main" or
// "two_stroke").
func (m *Metrics) RecordPass(ctx context.Context, kind string, seconds float64) {
	m.PassDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordTwoStrokeOutcome records one reconciliation's exact-match status.
func (m *Metrics) RecordTwoStrokeOutcome(ctx context.Context, exactMatch bool) {
	status := "mismatch"
	if exactMatch {
		status = "exact_match"
	}
	m.TwoStrokeOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordSessionError records one fatal session termination by kind.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordAdvanceLag records the centisecond gap between an Advance's
// timestamp and the buffer end at the time it was applied.
func (m *Metrics) RecordAdvanceLag(ctx context.Context, lagCS int64) {
	m.AdvanceLagCS.Record(ctx, lagCS)
}
