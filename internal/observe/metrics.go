// Package observe provides application-wide observability primitives for
// aegis: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all aegis metrics.
const meterName = "github.com/aegisd/aegis"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranscriptionDuration tracks speech-to-text latency per utterance.
	TranscriptionDuration metric.Float64Histogram

	// ResponseDuration tracks conversational engine latency per turn.
	ResponseDuration metric.Float64Histogram

	// SynthesisDuration tracks text-to-speech synthesis latency.
	SynthesisDuration metric.Float64Histogram

	// VerificationDuration tracks per-frame face verification latency.
	VerificationDuration metric.Float64Histogram

	// --- Counters ---

	// Utterances counts closed utterances. Use with attribute:
	//   attribute.String("outcome", "transcribed"|"gated"|"failed")
	Utterances metric.Int64Counter

	// Commands counts command match decisions. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", "accepted"|"rejected")
	Commands metric.Int64Counter

	// DroppedFrames counts video frames discarded from the full queue.
	DroppedFrames metric.Int64Counter

	// CaptureLosses counts capture device losses. Use with attribute:
	//   attribute.String("source", ...)
	CaptureLosses metric.Int64Counter

	// ModeChanges counts guard mode transitions. Use with attribute:
	//   attribute.String("to", "active"|"idle")
	ModeChanges metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// GuardActive is 1 while the guard is armed, 0 while idle.
	GuardActive metric.Int64UpDownCounter

	// Verified is 1 while the verification state is Verified.
	Verified metric.Int64UpDownCounter

	// UIClients tracks the number of connected monitor clients.
	UIClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for the sensing pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscriptionDuration, err = m.Float64Histogram("aegis.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription per utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ResponseDuration, err = m.Float64Histogram("aegis.llm.duration",
		metric.WithDescription("Latency of conversational engine inference per turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("aegis.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.VerificationDuration, err = m.Float64Histogram("aegis.vision.frame.duration",
		metric.WithDescription("Latency of per-frame face detection and matching."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Utterances, err = m.Int64Counter("aegis.utterances",
		metric.WithDescription("Total closed utterances by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("aegis.commands",
		metric.WithDescription("Total command decisions by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("aegis.frames.dropped",
		metric.WithDescription("Total video frames dropped from the full verification queue."),
	); err != nil {
		return nil, err
	}
	if met.CaptureLosses, err = m.Int64Counter("aegis.capture.losses",
		metric.WithDescription("Total capture device losses by source."),
	); err != nil {
		return nil, err
	}
	if met.ModeChanges, err = m.Int64Counter("aegis.mode.changes",
		metric.WithDescription("Total guard mode transitions by target mode."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("aegis.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.GuardActive, err = m.Int64UpDownCounter("aegis.guard.active",
		metric.WithDescription("1 while guard mode is active."),
	); err != nil {
		return nil, err
	}
	if met.Verified, err = m.Int64UpDownCounter("aegis.verification.verified",
		metric.WithDescription("1 while the verification state is Verified."),
	); err != nil {
		return nil, err
	}
	if met.UIClients, err = m.Int64UpDownCounter("aegis.ui.clients",
		metric.WithDescription("Number of connected monitor clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("aegis.http.request.duration",
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordUtterance records one closed utterance with its processing outcome.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordCommand records one command decision.
func (m *Metrics) RecordCommand(ctx context.Context, kind, status string) {
	m.Commands.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordCaptureLoss records one capture device loss.
func (m *Metrics) RecordCaptureLoss(ctx context.Context, source string) {
	m.CaptureLosses.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordModeChange records a guard mode transition and keeps the GuardActive
// gauge in step with it.
func (m *Metrics) RecordModeChange(ctx context.Context, active bool) {
	to := "idle"
	delta := int64(-1)
	if active {
		to = "active"
		delta = 1
	}
	m.ModeChanges.Add(ctx, 1,
		metric.WithAttributes(attribute.String("to", to)),
	)
	m.GuardActive.Add(ctx, delta)
}

// RecordDroppedFrame records one video frame discarded from the full
// verification queue.
func (m *Metrics) RecordDroppedFrame(ctx context.Context) {
	m.DroppedFrames.Add(ctx, 1)
}

// RecordUIClients moves the connected monitor client gauge by delta.
func (m *Metrics) RecordUIClients(ctx context.Context, delta int64) {
	m.UIClients.Add(ctx, delta)
}

// RecordVerified keeps the Verified gauge in step with the debounced
// verification state. Call it once per state flip, not per frame.
func (m *Metrics) RecordVerified(ctx context.Context, verified bool) {
	delta := int64(-1)
	if verified {
		delta = 1
	}
	m.Verified.Add(ctx, delta)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
