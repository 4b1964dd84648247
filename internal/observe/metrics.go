// Package observe provides application-wide observability primitives for
// babelcall: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// bridges them to Prometheus so they can be scraped from /metrics (see
// [MetricsHandler]). A package-level [DefaultMetrics] instance is provided
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

// meterName is the instrumentation scope name used for all babelcall metrics.
const meterName = "github.com/MrWong99/babelcall"

// Status values used with the "status" attribute.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// The underlying OTel types handle their own synchronisation.
type Metrics struct {
	// --- Latency histograms per backend operation ---

	// TranslateDuration tracks translation latency.
	TranslateDuration metric.Float64Histogram

	// SynthesizeDuration tracks speech synthesis latency.
	SynthesizeDuration metric.Float64Histogram

	// ReplyDuration tracks simulated peer reply generation latency.
	ReplyDuration metric.Float64Histogram

	// TurnDuration tracks a whole conversation turn, from final transcript
	// to the reply audio being queued.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts backend calls. Attributes: provider, kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts backend failures. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// StepErrors counts swallowed pipeline step failures. Attribute: step.
	StepErrors metric.Int64Counter

	// PlaybackBuffers counts buffers that finished playing. Attribute: status.
	PlaybackBuffers metric.Int64Counter

	// PlaybackErrors counts buffers the output device failed to play.
	PlaybackErrors metric.Int64Counter

	// --- Gauges ---

	// QueueDepth reports the number of buffers waiting in the playback queue.
	QueueDepth metric.Int64Gauge

	// ActiveCalls tracks the number of live calls (zero or one).
	ActiveCalls metric.Int64UpDownCounter

	// WSClients tracks connected event-socket clients.
	WSClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for model
// and speech API round trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 13, 20,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	// Histograms.
	if met.TranslateDuration, err = histogram("babelcall.translate.duration",
		"Latency of text translation."); err != nil {
		return nil, err
	}
	if met.SynthesizeDuration, err = histogram("babelcall.synthesize.duration",
		"Latency of speech synthesis."); err != nil {
		return nil, err
	}
	if met.ReplyDuration, err = histogram("babelcall.reply.duration",
		"Latency of simulated peer reply generation."); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = histogram("babelcall.turn.duration",
		"Latency of a conversation turn until its reply audio is queued."); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("babelcall.provider.requests",
		metric.WithDescription("Total backend requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("babelcall.provider.errors",
		metric.WithDescription("Total backend errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.StepErrors, err = m.Int64Counter("babelcall.pipeline.step_errors",
		metric.WithDescription("Conversation pipeline steps that failed and were skipped."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackBuffers, err = m.Int64Counter("babelcall.playback.buffers",
		metric.WithDescription("Audio buffers that left the playback queue, by status."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackErrors, err = m.Int64Counter("babelcall.playback.errors",
		metric.WithDescription("Audio buffers the output device failed to play."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.QueueDepth, err = m.Int64Gauge("babelcall.playback.queue_depth",
		metric.WithDescription("Buffers waiting in the playback queue."),
	); err != nil {
		return nil, err
	}
	if met.ActiveCalls, err = m.Int64UpDownCounter("babelcall.active_calls",
		metric.WithDescription("Number of live calls."),
	); err != nil {
		return nil, err
	}
	if met.WSClients, err = m.Int64UpDownCounter("babelcall.ws.clients",
		metric.WithDescription("Connected event socket clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("babelcall.http.request.duration",
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
// the instruments bind to the Prometheus-backed provider.
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

// RecordProviderRequest records one backend call with the standard attribute
// set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records one backend failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordStepError records a skipped pipeline step.
func (m *Metrics) RecordStepError(ctx context.Context, step string) {
	m.StepErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step)))
}

// RecordPlayback records a buffer leaving the playback queue. A non-nil err
// also increments PlaybackErrors.
func (m *Metrics) RecordPlayback(ctx context.Context, err error) {
	status := StatusOK
	if err != nil {
		status = StatusError
		m.PlaybackErrors.Add(ctx, 1)
	}
	m.PlaybackBuffers.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordQueueDepth reports the current number of pending buffers.
func (m *Metrics) RecordQueueDepth(ctx context.Context, depth int) {
	m.QueueDepth.Record(ctx, int64(depth))
}
