// Package observe holds earshot's telemetry: OpenTelemetry instruments
// bridged to Prometheus, request tracing, and trace-correlated logging.
//
// Components take a *Metrics so tests can pass one built on a
// metric ManualReader. Production code falls back to [DefaultMetrics].
package observe

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds every instrument earshot records. Safe for concurrent use.
type Metrics struct {
	TranscriptionDuration metric.Float64Histogram // seconds per Transcribe call
	DeliveryDuration      metric.Float64Histogram // seconds per sink Deliver call
	UtteranceDuration     metric.Float64Histogram // seconds of audio per utterance
	HTTPRequestDuration   metric.Float64Histogram // method, path

	WakeDetections     metric.Int64Counter // keyword
	Utterances         metric.Int64Counter // reason: silence|max_duration
	Dispatches         metric.Int64Counter // outcome
	DroppedPayloads    metric.Int64Counter // reason: non_binary|empty|decode
	ProviderErrors     metric.Int64Counter // provider, kind
	CircuitTransitions metric.Int64Counter // breaker, to

	ActiveSessions metric.Int64UpDownCounter
}

var (
	latencyBuckets   = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	utteranceBuckets = []float64{0.5, 1, 1.5, 2, 3, 4, 5, 7.5, 10, 15}
)

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(scope)
	var errs []error
	seconds := func(name, desc string, buckets []float64) metric.Float64Histogram {
		opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
		if buckets != nil {
			opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
		}
		h, err := meter.Float64Histogram(name, opts...)
		errs = append(errs, err)
		return h
	}
	count := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}

	m := &Metrics{
		TranscriptionDuration: seconds("earshot.transcription.duration", "Latency of utterance transcription.", latencyBuckets),
		DeliveryDuration:      seconds("earshot.delivery.duration", "Latency of transcript delivery to the result sink.", latencyBuckets),
		UtteranceDuration:     seconds("earshot.utterance.duration", "Audio length of completed utterances.", utteranceBuckets),
		HTTPRequestDuration:   seconds("earshot.http.request.duration", "HTTP request latency by method and route.", nil),

		WakeDetections:     count("earshot.wake.detections", "Wake word detections by keyword index."),
		Utterances:         count("earshot.utterances", "Completed utterances by completion reason."),
		Dispatches:         count("earshot.dispatches", "Utterance dispatches by outcome."),
		DroppedPayloads:    count("earshot.payloads.dropped", "Inbound payloads skipped by reason."),
		ProviderErrors:     count("earshot.provider.errors", "Provider errors by provider and kind."),
		CircuitTransitions: count("earshot.circuit.transitions", "Circuit breaker state changes by breaker and target state."),
	}
	var err error
	m.ActiveSessions, err = meter.Int64UpDownCounter("earshot.active_sessions",
		metric.WithDescription("Connected audio clients."))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns instruments bound to the global meter provider,
// created on first use. Call [InitProvider] before the first call or the
// instruments record into the no-op provider.
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

// RecordWake records one wake word detection.
func (m *Metrics) RecordWake(ctx context.Context, keyword int) {
	m.WakeDetections.Add(ctx, 1, metric.WithAttributes(attribute.Int("keyword", keyword)))
}

// RecordUtterance records a completed recording and its audio length.
func (m *Metrics) RecordUtterance(ctx context.Context, reason string, seconds float64) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.UtteranceDuration.Record(ctx, seconds)
}

// RecordDispatch records the outcome of one dispatch.
func (m *Metrics) RecordDispatch(ctx context.Context, outcome string) {
	m.Dispatches.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordDroppedPayload records one skipped inbound payload.
func (m *Metrics) RecordDroppedPayload(ctx context.Context, reason string) {
	m.DroppedPayloads.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordProviderError counts one failure of provider while doing kind.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider), attribute.String("kind", kind)))
}

// RecordCircuitTransition records a breaker moving into state to.
func (m *Metrics) RecordCircuitTransition(ctx context.Context, breaker, to string) {
	m.CircuitTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", breaker), attribute.String("to", to)))
}
