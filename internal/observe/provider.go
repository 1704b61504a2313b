package observe

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig selects where telemetry goes.
type ProviderConfig struct {
	ServiceName    string // "earshot" when empty
	ServiceVersion string

	// Registerer receives the Prometheus collectors. nil means
	// prometheus.DefaultRegisterer, which is what /metrics serves.
	Registerer prometheus.Registerer

	// SampleRatio is the fraction of root spans sampled. Child spans follow
	// their parent. Values outside [0, 1] are clamped.
	SampleRatio float64

	// SpanExporter receives finished spans. Without one spans are sampled
	// and correlated into logs but never leave the process.
	SpanExporter sdktrace.SpanExporter
}

// Telemetry owns the SDK providers installed by [InitProvider].
type Telemetry struct {
	Meters *sdkmetric.MeterProvider
	Traces *sdktrace.TracerProvider
}

// Shutdown flushes and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.Traces.Shutdown(ctx), t.Meters.Shutdown(ctx))
}

// InitProvider installs global meter and tracer providers. Metrics are
// bridged to Prometheus; spans go to cfg.SpanExporter when set.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Telemetry, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "earshot"
	}
	// Schemaless so the merge keeps the SDK default schema URL.
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(name),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, err
	}

	var promOpts []promexporter.Option
	if cfg.Registerer != nil {
		promOpts = append(promOpts, promexporter.WithRegisterer(cfg.Registerer))
	}
	exp, err := promexporter.New(promOpts...)
	if err != nil {
		return nil, err
	}

	ratio := min(max(cfg.SampleRatio, 0), 1)
	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	}
	if cfg.SpanExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.SpanExporter))
	}

	t := &Telemetry{
		Meters: sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exp)),
		Traces: sdktrace.NewTracerProvider(tpOpts...),
	}
	otel.SetMeterProvider(t.Meters)
	otel.SetTracerProvider(t.Traces)
	return t, nil
}
