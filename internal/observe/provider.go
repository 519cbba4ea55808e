package observe

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig selects how the player and the relay export telemetry.
type ProviderConfig struct {
	// ServiceName defaults to "streamplay". The relay reports "streamrelay".
	ServiceName    string
	ServiceVersion string

	// TraceExporter receives stream spans in batches. Nil keeps spans in
	// process only, which is enough for correlation IDs in logs.
	TraceExporter sdktrace.SpanExporter

	// Registerer is where the /metrics collector lives. Nil means
	// [prometheus.DefaultRegisterer].
	Registerer prometheus.Registerer
}

// Shutdown flushes and stops the providers installed by [InitProvider].
type Shutdown func(context.Context) error

// InitProvider installs global meter and tracer providers for one process
// and the W3C trace-context propagator used between player and relay.
// Metrics are exposed through a Prometheus collector on cfg.Registerer.
func InitProvider(ctx context.Context, cfg ProviderConfig) (Shutdown, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "streamplay"
	}
	res, err := serviceResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	mp, err := prometheusMeters(res, cfg.Registerer)
	if err != nil {
		return nil, err
	}
	tp := streamTracer(res, cfg.TraceExporter)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	// Tracer first so spans ending during shutdown still reach the exporter.
	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func serviceResource(ctx context.Context, cfg ProviderConfig) (*resource.Resource, error) {
	// Schemaless so it merges with the SDK default whatever semconv version
	// that one carries.
	own, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}
	return resource.Merge(resource.Default(), own)
}

func prometheusMeters(res *resource.Resource, reg prometheus.Registerer) (*sdkmetric.MeterProvider, error) {
	var opts []promexporter.Option
	if reg != nil {
		opts = append(opts, promexporter.WithRegisterer(reg))
	}
	exp, err := promexporter.New(opts...)
	if err != nil {
		return nil, err
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exp),
	), nil
}

func streamTracer(res *resource.Resource, exp sdktrace.SpanExporter) *sdktrace.TracerProvider {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if exp != nil {
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	return sdktrace.NewTracerProvider(opts...)
}
