// Package telemetry wires OpenTelemetry tracing and metrics for notifysync
// processes. When disabled the global no-op providers are left in place, so
// instrumented packages such as transport and the API middleware cost nothing.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// DefaultExportInterval is how often metrics are pushed to the collector.
const DefaultExportInterval = 15 * time.Second

// ErrServiceNameRequired is returned by Init for an enabled config without a service name.
var ErrServiceNameRequired = errors.New("telemetry: service name is required")

// Config holds configuration for telemetry setup.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string

	// OTLPEndpoint is a host:port gRPC collector address, dialled without TLS.
	OTLPEndpoint string

	// SampleRatio is the fraction of root spans kept. Zero keeps every span.
	SampleRatio float64

	// ExportInterval overrides DefaultExportInterval.
	ExportInterval time.Duration
}

// Provider exposes the tracer and meter for the process.
type Provider struct {
	Tracer trace.Tracer
	Meter  metric.Meter

	shutdown []func(context.Context) error
}

// Enabled reports whether spans and metrics are exported.
func (p *Provider) Enabled() bool {
	return len(p.shutdown) > 0
}

// Shutdown flushes and stops the exporters in reverse start order. Every
// exporter is attempted even if one fails.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(p.shutdown) - 1; i >= 0; i-- {
		errs = append(errs, p.shutdown[i](ctx))
	}
	return errors.Join(errs...)
}

// Init installs global OTLP tracer and meter providers plus W3C propagation.
// A disabled config returns a provider backed by the current globals.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{
			Tracer: otel.Tracer(cfg.ServiceName),
			Meter:  otel.Meter(cfg.ServiceName),
		}, nil
	}
	if cfg.ServiceName == "" {
		return nil, ErrServiceNameRequired
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	spans, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("telemetry: trace exporter: %w", err)
	}
	metrics, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure())
	if err != nil {
		_ = spans.Shutdown(ctx) //nolint:errcheck // already failing
		return nil, fmt.Errorf("telemetry: metric exporter: %w", err)
	}

	interval := cfg.ExportInterval
	if interval <= 0 {
		interval = DefaultExportInterval
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(spans),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metrics, sdkmetric.WithInterval(interval))),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{
		Tracer:   tp.Tracer(cfg.ServiceName),
		Meter:    mp.Meter(cfg.ServiceName),
		shutdown: []func(context.Context) error{tp.Shutdown, mp.Shutdown},
	}, nil
}

// sampler honours the parent decision and samples new traces by ratio.
func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}
