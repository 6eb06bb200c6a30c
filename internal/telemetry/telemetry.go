// Package telemetry provides OpenTelemetry instrumentation for Vahti.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/yairfalse/vahti/internal/config"
)

// Provider wraps OTEL tracer and meter providers.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	readers        []sdkmetric.Reader

	// Metrics
	normalizeDuration  metric.Float64Histogram
	findingsNormalized metric.Int64Counter
	unmappedValues     metric.Int64Counter
	filterInput        metric.Int64Counter
	filterMatched      metric.Int64Counter
}

// Option configures a Provider.
type Option func(*Provider)

// WithReader adds a metric reader, such as a Prometheus exporter.
func WithReader(r sdkmetric.Reader) Option {
	return func(p *Provider) { p.readers = append(p.readers, r) }
}

// NewProvider creates a new telemetry provider.
func NewProvider(ctx context.Context, cfg config.OTELConfig, opts ...Option) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	p := &Provider{}
	for _, opt := range opts {
		opt(p)
	}

	if err := p.setupTracing(ctx, cfg, res); err != nil {
		return nil, err
	}

	if err := p.setupMetrics(ctx, cfg, res); err != nil {
		if p.tracerProvider != nil {
			_ = p.tracerProvider.Shutdown(ctx)
		}
		return nil, err
	}

	if err := p.initMetrics(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Provider) setupTracing(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) error {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}

	if cfg.Traces.Enabled && cfg.Endpoint != "" {
		exp, err := createTraceExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create trace exporter: %w", err)
		}
		sampler := sdktrace.TraceIDRatioBased(cfg.Traces.SampleRate)
		opts = append(opts, sdktrace.WithBatcher(exp), sdktrace.WithSampler(sampler))
	}

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p.tracerProvider)
	p.tracer = p.tracerProvider.Tracer("vahti")

	return nil
}

func (p *Provider) setupMetrics(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) error {
	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
	}

	if cfg.Metrics.Enabled && cfg.Endpoint != "" {
		exp, err := createMetricExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}
	for _, r := range p.readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	p.meterProvider = sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter("vahti")

	return nil
}

func createTraceExporter(ctx context.Context, cfg config.OTELConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithDialOption(
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		))
	}
	return otlptracegrpc.New(ctx, opts...)
}

func createMetricExporter(ctx context.Context, cfg config.OTELConfig) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithDialOption(
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		))
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

func (p *Provider) initMetrics() error {
	var err error

	p.normalizeDuration, err = p.meter.Float64Histogram(
		"vahti_normalize_duration_seconds",
		metric.WithDescription("Duration of report normalization"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create normalize_duration: %w", err)
	}

	p.findingsNormalized, err = p.meter.Int64Counter(
		"vahti_findings_normalized_total",
		metric.WithDescription("Total findings normalized"),
	)
	if err != nil {
		return fmt.Errorf("create findings_normalized: %w", err)
	}

	p.unmappedValues, err = p.meter.Int64Counter(
		"vahti_unmapped_values_total",
		metric.WithDescription("Total raw vocabulary values that matched nothing"),
	)
	if err != nil {
		return fmt.Errorf("create unmapped_values: %w", err)
	}

	p.filterInput, err = p.meter.Int64Counter(
		"vahti_filter_input_findings_total",
		metric.WithDescription("Total findings evaluated by filters"),
	)
	if err != nil {
		return fmt.Errorf("create filter_input: %w", err)
	}

	p.filterMatched, err = p.meter.Int64Counter(
		"vahti_filter_matched_findings_total",
		metric.WithDescription("Total findings that passed filters"),
	)
	if err != nil {
		return fmt.Errorf("create filter_matched: %w", err)
	}

	return nil
}

// Tracer returns the tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Meter returns the meter.
func (p *Provider) Meter() metric.Meter {
	return p.meter
}

// StartSpan starts a new span.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name)
}

// RecordNormalize records one normalized report.
func (p *Provider) RecordNormalize(ctx context.Context, tool, provider string, count int, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("provider", provider),
	)
	p.normalizeDuration.Record(ctx, d.Seconds(), attrs)
	p.findingsNormalized.Add(ctx, int64(count), attrs)
}

// Unmapped counts a vocabulary value the normalizer dropped. The value
// itself is left out of the attributes to bound cardinality.
func (p *Provider) Unmapped(field, _ string) {
	p.unmappedValues.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("field", field),
	))
}

// RecordFilter records how many findings a filter saw and kept.
func (p *Provider) RecordFilter(ctx context.Context, in, out int) {
	p.filterInput.Add(ctx, int64(in))
	p.filterMatched.Add(ctx, int64(out))
}

// Shutdown flushes and shuts down the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown tracer: %w", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown meter: %w", err)
		}
	}
	return nil
}
