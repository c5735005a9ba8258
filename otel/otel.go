// Package otel provides higher level APIs around Open Telemetry instrumentation.
package otel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName = "k6-compositor"
	tracerName  = "compositor"
)

// ErrUnsupportedProto indicates that the defined exporter protocol is not supported.
var ErrUnsupportedProto = errors.New("unsupported protocol")

// Config selects the trace exporter.
type Config struct {
	Enabled  bool    `mapstructure:"enabled" yaml:"enabled"`
	Proto    string  `mapstructure:"proto" yaml:"proto" validate:"omitempty,oneof=http HTTP"`
	Endpoint string  `mapstructure:"endpoint" yaml:"endpoint" validate:"required_if=Enabled true"`
	Insecure bool    `mapstructure:"insecure" yaml:"insecure"`
	Sampling float64 `mapstructure:"sampling" yaml:"sampling" validate:"gte=0,lte=1"`
}

// DefaultConfig exports every span over HTTP to a local collector, but is
// disabled.
func DefaultConfig() Config {
	return Config{
		Proto:    "http",
		Endpoint: "localhost:4318",
		Sampling: 1,
	}
}

// TraceProvider provides methods for tracers initialization and shutdown of the
// processing pipeline.
type TraceProvider interface {
	trace.TracerProvider
	Shutdown(ctx context.Context) error
}

type (
	traceProvShutdownFunc func(ctx context.Context) error
)

type traceProvider struct {
	trace.TracerProvider

	noop bool

	shutdown traceProvShutdownFunc
}

// New returns an exporting provider when cfg is enabled and a noop one
// otherwise. Either way it becomes the global provider.
func New(ctx context.Context, cfg Config, version string) (TraceProvider, error) {
	if !cfg.Enabled {
		return NewNoopTraceProvider(), nil
	}
	return NewTraceProvider(ctx, cfg, version)
}

// NewTraceProvider creates a new trace provider.
func NewTraceProvider(ctx context.Context, cfg Config, version string) (TraceProvider, error) {
	client, err := newClient(cfg.Proto, cfg.Endpoint, cfg.Insecure)
	if err != nil {
		return nil, fmt.Errorf("creating exporter client: %w", err)
	}

	exporter, err := otlptrace.New(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("creating exporter: %w", err)
	}

	prov := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(newResource(version)),
		sdktrace.WithSampler(newSampler(cfg.Sampling)),
	)

	otel.SetTracerProvider(prov)

	return &traceProvider{
		TracerProvider: prov,
		shutdown:       prov.Shutdown,
	}, nil
}

func newResource(version string) *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version),
	)
}

func newSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

func newClient(proto, endpoint string, insecure bool) (otlptrace.Client, error) {
	// TODO: Support gRPC once otlptracegrpc is a dependency.
	switch strings.ToLower(proto) {
	case "http", "":
		return newHTTPClient(endpoint, insecure), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedProto, proto)
	}
}

func newHTTPClient(endpoint string, insecure bool) otlptrace.Client {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(endpoint),
	}
	if insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return otlptracehttp.NewClient(opts...)
}

// NewNoopTraceProvider creates a new noop trace provider.
func NewNoopTraceProvider() TraceProvider {
	prov := trace.NewNoopTracerProvider()

	otel.SetTracerProvider(prov)

	return &traceProvider{
		TracerProvider: prov,
		noop:           true,
	}
}

// Shutdown shuts down TracerProvider releasing any held computational resources.
// After Shutdown is called, all methods are no-ops.
func (tp *traceProvider) Shutdown(ctx context.Context) error {
	if tp.noop {
		return nil
	}

	return tp.shutdown(ctx)
}

// Trace generates a trace span and a context containing the generated span
// from the global provider. If ctx already holds a span the new one is its
// child. Any Span that is created MUST also be ended.
func Trace(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName, opts...)
}
