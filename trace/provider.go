package trace

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const serviceName = "k6browser"

// ErrInvalidURLScheme indicates that the exporter URL scheme is not http(s).
var ErrInvalidURLScheme = errors.New("invalid URL scheme")

// Provider is a TracerProvider that must be shut down to flush spans.
type Provider struct {
	trace.TracerProvider
	shutdown func(context.Context) error
}

// Shutdown flushes pending spans and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

// NewNoopProvider returns a provider that records nothing.
func NewNoopProvider() *Provider {
	return &Provider{TracerProvider: noop.NewTracerProvider()}
}

// NewOTLPProvider exports spans over OTLP/HTTP to endpoint, which is an
// http or https URL such as http://127.0.0.1:4318/v1/traces.
func NewOTLPProvider(ctx context.Context, endpoint string, headers map[string]string) (*Provider, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing trace endpoint %q: %w", endpoint, err)
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(u.Host),
		otlptracehttp.WithHeaders(headers),
	}
	if u.Path != "" {
		opts = append(opts, otlptracehttp.WithURLPath(u.Path))
	}
	switch u.Scheme {
	case "http":
		opts = append(opts, otlptracehttp.WithInsecure())
	case "https":
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidURLScheme, u.Scheme)
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}

	prov := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		)),
	)

	return &Provider{TracerProvider: prov, shutdown: prov.Shutdown}, nil
}
