package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerName is the instrumentation scope used for starcat spans.
const TracerName = "github.com/nvandessel/starcat"

// TracingConfig governs how tracing is initialised.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string // stdout | none
}

// Provider is a tracer provider plus the function that flushes it.
type Provider struct {
	trace.TracerProvider
	shutdown func(context.Context) error
}

// Tracer returns the starcat tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.TracerProvider.Tracer(TracerName)
}

// Shutdown flushes pending spans with a bounded timeout.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.shutdown == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.shutdown(ctx)
}

// NewTracerProvider builds a provider from cfg. Spans are pretty-printed to w
// (stderr when nil) for the stdout exporter; disabled tracing or the "none"
// exporter yields a no-op provider.
func NewTracerProvider(cfg TracingConfig, w io.Writer) (*Provider, error) {
	exporter := strings.ToLower(cfg.Exporter)
	if !cfg.Enabled || exporter == "none" {
		return &Provider{TracerProvider: noop.NewTracerProvider()}, nil
	}
	if w == nil {
		w = os.Stderr
	}

	var exp sdktrace.SpanExporter
	switch exporter {
	case "stdout", "":
		var err error
		exp, err = stdouttrace.New(
			stdouttrace.WithWriter(w),
			stdouttrace.WithPrettyPrint(),
			stdouttrace.WithoutTimestamps(),
		)
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported tracing exporter: %s", cfg.Exporter)
	}

	service := cfg.ServiceName
	if service == "" {
		service = "starcat"
	}
	res := resource.NewSchemaless(attribute.String("service.name", service))

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exp),
		sdktrace.WithResource(res),
	)
	return &Provider{TracerProvider: tp, shutdown: tp.Shutdown}, nil
}
