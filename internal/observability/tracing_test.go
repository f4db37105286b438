package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestNewTracerProviderDisabled(t *testing.T) {
	var buf bytes.Buffer
	tp, err := NewTracerProvider(TracingConfig{Enabled: false}, &buf)
	if err != nil {
		t.Fatalf("NewTracerProvider() error = %v", err)
	}

	_, span := tp.Tracer().Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Error("disabled provider produced a recording span")
	}
	span.End()

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("disabled provider wrote output: %q", buf.String())
	}
}

func TestNewTracerProviderNoneExporter(t *testing.T) {
	tp, err := NewTracerProvider(TracingConfig{Enabled: true, Exporter: "none"}, nil)
	if err != nil {
		t.Fatalf("NewTracerProvider() error = %v", err)
	}
	_, span := tp.Tracer().Start(context.Background(), "noop")
	defer span.End()
	if span.IsRecording() {
		t.Error("none exporter should not record")
	}
}

func TestNewTracerProviderStdout(t *testing.T) {
	var buf bytes.Buffer
	tp, err := NewTracerProvider(TracingConfig{Enabled: true, Exporter: "stdout", ServiceName: "starcat-test"}, &buf)
	if err != nil {
		t.Fatalf("NewTracerProvider() error = %v", err)
	}

	_, span := tp.Tracer().Start(context.Background(), "retrieval.rows")
	span.End()

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "retrieval.rows") {
		t.Errorf("exported spans missing span name: %q", out)
	}
	if !strings.Contains(out, "starcat-test") {
		t.Errorf("exported spans missing service name: %q", out)
	}
}

func TestNewTracerProviderUnknownExporter(t *testing.T) {
	if _, err := NewTracerProvider(TracingConfig{Enabled: true, Exporter: "zipkin"}, nil); err == nil {
		t.Fatal("expected error for unsupported exporter")
	}
}
