package tracing

import (
	"context"
	"slices"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "linkmeta-test"})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}

	fields := otel.GetTextMapPropagator().Fields()
	if !slices.Contains(fields, "traceparent") {
		t.Errorf("propagator fields = %v, want traceparent", fields)
	}
}

func TestNewProviderRecordsServiceName(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := NewProvider(Config{ServiceName: "linkmeta-test", SampleRatio: 1}, sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "scrape")
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	var service string
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	if service != "linkmeta-test" {
		t.Errorf("service.name = %q, want linkmeta-test", service)
	}
}

func TestNewProviderDefaults(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := NewProvider(Config{SampleRatio: 7}, sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("out-of-range ratio should sample everything, got %d spans", len(spans))
	}
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "service.name" && kv.Value.AsString() != "linkmeta" {
			t.Errorf("service.name = %q, want linkmeta", kv.Value.AsString())
		}
	}
}
