package telemetry

import (
	"context"
	"testing"
)

func TestSetup_EmptyEndpointIsNoop(t *testing.T) {
	p, err := Setup(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if p.Enabled() {
		t.Fatal("expected tracing to be disabled without an endpoint")
	}

	_, span := p.Tracer.Start(context.Background(), "scan")
	if span.SpanContext().IsValid() {
		t.Error("noop span should not carry a valid span context")
	}
	span.End()

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestSetup_WithEndpoint(t *testing.T) {
	// The exporter connects lazily, so an unreachable endpoint is fine here.
	p, err := Setup(context.Background(), Config{Endpoint: "127.0.0.1:4318", Insecure: true, ServiceName: "secscan-test"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if !p.Enabled() {
		t.Fatal("expected tracing to be enabled")
	}

	_, span := p.Tracer.Start(context.Background(), "scan")
	if !span.SpanContext().IsValid() {
		t.Error("expected a sampled span")
	}
	span.End()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = p.Shutdown(ctx)
}
