package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestNewProviders_EmptyEndpoint(t *testing.T) {
	ctx := context.Background()
	for _, endpoint := range []string{"", "   "} {
		providers, err := NewProviders(ctx, Options{Endpoint: endpoint, ServiceName: "leadflow-auth"})
		if err != nil {
			t.Fatalf("NewProviders(%q): %v", endpoint, err)
		}
		if providers.TracerProvider == nil || providers.MeterProvider == nil || providers.LoggerProvider == nil {
			t.Fatal("providers should not be nil")
		}
		if err := providers.Shutdown(ctx); err != nil {
			t.Errorf("shutdown should be a no-op, got %v", err)
		}
	}
}

func TestNewProviders_InvalidEndpoint(t *testing.T) {
	for _, endpoint := range []string{"://invalid", "http://[invalid", "http://"} {
		if _, err := NewProviders(context.Background(), Options{Endpoint: endpoint}); err == nil {
			t.Errorf("NewProviders(%q) should return error", endpoint)
		}
	}
}

func TestGRPCTarget(t *testing.T) {
	cases := []struct {
		endpoint string
		target   string
		tls      bool
	}{
		{"localhost:4317", "localhost:4317", false},
		{"http://collector:4317/v1/traces", "collector:4317", false},
		{"https://collector:4317", "collector:4317", true},
	}
	for _, c := range cases {
		target, tls, err := grpcTarget(c.endpoint)
		if err != nil {
			t.Fatalf("grpcTarget(%q): %v", c.endpoint, err)
		}
		if target != c.target || tls != c.tls {
			t.Errorf("grpcTarget(%q) = %q, %v; want %q, %v", c.endpoint, target, tls, c.target, c.tls)
		}
	}
}

func TestSetGlobal(t *testing.T) {
	providers, err := NewProviders(context.Background(), Options{ServiceName: "leadflow-auth"})
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	providers.SetGlobal()
	if otel.GetTracerProvider() != providers.TracerProvider {
		t.Error("global tracer provider not set")
	}
	if otel.GetMeterProvider() != providers.MeterProvider {
		t.Error("global meter provider not set")
	}
	(&Providers{}).SetGlobal()
}
