package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the counters for code issuance, verification outcomes and dispatch attempts.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	issued        metric.Int64Counter
	verifications metric.Int64Counter
	attempts      metric.Int64Counter
}

// NewMetrics creates the instruments on provider's "leadflow.auth" meter.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter("leadflow.auth")
	issued, err := meter.Int64Counter("otp.issued", metric.WithDescription("Codes issued"))
	if err != nil {
		return nil, err
	}
	verifications, err := meter.Int64Counter("otp.verifications", metric.WithDescription("Code verification attempts by outcome"))
	if err != nil {
		return nil, err
	}
	attempts, err := meter.Int64Counter("dispatch.attempts", metric.WithDescription("Delivery attempts by channel and result"))
	if err != nil {
		return nil, err
	}
	return &Metrics{issued: issued, verifications: verifications, attempts: attempts}, nil
}

func (m *Metrics) OTPIssued(ctx context.Context, purpose, channel string) {
	if m == nil {
		return
	}
	m.issued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("purpose", purpose),
		attribute.String("channel", channel),
	))
}

func (m *Metrics) OTPVerification(ctx context.Context, purpose, outcome string) {
	if m == nil {
		return
	}
	m.verifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("purpose", purpose),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) DispatchAttempt(ctx context.Context, channel, result string) {
	if m == nil {
		return
	}
	m.attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("result", result),
	))
}
