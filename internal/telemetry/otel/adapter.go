package otel

import (
	"context"
	"encoding/json"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"leadflow/backend/internal/events"
)

// logEmitter is the subset of otellog.Logger used by the event sink.
type logEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewEventEmitter returns an events.Emitter writing auth events as OTel log records.
// A nil provider yields a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) events.Emitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger("leadflow.auth")}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *events.AuthEvent) error { return nil }

type otelEmitter struct {
	logger logEmitter
}

// Emit maps the event to a log record: JSON body, one attribute per non-empty field.
func (e *otelEmitter) Emit(ctx context.Context, event *events.AuthEvent) error {
	if event == nil {
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	rec := otellog.Record{}
	ts := event.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetBody(otellog.StringValue(string(body)))
	rec.SetSeverity(otellog.SeverityInfo)
	for _, kv := range []struct{ k, v string }{
		{"event_type", string(event.Type)},
		{"user_id", event.UserID},
		{"purpose", event.Purpose},
		{"channel", event.Channel},
		{"outcome", event.Outcome},
		{"source", event.Source},
	} {
		if kv.v != "" {
			rec.AddAttributes(otellog.String(kv.k, kv.v))
		}
	}
	e.logger.Emit(ctx, rec)
	return nil
}
