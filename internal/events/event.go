// Package events publishes auth lifecycle events. Emission is best-effort: failures are logged
// and never change the outcome of the operation that produced the event.
package events

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Type names an auth lifecycle event.
type Type string

const (
	OTPIssued       Type = "otp_issued"
	OTPVerified     Type = "otp_verified"
	OTPVerifyFailed Type = "otp_verify_failed"
	TokensIssued    Type = "tokens_issued"
	TokensRefreshed Type = "tokens_refreshed"
	TokensRevoked   Type = "tokens_revoked"
	PasswordReset   Type = "password_reset"
)

// Source is the value of AuthEvent.Source for events produced by this service.
const Source = "leadflow-auth"

// AuthEvent is the JSON payload written to the events topic. It never carries codes,
// tokens, passwords or unmasked destinations.
type AuthEvent struct {
	Type      Type      `json:"eventType"`
	UserID    string    `json:"userId,omitempty"`
	Purpose   string    `json:"purpose,omitempty"`
	Channel   string    `json:"channel,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"createdAt"`
}

// New returns an event of type t for userID stamped with the current time.
func New(t Type, userID string) *AuthEvent {
	return &AuthEvent{Type: t, UserID: userID, Source: Source, CreatedAt: time.Now().UTC()}
}

// Emitter publishes events.
type Emitter interface {
	Emit(ctx context.Context, event *AuthEvent) error
}

// emitTimeout bounds a single async emit.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait before closing emitters so in-flight async emits can finish.
const ShutdownDrainDuration = emitTimeout

// EmitAsync runs Emit in a goroutine so the caller is not blocked.
// emitter and event may be nil; EmitAsync then returns immediately.
// The goroutine uses a fresh context so request cancellation does not abort the emit.
func EmitAsync(emitter Emitter, logger *zap.Logger, event *AuthEvent) {
	if emitter == nil || event == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := emitter.Emit(ctx, event); err != nil {
			logger.Warn("event emit failed", zap.String("event_type", string(event.Type)), zap.Error(err))
		}
	}()
}

// Multi fans an event out to every emitter and joins their errors.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, event *AuthEvent) error {
	var errs []error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
