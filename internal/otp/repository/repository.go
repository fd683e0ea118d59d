package repository

import (
	"context"
	"time"

	"leadflow/backend/internal/otp/domain"
)

// Repository defines persistence for OTP records.
//
// Records for the same (user, purpose) may coexist. Latest orders by created_at
// descending, then id descending (ids are time-ordered UUIDv7), and returns the first.
// Anchor records (empty code hash) are never returned by Latest.
type Repository interface {
	Create(ctx context.Context, r *domain.Record) error
	// Latest returns the most recent code-bearing record for userID and purpose regardless of state, or nil if none.
	Latest(ctx context.Context, userID string, purpose domain.Purpose) (*domain.Record, error)
	// Claim marks the record used only if it is still unused. Returns false when it was already used.
	Claim(ctx context.Context, id string, at time.Time) (bool, error)
	// AttachResetToken stores a reset-verification token hash and its expiry on a used record.
	AttachResetToken(ctx context.Context, id, tokenHash string, expiresAt, purgeAt time.Time) error
	// GetByResetToken returns the forgot_password record of userID carrying tokenHash, or nil.
	GetByResetToken(ctx context.Context, userID, tokenHash string) (*domain.Record, error)
	// ExpireResetToken sets the reset token expiry to at, but only while the token is still live at at.
	// Returns false when the token was already expired or burned, or the record is gone.
	ExpireResetToken(ctx context.Context, id string, at time.Time) (bool, error)
	// DeleteExpired removes records whose purge time is before the given time.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
