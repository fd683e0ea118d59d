package repository

import (
	"context"
	"errors"
	"time"

	"leadflow/backend/internal/user/domain"
)

// ErrNotFound is returned by MarkVerified and UpdatePassword when no user has the id.
var ErrNotFound = errors.New("user not found")

// Repository defines persistence for users. Getters return nil, nil for missing users.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	// SetRefreshToken replaces the stored refresh token hash and expiry. Last write wins.
	SetRefreshToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	// ClearRefreshToken removes the stored refresh token.
	ClearRefreshToken(ctx context.Context, userID string) error
	// MarkVerified sets the verified flag. Idempotent for existing users.
	MarkVerified(ctx context.Context, userID string) error
	// UpdatePassword replaces the password hash.
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}
