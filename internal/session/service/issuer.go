// Package service implements the token issuer: session token pairs with refresh-token rotation,
// and reset-verification tokens bound to a consumed forgot_password code.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"leadflow/backend/internal/logging"
	"leadflow/backend/internal/otp"
	otpdomain "leadflow/backend/internal/otp/domain"
	"leadflow/backend/internal/security"
	userdomain "leadflow/backend/internal/user/domain"
)

// ErrInvalidToken is returned for tokens that are malformed, badly signed or of the wrong kind.
var ErrInvalidToken = security.ErrInvalidToken

// UserStore is the part of the user repository the issuer needs.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	SetRefreshToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	ClearRefreshToken(ctx context.Context, userID string) error
}

// ResetStore binds reset-verification tokens to consumed forgot_password records.
type ResetStore interface {
	AttachResetToken(ctx context.Context, recordID, tokenHash string, expiresAt time.Time) error
	ResetRecord(ctx context.Context, userID, tokenHash string) (*otpdomain.Record, error)
	BurnResetToken(ctx context.Context, recordID string) (bool, error)
}

// TokenPair is an access token and the refresh token that replaced the user's previous one.
type TokenPair struct {
	UserID           string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// ResetGrant identifies the consumed record a reset-verification token was bound to.
type ResetGrant struct {
	UserID   string
	RecordID string
}

// Issuer mints and validates tokens. The current refresh token lives on the user record, hashed.
type Issuer struct {
	tokens *security.TokenProvider
	users  UserStore
	resets ResetStore
	logger *zap.Logger
	now    func() time.Time
}

// Option customizes an Issuer.
type Option func(*Issuer)

// WithClock overrides time.Now for the issuer and its token provider.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
		i.tokens.WithClock(now)
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(i *Issuer) { i.logger = logging.Component(l, "session") }
}

// NewIssuer returns an Issuer.
func NewIssuer(tokens *security.TokenProvider, users UserStore, resets ResetStore, opts ...Option) *Issuer {
	i := &Issuer{
		tokens: tokens,
		users:  users,
		resets: resets,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// IssueTokenPair signs an access and a refresh token for u and stores the refresh token,
// replacing any previous one. An empty role uses u.Role.
func (i *Issuer) IssueTokenPair(ctx context.Context, u *userdomain.User, role string) (*TokenPair, error) {
	if u == nil || u.ID == "" {
		return nil, fmt.Errorf("%w: user is required", otp.ErrValidation)
	}
	if role == "" {
		role = u.Role
	}
	access, accessExp, err := i.tokens.IssueAccess(u.ID, u.Email, role)
	if err != nil {
		return nil, fmt.Errorf("session: sign access token: %w", err)
	}
	refresh, refreshExp, err := i.tokens.IssueRefresh(u.ID)
	if err != nil {
		return nil, fmt.Errorf("session: sign refresh token: %w", err)
	}
	if err := i.users.SetRefreshToken(ctx, u.ID, security.HashToken(refresh), refreshExp); err != nil {
		return nil, fmt.Errorf("session: store refresh token: %w", err)
	}
	i.logger.Debug("token pair issued", zap.String("user_id", u.ID), zap.String("role", role))
	return &TokenPair{
		UserID:           u.ID,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// RefreshAccessToken exchanges the user's current refresh token for a new pair. The presented
// token must equal the stored one; a rotated token fails with otp.ErrMismatch before any expiry
// check. Both tokens are rotated.
func (i *Issuer) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	userID, sigErr := i.tokens.ValidateRefresh(refreshToken)
	if sigErr != nil && !errors.Is(sigErr, security.ErrExpiredToken) {
		return nil, ErrInvalidToken
	}
	u, err := i.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("session: load user: %w", err)
	}
	if u == nil || !u.HasRefreshToken() {
		return nil, fmt.Errorf("%w: no active session", otp.ErrNotFound)
	}
	if !security.TokenHashEqual(refreshToken, u.RefreshTokenHash) {
		return nil, fmt.Errorf("%w: refresh token superseded", otp.ErrMismatch)
	}
	if sigErr != nil || u.RefreshTokenExpiresAt == nil || !i.now().Before(*u.RefreshTokenExpiresAt) {
		return nil, fmt.Errorf("%w: refresh token", otp.ErrExpired)
	}
	return i.IssueTokenPair(ctx, u, "")
}

// ValidateAccessToken returns the claims of a valid access token.
func (i *Issuer) ValidateAccessToken(token string) (*security.AccessClaims, error) {
	claims, err := i.tokens.ValidateAccess(token)
	if errors.Is(err, security.ErrExpiredToken) {
		return nil, fmt.Errorf("%w: access token", otp.ErrExpired)
	}
	return claims, err
}

// Revoke clears the user's stored refresh token. Outstanding refresh tokens stop working.
func (i *Issuer) Revoke(ctx context.Context, userID string) error {
	if err := i.users.ClearRefreshToken(ctx, userID); err != nil {
		return fmt.Errorf("session: revoke: %w", err)
	}
	return nil
}

// MintResetVerificationToken signs a reset-verification token for userID and stores its hash
// and expiry on recordID, the forgot_password record that was just consumed.
func (i *Issuer) MintResetVerificationToken(ctx context.Context, userID, recordID string) (string, time.Time, error) {
	if recordID == "" {
		return "", time.Time{}, fmt.Errorf("%w: record id is required", otp.ErrValidation)
	}
	token, exp, err := i.tokens.IssueResetVerification(userID)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("session: sign reset token: %w", err)
	}
	if err := i.resets.AttachResetToken(ctx, recordID, security.HashToken(token), exp); err != nil {
		return "", time.Time{}, fmt.Errorf("session: bind reset token: %w", err)
	}
	return token, exp, nil
}

// ValidateResetVerificationToken checks the signature, that the token belongs to expectedUserID
// (when given), and that the record it was bound to still carries it with an unexpired reset window.
func (i *Issuer) ValidateResetVerificationToken(ctx context.Context, token, expectedUserID string) (*ResetGrant, error) {
	userID, err := i.tokens.ValidateResetVerification(token)
	if err != nil {
		if errors.Is(err, security.ErrExpiredToken) {
			return nil, fmt.Errorf("%w: reset token", otp.ErrExpired)
		}
		return nil, ErrInvalidToken
	}
	if expectedUserID != "" && userID != expectedUserID {
		return nil, ErrInvalidToken
	}
	rec, err := i.resets.ResetRecord(ctx, userID, security.HashToken(token))
	if err != nil {
		return nil, fmt.Errorf("session: load reset record: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: reset token not recognised", otp.ErrNotFound)
	}
	if !rec.ResetTokenLive(i.now()) {
		return nil, fmt.Errorf("%w: reset token", otp.ErrExpired)
	}
	return &ResetGrant{UserID: userID, RecordID: rec.ID}, nil
}

// BurnResetVerificationToken makes the token permanently unusable. Only one caller can burn
// a given token; the others get otp.ErrExpired.
func (i *Issuer) BurnResetVerificationToken(ctx context.Context, grant *ResetGrant) error {
	burned, err := i.resets.BurnResetToken(ctx, grant.RecordID)
	if err != nil {
		return fmt.Errorf("session: burn reset token: %w", err)
	}
	if !burned {
		return fmt.Errorf("%w: reset token", otp.ErrExpired)
	}
	return nil
}
