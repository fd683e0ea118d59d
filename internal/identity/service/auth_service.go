// Package service is the auth facade used by transports: request and verify codes,
// issue, refresh and revoke session tokens, and complete password resets.
package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"leadflow/backend/internal/events"
	"leadflow/backend/internal/logging"
	"leadflow/backend/internal/otp"
	otpdomain "leadflow/backend/internal/otp/domain"
	otpservice "leadflow/backend/internal/otp/service"
	"leadflow/backend/internal/security"
	sessionservice "leadflow/backend/internal/session/service"
	userdomain "leadflow/backend/internal/user/domain"
	userrepo "leadflow/backend/internal/user/repository"
	"leadflow/backend/internal/verification"
)

// Sentinel errors for the auth facade. Code and token failures keep their otp error kinds.
var (
	ErrUserNotFound           = userrepo.ErrNotFound
	ErrEmailAlreadyRegistered = errors.New("email already registered")
)

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}

// CodeIssuer issues one-time codes.
type CodeIssuer interface {
	Issue(ctx context.Context, userID string, purpose otpdomain.Purpose, dest otpservice.Destination) (*otpservice.IssueResult, error)
}

// CodeVerifier verifies a code and runs its purpose follow-up.
type CodeVerifier interface {
	Verify(ctx context.Context, userID, code, purpose string) (*verification.Result, error)
}

// Sessions mints, rotates and revokes tokens.
type Sessions interface {
	IssueTokenPair(ctx context.Context, u *userdomain.User, role string) (*sessionservice.TokenPair, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*sessionservice.TokenPair, error)
	Revoke(ctx context.Context, userID string) error
	ValidateResetVerificationToken(ctx context.Context, token, expectedUserID string) (*sessionservice.ResetGrant, error)
	BurnResetVerificationToken(ctx context.Context, grant *sessionservice.ResetGrant) error
}

// RequestResult describes where a code was sent. SentTo is masked.
type RequestResult struct {
	Channel   otpdomain.Channel
	SentTo    string
	ExpiresAt time.Time
}

// VerifyResult is the typed success payload of VerifyOTP. Tokens is set for login and
// verification; ResetToken for forgot_password.
type VerifyResult struct {
	UserID         string
	Purpose        otpdomain.Purpose
	Verified       bool
	Tokens         *sessionservice.TokenPair
	ResetToken     string
	ResetExpiresAt time.Time
}

// AuthService implements the inbound auth operations.
type AuthService struct {
	users             UserRepo
	codes             CodeIssuer
	verifier          CodeVerifier
	sessions          Sessions
	hasher            *security.Hasher
	passwordMinLength int
	emitter           events.Emitter
	logger            *zap.Logger
}

// NewAuthService returns an AuthService with the given dependencies. emitter may be nil.
func NewAuthService(
	users UserRepo,
	codes CodeIssuer,
	verifier CodeVerifier,
	sessions Sessions,
	hasher *security.Hasher,
	passwordMinLength int,
	emitter events.Emitter,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		users:             users,
		codes:             codes,
		verifier:          verifier,
		sessions:          sessions,
		hasher:            hasher,
		passwordMinLength: passwordMinLength,
		emitter:           emitter,
		logger:            logging.Component(logger, "auth"),
	}
}

// Register creates an unverified user. password may be empty for code-only accounts.
func (s *AuthService) Register(ctx context.Context, email, phone, name, password string) (*userdomain.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email != "" {
		if err := validateEmail(email); err != nil {
			return nil, fmt.Errorf("%w: %v", otp.ErrValidation, err)
		}
		existing, err := s.users.GetByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, ErrEmailAlreadyRegistered
		}
	}
	now := time.Now().UTC()
	u := &userdomain.User{
		ID:        uuid.New().String(),
		Email:     email,
		Phone:     strings.TrimSpace(phone),
		Name:      strings.TrimSpace(name),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := u.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", otp.ErrValidation, err)
	}
	if password != "" {
		hash, err := s.hashPassword(password)
		if err != nil {
			return nil, err
		}
		u.PasswordHash = hash
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// RequestOTP issues a code for purpose and sends it to the user's phone or email.
// channelHint selects the channel; empty prefers the phone when the user has one.
func (s *AuthService) RequestOTP(ctx context.Context, userID, purpose, channelHint string) (*RequestResult, error) {
	p, err := otpdomain.ParsePurpose(purpose)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", otp.ErrValidation, err)
	}
	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	dest, err := destinationFor(u, channelHint)
	if err != nil {
		return nil, err
	}
	res, err := s.codes.Issue(ctx, u.ID, p, dest)
	if err != nil {
		return nil, err
	}
	ev := events.New(events.OTPIssued, u.ID)
	ev.Purpose = string(p)
	ev.Channel = string(res.Channel)
	events.EmitAsync(s.emitter, s.logger, ev)
	return &RequestResult{Channel: res.Channel, SentTo: res.SentTo, ExpiresAt: res.ExpiresAt}, nil
}

// VerifyOTP verifies code for purpose. login and verification return a fresh token pair,
// replacing the user's stored refresh token; forgot_password returns a reset-verification token.
func (s *AuthService) VerifyOTP(ctx context.Context, userID, code, purpose string) (*VerifyResult, error) {
	if _, err := s.loadUser(ctx, userID); err != nil {
		return nil, err
	}
	res, err := s.verifier.Verify(ctx, userID, code, purpose)
	if err != nil {
		ev := events.New(events.OTPVerifyFailed, userID)
		ev.Purpose = purpose
		ev.Outcome = otp.Outcome(err)
		events.EmitAsync(s.emitter, s.logger, ev)
		return nil, err
	}
	ev := events.New(events.OTPVerified, userID)
	ev.Purpose = string(res.Purpose)
	ev.Outcome = otp.Outcome(nil)
	events.EmitAsync(s.emitter, s.logger, ev)

	out := &VerifyResult{
		UserID:         res.UserID,
		Purpose:        res.Purpose,
		Verified:       res.Verified,
		ResetToken:     res.ResetToken,
		ResetExpiresAt: res.ResetExpiresAt,
	}
	if res.IssuesSession() {
		pair, err := s.IssueTokens(ctx, userID)
		if err != nil {
			return nil, err
		}
		out.Tokens = pair
	}
	return out, nil
}

// IssueTokens issues a token pair for the user's current role.
func (s *AuthService) IssueTokens(ctx context.Context, userID string) (*sessionservice.TokenPair, error) {
	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	pair, err := s.sessions.IssueTokenPair(ctx, u, "")
	if err != nil {
		return nil, err
	}
	events.EmitAsync(s.emitter, s.logger, events.New(events.TokensIssued, u.ID))
	return pair, nil
}

// Refresh exchanges the current refresh token for a new pair.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*sessionservice.TokenPair, error) {
	pair, err := s.sessions.RefreshAccessToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	events.EmitAsync(s.emitter, s.logger, events.New(events.TokensRefreshed, pair.UserID))
	return pair, nil
}

// Logout revokes the user's refresh token.
func (s *AuthService) Logout(ctx context.Context, userID string) error {
	if err := s.sessions.Revoke(ctx, userID); err != nil {
		return err
	}
	events.EmitAsync(s.emitter, s.logger, events.New(events.TokensRevoked, userID))
	return nil
}

// ResetPassword completes a password reset with a reset-verification token. userID may be
// empty, in which case the token's subject is used. The token is burned before the password
// changes, and all sessions are revoked on success.
func (s *AuthService) ResetPassword(ctx context.Context, userID, resetToken, newPassword string) error {
	if err := security.CheckPasswordLength(newPassword, s.passwordMinLength); err != nil {
		return fmt.Errorf("%w: %v", otp.ErrValidation, err)
	}
	grant, err := s.sessions.ValidateResetVerificationToken(ctx, resetToken, strings.TrimSpace(userID))
	if err != nil {
		return err
	}
	if _, err := s.loadUser(ctx, grant.UserID); err != nil {
		return err
	}
	hash, err := s.hashPassword(newPassword)
	if err != nil {
		return err
	}
	// Burn before the update: of two resets racing on one token, only the first gets past here.
	if err := s.sessions.BurnResetVerificationToken(ctx, grant); err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, grant.UserID, hash); err != nil {
		return fmt.Errorf("auth: update password: %w", err)
	}
	if err := s.sessions.Revoke(ctx, grant.UserID); err != nil {
		return err
	}
	s.logger.Info("password reset", zap.String("user_id", grant.UserID))
	events.EmitAsync(s.emitter, s.logger, events.New(events.PasswordReset, grant.UserID))
	return nil
}

func (s *AuthService) hashPassword(password string) (string, error) {
	if err := security.CheckPasswordLength(password, s.passwordMinLength); err != nil {
		return "", fmt.Errorf("%w: %v", otp.ErrValidation, err)
	}
	hash, err := s.hasher.Hash(password)
	if errors.Is(err, security.ErrPasswordTooLong) {
		return "", fmt.Errorf("%w: %v", otp.ErrValidation, err)
	}
	return hash, err
}

func (s *AuthService) loadUser(ctx context.Context, userID string) (*userdomain.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", otp.ErrValidation)
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func destinationFor(u *userdomain.User, hint string) (otpservice.Destination, error) {
	ch, err := otpdomain.ParseChannel(strings.ToLower(strings.TrimSpace(hint)))
	if err != nil {
		return otpservice.Destination{}, fmt.Errorf("%w: %v", otp.ErrValidation, err)
	}
	if ch == "" {
		ch = otpdomain.ChannelEmail
		if u.Phone != "" {
			ch = otpdomain.ChannelSMS
		}
	}
	addr := u.Email
	if ch == otpdomain.ChannelSMS {
		addr = u.Phone
	}
	if addr == "" {
		return otpservice.Destination{}, fmt.Errorf("%w: user has no %s destination", otp.ErrValidation, ch)
	}
	return otpservice.Destination{Channel: ch, Address: addr}, nil
}

func validateEmail(email string) error {
	const simpleEmail = `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`
	if ok, _ := regexp.MatchString(simpleEmail, email); !ok {
		return errors.New("invalid email format")
	}
	return nil
}
