// Package verification routes a submitted code to the purpose-specific follow-up:
// login continues to token issuance, verification marks the account, and
// forgot_password yields a reset-verification token.
package verification

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"leadflow/backend/internal/logging"
	"leadflow/backend/internal/otp"
	"leadflow/backend/internal/otp/domain"
	otpservice "leadflow/backend/internal/otp/service"
)

// CodeVerifier checks codes. AnchorOverride supplies a record for master-code resets.
type CodeVerifier interface {
	Verify(ctx context.Context, userID string, purpose domain.Purpose, candidate string) (*otpservice.VerifyResult, error)
	AnchorOverride(ctx context.Context, userID string, purpose domain.Purpose) (string, error)
}

// Accounts flips the user's verified flag.
type Accounts interface {
	MarkVerified(ctx context.Context, userID string) error
}

// ResetMinter mints a reset-verification token and binds it to a consumed record.
type ResetMinter interface {
	MintResetVerificationToken(ctx context.Context, userID, recordID string) (string, time.Time, error)
}

// Result is the outcome of a successful verification.
type Result struct {
	UserID  string
	Purpose domain.Purpose
	// RecordID is the consumed record, or the anchor record for a master-code reset.
	RecordID string
	Override bool
	// Verified is set for the verification purpose.
	Verified bool
	// ResetToken is set for forgot_password. Session tokens are not issued on that path.
	ResetToken     string
	ResetExpiresAt time.Time
}

// IssuesSession reports whether the caller should issue a token pair for this result.
func (r *Result) IssuesSession() bool {
	return r.Purpose == domain.PurposeLogin || r.Purpose == domain.PurposeVerification
}

// Router verifies codes and applies the purpose's side effects.
type Router struct {
	codes    CodeVerifier
	accounts Accounts
	resets   ResetMinter
	logger   *zap.Logger
}

// NewRouter returns a Router.
func NewRouter(codes CodeVerifier, accounts Accounts, resets ResetMinter, logger *zap.Logger) *Router {
	return &Router{
		codes:    codes,
		accounts: accounts,
		resets:   resets,
		logger:   logging.Component(logger, "verification"),
	}
}

// Verify validates purpose, checks the code and runs the purpose's follow-up.
// Code failures keep their otp error kind (NotFound, AlreadyUsed, Expired, Mismatch).
func (r *Router) Verify(ctx context.Context, userID, code, purpose string) (*Result, error) {
	p, err := domain.ParsePurpose(purpose)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", otp.ErrValidation, err)
	}
	vr, err := r.codes.Verify(ctx, userID, p, code)
	if err != nil {
		return nil, err
	}
	res := &Result{UserID: userID, Purpose: p, RecordID: vr.RecordID, Override: vr.Override}

	switch p {
	case domain.PurposeLogin:
	case domain.PurposeVerification:
		if err := r.accounts.MarkVerified(ctx, userID); err != nil {
			return nil, fmt.Errorf("verification: mark verified: %w", err)
		}
		res.Verified = true
	case domain.PurposeForgotPassword:
		if res.RecordID == "" {
			id, err := r.codes.AnchorOverride(ctx, userID, p)
			if err != nil {
				return nil, fmt.Errorf("verification: anchor override: %w", err)
			}
			res.RecordID = id
		}
		token, exp, err := r.resets.MintResetVerificationToken(ctx, userID, res.RecordID)
		if err != nil {
			return nil, err
		}
		res.ResetToken = token
		res.ResetExpiresAt = exp
	default:
		return nil, fmt.Errorf("%w: unsupported purpose %q", otp.ErrValidation, p)
	}

	r.logger.Info("code verified", zap.String("user_id", userID), zap.String("purpose", string(p)))
	return res, nil
}
