// Package service implements code issuance and verification over an OTP repository.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"leadflow/backend/internal/dispatch"
	"leadflow/backend/internal/logging"
	"leadflow/backend/internal/otp"
	"leadflow/backend/internal/otp/domain"
	"leadflow/backend/internal/otp/repository"
)

var tracer = otel.Tracer("leadflow/backend/internal/otp/service")

// Options are the process-wide OTP settings. They are fixed for the lifetime of the Service.
type Options struct {
	CodeLength  int
	Validity    time.Duration
	TestingMode bool
	// DummyCode replaces generated codes in testing mode.
	DummyCode string
	// MasterCode is accepted for any user and purpose. Empty disables the override.
	MasterCode string
	// PurgeGrace keeps records past their expiry so late attempts still report Expired.
	PurgeGrace time.Duration
}

// DefaultOptions returns 6-digit codes valid for 10 minutes with a 24h purge grace.
func DefaultOptions() Options {
	return Options{
		CodeLength: otp.DefaultCodeLength,
		Validity:   10 * time.Minute,
		DummyCode:  "000000",
		PurgeGrace: 24 * time.Hour,
	}
}

// Dispatcher delivers a code. A false result means delivery failed after retries.
type Dispatcher interface {
	Send(ctx context.Context, msg dispatch.Message) (bool, error)
}

// Limiter throttles issuance per user and purpose.
type Limiter interface {
	Allow(ctx context.Context, userID string, purpose domain.Purpose) error
}

// Metrics records issuance and verification outcomes.
type Metrics interface {
	OTPIssued(ctx context.Context, purpose, channel string)
	OTPVerification(ctx context.Context, purpose, outcome string)
}

// Destination is where a code should be delivered.
type Destination struct {
	Channel domain.Channel
	Address string
}

// IssueResult describes an issued code. SentTo is masked.
type IssueResult struct {
	RecordID  string
	Channel   domain.Channel
	SentTo    string
	ExpiresAt time.Time
}

// VerifyResult describes a successful verification.
type VerifyResult struct {
	// RecordID is the consumed record; empty when the master code was used.
	RecordID string
	Override bool
}

// Service issues and verifies one-time codes.
type Service struct {
	repo       repository.Repository
	dispatcher Dispatcher
	limiter    Limiter
	metrics    Metrics
	opts       Options
	logger     *zap.Logger
	now        func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLimiter enables issuance rate limiting.
func WithLimiter(l Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithMetrics records counters for issuance and verification.
func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = logging.Component(l, "otp") }
}

// NewService returns a Service. Zero option values take the defaults from DefaultOptions.
func NewService(repo repository.Repository, dispatcher Dispatcher, opts Options, options ...Option) *Service {
	def := DefaultOptions()
	if opts.CodeLength == 0 {
		opts.CodeLength = def.CodeLength
	}
	if opts.Validity <= 0 {
		opts.Validity = def.Validity
	}
	if opts.DummyCode == "" {
		opts.DummyCode = def.DummyCode
	}
	if opts.PurgeGrace < 0 {
		opts.PurgeGrace = 0
	}
	s := &Service{
		repo:       repo,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Options returns the service settings.
func (s *Service) Options() Options {
	return s.opts
}

// Now returns the service clock's current time in UTC.
func (s *Service) Now() time.Time {
	return s.now().UTC()
}

// Issue creates a new code for (userID, purpose) and delivers it to dest. Earlier records are left untouched.
// In testing mode the dummy code is stored and nothing is sent.
// Real delivery failing after retries returns otp.ErrDeliveryFailed and stores nothing.
func (s *Service) Issue(ctx context.Context, userID string, purpose domain.Purpose, dest Destination) (*IssueResult, error) {
	ctx, span := tracer.Start(ctx, "otp.Issue")
	span.SetAttributes(attribute.String("otp.purpose", string(purpose)), attribute.String("otp.channel", string(dest.Channel)))
	defer span.End()
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", otp.ErrValidation)
	}
	if _, err := domain.ParsePurpose(string(purpose)); err != nil {
		return nil, fmt.Errorf("%w: %v", otp.ErrValidation, err)
	}
	if dest.Channel == "" {
		return nil, fmt.Errorf("%w: channel is required", otp.ErrValidation)
	}
	if !s.opts.TestingMode && strings.TrimSpace(dest.Address) == "" {
		return nil, fmt.Errorf("%w: destination is required", otp.ErrValidation)
	}
	if s.limiter != nil {
		if err := s.limiter.Allow(ctx, userID, purpose); err != nil {
			return nil, err
		}
	}

	var code string
	if s.opts.TestingMode {
		code = s.opts.DummyCode
	} else {
		c, err := otp.GenerateCode(s.opts.CodeLength)
		if err != nil {
			return nil, err
		}
		code = c
		sent, err := s.dispatcher.Send(ctx, dispatch.Message{
			Channel:  dest.Channel,
			To:       dest.Address,
			Code:     code,
			Purpose:  purpose,
			Validity: s.opts.Validity,
		})
		if err != nil {
			return nil, err
		}
		if !sent {
			return nil, otp.ErrDeliveryFailed
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	now := s.Now()
	rec := &domain.Record{
		ID:        id.String(),
		UserID:    userID,
		Purpose:   purpose,
		Channel:   dest.Channel,
		CodeHash:  otp.HashCode(code),
		ExpiresAt: now.Add(s.opts.Validity),
		CreatedAt: now,
	}
	rec.PurgeAt = rec.ExpiresAt.Add(s.opts.PurgeGrace)
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("otp: store record: %w", err)
	}
	if s.metrics != nil {
		s.metrics.OTPIssued(ctx, string(purpose), string(dest.Channel))
	}
	s.logger.Info("code issued",
		zap.String("user_id", userID),
		zap.String("purpose", string(purpose)),
		zap.String("channel", string(dest.Channel)),
		zap.Bool("testing_mode", s.opts.TestingMode))
	return &IssueResult{
		RecordID:  rec.ID,
		Channel:   dest.Channel,
		SentTo:    maskDestination(dest),
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

// Verify checks candidate against the master code, then against the most recent record for
// (userID, purpose). On success the record is claimed; a concurrent loser gets otp.ErrAlreadyUsed.
func (s *Service) Verify(ctx context.Context, userID string, purpose domain.Purpose, candidate string) (*VerifyResult, error) {
	ctx, span := tracer.Start(ctx, "otp.Verify")
	defer span.End()
	span.SetAttributes(attribute.String("otp.purpose", string(purpose)))

	res, err := s.verify(ctx, userID, purpose, candidate)
	if err != nil {
		span.SetStatus(codes.Error, otp.Outcome(err))
	}
	if s.metrics != nil {
		s.metrics.OTPVerification(ctx, string(purpose), otp.Outcome(err))
	}
	if err != nil {
		s.logger.Info("verification failed",
			zap.String("user_id", userID),
			zap.String("purpose", string(purpose)),
			zap.String("outcome", otp.Outcome(err)))
	}
	return res, err
}

func (s *Service) verify(ctx context.Context, userID string, purpose domain.Purpose, candidate string) (*VerifyResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", otp.ErrValidation)
	}
	if _, err := domain.ParsePurpose(string(purpose)); err != nil {
		return nil, fmt.Errorf("%w: %v", otp.ErrValidation, err)
	}
	code, err := otp.NormalizeCode(candidate)
	if err != nil {
		return nil, err
	}
	if otp.MasterMatch(code, s.opts.MasterCode) {
		return &VerifyResult{Override: true}, nil
	}

	rec, err := s.repo.Latest(ctx, userID, purpose)
	if err != nil {
		return nil, fmt.Errorf("otp: load record: %w", err)
	}
	now := s.Now()
	switch {
	case rec == nil:
		return nil, otp.ErrNotFound
	case rec.Used:
		return nil, otp.ErrAlreadyUsed
	case rec.Expired(now):
		return nil, otp.ErrExpired
	case !otp.CodeEqual(code, rec.CodeHash):
		return nil, otp.ErrMismatch
	}
	claimed, err := s.repo.Claim(ctx, rec.ID, now)
	if err != nil {
		return nil, fmt.Errorf("otp: claim record: %w", err)
	}
	if !claimed {
		return nil, otp.ErrAlreadyUsed
	}
	return &VerifyResult{RecordID: rec.ID}, nil
}

// AnchorOverride stores an already-used record for (userID, purpose) that matches no code.
// It gives a master-code verification a record to carry a reset-verification token. Anchors
// have no code hash, so Latest skips them and a pending code stays verifiable.
func (s *Service) AnchorOverride(ctx context.Context, userID string, purpose domain.Purpose) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	now := s.Now()
	rec := &domain.Record{
		ID:        id.String(),
		UserID:    userID,
		Purpose:   purpose,
		ExpiresAt: now,
		Used:      true,
		UsedAt:    &now,
		PurgeAt:   now.Add(s.opts.PurgeGrace),
		CreatedAt: now,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return "", fmt.Errorf("otp: store record: %w", err)
	}
	return rec.ID, nil
}

// AttachResetToken stores the hash of a reset-verification token on a consumed record.
func (s *Service) AttachResetToken(ctx context.Context, recordID, tokenHash string, expiresAt time.Time) error {
	return s.repo.AttachResetToken(ctx, recordID, tokenHash, expiresAt, expiresAt.Add(s.opts.PurgeGrace))
}

// ResetRecord returns the forgot_password record of userID carrying tokenHash, or nil.
func (s *Service) ResetRecord(ctx context.Context, userID, tokenHash string) (*domain.Record, error) {
	return s.repo.GetByResetToken(ctx, userID, tokenHash)
}

// BurnResetToken ends the record's reset window now. It reports false when the token was
// no longer live, which is how a second concurrent burn of the same token loses.
func (s *Service) BurnResetToken(ctx context.Context, recordID string) (bool, error) {
	return s.repo.ExpireResetToken(ctx, recordID, s.Now())
}

// Purge deletes records whose purge time has passed.
func (s *Service) Purge(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, s.Now())
}

func maskDestination(dest Destination) string {
	if dest.Address == "" {
		return ""
	}
	if dest.Channel == domain.ChannelEmail {
		return logging.MaskEmail(dest.Address)
	}
	return logging.MaskPhone(dest.Address)
}
