package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"leadflow/backend/internal/dispatch"
	"leadflow/backend/internal/events"
	"leadflow/backend/internal/otp"
	otpdomain "leadflow/backend/internal/otp/domain"
	otprepo "leadflow/backend/internal/otp/repository"
	otpservice "leadflow/backend/internal/otp/service"
	"leadflow/backend/internal/security"
	sessionservice "leadflow/backend/internal/session/service"
	userdomain "leadflow/backend/internal/user/domain"
	userrepo "leadflow/backend/internal/user/repository"
	"leadflow/backend/internal/verification"
)

type captureSender struct {
	mu   sync.Mutex
	sent []dispatch.Message
}

func (c *captureSender) Send(ctx context.Context, msg dispatch.Message) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return true, nil
}

func (c *captureSender) last() dispatch.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[len(c.sent)-1]
}

type memEmitter struct {
	mu     sync.Mutex
	events []*events.AuthEvent
}

func (m *memEmitter) Emit(ctx context.Context, ev *events.AuthEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memEmitter) waitFor(t *testing.T, typ events.Type) *events.AuthEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		for _, ev := range m.events {
			if ev.Type == typ {
				m.mu.Unlock()
				return ev
			}
		}
		m.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("event %s not emitted", typ)
	return nil
}

type fixture struct {
	svc     *AuthService
	users   *userrepo.MemoryRepository
	sms     *captureSender
	email   *captureSender
	emitter *memEmitter
	user    *userdomain.User
}

func newFixture(t *testing.T, opts otpservice.Options) *fixture {
	t.Helper()
	logger := zap.NewNop()
	users := userrepo.NewMemoryRepository()
	sms, email := &captureSender{}, &captureSender{}
	gateway := dispatch.NewGateway(false, logger).
		Register(otpdomain.ChannelSMS, sms).
		Register(otpdomain.ChannelEmail, email)
	otps := otpservice.NewService(otprepo.NewMemoryRepository(), gateway, opts)
	tokens, err := security.NewTokenProvider("access-secret", "refresh-secret", "leadflow", 24*time.Hour, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("NewTokenProvider: %v", err)
	}
	issuer := sessionservice.NewIssuer(tokens, users, otps)
	router := verification.NewRouter(otps, users, issuer, logger)
	emitter := &memEmitter{}
	svc := NewAuthService(users, otps, router, issuer, security.NewHasher(4), 6, emitter, logger)

	u, err := svc.Register(context.Background(), "Jane@Example.com", "+91 98765 43210", "Jane", "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return &fixture{svc: svc, users: users, sms: sms, email: email, emitter: emitter, user: u}
}

func TestAuthService_Register(t *testing.T) {
	f := newFixture(t, otpservice.DefaultOptions())
	ctx := context.Background()
	if f.user.Email != "jane@example.com" || f.user.Verified || f.user.Role != userdomain.DefaultRole {
		t.Errorf("user = %+v", f.user)
	}
	if _, err := f.svc.Register(ctx, "jane@example.com", "", "", ""); !errors.Is(err, ErrEmailAlreadyRegistered) {
		t.Errorf("duplicate: want ErrEmailAlreadyRegistered, got %v", err)
	}
	if _, err := f.svc.Register(ctx, "not-an-email", "", "", ""); !errors.Is(err, otp.ErrValidation) {
		t.Errorf("bad email: want ErrValidation, got %v", err)
	}
	if _, err := f.svc.Register(ctx, "p@example.com", "", "", "123"); !errors.Is(err, otp.ErrValidation) {
		t.Errorf("short password: want ErrValidation, got %v", err)
	}
}

func TestAuthService_RequestOTPDestination(t *testing.T) {
	f := newFixture(t, otpservice.DefaultOptions())
	ctx := context.Background()

	res, err := f.svc.RequestOTP(ctx, f.user.ID, "login", "")
	if err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
	if res.Channel != otpdomain.ChannelSMS || res.SentTo == f.user.Phone {
		t.Errorf("default channel result = %+v", res)
	}
	if got := f.sms.last().To; got != f.user.Phone {
		t.Errorf("sms sent to %q", got)
	}

	res, err = f.svc.RequestOTP(ctx, f.user.ID, "login", "EMAIL")
	if err != nil {
		t.Fatalf("RequestOTP email: %v", err)
	}
	if res.Channel != otpdomain.ChannelEmail || f.email.last().To != "jane@example.com" {
		t.Errorf("email result = %+v", res)
	}
	if ev := f.emitter.waitFor(t, events.OTPIssued); ev.UserID != f.user.ID {
		t.Errorf("event = %+v", ev)
	}

	if _, err := f.svc.RequestOTP(ctx, f.user.ID, "enable_2fa", ""); !errors.Is(err, otp.ErrValidation) {
		t.Errorf("reserved purpose: want ErrValidation, got %v", err)
	}
	if _, err := f.svc.RequestOTP(ctx, f.user.ID, "login", "pigeon"); !errors.Is(err, otp.ErrValidation) {
		t.Errorf("bad channel: want ErrValidation, got %v", err)
	}
	if _, err := f.svc.RequestOTP(ctx, "missing", "login", ""); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("missing user: want ErrUserNotFound, got %v", err)
	}
}

func TestAuthService_LoginIssuesAndRotates(t *testing.T) {
	f := newFixture(t, otpservice.DefaultOptions())
	ctx := context.Background()

	if _, err := f.svc.RequestOTP(ctx, f.user.ID, "login", "sms"); err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
	first, err := f.svc.VerifyOTP(ctx, f.user.ID, f.sms.last().Code, "login")
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	if first.Tokens == nil || first.ResetToken != "" {
		t.Fatalf("login result = %+v", first)
	}

	_, _ = f.svc.RequestOTP(ctx, f.user.ID, "login", "sms")
	second, err := f.svc.VerifyOTP(ctx, f.user.ID, f.sms.last().Code, "login")
	if err != nil {
		t.Fatalf("second VerifyOTP: %v", err)
	}
	if _, err := f.svc.Refresh(ctx, first.Tokens.RefreshToken); !errors.Is(err, otp.ErrMismatch) {
		t.Errorf("rotated-out refresh: want ErrMismatch, got %v", err)
	}
	refreshed, err := f.svc.Refresh(ctx, second.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if ev := f.emitter.waitFor(t, events.TokensRefreshed); ev.UserID != f.user.ID {
		t.Errorf("refresh event = %+v", ev)
	}

	if err := f.svc.Logout(ctx, f.user.ID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := f.svc.Refresh(ctx, refreshed.RefreshToken); !errors.Is(err, otp.ErrNotFound) {
		t.Errorf("after logout: want ErrNotFound, got %v", err)
	}
}

func TestAuthService_VerifyFailureEmitsOutcome(t *testing.T) {
	f := newFixture(t, otpservice.DefaultOptions())
	ctx := context.Background()
	_, err := f.svc.VerifyOTP(ctx, f.user.ID, "123456", "login")
	if !errors.Is(err, otp.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if ev := f.emitter.waitFor(t, events.OTPVerifyFailed); ev.Outcome != "not_found" {
		t.Errorf("outcome = %q", ev.Outcome)
	}
}

func TestAuthService_VerificationMarksUser(t *testing.T) {
	f := newFixture(t, otpservice.DefaultOptions())
	ctx := context.Background()
	_, _ = f.svc.RequestOTP(ctx, f.user.ID, "verification", "email")
	res, err := f.svc.VerifyOTP(ctx, f.user.ID, f.email.last().Code, "verification")
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	if !res.Verified || res.Tokens == nil {
		t.Errorf("result = %+v", res)
	}
	if u, _ := f.users.GetByID(ctx, f.user.ID); !u.Verified {
		t.Error("user not verified")
	}
}

func TestAuthService_ForgotPasswordFlow(t *testing.T) {
	f := newFixture(t, otpservice.DefaultOptions())
	ctx := context.Background()
	if _, err := f.svc.RequestOTP(ctx, f.user.ID, "forgot_password", "email"); err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
	res, err := f.svc.VerifyOTP(ctx, f.user.ID, f.email.last().Code, "forgot_password")
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	if res.Tokens != nil || res.ResetToken == "" {
		t.Fatalf("forgot_password result = %+v", res)
	}

	if err := f.svc.ResetPassword(ctx, f.user.ID, res.ResetToken, "12345"); !errors.Is(err, otp.ErrValidation) {
		t.Errorf("short password: want ErrValidation, got %v", err)
	}
	if err := f.svc.ResetPassword(ctx, f.user.ID, res.ResetToken, "s3cret!"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	u, _ := f.users.GetByID(ctx, f.user.ID)
	if !security.NewHasher(4).Matches(u.PasswordHash, "s3cret!") {
		t.Error("password not updated")
	}
	if u.HasRefreshToken() {
		t.Error("reset should revoke sessions")
	}

	if err := f.svc.ResetPassword(ctx, f.user.ID, res.ResetToken, "another1"); !errors.Is(err, otp.ErrExpired) {
		t.Errorf("reused reset token: want ErrExpired, got %v", err)
	}
	f.emitter.waitFor(t, events.PasswordReset)
}

func TestAuthService_ResetPasswordRejectsOtherUser(t *testing.T) {
	f := newFixture(t, otpservice.DefaultOptions())
	ctx := context.Background()
	_, _ = f.svc.RequestOTP(ctx, f.user.ID, "forgot_password", "sms")
	res, err := f.svc.VerifyOTP(ctx, f.user.ID, f.sms.last().Code, "forgot_password")
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	if err := f.svc.ResetPassword(ctx, "someone-else", res.ResetToken, "s3cret!"); !errors.Is(err, sessionservice.ErrInvalidToken) {
		t.Errorf("want ErrInvalidToken, got %v", err)
	}
	if err := f.svc.ResetPassword(ctx, "", res.ResetToken, "s3cret!"); err != nil {
		t.Errorf("subject from token: %v", err)
	}
}

func TestAuthService_UnknownUserCannotReset(t *testing.T) {
	opts := otpservice.DefaultOptions()
	opts.MasterCode = "135790"
	f := newFixture(t, opts)
	ctx := context.Background()

	res, err := f.svc.VerifyOTP(ctx, "no-such-user", "135790", "forgot_password")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown user: want ErrUserNotFound, got %v", err)
	}
	if res != nil {
		t.Errorf("unknown user got a result: %+v", res)
	}
}

func TestAuthService_ConcurrentResetsWithOneToken(t *testing.T) {
	f := newFixture(t, otpservice.DefaultOptions())
	ctx := context.Background()
	_, _ = f.svc.RequestOTP(ctx, f.user.ID, "forgot_password", "email")
	res, err := f.svc.VerifyOTP(ctx, f.user.ID, f.email.last().Code, "forgot_password")
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.svc.ResetPassword(ctx, f.user.ID, res.ResetToken, "s3cret!"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("successful resets = %d, want 1", wins)
	}
}
