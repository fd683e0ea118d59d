package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"leadflow/backend/internal/otp"
	otpdomain "leadflow/backend/internal/otp/domain"
	otprepo "leadflow/backend/internal/otp/repository"
	otpservice "leadflow/backend/internal/otp/service"
	"leadflow/backend/internal/security"
	userdomain "leadflow/backend/internal/user/domain"
	userrepo "leadflow/backend/internal/user/repository"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	clock  *clock
	users  *userrepo.MemoryRepository
	otps   *otpservice.Service
	issuer *Issuer
	user   *userdomain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := &clock{now: time.Now().UTC().Truncate(time.Second)}
	tokens, err := security.NewTokenProvider("access-secret", "refresh-secret", "leadflow", 24*time.Hour, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("NewTokenProvider: %v", err)
	}
	users := userrepo.NewMemoryRepository()
	u := &userdomain.User{ID: "u1", Email: "jane@example.com", Role: "agent"}
	if err := users.Create(context.Background(), u); err != nil {
		t.Fatalf("Create user: %v", err)
	}
	opts := otpservice.DefaultOptions()
	opts.TestingMode = true
	otps := otpservice.NewService(otprepo.NewMemoryRepository(), nil, opts, otpservice.WithClock(c.Now))
	return &fixture{
		clock:  c,
		users:  users,
		otps:   otps,
		issuer: NewIssuer(tokens, users, otps, WithClock(c.Now)),
		user:   u,
	}
}

func TestIssuer_IssueTokenPairStoresRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair, err := f.issuer.IssueTokenPair(ctx, f.user, "")
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}
	claims, err := f.issuer.ValidateAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if claims.Subject != "u1" || claims.Email != "jane@example.com" || claims.Role != "agent" {
		t.Errorf("claims = %+v", claims)
	}
	if got := pair.AccessExpiresAt.Sub(f.clock.Now()); got != 24*time.Hour {
		t.Errorf("access ttl = %v, want 24h", got)
	}
	stored, _ := f.users.GetByID(ctx, "u1")
	if !security.TokenHashEqual(pair.RefreshToken, stored.RefreshTokenHash) {
		t.Error("stored refresh token does not match issued one")
	}
	if stored.RefreshTokenHash == pair.RefreshToken {
		t.Error("refresh token stored in plaintext")
	}
}

func TestIssuer_RefreshRotates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, _ := f.issuer.IssueTokenPair(ctx, f.user, "")

	second, err := f.issuer.RefreshAccessToken(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshAccessToken: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}
	if _, err := f.issuer.RefreshAccessToken(ctx, first.RefreshToken); !errors.Is(err, otp.ErrMismatch) {
		t.Errorf("superseded refresh: want ErrMismatch, got %v", err)
	}
	if _, err := f.issuer.RefreshAccessToken(ctx, second.RefreshToken); err != nil {
		t.Errorf("current refresh token: %v", err)
	}
}

func TestIssuer_SupersededBeforeExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old, _ := f.issuer.IssueTokenPair(ctx, f.user, "")
	_, _ = f.issuer.IssueTokenPair(ctx, f.user, "")

	// Both tokens are past their TTL; the superseded one still reports Mismatch.
	f.clock.Advance(8 * 24 * time.Hour)
	if _, err := f.issuer.RefreshAccessToken(ctx, old.RefreshToken); !errors.Is(err, otp.ErrMismatch) {
		t.Errorf("want ErrMismatch, got %v", err)
	}
}

func TestIssuer_RefreshExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair, _ := f.issuer.IssueTokenPair(ctx, f.user, "")
	f.clock.Advance(7*24*time.Hour + time.Second)
	if _, err := f.issuer.RefreshAccessToken(ctx, pair.RefreshToken); !errors.Is(err, otp.ErrExpired) {
		t.Errorf("want ErrExpired, got %v", err)
	}
}

func TestIssuer_RefreshInvalidAndRevoked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.issuer.RefreshAccessToken(ctx, "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage: want ErrInvalidToken, got %v", err)
	}
	pair, _ := f.issuer.IssueTokenPair(ctx, f.user, "")
	if _, err := f.issuer.RefreshAccessToken(ctx, pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("access token as refresh: want ErrInvalidToken, got %v", err)
	}
	if err := f.issuer.Revoke(ctx, "u1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := f.issuer.RefreshAccessToken(ctx, pair.RefreshToken); !errors.Is(err, otp.ErrNotFound) {
		t.Errorf("after revoke: want ErrNotFound, got %v", err)
	}
}

func consumeForgotPassword(t *testing.T, f *fixture) string {
	t.Helper()
	ctx := context.Background()
	dest := otpservice.Destination{Channel: otpdomain.ChannelEmail, Address: f.user.Email}
	if _, err := f.otps.Issue(ctx, "u1", otpdomain.PurposeForgotPassword, dest); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	res, err := f.otps.Verify(ctx, "u1", otpdomain.PurposeForgotPassword, "000000")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	return res.RecordID
}

func TestIssuer_ResetVerificationBoundToRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	recordID := consumeForgotPassword(t, f)

	token, exp, err := f.issuer.MintResetVerificationToken(ctx, "u1", recordID)
	if err != nil {
		t.Fatalf("MintResetVerificationToken: %v", err)
	}
	if got := exp.Sub(f.clock.Now()); got != security.ResetVerificationTTL {
		t.Errorf("reset ttl = %v", got)
	}
	grant, err := f.issuer.ValidateResetVerificationToken(ctx, token, "u1")
	if err != nil {
		t.Fatalf("ValidateResetVerificationToken: %v", err)
	}
	if grant.RecordID != recordID || grant.UserID != "u1" {
		t.Errorf("grant = %+v", grant)
	}
	if _, err := f.issuer.ValidateResetVerificationToken(ctx, token, "u2"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("other user: want ErrInvalidToken, got %v", err)
	}

	if err := f.issuer.BurnResetVerificationToken(ctx, grant); err != nil {
		t.Fatalf("Burn: %v", err)
	}
	if _, err := f.issuer.ValidateResetVerificationToken(ctx, token, "u1"); !errors.Is(err, otp.ErrExpired) {
		t.Errorf("burned token: want ErrExpired, got %v", err)
	}
	// A grant validated before the burn cannot burn again.
	if err := f.issuer.BurnResetVerificationToken(ctx, grant); !errors.Is(err, otp.ErrExpired) {
		t.Errorf("second burn: want ErrExpired, got %v", err)
	}
}

func TestIssuer_ResetVerificationUnboundOrExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	recordID := consumeForgotPassword(t, f)

	token, _, _ := f.issuer.MintResetVerificationToken(ctx, "u1", recordID)
	// Correctly signed but never attached to a record.
	loose, _, _ := mustProvider(t).WithClock(f.clock.Now).IssueResetVerification("u1")
	if _, err := f.issuer.ValidateResetVerificationToken(ctx, loose, "u1"); !errors.Is(err, otp.ErrNotFound) {
		t.Errorf("unbound token: want ErrNotFound, got %v", err)
	}

	f.clock.Advance(11 * time.Minute)
	if _, err := f.issuer.ValidateResetVerificationToken(ctx, token, "u1"); !errors.Is(err, otp.ErrExpired) {
		t.Errorf("expired token: want ErrExpired, got %v", err)
	}
}

func mustProvider(t *testing.T) *security.TokenProvider {
	t.Helper()
	p, err := security.NewTokenProvider("access-secret", "refresh-secret", "leadflow", 24*time.Hour, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("NewTokenProvider: %v", err)
	}
	return p
}
