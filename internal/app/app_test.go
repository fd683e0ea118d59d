package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"leadflow/backend/internal/config"
	"leadflow/backend/internal/otp"
	otpdomain "leadflow/backend/internal/otp/domain"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:                 "development",
		AppName:             "LeadFlow",
		StoreDriver:         config.StoreMemory,
		OTPTestingMode:      true,
		OTPDummyCode:        "246810",
		OTPValidityMinutes:  10,
		OTPCodeLength:       6,
		OTPPurgeGrace:       time.Hour,
		JWTSecret:           "access-secret",
		JWTRefreshSecret:    "refresh-secret",
		JWTIssuer:           "leadflow-auth",
		JWTAccessTTL:        "15m",
		JWTRefreshTTL:       "24h",
		BcryptCost:          4,
		PasswordMinLength:   6,
		DispatchMaxAttempts: 3,
	}
}

func TestNew_MemoryStoreLoginFlow(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close(ctx)

	u, err := a.Auth.Register(ctx, "lead@example.com", "9876543210", "Lead", "secret-pw")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	req, err := a.Auth.RequestOTP(ctx, u.ID, "login", "")
	if err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
	if req.Channel != otpdomain.ChannelSMS {
		t.Errorf("channel = %s, want sms", req.Channel)
	}

	_, err = a.Auth.VerifyOTP(ctx, u.ID, "111111", "login")
	if !errors.Is(err, otp.ErrMismatch) {
		t.Fatalf("wrong code err = %v, want ErrMismatch", err)
	}
	res, err := a.Auth.VerifyOTP(ctx, u.ID, "246810", "login")
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	if res.Tokens == nil || res.Tokens.AccessToken == "" || res.Tokens.RefreshToken == "" {
		t.Fatalf("tokens = %+v", res.Tokens)
	}
	claims, err := a.Sessions.ValidateAccessToken(res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if claims.Subject != u.ID {
		t.Errorf("subject = %q, want %q", claims.Subject, u.ID)
	}

	pair, err := a.Auth.Refresh(ctx, res.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, err := a.Auth.Refresh(ctx, res.Tokens.RefreshToken); !errors.Is(err, otp.ErrMismatch) {
		t.Errorf("superseded refresh err = %v, want ErrMismatch", err)
	}
	if err := a.Auth.Logout(ctx, u.ID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := a.Auth.Refresh(ctx, pair.RefreshToken); !errors.Is(err, otp.ErrNotFound) {
		t.Errorf("refresh after logout err = %v, want ErrNotFound", err)
	}
}

func TestNew_HealthWithoutPingersServes(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close(ctx)
	if got := a.Health.Check(ctx).String(); got != "SERVING" {
		t.Errorf("health = %s, want SERVING", got)
	}
}

func TestNew_PostgresOpenFailure(t *testing.T) {
	cfg := testConfig()
	cfg.StoreDriver = config.StorePostgres
	cfg.DatabaseURL = "invalid-dsn"
	a, err := New(context.Background(), cfg, zap.NewNop())
	if err == nil {
		t.Fatal("New with invalid DATABASE_URL should fail")
	}
	if a != nil {
		t.Error("New should return nil app on error")
	}
}

func TestNew_NoChannelsOutsideTestingMode(t *testing.T) {
	cfg := testConfig()
	cfg.OTPTestingMode = false
	ctx := context.Background()
	a, err := New(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close(ctx)
	if a.Gateway.Configured(otpdomain.ChannelSMS) || a.Gateway.Configured(otpdomain.ChannelEmail) {
		t.Error("no channel should be configured without credentials")
	}
	u, err := a.Auth.Register(ctx, "", "9876543210", "", "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := a.Auth.RequestOTP(ctx, u.ID, "login", ""); !errors.Is(err, otp.ErrNotConfigured) {
		t.Errorf("RequestOTP err = %v, want ErrNotConfigured", err)
	}
}

func TestOptionConverters(t *testing.T) {
	cfg := testConfig()
	cfg.OTPMasterCode = "135790"
	cfg.SMSLocalAPIKey = "key"
	cfg.SMSCountryPrefix = "91"
	cfg.DispatchAttemptTimeout = 7 * time.Second
	cfg.EmailFrom = "no-reply@leadflow.test"
	cfg.EmailMaxRetries = 2

	o := OTPOptions(cfg)
	if o.Validity != 10*time.Minute || o.MasterCode != "135790" || !o.TestingMode || o.DummyCode != "246810" {
		t.Errorf("OTPOptions = %+v", o)
	}
	s := SMSOptions(cfg)
	if s.APIKey != "key" || s.AttemptTimeout != 7*time.Second || s.MaxAttempts != 3 || s.AppName != "LeadFlow" {
		t.Errorf("SMSOptions = %+v", s)
	}
	e := EmailOptions(cfg)
	if e.From != "no-reply@leadflow.test" || e.MaxRetries != 2 || e.AttemptTimeout != 7*time.Second {
		t.Errorf("EmailOptions = %+v", e)
	}
	cfg.EmailMaxRetries = 0
	if e := EmailOptions(cfg); e.MaxRetries != 0 {
		t.Errorf("EmailOptions retries = %d, want 0", e.MaxRetries)
	}
	if TelemetryOptions(cfg).ServiceName != serviceName {
		t.Error("telemetry service name not set")
	}
}
