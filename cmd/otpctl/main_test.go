package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"leadflow/backend/internal/app"
	"leadflow/backend/internal/config"
	"leadflow/backend/internal/otp"
)

func newApp(t *testing.T) *app.App {
	t.Helper()
	cfg := &config.Config{
		AppName:            "LeadFlow",
		StoreDriver:        config.StoreMemory,
		OTPTestingMode:     true,
		OTPDummyCode:       "000000",
		OTPValidityMinutes: 10,
		OTPCodeLength:      6,
		OTPPurgeGrace:      time.Hour,
		JWTSecret:          "access-secret",
		JWTRefreshSecret:   "refresh-secret",
		JWTIssuer:          "leadflow-auth",
		BcryptCost:         4,
		PasswordMinLength:  6,
	}
	a, err := app.New(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func runJSON(t *testing.T, a *app.App, args ...string) map[string]any {
	t.Helper()
	var out bytes.Buffer
	if err := run(context.Background(), a.Auth, args, &out); err != nil {
		t.Fatalf("run %v: %v", args, err)
	}
	var m map[string]any
	if err := json.Unmarshal(out.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	return m
}

func TestRun_ForgotPasswordFlow(t *testing.T) {
	a := newApp(t)
	reg := runJSON(t, a, "register", "-email", "lead@example.com", "-password", "old-password")
	userID := reg["user_id"].(string)

	req := runJSON(t, a, "request", "-user", userID, "-purpose", "forgot_password")
	if req["channel"] != "email" {
		t.Errorf("channel = %v, want email", req["channel"])
	}
	ver := runJSON(t, a, "verify", "-user", userID, "-purpose", "forgot_password", "-code", "000000")
	token, _ := ver["reset_token"].(string)
	if token == "" {
		t.Fatalf("verify output has no reset token: %v", ver)
	}
	if _, ok := ver["tokens"]; ok {
		t.Error("forgot_password must not issue a session")
	}

	runJSON(t, a, "reset-password", "-token", token, "-password", "new-password")
	err := run(context.Background(), a.Auth, []string{"reset-password", "-token", token, "-password", "again-password"}, &bytes.Buffer{})
	if err == nil {
		t.Fatal("second reset with the same token should fail")
	}
	if exitCode(err) != 3 {
		t.Errorf("exit code = %d, want 3 (%v)", exitCode(err), err)
	}
}

func TestRun_LoginRefreshLogout(t *testing.T) {
	a := newApp(t)
	userID := runJSON(t, a, "register", "-phone", "9876543210")["user_id"].(string)
	runJSON(t, a, "request", "-user", userID, "-purpose", "login")
	ver := runJSON(t, a, "verify", "-user", userID, "-purpose", "login", "-code", "000000")
	tokens := ver["tokens"].(map[string]any)
	refreshed := runJSON(t, a, "refresh", "-token", tokens["refresh_token"].(string))
	if refreshed["refresh_token"] == tokens["refresh_token"] {
		t.Error("refresh should rotate the refresh token")
	}
	runJSON(t, a, "logout", "-user", userID)
	err := run(context.Background(), a.Auth, []string{"refresh", "-token", refreshed["refresh_token"].(string)}, &bytes.Buffer{})
	if !errors.Is(err, otp.ErrNotFound) {
		t.Errorf("refresh after logout err = %v, want ErrNotFound", err)
	}
}

func TestRun_WrongCode(t *testing.T) {
	a := newApp(t)
	userID := runJSON(t, a, "register", "-phone", "9876543210")["user_id"].(string)
	runJSON(t, a, "request", "-user", userID, "-purpose", "verification")
	err := run(context.Background(), a.Auth, []string{"verify", "-user", userID, "-purpose", "verification", "-code", "123456"}, &bytes.Buffer{})
	if !errors.Is(err, otp.ErrMismatch) {
		t.Fatalf("err = %v, want ErrMismatch", err)
	}
	if describe(err) != "wrong code" {
		t.Errorf("describe = %q", describe(err))
	}
}

func TestRun_Usage(t *testing.T) {
	a := newApp(t)
	for _, args := range [][]string{nil, {"explode"}, {"verify", "-bogus"}} {
		err := run(context.Background(), a.Auth, args, &bytes.Buffer{})
		if !errors.Is(err, errUsage) {
			t.Errorf("run(%v) err = %v, want errUsage", args, err)
		}
		if exitCode(err) != 2 {
			t.Errorf("run(%v) exit code = %d, want 2", args, exitCode(err))
		}
	}
}
