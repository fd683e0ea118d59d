// otpctl is a support CLI over the auth facade: register users, request and verify codes,
// refresh and revoke sessions, and complete password resets. It uses the store selected by
// STORE_DRIVER, so state only carries across invocations with postgres or mongo.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"leadflow/backend/internal/app"
	"leadflow/backend/internal/config"
	identityservice "leadflow/backend/internal/identity/service"
	"leadflow/backend/internal/logging"
	"leadflow/backend/internal/otp"
	sessionservice "leadflow/backend/internal/session/service"
	userdomain "leadflow/backend/internal/user/domain"
)

const usage = `usage: otpctl <command> [flags]

commands:
  register        -email -phone -name -password
  request         -user -purpose [-channel sms|email]
  verify          -user -purpose -code
  refresh         -token
  logout          -user
  reset-password  -token -password [-user]
`

// authAPI is the part of the auth facade the CLI drives.
type authAPI interface {
	Register(ctx context.Context, email, phone, name, password string) (*userdomain.User, error)
	RequestOTP(ctx context.Context, userID, purpose, channelHint string) (*identityservice.RequestResult, error)
	VerifyOTP(ctx context.Context, userID, code, purpose string) (*identityservice.VerifyResult, error)
	Refresh(ctx context.Context, refreshToken string) (*sessionservice.TokenPair, error)
	Logout(ctx context.Context, userID string) error
	ResetPassword(ctx context.Context, userID, resetToken, newPassword string) error
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.Env)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "app:", err)
		os.Exit(1)
	}
	err = run(ctx, a.Auth, os.Args[1:], os.Stdout)
	_ = a.Close(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "otpctl:", describe(err))
		os.Exit(exitCode(err))
	}
}

func run(ctx context.Context, auth authAPI, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var (
		userID   = fs.String("user", "", "user id")
		purpose  = fs.String("purpose", "", "login, verification or forgot_password")
		channel  = fs.String("channel", "", "sms or email; empty prefers the phone")
		code     = fs.String("code", "", "one-time code")
		token    = fs.String("token", "", "refresh or reset-verification token")
		email    = fs.String("email", "", "email address")
		phone    = fs.String("phone", "", "phone number")
		name     = fs.String("name", "", "display name")
		password = fs.String("password", "", "password")
	)
	if err := fs.Parse(rest); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	var result any
	switch cmd {
	case "register":
		u, err := auth.Register(ctx, *email, *phone, *name, *password)
		if err != nil {
			return err
		}
		result = map[string]any{"user_id": u.ID, "email": u.Email, "phone": u.Phone}
	case "request":
		res, err := auth.RequestOTP(ctx, *userID, *purpose, *channel)
		if err != nil {
			return err
		}
		result = map[string]any{"channel": res.Channel, "sent_to": res.SentTo, "expires_at": res.ExpiresAt}
	case "verify":
		res, err := auth.VerifyOTP(ctx, *userID, *code, *purpose)
		if err != nil {
			return err
		}
		m := map[string]any{"user_id": res.UserID, "purpose": res.Purpose, "verified": res.Verified}
		if res.Tokens != nil {
			m["tokens"] = tokenJSON(res.Tokens)
		}
		if res.ResetToken != "" {
			m["reset_token"] = res.ResetToken
			m["reset_expires_at"] = res.ResetExpiresAt
		}
		result = m
	case "refresh":
		pair, err := auth.Refresh(ctx, *token)
		if err != nil {
			return err
		}
		result = tokenJSON(pair)
	case "logout":
		if err := auth.Logout(ctx, *userID); err != nil {
			return err
		}
		result = map[string]any{"revoked": true}
	case "reset-password":
		if err := auth.ResetPassword(ctx, *userID, *token, *password); err != nil {
			return err
		}
		result = map[string]any{"password_reset": true}
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

var errUsage = errors.New("invalid usage")

func tokenJSON(p *sessionservice.TokenPair) map[string]any {
	return map[string]any{
		"user_id":            p.UserID,
		"access_token":       p.AccessToken,
		"access_expires_at":  p.AccessExpiresAt,
		"refresh_token":      p.RefreshToken,
		"refresh_expires_at": p.RefreshExpiresAt,
	}
}

// describe turns code failures into the user-facing reason.
func describe(err error) string {
	if otp.IsInvalidCode(err) {
		return otp.Reason(err)
	}
	if errors.Is(err, errUsage) {
		return err.Error() + "\n" + usage
	}
	return err.Error()
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, errUsage), errors.Is(err, otp.ErrValidation):
		return 2
	case otp.IsInvalidCode(err), errors.Is(err, sessionservice.ErrInvalidToken):
		return 3
	case errors.Is(err, otp.ErrRateLimited):
		return 4
	default:
		return 1
	}
}
