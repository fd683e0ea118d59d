package domain

import (
	"fmt"
	"time"
)

// Purpose is the reason an OTP was issued.
type Purpose string

const (
	PurposeLogin          Purpose = "login"
	PurposeVerification   Purpose = "verification"
	PurposeForgotPassword Purpose = "forgot_password"

	// Reserved; stored records may carry them but they are not accepted from callers.
	PurposeEnable2FA  Purpose = "enable_2fa"
	PurposeDisable2FA Purpose = "disable_2fa"
)

// ParsePurpose accepts only the externally supported purposes.
func ParsePurpose(s string) (Purpose, error) {
	switch p := Purpose(s); p {
	case PurposeLogin, PurposeVerification, PurposeForgotPassword:
		return p, nil
	default:
		return "", fmt.Errorf("unsupported purpose %q", s)
	}
}

// Label returns a human-readable purpose used in message templates.
func (p Purpose) Label() string {
	switch p {
	case PurposeLogin:
		return "Login"
	case PurposeVerification:
		return "Account Verification"
	case PurposeForgotPassword:
		return "Password Reset"
	case PurposeEnable2FA:
		return "Enable Two-Factor Authentication"
	case PurposeDisable2FA:
		return "Disable Two-Factor Authentication"
	default:
		return string(p)
	}
}

// Channel is the transport a code was dispatched over.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// ParseChannel returns the channel for s. Empty input yields an empty channel (caller picks a default).
func ParseChannel(s string) (Channel, error) {
	switch c := Channel(s); c {
	case "", ChannelSMS, ChannelEmail:
		return c, nil
	default:
		return "", fmt.Errorf("unsupported channel %q", s)
	}
}

// Record is a persisted one-time passcode.
// Used moves false->true exactly once; after that only the reset-verification
// fields may change.
type Record struct {
	ID        string
	UserID    string
	Purpose   Purpose
	Channel   Channel
	CodeHash  string
	ExpiresAt time.Time
	Used      bool
	UsedAt    *time.Time
	// ResetTokenHash and ResetExpiresAt are set only on forgot_password records after verification.
	ResetTokenHash string
	ResetExpiresAt *time.Time
	// PurgeAt is when background expiry may delete the record.
	PurgeAt   time.Time
	CreatedAt time.Time
}

// IsAnchor reports whether the record carries no code. Anchors only hold a reset token
// for a master-code verification and are invisible to code selection.
func (r *Record) IsAnchor() bool {
	return r.CodeHash == ""
}

// Expired reports whether the code is past its validity at now.
func (r *Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// ResetTokenLive reports whether an attached reset-verification token is still usable at now.
func (r *Record) ResetTokenLive(now time.Time) bool {
	return r.ResetTokenHash != "" && r.ResetExpiresAt != nil && now.Before(*r.ResetExpiresAt)
}
