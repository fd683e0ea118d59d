package otp

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds. Wrapped errors keep their kind; check with errors.Is.
var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("no active code")
	ErrAlreadyUsed = errors.New("code already used")
	ErrExpired     = errors.New("code expired")
	ErrMismatch    = errors.New("code does not match")
	// ErrNotConfigured is a deployment defect (missing provider credentials), not a delivery failure.
	ErrNotConfigured = errors.New("channel not configured")
	// ErrDeliveryFailed is returned by issuance when real dispatch exhausted its retries.
	ErrDeliveryFailed = errors.New("failed to send code, try again")
	ErrRateLimited    = errors.New("too many code requests")
)

// RateLimitError carries how long the caller should wait.
type RateLimitError struct {
	RetryAfter time.Duration
	Reason     string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s; try again in %d seconds", e.Reason, int(e.RetryAfter.Seconds()))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// IsInvalidCode reports whether err is one of the "invalid or expired code" kinds.
func IsInvalidCode(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyUsed) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrMismatch)
}

// Reason returns the user-facing reason for a verification failure.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrMismatch):
		return "wrong code"
	case errors.Is(err, ErrExpired):
		return "code expired, request a new one"
	case errors.Is(err, ErrAlreadyUsed):
		return "code already used, request a new one"
	case errors.Is(err, ErrNotFound):
		return "no active code, request a new one"
	case errors.Is(err, ErrValidation):
		return "invalid request"
	case errors.Is(err, ErrRateLimited):
		return "too many requests, try again later"
	case errors.Is(err, ErrDeliveryFailed):
		return ErrDeliveryFailed.Error()
	default:
		return "internal error"
	}
}

// Outcome returns a short label for a verification result, used for metrics and events.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "verified"
	case errors.Is(err, ErrMismatch):
		return "mismatch"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrAlreadyUsed):
		return "already_used"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
