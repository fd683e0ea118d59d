package otp

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestGenerateCode_LengthAndDigits(t *testing.T) {
	for _, length := range []int{4, 5, 6} {
		code, err := GenerateCode(length)
		if err != nil {
			t.Fatalf("GenerateCode(%d): %v", length, err)
		}
		if len(code) != length {
			t.Errorf("len(code) = %d, want %d", len(code), length)
		}
		for _, c := range code {
			if c < '0' || c > '9' {
				t.Errorf("code %q contains non-digit %q", code, c)
			}
		}
	}
}

func TestGenerateCode_DefaultLength(t *testing.T) {
	code, err := GenerateCode(0)
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	if len(code) != DefaultCodeLength {
		t.Errorf("len(code) = %d, want %d", len(code), DefaultCodeLength)
	}
}

func TestGenerateCode_NotConstant(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := GenerateCode(6)
		if err != nil {
			t.Fatalf("GenerateCode: %v", err)
		}
		seen[code] = true
	}
	if len(seen) < 2 {
		t.Errorf("50 generated codes produced %d distinct values", len(seen))
	}
}

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain", "482913", "482913", false},
		{"trimmed", "  482913\n", "482913", false},
		{"four digits", "0042", "0042", false},
		{"empty", "", "", true},
		{"whitespace only", "   ", "", true},
		{"too short", "123", "", true},
		{"too long", "1234567", "", true},
		{"letters", "12a456", "", true},
		{"inner space", "123 456", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeCode(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("err = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeCode: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCodeEqual(t *testing.T) {
	stored := HashCode("482913")
	if !CodeEqual("482913", stored) {
		t.Error("CodeEqual should match the same code")
	}
	if CodeEqual("482912", stored) {
		t.Error("CodeEqual should not match a different code")
	}
	if HashCode("482913") == "482913" {
		t.Error("HashCode must not return the plain code")
	}
}

func TestMasterMatch(t *testing.T) {
	if MasterMatch("999999", "") {
		t.Error("empty master must never match")
	}
	if !MasterMatch("999999", "999999") {
		t.Error("MasterMatch should match the configured master")
	}
	if MasterMatch("999998", "999999") {
		t.Error("MasterMatch should not match a different code")
	}
}

func TestIsInvalidCodeAndReason(t *testing.T) {
	for _, err := range []error{ErrNotFound, ErrAlreadyUsed, ErrExpired, ErrMismatch} {
		wrapped := fmt.Errorf("verify: %w", err)
		if !IsInvalidCode(wrapped) {
			t.Errorf("IsInvalidCode(%v) = false, want true", wrapped)
		}
	}
	if IsInvalidCode(ErrValidation) {
		t.Error("ErrValidation is not an invalid-code kind")
	}
	if Reason(ErrMismatch) == Reason(ErrExpired) || Reason(ErrExpired) == Reason(ErrAlreadyUsed) {
		t.Error("Reason must distinguish wrong, expired and used codes")
	}
}

func TestRateLimitError(t *testing.T) {
	err := error(&RateLimitError{RetryAfter: 30 * time.Second, Reason: "please wait"})
	if !errors.Is(err, ErrRateLimited) {
		t.Error("RateLimitError should unwrap to ErrRateLimited")
	}
	if got := err.Error(); got != "please wait; try again in 30 seconds" {
		t.Errorf("Error() = %q", got)
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "verified"},
		{ErrMismatch, "mismatch"},
		{fmt.Errorf("wrap: %w", ErrExpired), "expired"},
		{ErrAlreadyUsed, "already_used"},
		{ErrNotFound, "not_found"},
		{ErrValidation, "invalid"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		if got := Outcome(tt.err); got != tt.want {
			t.Errorf("Outcome(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
