// Package otp holds the code generator, code hashing and the error kinds shared by the OTP subsystem.
package otp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

const (
	// DefaultCodeLength is the number of digits in a generated code.
	DefaultCodeLength = 6
	MinCodeLength     = 4
	MaxCodeLength     = 6
)

// GenerateCode returns length uniformly random decimal digits; leading zeros are kept.
// A non-positive length means DefaultCodeLength.
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		length = DefaultCodeLength
	}
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("otp: generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n), nil
}

// NormalizeCode trims the candidate and checks it is MinCodeLength..MaxCodeLength ASCII digits.
func NormalizeCode(candidate string) (string, error) {
	c := strings.TrimSpace(candidate)
	if c == "" {
		return "", fmt.Errorf("%w: code is required", ErrValidation)
	}
	if len(c) < MinCodeLength || len(c) > MaxCodeLength {
		return "", fmt.Errorf("%w: code must be %d-%d digits", ErrValidation, MinCodeLength, MaxCodeLength)
	}
	for i := 0; i < len(c); i++ {
		if c[i] < '0' || c[i] > '9' {
			return "", fmt.Errorf("%w: code must contain digits only", ErrValidation)
		}
	}
	return c, nil
}

// HashCode returns a SHA-256 hash of the code, hex-encoded.
func HashCode(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}

// CodeEqual compares the provided code's hash with the stored hash in constant time.
func CodeEqual(provided, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashCode(provided)), []byte(storedHash)) == 1
}

// MasterMatch reports whether candidate equals the configured master code. An empty master never matches.
func MasterMatch(candidate, master string) bool {
	if master == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(master)) == 1
}
