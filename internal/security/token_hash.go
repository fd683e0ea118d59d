package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashToken returns a SHA-256 hash of a bearer token, hex-encoded.
// Refresh and reset-verification tokens are stored only in this form.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// TokenHashEqual compares the provided token's hash with storedHash in constant time.
// An empty storedHash never matches.
func TokenHashEqual(providedToken, storedHash string) bool {
	if storedHash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashToken(providedToken)), []byte(storedHash)) == 1
}
