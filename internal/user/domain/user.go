package domain

import (
	"errors"
	"strings"
	"time"
)

// DefaultRole is assigned to users created without an explicit role.
const DefaultRole = "user"

// User is the account entity. It carries the verified flag, the password hash and the
// single current refresh token (stored hashed), which is the point of session revocation.
type User struct {
	ID       string
	Email    string
	Name     string
	Phone    string // optional; default destination for SMS codes
	Role     string
	Verified bool

	PasswordHash string

	RefreshTokenHash      string     // SHA-256 of the current refresh token; empty when logged out
	RefreshTokenExpiresAt *time.Time // nil when no refresh token is stored

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Email == "" && u.Phone == "" {
		return errors.New("email or phone is required")
	}
	if u.Role == "" {
		u.Role = DefaultRole
	}
	return nil
}

// HasRefreshToken reports whether a refresh token is currently stored.
func (u *User) HasRefreshToken() bool {
	return u.RefreshTokenHash != ""
}
