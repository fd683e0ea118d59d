package security

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrPasswordTooShort is returned by CheckPasswordLength.
	ErrPasswordTooShort = errors.New("password too short")
	// ErrPasswordTooLong is returned for passwords bcrypt would silently truncate.
	ErrPasswordTooLong = errors.New("password longer than 72 bytes")
)

// maxPasswordBytes is bcrypt's input limit.
const maxPasswordBytes = 72

// Hasher stores passwords as bcrypt hashes.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher for cost. Zero means bcrypt.DefaultCost; other values are
// clamped to [bcrypt.MinCost, bcrypt.MaxCost].
func NewHasher(cost int) *Hasher {
	switch {
	case cost == 0:
		cost = bcrypt.DefaultCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	return &Hasher{cost: cost}
}

func (h *Hasher) Cost() int { return h.cost }

// Hash returns the bcrypt hash of password.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) > maxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Matches reports whether password hashes to hash. An empty hash never matches.
func (h *Hasher) Matches(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// CheckPasswordLength requires at least min characters (runes, not bytes).
func CheckPasswordLength(password string, min int) error {
	if utf8.RuneCountInString(password) < min {
		return fmt.Errorf("%w: must be at least %d characters", ErrPasswordTooShort, min)
	}
	return nil
}
