package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"leadflow/backend/internal/user/domain"
)

// ErrDuplicateEmail is returned by Create when the email is taken.
var ErrDuplicateEmail = errors.New("email already registered")

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[string]*domain.User
	now   func() time.Time
}

// NewMemoryRepository returns an empty in-memory user repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[string]*domain.User), now: time.Now}
}

func (m *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.users[id]), nil
}

func (m *MemoryRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if email != "" && u.Email == email {
			return clone(u), nil
		}
	}
	return nil, nil
}

func (m *MemoryRepository) Create(ctx context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if u.Email != "" && existing.Email == u.Email {
			return ErrDuplicateEmail
		}
	}
	m.users[u.ID] = clone(u)
	return nil
}

func (m *MemoryRepository) SetRefreshToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	return m.update(userID, func(u *domain.User) {
		exp := expiresAt
		u.RefreshTokenHash = tokenHash
		u.RefreshTokenExpiresAt = &exp
	})
}

func (m *MemoryRepository) ClearRefreshToken(ctx context.Context, userID string) error {
	return m.update(userID, func(u *domain.User) {
		u.RefreshTokenHash = ""
		u.RefreshTokenExpiresAt = nil
	})
}

func (m *MemoryRepository) MarkVerified(ctx context.Context, userID string) error {
	if !m.apply(userID, func(u *domain.User) { u.Verified = true }) {
		return ErrNotFound
	}
	return nil
}

func (m *MemoryRepository) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	if !m.apply(userID, func(u *domain.User) { u.PasswordHash = passwordHash }) {
		return ErrNotFound
	}
	return nil
}

// update is a no-op for unknown users, matching the SQL UPDATE behaviour.
func (m *MemoryRepository) update(userID string, fn func(*domain.User)) error {
	m.apply(userID, fn)
	return nil
}

func (m *MemoryRepository) apply(userID string, fn func(*domain.User)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return false
	}
	fn(u)
	u.UpdatedAt = m.now().UTC()
	return true
}

func clone(u *domain.User) *domain.User {
	if u == nil {
		return nil
	}
	c := *u
	if u.RefreshTokenExpiresAt != nil {
		exp := *u.RefreshTokenExpiresAt
		c.RefreshTokenExpiresAt = &exp
	}
	return &c
}
