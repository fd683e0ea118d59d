package repository

import (
	"context"
	"sync"
	"time"

	"leadflow/backend/internal/otp/domain"
)

// MemoryRepository is an in-process Repository, used with STORE_DRIVER=memory and in tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	records []*domain.Record
}

// NewMemoryRepository returns an empty in-memory OTP repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) Create(ctx context.Context, r *domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *r
	m.records = append(m.records, &c)
	return nil
}

func (m *MemoryRepository) Latest(ctx context.Context, userID string, purpose domain.Purpose) (*domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *domain.Record
	for _, r := range m.records {
		if r.UserID != userID || r.Purpose != purpose || r.IsAnchor() {
			continue
		}
		// Later inserts win ties on created_at.
		if latest == nil || !r.CreatedAt.Before(latest.CreatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	c := *latest
	return &c, nil
}

func (m *MemoryRepository) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.find(id)
	if r == nil || r.Used {
		return false, nil
	}
	r.Used = true
	usedAt := at
	r.UsedAt = &usedAt
	return true, nil
}

func (m *MemoryRepository) AttachResetToken(ctx context.Context, id, tokenHash string, expiresAt, purgeAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r := m.find(id); r != nil {
		exp := expiresAt
		r.ResetTokenHash = tokenHash
		r.ResetExpiresAt = &exp
		if purgeAt.After(r.PurgeAt) {
			r.PurgeAt = purgeAt
		}
	}
	return nil
}

func (m *MemoryRepository) GetByResetToken(ctx context.Context, userID, tokenHash string) (*domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.records) - 1; i >= 0; i-- {
		r := m.records[i]
		if r.UserID == userID && r.Purpose == domain.PurposeForgotPassword && r.ResetTokenHash != "" && r.ResetTokenHash == tokenHash {
			c := *r
			return &c, nil
		}
	}
	return nil, nil
}

func (m *MemoryRepository) ExpireResetToken(ctx context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.find(id)
	if r == nil || r.ResetExpiresAt == nil || !r.ResetExpiresAt.After(at) {
		return false, nil
	}
	exp := at
	r.ResetExpiresAt = &exp
	return true, nil
}

func (m *MemoryRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	var n int64
	for _, r := range m.records {
		if r.PurgeAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return n, nil
}

func (m *MemoryRepository) find(id string) *domain.Record {
	for _, r := range m.records {
		if r.ID == id {
			return r
		}
	}
	return nil
}
