package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/adminportal/pkg/domain"
)

// MemorySessions is an in-process SessionStore.
type MemorySessions struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session // keyed by token hash
}

// NewMemorySessions creates an empty in-memory session store.
func NewMemorySessions() *MemorySessions {
	return &MemorySessions{sessions: make(map[string]*domain.Session)}
}

func (m *MemorySessions) Create(_ context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *session
	m.sessions[session.TokenHash] = &c
	return nil
}

func (m *MemorySessions) GetByTokenHash(_ context.Context, tokenHash string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[tokenHash]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	c := *s
	return &c, nil
}

func (m *MemorySessions) RevokeByTokenHash(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[tokenHash]; ok && s.RevokedAt == nil {
		now := time.Now()
		s.RevokedAt = &now
	}
	return nil
}

func (m *MemorySessions) RevokeAllByIdentityID(_ context.Context, identityID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, s := range m.sessions {
		if s.IdentityID == identityID && s.RevokedAt == nil {
			revoked := now
			s.RevokedAt = &revoked
		}
	}
	return nil
}

func (m *MemorySessions) UpdateLastSeen(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, s := range m.sessions {
		if s.ID == id && s.RevokedAt == nil {
			seen := now
			s.LastSeenAt = &seen
		}
	}
	return nil
}

// DeleteExpired drops sessions that expired or were revoked before the
// given duration ago.
func (m *MemorySessions) DeleteExpired(_ context.Context, olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var n int64
	for hash, s := range m.sessions {
		if s.ExpiresAt.Before(cutoff) || (s.RevokedAt != nil && s.RevokedAt.Before(cutoff)) {
			delete(m.sessions, hash)
			n++
		}
	}
	return n, nil
}
