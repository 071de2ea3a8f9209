package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/adminportal/pkg/auth"
	"github.com/tendant/adminportal/pkg/domain"
)

// MemoryIdentities is an in-process IdentityStore. All access is serialized
// by a single mutex; callers always receive copies.
type MemoryIdentities struct {
	mu           sync.Mutex
	byID         map[uuid.UUID]*domain.Identity
	byEmail      map[string]uuid.UUID
	byIdentifier map[string]uuid.UUID
}

// NewMemoryIdentities creates an empty in-memory identity store.
func NewMemoryIdentities() *MemoryIdentities {
	return &MemoryIdentities{
		byID:         make(map[uuid.UUID]*domain.Identity),
		byEmail:      make(map[string]uuid.UUID),
		byIdentifier: make(map[string]uuid.UUID),
	}
}

// Create inserts identity, assigning a free identifier if it has none.
func (m *MemoryIdentities) Create(ctx context.Context, identity *domain.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byEmail[identity.Email]; ok {
		return domain.ErrDuplicateEmail
	}

	if identity.Identifier == "" {
		identifier, err := auth.NextFreeIdentifier(ctx, func(_ context.Context, candidate string) (bool, error) {
			_, taken := m.byIdentifier[candidate]
			return taken, nil
		})
		if err != nil {
			return err
		}
		identity.Identifier = identifier
	} else if _, ok := m.byIdentifier[identity.Identifier]; ok {
		return fmt.Errorf("identifier %s already assigned", identity.Identifier)
	}

	if identity.ID == uuid.Nil {
		identity.ID = uuid.New()
	}
	now := time.Now()
	identity.CreatedAt = now
	identity.UpdatedAt = now

	stored := cloneIdentity(identity)
	m.byID[stored.ID] = stored
	m.byEmail[stored.Email] = stored.ID
	m.byIdentifier[stored.Identifier] = stored.ID
	return nil
}

// Find returns a copy of the identity addressed by key.
func (m *MemoryIdentities) Find(_ context.Context, key domain.IdentityKey) (*domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.lookup(key)
	if err != nil {
		return nil, err
	}
	return cloneIdentity(stored), nil
}

// Save replaces the stored state of identity. Email and identifier are
// immutable and are not re-indexed.
func (m *MemoryIdentities) Save(_ context.Context, identity *domain.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.byID[identity.ID]
	if !ok {
		return domain.ErrIdentityNotFound
	}
	m.replace(stored, identity)
	return nil
}

// Update applies fn to a copy of the identity under the store lock and
// stores the result only if fn succeeds.
func (m *MemoryIdentities) Update(_ context.Context, key domain.IdentityKey, fn func(*domain.Identity) error) (*domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.lookup(key)
	if err != nil {
		return nil, err
	}

	working := cloneIdentity(stored)
	if err := fn(working); err != nil {
		return nil, err
	}
	m.replace(stored, working)
	return cloneIdentity(m.byID[stored.ID]), nil
}

func (m *MemoryIdentities) lookup(key domain.IdentityKey) (*domain.Identity, error) {
	var (
		id uuid.UUID
		ok bool
	)
	switch key.Kind {
	case domain.KeyID:
		parsed, err := uuid.Parse(key.Value)
		if err != nil {
			return nil, domain.ErrIdentityNotFound
		}
		id, ok = parsed, true
	case domain.KeyEmail:
		id, ok = m.byEmail[key.Value]
	case domain.KeyIdentifier:
		id, ok = m.byIdentifier[key.Value]
	default:
		return nil, fmt.Errorf("unsupported identity key kind %d", key.Kind)
	}
	if !ok {
		return nil, domain.ErrIdentityNotFound
	}

	stored, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrIdentityNotFound
	}
	return stored, nil
}

// replace copies mutable fields from next into the stored record.
func (m *MemoryIdentities) replace(stored, next *domain.Identity) {
	updated := cloneIdentity(next)
	updated.ID = stored.ID
	updated.Email = stored.Email
	updated.Identifier = stored.Identifier
	updated.CreatedAt = stored.CreatedAt
	updated.UpdatedAt = time.Now()
	m.byID[stored.ID] = updated
}

func cloneIdentity(i *domain.Identity) *domain.Identity {
	c := *i
	if i.OTPIssuedAt != nil {
		issued := *i.OTPIssuedAt
		c.OTPIssuedAt = &issued
	}
	return &c
}
