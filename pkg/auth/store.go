package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/adminportal/pkg/domain"
)

// IdentityStore persists identities. Implementations must enforce email and
// identifier uniqueness atomically at creation time.
type IdentityStore interface {
	// Create inserts identity, assigning a fresh Identifier when it is empty.
	// Returns domain.ErrDuplicateEmail if the email is taken.
	Create(ctx context.Context, identity *domain.Identity) error
	// Find returns the identity addressed by key or domain.ErrIdentityNotFound.
	Find(ctx context.Context, key domain.IdentityKey) (*domain.Identity, error)
	// Save persists the full current state of identity.
	Save(ctx context.Context, identity *domain.Identity) error
	// Update loads the identity addressed by key, applies fn and persists the
	// result as one serialized read-modify-write. Nothing is persisted if fn
	// returns an error.
	Update(ctx context.Context, key domain.IdentityKey, fn func(*domain.Identity) error) (*domain.Identity, error)
}

// SessionStore persists login sessions.
type SessionStore interface {
	Create(ctx context.Context, session *domain.Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error)
	RevokeByTokenHash(ctx context.Context, tokenHash string) error
	RevokeAllByIdentityID(ctx context.Context, identityID uuid.UUID) error
	UpdateLastSeen(ctx context.Context, id uuid.UUID) error
}

// PermitStore holds one-time password reset permits.
type PermitStore interface {
	// Grant records a permit for email that lapses after ttl.
	Grant(ctx context.Context, id, email string, ttl time.Duration) error
	// Peek returns the permit's email without consuming it, or
	// domain.ErrMissingResetContext.
	Peek(ctx context.Context, id string) (string, error)
	// Consume atomically removes the permit and returns its email, or
	// domain.ErrMissingResetContext if it was already consumed or lapsed.
	Consume(ctx context.Context, id string) (string, error)
}

// EmailSender delivers plain text email.
type EmailSender interface {
	Send(to, subject, body string) error
}

// CredentialHasher hashes and verifies secrets.
type CredentialHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) bool
}
