package domain

import "github.com/google/uuid"

// KeyKind selects which unique attribute an IdentityKey refers to.
type KeyKind int

const (
	KeyID KeyKind = iota + 1
	KeyEmail
	KeyIdentifier
)

func (k KeyKind) String() string {
	switch k {
	case KeyID:
		return "id"
	case KeyEmail:
		return "email"
	case KeyIdentifier:
		return "identifier"
	default:
		return "unknown"
	}
}

// IdentityKey addresses exactly one identity by one of its unique attributes.
// Stores never fall back from one kind to another.
type IdentityKey struct {
	Kind  KeyKind
	Value string
}

// ByID returns a key for the identity's primary key.
func ByID(id uuid.UUID) IdentityKey {
	return IdentityKey{Kind: KeyID, Value: id.String()}
}

// ByEmail returns a key for the identity's email.
func ByEmail(email string) IdentityKey {
	return IdentityKey{Kind: KeyEmail, Value: email}
}

// ByIdentifier returns a key for the identity's short identifier.
func ByIdentifier(identifier string) IdentityKey {
	return IdentityKey{Kind: KeyIdentifier, Value: identifier}
}
