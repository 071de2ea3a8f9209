package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tendant/adminportal/pkg/auth"
	"github.com/tendant/adminportal/pkg/domain"
)

const (
	pqUniqueViolation = "23505"

	emailConstraint      = "identities_email_key"
	identifierConstraint = "identities_identifier_key"
)

const identityColumns = `id, identifier, email, credential_digest, display_name, company, phone,
	is_active, is_verified, otp_code, otp_issued_at, created_at, updated_at`

// IdentitiesRepository handles identity persistence in Postgres.
type IdentitiesRepository struct {
	db *sql.DB
}

// NewIdentitiesRepository creates a new identities repository.
func NewIdentitiesRepository(db *sql.DB) *IdentitiesRepository {
	return &IdentitiesRepository{db: db}
}

// Create inserts a new identity. An empty Identifier is filled with a free
// generated one; a unique violation on the identifier index retries with a
// fresh candidate, one on the email index returns domain.ErrDuplicateEmail.
func (r *IdentitiesRepository) Create(ctx context.Context, identity *domain.Identity) error {
	now := time.Now()
	if identity.ID == uuid.Nil {
		identity.ID = uuid.New()
	}
	identity.CreatedAt = now
	identity.UpdatedAt = now

	assign := identity.Identifier == ""
	query := `
		INSERT INTO identities (` + identityColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	for {
		if assign {
			identifier, err := auth.NextFreeIdentifier(ctx, r.identifierTaken)
			if err != nil {
				return err
			}
			identity.Identifier = identifier
		}

		_, err := r.db.ExecContext(ctx, query,
			identity.ID, identity.Identifier, identity.Email, identity.CredentialDigest,
			identity.DisplayName, identity.Company, identity.Phone,
			identity.IsActive, identity.IsVerified, identity.OTPCode, identity.OTPIssuedAt,
			identity.CreatedAt, identity.UpdatedAt,
		)
		if err == nil {
			return nil
		}

		switch uniqueViolation(err) {
		case emailConstraint:
			return domain.ErrDuplicateEmail
		case identifierConstraint:
			// Lost a race for the same identifier
			if assign {
				continue
			}
		}
		return err
	}
}

// Find retrieves the identity addressed by key.
func (r *IdentitiesRepository) Find(ctx context.Context, key domain.IdentityKey) (*domain.Identity, error) {
	return r.find(ctx, r.db, key, false)
}

// Save persists the full current state of identity.
func (r *IdentitiesRepository) Save(ctx context.Context, identity *domain.Identity) error {
	return r.save(ctx, r.db, identity)
}

// Update locks the identity row, applies fn and writes the result in one
// transaction.
func (r *IdentitiesRepository) Update(ctx context.Context, key domain.IdentityKey, fn func(*domain.Identity) error) (*domain.Identity, error) {
	var identity *domain.Identity
	err := Tx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		identity, err = r.find(ctx, tx, key, true)
		if err != nil {
			return err
		}
		if err := fn(identity); err != nil {
			return err
		}
		return r.save(ctx, tx, identity)
	})
	if err != nil {
		return nil, err
	}
	return identity, nil
}

func (r *IdentitiesRepository) identifierTaken(ctx context.Context, identifier string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM identities WHERE identifier = $1)`, identifier,
	).Scan(&exists)
	return exists, err
}

func (r *IdentitiesRepository) find(ctx context.Context, q Querier, key domain.IdentityKey, forUpdate bool) (*domain.Identity, error) {
	column, err := keyColumn(key.Kind)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + identityColumns + ` FROM identities WHERE ` + column + ` = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	identity := &domain.Identity{}
	err = q.QueryRowContext(ctx, query, key.Value).Scan(
		&identity.ID, &identity.Identifier, &identity.Email, &identity.CredentialDigest,
		&identity.DisplayName, &identity.Company, &identity.Phone,
		&identity.IsActive, &identity.IsVerified, &identity.OTPCode, &identity.OTPIssuedAt,
		&identity.CreatedAt, &identity.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrIdentityNotFound
	}
	if err != nil {
		return nil, err
	}
	return identity, nil
}

func (r *IdentitiesRepository) save(ctx context.Context, q Querier, identity *domain.Identity) error {
	identity.UpdatedAt = time.Now()
	query := `
		UPDATE identities
		SET credential_digest = $2, display_name = $3, company = $4, phone = $5,
		    is_active = $6, is_verified = $7, otp_code = $8, otp_issued_at = $9, updated_at = $10
		WHERE id = $1
	`
	result, err := q.ExecContext(ctx, query,
		identity.ID, identity.CredentialDigest, identity.DisplayName, identity.Company, identity.Phone,
		identity.IsActive, identity.IsVerified, identity.OTPCode, identity.OTPIssuedAt, identity.UpdatedAt,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrIdentityNotFound
	}
	return nil
}

// keyColumn maps a lookup kind to its indexed column.
func keyColumn(kind domain.KeyKind) (string, error) {
	switch kind {
	case domain.KeyID:
		return "id", nil
	case domain.KeyEmail:
		return "email", nil
	case domain.KeyIdentifier:
		return "identifier", nil
	default:
		return "", fmt.Errorf("unsupported identity key kind %d", kind)
	}
}

// uniqueViolation returns the violated constraint name, or "" if err is not
// a Postgres unique violation.
func uniqueViolation(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return pqErr.Constraint
	}
	return ""
}
