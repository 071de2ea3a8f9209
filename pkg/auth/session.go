package auth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tendant/adminportal/pkg/domain"
)

const (
	// Token lengths
	refreshTokenLen = 32

	// Default token lifetimes
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour

	accessTokenUse = "access"
)

// SessionConfig holds session configuration.
type SessionConfig struct {
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	JWTSecret       []byte
	Issuer          string
}

// SessionService establishes and manages authenticated sessions.
type SessionService struct {
	config     SessionConfig
	sessions   SessionStore
	identities IdentityStore
}

// NewSessionService creates a new session service.
func NewSessionService(config SessionConfig, sessions SessionStore, identities IdentityStore) *SessionService {
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	return &SessionService{
		config:     config,
		sessions:   sessions,
		identities: identities,
	}
}

// AccessTokenTTL returns the access token TTL.
func (s *SessionService) AccessTokenTTL() time.Duration {
	return s.config.AccessTokenTTL
}

// RefreshTokenTTL returns the refresh token TTL.
func (s *SessionService) RefreshTokenTTL() time.Duration {
	return s.config.RefreshTokenTTL
}

// IssueSessionOpts holds options for session issuance.
type IssueSessionOpts struct {
	IP        string
	UserAgent string
}

// AccessTokenClaims represents the claims in an access token.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	Use        string `json:"use"`
	Identifier string `json:"identifier"`
	Email      string `json:"email,omitempty"`
	Name       string `json:"name,omitempty"`
}

// IssueSession creates a new session bound to identity and returns
// access/refresh tokens.
func (s *SessionService) IssueSession(ctx context.Context, identity *domain.Identity, opts IssueSessionOpts) (*domain.TokenPair, error) {
	now := time.Now()

	// Refresh token is opaque and stored hashed
	refreshToken, err := GenerateToken(refreshTokenLen)
	if err != nil {
		return nil, err
	}

	session := &domain.Session{
		ID:         uuid.New(),
		IdentityID: identity.ID,
		TokenHash:  HashToken(refreshToken),
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.config.RefreshTokenTTL),
	}

	if opts.IP != "" || opts.UserAgent != "" {
		metadataJSON, _ := json.Marshal(domain.SessionMetadata{
			IP:        opts.IP,
			UserAgent: opts.UserAgent,
		})
		session.Metadata = metadataJSON
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	return s.tokenPair(identity, session.ID, refreshToken, now)
}

// RefreshSession issues a new access token for a valid refresh token.
func (s *SessionService) RefreshSession(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	session, err := s.sessions.GetByTokenHash(ctx, HashToken(refreshToken))
	if err != nil {
		return nil, err
	}

	if !session.IsValid() {
		if session.RevokedAt != nil {
			return nil, domain.ErrSessionRevoked
		}
		return nil, domain.ErrSessionExpired
	}

	identity, err := s.identities.Find(ctx, domain.ByID(session.IdentityID))
	if err != nil {
		return nil, err
	}
	if !identity.IsActive {
		return nil, domain.ErrAccountNotActive
	}

	_ = s.sessions.UpdateLastSeen(ctx, session.ID)

	return s.tokenPair(identity, session.ID, refreshToken, time.Now())
}

// RevokeSession revokes a session by refresh token.
func (s *SessionService) RevokeSession(ctx context.Context, refreshToken string) error {
	return s.sessions.RevokeByTokenHash(ctx, HashToken(refreshToken))
}

// RevokeAllSessions revokes all sessions of an identity.
func (s *SessionService) RevokeAllSessions(ctx context.Context, identityID uuid.UUID) error {
	return s.sessions.RevokeAllByIdentityID(ctx, identityID)
}

// ValidateAccessToken validates an access token and returns the claims.
func (s *SessionService) ValidateAccessToken(tokenString string) (*AccessTokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessTokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrInvalidToken
		}
		return s.config.JWTSecret, nil
	})
	if err != nil {
		return nil, domain.ErrInvalidToken
	}

	claims, ok := token.Claims.(*AccessTokenClaims)
	if !ok || !token.Valid || claims.Use != accessTokenUse {
		return nil, domain.ErrInvalidToken
	}

	return claims, nil
}

func (s *SessionService) tokenPair(identity *domain.Identity, sessionID uuid.UUID, refreshToken string, now time.Time) (*domain.TokenPair, error) {
	accessTokenExpiry := now.Add(s.config.AccessTokenTTL)
	claims := AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessTokenExpiry),
			Issuer:    s.config.Issuer,
			ID:        sessionID.String(),
		},
		Use:        accessTokenUse,
		Identifier: identity.Identifier,
		Email:      identity.Email,
		Name:       identity.DisplayName,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	accessToken, err := token.SignedString(s.config.JWTSecret)
	if err != nil {
		return nil, err
	}

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.config.AccessTokenTTL.Seconds()),
		ExpiresAt:    accessTokenExpiry,
	}, nil
}
