// Package portal embeds the admin portal account service in another
// application.
//
// Basic usage:
//
//	db, _ := sql.Open("postgres", "postgres://localhost/myapp?sslmode=disable")
//
//	p, err := portal.New(ctx, portal.Config{
//	    DB:          db,
//	    AutoMigrate: true,
//	    JWTSecret:   "your-secret-key-at-least-32-chars",
//	    Email:       mySender,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	mux := http.NewServeMux()
//	mux.Handle("/", p.Handler())
//
// Without a DB the portal keeps identities and sessions in memory. Without
// a Redis client reset permits are kept in memory too.
package portal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/pquerna/otp"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/adminportal/internal/config"
	httpserver "github.com/tendant/adminportal/internal/http"
	"github.com/tendant/adminportal/internal/http/middleware"
	"github.com/tendant/adminportal/internal/notification"
	"github.com/tendant/adminportal/pkg/auth"
	"github.com/tendant/adminportal/pkg/domain"
	"github.com/tendant/adminportal/pkg/repository"
)

// Config holds the configuration for an embedded portal.
type Config struct {
	// DB is the Postgres connection. Nil selects the in-memory store.
	DB *sql.DB

	// AutoMigrate applies the embedded migrations to DB on New.
	AutoMigrate bool

	// Redis holds reset permits when set.
	Redis *redis.Client

	// Email delivers OTP mail (default: log only).
	Email auth.EmailSender

	// JWTSecret signs access and flow tokens (required, min 32 chars).
	JWTSecret string

	// JWTIssuer is the issuer claim in JWT tokens (default: "adminportal").
	JWTIssuer string

	// AccessTokenTTL is the lifetime of access tokens (default: 15 minutes).
	AccessTokenTTL time.Duration

	// RefreshTokenTTL is the lifetime of refresh tokens (default: 7 days).
	RefreshTokenTTL time.Duration

	// OTPDigits is 6 or 8 (default: 6).
	OTPDigits int

	// OTPExpiry is how long an emailed code stays valid (default: 10 minutes).
	OTPExpiry time.Duration

	// RateLimit configures per-endpoint limits (default: disabled).
	RateLimit config.RateLimitConfig

	// Logger is the structured logger (default: JSON to stdout).
	Logger *slog.Logger
}

// Portal is an embedded account service instance.
type Portal struct {
	config     Config
	identities auth.IdentityStore
	sessions   *auth.SessionService
	accounts   *auth.AccountService
	flows      *auth.FlowTokens
}

// New creates a portal with the given configuration. With a DB it fails
// if the schema is missing and AutoMigrate is off.
func New(ctx context.Context, cfg Config) (*Portal, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	var (
		identities auth.IdentityStore
		sessions   auth.SessionStore
	)
	if cfg.DB != nil {
		if cfg.AutoMigrate {
			if err := repository.Migrate(ctx, cfg.DB); err != nil {
				return nil, fmt.Errorf("portal: %w", err)
			}
		} else if err := validateSchema(ctx, cfg.DB); err != nil {
			return nil, err
		}
		identities = repository.NewIdentitiesRepository(cfg.DB)
		sessions = repository.NewSessionsRepository(cfg.DB)
	} else {
		identities = repository.NewMemoryIdentities()
		sessions = repository.NewMemorySessions()
	}

	var permits auth.PermitStore = repository.NewMemoryPermits()
	if cfg.Redis != nil {
		permits = repository.NewRedisPermits(cfg.Redis)
	}

	sessionService := auth.NewSessionService(auth.SessionConfig{
		AccessTokenTTL:  cfg.AccessTokenTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
		JWTSecret:       []byte(cfg.JWTSecret),
		Issuer:          cfg.JWTIssuer,
	}, sessions, identities)

	flows := auth.NewFlowTokens(auth.FlowConfig{
		Secret: []byte(cfg.JWTSecret),
		Issuer: cfg.JWTIssuer,
	})

	accounts := auth.NewAccountService(auth.AccountDeps{
		Logger:     cfg.Logger,
		Identities: identities,
		OTPs: auth.NewOTPService(auth.OTPConfig{
			Digits: otp.Digits(cfg.OTPDigits),
			Expiry: cfg.OTPExpiry,
		}, identities),
		Email:    cfg.Email,
		Flows:    flows,
		Permits:  permits,
		Sessions: sessionService,
	})

	return &Portal{
		config:     cfg,
		identities: identities,
		sessions:   sessionService,
		accounts:   accounts,
		flows:      flows,
	}, nil
}

// Handler returns the full HTTP surface, including /health.
func (p *Portal) Handler() http.Handler {
	return httpserver.NewRouter(httpserver.RouterConfig{
		Logger:          p.config.Logger,
		AccountService:  p.accounts,
		SessionService:  p.sessions,
		Identities:      p.identities,
		FlowTokenTTL:    p.flows.TTL(),
		MaxBodyBytes:    1 << 20,
		RateLimitConfig: p.config.RateLimit,
	})
}

// Accounts returns the account workflow service for direct use.
func (p *Portal) Accounts() *auth.AccountService {
	return p.accounts
}

// AuthMiddleware returns middleware that validates access tokens.
// Use this to protect your own routes:
//
//	mux.Handle("/admin/", p.AuthMiddleware()(adminHandler))
func (p *Portal) AuthMiddleware() func(http.Handler) http.Handler {
	return middleware.Auth(p.sessions)
}

// GetIdentityID extracts the identity ID from a request.
// Use after AuthMiddleware.
func GetIdentityID(r *http.Request) (string, bool) {
	id, ok := middleware.GetIdentityID(r.Context())
	if !ok {
		return "", false
	}
	return id.String(), true
}

// Identity is the profile returned by GetIdentity.
type Identity struct {
	ID         string
	Identifier string
	Email      string
	Name       string
	IsVerified bool
}

// GetIdentity loads the signed in identity.
// Use after AuthMiddleware.
func (p *Portal) GetIdentity(r *http.Request) (*Identity, error) {
	id, ok := middleware.GetIdentityID(r.Context())
	if !ok {
		return nil, errors.New("identity not authenticated")
	}

	i, err := p.identities.Find(r.Context(), domain.ByID(id))
	if err != nil {
		return nil, err
	}

	return &Identity{
		ID:         i.ID.String(),
		Identifier: i.Identifier,
		Email:      i.Email,
		Name:       i.DisplayName,
		IsVerified: i.IsVerified,
	}, nil
}

func validateConfig(cfg *Config) error {
	if cfg.JWTSecret == "" {
		return errors.New("portal: JWTSecret is required")
	}
	if len(cfg.JWTSecret) < 32 {
		return errors.New("portal: JWTSecret must be at least 32 characters")
	}
	if cfg.OTPDigits != 0 && cfg.OTPDigits != 6 && cfg.OTPDigits != 8 {
		return fmt.Errorf("portal: OTPDigits must be 6 or 8, got %d", cfg.OTPDigits)
	}
	if cfg.OTPExpiry >= auth.DefaultFlowTTL {
		return fmt.Errorf("portal: OTPExpiry must be shorter than %v", auth.DefaultFlowTTL)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.JWTIssuer == "" {
		cfg.JWTIssuer = "adminportal"
	}
	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = auth.DefaultAccessTokenTTL
	}
	if cfg.RefreshTokenTTL == 0 {
		cfg.RefreshTokenTTL = auth.DefaultRefreshTokenTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	if cfg.Email == nil {
		cfg.Email = notification.NewLogSender(cfg.Logger)
	}
}

// validateSchema checks that required database tables exist.
func validateSchema(ctx context.Context, db *sql.DB) error {
	requiredTables := []string{"identities", "sessions"}

	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name = $1
	`

	for _, table := range requiredTables {
		var name string
		err := db.QueryRowContext(ctx, query, table).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("portal: missing table '%s' - run migrations first or set AutoMigrate", table)
		}
		if err != nil {
			return fmt.Errorf("portal: failed to check schema: %w", err)
		}
	}

	return nil
}
