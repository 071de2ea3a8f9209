package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pquerna/otp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/adminportal/internal/config"
	httpserver "github.com/tendant/adminportal/internal/http"
	"github.com/tendant/adminportal/internal/notification"
	"github.com/tendant/adminportal/pkg/auth"
	"github.com/tendant/adminportal/pkg/repository"
)

// sessionStore is a session store that can also drop stale rows.
type sessionStore interface {
	auth.SessionStore
	DeleteExpired(ctx context.Context, olderThan time.Duration) (int64, error)
}

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	identities, sessions, db, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	permits, rdb, err := openPermits(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// Initialize services
	sessionService := auth.NewSessionService(auth.SessionConfig{
		AccessTokenTTL:  cfg.AccessTokenTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
		JWTSecret:       []byte(cfg.JWTSecret),
		Issuer:          cfg.JWTIssuer,
	}, sessions, identities)

	flows := auth.NewFlowTokens(auth.FlowConfig{
		Secret: []byte(cfg.JWTSecret),
		Issuer: cfg.JWTIssuer,
		TTL:    cfg.FlowTokenTTL,
	})

	otps := auth.NewOTPService(auth.OTPConfig{
		Digits: otp.Digits(cfg.OTP.Digits),
		Expiry: cfg.OTP.Expiry,
	}, identities)

	var sender auth.EmailSender
	if cfg.HasSMTP() {
		sender = notification.NewEmailService(notification.EmailConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			User:     cfg.SMTP.User,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			FromName: cfg.SMTP.FromName,
		})
		logger.Info("email service enabled", "host", cfg.SMTP.Host)
	} else {
		sender = notification.NewLogSender(logger)
		logger.Warn("SMTP_HOST not set, emails will only be logged")
	}

	accountService := auth.NewAccountService(auth.AccountDeps{
		Logger:     logger,
		Identities: identities,
		OTPs:       otps,
		Email:      sender,
		Flows:      flows,
		Permits:    permits,
		Sessions:   sessionService,
		Policy:     auth.NewPasswordPolicy(cfg.PasswordPolicy),
	})

	var registry *prometheus.Registry
	if cfg.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		if db != nil {
			registry.MustRegister(collectors.NewDBStatsCollector(db, cfg.DBName))
		}
	}

	router := httpserver.NewRouter(httpserver.RouterConfig{
		Logger:          logger,
		AccountService:  accountService,
		SessionService:  sessionService,
		Identities:      identities,
		FlowTokenTTL:    flows.TTL(),
		MaxBodyBytes:    cfg.MaxBodyBytes,
		RateLimitConfig: cfg.RateLimit,
		SecurityHeaders: cfg.SecurityHeaders,
		CookieSecure:    cfg.CookieSecure,
		CookieDomain:    cfg.CookieDomain,
		AllowedOrigins:  cfg.CORSAllowedOrigins,
		Metrics:         registry,
	})

	go purgeSessions(ctx, logger, sessions, cfg.RefreshTokenTTL)

	addr := fmt.Sprintf("%s:%d", cfg.ServerAddr, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", addr, "store", cfg.StoreDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// openStores connects the identity and session stores selected by STORE_DRIVER.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (auth.IdentityStore, sessionStore, *sql.DB, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("using in-memory store, data is lost on restart")
		return repository.NewMemoryIdentities(), repository.NewMemorySessions(), nil, nil
	}

	db, err := repository.NewDB(ctx, cfg.DatabaseURL())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := repository.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("connected to database", "host", cfg.DBHost, "name", cfg.DBName)

	return repository.NewIdentitiesRepository(db), repository.NewSessionsRepository(db), db, nil
}

// openPermits picks Redis when REDIS_URL is set so permits survive restarts
// and are shared between replicas.
func openPermits(ctx context.Context, cfg *config.Config, logger *slog.Logger) (auth.PermitStore, *redis.Client, error) {
	if !cfg.HasRedis() {
		logger.Warn("REDIS_URL not set, reset permits are kept in memory")
		return repository.NewMemoryPermits(), nil, nil
	}

	client, err := repository.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to redis")
	return repository.NewRedisPermits(client), client, nil
}

// purgeSessions drops sessions that expired or were revoked more than
// retention ago, once an hour until ctx is done.
func purgeSessions(ctx context.Context, logger *slog.Logger, sessions sessionStore, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.DeleteExpired(ctx, retention)
			if err != nil {
				logger.Error("failed to purge sessions", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("purged sessions", "count", n)
			}
		}
	}
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}
