package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/adminportal/internal/config"
	"github.com/tendant/adminportal/internal/http/features/account"
	"github.com/tendant/adminportal/internal/http/features/me"
	"github.com/tendant/adminportal/internal/http/features/password"
	"github.com/tendant/adminportal/internal/http/features/session"
	"github.com/tendant/adminportal/internal/http/middleware"
	"github.com/tendant/adminportal/internal/httputil"
	"github.com/tendant/adminportal/pkg/auth"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger          *slog.Logger
	AccountService  *auth.AccountService
	SessionService  *auth.SessionService
	Identities      auth.IdentityStore
	FlowTokenTTL    time.Duration
	MaxBodyBytes    int64
	RateLimitConfig config.RateLimitConfig
	SecurityHeaders config.SecurityHeadersConfig
	CookieSecure    bool
	CookieDomain    string
	AllowedOrigins  []string
	// Metrics exposes /metrics from this registry when set.
	Metrics *prometheus.Registry
}

// NewRouter creates a new HTTP router with all routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	cookies := httputil.DefaultCookieConfig()
	cookies.Secure = cfg.CookieSecure
	cookies.Domain = cfg.CookieDomain

	// Apply global middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.Recover(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(middleware.NewMetrics(cfg.Metrics).Handler)
	}
	r.Use(middleware.SecurityHeaders(cfg.SecurityHeaders))
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Client-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	if cfg.MaxBodyBytes > 0 {
		r.Use(middleware.RequestSizeLimit(cfg.MaxBodyBytes))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Metrics, promhttp.HandlerOpts{}))
	}

	rateLimiters := middleware.CreateRateLimiters(cfg.RateLimitConfig, cfg.Logger)
	requireAuth := middleware.Auth(cfg.SessionService)

	accountHandler := account.NewHandler(cfg.Logger, cfg.AccountService, cfg.SessionService, cfg.FlowTokenTTL, cookies)
	r.Group(func(r chi.Router) {
		r.Use(rateLimiters[middleware.LimitAuth])
		r.Post("/v1/auth/register", accountHandler.Register)
		r.Post("/v1/auth/login", accountHandler.Login)
	})
	r.Group(func(r chi.Router) {
		r.Use(rateLimiters[middleware.LimitOTP])
		r.Post("/v1/auth/verify-otp", accountHandler.VerifyOTP)
		r.Post("/v1/auth/resend-otp", accountHandler.ResendOTP)
	})

	passwordHandler := password.NewHandler(cfg.Logger, cfg.AccountService, cfg.FlowTokenTTL, cookies)
	r.Get("/v1/auth/password/policy", passwordHandler.Policy)
	r.Group(func(r chi.Router) {
		r.Use(rateLimiters[middleware.LimitReset])
		r.Post("/v1/auth/password/forgot", passwordHandler.Forgot)
	})
	r.Group(func(r chi.Router) {
		r.Use(rateLimiters[middleware.LimitOTP])
		r.Post("/v1/auth/password/verify-otp", passwordHandler.VerifyOTP)
		r.Post("/v1/auth/password/reset", passwordHandler.Reset)
	})

	sessionHandler := session.NewHandler(cfg.Logger, cfg.SessionService, cookies)
	r.Group(func(r chi.Router) {
		r.Use(rateLimiters[middleware.LimitRefresh])
		r.Post("/v1/auth/refresh", sessionHandler.Refresh)
	})
	r.Post("/v1/auth/logout", sessionHandler.Logout)
	r.With(requireAuth).Post("/v1/auth/logout/all", sessionHandler.LogoutAll)

	meHandler := me.NewHandler(cfg.Logger, cfg.Identities)
	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Use(rateLimiters[middleware.LimitProfile])
		r.Get("/v1/me", meHandler.GetMe)
	})

	return r
}
