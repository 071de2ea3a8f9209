package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/tendant/adminportal/internal/config"
	"github.com/tendant/adminportal/internal/httputil"
	"github.com/tendant/adminportal/pkg/auth"
)

// Rate limiter groups
const (
	LimitAuth    = "auth"
	LimitOTP     = "otp"
	LimitReset   = "reset"
	LimitRefresh = "refresh"
	LimitProfile = "profile"
)

// RateLimitConfig holds rate limiting configuration for a specific endpoint type.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	Logger   *slog.Logger
}

// RateLimit creates a client-IP rate limiter middleware with logging.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.Requests,
		cfg.Window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return auth.ClientIP(r), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Logger != nil {
				cfg.Logger.Warn("rate limit exceeded",
					"ip", auth.ClientIP(r),
					"path", r.URL.Path,
					"method", r.Method,
					"user_agent", r.UserAgent(),
				)
			}
			httputil.Error(w, http.StatusTooManyRequests, "rate limit exceeded. please try again later")
		}),
	)
}

// NoRateLimit returns a no-op middleware when rate limiting is disabled.
func NoRateLimit() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return next
	}
}

// CreateRateLimiters creates rate limiting middleware functions based on configuration.
func CreateRateLimiters(cfg config.RateLimitConfig, logger *slog.Logger) map[string]func(http.Handler) http.Handler {
	if !cfg.Enabled {
		noOp := NoRateLimit()
		return map[string]func(http.Handler) http.Handler{
			LimitAuth:    noOp,
			LimitOTP:     noOp,
			LimitReset:   noOp,
			LimitRefresh: noOp,
			LimitProfile: noOp,
		}
	}

	limit := func(requests, minutes int) func(http.Handler) http.Handler {
		return RateLimit(RateLimitConfig{
			Requests: requests,
			Window:   time.Duration(minutes) * time.Minute,
			Logger:   logger,
		})
	}

	return map[string]func(http.Handler) http.Handler{
		LimitAuth:    limit(cfg.AuthRequestsPerMinute, cfg.AuthWindowMinutes),
		LimitOTP:     limit(cfg.OTPRequestsPerWindow, cfg.OTPWindowMinutes),
		LimitReset:   limit(cfg.ResetRequestsPerWindow, cfg.ResetWindowMinutes),
		LimitRefresh: limit(cfg.RefreshRequestsPerMinute, cfg.RefreshWindowMinutes),
		LimitProfile: limit(cfg.ProfileRequestsPerMinute, cfg.ProfileWindowMinutes),
	}
}
