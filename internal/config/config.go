package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds application configuration.
type Config struct {
	// Server
	ServerAddr      string
	ServerPort      int
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	LogLevel        string

	// Storage
	StoreDriver string
	DBHost      string
	DBPort      int
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string
	RedisURL    string

	// JWT
	JWTSecret       string
	JWTIssuer       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	FlowTokenTTL    time.Duration

	// Cookies
	CookieSecure bool
	CookieDomain string

	// CORSAllowedOrigins lists browser origins allowed to call the API.
	// Empty disables CORS handling.
	CORSAllowedOrigins []string

	MetricsEnabled bool

	OTP             OTPConfig
	PasswordPolicy  PasswordPolicyConfig
	SMTP            SMTPConfig
	RateLimit       RateLimitConfig
	SecurityHeaders SecurityHeadersConfig
}

// OTPConfig holds one-time code settings.
type OTPConfig struct {
	Digits int
	Expiry time.Duration
}

// PasswordPolicyConfig holds password complexity settings.
type PasswordPolicyConfig struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireNumber    bool
	RequireSpecial   bool
}

// SMTPConfig holds outgoing mail settings. An empty Host logs mail instead
// of sending it.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	FromName string
}

// RateLimitConfig holds per-endpoint-group rate limits.
type RateLimitConfig struct {
	Enabled bool

	AuthRequestsPerMinute int
	AuthWindowMinutes     int

	OTPRequestsPerWindow int
	OTPWindowMinutes     int

	ResetRequestsPerWindow int
	ResetWindowMinutes     int

	RefreshRequestsPerMinute int
	RefreshWindowMinutes     int

	ProfileRequestsPerMinute int
	ProfileWindowMinutes     int
}

// SecurityHeadersConfig holds response security header settings.
type SecurityHeadersConfig struct {
	Enabled            bool
	CSP                string
	HSTSMaxAge         int
	FrameOptions       string
	ContentTypeOptions string
	XSSProtection      string
	ReferrerPolicy     string
	PermissionsPolicy  string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		// Server defaults
		ServerAddr:      getEnv("SERVER_ADDR", "0.0.0.0"),
		ServerPort:      getEnvInt("SERVER_PORT", 8080),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxBodyBytes:    int64(getEnvInt("MAX_BODY_BYTES", 1<<20)),
		LogLevel:        getEnv("LOG_LEVEL", "info"),

		// Storage defaults (matches podman setup: make postgres-start)
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnvInt("DB_PORT", 25432),
		DBUser:      getEnv("DB_USER", "postgres"),
		DBPassword:  getEnv("DB_PASSWORD", "postgres"),
		DBName:      getEnv("DB_NAME", "adminportal"),
		DBSSLMode:   getEnv("DB_SSLMODE", "disable"),
		RedisURL:    getEnv("REDIS_URL", ""),

		// JWT defaults
		JWTSecret:       getEnv("JWT_SECRET", ""),
		JWTIssuer:       getEnv("JWT_ISSUER", "adminportal"),
		AccessTokenTTL:  getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL: getEnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		FlowTokenTTL:    getEnvDuration("FLOW_TOKEN_TTL", 30*time.Minute),

		CookieSecure: getEnvBool("COOKIE_SECURE", false),
		CookieDomain: getEnv("COOKIE_DOMAIN", ""),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),

		OTP: OTPConfig{
			Digits: getEnvInt("OTP_DIGITS", 6),
			Expiry: getEnvDuration("OTP_EXPIRY", 10*time.Minute),
		},

		PasswordPolicy: PasswordPolicyConfig{
			MinLength:        getEnvInt("PASSWORD_MIN_LENGTH", 8),
			RequireUppercase: getEnvBool("PASSWORD_REQUIRE_UPPERCASE", true),
			RequireLowercase: getEnvBool("PASSWORD_REQUIRE_LOWERCASE", true),
			RequireNumber:    getEnvBool("PASSWORD_REQUIRE_NUMBER", true),
			RequireSpecial:   getEnvBool("PASSWORD_REQUIRE_SPECIAL", true),
		},

		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvInt("SMTP_PORT", 587),
			User:     getEnv("SMTP_USER", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "noreply@localhost"),
			FromName: getEnv("SMTP_FROM_NAME", "Admin Portal"),
		},

		RateLimit: RateLimitConfig{
			Enabled:                  getEnvBool("RATE_LIMIT_ENABLED", true),
			AuthRequestsPerMinute:    getEnvInt("RATE_LIMIT_AUTH_REQUESTS", 10),
			AuthWindowMinutes:        getEnvInt("RATE_LIMIT_AUTH_WINDOW_MINUTES", 1),
			OTPRequestsPerWindow:     getEnvInt("RATE_LIMIT_OTP_REQUESTS", 5),
			OTPWindowMinutes:         getEnvInt("RATE_LIMIT_OTP_WINDOW_MINUTES", 10),
			ResetRequestsPerWindow:   getEnvInt("RATE_LIMIT_RESET_REQUESTS", 3),
			ResetWindowMinutes:       getEnvInt("RATE_LIMIT_RESET_WINDOW_MINUTES", 60),
			RefreshRequestsPerMinute: getEnvInt("RATE_LIMIT_REFRESH_REQUESTS", 30),
			RefreshWindowMinutes:     getEnvInt("RATE_LIMIT_REFRESH_WINDOW_MINUTES", 1),
			ProfileRequestsPerMinute: getEnvInt("RATE_LIMIT_PROFILE_REQUESTS", 60),
			ProfileWindowMinutes:     getEnvInt("RATE_LIMIT_PROFILE_WINDOW_MINUTES", 1),
		},

		SecurityHeaders: SecurityHeadersConfig{
			Enabled:            getEnvBool("SECURITY_HEADERS_ENABLED", true),
			CSP:                getEnv("SECURITY_HEADERS_CSP", "default-src 'self'; frame-ancestors 'none'"),
			HSTSMaxAge:         getEnvInt("SECURITY_HEADERS_HSTS_MAX_AGE", 31536000),
			FrameOptions:       getEnv("SECURITY_HEADERS_FRAME_OPTIONS", "DENY"),
			ContentTypeOptions: getEnv("SECURITY_HEADERS_CONTENT_TYPE_OPTIONS", "nosniff"),
			XSSProtection:      getEnv("SECURITY_HEADERS_XSS_PROTECTION", "1; mode=block"),
			ReferrerPolicy:     getEnv("SECURITY_HEADERS_REFERRER_POLICY", "strict-origin-when-cross-origin"),
			PermissionsPolicy:  getEnv("SECURITY_HEADERS_PERMISSIONS_POLICY", "geolocation=(), microphone=(), camera=()"),
		},
	}

	// Validate required fields
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, cfg.StoreDriver)
	}

	if cfg.OTP.Digits != 6 && cfg.OTP.Digits != 8 {
		return nil, fmt.Errorf("OTP_DIGITS must be 6 or 8, got %d", cfg.OTP.Digits)
	}

	if cfg.FlowTokenTTL <= cfg.OTP.Expiry {
		return nil, fmt.Errorf("FLOW_TOKEN_TTL (%v) must exceed OTP_EXPIRY (%v)", cfg.FlowTokenTTL, cfg.OTP.Expiry)
	}

	return cfg, nil
}

// DatabaseURL returns the Postgres connection string.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// HasSMTP returns true if outgoing mail is configured.
func (c *Config) HasSMTP() bool {
	return c.SMTP.Host != ""
}

// HasRedis returns true if a Redis URL is configured.
func (c *Config) HasRedis() bool {
	return c.RedisURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
