package session

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/tendant/adminportal/internal/http/middleware"
	"github.com/tendant/adminportal/internal/httputil"
	"github.com/tendant/adminportal/pkg/auth"
	"github.com/tendant/adminportal/pkg/domain"
)

// Handler handles session endpoints.
type Handler struct {
	logger         *slog.Logger
	sessionService *auth.SessionService
	cookieConfig   httputil.CookieConfig
}

// NewHandler creates a new session handler.
func NewHandler(logger *slog.Logger, sessionService *auth.SessionService, cookieConfig httputil.CookieConfig) *Handler {
	return &Handler{
		logger:         logger,
		sessionService: sessionService,
		cookieConfig:   cookieConfig,
	}
}

// RefreshRequest represents a token refresh request (for mobile clients).
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LogoutRequest represents a logout request (for mobile clients).
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh refreshes an access token.
// POST /v1/auth/refresh
//
// For web clients: Reads refresh token from cookie, sets new cookies.
// For mobile clients: Reads/returns tokens in request/response body.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var refreshToken string

	if httputil.IsMobileClient(r) {
		var req RefreshRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		refreshToken = req.RefreshToken
	} else {
		var ok bool
		refreshToken, ok = httputil.GetRefreshTokenFromCookie(r)
		if !ok {
			httputil.Error(w, http.StatusUnauthorized, "refresh token not found")
			return
		}
	}

	if refreshToken == "" {
		httputil.Error(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	tokens, err := h.sessionService.RefreshSession(r.Context(), refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSessionNotFound),
			errors.Is(err, domain.ErrSessionExpired),
			errors.Is(err, domain.ErrSessionRevoked),
			errors.Is(err, domain.ErrAccountNotActive),
			errors.Is(err, domain.ErrIdentityNotFound):
			// Clear cookies on invalid token for web clients
			if !httputil.IsMobileClient(r) {
				httputil.ClearAuthCookies(w, h.cookieConfig)
			}
			httputil.Error(w, http.StatusUnauthorized, "invalid or expired refresh token")
		default:
			h.logger.Error("failed to refresh session", "error", err)
			httputil.Error(w, http.StatusInternalServerError, "failed to refresh token")
		}
		return
	}

	httputil.WriteTokens(w, r, http.StatusOK, tokens,
		h.sessionService.AccessTokenTTL(), h.sessionService.RefreshTokenTTL(), h.cookieConfig)
}

// Logout revokes a session.
// POST /v1/auth/logout
//
// For web clients: Reads refresh token from cookie, clears cookies.
// For mobile clients: Reads token from request body.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var refreshToken string

	if httputil.IsMobileClient(r) {
		var req LogoutRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		refreshToken = req.RefreshToken
	} else {
		refreshToken, _ = httputil.GetRefreshTokenFromCookie(r)
	}

	if refreshToken != "" {
		// Revoke session (ignore errors to prevent enumeration attacks)
		_ = h.sessionService.RevokeSession(r.Context(), refreshToken)
	}

	if !httputil.IsMobileClient(r) {
		httputil.ClearAuthCookies(w, h.cookieConfig)
	}

	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll revokes all sessions for the current identity.
// POST /v1/auth/logout/all
// Requires authentication
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	identityID, ok := middleware.GetIdentityID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.sessionService.RevokeAllSessions(r.Context(), identityID); err != nil {
		h.logger.Error("failed to revoke sessions", "error", err, "identity_id", identityID)
		httputil.Error(w, http.StatusInternalServerError, "failed to logout all sessions")
		return
	}

	if !httputil.IsMobileClient(r) {
		httputil.ClearAuthCookies(w, h.cookieConfig)
	}

	w.WriteHeader(http.StatusNoContent)
}
