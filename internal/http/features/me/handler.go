package me

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/tendant/adminportal/internal/http/middleware"
	"github.com/tendant/adminportal/internal/httputil"
	"github.com/tendant/adminportal/pkg/auth"
	"github.com/tendant/adminportal/pkg/domain"
)

// Handler handles the profile endpoint.
type Handler struct {
	logger     *slog.Logger
	identities auth.IdentityStore
}

// NewHandler creates a new me handler.
func NewHandler(logger *slog.Logger, identities auth.IdentityStore) *Handler {
	return &Handler{
		logger:     logger,
		identities: identities,
	}
}

// ProfileResponse represents the profile of the signed in identity.
type ProfileResponse struct {
	ID          string    `json:"id"`
	Identifier  string    `json:"identifier"`
	Email       string    `json:"email"`
	MaskedEmail string    `json:"masked_email"`
	Name        string    `json:"name"`
	Company     string    `json:"company,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	IsActive    bool      `json:"is_active"`
	IsVerified  bool      `json:"is_verified"`
	CreatedAt   time.Time `json:"created_at"`
}

// GetMe returns the current identity's profile.
// GET /v1/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	identityID, ok := middleware.GetIdentityID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	identity, err := h.identities.Find(r.Context(), domain.ByID(identityID))
	if err != nil {
		if errors.Is(err, domain.ErrIdentityNotFound) {
			httputil.Error(w, http.StatusNotFound, "identity not found")
			return
		}
		h.logger.Error("failed to load profile", "error", err, "identity_id", identityID)
		httputil.Error(w, http.StatusInternalServerError, "failed to load profile")
		return
	}

	httputil.JSON(w, http.StatusOK, ProfileResponse{
		ID:          identity.ID.String(),
		Identifier:  identity.Identifier,
		Email:       identity.Email,
		MaskedEmail: auth.MaskEmail(identity.Email),
		Name:        identity.DisplayName,
		Company:     identity.Company,
		Phone:       identity.Phone,
		IsActive:    identity.IsActive,
		IsVerified:  identity.IsVerified,
		CreatedAt:   identity.CreatedAt,
	})
}
