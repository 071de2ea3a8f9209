package common

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/tendant/adminportal/internal/httputil"
	"github.com/tendant/adminportal/pkg/auth"
	"github.com/tendant/adminportal/pkg/domain"
)

// MessageResponse represents a simple message response.
type MessageResponse struct {
	Message string `json:"message"`
}

// WriteError maps an account workflow error to an HTTP response. Errors
// it does not recognize are logged and reported as 500 with fallback as
// the message.
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error, fallback string) {
	var verr *auth.ValidationError
	switch {
	case errors.As(err, &verr):
		httputil.FieldErrors(w, http.StatusBadRequest, "invalid input", verr.Fields)
	case errors.Is(err, domain.ErrDuplicateEmail):
		httputil.FieldErrors(w, http.StatusConflict, err.Error(), map[string]string{"email": err.Error()})
	case errors.Is(err, domain.ErrPasswordMismatch):
		httputil.FieldErrors(w, http.StatusBadRequest, err.Error(), map[string]string{"confirm_password": err.Error()})
	case errors.Is(err, domain.ErrInvalidOrExpiredOTP),
		errors.Is(err, domain.ErrInvalidFlowToken),
		errors.Is(err, domain.ErrMissingResetContext):
		httputil.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrLoginFailed):
		httputil.Error(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrAccountNotActive):
		httputil.Error(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrEmailNotFound),
		errors.Is(err, domain.ErrIdentityNotFound):
		httputil.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrEmailDeliveryFailed):
		httputil.Error(w, http.StatusBadGateway, domain.ErrEmailDeliveryFailed.Error())
	default:
		logger.Error(fallback, "error", err)
		httputil.Error(w, http.StatusInternalServerError, fallback)
	}
}
