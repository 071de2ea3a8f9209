package password

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tendant/adminportal/internal/http/features/common"
	"github.com/tendant/adminportal/internal/httputil"
	"github.com/tendant/adminportal/pkg/auth"
	"github.com/tendant/adminportal/pkg/domain"
)

// Handler handles the three step password reset.
type Handler struct {
	logger         *slog.Logger
	accountService *auth.AccountService
	flowTTL        time.Duration
	cookieConfig   httputil.CookieConfig
}

// NewHandler creates a new password reset handler.
func NewHandler(
	logger *slog.Logger,
	accountService *auth.AccountService,
	flowTTL time.Duration,
	cookieConfig httputil.CookieConfig,
) *Handler {
	return &Handler{
		logger:         logger,
		accountService: accountService,
		flowTTL:        flowTTL,
		cookieConfig:   cookieConfig,
	}
}

// ForgotRequest starts a password reset.
type ForgotRequest struct {
	Email string `json:"email"`
}

// ForgotResponse tells the client where the reset code went.
type ForgotResponse struct {
	MaskedEmail string `json:"masked_email"`
	FlowToken   string `json:"flow_token,omitempty"`
	Message     string `json:"message"`
}

// VerifyOTPRequest carries the emailed reset code.
type VerifyOTPRequest struct {
	FlowToken string `json:"flow_token,omitempty"`
	Code      string `json:"code"`
}

// VerifyOTPResponse carries the continuation for the final step.
type VerifyOTPResponse struct {
	FlowToken string `json:"flow_token,omitempty"`
	Message   string `json:"message"`
}

// ResetRequest sets the new password.
type ResetRequest struct {
	FlowToken       string `json:"flow_token,omitempty"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Forgot emails a reset code to a registered address.
// POST /v1/auth/password/forgot
func (h *Handler) Forgot(w http.ResponseWriter, r *http.Request) {
	var req ForgotRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	result, err := h.accountService.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to start password reset")
		return
	}

	httputil.JSON(w, http.StatusOK, ForgotResponse{
		MaskedEmail: result.MaskedEmail,
		FlowToken:   httputil.DeliverFlowToken(w, r, result.FlowToken, h.flowTTL, h.cookieConfig),
		Message:     "Reset code sent to " + result.MaskedEmail,
	})
}

// VerifyOTP redeems the reset code.
// POST /v1/auth/password/verify-otp
func (h *Handler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	flowToken := httputil.FlowTokenFromRequest(r, req.FlowToken)
	if flowToken == "" {
		httputil.Error(w, http.StatusBadRequest, domain.ErrInvalidFlowToken.Error())
		return
	}

	result, err := h.accountService.VerifyPasswordResetOTP(r.Context(), flowToken, req.Code)
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to verify reset code")
		return
	}

	httputil.JSON(w, http.StatusOK, VerifyOTPResponse{
		FlowToken: httputil.DeliverFlowToken(w, r, result.FlowToken, h.flowTTL, h.cookieConfig),
		Message:   "Code verified, choose a new password",
	})
}

// Reset sets the new password.
// POST /v1/auth/password/reset
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	flowToken := httputil.FlowTokenFromRequest(r, req.FlowToken)
	if flowToken == "" {
		httputil.Error(w, http.StatusBadRequest, domain.ErrMissingResetContext.Error())
		return
	}

	if err := h.accountService.ResetPassword(r.Context(), flowToken, req.Password, req.ConfirmPassword); err != nil {
		common.WriteError(w, h.logger, err, "failed to reset password")
		return
	}

	if !httputil.IsMobileClient(r) {
		httputil.ClearFlowCookie(w, h.cookieConfig)
		httputil.ClearAuthCookies(w, h.cookieConfig)
	}

	httputil.JSON(w, http.StatusOK, common.MessageResponse{
		Message: "Password reset successful, log in with your new password",
	})
}

// PolicyResponse describes the password rules for form hints.
type PolicyResponse struct {
	Requirements     string `json:"requirements"`
	MinLength        int    `json:"min_length"`
	RequireUppercase bool   `json:"require_uppercase"`
	RequireLowercase bool   `json:"require_lowercase"`
	RequireNumber    bool   `json:"require_number"`
	RequireSpecial   bool   `json:"require_special"`
}

// Policy returns the password policy applied to new credentials.
// GET /v1/auth/password/policy
func (h *Handler) Policy(w http.ResponseWriter, r *http.Request) {
	policy := h.accountService.PasswordPolicy()
	httputil.JSON(w, http.StatusOK, PolicyResponse{
		Requirements:     policy.GetRequirements(),
		MinLength:        policy.MinLength,
		RequireUppercase: policy.RequireUppercase,
		RequireLowercase: policy.RequireLowercase,
		RequireNumber:    policy.RequireNumber,
		RequireSpecial:   policy.RequireSpecial,
	})
}
