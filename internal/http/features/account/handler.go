package account

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/tendant/adminportal/internal/http/features/common"
	"github.com/tendant/adminportal/internal/httputil"
	"github.com/tendant/adminportal/pkg/auth"
	"github.com/tendant/adminportal/pkg/domain"
)

// Handler handles registration, verification and login endpoints.
type Handler struct {
	logger         *slog.Logger
	accountService *auth.AccountService
	sessionService *auth.SessionService
	flowTTL        time.Duration
	cookieConfig   httputil.CookieConfig
}

// NewHandler creates a new account handler.
func NewHandler(
	logger *slog.Logger,
	accountService *auth.AccountService,
	sessionService *auth.SessionService,
	flowTTL time.Duration,
	cookieConfig httputil.CookieConfig,
) *Handler {
	return &Handler{
		logger:         logger,
		accountService: accountService,
		sessionService: sessionService,
		flowTTL:        flowTTL,
		cookieConfig:   cookieConfig,
	}
}

// RegisterRequest represents a registration request.
type RegisterRequest struct {
	Name            string `json:"name"`
	Company         string `json:"company"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// PendingResponse tells the client where the verification code went.
// FlowToken is only set for mobile clients.
type PendingResponse struct {
	Error       string `json:"error,omitempty"`
	Identifier  string `json:"identifier"`
	MaskedEmail string `json:"masked_email"`
	FlowToken   string `json:"flow_token,omitempty"`
	Message     string `json:"message"`
}

// VerifyRequest represents an OTP verification request.
type VerifyRequest struct {
	FlowToken string `json:"flow_token,omitempty"`
	Code      string `json:"code"`
}

// VerifyResponse represents a successful verification.
type VerifyResponse struct {
	Identifier string `json:"identifier"`
	Message    string `json:"message"`
}

// ResendRequest represents a request for a fresh verification code.
type ResendRequest struct {
	Email string `json:"email"`
}

// LoginRequest represents a login request. Login is an email address or
// an account identifier.
type LoginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Register handles account registration.
// POST /v1/auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	result, err := h.accountService.Register(r.Context(), auth.RegistrationInput{
		Name:            req.Name,
		Company:         req.Company,
		Email:           req.Email,
		Phone:           req.Phone,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	h.writePending(w, r, result, err, http.StatusCreated, "registration failed")
}

// ResendOTP re-sends the verification code of a pending account.
// POST /v1/auth/resend-otp
func (h *Handler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req ResendRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	if req.Email == "" {
		httputil.FieldErrors(w, http.StatusBadRequest, "email is required", map[string]string{"email": "required"})
		return
	}

	result, err := h.accountService.ResendVerification(r.Context(), req.Email)
	h.writePending(w, r, result, err, http.StatusOK, "failed to resend code")
}

// writePending writes the outcome of a step that mailed a verification
// code. A failed delivery still hands out the flow token so the client can
// ask for a resend.
func (h *Handler) writePending(w http.ResponseWriter, r *http.Request, result *auth.RegisterResult, err error, status int, fallback string) {
	if err != nil && (result == nil || !errors.Is(err, domain.ErrEmailDeliveryFailed)) {
		common.WriteError(w, h.logger, err, fallback)
		return
	}

	resp := PendingResponse{
		Identifier:  result.Identifier,
		MaskedEmail: result.MaskedEmail,
		FlowToken:   httputil.DeliverFlowToken(w, r, result.FlowToken, h.flowTTL, h.cookieConfig),
		Message:     "Verification code sent to " + result.MaskedEmail,
	}
	if err != nil {
		resp.Error = domain.ErrEmailDeliveryFailed.Error()
		resp.Message = "Account saved but the verification email could not be sent, request a new code"
		status = http.StatusBadGateway
	}

	httputil.JSON(w, status, resp)
}

// VerifyOTP activates a pending account.
// POST /v1/auth/verify-otp
func (h *Handler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	flowToken := httputil.FlowTokenFromRequest(r, req.FlowToken)
	if flowToken == "" {
		httputil.Error(w, http.StatusBadRequest, domain.ErrInvalidFlowToken.Error())
		return
	}

	result, err := h.accountService.VerifyRegistration(r.Context(), flowToken, req.Code)
	if err != nil {
		common.WriteError(w, h.logger, err, "verification failed")
		return
	}

	if !httputil.IsMobileClient(r) {
		httputil.ClearFlowCookie(w, h.cookieConfig)
	}

	httputil.JSON(w, http.StatusOK, VerifyResponse{
		Identifier: result.Identifier,
		Message:    "Account verified, you can now log in",
	})
}

// Login authenticates with email or identifier and password.
// POST /v1/auth/login
//
// For web clients: Sets HttpOnly cookies, returns minimal response.
// For mobile clients (X-Client-Type: mobile): Returns tokens in response body.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	result, err := h.accountService.Login(r.Context(), req.Login, req.Password, auth.SessionOptsFromRequest(r))
	if err != nil {
		common.WriteError(w, h.logger, err, "login failed")
		return
	}

	httputil.WriteTokens(w, r, http.StatusOK, result.Tokens,
		h.sessionService.AccessTokenTTL(), h.sessionService.RefreshTokenTTL(), h.cookieConfig)
}
