package domain

import "errors"

// Account workflow errors
var (
	ErrDuplicateEmail      = errors.New("email already registered")
	ErrIdentityNotFound    = errors.New("identity not found")
	ErrInvalidOrExpiredOTP = errors.New("invalid or expired OTP")
	ErrAccountNotActive    = errors.New("account not active, verify email first")
	ErrLoginFailed         = errors.New("login failed, invalid credentials")
	ErrEmailNotFound       = errors.New("email not found")
	ErrPasswordMismatch    = errors.New("passwords do not match")
	ErrMissingResetContext = errors.New("password reset not permitted, start again")
	ErrEmailDeliveryFailed = errors.New("failed to deliver email")
	ErrInvalidFlowToken    = errors.New("invalid or expired flow token")
)

// Session errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionRevoked  = errors.New("session revoked")
	ErrInvalidToken    = errors.New("invalid token")
)

// Validation errors
var (
	ErrInvalidEmail = errors.New("invalid email address")
	ErrInvalidPhone = errors.New("enter valid 10 digit phone starting with 6-9")
	ErrWeakPassword = errors.New("password does not meet requirements")
)
