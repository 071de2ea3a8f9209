package domain

import (
	"time"

	"github.com/google/uuid"
)

// Identity is the durable record of one registered account.
type Identity struct {
	ID               uuid.UUID
	Identifier       string // short account-facing code, immutable once assigned
	Email            string
	CredentialDigest string
	DisplayName      string
	Company          string
	Phone            string
	IsActive         bool
	IsVerified       bool
	OTPCode          string     // empty means no live OTP
	OTPIssuedAt      *time.Time // nil means no live OTP
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IssueOTP records code as the single live OTP, replacing any previous one.
func (i *Identity) IssueOTP(code string, now time.Time) {
	issued := now
	i.OTPCode = code
	i.OTPIssuedAt = &issued
}

// ClearOTP consumes the live OTP.
func (i *Identity) ClearOTP() {
	i.OTPCode = ""
	i.OTPIssuedAt = nil
}

// HasLiveOTP reports whether both OTP fields are populated.
func (i *Identity) HasLiveOTP() bool {
	return i.OTPCode != "" && i.OTPIssuedAt != nil
}

// OTPValid reports whether code matches the live OTP and was issued no more
// than expiry ago. Comparison is on the string form so leading zeros count.
func (i *Identity) OTPValid(code string, now time.Time, expiry time.Duration) bool {
	if !i.HasLiveOTP() {
		return false
	}
	if i.OTPCode != code {
		return false
	}
	return now.Sub(*i.OTPIssuedAt) <= expiry
}

// Activate marks the identity as verified and allowed to log in.
func (i *Identity) Activate() {
	i.IsActive = true
	i.IsVerified = true
}
