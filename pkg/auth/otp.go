package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/pquerna/otp"
	"github.com/tendant/adminportal/pkg/domain"
)

// Default OTP parameters
const (
	DefaultOTPDigits = otp.DigitsSix
	DefaultOTPExpiry = 600 * time.Second
)

// OTPConfig holds one-time code parameters.
type OTPConfig struct {
	Digits otp.Digits
	Expiry time.Duration
}

// OTPService issues, validates and clears the single live OTP of an identity.
// Every mutation goes through IdentityStore.Update so issue and clear are
// serialized per identity.
type OTPService struct {
	config     OTPConfig
	identities IdentityStore
	now        func() time.Time
}

// NewOTPService creates a new OTP service.
func NewOTPService(config OTPConfig, identities IdentityStore) *OTPService {
	if config.Digits == 0 {
		config.Digits = DefaultOTPDigits
	}
	if config.Expiry == 0 {
		config.Expiry = DefaultOTPExpiry
	}
	return &OTPService{
		config:     config,
		identities: identities,
		now:        time.Now,
	}
}

// Expiry returns the validity window of an issued code.
func (s *OTPService) Expiry() time.Duration {
	return s.config.Expiry
}

// Issue draws a fresh code, stores it with the current time on the identity
// (replacing any live code) and returns it.
func (s *OTPService) Issue(ctx context.Context, key domain.IdentityKey) (string, *domain.Identity, error) {
	code, err := generateOTPCode(s.config.Digits)
	if err != nil {
		return "", nil, err
	}

	identity, err := s.identities.Update(ctx, key, func(i *domain.Identity) error {
		i.IssueOTP(code, s.now())
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	return code, identity, nil
}

// Validate reports whether code is the identity's live, unexpired OTP.
// It never mutates the identity.
func (s *OTPService) Validate(identity *domain.Identity, code string) bool {
	return identity.OTPValid(code, s.now(), s.config.Expiry)
}

// Clear consumes the identity's live OTP.
func (s *OTPService) Clear(ctx context.Context, key domain.IdentityKey) error {
	_, err := s.identities.Update(ctx, key, func(i *domain.Identity) error {
		i.ClearOTP()
		return nil
	})
	return err
}

// Redeem validates code and, on success, clears the OTP and applies then in
// the same read-modify-write. A failed attempt returns
// domain.ErrInvalidOrExpiredOTP and leaves the live OTP in place.
func (s *OTPService) Redeem(ctx context.Context, key domain.IdentityKey, code string, then func(*domain.Identity)) (*domain.Identity, error) {
	return s.identities.Update(ctx, key, func(i *domain.Identity) error {
		if !s.Validate(i, code) {
			return domain.ErrInvalidOrExpiredOTP
		}
		i.ClearOTP()
		if then != nil {
			then(i)
		}
		return nil
	})
}

// generateOTPCode returns a uniformly random code zero-padded to digits.
func generateOTPCode(digits otp.Digits) (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits.Length())), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("failed to generate OTP: %w", err)
	}
	return digits.Format(int32(n.Int64())), nil
}
