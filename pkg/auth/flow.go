package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tendant/adminportal/pkg/domain"
)

// FlowPhase names a step of a multi-step account workflow.
type FlowPhase string

const (
	PhaseVerifyRegistration FlowPhase = "verify_registration"
	PhaseResetOTP           FlowPhase = "reset_otp"
	PhaseResetPassword      FlowPhase = "reset_password"
)

const flowTokenUse = "flow"

// DefaultFlowTTL outlives the OTP window so an expired code is reported as
// such rather than as a lapsed flow.
const DefaultFlowTTL = 30 * time.Minute

// FlowClaims is the signed continuation carried between workflow steps.
// For PhaseResetPassword the registered ID claim names the reset permit.
type FlowClaims struct {
	jwt.RegisteredClaims
	Use   string    `json:"use"`
	Email string    `json:"email"`
	Phase FlowPhase `json:"phase"`
}

// FlowConfig holds flow token configuration.
type FlowConfig struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

// FlowTokens signs and verifies workflow continuation tokens, replacing
// server-side session dictionaries.
type FlowTokens struct {
	config FlowConfig
	now    func() time.Time
}

// NewFlowTokens creates a new flow token codec.
func NewFlowTokens(config FlowConfig) *FlowTokens {
	if config.TTL == 0 {
		config.TTL = DefaultFlowTTL
	}
	return &FlowTokens{config: config, now: time.Now}
}

// TTL returns the lifetime of issued flow tokens.
func (f *FlowTokens) TTL() time.Duration {
	return f.config.TTL
}

// Issue signs a token binding email to phase. permitID may be empty.
func (f *FlowTokens) Issue(email string, phase FlowPhase, permitID string) (string, error) {
	now := f.now()
	claims := FlowClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    f.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(f.config.TTL)),
			ID:        permitID,
		},
		Use:   flowTokenUse,
		Email: email,
		Phase: phase,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(f.config.Secret)
}

// Parse verifies tokenString and checks that it belongs to phase.
// Any failure returns domain.ErrInvalidFlowToken.
func (f *FlowTokens) Parse(tokenString string, phase FlowPhase) (*FlowClaims, error) {
	if tokenString == "" {
		return nil, domain.ErrInvalidFlowToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &FlowClaims{}, func(token *jwt.Token) (interface{}, error) {
		return f.config.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(f.config.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(f.now),
	)
	if err != nil {
		return nil, errors.Join(domain.ErrInvalidFlowToken, err)
	}

	claims, ok := token.Claims.(*FlowClaims)
	if !ok || !token.Valid {
		return nil, domain.ErrInvalidFlowToken
	}
	if claims.Use != flowTokenUse || claims.Phase != phase || claims.Email == "" {
		return nil, domain.ErrInvalidFlowToken
	}

	return claims, nil
}
