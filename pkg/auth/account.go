package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/adminportal/pkg/domain"
)

// AccountService runs the registration, verification, login and password
// reset workflows.
type AccountService struct {
	logger     *slog.Logger
	identities IdentityStore
	otps       *OTPService
	hasher     CredentialHasher
	email      EmailSender
	flows      *FlowTokens
	permits    PermitStore
	sessions   *SessionService
	policy     *PasswordPolicy
}

// AccountDeps groups the collaborators of AccountService.
type AccountDeps struct {
	Logger     *slog.Logger
	Identities IdentityStore
	OTPs       *OTPService
	Hasher     CredentialHasher
	Email      EmailSender
	Flows      *FlowTokens
	Permits    PermitStore
	Sessions   *SessionService
	Policy     *PasswordPolicy
}

// NewAccountService creates a new account service.
func NewAccountService(deps AccountDeps) *AccountService {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Hasher == nil {
		deps.Hasher = NewArgon2Hasher()
	}
	if deps.Policy == nil {
		deps.Policy = DefaultPasswordPolicy()
	}
	return &AccountService{
		logger:     deps.Logger,
		identities: deps.Identities,
		otps:       deps.OTPs,
		hasher:     deps.Hasher,
		email:      deps.Email,
		flows:      deps.Flows,
		permits:    deps.Permits,
		sessions:   deps.Sessions,
		policy:     deps.Policy,
	}
}

// PasswordPolicy returns the policy applied to new credentials.
func (s *AccountService) PasswordPolicy() *PasswordPolicy {
	return s.policy
}

// RegisterResult is returned by Register and ResendVerification.
type RegisterResult struct {
	Identifier  string
	MaskedEmail string
	FlowToken   string
}

// VerifyResult is returned by VerifyRegistration.
type VerifyResult struct {
	Identifier string
}

// ResetChallengeResult is returned by RequestPasswordReset.
type ResetChallengeResult struct {
	MaskedEmail string
	FlowToken   string
}

// ResetPermitResult is returned by VerifyPasswordResetOTP.
type ResetPermitResult struct {
	FlowToken string
}

// LoginResult is returned by Login.
type LoginResult struct {
	Identity *domain.Identity
	Tokens   *domain.TokenPair
}

// Register validates input, creates an inactive identity, issues an OTP and
// emails it. When delivery fails the identity and OTP stay persisted and the
// result is returned together with domain.ErrEmailDeliveryFailed.
func (s *AccountService) Register(ctx context.Context, in RegistrationInput) (*RegisterResult, error) {
	in = in.Normalize()
	if err := in.Validate(s.policy); err != nil {
		return nil, err
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	identity := &domain.Identity{
		ID:               uuid.New(),
		Email:            in.Email,
		CredentialDigest: digest,
		DisplayName:      in.Name,
		Company:          in.Company,
		Phone:            in.Phone,
	}
	if err := s.identities.Create(ctx, identity); err != nil {
		return nil, err
	}

	s.logger.Info("identity registered", "identity_id", identity.ID, "identifier", identity.Identifier)

	return s.sendVerification(ctx, identity.ID)
}

// ResendVerification re-issues the verification OTP of a pending identity.
// Unknown and already active emails return domain.ErrIdentityNotFound.
func (s *AccountService) ResendVerification(ctx context.Context, email string) (*RegisterResult, error) {
	identity, err := s.identities.Find(ctx, domain.ByEmail(NormalizeEmail(email)))
	if err != nil {
		return nil, err
	}
	if identity.IsActive {
		return nil, domain.ErrIdentityNotFound
	}
	return s.sendVerification(ctx, identity.ID)
}

func (s *AccountService) sendVerification(ctx context.Context, id uuid.UUID) (*RegisterResult, error) {
	code, identity, err := s.otps.Issue(ctx, domain.ByID(id))
	if err != nil {
		return nil, fmt.Errorf("issue otp: %w", err)
	}

	flowToken, err := s.flows.Issue(identity.Email, PhaseVerifyRegistration, "")
	if err != nil {
		return nil, fmt.Errorf("issue flow token: %w", err)
	}

	result := &RegisterResult{
		Identifier:  identity.Identifier,
		MaskedEmail: MaskEmail(identity.Email),
		FlowToken:   flowToken,
	}

	subject, body := verificationEmail(identity, code, s.otps.Expiry())
	if err := s.email.Send(identity.Email, subject, body); err != nil {
		s.logger.Error("failed to send verification email", "error", err, "identity_id", identity.ID)
		return result, errors.Join(domain.ErrEmailDeliveryFailed, err)
	}

	return result, nil
}

// VerifyRegistration redeems the registration OTP and activates the identity.
func (s *AccountService) VerifyRegistration(ctx context.Context, flowToken, code string) (*VerifyResult, error) {
	claims, err := s.flows.Parse(flowToken, PhaseVerifyRegistration)
	if err != nil {
		return nil, err
	}

	identity, err := s.otps.Redeem(ctx, domain.ByEmail(claims.Email), strings.TrimSpace(code), func(i *domain.Identity) {
		i.Activate()
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("identity verified", "identity_id", identity.ID)

	return &VerifyResult{Identifier: identity.Identifier}, nil
}

// Login resolves handle to an identity, checks activation and the
// credential and establishes a session. Unknown handles and wrong
// passwords both return domain.ErrLoginFailed.
func (s *AccountService) Login(ctx context.Context, handle, password string, opts IssueSessionOpts) (*LoginResult, error) {
	key, ok := ParseLoginHandle(handle)
	if !ok || password == "" {
		return nil, domain.ErrLoginFailed
	}

	identity, err := s.identities.Find(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrIdentityNotFound) {
			return nil, domain.ErrLoginFailed
		}
		return nil, err
	}

	if !identity.IsActive {
		return nil, domain.ErrAccountNotActive
	}

	if !s.hasher.Verify(password, identity.CredentialDigest) {
		s.logger.Info("login failed", "identity_id", identity.ID)
		return nil, domain.ErrLoginFailed
	}

	result := &LoginResult{Identity: identity}
	if s.sessions != nil {
		tokens, err := s.sessions.IssueSession(ctx, identity, opts)
		if err != nil {
			return nil, fmt.Errorf("issue session: %w", err)
		}
		result.Tokens = tokens
	}

	s.logger.Info("login succeeded", "identity_id", identity.ID)

	return result, nil
}

// RequestPasswordReset issues a reset OTP to a registered email. Unknown
// emails return domain.ErrEmailNotFound.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) (*ResetChallengeResult, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, domain.ErrEmailNotFound
	}

	code, identity, err := s.otps.Issue(ctx, domain.ByEmail(email))
	if err != nil {
		if errors.Is(err, domain.ErrIdentityNotFound) {
			return nil, domain.ErrEmailNotFound
		}
		return nil, fmt.Errorf("issue otp: %w", err)
	}

	subject, body := resetEmail(identity, code, s.otps.Expiry())
	if err := s.email.Send(identity.Email, subject, body); err != nil {
		s.logger.Error("failed to send password reset email", "error", err, "identity_id", identity.ID)
		return nil, errors.Join(domain.ErrEmailDeliveryFailed, err)
	}

	flowToken, err := s.flows.Issue(identity.Email, PhaseResetOTP, "")
	if err != nil {
		return nil, fmt.Errorf("issue flow token: %w", err)
	}

	s.logger.Info("password reset requested", "identity_id", identity.ID)

	return &ResetChallengeResult{
		MaskedEmail: MaskEmail(identity.Email),
		FlowToken:   flowToken,
	}, nil
}

// VerifyPasswordResetOTP redeems the reset OTP and grants a one-time permit
// to set a new password.
func (s *AccountService) VerifyPasswordResetOTP(ctx context.Context, flowToken, code string) (*ResetPermitResult, error) {
	claims, err := s.flows.Parse(flowToken, PhaseResetOTP)
	if err != nil {
		return nil, err
	}

	identity, err := s.otps.Redeem(ctx, domain.ByEmail(claims.Email), strings.TrimSpace(code), nil)
	if err != nil {
		return nil, err
	}

	permitID := uuid.NewString()
	if err := s.permits.Grant(ctx, permitID, identity.Email, s.flows.TTL()); err != nil {
		return nil, fmt.Errorf("grant reset permit: %w", err)
	}

	next, err := s.flows.Issue(identity.Email, PhaseResetPassword, permitID)
	if err != nil {
		return nil, fmt.Errorf("issue flow token: %w", err)
	}

	return &ResetPermitResult{FlowToken: next}, nil
}

// ResetPassword sets a new credential. It requires a flow token naming a
// live permit for the same email; the permit is consumed exactly once and
// every other outcome leaves it in place. All sessions of the identity are
// revoked afterwards.
func (s *AccountService) ResetPassword(ctx context.Context, flowToken, newPassword, confirmPassword string) error {
	claims, err := s.flows.Parse(flowToken, PhaseResetPassword)
	if err != nil || claims.ID == "" {
		return domain.ErrMissingResetContext
	}

	email, err := s.permits.Peek(ctx, claims.ID)
	if err != nil {
		return err
	}
	if email != claims.Email {
		return domain.ErrMissingResetContext
	}

	if newPassword != confirmPassword {
		return domain.ErrPasswordMismatch
	}
	if err := s.policy.ValidatePassword(newPassword); err != nil {
		verr := &ValidationError{}
		verr.add("password", err.Error())
		return verr
	}

	digest, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if _, err := s.permits.Consume(ctx, claims.ID); err != nil {
		return err
	}

	identity, err := s.identities.Update(ctx, domain.ByEmail(email), func(i *domain.Identity) error {
		i.CredentialDigest = digest
		return nil
	})
	if err != nil {
		return err
	}

	if s.sessions != nil {
		if err := s.sessions.RevokeAllSessions(ctx, identity.ID); err != nil {
			s.logger.Error("failed to revoke sessions", "error", err, "identity_id", identity.ID)
		}
	}

	s.logger.Info("password reset successful", "identity_id", identity.ID)

	return nil
}

func verificationEmail(identity *domain.Identity, code string, expiry time.Duration) (string, string) {
	subject := "Your verification OTP"
	body := fmt.Sprintf(`Hello %s,

Thank you for registering.

Your user ID: %s
Your verification code: %s

This code expires in %d minutes.
`, identity.DisplayName, identity.Identifier, code, minutes(expiry))
	return subject, body
}

func resetEmail(identity *domain.Identity, code string, expiry time.Duration) (string, string) {
	subject := "Your password reset OTP"
	body := fmt.Sprintf(`Hello %s,

A password reset was requested for user ID %s.

Your reset code: %s

This code expires in %d minutes. If you did not request a reset, ignore this email.
`, identity.DisplayName, identity.Identifier, code, minutes(expiry))
	return subject, body
}

func minutes(d time.Duration) int {
	return int(math.Ceil(d.Minutes()))
}
