package auth_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/adminportal/pkg/auth"
	"github.com/tendant/adminportal/pkg/domain"
)

// wrongCode returns a six digit code different from code.
func wrongCode(code string) string {
	if code == "123456" {
		return "654321"
	}
	return "123456"
}

func TestAccountLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Register
	reg, err := f.svc.Register(ctx, registration("a@x.com", "Abcdef1!"))
	require.NoError(t, err)
	assert.Regexp(t, `^[A-Z0-9]{8}$`, reg.Identifier)
	assert.Equal(t, "a@x.com", reg.MaskedEmail)
	require.Equal(t, 1, f.mail.count())

	identity, err := f.identities.Find(ctx, domain.ByEmail("a@x.com"))
	require.NoError(t, err)
	assert.False(t, identity.IsActive)
	assert.False(t, identity.IsVerified)
	assert.NotEqual(t, "Abcdef1!", identity.CredentialDigest)

	// Login before verification
	_, err = f.svc.Login(ctx, "a@x.com", "Abcdef1!", auth.IssueSessionOpts{})
	assert.ErrorIs(t, err, domain.ErrAccountNotActive)

	// Verify within the window
	f.clock.Advance(5 * time.Minute)
	verified, err := f.svc.VerifyRegistration(ctx, reg.FlowToken, f.mail.lastCode(t))
	require.NoError(t, err)
	assert.Equal(t, reg.Identifier, verified.Identifier)

	identity, err = f.identities.Find(ctx, domain.ByEmail("a@x.com"))
	require.NoError(t, err)
	assert.True(t, identity.IsActive)
	assert.True(t, identity.IsVerified)
	assert.False(t, identity.HasLiveOTP())

	// Login
	login, err := f.svc.Login(ctx, "a@x.com", "Abcdef1!", auth.IssueSessionOpts{IP: "127.0.0.1"})
	require.NoError(t, err)
	require.NotNil(t, login.Tokens)
	assert.Equal(t, identity.ID, login.Identity.ID)

	// Reset phase A
	challenge, err := f.svc.RequestPasswordReset(ctx, "a@x.com")
	require.NoError(t, err)
	resetCode := f.mail.lastCode(t)

	// Phase B, wrong then right
	_, err = f.svc.VerifyPasswordResetOTP(ctx, challenge.FlowToken, wrongCode(resetCode))
	assert.ErrorIs(t, err, domain.ErrInvalidOrExpiredOTP)

	permit, err := f.svc.VerifyPasswordResetOTP(ctx, challenge.FlowToken, resetCode)
	require.NoError(t, err)

	// Phase C
	require.NoError(t, f.svc.ResetPassword(ctx, permit.FlowToken, "Zzzzzz9!", "Zzzzzz9!"))

	identity, err = f.identities.Find(ctx, domain.ByEmail("a@x.com"))
	require.NoError(t, err)
	assert.Equal(t, "plain$Zzzzzz9!", identity.CredentialDigest)

	// Replay of phase C
	err = f.svc.ResetPassword(ctx, permit.FlowToken, "Yyyyyy8!", "Yyyyyy8!")
	assert.ErrorIs(t, err, domain.ErrMissingResetContext)

	// Old sessions are revoked, new password works, old one does not
	_, err = f.sessionSvc.RefreshSession(ctx, login.Tokens.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrSessionRevoked)

	_, err = f.svc.Login(ctx, reg.Identifier, "Abcdef1!", auth.IssueSessionOpts{})
	assert.ErrorIs(t, err, domain.ErrLoginFailed)

	_, err = f.svc.Login(ctx, strings.ToLower(reg.Identifier), "Zzzzzz9!", auth.IssueSessionOpts{})
	assert.NoError(t, err)
}

func TestRegister(t *testing.T) {
	t.Run("email content", func(t *testing.T) {
		f := newFixture(t)
		reg, err := f.svc.Register(context.Background(), registration("A@X.com", "Abcdef1!"))
		require.NoError(t, err)

		mail := f.mail.last(t)
		assert.Equal(t, "a@x.com", mail.To)
		assert.Equal(t, "Your verification OTP", mail.Subject)
		assert.Contains(t, mail.Body, reg.Identifier)
		assert.Contains(t, mail.Body, "expires in 10 minutes")
		assert.Regexp(t, `code: \d{6}\n`, mail.Body)
	})

	t.Run("validation rejects before persistence", func(t *testing.T) {
		f := newFixture(t)
		in := registration("a@x.com", "Abcdef1!")
		in.Phone = "12345"
		in.ConfirmPassword = "Abcdef1?"

		_, err := f.svc.Register(context.Background(), in)
		var verr *auth.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Fields, "phone")
		assert.Contains(t, verr.Fields, "confirm_password")

		_, err = f.identities.Find(context.Background(), domain.ByEmail("a@x.com"))
		assert.ErrorIs(t, err, domain.ErrIdentityNotFound)
		assert.Zero(t, f.mail.count())
	})

	t.Run("duplicate email", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Register(context.Background(), registration("a@x.com", "Abcdef1!"))
		require.NoError(t, err)

		_, err = f.svc.Register(context.Background(), registration(" A@x.COM ", "Abcdef1!"))
		assert.ErrorIs(t, err, domain.ErrDuplicateEmail)
		assert.Equal(t, 1, f.mail.count())
	})

	t.Run("delivery failure keeps identity and OTP", func(t *testing.T) {
		f := newFixture(t)
		f.mail.fail = errors.New("smtp down")

		reg, err := f.svc.Register(context.Background(), registration("a@x.com", "Abcdef1!"))
		assert.ErrorIs(t, err, domain.ErrEmailDeliveryFailed)
		require.NotNil(t, reg)
		assert.NotEmpty(t, reg.FlowToken)

		identity, err := f.identities.Find(context.Background(), domain.ByEmail("a@x.com"))
		require.NoError(t, err)
		assert.False(t, identity.IsActive)
		assert.True(t, identity.HasLiveOTP())
	})
}

func TestVerifyRegistration(t *testing.T) {
	setup := func(t *testing.T) (*fixture, *auth.RegisterResult, string) {
		f := newFixture(t)
		reg, err := f.svc.Register(context.Background(), registration("a@x.com", "Abcdef1!"))
		require.NoError(t, err)
		return f, reg, f.mail.lastCode(t)
	}

	t.Run("wrong code can be retried", func(t *testing.T) {
		f, reg, code := setup(t)
		_, err := f.svc.VerifyRegistration(context.Background(), reg.FlowToken, wrongCode(code))
		assert.ErrorIs(t, err, domain.ErrInvalidOrExpiredOTP)

		_, err = f.svc.VerifyRegistration(context.Background(), reg.FlowToken, code)
		assert.NoError(t, err)
	})

	t.Run("exactly at expiry", func(t *testing.T) {
		f, reg, code := setup(t)
		f.clock.Advance(600 * time.Second)
		_, err := f.svc.VerifyRegistration(context.Background(), reg.FlowToken, code)
		assert.NoError(t, err)
	})

	t.Run("after expiry", func(t *testing.T) {
		f, reg, code := setup(t)
		f.clock.Advance(601 * time.Second)
		_, err := f.svc.VerifyRegistration(context.Background(), reg.FlowToken, code)
		assert.ErrorIs(t, err, domain.ErrInvalidOrExpiredOTP)

		identity, err := f.identities.Find(context.Background(), domain.ByEmail("a@x.com"))
		require.NoError(t, err)
		assert.False(t, identity.IsActive)
	})

	t.Run("code is single use", func(t *testing.T) {
		f, reg, code := setup(t)
		_, err := f.svc.VerifyRegistration(context.Background(), reg.FlowToken, code)
		require.NoError(t, err)
		_, err = f.svc.VerifyRegistration(context.Background(), reg.FlowToken, code)
		assert.ErrorIs(t, err, domain.ErrInvalidOrExpiredOTP)
	})

	t.Run("email without identity", func(t *testing.T) {
		f, _, code := setup(t)
		token, err := f.flows.Issue("ghost@x.com", auth.PhaseVerifyRegistration, "")
		require.NoError(t, err)
		_, err = f.svc.VerifyRegistration(context.Background(), token, code)
		assert.ErrorIs(t, err, domain.ErrIdentityNotFound)
	})

	t.Run("token from another phase", func(t *testing.T) {
		f, _, code := setup(t)
		token, err := f.flows.Issue("a@x.com", auth.PhaseResetOTP, "")
		require.NoError(t, err)
		_, err = f.svc.VerifyRegistration(context.Background(), token, code)
		assert.ErrorIs(t, err, domain.ErrInvalidFlowToken)
	})
}

func TestResendVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, err := f.svc.Register(ctx, registration("a@x.com", "Abcdef1!"))
	require.NoError(t, err)
	first := f.mail.lastCode(t)

	var second string
	for {
		_, err = f.svc.ResendVerification(ctx, "a@x.com")
		require.NoError(t, err)
		second = f.mail.lastCode(t)
		if second != first {
			break
		}
	}

	_, err = f.svc.VerifyRegistration(ctx, reg.FlowToken, first)
	assert.ErrorIs(t, err, domain.ErrInvalidOrExpiredOTP, "resend invalidates the previous code")

	_, err = f.svc.VerifyRegistration(ctx, reg.FlowToken, second)
	require.NoError(t, err)

	_, err = f.svc.ResendVerification(ctx, "a@x.com")
	assert.ErrorIs(t, err, domain.ErrIdentityNotFound, "active identities cannot resend")

	_, err = f.svc.ResendVerification(ctx, "ghost@x.com")
	assert.ErrorIs(t, err, domain.ErrIdentityNotFound)
}

func activeAccount(t *testing.T, f *fixture, email, password string) *auth.RegisterResult {
	t.Helper()
	reg, err := f.svc.Register(context.Background(), registration(email, password))
	require.NoError(t, err)
	_, err = f.svc.VerifyRegistration(context.Background(), reg.FlowToken, f.mail.lastCode(t))
	require.NoError(t, err)
	return reg
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	reg := activeAccount(t, f, "a@x.com", "Abcdef1!")

	_, err := f.svc.Register(context.Background(), registration("pending@x.com", "Abcdef1!"))
	require.NoError(t, err)

	tests := []struct {
		name     string
		handle   string
		password string
		wantErr  error
	}{
		{name: "email", handle: "a@x.com", password: "Abcdef1!"},
		{name: "email any case", handle: " A@X.COM ", password: "Abcdef1!"},
		{name: "identifier", handle: reg.Identifier, password: "Abcdef1!"},
		{name: "identifier lowercase", handle: strings.ToLower(reg.Identifier), password: "Abcdef1!"},
		{name: "wrong password", handle: "a@x.com", password: "Abcdef1?", wantErr: domain.ErrLoginFailed},
		{name: "unknown email", handle: "ghost@x.com", password: "Abcdef1!", wantErr: domain.ErrLoginFailed},
		{name: "unknown identifier", handle: "ZZZZZZZZ", password: "Abcdef1!", wantErr: domain.ErrLoginFailed},
		{name: "email-shaped identifier never falls back", handle: reg.Identifier + "@", password: "Abcdef1!", wantErr: domain.ErrLoginFailed},
		{name: "empty handle", handle: "", password: "Abcdef1!", wantErr: domain.ErrLoginFailed},
		{name: "inactive with right password", handle: "pending@x.com", password: "Abcdef1!", wantErr: domain.ErrAccountNotActive},
		{name: "inactive with wrong password", handle: "pending@x.com", password: "nope", wantErr: domain.ErrAccountNotActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := f.svc.Login(context.Background(), tt.handle, tt.password, auth.IssueSessionOpts{})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, result)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, reg.Identifier, result.Identity.Identifier)
			assert.NotEmpty(t, result.Tokens.AccessToken)
		})
	}
}

func TestRequestPasswordReset(t *testing.T) {
	t.Run("unknown email", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.RequestPasswordReset(context.Background(), "ghost@x.com")
		assert.ErrorIs(t, err, domain.ErrEmailNotFound)
		assert.Zero(t, f.mail.count())
	})

	t.Run("reissue invalidates earlier code", func(t *testing.T) {
		f := newFixture(t)
		activeAccount(t, f, "a@x.com", "Abcdef1!")

		first, err := f.svc.RequestPasswordReset(context.Background(), "a@x.com")
		require.NoError(t, err)
		firstCode := f.mail.lastCode(t)
		assert.Equal(t, "Your password reset OTP", f.mail.last(t).Subject)

		var second *auth.ResetChallengeResult
		var secondCode string
		for {
			second, err = f.svc.RequestPasswordReset(context.Background(), "a@x.com")
			require.NoError(t, err)
			secondCode = f.mail.lastCode(t)
			if secondCode != firstCode {
				break
			}
		}

		_, err = f.svc.VerifyPasswordResetOTP(context.Background(), first.FlowToken, firstCode)
		assert.ErrorIs(t, err, domain.ErrInvalidOrExpiredOTP)

		_, err = f.svc.VerifyPasswordResetOTP(context.Background(), second.FlowToken, secondCode)
		assert.NoError(t, err)
	})

	t.Run("delivery failure", func(t *testing.T) {
		f := newFixture(t)
		activeAccount(t, f, "a@x.com", "Abcdef1!")
		f.mail.fail = errors.New("smtp down")

		_, err := f.svc.RequestPasswordReset(context.Background(), "a@x.com")
		assert.ErrorIs(t, err, domain.ErrEmailDeliveryFailed)
	})
}

func TestResetPassword(t *testing.T) {
	setup := func(t *testing.T) (*fixture, string) {
		f := newFixture(t)
		activeAccount(t, f, "a@x.com", "Abcdef1!")
		challenge, err := f.svc.RequestPasswordReset(context.Background(), "a@x.com")
		require.NoError(t, err)
		permit, err := f.svc.VerifyPasswordResetOTP(context.Background(), challenge.FlowToken, f.mail.lastCode(t))
		require.NoError(t, err)
		return f, permit.FlowToken
	}

	t.Run("without phase B", func(t *testing.T) {
		f := newFixture(t)
		activeAccount(t, f, "a@x.com", "Abcdef1!")
		challenge, err := f.svc.RequestPasswordReset(context.Background(), "a@x.com")
		require.NoError(t, err)

		// Phase A token presented to phase C
		err = f.svc.ResetPassword(context.Background(), challenge.FlowToken, "Zzzzzz9!", "Zzzzzz9!")
		assert.ErrorIs(t, err, domain.ErrMissingResetContext)

		// Well-formed phase C token naming a permit that was never granted
		forged, err := f.flows.Issue("a@x.com", auth.PhaseResetPassword, "never-granted")
		require.NoError(t, err)
		err = f.svc.ResetPassword(context.Background(), forged, "Zzzzzz9!", "Zzzzzz9!")
		assert.ErrorIs(t, err, domain.ErrMissingResetContext)

		identity, err := f.identities.Find(context.Background(), domain.ByEmail("a@x.com"))
		require.NoError(t, err)
		assert.Equal(t, "plain$Abcdef1!", identity.CredentialDigest)
	})

	t.Run("mismatch keeps the permit", func(t *testing.T) {
		f, token := setup(t)
		err := f.svc.ResetPassword(context.Background(), token, "Zzzzzz9!", "Zzzzzz9?")
		assert.ErrorIs(t, err, domain.ErrPasswordMismatch)

		require.NoError(t, f.svc.ResetPassword(context.Background(), token, "Zzzzzz9!", "Zzzzzz9!"))
	})

	t.Run("weak password keeps the permit", func(t *testing.T) {
		f, token := setup(t)
		err := f.svc.ResetPassword(context.Background(), token, "weak", "weak")
		var verr *auth.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Fields, "password")

		require.NoError(t, f.svc.ResetPassword(context.Background(), token, "Zzzzzz9!", "Zzzzzz9!"))
	})

	t.Run("permit bound to its email", func(t *testing.T) {
		f, token := setup(t)
		claims, err := f.flows.Parse(token, auth.PhaseResetPassword)
		require.NoError(t, err)

		hijack, err := f.flows.Issue("b@x.com", auth.PhaseResetPassword, claims.ID)
		require.NoError(t, err)
		err = f.svc.ResetPassword(context.Background(), hijack, "Zzzzzz9!", "Zzzzzz9!")
		assert.ErrorIs(t, err, domain.ErrMissingResetContext)
	})

	t.Run("permit lapses", func(t *testing.T) {
		f, token := setup(t)
		f.clock.Advance(auth.DefaultFlowTTL + time.Second)
		err := f.svc.ResetPassword(context.Background(), token, "Zzzzzz9!", "Zzzzzz9!")
		assert.ErrorIs(t, err, domain.ErrMissingResetContext)
	})
}
