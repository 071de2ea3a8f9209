package auth_test

import (
	"io"
	"log/slog"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tendant/adminportal/pkg/auth"
	"github.com/tendant/adminportal/pkg/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

// outbox records sent mail; a non-nil fail error makes Send fail.
type outbox struct {
	mu   sync.Mutex
	sent []sentMail
	fail error
}

func (o *outbox) Send(to, subject, body string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail != nil {
		return o.fail
	}
	o.sent = append(o.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sent)
}

var codeRegex = regexp.MustCompile(`code: (\d+)`)

// lastCode extracts the OTP from the most recent mail.
func (o *outbox) lastCode(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.sent, "no mail sent")
	m := codeRegex.FindStringSubmatch(o.sent[len(o.sent)-1].Body)
	require.Len(t, m, 2, "no code in mail body")
	return m[1]
}

func (o *outbox) last(t *testing.T) sentMail {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.sent, "no mail sent")
	return o.sent[len(o.sent)-1]
}

// plainHasher keeps the workflow tests fast; Argon2 is covered separately.
type plainHasher struct{}

func (plainHasher) Hash(p string) (string, error) { return "plain$" + p, nil }
func (plainHasher) Verify(p, d string) bool       { return d == "plain$"+p }

type fixture struct {
	svc        *auth.AccountService
	identities *repository.MemoryIdentities
	sessions   *repository.MemorySessions
	permits    *repository.MemoryPermits
	sessionSvc *auth.SessionService
	otps       *auth.OTPService
	flows      *auth.FlowTokens
	mail       *outbox
	clock      *fakeClock
}

var testSecret = []byte("test-secret-at-least-32-bytes-long!!")

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := newFakeClock()
	identities := repository.NewMemoryIdentities()
	sessions := repository.NewMemorySessions()
	permits := repository.NewMemoryPermits().WithClock(clock.Now)

	otps := auth.NewOTPService(auth.OTPConfig{}, identities)
	otps.SetClock(clock.Now)

	flows := auth.NewFlowTokens(auth.FlowConfig{Secret: testSecret, Issuer: "adminportal-test"})
	flows.SetClock(clock.Now)

	sessionSvc := auth.NewSessionService(auth.SessionConfig{
		JWTSecret: testSecret,
		Issuer:    "adminportal-test",
	}, sessions, identities)

	mail := &outbox{}

	svc := auth.NewAccountService(auth.AccountDeps{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Identities: identities,
		OTPs:       otps,
		Hasher:     plainHasher{},
		Email:      mail,
		Flows:      flows,
		Permits:    permits,
		Sessions:   sessionSvc,
	})

	return &fixture{
		svc:        svc,
		identities: identities,
		sessions:   sessions,
		permits:    permits,
		sessionSvc: sessionSvc,
		otps:       otps,
		flows:      flows,
		mail:       mail,
		clock:      clock,
	}
}

func registration(email, password string) auth.RegistrationInput {
	return auth.RegistrationInput{
		Name:            "Alice Admin",
		Company:         "Example Ltd",
		Email:           email,
		Phone:           "9876543210",
		Password:        password,
		ConfirmPassword: password,
	}
}
