package http_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/adminportal/internal/config"
	httpserver "github.com/tendant/adminportal/internal/http"
	"github.com/tendant/adminportal/internal/httputil"
	"github.com/tendant/adminportal/pkg/auth"
	"github.com/tendant/adminportal/pkg/repository"
)

type mailbox struct {
	mu    sync.Mutex
	codes []string
	fail  bool
}

var codePattern = regexp.MustCompile(`code: (\d+)`)

func (m *mailbox) Send(to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("smtp unavailable")
	}
	if match := codePattern.FindStringSubmatch(body); match != nil {
		m.codes = append(m.codes, match[1])
	}
	return nil
}

func (m *mailbox) last(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.codes, "no code mailed")
	return m.codes[len(m.codes)-1]
}

type plainHasher struct{}

func (plainHasher) Hash(p string) (string, error) { return "plain$" + p, nil }
func (plainHasher) Verify(p, d string) bool       { return d == "plain$"+p }

type server struct {
	handler http.Handler
	mail    *mailbox
}

func newServer(t *testing.T) *server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	secret := []byte("router-test-secret-at-least-32-bytes")
	identities := repository.NewMemoryIdentities()
	sessions := auth.NewSessionService(auth.SessionConfig{JWTSecret: secret, Issuer: "adminportal-test"},
		repository.NewMemorySessions(), identities)
	flows := auth.NewFlowTokens(auth.FlowConfig{Secret: secret, Issuer: "adminportal-test"})
	mail := &mailbox{}

	accounts := auth.NewAccountService(auth.AccountDeps{
		Logger:     logger,
		Identities: identities,
		OTPs:       auth.NewOTPService(auth.OTPConfig{}, identities),
		Hasher:     plainHasher{},
		Email:      mail,
		Flows:      flows,
		Permits:    repository.NewMemoryPermits(),
		Sessions:   sessions,
	})

	handler := httpserver.NewRouter(httpserver.RouterConfig{
		Logger:         logger,
		AccountService: accounts,
		SessionService: sessions,
		Identities:     identities,
		FlowTokenTTL:   flows.TTL(),
		MaxBodyBytes:   1 << 20,
	})
	return &server{handler: handler, mail: mail}
}

type call struct {
	method  string
	path    string
	body    any
	mobile  bool
	bearer  string
	cookies []*http.Cookie
}

func (s *server) do(t *testing.T, c call) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var body io.Reader
	if c.body != nil {
		raw, err := json.Marshal(c.body)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	req.Header.Set("Content-Type", "application/json")
	if c.mobile {
		req.Header.Set("X-Client-Type", "mobile")
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	for _, cookie := range c.cookies {
		req.AddCookie(cookie)
	}

	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func str(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

var registerBody = map[string]string{
	"name":             "Alice Admin",
	"company":          "Example Ltd",
	"email":            "alice@example.com",
	"phone":            "9876543210",
	"password":         "Abcdef1!",
	"confirm_password": "Abcdef1!",
}

func TestRouter_Health(t *testing.T) {
	s := newServer(t)
	w, body := s.do(t, call{method: http.MethodGet, path: "/health"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", str(body, "status"))
}

func TestRouter_PasswordPolicy(t *testing.T) {
	s := newServer(t)
	w, body := s.do(t, call{method: http.MethodGet, path: "/v1/auth/password/policy"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(8), body["min_length"])
	assert.Equal(t, true, body["require_special"])
	assert.Contains(t, str(body, "requirements"), "one special character")
}

func TestRouter_MobileLifecycle(t *testing.T) {
	s := newServer(t)

	w, body := s.do(t, call{method: http.MethodPost, path: "/v1/auth/register", body: registerBody, mobile: true})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	identifier := str(body, "identifier")
	flow := str(body, "flow_token")
	assert.Len(t, identifier, auth.IdentifierLength)
	assert.Equal(t, "a****@example.com", str(body, "masked_email"))
	require.NotEmpty(t, flow)

	w, _ = s.do(t, call{method: http.MethodPost, path: "/v1/auth/login", body: map[string]string{"login": identifier, "password": "Abcdef1!"}, mobile: true})
	assert.Equal(t, http.StatusForbidden, w.Code, "login before verification")

	w, _ = s.do(t, call{method: http.MethodPost, path: "/v1/auth/verify-otp", body: map[string]string{"flow_token": flow, "code": "not-it"}, mobile: true})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = s.do(t, call{method: http.MethodPost, path: "/v1/auth/verify-otp", body: map[string]string{"flow_token": flow, "code": s.mail.last(t)}, mobile: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, identifier, str(body, "identifier"))

	w, body = s.do(t, call{method: http.MethodPost, path: "/v1/auth/login", body: map[string]string{"login": identifier, "password": "Abcdef1!"}, mobile: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	access := str(body, "access_token")
	refresh := str(body, "refresh_token")
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)

	w, body = s.do(t, call{method: http.MethodGet, path: "/v1/me", bearer: access})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, identifier, str(body, "identifier"))
	assert.Equal(t, "alice@example.com", str(body, "email"))
	assert.Equal(t, true, body["is_verified"])

	w, body = s.do(t, call{method: http.MethodPost, path: "/v1/auth/password/forgot", body: map[string]string{"email": "ALICE@example.com"}, mobile: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	flow = str(body, "flow_token")

	w, body = s.do(t, call{method: http.MethodPost, path: "/v1/auth/password/verify-otp", body: map[string]string{"flow_token": flow, "code": s.mail.last(t)}, mobile: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	flow = str(body, "flow_token")

	w, body = s.do(t, call{method: http.MethodPost, path: "/v1/auth/password/reset", body: map[string]string{"flow_token": flow, "password": "Zzzzzz9!", "confirm_password": "Zzzzzz9?"}, mobile: true})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["fields"], "confirm_password")

	w, _ = s.do(t, call{method: http.MethodPost, path: "/v1/auth/password/reset", body: map[string]string{"flow_token": flow, "password": "Zzzzzz9!", "confirm_password": "Zzzzzz9!"}, mobile: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = s.do(t, call{method: http.MethodPost, path: "/v1/auth/password/reset", body: map[string]string{"flow_token": flow, "password": "Yyyyyy8!", "confirm_password": "Yyyyyy8!"}, mobile: true})
	assert.Equal(t, http.StatusBadRequest, w.Code, "permit is single use")

	w, _ = s.do(t, call{method: http.MethodPost, path: "/v1/auth/refresh", body: map[string]string{"refresh_token": refresh}, mobile: true})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "reset revokes sessions")

	w, _ = s.do(t, call{method: http.MethodPost, path: "/v1/auth/login", body: map[string]string{"login": "alice@example.com", "password": "Abcdef1!"}, mobile: true})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "old password")

	w, _ = s.do(t, call{method: http.MethodPost, path: "/v1/auth/login", body: map[string]string{"login": "alice@example.com", "password": "Zzzzzz9!"}, mobile: true})
	assert.Equal(t, http.StatusOK, w.Code, "new password")
}

func TestRouter_WebFlowUsesCookies(t *testing.T) {
	s := newServer(t)

	w, body := s.do(t, call{method: http.MethodPost, path: "/v1/auth/register", body: registerBody})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Empty(t, str(body, "flow_token"), "web clients get the flow token as a cookie")

	var flowCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == httputil.FlowCookieName {
			flowCookie = c
		}
	}
	require.NotNil(t, flowCookie)
	assert.True(t, flowCookie.HttpOnly)

	w, _ = s.do(t, call{method: http.MethodPost, path: "/v1/auth/verify-otp", body: map[string]string{"code": s.mail.last(t)}, cookies: []*http.Cookie{flowCookie}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, body = s.do(t, call{method: http.MethodPost, path: "/v1/auth/login", body: map[string]string{"login": "alice@example.com", "password": "Abcdef1!"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Empty(t, str(body, "access_token"))

	var authCookies []*http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "access_token" || c.Name == "refresh_token" {
			authCookies = append(authCookies, c)
		}
	}
	require.Len(t, authCookies, 2)

	w, _ = s.do(t, call{method: http.MethodGet, path: "/v1/me", cookies: authCookies})
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, call{method: http.MethodPost, path: "/v1/auth/refresh", cookies: authCookies})
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, call{method: http.MethodPost, path: "/v1/auth/logout", cookies: authCookies})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, _ = s.do(t, call{method: http.MethodPost, path: "/v1/auth/refresh", cookies: authCookies})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_RegisterErrors(t *testing.T) {
	s := newServer(t)

	w, _ := s.do(t, call{method: http.MethodPost, path: "/v1/auth/register", body: registerBody, mobile: true})
	require.Equal(t, http.StatusCreated, w.Code)

	w, body := s.do(t, call{method: http.MethodPost, path: "/v1/auth/register", body: registerBody, mobile: true})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, body["fields"], "email")

	bad := map[string]string{"name": "", "email": "nope", "phone": "123", "password": "short", "confirm_password": "short"}
	w, body = s.do(t, call{method: http.MethodPost, path: "/v1/auth/register", body: bad, mobile: true})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	fields, _ := body["fields"].(map[string]any)
	for _, key := range []string{"name", "email", "phone", "password"} {
		assert.Contains(t, fields, key)
	}

	w, _ = s.do(t, call{method: http.MethodPost, path: "/v1/auth/register", body: map[string]string{"username": "x"}, mobile: true})
	assert.Equal(t, http.StatusBadRequest, w.Code, "unknown fields are rejected")
}

func TestRouter_RegisterDeliveryFailure(t *testing.T) {
	s := newServer(t)
	s.mail.fail = true

	w, body := s.do(t, call{method: http.MethodPost, path: "/v1/auth/register", body: registerBody, mobile: true})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.NotEmpty(t, str(body, "flow_token"))
	assert.NotEmpty(t, str(body, "identifier"))

	s.mail.fail = false
	w, body = s.do(t, call{method: http.MethodPost, path: "/v1/auth/resend-otp", body: map[string]string{"email": "alice@example.com"}, mobile: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = s.do(t, call{method: http.MethodPost, path: "/v1/auth/verify-otp", body: map[string]string{"flow_token": str(body, "flow_token"), "code": s.mail.last(t)}, mobile: true})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_ForgotUnknownEmail(t *testing.T) {
	s := newServer(t)
	w, _ := s.do(t, call{method: http.MethodPost, path: "/v1/auth/password/forgot", body: map[string]string{"email": "ghost@example.com"}, mobile: true})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_RequiresAuth(t *testing.T) {
	s := newServer(t)
	for _, c := range []call{
		{method: http.MethodGet, path: "/v1/me"},
		{method: http.MethodGet, path: "/v1/me", bearer: "garbage"},
		{method: http.MethodPost, path: "/v1/auth/logout/all"},
	} {
		w, _ := s.do(t, c)
		assert.Equal(t, http.StatusUnauthorized, w.Code, c.path)
	}
}

func TestRouter_RateLimitedWhenEnabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	identities := repository.NewMemoryIdentities()
	sessions := auth.NewSessionService(auth.SessionConfig{JWTSecret: []byte("k")}, repository.NewMemorySessions(), identities)
	handler := httpserver.NewRouter(httpserver.RouterConfig{
		Logger:         logger,
		AccountService: auth.NewAccountService(auth.AccountDeps{Identities: identities, Sessions: sessions}),
		SessionService: sessions,
		Identities:     identities,
		RateLimitConfig: config.RateLimitConfig{
			Enabled:               true,
			AuthRequestsPerMinute: 1,
			AuthWindowMinutes:     1,
		},
	})

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", bytes.NewBufferString(`{"login":"x","password":"y"}`))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusUnauthorized, http.StatusTooManyRequests}, codes)
}

func TestRouter_MetricsAndCORS(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	identities := repository.NewMemoryIdentities()
	sessions := auth.NewSessionService(auth.SessionConfig{JWTSecret: []byte("k")}, repository.NewMemorySessions(), identities)
	reg := prometheus.NewRegistry()

	handler := httpserver.NewRouter(httpserver.RouterConfig{
		Logger:         logger,
		AccountService: auth.NewAccountService(auth.AccountDeps{Identities: identities, Sessions: sessions}),
		SessionService: sessions,
		Identities:     identities,
		AllowedOrigins: []string{"https://admin.example.com"},
		Metrics:        reg,
	})

	req := httptest.NewRequest(http.MethodOptions, "/v1/auth/login", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, "https://admin.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodOptions, "/v1/auth/login", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `adminportal_http_requests_total{method="GET",route="/health",status="200"} 1`)
}
