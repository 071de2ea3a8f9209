package httputil

import (
	"net/http"
	"strings"
	"time"

	"github.com/tendant/adminportal/pkg/domain"
)

// FlowTokenFromRequest returns the continuation token sent in the body,
// falling back to the flow cookie for web clients.
func FlowTokenFromRequest(r *http.Request, bodyToken string) string {
	if token := strings.TrimSpace(bodyToken); token != "" {
		return token
	}
	token, _ := GetFlowTokenFromCookie(r)
	return token
}

// DeliverFlowToken hands a continuation token to the client. Web clients
// get it as an HttpOnly cookie and the returned string is empty; mobile
// clients get it back for the response body.
func DeliverFlowToken(w http.ResponseWriter, r *http.Request, token string, ttl time.Duration, cfg CookieConfig) string {
	if IsMobileClient(r) {
		return token
	}
	SetFlowCookie(w, token, ttl, cfg)
	return ""
}

// TokenResponse represents a token response.
type TokenResponse struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// WriteTokens writes tokens as cookies (web) or JSON (mobile).
func WriteTokens(w http.ResponseWriter, r *http.Request, status int, tokens *domain.TokenPair, accessTTL, refreshTTL time.Duration, cfg CookieConfig) {
	if IsMobileClient(r) {
		JSON(w, status, TokenResponse{
			AccessToken:  tokens.AccessToken,
			RefreshToken: tokens.RefreshToken,
			TokenType:    tokens.TokenType,
			ExpiresIn:    tokens.ExpiresIn,
		})
		return
	}

	SetAuthCookies(w, tokens.AccessToken, tokens.RefreshToken, accessTTL, refreshTTL, cfg)
	JSON(w, status, TokenResponse{
		TokenType: tokens.TokenType,
		ExpiresIn: tokens.ExpiresIn,
	})
}
