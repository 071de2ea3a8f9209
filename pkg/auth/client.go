package auth

import (
	"net"
	"net/http"
	"strings"
)

// SessionOptsFromRequest captures the client metadata stored with a session.
func SessionOptsFromRequest(r *http.Request) IssueSessionOpts {
	return IssueSessionOpts{
		IP:        ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// ClientIP extracts the client IP address from the request.
// Checks X-Forwarded-For and X-Real-IP headers before falling back to RemoteAddr.
func ClientIP(r *http.Request) string {
	// First entry of X-Forwarded-For is the originating client
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
