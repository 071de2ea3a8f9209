package auth

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"github.com/tendant/adminportal/pkg/domain"
)

// Common disposable email domains to block (can be extended)
var disposableDomains = map[string]bool{
	"tempmail.com":      true,
	"10minutemail.com":  true,
	"guerrillamail.com": true,
	"mailinator.com":    true,
	"throwaway.email":   true,
}

// Email validation regex (stricter than RFC 5322 for practical use)
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

const maxEmailLength = 254 // RFC 5321

// ValidateEmail validates an email address for format and length.
// Errors wrap domain.ErrInvalidEmail.
func ValidateEmail(email string, strict bool, blockDisposable bool) error {
	if email == "" {
		return fmt.Errorf("%w: email address is required", domain.ErrInvalidEmail)
	}

	if len(email) > maxEmailLength {
		return fmt.Errorf("%w: too long (max %d characters)", domain.ErrInvalidEmail, maxEmailLength)
	}

	normalized := NormalizeEmail(email)

	addr, err := mail.ParseAddress(normalized)
	if err != nil || addr.Address != normalized {
		return domain.ErrInvalidEmail
	}

	if strict && !emailRegex.MatchString(addr.Address) {
		return domain.ErrInvalidEmail
	}

	if blockDisposable && disposableDomains[getDomain(addr.Address)] {
		return fmt.Errorf("%w: disposable email addresses are not allowed", domain.ErrInvalidEmail)
	}

	return nil
}

// NormalizeEmail normalizes an email address by lowercasing and trimming.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// MaskEmail hides most of the local part, e.g. "alice@x.com" -> "a****@x.com".
func MaskEmail(email string) string {
	local, host, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return email
	}
	return local[:1] + strings.Repeat("*", len(local)-1) + "@" + host
}

// getDomain extracts the domain from an email address.
func getDomain(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}
