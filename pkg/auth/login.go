package auth

import (
	"strings"

	"github.com/tendant/adminportal/pkg/domain"
)

// ParseLoginHandle resolves a user-supplied login handle syntactically:
// anything containing '@' is an email, everything else an identifier.
// The second result is false for an empty handle.
func ParseLoginHandle(input string) (domain.IdentityKey, bool) {
	input = strings.TrimSpace(input)
	if input == "" {
		return domain.IdentityKey{}, false
	}
	if strings.Contains(input, "@") {
		return domain.ByEmail(NormalizeEmail(input)), true
	}
	return domain.ByIdentifier(strings.ToUpper(input)), true
}
