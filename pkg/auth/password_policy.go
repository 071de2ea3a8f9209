package auth

import (
	"fmt"
	"strings"

	"github.com/tendant/adminportal/internal/config"
)

// PasswordPolicy defines password complexity requirements.
type PasswordPolicy struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireNumber    bool
	RequireSpecial   bool
}

// NewPasswordPolicy creates a PasswordPolicy from config.
func NewPasswordPolicy(cfg config.PasswordPolicyConfig) *PasswordPolicy {
	return &PasswordPolicy{
		MinLength:        cfg.MinLength,
		RequireUppercase: cfg.RequireUppercase,
		RequireLowercase: cfg.RequireLowercase,
		RequireNumber:    cfg.RequireNumber,
		RequireSpecial:   cfg.RequireSpecial,
	}
}

// DefaultPasswordPolicy returns the portal's strong password policy.
func DefaultPasswordPolicy() *PasswordPolicy {
	return &PasswordPolicy{
		MinLength:        8,
		RequireUppercase: true,
		RequireLowercase: true,
		RequireNumber:    true,
		RequireSpecial:   true,
	}
}

// ValidatePassword checks if a password meets the policy requirements.
func (p *PasswordPolicy) ValidatePassword(password string) error {
	if p.MinLength > 0 && len(password) < p.MinLength {
		return fmt.Errorf("password must be at least %d characters", p.MinLength)
	}

	if p.RequireUppercase && !containsUppercase(password) {
		return fmt.Errorf("password must contain an uppercase letter")
	}

	if p.RequireLowercase && !containsLowercase(password) {
		return fmt.Errorf("password must contain a lowercase letter")
	}

	if p.RequireNumber && !containsNumber(password) {
		return fmt.Errorf("password must contain a digit")
	}

	if p.RequireSpecial && !containsSpecial(password) {
		return fmt.Errorf("password must contain a special character")
	}

	return nil
}

// GetRequirements returns a human-readable description of the policy.
func (p *PasswordPolicy) GetRequirements() string {
	if !p.HasRequirements() {
		return "No password requirements"
	}

	var requirements []string

	if p.MinLength > 0 {
		requirements = append(requirements, fmt.Sprintf("at least %d characters", p.MinLength))
	}
	if p.RequireUppercase {
		requirements = append(requirements, "one uppercase letter")
	}
	if p.RequireLowercase {
		requirements = append(requirements, "one lowercase letter")
	}
	if p.RequireNumber {
		requirements = append(requirements, "one number")
	}
	if p.RequireSpecial {
		requirements = append(requirements, "one special character")
	}

	return "Password must contain " + strings.Join(requirements, ", ")
}

// HasRequirements returns true if the policy has any requirements.
func (p *PasswordPolicy) HasRequirements() bool {
	return p.MinLength > 0 || p.RequireUppercase || p.RequireLowercase || p.RequireNumber || p.RequireSpecial
}

func containsUppercase(s string) bool {
	return strings.ContainsFunc(s, func(r rune) bool { return r >= 'A' && r <= 'Z' })
}

func containsLowercase(s string) bool {
	return strings.ContainsFunc(s, func(r rune) bool { return r >= 'a' && r <= 'z' })
}

func containsNumber(s string) bool {
	return strings.ContainsFunc(s, func(r rune) bool { return r >= '0' && r <= '9' })
}

// containsSpecial treats anything outside [A-Za-z0-9] as special, spaces included.
func containsSpecial(s string) bool {
	return strings.ContainsFunc(s, func(r rune) bool {
		return !(r >= 'A' && r <= 'Z') && !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
}
