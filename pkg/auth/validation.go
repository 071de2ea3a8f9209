package auth

import (
	"regexp"
	"sort"
	"strings"

	"github.com/tendant/adminportal/pkg/domain"
)

var phoneRegex = regexp.MustCompile(`^[6-9][0-9]{9}$`)

const (
	maxNameLength    = 150
	maxCompanyLength = 200
)

// ValidatePhone checks for a 10 digit mobile number starting with 6-9.
func ValidatePhone(phone string) error {
	if !phoneRegex.MatchString(phone) {
		return domain.ErrInvalidPhone
	}
	return nil
}

// ValidationError collects per-field input errors found before any
// persistence happens.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = msg
	}
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// RegistrationInput is the raw registration form.
type RegistrationInput struct {
	Name            string
	Company         string
	Email           string
	Phone           string
	Password        string
	ConfirmPassword string
}

// Normalize returns a copy with trimmed, sanitized and lowercased fields.
// Passwords are left untouched.
func (in RegistrationInput) Normalize() RegistrationInput {
	out := in
	out.Name = SanitizeName(in.Name)
	out.Company = SanitizeInput(in.Company)
	out.Email = NormalizeEmail(in.Email)
	out.Phone = strings.TrimSpace(in.Phone)
	return out
}

// Validate checks every field and returns a *ValidationError listing all
// failures, or nil.
func (in RegistrationInput) Validate(policy *PasswordPolicy) error {
	verr := &ValidationError{}

	if in.Name == "" {
		verr.add("name", "name is required")
	} else if err := ValidateStringLength("name", in.Name, 0, maxNameLength); err != nil {
		verr.add("name", err.Error())
	}

	if err := ValidateStringLength("company", in.Company, 0, maxCompanyLength); err != nil {
		verr.add("company", err.Error())
	}

	if err := ValidateEmail(in.Email, true, false); err != nil {
		verr.add("email", err.Error())
	}

	if err := ValidatePhone(in.Phone); err != nil {
		verr.add("phone", err.Error())
	}

	if policy != nil {
		if err := policy.ValidatePassword(in.Password); err != nil {
			verr.add("password", err.Error())
		}
	}

	if in.Password != in.ConfirmPassword {
		verr.add("confirm_password", domain.ErrPasswordMismatch.Error())
	}

	return verr.orNil()
}
