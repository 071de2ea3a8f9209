package auth

import (
	"fmt"
	"html"
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeInput trims the input, drops control characters and escapes HTML.
func SanitizeInput(input string) string {
	return html.EscapeString(removeControlChars(strings.TrimSpace(input)))
}

// SanitizeName sanitizes a display name. Internal runs of whitespace collapse
// to a single space.
func SanitizeName(name string) string {
	name = strings.Join(strings.Fields(removeControlChars(name)), " ")
	return html.EscapeString(name)
}

// ValidateStringLength validates that a string is within the specified
// length constraints, counted in characters.
func ValidateStringLength(field, value string, min, max int) error {
	length := utf8.RuneCountInString(value)

	if min > 0 && length < min {
		return fmt.Errorf("%s must be at least %d characters long", field, min)
	}

	if max > 0 && length > max {
		return fmt.Errorf("%s must be at most %d characters long", field, max)
	}

	return nil
}

// removeControlChars removes control characters except newline and tab.
func removeControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
