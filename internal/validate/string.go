// Package validate checks the identifiers and labels that arrive on ranking
// requests before they reach the tenant store or the tier snapshots.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// String validation errors
var (
	ErrStringTooShort    = errors.New("string is too short")
	ErrStringTooLong     = errors.New("string is too long")
	ErrInvalidCharacters = errors.New("string contains invalid characters")
	ErrEmpty             = errors.New("string is empty")
)

// Length limits for the identifiers accepted by the API.
const (
	MaxTenantIDLength = 64
	MaxIDLength       = 128
	MaxLabelLength    = 100
)

// tenantIDPattern keeps tenant IDs safe for Redis keys and URL paths.
var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-\.]*$`)

// StringConstraints defines validation constraints for a string.
type StringConstraints struct {
	MinLength      int            // Minimum length (0 = no minimum)
	MaxLength      int            // Maximum length (0 = no maximum)
	AllowedPattern *regexp.Regexp // Optional regex pattern for allowed characters
	RejectControl  bool           // Reject control characters and invalid UTF-8
	AllowEmpty     bool
	TrimSpace      bool
}

// String validates a string against the given constraints.
// Returns the validated (and optionally trimmed) string and an error if validation fails.
func String(s string, constraints StringConstraints) (string, error) {
	if constraints.TrimSpace {
		s = strings.TrimSpace(s)
	}

	if s == "" {
		if !constraints.AllowEmpty {
			return "", ErrEmpty
		}
		return s, nil
	}

	if constraints.RejectControl {
		if !utf8.ValidString(s) {
			return "", fmt.Errorf("%w: not valid UTF-8", ErrInvalidCharacters)
		}
		if strings.IndexFunc(s, unicode.IsControl) >= 0 {
			return "", fmt.Errorf("%w: control character", ErrInvalidCharacters)
		}
	}

	// Rune count, not bytes.
	length := utf8.RuneCountInString(s)

	if constraints.MinLength > 0 && length < constraints.MinLength {
		return "", fmt.Errorf("%w: got %d chars, need at least %d", ErrStringTooShort, length, constraints.MinLength)
	}
	if constraints.MaxLength > 0 && length > constraints.MaxLength {
		return "", fmt.Errorf("%w: got %d chars, maximum is %d", ErrStringTooLong, length, constraints.MaxLength)
	}

	if constraints.AllowedPattern != nil && !constraints.AllowedPattern.MatchString(s) {
		return "", fmt.Errorf("%w: does not match required pattern", ErrInvalidCharacters)
	}

	return s, nil
}

// TenantID validates a tenant identifier:
// - 1-64 characters
// - Letters, numbers, dash, underscore, period; must start with a letter or number
func TenantID(id string) error {
	_, err := String(id, StringConstraints{
		MinLength:      1,
		MaxLength:      MaxTenantIDLength,
		AllowedPattern: tenantIDPattern,
	})
	return err
}

// ID validates a candidate or member identifier. Any printable text up to
// 128 characters is accepted since IDs come from the caller's own store.
func ID(id string) error {
	_, err := String(id, StringConstraints{
		MinLength:     1,
		MaxLength:     MaxIDLength,
		RejectControl: true,
	})
	return err
}

// Label validates an optional free-text label such as a category, group or
// diversity bucket. Empty labels are allowed.
func Label(label string) error {
	_, err := String(label, StringConstraints{
		MaxLength:     MaxLabelLength,
		RejectControl: true,
		AllowEmpty:    true,
	})
	return err
}
