package identity

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MinPasswordLength is the minimum password length in characters.
	MinPasswordLength = 6
	// MinDisplayNameLength is the minimum display name length in characters.
	MinDisplayNameLength = 2
	// MaxEmailLength is the RFC 5321 path limit.
	MaxEmailLength = 254
)

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// DisplayNameFromEmail derives a display name from the local-part of email.
func DisplayNameFromEmail(email string) string {
	local, _, _ := strings.Cut(NormalizeEmail(email), "@")
	return local
}

// ValidateEmail reports ErrInvalidInput unless email passes a basic syntactic check.
// The input is expected to be normalized already.
func ValidateEmail(op, email string) error {
	if len(email) > MaxEmailLength || !emailRe.MatchString(email) {
		return invalid(op, "That doesn't look like a valid email.")
	}
	return nil
}

// ValidateCredentials checks the rules shared by every sign-in path.
func ValidateCredentials(op, email, password string) error {
	if err := ValidateEmail(op, email); err != nil {
		return err
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return invalid(op, "Password must be at least 6 characters.")
	}
	return nil
}

// ValidateRegistration checks credentials plus the display name.
func ValidateRegistration(op, email, displayName, password string) error {
	if utf8.RuneCountInString(strings.TrimSpace(displayName)) < MinDisplayNameLength {
		return invalid(op, "Please enter your name.")
	}
	return ValidateCredentials(op, email, password)
}
