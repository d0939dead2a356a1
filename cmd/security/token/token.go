package token

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// HeaderAuthorization is the header carrying bearer credentials.
	HeaderAuthorization = "Authorization"

	bearerPrefix   = "Bearer "
	fingerprintLen = 12
)

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns a short, log-safe identifier for a secret.
// Empty input yields an empty fingerprint.
func Fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	return HashSHA256Hex(secret)[:fingerprintLen]
}

// BearerHeader formats the Authorization header value for tok.
func BearerHeader(tok string) string {
	return bearerPrefix + tok
}

// ParseBearer extracts the token from an Authorization header value.
// The scheme is matched case-insensitively.
func ParseBearer(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	tok := strings.TrimSpace(header[len(bearerPrefix):])
	if tok == "" {
		return "", false
	}
	return tok, true
}
