// Package kv is the process-durable key space shared by the credential store,
// the session markers and the UI preferences.
//
// Values are opaque bytes; callers own their encoding. Every backend makes
// PutIfAbsent atomic per key, which is what keeps account registration
// race-free across concurrent callers.
package kv

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("kv: not found")

// Store is a minimal key/value persistence abstraction.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	// PutIfAbsent writes value only when key is unset and reports whether it did.
	PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// Key space.
const (
	AccountPrefix = "accounts/"

	KeyFederatedSession = "session/federated"
	KeyRemoteSession    = "session/remote"
	KeyLocalSession     = "session/local"

	KeyRememberEmail   = "prefs/remember_email"
	KeyPendingRedirect = "prefs/pending_redirect"
)

// SessionKeys lists every current-session marker.
var SessionKeys = []string{KeyFederatedSession, KeyRemoteSession, KeyLocalSession}

// AccountKey returns the key of the local account registered under email.
// email must already be normalized.
func AccountKey(email string) string {
	return AccountPrefix + email
}

func validKey(key string) bool {
	return strings.TrimSpace(key) != "" && len(key) <= 512
}

var errEmptyKey = errors.New("kv: empty or oversized key")
