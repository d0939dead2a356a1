package identity

import "time"

// Source identifies which identity source produced a session.
type Source string

const (
	// SourceFederated is a session observed from the federated identity provider.
	SourceFederated Source = "federated"
	// SourceRemote is a session issued by the remote account service.
	SourceRemote Source = "remote"
	// SourceLocal is a session established against the local fallback store.
	SourceLocal Source = "local"
)

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceFederated, SourceRemote, SourceLocal:
		return true
	default:
		return false
	}
}

// CanonicalSession is the single resolved identity treated as "current".
// Values are immutable once published; replacement is always a new value.
type CanonicalSession struct {
	SubjectID   string    `json:"subject_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Source      Source    `json:"source"`
	BearerToken string    `json:"-"`
	IssuedAt    time.Time `json:"issued_at"`
}

// Clone returns a copy of s, or nil when s is nil.
func (s *CanonicalSession) Clone() *CanonicalSession {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// SameIdentity compares two possibly-absent sessions on SubjectID + Source.
// Ancillary fields (timestamps, tokens, names) are ignored.
func SameIdentity(a, b *CanonicalSession) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.SubjectID == b.SubjectID && a.Source == b.Source
}

// LocalAccount is a fallback-store record keyed by normalized email.
// PasswordHash is never the plaintext.
type LocalAccount struct {
	SubjectID    string    `json:"subject_id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}
