package session

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"unisession/cmd/identity"
)

// RemoteSubjectPrefix qualifies subject ids of remote-service accounts.
const RemoteSubjectPrefix = "remote_"

// Resolve computes the canonical session from in. It performs no I/O.
// Markers that are present but unusable count as absent.
func Resolve(in Inputs, now time.Time) *identity.CanonicalSession {
	if s := fromFederated(in.Federated); s != nil {
		return s
	}
	if s := fromRemote(in.Remote, now); s != nil {
		return s
	}
	return fromLocal(in.Local)
}

func fromFederated(m *FederatedMarker) *identity.CanonicalSession {
	if m == nil || strings.TrimSpace(m.SubjectID) == "" {
		return nil
	}
	email := identity.NormalizeEmail(m.Email)
	return &identity.CanonicalSession{
		SubjectID:   m.SubjectID,
		Email:       email,
		DisplayName: displayName(m.DisplayName, email),
		Source:      identity.SourceFederated,
		BearerToken: m.BearerToken,
		IssuedAt:    m.ObservedAt,
	}
}

func fromRemote(m *RemoteMarker, now time.Time) *identity.CanonicalSession {
	if m == nil || !RemoteTokenUsable(m.Token, now) {
		return nil
	}
	email := identity.NormalizeEmail(m.User.Email)
	if email == "" {
		return nil
	}

	id := strings.TrimSpace(m.User.ID)
	if id == "" {
		id = email
	}
	return &identity.CanonicalSession{
		SubjectID:   RemoteSubjectPrefix + id,
		Email:       email,
		DisplayName: displayName(m.User.Name, email),
		Source:      identity.SourceRemote,
		BearerToken: m.Token,
		IssuedAt:    m.IssuedAt,
	}
}

func fromLocal(m *LocalMarker) *identity.CanonicalSession {
	if m == nil || strings.TrimSpace(m.SubjectID) == "" {
		return nil
	}
	email := identity.NormalizeEmail(m.Email)
	if email == "" {
		return nil
	}
	return &identity.CanonicalSession{
		SubjectID:   m.SubjectID,
		Email:       email,
		DisplayName: displayName(m.DisplayName, email),
		Source:      identity.SourceLocal,
		IssuedAt:    m.IssuedAt,
	}
}

// RemoteTokenUsable reports whether a persisted remote token may back a session.
// Tokens are opaque to us; when one happens to be a JWT its exp claim is honored.
// The signature is not checked: the remote service remains the authority.
func RemoteTokenUsable(tok string, now time.Time) bool {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return false
	}
	if exp == nil {
		return true
	}
	return now.Before(exp.Time)
}

func displayName(name, email string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	return identity.DisplayNameFromEmail(email)
}
