package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"unisession/cmd/identity"
)

// Protocol version carried in every envelope.
const Version = 1

const (
	// Server -> client.
	TypeSessionSnapshot = "session_snapshot"
	TypeSessionChanged  = "session_changed"
	TypePong            = "pong"
	TypeError           = "error"

	// Client -> server.
	TypeSessionGet = "session_get"
	TypePing       = "ping"
)

var clientTypes = map[string]struct{}{
	TypeSessionGet: {},
	TypePing:       {},
}

// Envelope is the single frame shape on the wire.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate checks a client-sent envelope.
func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("invalid protocol version: got=%d want=%d", e.V, Version)
	}
	if e.Type == "" {
		return errors.New("missing type")
	}
	if _, ok := clientTypes[e.Type]; !ok {
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
	if e.ID == "" {
		return errors.New("missing id")
	}
	return nil
}

// SessionView is the client-visible projection of a canonical session.
// Bearer tokens are never pushed.
type SessionView struct {
	SubjectID   string    `json:"subject_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Source      string    `json:"source"`
	IssuedAt    time.Time `json:"issued_at"`
}

// SessionPayload is carried by session_snapshot and session_changed.
// Previous is only set on session_changed.
type SessionPayload struct {
	Session  *SessionView `json:"session"`
	Previous *SessionView `json:"previous,omitempty"`
}

// ErrorPayload is carried by error envelopes.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func viewOf(s *identity.CanonicalSession) *SessionView {
	if s == nil {
		return nil
	}
	return &SessionView{
		SubjectID:   s.SubjectID,
		Email:       s.Email,
		DisplayName: s.DisplayName,
		Source:      string(s.Source),
		IssuedAt:    s.IssuedAt,
	}
}

// newEnvelope builds a server envelope. Payload encoding of the types in this
// file cannot fail.
func newEnvelope(typ string, payload any, ts time.Time) Envelope {
	env := Envelope{V: Version, Type: typ, ID: NewEnvelopeID(ts), TS: ts}
	if payload != nil {
		env.Payload, _ = json.Marshal(payload)
	}
	return env
}

func snapshotEnvelope(cur *identity.CanonicalSession, ts time.Time) Envelope {
	return newEnvelope(TypeSessionSnapshot, SessionPayload{Session: viewOf(cur)}, ts)
}

func changedEnvelope(prev, cur *identity.CanonicalSession, ts time.Time) Envelope {
	return newEnvelope(TypeSessionChanged, SessionPayload{Session: viewOf(cur), Previous: viewOf(prev)}, ts)
}
