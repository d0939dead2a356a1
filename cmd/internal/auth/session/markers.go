package session

import (
	"time"
)

// FederatedMarker is the last snapshot observed from the federated provider.
type FederatedMarker struct {
	SubjectID    string    `json:"subject_id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name,omitempty"`
	PhotoRef     string    `json:"photo_ref,omitempty"`
	ProviderKind string    `json:"provider_kind"`
	IsNewAccount bool      `json:"is_new_account,omitempty"`
	BearerToken  string    `json:"bearer_token,omitempty"`
	ObservedAt   time.Time `json:"observed_at"`
}

// RemoteUser is the user object returned by the remote account service.
type RemoteUser struct {
	ID    string `json:"id,omitempty"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// RemoteMarker is a persisted remote-service grant.
type RemoteMarker struct {
	Token    string     `json:"token"`
	User     RemoteUser `json:"user"`
	IssuedAt time.Time  `json:"issued_at"`
}

// LocalMarker records the last successful local fallback login or registration.
type LocalMarker struct {
	SubjectID   string    `json:"subject_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	IssuedAt    time.Time `json:"issued_at"`
}

// Inputs is the latest known state of every source. nil means "no session".
type Inputs struct {
	Federated *FederatedMarker
	Remote    *RemoteMarker
	Local     *LocalMarker
}
