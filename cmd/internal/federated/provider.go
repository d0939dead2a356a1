// Package federated adapts a third-party identity provider to the session model.
//
// A Provider pushes Snapshot values (nil on sign-out) to its listeners. The
// Adapter persists each one as the federated session marker and asks the
// session manager to re-resolve. Sign-in and sign-out never return a session:
// callers observe the result through the session broadcaster.
package federated

import (
	"context"
	"fmt"
)

// Snapshot is the provider's view of the signed-in principal.
type Snapshot struct {
	SubjectID    string
	Email        string
	DisplayName  string
	PhotoRef     string
	IsNewAccount bool
	ProviderKind string
}

// Listener receives provider state changes. nil means signed out.
type Listener func(ctx context.Context, s *Snapshot)

// BeginResult tells the caller where to send the user to continue sign-in.
type BeginResult struct {
	AuthURL string
	State   string
}

// CallbackParams is what the provider hands back after the consent surface.
type CallbackParams struct {
	State            string
	Code             string
	Error            string
	ErrorDescription string
}

// Provider is the capability surface of a federated identity provider.
type Provider interface {
	// Subscribe registers fn and returns a function that removes it.
	Subscribe(fn Listener) (unsubscribe func())
	// BearerToken returns a credential for the current principal. It may block
	// on a provider round-trip.
	BearerToken(ctx context.Context) (string, error)
	Begin(ctx context.Context, providerKind string) (BeginResult, error)
	SignOut(ctx context.Context) error
}

// CallbackCompleter is implemented by redirect-based providers.
type CallbackCompleter interface {
	Complete(ctx context.Context, p CallbackParams) error
}

// Failure is a provider-reported error with the provider's own code.
type Failure struct {
	Code    string
	Message string
}

func (f Failure) Error() string {
	if f.Message == "" {
		return "federated: " + f.Code
	}
	return fmt.Sprintf("federated: %s: %s", f.Code, f.Message)
}
