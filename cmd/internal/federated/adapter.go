package federated

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"unisession/cmd/identity"
	"unisession/cmd/internal/auth/session"
	"unisession/cmd/security/token"
)

// SubjectPrefix qualifies federated subject ids.
const SubjectPrefix = "federated_"

// SessionSink is the part of the session manager the adapter writes to.
type SessionSink interface {
	PutFederated(ctx context.Context, m *session.FederatedMarker) error
	Refresh(ctx context.Context) (*identity.CanonicalSession, error)
}

// Adapter connects a Provider to the session manager.
// A nil Provider is allowed: every call then fails with ErrProviderUnavailable.
type Adapter struct {
	provider Provider
	sink     SessionSink
	log      *slog.Logger
	now      func() time.Time

	tokenTimeout time.Duration

	mu    sync.Mutex // orders Observe calls
	unsub func()
}

// NewAdapter returns an Adapter. Call Start to begin observing the provider.
func NewAdapter(p Provider, sink SessionSink, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		provider:     p,
		sink:         sink,
		log:          log,
		now:          func() time.Time { return time.Now().UTC() },
		tokenTimeout: 5 * time.Second,
	}
}

// Available reports whether a provider was configured at startup.
func (a *Adapter) Available() bool { return a.provider != nil }

// Start subscribes to the provider. It is a no-op without a provider.
func (a *Adapter) Start() {
	if a.provider == nil {
		a.log.Info("federated.disabled")
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unsub != nil {
		return
	}
	a.unsub = a.provider.Subscribe(func(ctx context.Context, s *Snapshot) {
		if err := a.Observe(ctx, s); err != nil {
			a.log.Error("federated.observe_failed", "err", err)
		}
	})
}

// Close stops observing the provider.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unsub != nil {
		a.unsub()
		a.unsub = nil
	}
}

// Observe records a provider state change and re-resolves the session.
func (a *Adapter) Observe(ctx context.Context, s *Snapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	marker := a.toMarker(ctx, s)
	if err := a.sink.PutFederated(ctx, marker); err != nil {
		return err
	}
	if marker == nil {
		a.log.Info("federated.signed_out")
	} else {
		a.log.Info("federated.signed_in",
			"subject_id", marker.SubjectID,
			"provider", marker.ProviderKind,
			"new_account", marker.IsNewAccount,
		)
	}
	_, err := a.sink.Refresh(ctx)
	return err
}

func (a *Adapter) toMarker(ctx context.Context, s *Snapshot) *session.FederatedMarker {
	if s == nil || strings.TrimSpace(s.SubjectID) == "" {
		return nil
	}

	kind := strings.ToLower(strings.TrimSpace(s.ProviderKind))
	m := &session.FederatedMarker{
		SubjectID:    SubjectPrefix + kind + ":" + s.SubjectID,
		Email:        identity.NormalizeEmail(s.Email),
		DisplayName:  strings.TrimSpace(s.DisplayName),
		PhotoRef:     s.PhotoRef,
		ProviderKind: kind,
		IsNewAccount: s.IsNewAccount,
		ObservedAt:   a.now(),
	}

	tctx, cancel := context.WithTimeout(ctx, a.tokenTimeout)
	defer cancel()
	if tok, err := a.provider.BearerToken(tctx); err != nil {
		a.log.Warn("federated.bearer_token_unavailable", "err", err)
	} else {
		m.BearerToken = tok
		a.log.Debug("federated.bearer_token", "token", token.Fingerprint(tok))
	}
	return m
}

// RequestBearerToken returns a bearer credential for the signed-in principal.
func (a *Adapter) RequestBearerToken(ctx context.Context) (string, error) {
	const op = "federated.RequestBearerToken"
	if a.provider == nil {
		return "", identity.OpError{Op: op, Kind: identity.ErrProviderUnavailable}
	}
	tok, err := a.provider.BearerToken(ctx)
	if err != nil {
		return "", MapError(op, err)
	}
	return tok, nil
}

// BeginInteractiveSignIn starts the provider's consent flow. The session is
// not returned: it arrives through the provider notification.
func (a *Adapter) BeginInteractiveSignIn(ctx context.Context, providerKind string) (BeginResult, error) {
	const op = "federated.BeginInteractiveSignIn"
	if a.provider == nil {
		return BeginResult{}, identity.OpError{Op: op, Kind: identity.ErrProviderUnavailable}
	}
	res, err := a.provider.Begin(ctx, providerKind)
	if err != nil {
		return BeginResult{}, MapError(op, err)
	}
	return res, nil
}

// CompleteSignIn finishes a redirect-based flow.
func (a *Adapter) CompleteSignIn(ctx context.Context, p CallbackParams) error {
	const op = "federated.CompleteSignIn"
	if a.provider == nil {
		return identity.OpError{Op: op, Kind: identity.ErrProviderUnavailable}
	}
	c, ok := a.provider.(CallbackCompleter)
	if !ok {
		return identity.ProviderError{Op: op, Kind: identity.ErrProviderError, Code: "unsupported", Message: "This sign-in method does not use a callback."}
	}
	if err := c.Complete(ctx, p); err != nil {
		return MapError(op, err)
	}
	return nil
}

// SignOut signs out of the provider.
func (a *Adapter) SignOut(ctx context.Context) error {
	const op = "federated.SignOut"
	if a.provider == nil {
		return identity.OpError{Op: op, Kind: identity.ErrProviderUnavailable}
	}
	if err := a.provider.SignOut(ctx); err != nil {
		return MapError(op, err)
	}
	return nil
}
