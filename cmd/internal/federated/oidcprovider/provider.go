// Package oidcprovider is a federated.Provider for any OpenID Connect issuer.
package oidcprovider

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"unisession/cmd/internal/federated"
)

// Config holds configuration for the OIDC provider.
type Config struct {
	// Kind names the provider in sessions, e.g. "google".
	Kind         string
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	// PendingTTL bounds how long a started sign-in may take. Default 10m.
	PendingTTL time.Duration
	HTTPClient *http.Client
}

type pendingAuth struct {
	nonce   string
	expires time.Time
}

type principal struct {
	snapshot federated.Snapshot
	token    *oauth2.Token
	rawID    string
}

// Provider implements federated.Provider and federated.CallbackCompleter.
type Provider struct {
	kind       string
	oauth      *oauth2.Config
	verifier   *gooidc.IDTokenVerifier
	httpClient *http.Client
	pendingTTL time.Duration
	now        func() time.Time

	// notifyMu orders principal changes with their delivery to listeners.
	notifyMu sync.Mutex

	mu        sync.Mutex
	pending   map[string]pendingAuth
	current   *principal
	seen      map[string]struct{}
	listeners map[int]federated.Listener
	nextID    int
}

var (
	_ federated.Provider          = (*Provider)(nil)
	_ federated.CallbackCompleter = (*Provider)(nil)
)

// New discovers the issuer and returns a Provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("oidcprovider: client ID is required")
	}
	if cfg.RedirectURL == "" {
		return nil, errors.New("oidcprovider: redirect URL is required")
	}
	if cfg.IssuerURL == "" {
		return nil, errors.New("oidcprovider: issuer URL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	if kind == "" {
		kind = "oidc"
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{gooidc.ScopeOpenID, "email", "profile"}
	}
	ttl := cfg.PendingTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	issuer := strings.TrimSuffix(strings.TrimSuffix(cfg.IssuerURL, "/"), "/.well-known/openid-configuration")
	op, err := gooidc.NewProvider(gooidc.ClientContext(ctx, httpClient), issuer)
	if err != nil {
		return nil, fmt.Errorf("oidcprovider: discovery: %w", err)
	}

	return &Provider{
		kind: kind,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     op.Endpoint(),
		},
		verifier:   op.Verifier(&gooidc.Config{ClientID: cfg.ClientID}),
		httpClient: httpClient,
		pendingTTL: ttl,
		now:        time.Now,
		pending:    make(map[string]pendingAuth),
		seen:       make(map[string]struct{}),
		listeners:  make(map[int]federated.Listener),
	}, nil
}

// Kind returns the provider kind used in sessions.
func (p *Provider) Kind() string { return p.kind }

// Subscribe registers fn for principal changes. Listeners run in the order
// the changes happened and must not call Complete or SignOut.
func (p *Provider) Subscribe(fn federated.Listener) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	id := p.nextID
	p.listeners[id] = fn
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// Begin starts an authorization code flow and returns the consent URL.
func (p *Provider) Begin(_ context.Context, providerKind string) (federated.BeginResult, error) {
	if k := strings.ToLower(strings.TrimSpace(providerKind)); k != "" && k != p.kind {
		return federated.BeginResult{}, federated.Failure{Code: "unsupported_provider", Message: "This sign-in provider is not available."}
	}

	state, err := randomToken()
	if err != nil {
		return federated.BeginResult{}, fmt.Errorf("oidcprovider: state: %w", err)
	}
	nonce, err := randomToken()
	if err != nil {
		return federated.BeginResult{}, fmt.Errorf("oidcprovider: nonce: %w", err)
	}

	now := p.now()
	p.mu.Lock()
	for s, pa := range p.pending {
		if now.After(pa.expires) {
			delete(p.pending, s)
		}
	}
	p.pending[state] = pendingAuth{nonce: nonce, expires: now.Add(p.pendingTTL)}
	p.mu.Unlock()

	authURL := p.oauth.AuthCodeURL(state,
		gooidc.Nonce(nonce),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
	return federated.BeginResult{AuthURL: authURL, State: state}, nil
}

// Complete handles the redirect back from the issuer. On success every
// listener is notified with the new principal before Complete returns.
func (p *Provider) Complete(ctx context.Context, cb federated.CallbackParams) error {
	pa, ok := p.takePending(cb.State)

	if cb.Error != "" {
		return federated.Failure{Code: cb.Error, Message: cb.ErrorDescription}
	}
	if !ok {
		return federated.Failure{Code: "invalid_state", Message: "Sign-in expired. Please try again."}
	}
	if cb.Code == "" {
		return federated.Failure{Code: "missing_code"}
	}

	octx := gooidc.ClientContext(ctx, p.httpClient)
	tok, err := p.oauth.Exchange(octx, cb.Code)
	if err != nil {
		return fmt.Errorf("oidcprovider: exchange: %w", err)
	}
	rawID, ok := tok.Extra("id_token").(string)
	if !ok || rawID == "" {
		return federated.Failure{Code: "missing_id_token"}
	}

	idTok, err := p.verifier.Verify(octx, rawID)
	if err != nil {
		return fmt.Errorf("oidcprovider: verify id_token: %w", err)
	}
	if idTok.Nonce != pa.nonce {
		return federated.Failure{Code: "invalid_nonce"}
	}

	var claims struct {
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := idTok.Claims(&claims); err != nil {
		return fmt.Errorf("oidcprovider: claims: %w", err)
	}

	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	_, known := p.seen[idTok.Subject]
	p.seen[idTok.Subject] = struct{}{}
	p.current = &principal{
		snapshot: federated.Snapshot{
			SubjectID:    idTok.Subject,
			Email:        claims.Email,
			DisplayName:  claims.Name,
			PhotoRef:     claims.Picture,
			IsNewAccount: !known,
			ProviderKind: p.kind,
		},
		token: tok,
		rawID: rawID,
	}
	snap := p.current.snapshot
	p.mu.Unlock()

	p.notify(ctx, &snap)
	return nil
}

// BearerToken returns the current ID token, refreshing through the oauth2
// token source when the access token has expired and a refresh token exists.
func (p *Provider) BearerToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	cur := p.current
	p.mu.Unlock()

	if cur == nil {
		return "", federated.Failure{Code: "no_current_user", Message: "No one is signed in."}
	}

	tok, err := p.oauth.TokenSource(gooidc.ClientContext(ctx, p.httpClient), cur.token).Token()
	if err != nil {
		return "", fmt.Errorf("oidcprovider: token: %w", err)
	}
	raw := cur.rawID
	if fresh, ok := tok.Extra("id_token").(string); ok && fresh != "" {
		raw = fresh
	}

	p.mu.Lock()
	if p.current == cur {
		cur.token = tok
		cur.rawID = raw
	}
	p.mu.Unlock()
	return raw, nil
}

// SignOut forgets the current principal and notifies listeners.
func (p *Provider) SignOut(ctx context.Context) error {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()

	p.notify(ctx, nil)
	return nil
}

func (p *Provider) takePending(state string) (pendingAuth, bool) {
	if state == "" {
		return pendingAuth{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	pa, ok := p.pending[state]
	delete(p.pending, state)
	if !ok || p.now().After(pa.expires) {
		return pendingAuth{}, false
	}
	return pa, true
}

func (p *Provider) notify(ctx context.Context, s *federated.Snapshot) {
	p.mu.Lock()
	ids := make([]int, 0, len(p.listeners))
	for id := range p.listeners {
		ids = append(ids, id)
	}
	fns := make([]federated.Listener, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, p.listeners[id])
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(ctx, s)
	}
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
