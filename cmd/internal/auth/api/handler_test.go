package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"unisession/cmd/identity"
	"unisession/cmd/internal/auth/flow"
	"unisession/cmd/internal/auth/session"
	"unisession/cmd/internal/credential"
	"unisession/cmd/internal/federated"
	"unisession/cmd/internal/kv"
	"unisession/cmd/internal/remote"
	"unisession/cmd/security/password"
)

const (
	remoteDown = iota
	remoteRejects
)

type testEnv struct {
	ts         *httptest.Server
	remoteMode atomic.Int32
	provider   *stubProvider
}

type stubProvider struct {
	mu        sync.Mutex
	listeners []federated.Listener
}

func (p *stubProvider) Subscribe(fn federated.Listener) func() {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
	return func() {}
}

func (p *stubProvider) emit(ctx context.Context, s *federated.Snapshot) {
	p.mu.Lock()
	ls := append([]federated.Listener(nil), p.listeners...)
	p.mu.Unlock()
	for _, l := range ls {
		l(ctx, s)
	}
}

func (p *stubProvider) BearerToken(context.Context) (string, error) { return "id-token", nil }

func (p *stubProvider) Begin(_ context.Context, kind string) (federated.BeginResult, error) {
	if kind != "google" {
		return federated.BeginResult{}, federated.Failure{Code: "unsupported_provider"}
	}
	return federated.BeginResult{AuthURL: "https://accounts.example/authorize?state=s1", State: "s1"}, nil
}

func (p *stubProvider) Complete(ctx context.Context, cp federated.CallbackParams) error {
	if cp.Error != "" {
		return federated.Failure{Code: cp.Error, Message: cp.ErrorDescription}
	}
	p.emit(ctx, &federated.Snapshot{SubjectID: "g-1", Email: "fed@example.com", DisplayName: "Fed", ProviderKind: "google"})
	return nil
}

func (p *stubProvider) SignOut(ctx context.Context) error {
	p.emit(ctx, nil)
	return nil
}

func newTestEnv(t *testing.T, cfg Config, withProvider bool) *testEnv {
	t.Helper()

	env := &testEnv{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if env.remoteMode.Load() == remoteRejects {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":"Invalid credentials"}`)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(upstream.Close)

	rc, err := remote.New(remote.Config{BaseURL: upstream.URL}, upstream.Client(), log, nil)
	if err != nil {
		t.Fatalf("remote.New: %v", err)
	}

	store := kv.NewMemoryStore()
	pw := password.DefaultConfig()
	pw.Params.MemoryKiB = 8 * 1024
	pw.Params.Iterations = 1
	pw.Params.Parallelism = 1

	sessions := session.NewManager(store, nil, session.WithLogger(log))

	var p federated.Provider
	if withProvider {
		env.provider = &stubProvider{}
		p = env.provider
	}
	adapter := federated.NewAdapter(p, sessions, log)
	adapter.Start()
	t.Cleanup(adapter.Close)

	svc, err := authflow.New(authflow.Deps{
		Remote:    rc,
		Local:     credential.New(store, pw, credential.WithLogger(log)),
		Federated: adapter,
		Sessions:  sessions,
		Prefs:     store,
		Logger:    log,
	})
	if err != nil {
		t.Fatalf("authflow.New: %v", err)
	}

	h, err := NewHandler(log, svc, cfg)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)
	env.ts = httptest.NewServer(mux)
	t.Cleanup(env.ts.Close)
	return env
}

func noThrottle() Config {
	cfg := DefaultConfig()
	cfg.AttemptsPerMinute = 0
	return cfg
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (int, []byte) {
	t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, out
}

func decodeInto[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return v
}

func TestAuthAPI_RegisterFallsBackToLocal(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, noThrottle(), false)
	client := env.ts.Client()

	status, body := doJSON(t, client, http.MethodPost, env.ts.URL+"/auth/register", registerRequest{
		Name: "Ann", Email: "User@Example.com", Password: "secret1",
	})
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", status, body)
	}
	res := decodeInto[authResponse](t, body)
	if res.Path != "local" || res.Session == nil || res.Session.Source != "local" {
		t.Fatalf("unexpected response: %s", body)
	}
	if res.Account == nil || res.Account.Email != "user@example.com" || res.Account.DisplayName != "Ann" {
		t.Fatalf("unexpected account: %+v", res.Account)
	}
	if strings.Contains(string(body), "password") {
		t.Fatalf("response leaks password material: %s", body)
	}

	status, body = doJSON(t, client, http.MethodGet, env.ts.URL+"/session", nil)
	if status != http.StatusOK {
		t.Fatalf("GET /session: %d", status)
	}
	cur := decodeInto[currentSessionResponse](t, body)
	if cur.Session == nil || cur.Session.SubjectID != res.Session.SubjectID {
		t.Fatalf("unexpected current session: %s", body)
	}

	status, body = doJSON(t, client, http.MethodPost, env.ts.URL+"/auth/register", registerRequest{
		Name: "Ann", Email: "user@example.com", Password: "secret1",
	})
	if status != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate, got %d", status)
	}
	errResp := decodeInto[errorResponse](t, body)
	if errResp.Error.Code != "duplicate_account" || errResp.Error.Message == "" {
		t.Fatalf("unexpected error: %+v", errResp)
	}
}

func TestAuthAPI_LoginErrors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, noThrottle(), false)
	client := env.ts.Client()

	if status, body := doJSON(t, client, http.MethodPost, env.ts.URL+"/auth/register", registerRequest{
		Name: "Ann", Email: "user@example.com", Password: "secret1",
	}); status != http.StatusCreated {
		t.Fatalf("register: %d %s", status, body)
	}

	cases := []struct {
		name    string
		mode    int32
		req     loginRequest
		status  int
		code    string
		message string
	}{
		{"wrong password", remoteDown, loginRequest{Email: "user@example.com", Password: "wrong-pass"}, http.StatusUnauthorized, "invalid_credentials", "Password is incorrect. Try again."},
		{"unknown account", remoteDown, loginRequest{Email: "nobody@example.com", Password: "secret1"}, http.StatusNotFound, "account_not_found", ""},
		{"invalid email", remoteDown, loginRequest{Email: "nope", Password: "secret1"}, http.StatusBadRequest, "invalid_input", ""},
		{"remote rejects", remoteRejects, loginRequest{Email: "user@example.com", Password: "secret1"}, http.StatusUnauthorized, "remote_rejected", "Invalid credentials"},
	}
	for _, tc := range cases {
		env.remoteMode.Store(tc.mode)
		status, body := doJSON(t, client, http.MethodPost, env.ts.URL+"/auth/login", tc.req)
		if status != tc.status {
			t.Fatalf("%s: expected %d, got %d: %s", tc.name, tc.status, status, body)
		}
		e := decodeInto[errorResponse](t, body)
		if e.Error.Code != tc.code {
			t.Fatalf("%s: code = %q", tc.name, e.Error.Code)
		}
		if tc.message != "" && e.Error.Message != tc.message {
			t.Fatalf("%s: message = %q", tc.name, e.Error.Message)
		}
	}
}

func TestAuthAPI_RejectsMalformedBodies(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, noThrottle(), false)
	client := env.ts.Client()

	for _, raw := range []string{`{"email":`, `{"email":"a@b.co","password":"secret1","extra":1}`, `{} {}`} {
		resp, err := client.Post(env.ts.URL+"/auth/login", "application/json", strings.NewReader(raw))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%q: expected 400, got %d", raw, resp.StatusCode)
		}
	}

	resp, err := client.Get(env.ts.URL + "/auth/login")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed || resp.Header.Get("Allow") != http.MethodPost {
		t.Fatalf("expected 405 with Allow, got %d %q", resp.StatusCode, resp.Header.Get("Allow"))
	}
}

func TestAuthAPI_GateRememberAndLogout(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, noThrottle(), false)
	client := env.ts.Client()
	base := env.ts.URL

	status, body := doJSON(t, client, http.MethodPost, base+"/session/gate", gateRequest{Target: "/checkout"})
	if status != http.StatusOK || decodeInto[gateResponse](t, body).Allowed {
		t.Fatalf("gate without session: %d %s", status, body)
	}
	if status, _ := doJSON(t, client, http.MethodPost, base+"/session/gate", gateRequest{Target: "https://evil.example"}); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for offsite target, got %d", status)
	}

	if status, body := doJSON(t, client, http.MethodPost, base+"/auth/register", registerRequest{Name: "Ann", Email: "user@example.com", Password: "secret1"}); status != http.StatusCreated {
		t.Fatalf("register: %d %s", status, body)
	} else if res := decodeInto[authResponse](t, body); res.Redirect != "/checkout" {
		t.Fatalf("redirect = %q", res.Redirect)
	}

	if status, body := doJSON(t, client, http.MethodPost, base+"/auth/login", loginRequest{Email: "user@example.com", Password: "secret1", RememberMe: true}); status != http.StatusOK {
		t.Fatalf("login: %d %s", status, body)
	}
	status, body = doJSON(t, client, http.MethodGet, base+"/auth/remembered-email", nil)
	if status != http.StatusOK || decodeInto[rememberedEmailResponse](t, body).Email != "user@example.com" {
		t.Fatalf("remembered email: %d %s", status, body)
	}

	status, body = doJSON(t, client, http.MethodPost, base+"/session/gate", gateRequest{Target: "/checkout"})
	if status != http.StatusOK || !decodeInto[gateResponse](t, body).Allowed {
		t.Fatalf("gate with session: %d %s", status, body)
	}

	if status, _ := doJSON(t, client, http.MethodPost, base+"/auth/logout", nil); status != http.StatusNoContent {
		t.Fatalf("logout: %d", status)
	}
	status, body = doJSON(t, client, http.MethodGet, base+"/session", nil)
	if status != http.StatusOK || decodeInto[currentSessionResponse](t, body).Session != nil {
		t.Fatalf("session after logout: %s", body)
	}
}

func TestAuthAPI_FederatedWithoutProvider(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, noThrottle(), false)
	client := env.ts.Client()

	status, body := doJSON(t, client, http.MethodGet, env.ts.URL+"/auth/federated/begin?provider=google", nil)
	if status != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d: %s", status, body)
	}
	if e := decodeInto[errorResponse](t, body); e.Error.Code != "provider_unavailable" {
		t.Fatalf("code = %q", e.Error.Code)
	}

	if status, _ := doJSON(t, client, http.MethodGet, env.ts.URL+"/auth/federated/begin", nil); status != http.StatusBadRequest {
		t.Fatalf("expected 400 without provider, got %d", status)
	}
}

func TestAuthAPI_FederatedRedirectFlow(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, noThrottle(), true)
	client := env.ts.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	resp, err := client.Get(env.ts.URL + "/auth/federated/begin?provider=google")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusFound || !strings.HasPrefix(resp.Header.Get("Location"), "https://accounts.example/authorize") {
		t.Fatalf("begin: %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}

	if status, _ := doJSON(t, client, http.MethodPost, env.ts.URL+"/session/gate", gateRequest{Target: "/plans"}); status != http.StatusOK {
		t.Fatalf("gate: %d", status)
	}

	resp, err = client.Get(env.ts.URL + "/auth/federated/callback?state=s1&code=c1")
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/plans" {
		t.Fatalf("callback: %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}

	status, body := doJSON(t, client, http.MethodGet, env.ts.URL+"/session", nil)
	cur := decodeInto[currentSessionResponse](t, body)
	if status != http.StatusOK || cur.Session == nil || cur.Session.Source != "federated" {
		t.Fatalf("session after callback: %s", body)
	}

	status, body = doJSON(t, client, http.MethodGet, env.ts.URL+"/auth/federated/callback?error=access_denied", nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for cancelled sign-in, got %d", status)
	}
	if e := decodeInto[errorResponse](t, body); e.Error.Code != "sign_in_cancelled" || e.Error.Message != "Sign-in was cancelled." {
		t.Fatalf("unexpected error: %+v", e)
	}
}

func TestAuthAPI_ThrottlesCredentialAttempts(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.AttemptsPerMinute = 1
	cfg.AttemptBurst = 2
	env := newTestEnv(t, cfg, false)
	client := env.ts.Client()

	req := loginRequest{Email: "user@example.com", Password: "secret1"}
	for i := 0; i < 2; i++ {
		if status, _ := doJSON(t, client, http.MethodPost, env.ts.URL+"/auth/login", req); status == http.StatusTooManyRequests {
			t.Fatalf("attempt %d throttled too early", i)
		}
	}
	status, body := doJSON(t, client, http.MethodPost, env.ts.URL+"/auth/login", req)
	if status != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", status)
	}
	if e := decodeInto[errorResponse](t, body); e.Error.Code != "rate_limited" {
		t.Fatalf("code = %q", e.Error.Code)
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want int
	}{
		{identity.OpError{Op: "x", Kind: identity.ErrInvalidInput}, http.StatusBadRequest},
		{identity.OpError{Op: "x", Kind: identity.ErrDuplicateAccount}, http.StatusConflict},
		{identity.OpError{Op: "x", Kind: identity.ErrRemoteUnavailable}, http.StatusServiceUnavailable},
		{identity.RemoteRejectedError{Op: "x", Status: 422}, http.StatusUnprocessableEntity},
		{identity.RemoteRejectedError{Op: "x", Status: 0}, http.StatusBadRequest},
		{identity.ProviderError{Op: "x", Kind: identity.ErrSignInBlocked}, http.StatusForbidden},
		{identity.ProviderError{Op: "x", Kind: identity.ErrAccountConflict}, http.StatusConflict},
		{identity.ProviderError{Op: "x", Code: "unknown"}, http.StatusBadGateway},
		{identity.OpError{Op: "x", Kind: identity.ErrProviderUnavailable}, http.StatusNotImplemented},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:1234"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	if got := clientIP(r, false); got.String() != "192.0.2.1" {
		t.Fatalf("untrusted proxy: %v", got)
	}
	if got := clientIP(r, true); got.String() != "203.0.113.9" {
		t.Fatalf("trusted proxy: %v", got)
	}
}

func TestNewHandler_RequiresFacade(t *testing.T) {
	t.Parallel()

	if _, err := NewHandler(nil, nil, DefaultConfig()); err == nil {
		t.Fatalf("expected error for nil facade")
	}
}

var _ Facade = (*authflow.Service)(nil)
