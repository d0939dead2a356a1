// Package remote is the gateway to the first-party remote account service.
//
// The service exposes POST /auth/register and POST /auth/login. Both answer
// 200 {token, user} on success and non-2xx {error} otherwise. The gateway
// classifies every outcome as success, ErrRemoteRejected (the service said no)
// or ErrRemoteUnavailable (anything that should trigger the local fallback).
// Requests are never retried here; callers decide.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"unisession/cmd/identity"
	"unisession/cmd/internal/metrics"
	"unisession/cmd/security/token"
)

const (
	EndpointRegister = "/auth/register"
	EndpointLogin    = "/auth/login"

	maxResponseBytes = 1 << 20
)

// User is the account object returned by the remote service.
type User struct {
	ID    string `json:"id,omitempty"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Grant is a successful register/login response.
type Grant struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Config configures the Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to the remote account service over HTTP.
type Client struct {
	base    *url.URL
	http    *http.Client
	log     *slog.Logger
	metrics metrics.Recorder
}

// New validates cfg and returns a Client. A nil httpClient gets one with cfg.Timeout.
func New(cfg Config, httpClient *http.Client, log *slog.Logger, rec metrics.Recorder) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if raw == "" {
		return nil, errors.New("remote: base url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("remote: invalid base url %q", cfg.BaseURL)
	}

	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		base:    u,
		http:    httpClient,
		log:     log,
		metrics: metrics.OrNoop(rec),
	}, nil
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates an account on the remote service.
func (c *Client) Register(ctx context.Context, name, email, password string) (Grant, error) {
	return c.post(ctx, "remote.Register", EndpointRegister, registerRequest{
		Name:     name,
		Email:    email,
		Password: password,
	})
}

// Login authenticates against the remote service.
func (c *Client) Login(ctx context.Context, email, password string) (Grant, error) {
	return c.post(ctx, "remote.Login", EndpointLogin, loginRequest{
		Email:    email,
		Password: password,
	})
}

// NewAuthorizedRequest builds a request to path on the remote service carrying
// the bearer token, for any call made after sign-in.
func (c *Client) NewAuthorizedRequest(ctx context.Context, method, path, bearer string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}
	if bearer != "" {
		req.Header.Set(token.HeaderAuthorization, token.BearerHeader(bearer))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) endpoint(path string) string {
	return c.base.String() + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) post(ctx context.Context, op, path string, body any) (Grant, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Grant{}, fmt.Errorf("%s: encode: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(payload))
	if err != nil {
		return Grant{}, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	c.metrics.RemoteRequest(path, time.Since(start))
	if err != nil {
		c.log.Warn("remote.request_failed", "op", op, "err", err)
		return Grant{}, identity.OpError{Op: op, Kind: identity.ErrRemoteUnavailable, Msg: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Grant{}, identity.OpError{Op: op, Kind: identity.ErrRemoteUnavailable, Msg: "read response: " + err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Grant{}, c.classify(op, resp.StatusCode, raw)
	}

	var g Grant
	if err := json.Unmarshal(raw, &g); err != nil {
		return Grant{}, identity.OpError{Op: op, Kind: identity.ErrRemoteUnavailable, Msg: "malformed success body"}
	}
	g.Token = strings.TrimSpace(g.Token)
	if g.Token == "" {
		return Grant{}, identity.OpError{Op: op, Kind: identity.ErrRemoteUnavailable, Msg: "success body without token"}
	}
	g.User.Email = identity.NormalizeEmail(g.User.Email)

	c.log.Debug("remote.granted", "op", op, "token", token.Fingerprint(g.Token))
	return g, nil
}

// classify splits non-2xx responses into rejections and outages.
// Only a 4xx carrying a readable {error} is treated as the service's answer;
// 408/429, 5xx and anything unparseable are availability failures.
func (c *Client) classify(op string, status int, body []byte) error {
	msg, parsed := errorMessage(body)

	if status >= 400 && status < 500 &&
		status != http.StatusRequestTimeout &&
		status != http.StatusTooManyRequests &&
		parsed {
		c.log.Info("remote.rejected", "op", op, "status", status)
		return identity.RemoteRejectedError{Op: op, Status: status, Message: msg}
	}

	c.log.Warn("remote.unavailable", "op", op, "status", status)
	return identity.OpError{Op: op, Kind: identity.ErrRemoteUnavailable, Msg: fmt.Sprintf("status %d", status)}
}

// errorMessage extracts {error: "..."} or {error: {message: "..."}}.
func errorMessage(body []byte) (string, bool) {
	var env struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil || len(env.Error) == 0 {
		return "", false
	}

	var s string
	if err := json.Unmarshal(env.Error, &s); err == nil {
		return strings.TrimSpace(s), true
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(env.Error, &obj); err == nil {
		return strings.TrimSpace(obj.Message), true
	}
	return "", false
}
