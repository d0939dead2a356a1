// Package main is a CI-friendly smoke test for a running unisession server.
//
// It validates:
//   - handshake + subprotocol selection
//   - session_snapshot as the first frame on every connection
//   - ping -> pong
//   - login over HTTP fans session_changed out to every connection
//   - logout fans out a signed-out session_changed
//   - session_get -> session_snapshot
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	"unisession/cmd/internal/realtime"
)

const maxReadBytes = 1 << 20

type smokeClient struct {
	name string
	conn *websocket.Conn

	inbox chan realtime.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL    = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		httpURL  = flag.String("http", "", "HTTP base URL (default derived from -url)")
		origin   = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		email    = flag.String("email", "", "Account email; enables the login/logout fan-out steps")
		pass     = flag.String("password", "", "Account password")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
		register = flag.Bool("register", true, "Register the account before logging in")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	base := *httpURL
	if base == "" {
		base = httpBaseFromWS(*wsURL)
	}

	root := context.Background()

	a := mustConnect(root, "A", *wsURL, *origin, *timeout)
	defer closeWS(a.conn)
	b := mustConnect(root, "B", *wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	snapA := a.mustReadSession(root, realtime.TypeSessionSnapshot, *timeout)
	b.mustReadSession(root, realtime.TypeSessionSnapshot, *timeout)
	if *verbose {
		fmt.Printf("connected: A and B, current=%s\n", describe(snapA.Session))
	}

	mustWriteWithTimeout(root, a.conn, clientEnvelope("A-ping", realtime.TypePing), *timeout)
	a.mustReadUntilType(root, realtime.TypePong, *timeout, nil)

	if *email != "" {
		if snapA.Session != nil {
			mustLogout(root, base, *timeout, a, b)
		}

		if *register {
			status := mustPost(root, base+"/auth/register", map[string]string{
				"name": "Smoke Test", "email": *email, "password": *pass,
			}, *timeout)
			switch status {
			case http.StatusCreated:
				drainChanged(root, *timeout, a, b)
				mustLogout(root, base, *timeout, a, b)
			case http.StatusConflict:
			default:
				fatalf("register: unexpected status %d", status)
			}
		}

		if status := mustPost(root, base+"/auth/login", map[string]any{
			"email": *email, "password": *pass,
		}, *timeout); status != http.StatusOK {
			fatalf("login: unexpected status %d", status)
		}
		for _, c := range []*smokeClient{a, b} {
			p := c.mustReadSession(root, realtime.TypeSessionChanged, *timeout)
			if p.Session == nil || !strings.EqualFold(p.Session.Email, *email) {
				fatalf("session mismatch after login (%s): got=%s want=%s", c.name, describe(p.Session), *email)
			}
			if *verbose {
				fmt.Printf("%s: %s\n", c.name, describe(p.Session))
			}
		}

		mustLogout(root, base, *timeout, a, b)
	}

	mustWriteWithTimeout(root, b.conn, clientEnvelope("B-get", realtime.TypeSessionGet), *timeout)
	final := b.mustReadSession(root, realtime.TypeSessionSnapshot, *timeout)

	fmt.Printf("OK: ws smoke passed (current=%s)\n", describe(final.Session))
}

func describe(v *realtime.SessionView) string {
	if v == nil {
		return "signed-out"
	}
	return v.Source + ":" + v.Email
}

func clientEnvelope(id, typ string) realtime.Envelope {
	return realtime.Envelope{V: realtime.Version, Type: typ, ID: id, TS: time.Now().UTC()}
}

func httpBaseFromWS(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path = ""
	return strings.TrimRight(u.String(), "/")
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{realtime.SubprotocolV1},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	if got := conn.Subprotocol(); got != realtime.SubprotocolV1 {
		fatalf("subprotocol mismatch (%s): got=%q want=%q", name, got, realtime.SubprotocolV1)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan realtime.Envelope, 64),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}
			if mt != websocket.MessageText {
				c.fail(fmt.Errorf("unsupported message type: %v", mt))
				return
			}

			var env realtime.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if env.V != realtime.Version {
				c.fail(fmt.Errorf("bad envelope version: %d", env.V))
				return
			}

			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func (c *smokeClient) mustReadSession(parent context.Context, wantType string, stepTimeout time.Duration) realtime.SessionPayload {
	env := c.mustReadUntilType(parent, wantType, stepTimeout, map[string]struct{}{realtime.TypePong: {}})
	var p realtime.SessionPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal %s payload (%s): %v", wantType, c.name, err)
	}
	return p
}

// mustLogout signs out and expects every client to see the signed-out state.
func mustLogout(parent context.Context, base string, stepTimeout time.Duration, clients ...*smokeClient) {
	if status := mustPost(parent, base+"/auth/logout", nil, stepTimeout); status != http.StatusNoContent {
		fatalf("logout: unexpected status %d", status)
	}
	for _, c := range clients {
		p := c.mustReadSession(parent, realtime.TypeSessionChanged, stepTimeout)
		if p.Session != nil {
			fatalf("expected signed-out session (%s), got %s", c.name, describe(p.Session))
		}
	}
}

// drainChanged consumes the session_changed caused by a fresh registration.
func drainChanged(parent context.Context, stepTimeout time.Duration, clients ...*smokeClient) {
	for _, c := range clients {
		c.mustReadUntilType(parent, realtime.TypeSessionChanged, stepTimeout, nil)
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) realtime.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == realtime.TypeError {
				var ep realtime.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if _, ok := skipTypes[env.Type]; ok {
				continue
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env realtime.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustPost(parent context.Context, target string, body any, stepTimeout time.Duration) int {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, &buf)
	if err != nil {
		fatalf("build request %s: %v", target, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("POST %s: %v", target, err)
	}
	_ = resp.Body.Close()
	return resp.StatusCode
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
