package authflow

import (
	"context"
	"errors"
	"strings"

	"unisession/cmd/identity"
	"unisession/cmd/internal/kv"
)

const maxRedirectLen = 2048

// RememberedEmail returns the email stored by the last "remember me" login.
func (s *Service) RememberedEmail(ctx context.Context) (string, error) {
	raw, err := s.prefs.Get(ctx, kv.KeyRememberEmail)
	if errors.Is(err, kv.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (s *Service) rememberEmail(ctx context.Context, email string, remember bool) error {
	if remember {
		return s.prefs.Put(ctx, kv.KeyRememberEmail, []byte(email))
	}
	return s.prefs.Delete(ctx, kv.KeyRememberEmail)
}

// Gate reports whether a gated action may proceed. Without a session it
// records target as the pending redirect and returns false.
func (s *Service) Gate(ctx context.Context, target string) (bool, error) {
	if s.sessions.Current() != nil {
		return true, nil
	}

	target = strings.TrimSpace(target)
	if !validRedirect(target) {
		return false, identity.OpError{Op: "auth.Gate", Kind: identity.ErrInvalidInput, Msg: "Invalid redirect target."}
	}

	s.redirectMu.Lock()
	defer s.redirectMu.Unlock()
	if err := s.prefs.Put(ctx, kv.KeyPendingRedirect, []byte(target)); err != nil {
		return false, err
	}
	return false, nil
}

// consumeRedirect reads and clears the pending redirect.
func (s *Service) consumeRedirect(ctx context.Context) string {
	s.redirectMu.Lock()
	defer s.redirectMu.Unlock()

	raw, err := s.prefs.Get(ctx, kv.KeyPendingRedirect)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			s.log.Warn("auth.redirect.read_failed", "err", err)
		}
		return ""
	}
	if err := s.prefs.Delete(ctx, kv.KeyPendingRedirect); err != nil {
		s.log.Warn("auth.redirect.clear_failed", "err", err)
		return ""
	}
	target := string(raw)
	if !validRedirect(target) {
		return ""
	}
	return target
}

// validRedirect accepts same-site absolute paths only.
func validRedirect(target string) bool {
	if target == "" || len(target) > maxRedirectLen {
		return false
	}
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.Contains(target, `\`) {
		return false
	}
	return !strings.ContainsAny(target, "\r\n")
}
