package authflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"unisession/cmd/identity"
	"unisession/cmd/internal/auth/session"
	"unisession/cmd/internal/federated"
	"unisession/cmd/internal/kv"
	"unisession/cmd/internal/metrics"
	"unisession/cmd/internal/remote"
)

// Stage is one state of the register/login cascade.
type Stage string

const (
	StageStart             Stage = "start"
	StageRemoteAttempt     Stage = "remote_attempt"
	StageRemoteSuccess     Stage = "remote_success"
	StageRemoteUnavailable Stage = "remote_unavailable"
	StageRemoteRejected    Stage = "remote_rejected"
	StageLocalFallback     Stage = "local_fallback"
	StageLocalSuccess      Stage = "local_success"
	StageLocalFailure      Stage = "local_failure"
	StageResolved          Stage = "resolved"
)

// Paths reported in metrics and results.
const (
	PathRemote    = "remote"
	PathLocal     = "local"
	PathFederated = "federated"
	PathNone      = "none"
)

// RemoteGateway is the remote account service.
type RemoteGateway interface {
	Register(ctx context.Context, name, email, password string) (remote.Grant, error)
	Login(ctx context.Context, email, password string) (remote.Grant, error)
}

// LocalStore is the local fallback credential store.
type LocalStore interface {
	Register(ctx context.Context, email, displayName, password string) (identity.LocalAccount, error)
	Verify(ctx context.Context, email, password string) (identity.LocalAccount, error)
}

// RegisterInput is a registration request.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// LoginInput is a login request. RememberMe stores the email for the next
// login form; without it any stored email is cleared.
type LoginInput struct {
	Email      string
	Password   string
	RememberMe bool
}

// Result is the outcome of an auth operation.
type Result struct {
	// Session is the canonical session after the operation. It may come from
	// a higher-priority source than the one just signed into.
	Session *identity.CanonicalSession
	// Account is set when the local store handled the operation.
	Account *identity.LocalAccount
	// RemoteUser is set when the remote service handled the operation.
	RemoteUser *remote.User
	Path       string
	Trace      []Stage
	// Redirect is the pending redirect consumed by this operation, if any.
	Redirect string
}

// Deps are the collaborators of a Service. Remote and Federated may be nil.
type Deps struct {
	Remote    RemoteGateway
	Local     LocalStore
	Federated *federated.Adapter
	Sessions  *session.Manager
	Prefs     kv.Store
	Logger    *slog.Logger
	Metrics   metrics.Recorder
	Now       func() time.Time
}

// Service is the single entry point for auth operations.
type Service struct {
	remote   RemoteGateway
	local    LocalStore
	fed      *federated.Adapter
	sessions *session.Manager
	prefs    kv.Store
	log      *slog.Logger
	metrics  metrics.Recorder
	now      func() time.Time

	redirectMu sync.Mutex
}

// New validates d and returns a Service.
func New(d Deps) (*Service, error) {
	if d.Local == nil {
		return nil, errors.New("authflow: local store is required")
	}
	if d.Sessions == nil {
		return nil, errors.New("authflow: session manager is required")
	}
	if d.Prefs == nil {
		return nil, errors.New("authflow: prefs store is required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.Federated == nil {
		d.Federated = federated.NewAdapter(nil, d.Sessions, d.Logger)
	}

	return &Service{
		remote:   d.Remote,
		local:    d.Local,
		fed:      d.Federated,
		sessions: d.Sessions,
		prefs:    d.Prefs,
		log:      d.Logger,
		metrics:  metrics.OrNoop(d.Metrics),
		now:      d.Now,
	}, nil
}

// Current returns the canonical session, or nil.
func (s *Service) Current() *identity.CanonicalSession { return s.sessions.Current() }

// Register creates an account remotely, or locally when the remote service is unreachable.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Result, error) {
	const op = "auth.register"

	res := Result{Trace: []Stage{StageStart}}
	email := identity.NormalizeEmail(in.Email)
	name := strings.TrimSpace(in.Name)

	if err := identity.ValidateRegistration(op, email, name, in.Password); err != nil {
		return s.fail(op, res, PathNone, err)
	}

	grant, err := s.attemptRemote(ctx, &res, func(g RemoteGateway) (remote.Grant, error) {
		return g.Register(ctx, name, email, in.Password)
	})
	switch {
	case err == nil:
		fillUser(&grant, email, name)
		if err := s.storeRemote(ctx, grant); err != nil {
			return s.fail(op, res, PathRemote, err)
		}
		res.Path = PathRemote
		res.RemoteUser = &grant.User

	case identity.IsRemoteUnavailable(err):
		s.log.Info(op+".remote_unavailable", "err", err)
		res.Trace = append(res.Trace, StageLocalFallback)

		acct, err := s.local.Register(ctx, email, name, in.Password)
		if err != nil {
			res.Trace = append(res.Trace, StageLocalFailure)
			return s.fail(op, res, PathLocal, err)
		}
		res.Trace = append(res.Trace, StageLocalSuccess)
		if err := s.storeLocal(ctx, acct); err != nil {
			return s.fail(op, res, PathLocal, err)
		}
		res.Path = PathLocal
		res.Account = &acct

	default:
		return s.fail(op, res, PathRemote, err)
	}

	return s.resolve(ctx, op, res)
}

// Login authenticates remotely, or locally when the remote service is unreachable.
func (s *Service) Login(ctx context.Context, in LoginInput) (Result, error) {
	const op = "auth.login"

	res := Result{Trace: []Stage{StageStart}}
	email := identity.NormalizeEmail(in.Email)

	if err := identity.ValidateCredentials(op, email, in.Password); err != nil {
		return s.fail(op, res, PathNone, err)
	}

	grant, err := s.attemptRemote(ctx, &res, func(g RemoteGateway) (remote.Grant, error) {
		return g.Login(ctx, email, in.Password)
	})
	switch {
	case err == nil:
		fillUser(&grant, email, "")
		if err := s.storeRemote(ctx, grant); err != nil {
			return s.fail(op, res, PathRemote, err)
		}
		res.Path = PathRemote
		res.RemoteUser = &grant.User

	case identity.IsRemoteUnavailable(err):
		s.log.Info(op+".remote_unavailable", "err", err)
		res.Trace = append(res.Trace, StageLocalFallback)

		acct, err := s.local.Verify(ctx, email, in.Password)
		if err != nil {
			res.Trace = append(res.Trace, StageLocalFailure)
			return s.fail(op, res, PathLocal, err)
		}
		res.Trace = append(res.Trace, StageLocalSuccess)
		if err := s.storeLocal(ctx, acct); err != nil {
			return s.fail(op, res, PathLocal, err)
		}
		res.Path = PathLocal
		res.Account = &acct

	default:
		return s.fail(op, res, PathRemote, err)
	}

	if err := s.rememberEmail(ctx, email, in.RememberMe); err != nil {
		s.log.Warn(op+".remember_email_failed", "err", err)
	}
	return s.resolve(ctx, op, res)
}

// attemptRemote runs fn against the remote gateway and records the outcome in
// res.Trace. A missing gateway counts as unavailable.
func (s *Service) attemptRemote(ctx context.Context, res *Result, fn func(RemoteGateway) (remote.Grant, error)) (remote.Grant, error) {
	res.Trace = append(res.Trace, StageRemoteAttempt)

	if s.remote == nil {
		res.Trace = append(res.Trace, StageRemoteUnavailable)
		return remote.Grant{}, identity.OpError{Op: "auth.remote", Kind: identity.ErrRemoteUnavailable, Msg: "not configured"}
	}

	g, err := fn(s.remote)
	switch {
	case err == nil:
		res.Trace = append(res.Trace, StageRemoteSuccess)
	case identity.IsRemoteUnavailable(err):
		res.Trace = append(res.Trace, StageRemoteUnavailable)
	case errors.Is(err, identity.ErrRemoteRejected):
		res.Trace = append(res.Trace, StageRemoteRejected)
	}
	return g, err
}

// fillUser defaults missing user fields from the request.
func fillUser(g *remote.Grant, email, name string) {
	if g.User.Email == "" {
		g.User.Email = email
	}
	if g.User.Name == "" {
		g.User.Name = name
	}
}

// storeRemote persists a remote grant. The local marker is cleared: a new
// interactive login replaces the previous one.
func (s *Service) storeRemote(ctx context.Context, g remote.Grant) error {
	user := session.RemoteUser{ID: g.User.ID, Email: g.User.Email, Name: g.User.Name}
	if err := s.sessions.PutRemote(ctx, session.RemoteMarker{Token: g.Token, User: user, IssuedAt: s.now()}); err != nil {
		return err
	}
	return s.sessions.Clear(ctx, kv.KeyLocalSession)
}

func (s *Service) storeLocal(ctx context.Context, acct identity.LocalAccount) error {
	if err := s.sessions.PutLocal(ctx, session.LocalMarker{
		SubjectID:   acct.SubjectID,
		Email:       acct.Email,
		DisplayName: acct.DisplayName,
		IssuedAt:    s.now(),
	}); err != nil {
		return err
	}
	return s.sessions.Clear(ctx, kv.KeyRemoteSession)
}

func (s *Service) resolve(ctx context.Context, op string, res Result) (Result, error) {
	cur, err := s.sessions.Refresh(ctx)
	if err != nil {
		return s.fail(op, res, res.Path, fmt.Errorf("%s: resolve: %w", op, err))
	}
	res.Trace = append(res.Trace, StageResolved)
	res.Session = cur
	res.Redirect = s.consumeRedirect(ctx)

	s.metrics.AuthOperation(strings.TrimPrefix(op, "auth."), res.Path, "ok")
	s.log.Info(op+".ok", "path", res.Path, "source", sourceOf(cur))
	return res, nil
}

func (s *Service) fail(op string, res Result, path string, err error) (Result, error) {
	code := identity.Code(err)
	s.metrics.AuthOperation(strings.TrimPrefix(op, "auth."), path, code)
	if code == "internal" {
		s.log.Error(op+".failed", "path", path, "err", err)
	} else {
		s.log.Info(op+".failed", "path", path, "code", code)
	}
	res.Path = path
	res.Session = s.sessions.Current()
	return res, err
}

// Logout signs out of every source. Provider errors are logged and ignored.
func (s *Service) Logout(ctx context.Context) error {
	const op = "auth.logout"

	// Clear the lower-priority markers first so the provider's sign-out
	// notification resolves straight to "no session".
	if err := s.sessions.Clear(ctx, kv.KeyRemoteSession, kv.KeyLocalSession); err != nil {
		s.metrics.AuthOperation("logout", PathNone, identity.Code(err))
		return err
	}

	if s.fed.Available() {
		if err := s.fed.SignOut(ctx); err != nil {
			s.log.Warn(op+".provider_sign_out_failed", "code", identity.Code(err))
		}
	}

	if err := s.sessions.Clear(ctx, kv.SessionKeys...); err != nil {
		s.metrics.AuthOperation("logout", PathNone, identity.Code(err))
		return err
	}
	if _, err := s.sessions.Refresh(ctx); err != nil {
		s.metrics.AuthOperation("logout", PathNone, identity.Code(err))
		return fmt.Errorf("%s: resolve: %w", op, err)
	}

	s.metrics.AuthOperation("logout", PathNone, "ok")
	s.log.Info(op + ".ok")
	return nil
}

// BeginFederatedSignIn starts the provider's consent flow.
func (s *Service) BeginFederatedSignIn(ctx context.Context, providerKind string) (federated.BeginResult, error) {
	res, err := s.fed.BeginInteractiveSignIn(ctx, providerKind)
	if err != nil {
		s.metrics.AuthOperation("federated_begin", PathFederated, identity.Code(err))
		return federated.BeginResult{}, err
	}
	return res, nil
}

// CompleteFederatedSignIn finishes a redirect-based federated sign-in. The
// provider notification has already been resolved when it returns.
func (s *Service) CompleteFederatedSignIn(ctx context.Context, p federated.CallbackParams) (Result, error) {
	const op = "auth.federated"

	res := Result{Trace: []Stage{StageStart}}
	if err := s.fed.CompleteSignIn(ctx, p); err != nil {
		return s.fail(op, res, PathFederated, err)
	}
	res.Path = PathFederated
	return s.resolve(ctx, op, res)
}

// BearerToken returns a credential for the current session: the provider's
// token for federated sessions, the stored grant for remote ones. Local
// sessions have none.
func (s *Service) BearerToken(ctx context.Context) (string, error) {
	cur := s.sessions.Current()
	if cur == nil {
		return "", nil
	}
	switch cur.Source {
	case identity.SourceFederated:
		return s.fed.RequestBearerToken(ctx)
	case identity.SourceRemote:
		return cur.BearerToken, nil
	default:
		return "", nil
	}
}

func sourceOf(c *identity.CanonicalSession) string {
	if c == nil {
		return "none"
	}
	return string(c.Source)
}
