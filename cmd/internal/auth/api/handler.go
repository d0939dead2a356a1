package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"unisession/cmd/identity"
	"unisession/cmd/internal/auth/flow"
	"unisession/cmd/internal/federated"
)

// Facade is the set of auth operations exposed over HTTP.
type Facade interface {
	Register(ctx context.Context, in authflow.RegisterInput) (authflow.Result, error)
	Login(ctx context.Context, in authflow.LoginInput) (authflow.Result, error)
	Logout(ctx context.Context) error
	Current() *identity.CanonicalSession
	Gate(ctx context.Context, target string) (bool, error)
	RememberedEmail(ctx context.Context) (string, error)
	BeginFederatedSignIn(ctx context.Context, providerKind string) (federated.BeginResult, error)
	CompleteFederatedSignIn(ctx context.Context, p federated.CallbackParams) (authflow.Result, error)
}

// Handler wires HTTP auth endpoints to the auth operations facade.
type Handler struct {
	log     *slog.Logger
	cfg     Config
	svc     Facade
	limiter *attemptLimiter
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, svc Facade, cfg Config) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("authapi: nil facade")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.Sanitize()
	return &Handler{
		log:     log,
		cfg:     cfg,
		svc:     svc,
		limiter: newAttemptLimiter(cfg.AttemptsPerMinute, cfg.AttemptBurst, cfg.LimiterIdleTTL),
	}, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/register", h.handleRegister)
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/auth/remembered-email", h.handleRememberedEmail)
	mux.HandleFunc("/auth/federated/begin", h.handleFederatedBegin)
	mux.HandleFunc("/auth/federated/callback", h.handleFederatedCallback)
	mux.HandleFunc("/session", h.handleSession)
	mux.HandleFunc("/session/gate", h.handleGate)
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	ip, ua := clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent())
	if !h.throttle(w, r, "auth.register", ip, ua) {
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid request body.")
		return
	}

	res, err := h.svc.Register(r.Context(), authflow.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.auditFailure(r.Context(), "auth.register", req.Email, err, ip, ua)
		writeServiceError(w, err)
		return
	}

	h.auditSuccess(r.Context(), "auth.register", res.Session, res.Path, ip, ua)
	writeJSON(w, http.StatusCreated, toAuthResponse(res))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	ip, ua := clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent())
	if !h.throttle(w, r, "auth.login", ip, ua) {
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid request body.")
		return
	}

	res, err := h.svc.Login(r.Context(), authflow.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		RememberMe: req.RememberMe,
	})
	if err != nil {
		h.auditFailure(r.Context(), "auth.login", req.Email, err, ip, ua)
		writeServiceError(w, err)
		return
	}

	h.auditSuccess(r.Context(), "auth.login", res.Session, res.Path, ip, ua)
	writeJSON(w, http.StatusOK, toAuthResponse(res))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	ip, ua := clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent())

	prev := h.svc.Current()
	if err := h.svc.Logout(r.Context()); err != nil {
		h.log.Error("auth.logout.fail", "err", err)
		writeServiceError(w, err)
		return
	}
	h.auditSuccess(r.Context(), "auth.logout", prev, "none", ip, ua)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, currentSessionResponse{Session: toSessionResponse(h.svc.Current())})
}

func (h *Handler) handleGate(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req gateRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid request body.")
		return
	}

	allowed, err := h.svc.Gate(r.Context(), req.Target)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gateResponse{Allowed: allowed})
}

func (h *Handler) handleRememberedEmail(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	email, err := h.svc.RememberedEmail(r.Context())
	if err != nil {
		h.log.Error("auth.remembered_email.fail", "err", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rememberedEmailResponse{Email: email})
}

func (h *Handler) handleFederatedBegin(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	kind := strings.TrimSpace(r.URL.Query().Get("provider"))
	if kind == "" {
		writeError(w, http.StatusBadRequest, identity.Code(identity.ErrInvalidInput), "Missing provider.")
		return
	}

	res, err := h.svc.BeginFederatedSignIn(r.Context(), kind)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, beginResponse{AuthURL: res.AuthURL})
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, res.AuthURL, http.StatusFound)
}

func (h *Handler) handleFederatedCallback(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	ip, ua := clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent())

	q := r.URL.Query()
	res, err := h.svc.CompleteFederatedSignIn(r.Context(), federated.CallbackParams{
		State:            q.Get("state"),
		Code:             q.Get("code"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})
	if err != nil {
		h.auditFailure(r.Context(), "auth.federated", "", err, ip, ua)
		writeServiceError(w, err)
		return
	}

	h.auditSuccess(r.Context(), "auth.federated", res.Session, res.Path, ip, ua)
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, toAuthResponse(res))
		return
	}
	target := res.Redirect
	if target == "" {
		target = h.cfg.PostLoginPath
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// ---- helpers ----

func (h *Handler) throttle(w http.ResponseWriter, r *http.Request, action string, ip net.IP, ua string) bool {
	key := "unknown"
	if ip != nil {
		key = ip.String()
	}
	ok, retryAfter := h.limiter.allow(key)
	if !ok {
		h.auditRateLimited(r.Context(), action, ip, ua)
		writeRateLimited(w, retryAfter)
	}
	return ok
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	w.WriteHeader(http.StatusMethodNotAllowed)
	return false
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
