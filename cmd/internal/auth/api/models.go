package authapi

import (
	"time"

	"unisession/cmd/identity"
	"unisession/cmd/internal/auth/flow"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type gateRequest struct {
	Target string `json:"target"`
}

type sessionResponse struct {
	SubjectID   string    `json:"subject_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Source      string    `json:"source"`
	IssuedAt    time.Time `json:"issued_at"`
}

type accountResponse struct {
	SubjectID   string    `json:"subject_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

type authResponse struct {
	Session  *sessionResponse `json:"session"`
	Account  *accountResponse `json:"account,omitempty"`
	Path     string           `json:"path"`
	Trace    []authflow.Stage `json:"trace"`
	Redirect string           `json:"redirect,omitempty"`
}

type currentSessionResponse struct {
	Session *sessionResponse `json:"session"`
}

type gateResponse struct {
	Allowed bool `json:"allowed"`
}

type rememberedEmailResponse struct {
	Email string `json:"email"`
}

type beginResponse struct {
	AuthURL string `json:"auth_url"`
}

func toSessionResponse(s *identity.CanonicalSession) *sessionResponse {
	if s == nil {
		return nil
	}
	return &sessionResponse{
		SubjectID:   s.SubjectID,
		Email:       s.Email,
		DisplayName: s.DisplayName,
		Source:      string(s.Source),
		IssuedAt:    s.IssuedAt,
	}
}

func toAuthResponse(res authflow.Result) authResponse {
	out := authResponse{
		Session:  toSessionResponse(res.Session),
		Path:     res.Path,
		Trace:    res.Trace,
		Redirect: res.Redirect,
	}
	if a := res.Account; a != nil {
		out.Account = &accountResponse{
			SubjectID:   a.SubjectID,
			Email:       a.Email,
			DisplayName: a.DisplayName,
			CreatedAt:   a.CreatedAt,
		}
	}
	return out
}
