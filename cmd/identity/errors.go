package identity

import (
	"errors"
	"fmt"
	"strings"
)

// OpError is a typed operation error with a stable Op + Kind contract for callers/tests.
// Kind MUST be one of the sentinel kinds. Msg is human-readable context and
// must never include secrets.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

// RemoteRejectedError is an authenticated rejection from the remote account
// service (wrong password, duplicate email, ...). Message is the server's text.
type RemoteRejectedError struct {
	Op      string
	Status  int
	Message string
}

func (e RemoteRejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %v: status %d", e.Op, ErrRemoteRejected, e.Status)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrRemoteRejected, e.Message)
}

func (e RemoteRejectedError) Unwrap() error { return ErrRemoteRejected }

// ProviderError reports a federated provider failure.
// Kind is one of ErrSignInCancelled, ErrSignInBlocked, ErrAccountConflict or ErrProviderError.
type ProviderError struct {
	Op      string
	Kind    error
	Code    string
	Message string
}

func (e ProviderError) Error() string {
	kind := e.Kind
	if kind == nil {
		kind = ErrProviderError
	}
	if e.Message == "" {
		return fmt.Sprintf("%s: %v: %s", e.Op, kind, e.Code)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, kind, e.Message)
}

func (e ProviderError) Unwrap() error {
	if e.Kind == nil {
		return ErrProviderError
	}
	return e.Kind
}

func invalid(op, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidInput, Msg: msg}
}

// IsInvalidInput reports whether err represents ErrInvalidInput.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

// IsRemoteUnavailable reports whether err should trigger the local fallback.
func IsRemoteUnavailable(err error) bool { return errors.Is(err, ErrRemoteUnavailable) }

// UserMessage returns the single user-presentable string for err.
//
// Messages are stable per kind. Remote rejections and generic provider errors
// carry the upstream message when one is available.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var rr RemoteRejectedError
	if errors.As(err, &rr) && strings.TrimSpace(rr.Message) != "" {
		return rr.Message
	}

	var oe OpError
	if errors.As(err, &oe) && errors.Is(oe.Kind, ErrInvalidInput) && oe.Msg != "" {
		return oe.Msg
	}

	switch {
	case errors.Is(err, ErrInvalidInput):
		return "Please check the details you entered."
	case errors.Is(err, ErrDuplicateAccount):
		return "That email is already in use. Try logging in instead."
	case errors.Is(err, ErrAccountNotFound):
		return "We couldn't find an account with that email. Try creating one."
	case errors.Is(err, ErrInvalidCredentials):
		return "Password is incorrect. Try again."
	case errors.Is(err, ErrRemoteUnavailable):
		return "The account service is unavailable. Please try again later."
	case errors.Is(err, ErrRemoteRejected):
		return "The account service rejected the request."
	case errors.Is(err, ErrSignInCancelled):
		return "Sign-in was cancelled."
	case errors.Is(err, ErrSignInBlocked):
		return "The sign-in window was blocked. Allow pop-ups and try again."
	case errors.Is(err, ErrAccountConflict):
		return "An account already exists with the same email. Try signing in with email and password."
	case errors.Is(err, ErrProviderUnavailable):
		return "Federated sign-in is not configured."
	case errors.Is(err, ErrProviderError):
		var pe ProviderError
		if errors.As(err, &pe) && strings.TrimSpace(pe.Message) != "" {
			return pe.Message
		}
		return "Sign-in failed."
	default:
		return "Authentication error."
	}
}
