package federated

import (
	"context"
	"errors"
	"strings"

	"unisession/cmd/identity"
)

// Provider failure codes, normalized to lower snake case. Popup-based
// providers and OAuth2 error responses use different spellings for the
// same situations.
var codeKinds = map[string]error{
	"cancelled":            identity.ErrSignInCancelled,
	"canceled":             identity.ErrSignInCancelled,
	"popup_closed_by_user": identity.ErrSignInCancelled,
	"popup_closed":         identity.ErrSignInCancelled,
	"access_denied":        identity.ErrSignInCancelled,
	"user_cancelled":       identity.ErrSignInCancelled,

	"popup_blocked":        identity.ErrSignInBlocked,
	"interaction_required": identity.ErrSignInBlocked,
	"consent_required":     identity.ErrSignInBlocked,
	"login_required":       identity.ErrSignInBlocked,

	"account_exists_with_different_credential": identity.ErrAccountConflict,
	"account_conflict":                         identity.ErrAccountConflict,
	"credential_already_in_use":                identity.ErrAccountConflict,
	"email_already_in_use":                     identity.ErrAccountConflict,
}

// NormalizeCode turns "auth/popup-closed-by-user" or "Access-Denied" into
// "popup_closed_by_user" / "access_denied".
func NormalizeCode(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if i := strings.LastIndexByte(code, '/'); i >= 0 {
		code = code[i+1:]
	}
	return strings.ReplaceAll(code, "-", "_")
}

// KindForCode returns the error kind for a provider failure code.
func KindForCode(code string) error {
	if k, ok := codeKinds[NormalizeCode(code)]; ok {
		return k
	}
	return identity.ErrProviderError
}

// MapError converts a provider error into an identity.ProviderError.
// A cancelled context during an interactive flow counts as user cancellation.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}

	var pe identity.ProviderError
	if errors.As(err, &pe) {
		return err
	}

	var f Failure
	if errors.As(err, &f) {
		return identity.ProviderError{
			Op:      op,
			Kind:    KindForCode(f.Code),
			Code:    NormalizeCode(f.Code),
			Message: f.Message,
		}
	}

	if errors.Is(err, context.Canceled) {
		return identity.ProviderError{Op: op, Kind: identity.ErrSignInCancelled, Code: "cancelled"}
	}
	return identity.ProviderError{Op: op, Kind: identity.ErrProviderError, Code: "unknown"}
}
