package identity

import "errors"

// Sentinel error kinds (stable for errors.Is and for mapping to API codes).
var (
	// Local validation, caller-correctable.
	ErrInvalidInput = errors.New("invalid_input")

	// Local credential store.
	ErrDuplicateAccount   = errors.New("duplicate_account")
	ErrAccountNotFound    = errors.New("account_not_found")
	ErrInvalidCredentials = errors.New("invalid_credentials")

	// Remote account service.
	ErrRemoteUnavailable = errors.New("remote_unavailable")
	ErrRemoteRejected    = errors.New("remote_rejected")

	// Federated identity provider.
	ErrSignInCancelled     = errors.New("sign_in_cancelled")
	ErrSignInBlocked       = errors.New("sign_in_blocked")
	ErrAccountConflict     = errors.New("account_conflict")
	ErrProviderError       = errors.New("provider_error")
	ErrProviderUnavailable = errors.New("provider_unavailable")

	// Persisted state that failed to decode. Never surfaced to callers.
	ErrStorageCorrupt = errors.New("storage_corrupt")
)

// Code returns the stable wire code for err, or "internal" when err does not
// carry one of the sentinel kinds.
func Code(err error) string {
	for _, k := range allKinds {
		if errors.Is(err, k) {
			return k.Error()
		}
	}
	return "internal"
}

var allKinds = []error{
	ErrInvalidInput,
	ErrDuplicateAccount,
	ErrAccountNotFound,
	ErrInvalidCredentials,
	ErrRemoteUnavailable,
	ErrRemoteRejected,
	ErrSignInCancelled,
	ErrSignInBlocked,
	ErrAccountConflict,
	ErrProviderError,
	ErrProviderUnavailable,
	ErrStorageCorrupt,
}
