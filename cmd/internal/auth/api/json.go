package authapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"unisession/cmd/identity"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

// writeServiceError renders err with its kind code and the user-facing message.
func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), identity.Code(err), identity.UserMessage(err))
}

func statusFor(err error) int {
	var rr identity.RemoteRejectedError
	switch {
	case errors.Is(err, identity.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, identity.ErrDuplicateAccount), errors.Is(err, identity.ErrAccountConflict):
		return http.StatusConflict
	case errors.Is(err, identity.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, identity.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.As(err, &rr):
		if rr.Status >= 400 && rr.Status < 500 {
			return rr.Status
		}
		return http.StatusBadRequest
	case errors.Is(err, identity.ErrRemoteUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, identity.ErrSignInCancelled):
		return http.StatusBadRequest
	case errors.Is(err, identity.ErrSignInBlocked):
		return http.StatusForbidden
	case errors.Is(err, identity.ErrProviderUnavailable):
		return http.StatusNotImplemented
	case errors.Is(err, identity.ErrProviderError):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Ensure there is no extra data after the first JSON value.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}
