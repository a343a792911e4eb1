package api

import (
	"errors"
	"net/http"

	"github.com/okian/rumble/internal/domain/model"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest    = errors.New("bad request")
	ErrLimitExceeded = errors.New("limit exceeded")

	ErrRequestInFlight = errors.New("a request with this idempotency key is still running")
)

// statusFor maps an engine error to an HTTP status and a stable code.
func statusFor(err error) (int, string) {
	kind := model.Kind(err)
	switch kind {
	case "invalid_transition", "predictions_locked", "match_already_complete":
		return http.StatusConflict, kind
	case "unknown_eliminator", "precondition_failed":
		return http.StatusUnprocessableEntity, kind
	case "storage_unavailable":
		return http.StatusServiceUnavailable, kind
	case "not_found":
		return http.StatusNotFound, kind
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
