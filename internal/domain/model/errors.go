package model

import (
	"errors"
	"fmt"
)

// Sentinel error kinds shared by the engine and its adapters.
var (
	// ErrInvalidTransition rejects a malformed or out-of-order command.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrUnknownEliminator rejects an elimination credited to a slot that is not active.
	ErrUnknownEliminator = errors.New("unknown eliminator")
	// ErrPreconditionFailed rejects a command whose required state is not yet reached.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrStorageUnavailable is a transient collaborator failure; retry the same command.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrMatchAlreadyComplete rejects slot mutations on a completed division.
	ErrMatchAlreadyComplete = errors.New("match already complete")
	// ErrNotFound reports a missing player or record.
	ErrNotFound = errors.New("not found")
	// ErrPredictionsLocked rejects a prediction placed after its outcome window closed.
	ErrPredictionsLocked = fmt.Errorf("%w: predictions locked", ErrInvalidTransition)
)

// Retryable reports whether err is worth retrying with the same command.
func Retryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

// Kind names the sentinel class of err for metrics and API responses.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrPredictionsLocked):
		return "predictions_locked"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrUnknownEliminator):
		return "unknown_eliminator"
	case errors.Is(err, ErrPreconditionFailed):
		return "precondition_failed"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, ErrMatchAlreadyComplete):
		return "match_already_complete"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
