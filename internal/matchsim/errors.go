package matchsim

import "errors"

// Sentinel errors reported by a run.
var (
	ErrUnhealthy       = errors.New("service unhealthy")
	ErrDivisionStarted = errors.New("division already started")
	ErrUnexpected      = errors.New("unexpected response")
	ErrMismatch        = errors.New("server disagrees with replay")
)
