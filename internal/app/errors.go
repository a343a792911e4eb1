package service

import "errors"

// Sentinel errors for service wiring.
var (
	ErrOpenStore  = errors.New("open store failed")
	ErrBonusTable = errors.New("invalid bonus table")
	ErrStopped    = errors.New("service stopped")
)
