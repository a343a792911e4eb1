package scoring

import "errors"

// Sentinel kinds for scoring errors.
var (
	ErrUnknownBonus = errors.New("unknown bonus")
)
