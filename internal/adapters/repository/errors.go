package repository

import (
	"errors"

	"github.com/okian/rumble/internal/domain/model"
)

// Sentinel kinds for repository errors.
var (
	ErrNotFound     = model.ErrNotFound
	ErrInvalidLimit = errors.New("invalid leaderboard limit")
)
