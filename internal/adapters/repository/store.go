// Package repository defines the persistence contract for a party and the
// in-memory implementation used by default and in tests.
package repository

import (
	"context"
	"io"

	"github.com/okian/rumble/internal/domain/ledger"
	"github.com/okian/rumble/internal/domain/model"
	"github.com/okian/rumble/internal/domain/types"
)

// Store is everything the engine persists. All writes that guard a state
// transition are conditional so that two racing writers cannot both succeed.
type Store interface {
	ledger.Store
	io.Closer

	// Slots returns the persisted slots of a division and its version;
	// unknown slots are pending. Every slot write bumps the version by one.
	Slots(ctx context.Context, party string, div model.Division) ([model.SlotCount]model.Slot, int64, error)
	// SetOwner assigns a slot owner. Returns false if the division is no
	// longer at version or the slot already entered.
	SetOwner(ctx context.Context, party string, div model.Division, version int64, number int, playerID string) (bool, error)
	// SaveEntry stores an entered slot. Returns false if the division is no
	// longer at version or the slot had already entered.
	SaveEntry(ctx context.Context, party string, div model.Division, version int64, slot model.Slot) (bool, error)
	// SaveElimination stores an elimination. Returns false if the division is
	// no longer at version or the slot was not active.
	SaveElimination(ctx context.Context, party string, div model.Division, version int64, slot model.Slot) (bool, error)

	// UpsertPlayer creates a player or renames it, keeping its points.
	UpsertPlayer(ctx context.Context, party string, p model.Player) (model.Player, error)
	// Player returns a player or ErrNotFound.
	Player(ctx context.Context, party, id string) (model.Player, error)
	// Leaderboard returns up to limit players by points desc, id asc.
	Leaderboard(ctx context.Context, party string, limit int) ([]types.Entry, error)
	// Rank returns the leaderboard row for one player.
	Rank(ctx context.Context, party, id string) (types.Entry, error)
	// PlayerCount returns how many players the party has.
	PlayerCount(ctx context.Context, party string) (int, error)

	// SavePrediction stores or replaces a player's prediction for a key.
	SavePrediction(ctx context.Context, party string, p model.Prediction) error
	// Predictions returns every prediction placed on key, ordered by player id.
	Predictions(ctx context.Context, party string, key model.OutcomeKey) ([]model.Prediction, error)
}

// AssignRanks sets competition ranks ("1224") on rows already sorted by
// points desc. Players with equal points share a rank.
func AssignRanks(rows []types.Entry) {
	for i := range rows {
		if i > 0 && rows[i].Points == rows[i-1].Points {
			rows[i].Rank = rows[i-1].Rank
			continue
		}
		rows[i].Rank = i + 1
	}
}
