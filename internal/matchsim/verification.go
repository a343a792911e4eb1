package matchsim

import (
	"context"
	"fmt"
	"slices"

	"github.com/okian/rumble/internal/domain/match"
	"github.com/okian/rumble/internal/domain/model"
	"github.com/okian/rumble/internal/domain/types"
)

// Entry is a player's leaderboard row as served over HTTP.
type Entry = types.Entry

// verify checks the server's division and every simulated player against
// the replay.
func verify(ctx context.Context, c *httpClient, s *Script, want *Replay) error {
	got, err := fetchView(ctx, c, s.Division)
	if err != nil {
		return err
	}
	if got.State != model.StateComplete {
		return fmt.Errorf("%w: state %s, want %s", ErrMismatch, got.State, model.StateComplete)
	}
	if got.Winner == nil || got.Winner.Slot != s.Winner || want.winnerSlot() != s.Winner {
		return fmt.Errorf("%w: winner does not match slot %d", ErrMismatch, s.Winner)
	}
	if !slices.Equal(got.FourRemaining, want.View.FourRemaining) {
		return fmt.Errorf("%w: final four %v, replay %v", ErrMismatch, got.FourRemaining, want.View.FourRemaining)
	}
	if err := sameLeader("first elimination", got.FirstElimination, want.View.FirstElimination); err != nil {
		return err
	}
	if err := sameLeader("most eliminations", got.MostEliminations, want.View.MostEliminations); err != nil {
		return err
	}
	if err := sameLeader("longest duration", got.LongestDuration, want.View.LongestDuration); err != nil {
		return err
	}

	for _, p := range s.Players {
		entry, err := fetchPlayer(ctx, c, p.ID)
		if err != nil {
			return err
		}
		if entry.Points != want.Points[p.ID] {
			return fmt.Errorf("%w: %s has %d points, replay %d", ErrMismatch, p.ID, entry.Points, want.Points[p.ID])
		}
	}
	return nil
}

func sameLeader(name string, got, want *match.Leader) error {
	switch {
	case got == nil && want == nil:
		return nil
	case got == nil || want == nil || got.Slot != want.Slot:
		return fmt.Errorf("%w: %s differs", ErrMismatch, name)
	}
	return nil
}
