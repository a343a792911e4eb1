package matchsim

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/rumble/internal/adapters/repository"
	"github.com/okian/rumble/internal/domain/ledger"
	"github.com/okian/rumble/internal/domain/match"
	"github.com/okian/rumble/internal/domain/scoring"
	"github.com/okian/rumble/pkg/logger"
)

// Replay is what an in-process engine derives from a script.
type Replay struct {
	Points map[string]int
	View   match.View
}

// replay plays s on a private engine. Awards are stamped with winnerAt so
// running durations are measured exactly as the server measured them.
func replay(ctx context.Context, s *Script, winnerAt time.Time, jobber time.Duration) (*Replay, error) {
	store := repository.NewMemoryStore(ctx)
	defer func() { _ = store.Close() }()

	clock := func() time.Time { return winnerAt }
	l := ledger.New(store, "replay-"+s.Run, ledger.WithLogger(logger.Nop()), ledger.WithClock(clock))
	c := match.New(store, l,
		match.WithLogger(logger.Nop()),
		match.WithClock(clock),
		match.WithBonusTable(scoring.NewTable(scoring.WithJobberThreshold(jobber))),
	)

	for _, p := range s.Players {
		if _, err := c.RegisterPlayer(ctx, p.ID, p.Name); err != nil {
			return nil, fmt.Errorf("replay register %s: %w", p.ID, err)
		}
	}
	for _, pick := range s.Picks {
		if _, err := c.PlacePrediction(ctx, pick.PlayerID, pick.Key(s.Division), pick.Value); err != nil {
			return nil, fmt.Errorf("replay prediction: %w", err)
		}
	}
	for i, owner := range s.Owners {
		if _, err := c.AssignOwner(ctx, s.Division, i+1, owner); err != nil {
			return nil, fmt.Errorf("replay owner %d: %w", i+1, err)
		}
	}
	for _, m := range s.Moves {
		var err error
		switch m.Action {
		case ActionEntry:
			_, err = c.RecordEntry(ctx, s.Division, m.Slot, m.Wrestler, "", m.At)
		case ActionElimination:
			_, err = c.RecordElimination(ctx, s.Division, m.Slot, m.By, m.At)
		case ActionWinner:
			_, err = c.DeclareWinner(ctx, s.Division, m.Slot)
		}
		if err != nil {
			return nil, fmt.Errorf("replay %s %d: %w", m.Action, m.Slot, err)
		}
	}
	if _, err := c.RecordSimpleOutcome(ctx, s.Prop, s.Outcome); err != nil {
		return nil, fmt.Errorf("replay outcome: %w", err)
	}

	out := &Replay{Points: make(map[string]int, len(s.Players))}
	for _, p := range s.Players {
		player, err := c.PlayerPoints(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		out.Points[p.ID] = player.Points
	}
	view, err := c.Snapshot(ctx, s.Division)
	if err != nil {
		return nil, err
	}
	out.View = view
	return out, nil
}

// expectedTotal sums every player's replayed points.
func (r *Replay) expectedTotal() int {
	total := 0
	for _, p := range r.Points {
		total += p
	}
	return total
}

// winnerSlot returns the slot the replay declared.
func (r *Replay) winnerSlot() int {
	if r.View.Winner == nil {
		return 0
	}
	return r.View.Winner.Slot
}
