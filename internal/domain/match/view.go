package match

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/rumble/internal/domain/model"
	"github.com/okian/rumble/internal/domain/stats"
)

// Leader is the current holder of a running statistic.
type Leader struct {
	Slot     int           `json:"slot"`
	Wrestler string        `json:"wrestler"`
	Count    int           `json:"count,omitempty"`
	Duration time.Duration `json:"duration_ns,omitempty"`
}

// View is a division snapshot plus everything derived from it.
type View struct {
	Division         model.Division              `json:"division"`
	State            model.MatchState            `json:"state"`
	Slots            [model.SlotCount]model.Slot `json:"slots"`
	Entered          int                         `json:"entered"`
	Active           []int                       `json:"active"`
	FirstElimination *Leader                     `json:"first_elimination,omitempty"`
	FourRemaining    []int                       `json:"four_remaining,omitempty"`
	MostEliminations *Leader                     `json:"most_eliminations,omitempty"`
	LongestDuration  *Leader                     `json:"longest_duration,omitempty"`
	Winner           *model.AwardRecord          `json:"winner,omitempty"`
	ReferenceTime    time.Time                   `json:"reference_time"`
}

// Snapshot recomputes the derived statistics of a division. Running
// durations are measured against now until a winner fixes the reference.
func (c *Controller) Snapshot(ctx context.Context, div model.Division) (v View, err error) {
	ctx, end := c.begin(ctx, "snapshot", divisionAttr(div))
	defer end(&err)

	if _, ok := c.divisions[div]; !ok {
		return View{}, fmt.Errorf("%w: unknown division %q", model.ErrInvalidTransition, div)
	}
	st, err := c.load(ctx, div)
	if err != nil {
		return View{}, err
	}
	snap := &st.snap
	v = View{
		Division:      div,
		State:         snap.State,
		Slots:         snap.Slots,
		Entered:       stats.EnteredCount(snap),
		ReferenceTime: c.now(),
	}
	if st.done {
		w := st.winner
		v.Winner = &w
		v.ReferenceTime = w.RecordedAt
	}
	for _, s := range stats.Active(snap) {
		v.Active = append(v.Active, s.Number)
	}
	if s, ok := stats.FirstElimination(snap); ok {
		v.FirstElimination = &Leader{Slot: s.Number, Wrestler: s.WrestlerName}
	}
	if four, ok := stats.FinalFour(snap); ok {
		for _, s := range four {
			v.FourRemaining = append(v.FourRemaining, s.Number)
		}
	}
	if s, n, ok := stats.MostEliminations(snap); ok {
		v.MostEliminations = &Leader{Slot: s.Number, Wrestler: s.WrestlerName, Count: n}
	}
	if s, d, ok := stats.LongestDuration(snap, v.ReferenceTime); ok {
		v.LongestDuration = &Leader{Slot: s.Number, Wrestler: s.WrestlerName, Duration: d}
	}
	return v, nil
}
