// Package scoring holds the injected bonus table: how many points each
// recorded outcome is worth and to whom.
package scoring

import (
	"fmt"
	"sort"
	"time"
)

// Default scoring configuration constants.
const (
	defaultJobberThreshold = 60 * time.Second
)

// Bonus names a row in the bonus table.
type Bonus string

// Bonus table rows.
const (
	EliminationCredit       Bonus = "elimination_credit"
	JobberPenalty           Bonus = "jobber_penalty"
	FinalFour               Bonus = "final_four"
	Survivor                Bonus = "survivor"
	MostEliminations        Bonus = "most_eliminations"
	IronPerson              Bonus = "iron_person"
	PredictWinner           Bonus = "predict_winner"
	PredictFirstElimination Bonus = "predict_first_elimination"
	PredictEntrantOne       Bonus = "predict_entrant_one"
	PredictMostEliminations Bonus = "predict_most_eliminations"
	PredictIronPerson       Bonus = "predict_iron_person"
	SimplePick              Bonus = "simple_pick"
)

// DefaultBonuses returns the stock bonus table.
func DefaultBonuses() map[Bonus]int {
	return map[Bonus]int{
		EliminationCredit:       1,
		JobberPenalty:           -1,
		FinalFour:               2,
		Survivor:                5,
		MostEliminations:        3,
		IronPerson:              3,
		PredictWinner:           5,
		PredictFirstElimination: 2,
		PredictEntrantOne:       2,
		PredictMostEliminations: 2,
		PredictIronPerson:       2,
		SimplePick:              1,
	}
}

// Option applies a configuration option to the Table.
type Option func(*Table)

// WithBonusesFromConfig overrides rows from a configuration map. Unknown
// names are rejected by Validate rather than silently dropped.
func WithBonusesFromConfig(bonuses map[string]int) Option {
	return func(t *Table) {
		for name, points := range bonuses {
			t.points[Bonus(name)] = points
		}
	}
}

// WithJobberThreshold sets the minimum stay that avoids the jobber penalty.
func WithJobberThreshold(d time.Duration) Option {
	return func(t *Table) {
		if d > 0 {
			t.jobberThreshold = d
		}
	}
}

// Table maps bonuses to point deltas. It is read-only after construction.
type Table struct {
	points          map[Bonus]int
	jobberThreshold time.Duration
}

// NewTable creates a bonus table with defaults and options applied.
func NewTable(opts ...Option) *Table {
	t := &Table{
		points:          DefaultBonuses(),
		jobberThreshold: defaultJobberThreshold,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Validate reports rows that are not part of the table.
func (t *Table) Validate() error {
	known := DefaultBonuses()
	var unknown []string
	for b := range t.points {
		if _, ok := known[b]; !ok {
			unknown = append(unknown, string(b))
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: %v", ErrUnknownBonus, unknown)
	}
	return nil
}

// Points returns the delta for b; zero means the bonus is disabled.
func (t *Table) Points(b Bonus) int { return t.points[b] }

// JobberThreshold returns the stay below which an elimination is penalised.
func (t *Table) JobberThreshold() time.Duration { return t.jobberThreshold }

// IsJobber reports whether a stay of d earns the jobber penalty. The
// comparison is strict: a stay of exactly the threshold is not penalised.
func (t *Table) IsJobber(d time.Duration) bool { return d < t.jobberThreshold }
