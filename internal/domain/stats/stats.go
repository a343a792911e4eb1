// Package stats derives match milestones from a division snapshot.
//
// Every function is pure and recomputed from scratch; nothing is tracked
// incrementally. Ties always resolve to the lowest slot number.
package stats

import (
	"time"

	"github.com/okian/rumble/internal/domain/model"
)

// Active returns the active slots of snap in number order.
func Active(snap *model.DivisionSnapshot) []model.Slot {
	out := make([]model.Slot, 0, model.SlotCount)
	for _, s := range snap.Slots {
		if s.Active() {
			out = append(out, s)
		}
	}
	return out
}

// EnteredCount returns how many slots have entered.
func EnteredCount(snap *model.DivisionSnapshot) int {
	n := 0
	for _, s := range snap.Slots {
		if s.Entered() {
			n++
		}
	}
	return n
}

// FirstElimination returns the slot with the earliest elimination time.
func FirstElimination(snap *model.DivisionSnapshot) (model.Slot, bool) {
	var (
		first model.Slot
		found bool
	)
	for _, s := range snap.Slots {
		if !s.Eliminated() {
			continue
		}
		if !found || s.EliminationTime.Before(first.EliminationTime) {
			first, found = s, true
		}
	}
	return first, found
}

// FourRemaining returns the active set when exactly four slots are active.
// It stays true on every recomputation while the count is four; callers
// consult the ledger before reacting.
func FourRemaining(snap *model.DivisionSnapshot) ([]model.Slot, bool) {
	active := Active(snap)
	if len(active) != 4 {
		return nil, false
	}
	return active, true
}

// FinalFour returns the four remaining once every slot has entered. Before
// that, four active slots are just an early field, not the final four.
func FinalFour(snap *model.DivisionSnapshot) ([]model.Slot, bool) {
	if EnteredCount(snap) != model.SlotCount {
		return nil, false
	}
	return FourRemaining(snap)
}

// SoleSurvivor returns the last active slot once all thirty have entered.
func SoleSurvivor(snap *model.DivisionSnapshot) (model.Slot, bool) {
	if EnteredCount(snap) != model.SlotCount {
		return model.Slot{}, false
	}
	active := Active(snap)
	if len(active) != 1 {
		return model.Slot{}, false
	}
	return active[0], true
}

// EliminationCounts tallies credited eliminations per eliminator slot number.
func EliminationCounts(snap *model.DivisionSnapshot) [model.SlotCount + 1]int {
	var counts [model.SlotCount + 1]int
	for _, s := range snap.Slots {
		if s.Eliminated() && model.ValidSlotNumber(s.EliminatedBy) {
			counts[s.EliminatedBy]++
		}
	}
	return counts
}

// MostEliminations returns the slot with the most credited eliminations and
// its count. Ties go to the lowest slot number. It reports false until at
// least one elimination has been credited.
func MostEliminations(snap *model.DivisionSnapshot) (model.Slot, int, bool) {
	counts := EliminationCounts(snap)
	best := 0
	for n := 1; n <= model.SlotCount; n++ {
		if counts[n] > counts[best] {
			best = n
		}
	}
	if best == 0 {
		return model.Slot{}, 0, false
	}
	return snap.Slot(best), counts[best], true
}

// Duration is how long slot s has been in the match as of ref.
func Duration(s model.Slot, ref time.Time) time.Duration {
	if !s.Entered() {
		return 0
	}
	end := ref
	if s.Eliminated() {
		end = s.EliminationTime
	}
	return end.Sub(s.EntryTime)
}

// LongestDuration returns the entered slot that stayed in longest, measuring
// still-active slots against the single reference time ref.
func LongestDuration(snap *model.DivisionSnapshot, ref time.Time) (model.Slot, time.Duration, bool) {
	var (
		best    model.Slot
		bestDur time.Duration
		found   bool
	)
	for _, s := range snap.Slots {
		if !s.Entered() {
			continue
		}
		d := Duration(s, ref)
		if !found || d > bestDur {
			best, bestDur, found = s, d, true
		}
	}
	return best, bestDur, found
}
