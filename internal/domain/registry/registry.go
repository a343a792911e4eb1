// Package registry holds the per-division slot records and enforces their
// lifecycle: pending -> active -> eliminated, each step at most once.
package registry

import (
	"fmt"
	"strings"
	"time"

	"github.com/okian/rumble/internal/domain/model"
)

// SlotRegistry is an in-memory, single-goroutine view over one division.
// It holds no point logic; callers persist the slots it returns.
type SlotRegistry struct {
	division model.Division
	slots    [model.SlotCount]model.Slot
}

// New returns a registry with 30 pending slots.
func New(div model.Division) *SlotRegistry {
	snap := model.EmptySnapshot(div)
	return &SlotRegistry{division: div, slots: snap.Slots}
}

// FromSnapshot rebuilds a registry from persisted slots.
func FromSnapshot(snap model.DivisionSnapshot) *SlotRegistry {
	r := &SlotRegistry{division: snap.Division, slots: snap.Slots}
	for i := range r.slots {
		r.slots[i].Number = i + 1
	}
	return r
}

// Division returns the division the registry tracks.
func (r *SlotRegistry) Division() model.Division { return r.division }

// Slot returns a copy of slot n.
func (r *SlotRegistry) Slot(n int) (model.Slot, error) {
	if !model.ValidSlotNumber(n) {
		return model.Slot{}, fmt.Errorf("%w: slot %d out of range", model.ErrInvalidTransition, n)
	}
	return r.slots[n-1], nil
}

// AssignOwner sets the owner of a pending slot (the pre-match draw).
func (r *SlotRegistry) AssignOwner(n int, playerID string) (model.Slot, error) {
	s, err := r.Slot(n)
	if err != nil {
		return model.Slot{}, err
	}
	if s.Entered() {
		return model.Slot{}, fmt.Errorf("%w: slot %d already entered", model.ErrInvalidTransition, n)
	}
	s.OwnerPlayerID = strings.TrimSpace(playerID)
	r.slots[n-1] = s
	return s, nil
}

// RecordEntry moves slot n from pending to active.
// A non-empty owner is accepted only if the slot is unowned or already owned by the same player.
func (r *SlotRegistry) RecordEntry(n int, wrestler, owner string, at time.Time) (model.Slot, error) {
	s, err := r.Slot(n)
	if err != nil {
		return model.Slot{}, err
	}
	if s.Entered() {
		return model.Slot{}, fmt.Errorf("%w: slot %d already entered", model.ErrInvalidTransition, n)
	}
	wrestler = strings.TrimSpace(wrestler)
	if wrestler == "" {
		return model.Slot{}, fmt.Errorf("%w: slot %d needs a wrestler name", model.ErrInvalidTransition, n)
	}
	if at.IsZero() {
		return model.Slot{}, fmt.Errorf("%w: slot %d entry time missing", model.ErrInvalidTransition, n)
	}
	owner = strings.TrimSpace(owner)
	if owner != "" && s.OwnerPlayerID != "" && owner != s.OwnerPlayerID {
		return model.Slot{}, fmt.Errorf("%w: slot %d owned by another player", model.ErrInvalidTransition, n)
	}
	if owner != "" {
		s.OwnerPlayerID = owner
	}
	s.WrestlerName = wrestler
	s.EntryTime = at
	r.slots[n-1] = s
	return s, nil
}

// RecordElimination moves slot n from active to eliminated. by == 0 records
// an elimination with no credited slot; otherwise by must be active right now.
func (r *SlotRegistry) RecordElimination(n, by int, at time.Time) (model.Slot, error) {
	s, err := r.Slot(n)
	if err != nil {
		return model.Slot{}, err
	}
	switch {
	case !s.Entered():
		return model.Slot{}, fmt.Errorf("%w: slot %d has not entered", model.ErrInvalidTransition, n)
	case s.Eliminated():
		return model.Slot{}, fmt.Errorf("%w: slot %d already eliminated", model.ErrInvalidTransition, n)
	case at.IsZero() || at.Before(s.EntryTime):
		return model.Slot{}, fmt.Errorf("%w: slot %d elimination precedes entry", model.ErrInvalidTransition, n)
	}
	if by != 0 {
		if by == n || !model.ValidSlotNumber(by) || !r.slots[by-1].Active() {
			return model.Slot{}, fmt.Errorf("%w: slot %d is not active", model.ErrUnknownEliminator, by)
		}
	}
	s.EliminationTime = at
	s.EliminatedBy = by
	r.slots[n-1] = s
	return s, nil
}

// ActiveSlots returns entered, not eliminated slots in number order.
func (r *SlotRegistry) ActiveSlots() []model.Slot {
	out := make([]model.Slot, 0, model.SlotCount)
	for _, s := range r.slots {
		if s.Active() {
			out = append(out, s)
		}
	}
	return out
}

// EnteredSlots returns every slot with an entry time in number order.
func (r *SlotRegistry) EnteredSlots() []model.Slot {
	out := make([]model.Slot, 0, model.SlotCount)
	for _, s := range r.slots {
		if s.Entered() {
			out = append(out, s)
		}
	}
	return out
}

// Snapshot copies the registry into an immutable snapshot. State is derived
// from the slots alone; callers promote it to COMPLETE from the ledger.
func (r *SlotRegistry) Snapshot() model.DivisionSnapshot {
	snap := model.DivisionSnapshot{Division: r.division, Slots: r.slots, State: model.StateNotStarted}
	for _, s := range r.slots {
		if s.Entered() {
			snap.State = model.StateInProgress
			break
		}
	}
	return snap
}
