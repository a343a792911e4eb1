// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"strings"
	"time"
)

// SlotCount is the number of entry slots in every division.
const SlotCount = 30

// Division identifies one of the two parallel brackets of a party.
type Division string

// Known divisions.
const (
	DivisionPrimary   Division = "primary"
	DivisionSecondary Division = "secondary"
)

// Divisions lists every division in a stable order.
var Divisions = []Division{DivisionPrimary, DivisionSecondary} //nolint:gochecknoglobals // closed set

// ParseDivision accepts the canonical names and the common aliases used by hosts.
func ParseDivision(s string) (Division, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "primary", "men", "mens":
		return DivisionPrimary, nil
	case "secondary", "women", "womens":
		return DivisionSecondary, nil
	default:
		return "", fmt.Errorf("%w: unknown division %q", ErrInvalidTransition, s)
	}
}

// MatchState is the lifecycle state of a division.
type MatchState string

// Division states. COMPLETE is terminal.
const (
	StateNotStarted MatchState = "NOT_STARTED"
	StateInProgress MatchState = "IN_PROGRESS"
	StateComplete   MatchState = "COMPLETE"
)

// Slot is one numbered entry position within a division.
// Zero times mean "not yet"; EliminatedBy zero means no eliminator recorded.
type Slot struct {
	Number          int       `json:"number"`
	WrestlerName    string    `json:"wrestler_name,omitempty"`
	OwnerPlayerID   string    `json:"owner_player_id,omitempty"`
	EntryTime       time.Time `json:"entry_time,omitzero"`
	EliminationTime time.Time `json:"elimination_time,omitzero"`
	EliminatedBy    int       `json:"eliminated_by,omitempty"`
}

// Entered reports whether the slot has an entry time.
func (s Slot) Entered() bool { return !s.EntryTime.IsZero() }

// Eliminated reports whether the slot has an elimination time.
func (s Slot) Eliminated() bool { return !s.EliminationTime.IsZero() }

// Active reports whether the slot is entered and not yet eliminated.
func (s Slot) Active() bool { return s.Entered() && !s.Eliminated() }

// ValidSlotNumber reports whether n addresses a slot.
func ValidSlotNumber(n int) bool { return n >= 1 && n <= SlotCount }

// DivisionSnapshot is a point-in-time copy of a division's slots.
// Slots[i] holds slot number i+1.
type DivisionSnapshot struct {
	Division Division
	Slots    [SlotCount]Slot
	State    MatchState
}

// Slot returns the slot with the given number. The caller must validate n.
func (d *DivisionSnapshot) Slot(n int) Slot { return d.Slots[n-1] }

// EmptySnapshot returns a division with 30 pending slots.
func EmptySnapshot(div Division) DivisionSnapshot {
	snap := DivisionSnapshot{Division: div, State: StateNotStarted}
	for i := range snap.Slots {
		snap.Slots[i].Number = i + 1
	}
	return snap
}
