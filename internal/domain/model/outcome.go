package model

import (
	"strconv"
	"strings"
	"time"
)

// OutcomeKind enumerates every scoreable fact the engine can record.
type OutcomeKind string

// Outcome kinds. Division-scoped kinds carry a Division in their key;
// KindSimple and KindAdjustment are party-wide and use Subject instead.
const (
	KindEntrantOne        OutcomeKind = "entrant_one"
	KindFirstElimination  OutcomeKind = "first_elimination"
	KindFinalFour         OutcomeKind = "final_four"
	KindMostEliminations  OutcomeKind = "most_eliminations"
	KindLongestDuration   OutcomeKind = "longest_duration"
	KindDivisionWinner    OutcomeKind = "division_winner"
	KindEliminationCredit OutcomeKind = "elimination_credit"
	KindJobberPenalty     OutcomeKind = "jobber_penalty"
	KindSimple            OutcomeKind = "simple"
	KindAdjustment        OutcomeKind = "adjustment"
)

// Predictable reports whether players may place predictions on the kind.
func (k OutcomeKind) Predictable() bool {
	switch k {
	case KindEntrantOne, KindFirstElimination, KindMostEliminations, KindLongestDuration, KindDivisionWinner, KindSimple:
		return true
	default:
		return false
	}
}

// OutcomeKey uniquely identifies an AwardRecord within a party.
type OutcomeKey struct {
	Division Division    `json:"division,omitempty"`
	Kind     OutcomeKind `json:"kind"`
	// Subject narrows kinds that occur more than once: the eliminated slot
	// number for credits and penalties, the prop name for simple outcomes.
	Subject string `json:"subject,omitempty"`
}

// String renders the key in its storage form, e.g. "primary/elimination_credit/7".
func (k OutcomeKey) String() string {
	return string(k.Division) + "/" + string(k.Kind) + "/" + k.Subject
}

// ParseOutcomeKey reverses OutcomeKey.String.
func ParseOutcomeKey(s string) (OutcomeKey, error) {
	parts := strings.SplitN(s, "/", 3)
	if len(parts) != 3 || parts[1] == "" {
		return OutcomeKey{}, ErrInvalidTransition
	}
	return OutcomeKey{Division: Division(parts[0]), Kind: OutcomeKind(parts[1]), Subject: parts[2]}, nil
}

// DivisionKey builds a key for a once-per-division milestone.
func DivisionKey(div Division, kind OutcomeKind) OutcomeKey {
	return OutcomeKey{Division: div, Kind: kind}
}

// SlotKey builds a key for a per-slot fact such as an elimination credit.
func SlotKey(div Division, kind OutcomeKind, slot int) OutcomeKey {
	return OutcomeKey{Division: div, Kind: kind, Subject: strconv.Itoa(slot)}
}

// SimpleKey builds the key of a flat single-pick outcome.
func SimpleKey(name string) OutcomeKey {
	return OutcomeKey{Kind: KindSimple, Subject: strings.TrimSpace(name)}
}

// AwardRecord is the write-once result of an outcome. Its existence proves
// that the associated payouts have been (or are being) distributed.
type AwardRecord struct {
	Key        OutcomeKey `json:"key"`
	Value      string     `json:"value"`
	Slot       int        `json:"slot,omitempty"`
	RecordedAt time.Time  `json:"recorded_at"`
}

// Role distinguishes why a player receives points for an outcome.
type Role string

// Payout roles.
const (
	RoleOwner     Role = "owner"
	RolePredictor Role = "predictor"
	RoleHost      Role = "host"
)

// Payout is a single point delta for one player, guarded by its own marker.
type Payout struct {
	Outcome  OutcomeKey `json:"outcome"`
	Role     Role       `json:"role"`
	PlayerID string     `json:"player_id"`
	Delta    int        `json:"delta"`
}

// MarkerKey is the unique idempotency key of the payout.
func (p Payout) MarkerKey() string {
	return p.Outcome.String() + "#" + string(p.Role) + "#" + p.PlayerID
}
