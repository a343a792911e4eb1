// Package notify defines the side-channel events emitted after a fact is
// first recorded. Emission is best-effort and never affects the outcome of
// the command that produced it.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/rumble/internal/domain/model"
)

// Type names an event.
type Type string

// Event types.
const (
	EntryRecorded            Type = "entry_recorded"
	EliminationRecorded      Type = "elimination_recorded"
	FirstEliminationRecorded Type = "first_elimination_recorded"
	FourRemainingReached     Type = "four_remaining"
	WinnerDeclared           Type = "winner_declared"
	IronPersonRecorded       Type = "iron_person_recorded"
	MostEliminationsRecorded Type = "most_eliminations_recorded"
	OutcomeRecorded          Type = "outcome_recorded"
	PointsAwarded            Type = "points_awarded"
)

// Event is a single notification. Fields that do not apply are zero; Points
// only ever carries a point delta.
type Event struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	Party      string         `json:"party"`
	Division   model.Division `json:"division,omitempty"`
	Slot       int            `json:"slot,omitempty"`
	Wrestler   string         `json:"wrestler,omitempty"`
	PlayerID   string         `json:"player_id,omitempty"`
	Outcome    string         `json:"outcome,omitempty"`
	Value      string         `json:"value,omitempty"`
	Points     int            `json:"points,omitempty"`
	Slots      []int          `json:"slots,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`

	// Count is the credited eliminations of a most-eliminations leader.
	Count int `json:"count,omitempty"`
	// DurationSeconds is the ring time of an iron person at the reference time.
	DurationSeconds int64 `json:"duration_seconds,omitempty"`
}

// New returns an event with a fresh id.
func New(t Type, party string, at time.Time) Event {
	return Event{ID: uuid.NewString(), Type: t, Party: party, OccurredAt: at}
}

// Notifier accepts events for delivery. Implementations must not block the
// caller for long and must not report failure.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, e Event)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, e Event) { f(ctx, e) }

// Discard drops every event.
var Discard Notifier = NotifierFunc(func(context.Context, Event) {})

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Notify appends e.
func (r *Recorder) Notify(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of what was recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events of type t were recorded.
func (r *Recorder) Count(t Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}
