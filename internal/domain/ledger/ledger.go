// Package ledger is the single correctness boundary for point awards.
//
// Every award-producing transition passes through TryRecord (an atomic
// insert-if-absent on the outcome key) and every point delta through Grant
// (an atomic insert-if-absent on the payout marker plus an increment).
// No lock is held across calls; duplicate delivery, double taps and racing
// detectors all collapse onto the store's unique keys.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/okian/rumble/internal/domain/model"
	"github.com/okian/rumble/pkg/logger"
	"github.com/okian/rumble/pkg/metrics"
)

// Store is the persistence surface the ledger needs. Implementations must
// make InsertAward and GrantOnce atomic conditional writes and
// IncrementPoints a server-side increment.
type Store interface {
	// InsertAward stores rec unless its key exists. Returns true if inserted.
	InsertAward(ctx context.Context, party string, rec model.AwardRecord) (bool, error)
	// Award returns the record for key or model.ErrNotFound.
	Award(ctx context.Context, party string, key model.OutcomeKey) (model.AwardRecord, error)
	// IncrementPoints adds delta to the player's points and returns the new total.
	IncrementPoints(ctx context.Context, party, playerID string, delta int) (int, error)
	// GrantOnce records the payout marker and applies its delta in one unit.
	// Returns false (and the unchanged total) when the marker already exists.
	GrantOnce(ctx context.Context, party string, p model.Payout) (bool, int, error)
}

// Ledger records outcomes and applies payouts for one party.
type Ledger struct {
	store  Store
	party  string
	now    func() time.Time
	logger logger.Logger
}

// Option applies a configuration option to the Ledger.
type Option func(*Ledger)

// WithLogger sets a custom logger for the ledger.
func WithLogger(l logger.Logger) Option {
	return func(lg *Ledger) {
		if l != nil {
			lg.logger = l
		}
	}
}

// WithClock sets the clock used to stamp records that arrive without a time.
func WithClock(now func() time.Time) Option {
	return func(lg *Ledger) {
		if now != nil {
			lg.now = now
		}
	}
}

// New creates a ledger bound to a party.
func New(store Store, party string, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		party: party,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = logger.Get().Named("ledger")
	}
	return l
}

// Party returns the party the ledger writes to.
func (l *Ledger) Party() string { return l.party }

// TryRecord stores rec if no record exists for its key. It returns true only
// for the caller that performed the insert; that caller owns the payouts.
func (l *Ledger) TryRecord(ctx context.Context, rec model.AwardRecord) (bool, error) {
	if rec.Key.Kind == "" {
		return false, fmt.Errorf("%w: outcome key without kind", model.ErrInvalidTransition)
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = l.now()
	}
	inserted, err := l.store.InsertAward(ctx, l.party, rec)
	if err != nil {
		metrics.RecordErrorByComponent("ledger", "record")
		return false, unavailable(err)
	}
	if inserted {
		metrics.RecordAwardRecorded(string(rec.Key.Kind))
		l.logger.Debug(ctx, "outcome recorded",
			logger.String("key", rec.Key.String()),
			logger.String("value", rec.Value),
		)
	} else {
		metrics.RecordAwardDuplicate(string(rec.Key.Kind))
	}
	return inserted, nil
}

// Lookup returns the record for key, if any.
func (l *Ledger) Lookup(ctx context.Context, key model.OutcomeKey) (model.AwardRecord, bool, error) {
	rec, err := l.store.Award(ctx, l.party, key)
	if errors.Is(err, model.ErrNotFound) {
		return model.AwardRecord{}, false, nil
	}
	if err != nil {
		return model.AwardRecord{}, false, unavailable(err)
	}
	return rec, true, nil
}

// ApplyPoints atomically adds delta to a player's points. It carries no
// idempotency of its own; callers gate it behind TryRecord.
func (l *Ledger) ApplyPoints(ctx context.Context, playerID string, delta int) (int, error) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return 0, fmt.Errorf("%w: points for anonymous player", model.ErrInvalidTransition)
	}
	total, err := l.store.IncrementPoints(ctx, l.party, playerID, delta)
	if err != nil {
		metrics.RecordErrorByComponent("ledger", "apply_points")
		return 0, unavailable(err)
	}
	metrics.RecordPointsGranted(string(model.RoleHost), delta)
	return total, nil
}

// Grant applies p exactly once. A zero delta or missing player is skipped.
func (l *Ledger) Grant(ctx context.Context, p model.Payout) (bool, int, error) {
	p.PlayerID = strings.TrimSpace(p.PlayerID)
	if p.PlayerID == "" || p.Delta == 0 {
		return false, 0, nil
	}
	granted, total, err := l.store.GrantOnce(ctx, l.party, p)
	if err != nil {
		metrics.RecordErrorByComponent("ledger", "grant")
		return false, 0, unavailable(err)
	}
	if !granted {
		metrics.RecordPayoutDuplicate()
		return false, total, nil
	}
	metrics.RecordPointsGranted(string(p.Role), p.Delta)
	l.logger.Debug(ctx, "points granted",
		logger.String("marker", p.MarkerKey()),
		logger.Int("delta", p.Delta),
		logger.Int("total", total),
	)
	return true, total, nil
}

// unavailable keeps known kinds and classifies everything else as a
// retryable storage failure.
func unavailable(err error) error {
	switch {
	case errors.Is(err, model.ErrStorageUnavailable),
		errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %w", model.ErrStorageUnavailable, err)
	}
}
