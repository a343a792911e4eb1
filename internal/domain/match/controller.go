// Package match sequences host commands for the two divisions of a party:
// it mutates slots, re-derives milestones after every change and drives
// every award through the ledger.
package match

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/okian/rumble/internal/domain/ledger"
	"github.com/okian/rumble/internal/domain/model"
	"github.com/okian/rumble/internal/domain/notify"
	"github.com/okian/rumble/internal/domain/registry"
	"github.com/okian/rumble/internal/domain/scoring"
	"github.com/okian/rumble/internal/domain/stats"
	"github.com/okian/rumble/pkg/logger"
	"github.com/okian/rumble/pkg/metrics"
)

const (
	tracerName = "github.com/okian/rumble/internal/domain/match"

	// maxWriteAttempts bounds the reload loop of one slot command.
	maxWriteAttempts = 32
)

// Store is the slot, player and prediction persistence the controller needs.
// Slot writes are conditional on the division version returned by Slots:
// a write against an older version stores nothing and reports false.
type Store interface {
	Slots(ctx context.Context, party string, div model.Division) ([model.SlotCount]model.Slot, int64, error)
	SetOwner(ctx context.Context, party string, div model.Division, version int64, number int, playerID string) (bool, error)
	SaveEntry(ctx context.Context, party string, div model.Division, version int64, slot model.Slot) (bool, error)
	SaveElimination(ctx context.Context, party string, div model.Division, version int64, slot model.Slot) (bool, error)
	UpsertPlayer(ctx context.Context, party string, p model.Player) (model.Player, error)
	Player(ctx context.Context, party, id string) (model.Player, error)
	SavePrediction(ctx context.Context, party string, p model.Prediction) error
	Predictions(ctx context.Context, party string, key model.OutcomeKey) ([]model.Prediction, error)
}

// Controller is the elimination match engine for one party.
type Controller struct {
	store    Store
	ledger   *ledger.Ledger
	party    string
	table    *scoring.Table
	notifier notify.Notifier
	now      func() time.Time
	logger   logger.Logger
	tracer   trace.Tracer

	// Commands on one division run one at a time in this process; versioned
	// slot writes and the ledger guard across processes.
	divisions map[model.Division]*sync.Mutex
	simple    sync.Mutex
}

// New creates a controller over store, awarding through l.
func New(store Store, l *ledger.Ledger, opts ...Option) *Controller {
	c := &Controller{
		store:     store,
		ledger:    l,
		party:     l.Party(),
		table:     scoring.NewTable(),
		notifier:  notify.Discard,
		now:       time.Now,
		divisions: make(map[model.Division]*sync.Mutex, len(model.Divisions)),
	}
	for _, div := range model.Divisions {
		c.divisions[div] = &sync.Mutex{}
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("match")
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}
	return c
}

// Party returns the party id the controller serves.
func (c *Controller) Party() string { return c.party }

// divisionState is a freshly loaded division plus its winner record, if any.
type divisionState struct {
	snap    model.DivisionSnapshot
	version int64
	winner  model.AwardRecord
	done    bool
}

func (c *Controller) lock(div model.Division) (func(), error) {
	mu, ok := c.divisions[div]
	if !ok {
		return func() {}, fmt.Errorf("%w: unknown division %q", model.ErrInvalidTransition, div)
	}
	mu.Lock()
	return mu.Unlock, nil
}

func (c *Controller) load(ctx context.Context, div model.Division) (divisionState, error) {
	slots, version, err := c.store.Slots(ctx, c.party, div)
	if err != nil {
		return divisionState{}, storeErr("load slots", err)
	}
	st := divisionState{
		snap:    registry.FromSnapshot(model.DivisionSnapshot{Division: div, Slots: slots}).Snapshot(),
		version: version,
	}
	st.winner, st.done, err = c.ledger.Lookup(ctx, model.DivisionKey(div, model.KindDivisionWinner))
	if err != nil {
		return divisionState{}, err
	}
	if st.done {
		st.snap.State = model.StateComplete
	}
	return st, nil
}

// slotWrite stores one planned slot change if the division is still at version.
type slotWrite func(version int64) (bool, error)

// mutate loads div and lets plan decide on a slot write against it. The
// write lands only if nothing changed since the load; otherwise the division
// is reloaded and planned again, so whatever plan captured on the accepted
// attempt is exactly the division after the write. A nil write ends the
// command without storing anything.
func (c *Controller) mutate(ctx context.Context, div model.Division, plan func(st divisionState) (slotWrite, error)) error {
	for attempt := 1; ; attempt++ {
		st, err := c.load(ctx, div)
		if err != nil {
			return err
		}
		write, err := plan(st)
		if err != nil || write == nil {
			return err
		}
		ok, err := write(st.version)
		if err != nil || ok {
			return err
		}
		metrics.RecordSlotConflict(string(div))
		if attempt == maxWriteAttempts {
			return fmt.Errorf("%w: division %s changed on every attempt", model.ErrStorageUnavailable, div)
		}
		c.logger.Debug(ctx, "division changed under a slot write, reloading",
			logger.String("division", string(div)),
			logger.Int("attempt", attempt),
		)
	}
}

// begin opens a span for a command; the returned func records the outcome.
func (c *Controller) begin(ctx context.Context, command string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "match."+command, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		err := *errp
		kind := model.Kind(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, kind)
			if model.Retryable(err) {
				c.logger.Warn(ctx, "command failed, retry is safe",
					logger.String("command", command),
					logger.Error(err),
				)
			} else {
				c.logger.Debug(ctx, "command rejected",
					logger.String("command", command),
					logger.Error(err),
				)
			}
		}
		metrics.RecordCommand(command, kind)
		metrics.RecordCommandDuration(command, float64(time.Since(start).Milliseconds()))
		span.End()
	}
}

func divisionAttr(div model.Division) attribute.KeyValue {
	return attribute.String("rumble.division", string(div))
}

func slotAttr(n int) attribute.KeyValue {
	return attribute.Int("rumble.slot", n)
}

// AssignOwner draws a player into a pending slot.
func (c *Controller) AssignOwner(ctx context.Context, div model.Division, number int, playerID string) (slot model.Slot, err error) {
	ctx, end := c.begin(ctx, "assign_owner", divisionAttr(div), slotAttr(number))
	defer end(&err)

	unlock, err := c.lock(div)
	defer unlock()
	if err != nil {
		return model.Slot{}, err
	}
	err = c.mutate(ctx, div, func(st divisionState) (slotWrite, error) {
		if st.done {
			return nil, model.ErrMatchAlreadyComplete
		}
		planned, err := registry.FromSnapshot(st.snap).AssignOwner(number, playerID)
		if err != nil {
			return nil, err
		}
		slot = planned
		return func(version int64) (bool, error) {
			ok, err := c.store.SetOwner(ctx, c.party, div, version, number, planned.OwnerPlayerID)
			if err != nil {
				return false, storeErr("set owner", err)
			}
			return ok, nil
		}, nil
	})
	if err != nil {
		return model.Slot{}, err
	}
	return slot, nil
}

// RecordEntry moves a slot to active. A zero at means now. Repeating an
// entry that is already stored finishes its awards and succeeds.
func (c *Controller) RecordEntry(ctx context.Context, div model.Division, number int, wrestler, owner string, at time.Time) (slot model.Slot, err error) {
	ctx, end := c.begin(ctx, "record_entry", divisionAttr(div), slotAttr(number))
	defer end(&err)

	unlock, err := c.lock(div)
	defer unlock()
	if err != nil {
		return model.Slot{}, err
	}
	now := c.now()
	stamped := !at.IsZero()
	if !stamped {
		at = now
	}
	var (
		snap   model.DivisionSnapshot
		replay bool
	)
	err = c.mutate(ctx, div, func(st divisionState) (slotWrite, error) {
		if st.done {
			return nil, model.ErrMatchAlreadyComplete
		}
		reg := registry.FromSnapshot(st.snap)
		if cur, err := reg.Slot(number); err == nil && sameEntry(cur, wrestler, owner, at, stamped) {
			slot, snap, replay = cur, st.snap, true
			return nil, nil
		}
		planned, err := reg.RecordEntry(number, wrestler, owner, at)
		if err != nil {
			return nil, err
		}
		slot, snap, replay = planned, reg.Snapshot(), false
		return func(version int64) (bool, error) {
			ok, err := c.store.SaveEntry(ctx, c.party, div, version, planned)
			if err != nil {
				return false, storeErr("save entry", err)
			}
			return ok, nil
		}, nil
	})
	if err != nil {
		return model.Slot{}, err
	}

	if replay {
		metrics.RecordCommandReplay("record_entry")
	} else {
		e := notify.New(notify.EntryRecorded, c.party, slot.EntryTime)
		e.Division, e.Slot, e.Wrestler, e.PlayerID = div, slot.Number, slot.WrestlerName, slot.OwnerPlayerID
		c.notifier.Notify(ctx, e)
	}
	return slot, c.evaluate(ctx, &snap, now, replay)
}

// RecordElimination moves a slot to eliminated, crediting slot by unless it
// is zero. Repeating an elimination that is already stored finishes its
// awards and succeeds.
func (c *Controller) RecordElimination(ctx context.Context, div model.Division, number, by int, at time.Time) (slot model.Slot, err error) {
	ctx, end := c.begin(ctx, "record_elimination", divisionAttr(div), slotAttr(number), attribute.Int("rumble.eliminated_by", by))
	defer end(&err)

	unlock, err := c.lock(div)
	defer unlock()
	if err != nil {
		return model.Slot{}, err
	}
	now := c.now()
	stamped := !at.IsZero()
	if !stamped {
		at = now
	}
	var (
		snap   model.DivisionSnapshot
		replay bool
	)
	err = c.mutate(ctx, div, func(st divisionState) (slotWrite, error) {
		if st.done {
			return nil, model.ErrMatchAlreadyComplete
		}
		reg := registry.FromSnapshot(st.snap)
		if cur, err := reg.Slot(number); err == nil && sameElimination(cur, by, at, stamped) {
			slot, snap, replay = cur, st.snap, true
			return nil, nil
		}
		planned, err := reg.RecordElimination(number, by, at)
		if err != nil {
			return nil, err
		}
		slot, snap, replay = planned, reg.Snapshot(), false
		return func(version int64) (bool, error) {
			ok, err := c.store.SaveElimination(ctx, c.party, div, version, planned)
			if err != nil {
				return false, storeErr("save elimination", err)
			}
			return ok, nil
		}, nil
	})
	if err != nil {
		return model.Slot{}, err
	}

	if replay {
		metrics.RecordCommandReplay("record_elimination")
	} else {
		e := notify.New(notify.EliminationRecorded, c.party, slot.EliminationTime)
		e.Division, e.Slot, e.Wrestler, e.PlayerID = div, slot.Number, slot.WrestlerName, slot.OwnerPlayerID
		if by != 0 {
			e.Slots = []int{by}
		}
		c.notifier.Notify(ctx, e)
	}

	if err := c.settleElimination(ctx, &snap, slot, replay); err != nil {
		return slot, err
	}
	return slot, c.evaluate(ctx, &snap, now, replay)
}

// sameEntry reports whether s already holds the requested entry. A request
// without its own timestamp matches on wrestler and owner alone.
func sameEntry(s model.Slot, wrestler, owner string, at time.Time, stamped bool) bool {
	if !s.Entered() || s.WrestlerName != strings.TrimSpace(wrestler) {
		return false
	}
	if o := strings.TrimSpace(owner); o != "" && o != s.OwnerPlayerID {
		return false
	}
	return !stamped || s.EntryTime.Equal(at)
}

// sameElimination reports whether s already holds the requested elimination.
func sameElimination(s model.Slot, by int, at time.Time, stamped bool) bool {
	if !s.Eliminated() || s.EliminatedBy != by {
		return false
	}
	return !stamped || s.EliminationTime.Equal(at)
}

// DeclareWinner completes a division. The slot must be the sole survivor.
// Repeating the call with the same slot re-settles and succeeds.
func (c *Controller) DeclareWinner(ctx context.Context, div model.Division, number int) (rec model.AwardRecord, err error) {
	ctx, end := c.begin(ctx, "declare_winner", divisionAttr(div), slotAttr(number))
	defer end(&err)

	unlock, err := c.lock(div)
	defer unlock()
	if err != nil {
		return model.AwardRecord{}, err
	}
	st, err := c.load(ctx, div)
	if err != nil {
		return model.AwardRecord{}, err
	}
	if st.done {
		if st.winner.Slot != number {
			return st.winner, fmt.Errorf("%w: slot %d already won", model.ErrMatchAlreadyComplete, st.winner.Slot)
		}
		return c.settleWinner(ctx, &st.snap, st.winner, true)
	}
	sole, ok := stats.SoleSurvivor(&st.snap)
	if !ok {
		return model.AwardRecord{}, fmt.Errorf("%w: no sole survivor yet", model.ErrPreconditionFailed)
	}
	if sole.Number != number {
		return model.AwardRecord{}, fmt.Errorf("%w: slot %d is not the sole survivor", model.ErrPreconditionFailed, number)
	}
	rec = model.AwardRecord{
		Key:        model.DivisionKey(div, model.KindDivisionWinner),
		Value:      sole.WrestlerName,
		Slot:       sole.Number,
		RecordedAt: c.now(),
	}
	return c.settleWinner(ctx, &st.snap, rec, false)
}

// RecordSimpleOutcome records the result of a flat single-pick prop and pays
// matching predictors. Repeating it with the same value is a no-op.
func (c *Controller) RecordSimpleOutcome(ctx context.Context, name, value string) (rec model.AwardRecord, err error) {
	ctx, end := c.begin(ctx, "record_simple_outcome", attribute.String("rumble.outcome", name))
	defer end(&err)

	key := model.SimpleKey(name)
	value = strings.TrimSpace(value)
	if key.Subject == "" || value == "" {
		return model.AwardRecord{}, fmt.Errorf("%w: outcome needs a name and a value", model.ErrInvalidTransition)
	}
	c.simple.Lock()
	defer c.simple.Unlock()

	rec, err = c.award(ctx, model.AwardRecord{Key: key, Value: value, RecordedAt: c.now()}, true,
		func(rec model.AwardRecord) {
			e := notify.New(notify.OutcomeRecorded, c.party, rec.RecordedAt)
			e.Outcome, e.Value = rec.Key.String(), rec.Value
			c.notifier.Notify(ctx, e)
		},
		func(rec model.AwardRecord) ([]model.Payout, error) {
			return c.predictorPayouts(ctx, rec, scoring.SimplePick)
		},
	)
	if err != nil {
		return model.AwardRecord{}, err
	}
	if !strings.EqualFold(rec.Value, value) {
		return rec, fmt.Errorf("%w: %s already recorded as %q", model.ErrInvalidTransition, key.Subject, rec.Value)
	}
	return rec, nil
}

// PlacePrediction stores a player's guess. Division predictions lock when the
// division starts; simple predictions lock when their outcome is recorded.
func (c *Controller) PlacePrediction(ctx context.Context, playerID string, key model.OutcomeKey, value string) (pred model.Prediction, err error) {
	ctx, end := c.begin(ctx, "place_prediction", attribute.String("rumble.outcome", key.String()))
	defer end(&err)

	playerID, value = strings.TrimSpace(playerID), strings.TrimSpace(value)
	if playerID == "" || value == "" {
		return model.Prediction{}, fmt.Errorf("%w: prediction needs a player and a value", model.ErrInvalidTransition)
	}
	if !key.Kind.Predictable() {
		return model.Prediction{}, fmt.Errorf("%w: %q cannot be predicted", model.ErrInvalidTransition, key.Kind)
	}

	if key.Kind == model.KindSimple {
		key = model.SimpleKey(key.Subject)
		if key.Subject == "" {
			return model.Prediction{}, fmt.Errorf("%w: simple prediction needs an outcome name", model.ErrInvalidTransition)
		}
		c.simple.Lock()
		defer c.simple.Unlock()
		_, recorded, err := c.ledger.Lookup(ctx, key)
		if err != nil {
			return model.Prediction{}, err
		}
		if recorded {
			return model.Prediction{}, model.ErrPredictionsLocked
		}
	} else {
		key = model.DivisionKey(key.Division, key.Kind)
		unlock, err := c.lock(key.Division)
		defer unlock()
		if err != nil {
			return model.Prediction{}, err
		}
		st, err := c.load(ctx, key.Division)
		if err != nil {
			return model.Prediction{}, err
		}
		if st.snap.State != model.StateNotStarted {
			return model.Prediction{}, model.ErrPredictionsLocked
		}
	}

	pred = model.Prediction{PlayerID: playerID, Key: key, Value: value, PlacedAt: c.now()}
	if err := c.store.SavePrediction(ctx, c.party, pred); err != nil {
		return model.Prediction{}, storeErr("save prediction", err)
	}
	return pred, nil
}

// RegisterPlayer creates or renames a player. An empty id gets a generated one.
func (c *Controller) RegisterPlayer(ctx context.Context, id, displayName string) (p model.Player, err error) {
	ctx, end := c.begin(ctx, "register_player")
	defer end(&err)

	id, displayName = strings.TrimSpace(id), strings.TrimSpace(displayName)
	if displayName == "" {
		return model.Player{}, fmt.Errorf("%w: player needs a display name", model.ErrInvalidTransition)
	}
	if id == "" {
		id = uuid.NewString()
	}
	p, err = c.store.UpsertPlayer(ctx, c.party, model.Player{ID: id, DisplayName: displayName})
	if err != nil {
		return model.Player{}, storeErr("upsert player", err)
	}
	return p, nil
}

// PlayerPoints returns a player's current points.
func (c *Controller) PlayerPoints(ctx context.Context, id string) (model.Player, error) {
	p, err := c.store.Player(ctx, c.party, strings.TrimSpace(id))
	if err != nil {
		return model.Player{}, storeErr("load player", err)
	}
	return p, nil
}

// AdjustPoints applies a host correction exactly once per key. Reusing a key
// for a different player or delta is rejected.
func (c *Controller) AdjustPoints(ctx context.Context, playerID string, delta int, reason, key string) (total int, err error) {
	ctx, end := c.begin(ctx, "adjust_points")
	defer end(&err)

	playerID, key = strings.TrimSpace(playerID), strings.TrimSpace(key)
	if playerID == "" || key == "" || delta == 0 {
		return 0, fmt.Errorf("%w: adjustment needs a player, a key and a non-zero delta", model.ErrInvalidTransition)
	}
	signature := fmt.Sprintf("%s|%+d|", playerID, delta)
	rec := model.AwardRecord{
		Key:        model.OutcomeKey{Kind: model.KindAdjustment, Subject: key},
		Value:      signature + strings.TrimSpace(reason),
		RecordedAt: c.now(),
	}
	_, err = c.award(ctx, rec, true, nil, func(rec model.AwardRecord) ([]model.Payout, error) {
		if !strings.HasPrefix(rec.Value, signature) {
			return nil, fmt.Errorf("%w: adjustment %q already used", model.ErrInvalidTransition, key)
		}
		return []model.Payout{{Outcome: rec.Key, Role: model.RoleHost, PlayerID: playerID, Delta: delta}}, nil
	})
	if err != nil {
		return 0, err
	}
	p, err := c.store.Player(ctx, c.party, playerID)
	if err != nil {
		return 0, storeErr("load player", err)
	}
	return p.Points, nil
}

// Reconcile re-derives every milestone and payout of a division from its
// current slots. It is safe to run at any time and concurrently with
// commands in other processes; the ledger discards what is already done.
func (c *Controller) Reconcile(ctx context.Context, div model.Division) (err error) {
	ctx, end := c.begin(ctx, "reconcile", divisionAttr(div))
	defer func() {
		metrics.RecordReconcileRun(model.Kind(err))
		end(&err)
	}()

	unlock, err := c.lock(div)
	defer unlock()
	if err != nil {
		return err
	}
	st, err := c.load(ctx, div)
	if err != nil {
		return err
	}
	for _, s := range st.snap.Slots {
		if !s.Eliminated() {
			continue
		}
		if err := c.settleElimination(ctx, &st.snap, s, true); err != nil {
			return err
		}
	}
	if err := c.evaluate(ctx, &st.snap, c.now(), true); err != nil {
		return err
	}
	if st.done {
		_, err = c.settleWinner(ctx, &st.snap, st.winner, true)
	}
	return err
}

// storeErr keeps known kinds and classifies anything else as a retryable
// storage failure.
func storeErr(op string, err error) error {
	switch {
	case errors.Is(err, model.ErrStorageUnavailable),
		errors.Is(err, model.ErrNotFound),
		errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %s: %w", model.ErrStorageUnavailable, op, err)
	}
}
