package match

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/okian/rumble/internal/domain/model"
	"github.com/okian/rumble/internal/domain/notify"
	"github.com/okian/rumble/internal/domain/scoring"
	"github.com/okian/rumble/internal/domain/stats"
	"github.com/okian/rumble/pkg/logger"
)

// payoutsFunc lists the payouts owed for a stored record.
type payoutsFunc func(rec model.AwardRecord) ([]model.Payout, error)

// award records rec once and distributes its payouts. When another caller
// already recorded the key, the stored record is returned and payouts are
// only re-granted in repair mode; markers keep that safe.
func (c *Controller) award(ctx context.Context, rec model.AwardRecord, repair bool, onRecorded func(model.AwardRecord), payouts payoutsFunc) (model.AwardRecord, error) {
	inserted, err := c.ledger.TryRecord(ctx, rec)
	if err != nil {
		return model.AwardRecord{}, err
	}
	if !inserted {
		stored, found, err := c.ledger.Lookup(ctx, rec.Key)
		if err != nil {
			return model.AwardRecord{}, err
		}
		if !found {
			return model.AwardRecord{}, fmt.Errorf("%w: record %s vanished", model.ErrStorageUnavailable, rec.Key)
		}
		rec = stored
		if !repair {
			return rec, nil
		}
	} else if onRecorded != nil {
		onRecorded(rec)
	}
	if payouts == nil {
		return rec, nil
	}
	list, err := payouts(rec)
	if err != nil {
		return rec, err
	}
	for _, p := range merge(list) {
		if err := c.grant(ctx, p); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

// merge folds payouts that share a marker, e.g. one player owning two of
// the final four slots.
func merge(list []model.Payout) []model.Payout {
	if len(list) < 2 {
		return list
	}
	out := make([]model.Payout, 0, len(list))
	index := make(map[string]int, len(list))
	for _, p := range list {
		if i, ok := index[p.MarkerKey()]; ok {
			out[i].Delta += p.Delta
			continue
		}
		index[p.MarkerKey()] = len(out)
		out = append(out, p)
	}
	return out
}

func (c *Controller) grant(ctx context.Context, p model.Payout) error {
	granted, total, err := c.ledger.Grant(ctx, p)
	if err != nil {
		return err
	}
	if !granted {
		return nil
	}
	c.logger.Debug(ctx, "points awarded",
		logger.String("outcome", p.Outcome.String()),
		logger.String("player_id", p.PlayerID),
		logger.Int("delta", p.Delta),
		logger.Int("total", total),
	)
	e := notify.New(notify.PointsAwarded, c.party, c.now())
	e.Division, e.Outcome, e.PlayerID, e.Points, e.Value = p.Outcome.Division, p.Outcome.String(), p.PlayerID, p.Delta, string(p.Role)
	c.notifier.Notify(ctx, e)
	return nil
}

func (c *Controller) ownerPayout(key model.OutcomeKey, s model.Slot, b scoring.Bonus) model.Payout {
	return model.Payout{Outcome: key, Role: model.RoleOwner, PlayerID: s.OwnerPlayerID, Delta: c.table.Points(b)}
}

// predictorPayouts pays every prediction on rec's key whose value names the
// recorded wrestler (case-insensitively) or the recorded slot number.
func (c *Controller) predictorPayouts(ctx context.Context, rec model.AwardRecord, b scoring.Bonus) ([]model.Payout, error) {
	points := c.table.Points(b)
	if points == 0 {
		return nil, nil
	}
	preds, err := c.store.Predictions(ctx, c.party, rec.Key)
	if err != nil {
		return nil, storeErr("load predictions", err)
	}
	var out []model.Payout
	for _, p := range preds {
		if !matches(p.Value, rec) {
			continue
		}
		out = append(out, model.Payout{Outcome: rec.Key, Role: model.RolePredictor, PlayerID: p.PlayerID, Delta: points})
	}
	return out, nil
}

func matches(guess string, rec model.AwardRecord) bool {
	guess = strings.TrimSpace(guess)
	if strings.EqualFold(guess, rec.Value) {
		return true
	}
	return rec.Slot != 0 && guess == strconv.Itoa(rec.Slot)
}

// settleElimination awards the credit and the jobber penalty for one
// eliminated slot.
func (c *Controller) settleElimination(ctx context.Context, snap *model.DivisionSnapshot, slot model.Slot, repair bool) error {
	div := snap.Division
	if by := slot.EliminatedBy; model.ValidSlotNumber(by) {
		eliminator := snap.Slot(by)
		rec := model.AwardRecord{
			Key:        model.SlotKey(div, model.KindEliminationCredit, slot.Number),
			Value:      eliminator.WrestlerName,
			Slot:       by,
			RecordedAt: c.now(),
		}
		_, err := c.award(ctx, rec, repair, nil, func(rec model.AwardRecord) ([]model.Payout, error) {
			return []model.Payout{c.ownerPayout(rec.Key, snap.Slot(rec.Slot), scoring.EliminationCredit)}, nil
		})
		if err != nil {
			return err
		}
	}

	if !c.table.IsJobber(slot.EliminationTime.Sub(slot.EntryTime)) {
		return nil
	}
	rec := model.AwardRecord{
		Key:        model.SlotKey(div, model.KindJobberPenalty, slot.Number),
		Value:      slot.WrestlerName,
		Slot:       slot.Number,
		RecordedAt: c.now(),
	}
	_, err := c.award(ctx, rec, repair, nil, func(rec model.AwardRecord) ([]model.Payout, error) {
		return []model.Payout{c.ownerPayout(rec.Key, snap.Slot(rec.Slot), scoring.JobberPenalty)}, nil
	})
	return err
}

// evaluate records the milestones reachable while a division is running:
// entrant one, the first elimination and four remaining.
func (c *Controller) evaluate(ctx context.Context, snap *model.DivisionSnapshot, now time.Time, repair bool) error {
	div := snap.Division

	if first := snap.Slot(1); first.Entered() {
		rec := model.AwardRecord{
			Key:        model.DivisionKey(div, model.KindEntrantOne),
			Value:      first.WrestlerName,
			Slot:       1,
			RecordedAt: now,
		}
		_, err := c.award(ctx, rec, repair, nil, func(rec model.AwardRecord) ([]model.Payout, error) {
			return c.predictorPayouts(ctx, rec, scoring.PredictEntrantOne)
		})
		if err != nil {
			return err
		}
	}

	if first, ok := stats.FirstElimination(snap); ok {
		rec := model.AwardRecord{
			Key:        model.DivisionKey(div, model.KindFirstElimination),
			Value:      first.WrestlerName,
			Slot:       first.Number,
			RecordedAt: now,
		}
		_, err := c.award(ctx, rec, repair,
			func(rec model.AwardRecord) {
				e := notify.New(notify.FirstEliminationRecorded, c.party, rec.RecordedAt)
				e.Division, e.Slot, e.Wrestler, e.Outcome = div, rec.Slot, rec.Value, rec.Key.String()
				c.notifier.Notify(ctx, e)
			},
			func(rec model.AwardRecord) ([]model.Payout, error) {
				return c.predictorPayouts(ctx, rec, scoring.PredictFirstElimination)
			},
		)
		if err != nil {
			return err
		}
	}

	return c.finalFour(ctx, snap, now, repair)
}

// finalFour fires when exactly four slots remain after all thirty entered.
// In repair mode a previously recorded final four is re-settled even after
// the count has dropped below four.
func (c *Controller) finalFour(ctx context.Context, snap *model.DivisionSnapshot, now time.Time, repair bool) error {
	key := model.DivisionKey(snap.Division, model.KindFinalFour)
	payouts := func(rec model.AwardRecord) ([]model.Payout, error) {
		numbers, err := parseSlots(rec.Value)
		if err != nil {
			return nil, err
		}
		out := make([]model.Payout, 0, len(numbers))
		for _, n := range numbers {
			out = append(out, c.ownerPayout(rec.Key, snap.Slot(n), scoring.FinalFour))
		}
		return out, nil
	}

	four, ok := stats.FinalFour(snap)
	if !ok {
		if !repair {
			return nil
		}
		stored, found, err := c.ledger.Lookup(ctx, key)
		if err != nil || !found {
			return err
		}
		_, err = c.award(ctx, stored, true, nil, payouts)
		return err
	}

	numbers := make([]int, 0, len(four))
	for _, s := range four {
		numbers = append(numbers, s.Number)
	}
	rec := model.AwardRecord{Key: key, Value: formatSlots(numbers), RecordedAt: now}
	_, err := c.award(ctx, rec, repair,
		func(rec model.AwardRecord) {
			e := notify.New(notify.FourRemainingReached, c.party, rec.RecordedAt)
			e.Division, e.Outcome, e.Value, e.Slots = snap.Division, rec.Key.String(), rec.Value, numbers
			c.notifier.Notify(ctx, e)
		},
		payouts,
	)
	return err
}

// settleWinner records the winner and the end-of-match outcomes measured
// against the winner's recorded time.
func (c *Controller) settleWinner(ctx context.Context, snap *model.DivisionSnapshot, winner model.AwardRecord, repair bool) (model.AwardRecord, error) {
	div := snap.Division
	winner, err := c.award(ctx, winner, repair,
		func(rec model.AwardRecord) {
			e := notify.New(notify.WinnerDeclared, c.party, rec.RecordedAt)
			e.Division, e.Slot, e.Wrestler, e.Outcome = div, rec.Slot, rec.Value, rec.Key.String()
			e.PlayerID = snap.Slot(rec.Slot).OwnerPlayerID
			c.notifier.Notify(ctx, e)
			c.logger.Info(ctx, "winner declared",
				logger.String("division", string(div)),
				logger.Int("slot", rec.Slot),
				logger.String("wrestler", rec.Value),
			)
		},
		func(rec model.AwardRecord) ([]model.Payout, error) {
			out, err := c.predictorPayouts(ctx, rec, scoring.PredictWinner)
			if err != nil {
				return nil, err
			}
			return append(out, c.ownerPayout(rec.Key, snap.Slot(rec.Slot), scoring.Survivor)), nil
		},
	)
	if err != nil {
		return winner, err
	}
	ref := winner.RecordedAt

	if iron, d, ok := stats.LongestDuration(snap, ref); ok {
		rec := model.AwardRecord{
			Key:        model.DivisionKey(div, model.KindLongestDuration),
			Value:      iron.WrestlerName,
			Slot:       iron.Number,
			RecordedAt: ref,
		}
		_, err := c.award(ctx, rec, repair,
			func(rec model.AwardRecord) {
				e := notify.New(notify.IronPersonRecorded, c.party, rec.RecordedAt)
				e.Division, e.Slot, e.Wrestler, e.Outcome = div, rec.Slot, rec.Value, rec.Key.String()
				e.DurationSeconds = int64(d / time.Second)
				c.notifier.Notify(ctx, e)
			},
			func(rec model.AwardRecord) ([]model.Payout, error) {
				out, err := c.predictorPayouts(ctx, rec, scoring.PredictIronPerson)
				if err != nil {
					return nil, err
				}
				return append(out, c.ownerPayout(rec.Key, snap.Slot(rec.Slot), scoring.IronPerson)), nil
			},
		)
		if err != nil {
			return winner, err
		}
	}

	if top, count, ok := stats.MostEliminations(snap); ok {
		rec := model.AwardRecord{
			Key:        model.DivisionKey(div, model.KindMostEliminations),
			Value:      top.WrestlerName,
			Slot:       top.Number,
			RecordedAt: ref,
		}
		_, err := c.award(ctx, rec, repair,
			func(rec model.AwardRecord) {
				e := notify.New(notify.MostEliminationsRecorded, c.party, rec.RecordedAt)
				e.Division, e.Slot, e.Wrestler, e.Outcome, e.Count = div, rec.Slot, rec.Value, rec.Key.String(), count
				c.notifier.Notify(ctx, e)
			},
			func(rec model.AwardRecord) ([]model.Payout, error) {
				out, err := c.predictorPayouts(ctx, rec, scoring.PredictMostEliminations)
				if err != nil {
					return nil, err
				}
				return append(out, c.ownerPayout(rec.Key, snap.Slot(rec.Slot), scoring.MostEliminations)), nil
			},
		)
		if err != nil {
			return winner, err
		}
	}
	return winner, nil
}

func formatSlots(numbers []int) string {
	sorted := append([]int(nil), numbers...)
	sort.Ints(sorted)
	parts := make([]string, len(sorted))
	for i, n := range sorted {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

func parseSlots(value string) ([]int, error) {
	if value == "" {
		return nil, nil
	}
	parts := strings.Split(value, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || !model.ValidSlotNumber(n) {
			return nil, fmt.Errorf("%w: bad slot list %q", model.ErrInvalidTransition, value)
		}
		out = append(out, n)
	}
	return out, nil
}
