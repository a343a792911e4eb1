// Package storetest is a behavioural suite every repository.Store must pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/rumble/internal/adapters/repository"
	"github.com/okian/rumble/internal/domain/model"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) repository.Store

var base = time.Date(2026, 1, 31, 20, 0, 0, 0, time.UTC)

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("SlotLifecycle", func(t *testing.T) { testSlotLifecycle(t, newStore(t)) })
	t.Run("StaleVersion", func(t *testing.T) { testStaleVersion(t, newStore(t)) })
	t.Run("SlotRace", func(t *testing.T) { testSlotRace(t, newStore(t)) })
	t.Run("OwnerLockedAfterEntry", func(t *testing.T) { testOwner(t, newStore(t)) })
	t.Run("AwardInsertOnce", func(t *testing.T) { testAwards(t, newStore(t)) })
	t.Run("AwardRace", func(t *testing.T) { testAwardRace(t, newStore(t)) })
	t.Run("GrantOnce", func(t *testing.T) { testGrantOnce(t, newStore(t)) })
	t.Run("Players", func(t *testing.T) { testPlayers(t, newStore(t)) })
	t.Run("Leaderboard", func(t *testing.T) { testLeaderboard(t, newStore(t)) })
	t.Run("Predictions", func(t *testing.T) { testPredictions(t, newStore(t)) })
	t.Run("PartyIsolation", func(t *testing.T) { testPartyIsolation(t, newStore(t)) })
}

func closeLater(t *testing.T, s repository.Store) {
	t.Cleanup(func() { _ = s.Close() })
}

func testSlotLifecycle(t *testing.T, s repository.Store) {
	closeLater(t, s)
	ctx := context.Background()
	div := model.DivisionPrimary

	slots, v, err := s.Slots(ctx, "p", div)
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	if v != 0 {
		t.Fatalf("fresh version = %d, want 0", v)
	}
	for i, slot := range slots {
		if slot.Number != i+1 || slot.Entered() {
			t.Fatalf("slot %d = %+v, want pending", i+1, slot)
		}
	}

	entry := model.Slot{Number: 3, WrestlerName: "Andre", OwnerPlayerID: "amy", EntryTime: base}
	ok, err := s.SaveEntry(ctx, "p", div, 0, entry)
	if err != nil || !ok {
		t.Fatalf("save entry = %v, %v; want true", ok, err)
	}
	ok, err = s.SaveEntry(ctx, "p", div, 1, model.Slot{Number: 3, WrestlerName: "Other", EntryTime: base.Add(time.Minute)})
	if err != nil || ok {
		t.Fatalf("second save entry = %v, %v; want false", ok, err)
	}

	elim := model.Slot{Number: 3, EliminationTime: base.Add(90 * time.Second), EliminatedBy: 5}
	ok, err = s.SaveElimination(ctx, "p", div, 1, elim)
	if err != nil || !ok {
		t.Fatalf("save elimination = %v, %v; want true", ok, err)
	}
	ok, err = s.SaveElimination(ctx, "p", div, 2, elim)
	if err != nil || ok {
		t.Fatalf("second save elimination = %v, %v; want false", ok, err)
	}
	ok, err = s.SaveElimination(ctx, "p", div, 2, model.Slot{Number: 4, EliminationTime: base})
	if err != nil || ok {
		t.Fatalf("eliminate pending slot = %v, %v; want false", ok, err)
	}

	slots, v, err = s.Slots(ctx, "p", div)
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	if v != 2 {
		t.Fatalf("version = %d, want 2 after two accepted writes", v)
	}
	got := slots[2]
	if got.WrestlerName != "Andre" || got.OwnerPlayerID != "amy" || got.EliminatedBy != 5 {
		t.Fatalf("slot 3 = %+v", got)
	}
	if !got.EntryTime.Equal(base) || !got.EliminationTime.Equal(base.Add(90*time.Second)) {
		t.Fatalf("slot 3 times = %v, %v", got.EntryTime, got.EliminationTime)
	}
	other, otherVersion, err := s.Slots(ctx, "p", model.DivisionSecondary)
	if err != nil {
		t.Fatalf("slots secondary: %v", err)
	}
	if other[2].Entered() || otherVersion != 0 {
		t.Fatal("divisions must not share slots or versions")
	}
}

func testStaleVersion(t *testing.T, s repository.Store) {
	closeLater(t, s)
	ctx := context.Background()
	div := model.DivisionPrimary

	for n := 1; n <= 2; n++ {
		if ok, err := s.SaveEntry(ctx, "p", div, int64(n-1), model.Slot{Number: n, WrestlerName: "W", EntryTime: base}); err != nil || !ok {
			t.Fatalf("enter %d = %v, %v", n, ok, err)
		}
	}
	// Both writers read version 2; only the first write may land.
	if ok, err := s.SaveElimination(ctx, "p", div, 2, model.Slot{Number: 2, EliminationTime: base.Add(time.Minute)}); err != nil || !ok {
		t.Fatalf("first elimination = %v, %v", ok, err)
	}
	if ok, err := s.SaveElimination(ctx, "p", div, 2, model.Slot{Number: 1, EliminationTime: base.Add(time.Minute)}); err != nil || ok {
		t.Fatalf("stale elimination = %v, %v; want false", ok, err)
	}
	if ok, err := s.SetOwner(ctx, "p", div, 2, 9, "amy"); err != nil || ok {
		t.Fatalf("stale owner = %v, %v; want false", ok, err)
	}
	slots, v, err := s.Slots(ctx, "p", div)
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	if v != 3 || slots[0].Eliminated() || slots[8].OwnerPlayerID != "" {
		t.Fatalf("version %d, slot 1 %+v, slot 9 %+v", v, slots[0], slots[8])
	}
}

func testSlotRace(t *testing.T, s repository.Store) {
	closeLater(t, s)
	ctx := context.Background()
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for n := 1; n <= 16; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.SaveEntry(ctx, "p", model.DivisionPrimary, 0, model.Slot{Number: n, WrestlerName: "W", EntryTime: base})
			if err != nil {
				t.Errorf("save entry: %v", err)
				return
			}
			if ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	if winners.Load() != 1 {
		t.Fatalf("writers at one version = %d, want 1", winners.Load())
	}
}

func testOwner(t *testing.T, s repository.Store) {
	closeLater(t, s)
	ctx := context.Background()
	div := model.DivisionSecondary

	if ok, err := s.SetOwner(ctx, "p", div, 0, 7, "bo"); err != nil || !ok {
		t.Fatalf("set owner = %v, %v", ok, err)
	}
	if ok, err := s.SetOwner(ctx, "p", div, 1, 7, "cy"); err != nil || !ok {
		t.Fatalf("reassign owner = %v, %v", ok, err)
	}
	if _, err := s.SaveEntry(ctx, "p", div, 2, model.Slot{Number: 7, WrestlerName: "Bret", OwnerPlayerID: "cy", EntryTime: base}); err != nil {
		t.Fatalf("save entry: %v", err)
	}
	if ok, err := s.SetOwner(ctx, "p", div, 3, 7, "bo"); err != nil || ok {
		t.Fatalf("set owner after entry = %v, %v; want false", ok, err)
	}
	slots, v, _ := s.Slots(ctx, "p", div)
	if slots[6].OwnerPlayerID != "cy" {
		t.Fatalf("owner = %q, want cy", slots[6].OwnerPlayerID)
	}
	if v != 3 {
		t.Fatalf("version = %d, want 3; a refused write must not bump it", v)
	}
}

func testAwards(t *testing.T, s repository.Store) {
	closeLater(t, s)
	ctx := context.Background()
	rec := model.AwardRecord{
		Key:        model.DivisionKey(model.DivisionPrimary, model.KindDivisionWinner),
		Value:      "Stone Cold",
		Slot:       17,
		RecordedAt: base,
	}
	if _, err := s.Award(ctx, "p", rec.Key); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("award before insert err = %v, want not found", err)
	}
	ok, err := s.InsertAward(ctx, "p", rec)
	if err != nil || !ok {
		t.Fatalf("insert = %v, %v", ok, err)
	}
	dup := rec
	dup.Value = "Someone Else"
	ok, err = s.InsertAward(ctx, "p", dup)
	if err != nil || ok {
		t.Fatalf("duplicate insert = %v, %v; want false", ok, err)
	}
	got, err := s.Award(ctx, "p", rec.Key)
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	if got.Value != "Stone Cold" || got.Slot != 17 || !got.RecordedAt.Equal(base) || got.Key != rec.Key {
		t.Fatalf("award = %+v", got)
	}
}

func testAwardRace(t *testing.T, s repository.Store) {
	closeLater(t, s)
	ctx := context.Background()
	rec := model.AwardRecord{
		Key:        model.DivisionKey(model.DivisionPrimary, model.KindFinalFour),
		Value:      "4",
		RecordedAt: base,
	}
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.InsertAward(ctx, "p", rec)
			if err != nil {
				t.Errorf("insert: %v", err)
				return
			}
			if ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	if winners.Load() != 1 {
		t.Fatalf("winners = %d, want 1", winners.Load())
	}
}

func testGrantOnce(t *testing.T, s repository.Store) {
	closeLater(t, s)
	ctx := context.Background()
	pay := model.Payout{
		Outcome:  model.DivisionKey(model.DivisionPrimary, model.KindDivisionWinner),
		Role:     model.RoleOwner,
		PlayerID: "amy",
		Delta:    5,
	}
	ok, total, err := s.GrantOnce(ctx, "p", pay)
	if err != nil || !ok || total != 5 {
		t.Fatalf("grant = %v, %d, %v", ok, total, err)
	}
	ok, total, err = s.GrantOnce(ctx, "p", pay)
	if err != nil || ok || total != 5 {
		t.Fatalf("repeat grant = %v, %d, %v; want false, 5", ok, total, err)
	}

	pay.Role = model.RolePredictor
	pay.Delta = 2
	if ok, total, err = s.GrantOnce(ctx, "p", pay); err != nil || !ok || total != 7 {
		t.Fatalf("predictor grant = %v, %d, %v", ok, total, err)
	}

	total, err = s.IncrementPoints(ctx, "p", "amy", -3)
	if err != nil || total != 4 {
		t.Fatalf("increment = %d, %v; want 4", total, err)
	}
	pl, err := s.Player(ctx, "p", "amy")
	if err != nil || pl.Points != 4 {
		t.Fatalf("player = %+v, %v", pl, err)
	}
}

func testPlayers(t *testing.T, s repository.Store) {
	closeLater(t, s)
	ctx := context.Background()
	if _, err := s.Player(ctx, "p", "ghost"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("missing player err = %v", err)
	}
	if _, err := s.UpsertPlayer(ctx, "p", model.Player{ID: "amy", DisplayName: "Amy"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := s.IncrementPoints(ctx, "p", "amy", 3); err != nil {
		t.Fatalf("increment: %v", err)
	}
	pl, err := s.UpsertPlayer(ctx, "p", model.Player{ID: "amy", DisplayName: "Amy B"})
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if pl.DisplayName != "Amy B" || pl.Points != 3 {
		t.Fatalf("renamed player = %+v, want points kept", pl)
	}
	n, err := s.PlayerCount(ctx, "p")
	if err != nil || n != 1 {
		t.Fatalf("count = %d, %v", n, err)
	}
}

func testLeaderboard(t *testing.T, s repository.Store) {
	closeLater(t, s)
	ctx := context.Background()
	for id, pts := range map[string]int{"amy": 7, "bo": 3, "cy": 7, "dee": 1} {
		if _, err := s.IncrementPoints(ctx, "p", id, pts); err != nil {
			t.Fatalf("increment %s: %v", id, err)
		}
	}
	rows, err := s.Leaderboard(ctx, "p", 3)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	want := []struct {
		id   string
		rank int
	}{{"amy", 1}, {"cy", 1}, {"bo", 3}}
	if len(rows) != len(want) {
		t.Fatalf("rows = %d, want %d", len(rows), len(want))
	}
	for i, w := range want {
		if rows[i].PlayerID != w.id || rows[i].Rank != w.rank {
			t.Fatalf("row %d = %+v, want %s rank %d", i, rows[i], w.id, w.rank)
		}
	}
	row, err := s.Rank(ctx, "p", "dee")
	if err != nil || row.Rank != 4 || row.Points != 1 {
		t.Fatalf("rank dee = %+v, %v", row, err)
	}
	if _, err := s.Rank(ctx, "p", "ghost"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("rank ghost err = %v", err)
	}
	if _, err := s.Leaderboard(ctx, "p", 0); !errors.Is(err, repository.ErrInvalidLimit) {
		t.Fatalf("zero limit err = %v", err)
	}
}

func testPredictions(t *testing.T, s repository.Store) {
	closeLater(t, s)
	ctx := context.Background()
	key := model.DivisionKey(model.DivisionPrimary, model.KindDivisionWinner)
	for _, p := range []model.Prediction{
		{PlayerID: "cy", Key: key, Value: "Rock", PlacedAt: base},
		{PlayerID: "amy", Key: key, Value: "Austin", PlacedAt: base},
		{PlayerID: "amy", Key: key, Value: "Rock", PlacedAt: base.Add(time.Second)},
		{PlayerID: "bo", Key: model.SimpleKey("first_blood"), Value: "yes", PlacedAt: base},
	} {
		if err := s.SavePrediction(ctx, "p", p); err != nil {
			t.Fatalf("save prediction: %v", err)
		}
	}
	preds, err := s.Predictions(ctx, "p", key)
	if err != nil {
		t.Fatalf("predictions: %v", err)
	}
	if len(preds) != 2 {
		t.Fatalf("predictions = %d, want 2", len(preds))
	}
	if preds[0].PlayerID != "amy" || preds[0].Value != "Rock" || preds[1].PlayerID != "cy" {
		t.Fatalf("predictions = %+v", preds)
	}
	if preds[0].Key != key {
		t.Fatalf("prediction key = %+v, want %+v", preds[0].Key, key)
	}
}

func testPartyIsolation(t *testing.T, s repository.Store) {
	closeLater(t, s)
	ctx := context.Background()
	key := model.SimpleKey("anthem_length")
	if ok, err := s.InsertAward(ctx, "a", model.AwardRecord{Key: key, Value: "over", RecordedAt: base}); err != nil || !ok {
		t.Fatalf("insert a = %v, %v", ok, err)
	}
	if ok, err := s.InsertAward(ctx, "b", model.AwardRecord{Key: key, Value: "under", RecordedAt: base}); err != nil || !ok {
		t.Fatalf("insert b = %v, %v", ok, err)
	}
	if _, err := s.IncrementPoints(ctx, "a", "amy", 2); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if _, err := s.Player(ctx, "b", "amy"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("player leaked across parties: %v", err)
	}
}
