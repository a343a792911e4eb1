package match_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/rumble/internal/adapters/repository"
	"github.com/okian/rumble/internal/domain/ledger"
	"github.com/okian/rumble/internal/domain/match"
	"github.com/okian/rumble/internal/domain/model"
	"github.com/okian/rumble/internal/domain/notify"
	"github.com/okian/rumble/pkg/logger"
)

const (
	party = "party-1"
	div   = model.DivisionPrimary
)

var t0 = time.Date(2026, 1, 31, 19, 0, 0, 0, time.UTC) //nolint:gochecknoglobals // test fixture

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// flakyStore fails GrantOnce while failGrants is set.
type flakyStore struct {
	*repository.MemoryStore
	mu         sync.Mutex
	failGrants bool
}

func (s *flakyStore) setFailGrants(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failGrants = v
}

func (s *flakyStore) GrantOnce(ctx context.Context, party string, p model.Payout) (bool, int, error) {
	s.mu.Lock()
	fail := s.failGrants
	s.mu.Unlock()
	if fail {
		return false, 0, errors.New("connection reset")
	}
	return s.MemoryStore.GrantOnce(ctx, party, p)
}

// hookStore runs a one-shot hook after the next Slots call and another after
// the next accepted elimination, so tests can interleave two controllers.
type hookStore struct {
	*repository.MemoryStore
	mu        sync.Mutex
	afterLoad func()
	afterElim func()
}

func (s *hookStore) take(hook *func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn := *hook
	*hook = nil
	return fn
}

func (s *hookStore) Slots(ctx context.Context, party string, d model.Division) ([model.SlotCount]model.Slot, int64, error) {
	slots, version, err := s.MemoryStore.Slots(ctx, party, d)
	if fn := s.take(&s.afterLoad); fn != nil {
		fn()
	}
	return slots, version, err
}

func (s *hookStore) SaveElimination(ctx context.Context, party string, d model.Division, version int64, slot model.Slot) (bool, error) {
	ok, err := s.MemoryStore.SaveElimination(ctx, party, d, version, slot)
	if ok {
		if fn := s.take(&s.afterElim); fn != nil {
			fn()
		}
	}
	return ok, err
}

// await waits for ch, giving up after a few seconds so a broken
// interleaving fails its assertions instead of hanging.
func await(ch <-chan struct{}) {
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
	}
}

type harness struct {
	ctl    *match.Controller
	store  *repository.MemoryStore
	events *notify.Recorder
	clock  *clock
}

func newHarness(ctx context.Context) *harness {
	h := &harness{
		store:  repository.NewMemoryStore(ctx),
		events: &notify.Recorder{},
		clock:  &clock{now: t0},
	}
	h.ctl = h.controller(h.store)
	return h
}

func (h *harness) controller(store interface {
	match.Store
	ledger.Store
}) *match.Controller {
	l := ledger.New(store, party, ledger.WithClock(h.clock.Now), ledger.WithLogger(logger.Nop()))
	return match.New(store, l,
		match.WithClock(h.clock.Now),
		match.WithNotifier(h.events),
		match.WithLogger(logger.Nop()),
	)
}

func (h *harness) points(ctx context.Context, id string) int {
	p, err := h.ctl.PlayerPoints(ctx, id)
	So(err, ShouldBeNil)
	return p.Points
}

func wrestler(n int) string { return fmt.Sprintf("Wrestler %d", n) }

func owner(n int) string { return fmt.Sprintf("owner-%d", n) }

// enterAll enters every slot 90 seconds apart, slot n owned by owner-n.
func (h *harness) enterAll(ctx context.Context) {
	for n := 1; n <= model.SlotCount; n++ {
		_, err := h.ctl.RecordEntry(ctx, div, n, wrestler(n), owner(n), t0.Add(time.Duration(n-1)*90*time.Second))
		So(err, ShouldBeNil)
	}
}

func TestSlotCommands(t *testing.T) {
	Convey("Given a fresh controller", t, func() {
		ctx := context.Background()
		h := newHarness(ctx)
		defer h.store.Close()

		Convey("The division starts NOT_STARTED and moves to IN_PROGRESS on the first entry", func() {
			v, err := h.ctl.Snapshot(ctx, div)
			So(err, ShouldBeNil)
			So(v.State, ShouldEqual, model.StateNotStarted)

			_, err = h.ctl.RecordEntry(ctx, div, 1, "Rhea", "amy", t0)
			So(err, ShouldBeNil)
			v, err = h.ctl.Snapshot(ctx, div)
			So(err, ShouldBeNil)
			So(v.State, ShouldEqual, model.StateInProgress)
			So(v.Entered, ShouldEqual, 1)
			So(v.Active, ShouldResemble, []int{1})
			So(h.events.Count(notify.EntryRecorded), ShouldEqual, 1)
		})

		Convey("A zero entry time uses the clock", func() {
			s, err := h.ctl.RecordEntry(ctx, div, 4, "Rhea", "", time.Time{})
			So(err, ShouldBeNil)
			So(s.EntryTime.Equal(t0), ShouldBeTrue)
		})

		Convey("An elimination before entry is rejected", func() {
			_, err := h.ctl.RecordElimination(ctx, div, 5, 0, t0)
			So(errors.Is(err, model.ErrInvalidTransition), ShouldBeTrue)
			So(h.events.Count(notify.EliminationRecorded), ShouldEqual, 0)
		})

		Convey("A second entry for the same slot is rejected", func() {
			_, err := h.ctl.RecordEntry(ctx, div, 2, "Bianca", "", t0)
			So(err, ShouldBeNil)
			_, err = h.ctl.RecordEntry(ctx, div, 2, "Bianca", "", t0.Add(time.Minute))
			So(errors.Is(err, model.ErrInvalidTransition), ShouldBeTrue)
			So(h.events.Count(notify.EntryRecorded), ShouldEqual, 1)
		})

		Convey("An unknown division is rejected", func() {
			_, err := h.ctl.RecordEntry(ctx, model.Division("tag"), 1, "Rhea", "", t0)
			So(errors.Is(err, model.ErrInvalidTransition), ShouldBeTrue)
			_, err = h.ctl.Snapshot(ctx, model.Division("tag"))
			So(errors.Is(err, model.ErrInvalidTransition), ShouldBeTrue)
		})

		Convey("Owners are drawn before entry and locked after it", func() {
			_, err := h.ctl.AssignOwner(ctx, div, 3, "amy")
			So(err, ShouldBeNil)
			s, err := h.ctl.RecordEntry(ctx, div, 3, "Rhea", "", t0)
			So(err, ShouldBeNil)
			So(s.OwnerPlayerID, ShouldEqual, "amy")

			_, err = h.ctl.AssignOwner(ctx, div, 3, "bo")
			So(errors.Is(err, model.ErrInvalidTransition), ShouldBeTrue)
			_, err = h.ctl.RecordEntry(ctx, div, 3, "Rhea", "bo", t0)
			So(errors.Is(err, model.ErrInvalidTransition), ShouldBeTrue)
		})

		Convey("An elimination credited to an inactive slot is rejected", func() {
			_, err := h.ctl.RecordEntry(ctx, div, 1, "Rhea", "amy", t0)
			So(err, ShouldBeNil)
			_, err = h.ctl.RecordElimination(ctx, div, 1, 9, t0.Add(2*time.Minute))
			So(errors.Is(err, model.ErrUnknownEliminator), ShouldBeTrue)
		})

		Convey("An elimination credit pays the eliminator's owner once", func() {
			_, err := h.ctl.RecordEntry(ctx, div, 1, "Rhea", "amy", t0)
			So(err, ShouldBeNil)
			_, err = h.ctl.RecordEntry(ctx, div, 2, "Bianca", "bo", t0)
			So(err, ShouldBeNil)

			_, err = h.ctl.RecordElimination(ctx, div, 2, 1, t0.Add(5*time.Minute))
			So(err, ShouldBeNil)
			again, err := h.ctl.RecordElimination(ctx, div, 2, 1, t0.Add(5*time.Minute))
			So(err, ShouldBeNil)
			So(again.EliminatedBy, ShouldEqual, 1)
			_, err = h.ctl.RecordElimination(ctx, div, 2, 1, t0.Add(6*time.Minute))
			So(errors.Is(err, model.ErrInvalidTransition), ShouldBeTrue)
			So(h.ctl.Reconcile(ctx, div), ShouldBeNil)

			So(h.points(ctx, "amy"), ShouldEqual, 1)
			So(h.events.Count(notify.EliminationRecorded), ShouldEqual, 1)
			So(h.events.Count(notify.FirstEliminationRecorded), ShouldEqual, 1)
		})

		Convey("Repeating an entry stores nothing new", func() {
			_, err := h.ctl.RecordEntry(ctx, div, 6, "Rhea", "amy", t0)
			So(err, ShouldBeNil)
			s, err := h.ctl.RecordEntry(ctx, div, 6, " Rhea ", "", t0)
			So(err, ShouldBeNil)
			So(s.OwnerPlayerID, ShouldEqual, "amy")
			So(h.events.Count(notify.EntryRecorded), ShouldEqual, 1)
		})

		Convey("Four entrants alone are not the final four", func() {
			for n := 1; n <= 4; n++ {
				_, err := h.ctl.RecordEntry(ctx, div, n, wrestler(n), owner(n), t0)
				So(err, ShouldBeNil)
			}
			v, err := h.ctl.Snapshot(ctx, div)
			So(err, ShouldBeNil)
			So(v.Active, ShouldHaveLength, 4)
			So(v.FourRemaining, ShouldBeEmpty)
			So(h.events.Count(notify.FourRemainingReached), ShouldEqual, 0)
		})

		Convey("The winner needs all thirty entered", func() {
			_, err := h.ctl.RecordEntry(ctx, div, 1, "Rhea", "amy", t0)
			So(err, ShouldBeNil)
			_, err = h.ctl.RecordEntry(ctx, div, 2, "Bianca", "bo", t0)
			So(err, ShouldBeNil)
			_, err = h.ctl.RecordElimination(ctx, div, 2, 1, t0.Add(5*time.Minute))
			So(err, ShouldBeNil)

			_, err = h.ctl.DeclareWinner(ctx, div, 1)
			So(errors.Is(err, model.ErrPreconditionFailed), ShouldBeTrue)
			So(h.events.Count(notify.WinnerDeclared), ShouldEqual, 0)
		})
	})
}

func TestJobberPenalty(t *testing.T) {
	Convey("Given three slots entered together", t, func() {
		ctx := context.Background()
		h := newHarness(ctx)
		defer h.store.Close()

		for n, id := range []string{"o59", "o60", "o61"} {
			_, err := h.ctl.RegisterPlayer(ctx, id, id)
			So(err, ShouldBeNil)
			_, err = h.ctl.RecordEntry(ctx, div, n+1, wrestler(n+1), id, t0)
			So(err, ShouldBeNil)
		}

		Convey("Only a stay shorter than sixty seconds is penalised", func() {
			for n, secs := range []int{59, 60, 61} {
				_, err := h.ctl.RecordElimination(ctx, div, n+1, 0, t0.Add(time.Duration(secs)*time.Second))
				So(err, ShouldBeNil)
			}
			So(h.points(ctx, "o59"), ShouldEqual, -1)
			So(h.points(ctx, "o60"), ShouldEqual, 0)
			So(h.points(ctx, "o61"), ShouldEqual, 0)

			Convey("And reconciling does not charge it again", func() {
				So(h.ctl.Reconcile(ctx, div), ShouldBeNil)
				So(h.points(ctx, "o59"), ShouldEqual, -1)
			})
		})
	})
}

func TestFullMatch(t *testing.T) {
	Convey("Given thirty entrants and three predictors", t, func() {
		ctx := context.Background()
		h := newHarness(ctx)
		defer h.store.Close()

		for _, id := range []string{"alice", "bob", "cy"} {
			_, err := h.ctl.RegisterPlayer(ctx, id, id)
			So(err, ShouldBeNil)
		}
		place := func(player string, kind model.OutcomeKind, value string) {
			_, err := h.ctl.PlacePrediction(ctx, player, model.DivisionKey(div, kind), value)
			So(err, ShouldBeNil)
		}
		place("alice", model.KindDivisionWinner, "17")
		place("bob", model.KindDivisionWinner, "wrestler 17")
		place("cy", model.KindDivisionWinner, "5")
		place("alice", model.KindFirstElimination, "Wrestler 1")
		place("bob", model.KindEntrantOne, "WRESTLER 1")

		h.enterAll(ctx)

		Convey("Predictions on the division are locked once it starts", func() {
			_, err := h.ctl.PlacePrediction(ctx, "cy", model.DivisionKey(div, model.KindDivisionWinner), "3")
			So(errors.Is(err, model.ErrPredictionsLocked), ShouldBeTrue)
			So(errors.Is(err, model.ErrInvalidTransition), ShouldBeTrue)
		})

		Convey("When 29 slots are eliminated leaving slot 17", func() {
			elim := func(n, by, k int) {
				_, err := h.ctl.RecordElimination(ctx, div, n, by, t0.Add(time.Hour+time.Duration(k)*time.Second))
				So(err, ShouldBeNil)
			}
			k := 0
			for n := 1; n <= model.SlotCount; n++ {
				if n == 3 || n == 7 || n == 17 {
					continue
				}
				k++
				by := 0
				switch n {
				case 1, 2:
					by = 3
				case 4, 5:
					by = 7
				}
				elim(n, by, k)
				if k == 26 {
					So(h.events.Count(notify.FourRemainingReached), ShouldEqual, 1)
				}
			}
			elim(7, 0, 28)
			elim(3, 0, 29)

			So(h.events.Count(notify.FourRemainingReached), ShouldEqual, 1)
			So(h.events.Count(notify.FirstEliminationRecorded), ShouldEqual, 1)
			So(h.events.Count(notify.EliminationRecorded), ShouldEqual, 29)

			Convey("A non-survivor cannot win", func() {
				_, err := h.ctl.DeclareWinner(ctx, div, 3)
				So(errors.Is(err, model.ErrPreconditionFailed), ShouldBeTrue)
			})

			Convey("And slot 17 is declared the winner", func() {
				h.clock.Set(t0.Add(2 * time.Hour))
				rec, err := h.ctl.DeclareWinner(ctx, div, 17)
				So(err, ShouldBeNil)
				So(rec.Slot, ShouldEqual, 17)
				So(rec.Value, ShouldEqual, wrestler(17))

				expectPoints := func() {
					So(h.points(ctx, owner(17)), ShouldEqual, 2+5+3)
					So(h.points(ctx, owner(3)), ShouldEqual, 2+2+3)
					So(h.points(ctx, owner(7)), ShouldEqual, 2+2)
					So(h.points(ctx, owner(30)), ShouldEqual, 2)
					So(h.points(ctx, "alice"), ShouldEqual, 5+2)
					So(h.points(ctx, "bob"), ShouldEqual, 5+2)
					So(h.points(ctx, "cy"), ShouldEqual, 0)
				}
				expectPoints()

				So(h.events.Count(notify.WinnerDeclared), ShouldEqual, 1)
				So(h.events.Count(notify.IronPersonRecorded), ShouldEqual, 1)
				So(h.events.Count(notify.MostEliminationsRecorded), ShouldEqual, 1)
				for _, e := range h.events.Events() {
					switch e.Type {
					case notify.IronPersonRecorded:
						// Slot 17 entered 24 minutes in and was still there at the two hour mark.
						So(e.DurationSeconds, ShouldEqual, 96*60)
						So(e.Points, ShouldEqual, 0)
					case notify.MostEliminationsRecorded:
						So(e.Count, ShouldEqual, 2)
						So(e.Points, ShouldEqual, 0)
					}
				}

				v, err := h.ctl.Snapshot(ctx, div)
				So(err, ShouldBeNil)
				So(v.State, ShouldEqual, model.StateComplete)
				So(v.Winner.Slot, ShouldEqual, 17)
				So(v.MostEliminations.Slot, ShouldEqual, 3)
				So(v.MostEliminations.Count, ShouldEqual, 2)
				So(v.LongestDuration.Slot, ShouldEqual, 17)
				So(v.ReferenceTime.Equal(t0.Add(2*time.Hour)), ShouldBeTrue)

				Convey("Declaring again and reconciling pay nothing more", func() {
					awarded := h.events.Count(notify.PointsAwarded)
					h.clock.Set(t0.Add(3 * time.Hour))
					again, err := h.ctl.DeclareWinner(ctx, div, 17)
					So(err, ShouldBeNil)
					So(again.RecordedAt.Equal(rec.RecordedAt), ShouldBeTrue)
					So(h.ctl.Reconcile(ctx, div), ShouldBeNil)

					expectPoints()
					So(h.events.Count(notify.WinnerDeclared), ShouldEqual, 1)
					So(h.events.Count(notify.PointsAwarded), ShouldEqual, awarded)
				})

				Convey("Slot mutations are rejected", func() {
					_, err := h.ctl.RecordElimination(ctx, div, 17, 0, t0.Add(3*time.Hour))
					So(errors.Is(err, model.ErrMatchAlreadyComplete), ShouldBeTrue)
					_, err = h.ctl.AssignOwner(ctx, div, 17, "cy")
					So(errors.Is(err, model.ErrMatchAlreadyComplete), ShouldBeTrue)
					_, err = h.ctl.DeclareWinner(ctx, div, 3)
					So(errors.Is(err, model.ErrMatchAlreadyComplete), ShouldBeTrue)
				})

				Convey("The other division is unaffected", func() {
					v, err := h.ctl.Snapshot(ctx, model.DivisionSecondary)
					So(err, ShouldBeNil)
					So(v.State, ShouldEqual, model.StateNotStarted)
				})
			})
		})
	})
}

func TestSimpleOutcomes(t *testing.T) {
	Convey("Given two predictions on a simple outcome", t, func() {
		ctx := context.Background()
		h := newHarness(ctx)
		defer h.store.Close()

		for _, p := range []struct{ id, guess string }{{"amy", "Long"}, {"bo", "short"}} {
			_, err := h.ctl.RegisterPlayer(ctx, p.id, p.id)
			So(err, ShouldBeNil)
			_, err = h.ctl.PlacePrediction(ctx, p.id, model.SimpleKey("anthem"), p.guess)
			So(err, ShouldBeNil)
		}

		Convey("Recording the outcome pays matching predictors once", func() {
			rec, err := h.ctl.RecordSimpleOutcome(ctx, "anthem", "long")
			So(err, ShouldBeNil)
			So(rec.Value, ShouldEqual, "long")
			_, err = h.ctl.RecordSimpleOutcome(ctx, "anthem", "LONG")
			So(err, ShouldBeNil)

			So(h.points(ctx, "amy"), ShouldEqual, 1)
			So(h.points(ctx, "bo"), ShouldEqual, 0)
			So(h.events.Count(notify.OutcomeRecorded), ShouldEqual, 1)

			Convey("A different value is rejected", func() {
				_, err := h.ctl.RecordSimpleOutcome(ctx, "anthem", "short")
				So(errors.Is(err, model.ErrInvalidTransition), ShouldBeTrue)
				So(h.points(ctx, "bo"), ShouldEqual, 0)
			})

			Convey("Later predictions are locked", func() {
				_, err := h.ctl.PlacePrediction(ctx, "bo", model.SimpleKey("anthem"), "long")
				So(errors.Is(err, model.ErrPredictionsLocked), ShouldBeTrue)
			})
		})

		Convey("Blank outcomes and unpredictable kinds are rejected", func() {
			_, err := h.ctl.RecordSimpleOutcome(ctx, " ", "long")
			So(errors.Is(err, model.ErrInvalidTransition), ShouldBeTrue)
			_, err = h.ctl.PlacePrediction(ctx, "amy", model.DivisionKey(div, model.KindFinalFour), "3")
			So(errors.Is(err, model.ErrInvalidTransition), ShouldBeTrue)
			_, err = h.ctl.PlacePrediction(ctx, "", model.SimpleKey("anthem"), "long")
			So(errors.Is(err, model.ErrInvalidTransition), ShouldBeTrue)
		})
	})
}

func TestAdjustPoints(t *testing.T) {
	Convey("Given a registered player", t, func() {
		ctx := context.Background()
		h := newHarness(ctx)
		defer h.store.Close()

		p, err := h.ctl.RegisterPlayer(ctx, "", "Amy")
		So(err, ShouldBeNil)
		So(p.ID, ShouldNotBeBlank)

		Convey("An adjustment applies once per key", func() {
			total, err := h.ctl.AdjustPoints(ctx, p.ID, 3, "missed credit", "fix-1")
			So(err, ShouldBeNil)
			So(total, ShouldEqual, 3)
			total, err = h.ctl.AdjustPoints(ctx, p.ID, 3, "missed credit", "fix-1")
			So(err, ShouldBeNil)
			So(total, ShouldEqual, 3)

			total, err = h.ctl.AdjustPoints(ctx, p.ID, -2, "double count", "fix-2")
			So(err, ShouldBeNil)
			So(total, ShouldEqual, 1)
		})

		Convey("Reusing a key for another delta is rejected", func() {
			_, err := h.ctl.AdjustPoints(ctx, p.ID, 3, "", "fix-1")
			So(err, ShouldBeNil)
			_, err = h.ctl.AdjustPoints(ctx, p.ID, 4, "", "fix-1")
			So(errors.Is(err, model.ErrInvalidTransition), ShouldBeTrue)
			So(h.points(ctx, p.ID), ShouldEqual, 3)
		})

		Convey("A zero delta is rejected", func() {
			_, err := h.ctl.AdjustPoints(ctx, p.ID, 0, "", "fix-0")
			So(errors.Is(err, model.ErrInvalidTransition), ShouldBeTrue)
		})
	})
}

func TestConcurrentProcesses(t *testing.T) {
	Convey("Given two controllers sharing one store", t, func() {
		ctx := context.Background()
		h := newHarness(ctx)
		defer h.store.Close()
		other := h.controller(h.store)

		Convey("Racing the same simple outcome pays once", func() {
			_, err := h.ctl.PlacePrediction(ctx, "amy", model.SimpleKey("anthem"), "long")
			So(err, ShouldBeNil)

			errs := make(chan error, 20)
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				ctl := h.ctl
				if i%2 == 1 {
					ctl = other
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := ctl.RecordSimpleOutcome(ctx, "anthem", "long")
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				So(err, ShouldBeNil)
			}
			So(h.points(ctx, "amy"), ShouldEqual, 1)
			So(h.events.Count(notify.OutcomeRecorded), ShouldEqual, 1)
		})

		Convey("Reconciling while an elimination lands credits once", func() {
			_, err := h.ctl.RecordEntry(ctx, div, 1, "Rhea", "amy", t0)
			So(err, ShouldBeNil)
			_, err = h.ctl.RecordEntry(ctx, div, 2, "Bianca", "bo", t0)
			So(err, ShouldBeNil)

			errs := make(chan error, 11)
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := h.ctl.RecordElimination(ctx, div, 2, 1, t0.Add(5*time.Minute))
				errs <- err
			}()
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					errs <- other.Reconcile(ctx, div)
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				So(err, ShouldBeNil)
			}
			So(other.Reconcile(ctx, div), ShouldBeNil)
			So(h.points(ctx, "amy"), ShouldEqual, 1)
		})
	})
}

func TestInterleavedWriters(t *testing.T) {
	Convey("Given a full field down to slots 26 to 30 and two controllers", t, func() {
		ctx := context.Background()
		h := newHarness(ctx)
		defer h.store.Close()
		h.enterAll(ctx)
		for n := 1; n <= 25; n++ {
			_, err := h.ctl.RecordElimination(ctx, div, n, 0, t0.Add(time.Hour+time.Duration(n)*time.Second))
			So(err, ShouldBeNil)
		}

		storeA := &hookStore{MemoryStore: h.store}
		storeB := &hookStore{MemoryStore: h.store}
		a, b := h.controller(storeA), h.controller(storeB)

		Convey("When both load before either eliminates and the second write lands first", func() {
			aLoaded, bCommitted, aDone, bDone := make(chan struct{}), make(chan struct{}), make(chan struct{}), make(chan struct{})
			storeA.afterLoad = func() {
				close(aLoaded)
				await(bCommitted)
			}
			storeB.afterElim = func() {
				close(bCommitted)
				await(aDone)
			}

			var errA, errB error
			go func() {
				defer close(aDone)
				_, errA = a.RecordElimination(ctx, div, 26, 0, t0.Add(2*time.Hour+time.Second))
			}()
			await(aLoaded)
			go func() {
				defer close(bDone)
				_, errB = b.RecordElimination(ctx, div, 27, 0, t0.Add(2*time.Hour))
			}()
			await(aDone)
			await(bDone)

			Convey("Then the final four is the set that really existed", func() {
				So(errA, ShouldBeNil)
				So(errB, ShouldBeNil)
				So(h.events.Count(notify.FourRemainingReached), ShouldEqual, 1)
				for _, e := range h.events.Events() {
					if e.Type == notify.FourRemainingReached {
						So(e.Value, ShouldEqual, "26,28,29,30")
					}
				}
				So(h.points(ctx, owner(26)), ShouldEqual, 2)
				So(h.points(ctx, owner(28)), ShouldEqual, 2)
				_, err := h.ctl.PlayerPoints(ctx, owner(27))
				So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)

				v, err := h.ctl.Snapshot(ctx, div)
				So(err, ShouldBeNil)
				So(v.Active, ShouldResemble, []int{28, 29, 30})
			})
		})
	})

	Convey("Given two controllers entering every slot at once", t, func() {
		ctx := context.Background()
		h := newHarness(ctx)
		defer h.store.Close()
		other := h.controller(h.store)

		errs := make(chan error, model.SlotCount)
		var wg sync.WaitGroup
		for n := 1; n <= model.SlotCount; n++ {
			ctl := h.ctl
			if n%2 == 0 {
				ctl = other
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := ctl.RecordEntry(ctx, div, n, wrestler(n), owner(n), t0.Add(time.Duration(n)*time.Second))
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		Convey("Then every entry lands exactly once", func() {
			for err := range errs {
				So(err, ShouldBeNil)
			}
			v, err := h.ctl.Snapshot(ctx, div)
			So(err, ShouldBeNil)
			So(v.Entered, ShouldEqual, model.SlotCount)
			So(h.events.Count(notify.EntryRecorded), ShouldEqual, model.SlotCount)
			_, version, err := h.store.Slots(ctx, party, div)
			So(err, ShouldBeNil)
			So(version, ShouldEqual, model.SlotCount)
		})
	})
}

func TestStorageFailure(t *testing.T) {
	Convey("Given a store whose grants fail", t, func() {
		ctx := context.Background()
		h := newHarness(ctx)
		defer h.store.Close()
		flaky := &flakyStore{MemoryStore: h.store}
		ctl := h.controller(flaky)

		_, err := ctl.RecordEntry(ctx, div, 1, "Rhea", "amy", t0)
		So(err, ShouldBeNil)
		_, err = ctl.RecordEntry(ctx, div, 2, "Bianca", "bo", t0)
		So(err, ShouldBeNil)

		flaky.setFailGrants(true)
		_, err = ctl.RecordElimination(ctx, div, 2, 1, t0.Add(5*time.Minute))

		Convey("The command reports a retryable failure", func() {
			So(model.Retryable(err), ShouldBeTrue)
			So(h.events.Count(notify.PointsAwarded), ShouldEqual, 0)

			Convey("And retrying the same elimination after recovery pays the credit", func() {
				flaky.setFailGrants(false)
				slot, err := ctl.RecordElimination(ctx, div, 2, 1, t0.Add(5*time.Minute))
				So(err, ShouldBeNil)
				So(slot.EliminatedBy, ShouldEqual, 1)
				So(h.points(ctx, "amy"), ShouldEqual, 1)
				So(h.events.Count(notify.EliminationRecorded), ShouldEqual, 1)
				So(h.events.Count(notify.FirstEliminationRecorded), ShouldEqual, 1)

				_, err = ctl.RecordElimination(ctx, div, 2, 1, t0.Add(5*time.Minute))
				So(err, ShouldBeNil)
				So(h.points(ctx, "amy"), ShouldEqual, 1)
			})

			Convey("And a retry with a different eliminator is still rejected", func() {
				flaky.setFailGrants(false)
				_, err := ctl.RecordElimination(ctx, div, 2, 0, t0.Add(5*time.Minute))
				So(errors.Is(err, model.ErrInvalidTransition), ShouldBeTrue)
			})

			Convey("And reconciling after recovery pays the credit once", func() {
				flaky.setFailGrants(false)
				So(ctl.Reconcile(ctx, div), ShouldBeNil)
				So(ctl.Reconcile(ctx, div), ShouldBeNil)
				So(h.points(ctx, "amy"), ShouldEqual, 1)
				So(h.events.Count(notify.PointsAwarded), ShouldEqual, 1)
			})
		})
	})
}

func TestEntryRetry(t *testing.T) {
	Convey("Given an entrant-one prediction and a store whose grants fail", t, func() {
		ctx := context.Background()
		h := newHarness(ctx)
		defer h.store.Close()
		flaky := &flakyStore{MemoryStore: h.store}
		ctl := h.controller(flaky)

		_, err := ctl.PlacePrediction(ctx, "bo", model.DivisionKey(div, model.KindEntrantOne), "rhea")
		So(err, ShouldBeNil)
		flaky.setFailGrants(true)
		_, err = ctl.RecordEntry(ctx, div, 1, "Rhea", "amy", t0)
		So(model.Retryable(err), ShouldBeTrue)

		Convey("Retrying the identical entry after recovery pays the prediction once", func() {
			flaky.setFailGrants(false)
			for i := 0; i < 2; i++ {
				s, err := ctl.RecordEntry(ctx, div, 1, "Rhea", "amy", t0)
				So(err, ShouldBeNil)
				So(s.WrestlerName, ShouldEqual, "Rhea")
			}
			So(h.points(ctx, "bo"), ShouldEqual, 2)
			So(h.events.Count(notify.EntryRecorded), ShouldEqual, 1)
		})

		Convey("A retry naming another wrestler is rejected", func() {
			flaky.setFailGrants(false)
			_, err := ctl.RecordEntry(ctx, div, 1, "Bianca", "amy", t0)
			So(errors.Is(err, model.ErrInvalidTransition), ShouldBeTrue)
		})
	})
}
