package stats_test

import (
	"testing"
	"time"

	"github.com/okian/rumble/internal/domain/model"
	"github.com/okian/rumble/internal/domain/registry"
	"github.com/okian/rumble/internal/domain/stats"
	. "github.com/smartystreets/goconvey/convey"
)

var t0 = time.Date(2026, 1, 31, 20, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

// fullField enters all thirty slots, one second apart.
func fullField() *registry.SlotRegistry {
	r := registry.New(model.DivisionPrimary)
	for n := 1; n <= model.SlotCount; n++ {
		_, _ = r.RecordEntry(n, "W"+string(rune('A'+n-1)), "", at(n))
	}
	return r
}

func TestFirstElimination(t *testing.T) {
	Convey("Given a division with no eliminations", t, func() {
		r := registry.New(model.DivisionPrimary)
		_, _ = r.RecordEntry(1, "A", "", at(0))
		_, _ = r.RecordEntry(2, "B", "", at(1))
		snap := r.Snapshot()

		Convey("Then there is no first elimination", func() {
			_, ok := stats.FirstElimination(&snap)
			So(ok, ShouldBeFalse)
		})

		Convey("When eliminations arrive out of number order", func() {
			_, _ = r.RecordEntry(3, "C", "", at(2))
			_, _ = r.RecordElimination(3, 1, at(30))
			_, _ = r.RecordElimination(2, 1, at(40))
			snap := r.Snapshot()

			Convey("Then the earliest elimination time wins", func() {
				s, ok := stats.FirstElimination(&snap)
				So(ok, ShouldBeTrue)
				So(s.Number, ShouldEqual, 3)
			})
		})
	})
}

func TestFourRemaining(t *testing.T) {
	Convey("Given a full field", t, func() {
		r := fullField()

		Convey("When 26 slots are eliminated", func() {
			for n := 1; n <= 26; n++ {
				_, _ = r.RecordElimination(n, 30, at(100+n))
			}
			snap := r.Snapshot()

			Convey("Then the four remaining are reported", func() {
				four, ok := stats.FourRemaining(&snap)
				So(ok, ShouldBeTrue)
				So(len(four), ShouldEqual, 4)
				So(four[0].Number, ShouldEqual, 27)
			})

			Convey("And recomputing keeps reporting the same set", func() {
				a, _ := stats.FourRemaining(&snap)
				b, _ := stats.FourRemaining(&snap)
				So(a, ShouldResemble, b)
			})
		})

		Convey("When five remain", func() {
			for n := 1; n <= 25; n++ {
				_, _ = r.RecordElimination(n, 30, at(100+n))
			}
			snap := r.Snapshot()
			_, ok := stats.FourRemaining(&snap)
			So(ok, ShouldBeFalse)
		})
	})
}

func TestFinalFour(t *testing.T) {
	Convey("Given only four slots entered", t, func() {
		r := registry.New(model.DivisionPrimary)
		for n := 1; n <= 4; n++ {
			_, _ = r.RecordEntry(n, "W", "", at(n))
		}
		snap := r.Snapshot()

		Convey("Then four are active but the final four has not formed", func() {
			_, ok := stats.FourRemaining(&snap)
			So(ok, ShouldBeTrue)
			_, ok = stats.FinalFour(&snap)
			So(ok, ShouldBeFalse)
		})
	})

	Convey("Given a full field reduced to four", t, func() {
		r := fullField()
		for n := 1; n <= 26; n++ {
			_, _ = r.RecordElimination(n, 30, at(100+n))
		}
		snap := r.Snapshot()

		Convey("Then the final four is the active set", func() {
			four, ok := stats.FinalFour(&snap)
			So(ok, ShouldBeTrue)
			active, _ := stats.FourRemaining(&snap)
			So(four, ShouldResemble, active)
		})
	})
}

func TestSoleSurvivor(t *testing.T) {
	Convey("Given one active slot but only ten entered", t, func() {
		r := registry.New(model.DivisionPrimary)
		for n := 1; n <= 10; n++ {
			_, _ = r.RecordEntry(n, "W", "", at(n))
		}
		for n := 1; n <= 9; n++ {
			_, _ = r.RecordElimination(n, 10, at(50+n))
		}
		snap := r.Snapshot()

		Convey("Then there is no sole survivor yet", func() {
			_, ok := stats.SoleSurvivor(&snap)
			So(ok, ShouldBeFalse)
		})
	})

	Convey("Given a full field reduced to slot 17", t, func() {
		r := fullField()
		for n := 1; n <= model.SlotCount; n++ {
			if n != 17 {
				_, _ = r.RecordElimination(n, 17, at(100+n))
			}
		}
		snap := r.Snapshot()

		Convey("Then slot 17 is the sole survivor", func() {
			s, ok := stats.SoleSurvivor(&snap)
			So(ok, ShouldBeTrue)
			So(s.Number, ShouldEqual, 17)
		})
	})
}

func TestMostEliminations(t *testing.T) {
	Convey("Given slots 3 and 7 with two eliminations each", t, func() {
		r := fullField()
		_, _ = r.RecordElimination(1, 7, at(40))
		_, _ = r.RecordElimination(2, 3, at(41))
		_, _ = r.RecordElimination(4, 7, at(42))
		_, _ = r.RecordElimination(5, 3, at(43))
		_, _ = r.RecordElimination(6, 9, at(44))
		snap := r.Snapshot()

		Convey("Then the lower slot number wins the tie", func() {
			s, count, ok := stats.MostEliminations(&snap)
			So(ok, ShouldBeTrue)
			So(s.Number, ShouldEqual, 3)
			So(count, ShouldEqual, 2)
		})
	})

	Convey("Given eliminations with no credited eliminator", t, func() {
		r := fullField()
		_, _ = r.RecordElimination(1, 0, at(40))
		snap := r.Snapshot()

		Convey("Then there is no leader", func() {
			_, _, ok := stats.MostEliminations(&snap)
			So(ok, ShouldBeFalse)
		})
	})
}

func TestLongestDuration(t *testing.T) {
	Convey("Given slot 1 in 0..50 and slot 2 still active since 10", t, func() {
		r := registry.New(model.DivisionPrimary)
		_, _ = r.RecordEntry(1, "A", "", at(0))
		_, _ = r.RecordEntry(2, "B", "", at(10))
		_, _ = r.RecordElimination(1, 2, at(50))
		snap := r.Snapshot()

		Convey("When measured at reference time 100", func() {
			s, d, ok := stats.LongestDuration(&snap, at(100))

			Convey("Then slot 2 wins with 90 seconds", func() {
				So(ok, ShouldBeTrue)
				So(s.Number, ShouldEqual, 2)
				So(d, ShouldEqual, 90*time.Second)
			})
		})

		Convey("When measured at reference time 55", func() {
			s, _, _ := stats.LongestDuration(&snap, at(55))

			Convey("Then slot 1 still leads", func() {
				So(s.Number, ShouldEqual, 1)
			})
		})

		Convey("When measured at reference time 60", func() {
			s, _, _ := stats.LongestDuration(&snap, at(60))

			Convey("Then the tie goes to the lower number", func() {
				So(s.Number, ShouldEqual, 1)
			})
		})
	})

	Convey("Given nobody has entered", t, func() {
		snap := model.EmptySnapshot(model.DivisionPrimary)
		_, _, ok := stats.LongestDuration(&snap, at(0))
		So(ok, ShouldBeFalse)
	})
}
