package scoring_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/rumble/internal/domain/scoring"
	. "github.com/smartystreets/goconvey/convey"
)

func TestTable(t *testing.T) {
	Convey("Given a default table", t, func() {
		table := scoring.NewTable()

		Convey("Then it carries the stock bonuses", func() {
			So(table.Validate(), ShouldBeNil)
			So(table.Points(scoring.Survivor), ShouldEqual, 5)
			So(table.Points(scoring.JobberPenalty), ShouldEqual, -1)
			So(table.JobberThreshold(), ShouldEqual, 60*time.Second)
		})

		Convey("Then the jobber boundary is strict", func() {
			So(table.IsJobber(59*time.Second), ShouldBeTrue)
			So(table.IsJobber(60*time.Second), ShouldBeFalse)
			So(table.IsJobber(61*time.Second), ShouldBeFalse)
		})
	})

	Convey("Given a table overridden from config", t, func() {
		table := scoring.NewTable(
			scoring.WithBonusesFromConfig(map[string]int{"survivor": 10, "final_four": 0}),
			scoring.WithJobberThreshold(90*time.Second),
		)

		Convey("Then overrides win and other rows keep defaults", func() {
			So(table.Points(scoring.Survivor), ShouldEqual, 10)
			So(table.Points(scoring.FinalFour), ShouldEqual, 0)
			So(table.Points(scoring.IronPerson), ShouldEqual, 3)
			So(table.IsJobber(89*time.Second), ShouldBeTrue)
		})
	})

	Convey("Given a config with a misspelled bonus", t, func() {
		table := scoring.NewTable(scoring.WithBonusesFromConfig(map[string]int{"survivr": 10}))

		Convey("Then validation names it", func() {
			err := table.Validate()
			So(errors.Is(err, scoring.ErrUnknownBonus), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "survivr")
		})
	})
}
