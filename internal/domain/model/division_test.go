package model_test

import (
	"encoding/json"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/rumble/internal/domain/model"
)

func TestSlotJSON(t *testing.T) {
	Convey("Given a slot that has not entered", t, func() {
		raw, err := json.Marshal(model.Slot{Number: 5})
		So(err, ShouldBeNil)

		Convey("Its times are left out", func() {
			So(string(raw), ShouldEqual, `{"number":5}`)
		})
	})

	Convey("Given an entered slot", t, func() {
		at := time.Date(2026, 1, 31, 19, 0, 0, 0, time.UTC)
		raw, err := json.Marshal(model.Slot{Number: 5, WrestlerName: "Rhea", EntryTime: at})
		So(err, ShouldBeNil)

		Convey("Only the entry time is written", func() {
			So(string(raw), ShouldContainSubstring, `"entry_time":"2026-01-31T19:00:00Z"`)
			So(string(raw), ShouldNotContainSubstring, "elimination_time")
		})
	})
}
