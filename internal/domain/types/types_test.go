package types_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/okian/claimgate/internal/domain/model"
	"github.com/okian/claimgate/internal/domain/types"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"
)

func TestFromSnapshot(t *testing.T) {
	Convey("Given a snapshot with unsorted maps", t, func() {
		at := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
		snap := model.Snapshot{
			Period: "2026-10-19",
			Claimants: map[string]model.ClaimantRecord{
				"0xbb": {LastClaimAt: at, TotalClaimedInPeriod: decimal.RequireFromString("0.5"), LastTxRef: "0x1"},
				"0xaa": {TotalClaimedInPeriod: decimal.Zero},
			},
			Origins: map[string]model.OriginRecord{
				"10.0.0.2": {LastRequestAt: at},
				"10.0.0.1": {LastRequestAt: at},
			},
			Pending: map[string]model.PendingTransfer{
				"p2": {Profile: model.ProfileClaim, Amount: decimal.NewFromInt(1), At: at.Add(time.Minute)},
				"p1": {Profile: model.ProfileWithdraw, Amount: decimal.NewFromInt(2), At: at},
			},
		}

		Convey("When it is turned into a view", func() {
			v := types.FromSnapshot(snap)

			Convey("Then entries are ordered deterministically", func() {
				So(v.Period, ShouldEqual, "2026-10-19")
				So(v.Claimants[0].Claimant, ShouldEqual, "0xaa")
				So(v.Claimants[1].TotalClaimedInPeriod, ShouldEqual, "0.5")
				So(v.Origins[0].Origin, ShouldEqual, "10.0.0.1")
				So(v.Pending[0].CorrelationID, ShouldEqual, "p1")
				So(v.Pending[0].Profile, ShouldEqual, "withdraw")
			})

			Convey("Then a never-claimed record omits its timestamp", func() {
				So(v.Claimants[0].LastClaimAt, ShouldBeNil)
				raw, err := json.Marshal(v.Claimants[0])
				So(err, ShouldBeNil)
				So(string(raw), ShouldNotContainSubstring, "lastClaimAt")
			})
		})
	})

	Convey("Given an empty snapshot", t, func() {
		v := types.FromSnapshot(model.Snapshot{})

		Convey("Then lists encode as empty arrays, not null", func() {
			raw, err := json.Marshal(v)
			So(err, ShouldBeNil)
			So(string(raw), ShouldContainSubstring, `"claimants":[]`)
		})
	})
}
