package clock_test

import (
	"testing"
	"time"

	"github.com/okian/claimgate/internal/domain/clock"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManualClock(t *testing.T) {
	Convey("Given a manual clock", t, func() {
		start := time.Date(2026, 10, 19, 23, 0, 0, 0, time.UTC)
		c := clock.NewManual(start)

		Convey("When advancing it", func() {
			c.Advance(90 * time.Minute)

			Convey("Then Now moves by the same amount", func() {
				So(c.Now(), ShouldEqual, start.Add(90*time.Minute))
			})
		})

		Convey("When waiting with After", func() {
			ch := c.After(time.Hour)

			Convey("Then nothing fires before the deadline", func() {
				c.Advance(59 * time.Minute)
				fired := false
				select {
				case <-ch:
					fired = true
				default:
				}
				So(fired, ShouldBeFalse)
				So(c.Waiters(), ShouldEqual, 1)
			})

			Convey("Then it fires once the deadline is reached", func() {
				c.Advance(time.Hour)
				fired := <-ch
				So(fired, ShouldEqual, start.Add(time.Hour))
				So(c.Waiters(), ShouldEqual, 0)
			})
		})

		Convey("When After is given a non-positive duration", func() {
			ch := c.After(0)

			Convey("Then it fires immediately", func() {
				So(<-ch, ShouldEqual, start)
			})
		})
	})
}

func TestPeriodBoundaries(t *testing.T) {
	Convey("Given a fixed reference timezone", t, func() {
		loc := time.FixedZone("UTC+2", 2*60*60)
		ts := time.Date(2026, 10, 19, 21, 30, 0, 0, time.UTC) // 23:30 local

		Convey("Then the period starts at local midnight", func() {
			So(clock.PeriodStart(ts, loc).Equal(time.Date(2026, 10, 19, 0, 0, 0, 0, loc)), ShouldBeTrue)
		})

		Convey("Then the next boundary is the following local midnight", func() {
			next := clock.NextBoundary(ts, loc)
			So(next.Equal(time.Date(2026, 10, 20, 0, 0, 0, 0, loc)), ShouldBeTrue)
			So(next.Sub(ts), ShouldEqual, 30*time.Minute)
		})

		Convey("Then the label follows the local calendar day", func() {
			So(clock.PeriodLabel(ts, loc), ShouldEqual, "2026-10-19")
			So(clock.PeriodLabel(ts.Add(31*time.Minute), loc), ShouldEqual, "2026-10-20")
		})

		Convey("Then a time exactly on the boundary belongs to the new period", func() {
			b := time.Date(2026, 10, 20, 0, 0, 0, 0, loc)
			So(clock.NextBoundary(b, loc).Equal(b.AddDate(0, 0, 1)), ShouldBeTrue)
		})
	})
}
