package policy_test

import (
	"testing"
	"time"

	"github.com/okian/claimgate/internal/domain/model"
	"github.com/okian/claimgate/internal/domain/policy"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"
)

const wallet = "0x52908400098527886E0F7030069857D2E4169EE7"

func claimProfile() policy.Profile {
	return policy.Profile{
		Name:           model.ProfileClaim,
		OriginWindow:   time.Minute,
		Cooldown:       time.Hour,
		PeriodCap:      decimal.NewFromInt(1),
		ConversionRate: decimal.RequireFromString("0.0001"),
	}
}

func TestValidate(t *testing.T) {
	Convey("Given structural validation", t, func() {
		Convey("When the request is well formed", func() {
			v, reason := policy.Validate(policy.Request{Claimant: wallet, Origin: " 10.0.0.1 ", Score: "1500"})

			Convey("Then the claimant is normalized and the score parsed", func() {
				So(reason, ShouldEqual, model.ReasonNone)
				So(v.Claimant, ShouldEqual, "0x52908400098527886e0f7030069857d2e4169ee7")
				So(v.Origin, ShouldEqual, "10.0.0.1")
				So(v.Score.String(), ShouldEqual, "1500")
			})
		})

		Convey("When fields are missing or malformed", func() {
			cases := []policy.Request{
				{Claimant: "", Score: "10"},
				{Claimant: "not-an-address", Score: "10"},
				{Claimant: wallet, Score: ""},
				{Claimant: wallet, Score: "abc"},
				{Claimant: wallet, Score: "-1"},
				{Claimant: wallet, Score: "NaN"},
				{Claimant: wallet, Score: "Inf"},
				{Claimant: wallet, Score: "1" + string(make([]byte, 80))},
			}

			Convey("Then each is INVALID_REQUEST", func() {
				for _, c := range cases {
					_, reason := policy.Validate(c)
					So(reason, ShouldEqual, model.ReasonInvalidRequest)
				}
			})
		})

		Convey("When the score is zero", func() {
			_, reason := policy.Validate(policy.Request{Claimant: wallet, Score: "0"})

			Convey("Then it is structurally valid", func() {
				So(reason, ShouldEqual, model.ReasonNone)
			})
		})
	})
}

func TestConvert(t *testing.T) {
	Convey("Given the conversion to four fractional digits", t, func() {
		rate := decimal.RequireFromString("0.0001")

		Convey("Then exact conversions keep four places", func() {
			So(policy.Convert(decimal.NewFromInt(10000), rate).StringFixed(policy.AmountPlaces), ShouldEqual, "1.0000")
			So(policy.Convert(decimal.NewFromInt(1), rate).StringFixed(policy.AmountPlaces), ShouldEqual, "0.0001")
		})

		Convey("Then halves round away from zero", func() {
			So(policy.Convert(decimal.RequireFromString("0.5"), rate).String(), ShouldEqual, "0.0001")
			So(policy.Convert(decimal.RequireFromString("1.5"), rate).String(), ShouldEqual, "0.0002")
			So(policy.Convert(decimal.RequireFromString("2.5"), rate).String(), ShouldEqual, "0.0003")
		})

		Convey("Then values below half round down", func() {
			So(policy.Convert(decimal.RequireFromString("0.49"), rate).String(), ShouldEqual, "0")
			So(policy.Convert(decimal.RequireFromString("12345.6789"), rate).String(), ShouldEqual, "1.2346")
		})
	})
}

func TestEvaluateOrder(t *testing.T) {
	Convey("Given the ordered admission checks", t, func() {
		p := claimProfile()
		now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
		req := policy.Request{Claimant: wallet, Origin: "10.0.0.1", Score: "5000"}

		Convey("When every check passes", func() {
			d := policy.Evaluate(p, policy.Input{Request: req, Now: now})

			Convey("Then the request is accepted with the converted amount", func() {
				So(d.Accepted(), ShouldBeTrue)
				So(d.Amount.StringFixed(4), ShouldEqual, "0.5000")
				So(d.TouchOrigin, ShouldBeTrue)
			})
		})

		Convey("When validation fails and every other check would fail too", func() {
			d := policy.Evaluate(p, policy.Input{
				Request:  policy.Request{Claimant: "bad", Origin: "10.0.0.1", Score: "5000"},
				Origin:   model.OriginRecord{LastRequestAt: now},
				Claimant: model.ClaimantRecord{LastClaimAt: now},
				Now:      now,
			})

			Convey("Then validation wins and the origin is not touched", func() {
				So(d.Reason, ShouldEqual, model.ReasonInvalidRequest)
				So(d.TouchOrigin, ShouldBeFalse)
			})
		})

		Convey("When the origin was seen inside the window", func() {
			d := policy.Evaluate(p, policy.Input{
				Request:  req,
				Origin:   model.OriginRecord{LastRequestAt: now.Add(-20 * time.Second)},
				Claimant: model.ClaimantRecord{LastClaimAt: now},
				Now:      now,
			})

			Convey("Then it is throttled before cooldown is considered", func() {
				So(d.Reason, ShouldEqual, model.ReasonOriginThrottled)
				So(d.TouchOrigin, ShouldBeFalse)
				So(d.RetryAfter, ShouldEqual, 40*time.Second)
			})
		})

		Convey("When the origin passes but the claimant is cooling down", func() {
			d := policy.Evaluate(p, policy.Input{
				Request:  req,
				Origin:   model.OriginRecord{LastRequestAt: now.Add(-2 * time.Minute)},
				Claimant: model.ClaimantRecord{LastClaimAt: now.Add(-50 * time.Minute)},
				Now:      now,
			})

			Convey("Then cooldown rejects but the origin must still be recorded", func() {
				So(d.Reason, ShouldEqual, model.ReasonCooldownActive)
				So(d.TouchOrigin, ShouldBeTrue)
				So(d.RetryAfter, ShouldEqual, 10*time.Minute)
			})
		})

		Convey("When the request carries no origin", func() {
			d := policy.Evaluate(p, policy.Input{Request: policy.Request{Claimant: wallet, Score: "1"}, Now: now})

			Convey("Then the throttle is skipped", func() {
				So(d.Accepted(), ShouldBeTrue)
				So(d.TouchOrigin, ShouldBeFalse)
			})
		})
	})
}

func TestEvaluateCap(t *testing.T) {
	Convey("Given a period cap of 1 and a rate of 0.0001", t, func() {
		p := claimProfile()
		now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

		Convey("When a score of 10000 is claimed on a fresh record", func() {
			d := policy.Evaluate(p, policy.Input{Request: policy.Request{Claimant: wallet, Score: "10000"}, Now: now})

			Convey("Then exactly reaching the cap is allowed", func() {
				So(d.Accepted(), ShouldBeTrue)
				So(d.Amount.StringFixed(4), ShouldEqual, "1.0000")
			})
		})

		Convey("When a score of 1 follows a full cap", func() {
			d := policy.Evaluate(p, policy.Input{
				Request:  policy.Request{Claimant: wallet, Score: "1"},
				Claimant: model.ClaimantRecord{TotalClaimedInPeriod: decimal.NewFromInt(1)},
				Now:      now,
			})

			Convey("Then 1.0001 exceeds the cap", func() {
				So(d.Reason, ShouldEqual, model.ReasonPeriodCapExceeded)
				So(d.Amount.String(), ShouldEqual, "0.0001")
			})
		})
	})
}

func TestEvaluateZeroAmount(t *testing.T) {
	Convey("Given a score that rounds to nothing", t, func() {
		p := claimProfile()
		d := policy.Evaluate(p, policy.Input{
			Request: policy.Request{Claimant: wallet, Origin: "10.0.0.1", Score: "0.4"},
			Now:     time.Now(),
		})

		Convey("Then it is refused after the throttle was passed", func() {
			So(d.Reason, ShouldEqual, model.ReasonInvalidRequest)
			So(d.Amount.IsZero(), ShouldBeTrue)
			So(d.TouchOrigin, ShouldBeTrue)
		})
	})
}

func TestEvaluateCooldownBoundary(t *testing.T) {
	Convey("Given a claim at t=0 and a one hour cooldown", t, func() {
		p := claimProfile()
		t0 := time.Date(2026, 10, 19, 1, 0, 0, 0, time.UTC)
		rec := model.ClaimantRecord{LastClaimAt: t0, TotalClaimedInPeriod: decimal.RequireFromString("0.1")}
		req := policy.Request{Claimant: wallet, Score: "1000"}

		Convey("Then a retry after 50 minutes is rejected", func() {
			d := policy.Evaluate(p, policy.Input{Request: req, Claimant: rec, Now: t0.Add(3_000_000 * time.Millisecond)})
			So(d.Reason, ShouldEqual, model.ReasonCooldownActive)
		})

		Convey("Then a retry after 3600001ms is accepted", func() {
			d := policy.Evaluate(p, policy.Input{Request: req, Claimant: rec, Now: t0.Add(3_600_001 * time.Millisecond)})
			So(d.Accepted(), ShouldBeTrue)
		})
	})
}

func TestEvaluateIsPure(t *testing.T) {
	Convey("Given the same input evaluated concurrently", t, func() {
		p := claimProfile()
		in := policy.Input{Request: policy.Request{Claimant: wallet, Origin: "o", Score: "2500"}, Now: time.Unix(1_700_000_000, 0)}
		results := make(chan policy.Decision, 32)
		for i := 0; i < cap(results); i++ {
			go func() { results <- policy.Evaluate(p, in) }()
		}

		Convey("Then every result is identical", func() {
			for i := 0; i < cap(results); i++ {
				d := <-results
				So(d.Accepted(), ShouldBeTrue)
				So(d.Amount.String(), ShouldEqual, "0.25")
			}
		})
	})
}
