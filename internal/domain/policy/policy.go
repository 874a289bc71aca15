// Package policy decides whether a disbursement request may proceed.
//
// Evaluate is a pure function: it reads the records it is handed and the
// time it is told, and never touches storage. Checks run in a fixed order and
// the first failing check decides the reason, so rejections are reported
// deterministically.
package policy

import (
	"strings"
	"time"

	"github.com/okian/claimgate/internal/domain/identity"
	"github.com/okian/claimgate/internal/domain/model"
	"github.com/shopspring/decimal"
)

// AmountPlaces is the number of fractional digits kept on converted amounts.
const AmountPlaces = 4

// maxScoreLen bounds the textual score so huge exponents are refused early.
const maxScoreLen = 64

// Profile holds the constants for one entry point.
type Profile struct {
	Name model.Profile
	// OriginWindow is the minimum gap between two requests from one origin.
	OriginWindow time.Duration
	// Cooldown is the minimum gap between two settled claims of one claimant.
	Cooldown time.Duration
	// PeriodCap bounds the cumulative amount per claimant per period.
	PeriodCap decimal.Decimal
	// ConversionRate turns the submitted score into a token amount.
	ConversionRate decimal.Decimal
}

// Request is the caller-supplied part of a disbursement.
type Request struct {
	Claimant string
	Origin   string
	// Score is the textual score (claim) or amount (withdraw).
	Score string
}

// Validated is a structurally valid request.
type Validated struct {
	Claimant string
	Origin   string
	Score    decimal.Decimal
}

// Input is everything Evaluate needs.
type Input struct {
	Request  Request
	Claimant model.ClaimantRecord
	Origin   model.OriginRecord
	Now      time.Time
}

// Decision is the result of Evaluate.
type Decision struct {
	Reason model.Reason
	// Amount is set once conversion ran.
	Amount decimal.Decimal
	// TouchOrigin is true when the request passed the origin throttle, in
	// which case the origin timestamp must be recorded whatever the outcome.
	TouchOrigin bool
	// RetryAfter hints when a throttled or cooling-down caller may retry.
	RetryAfter time.Duration
	Validated  Validated
}

// Accepted reports whether every check passed.
func (d Decision) Accepted() bool { return d.Reason == model.ReasonNone }

// Validate runs the structural checks and normalizes the claimant.
func Validate(req Request) (Validated, model.Reason) {
	claimant, err := identity.NormalizeAddress(req.Claimant)
	if err != nil {
		return Validated{}, model.ReasonInvalidRequest
	}
	score, ok := parseScore(req.Score)
	if !ok {
		return Validated{}, model.ReasonInvalidRequest
	}
	return Validated{
		Claimant: claimant,
		Origin:   strings.TrimSpace(req.Origin),
		Score:    score,
	}, model.ReasonNone
}

func parseScore(raw string) (decimal.Decimal, bool) {
	s := strings.TrimSpace(raw)
	if s == "" || len(s) > maxScoreLen {
		return decimal.Decimal{}, false
	}
	// NewFromString refuses NaN and Inf spellings, which keeps scores finite.
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.Decimal{}, false
	}
	return d, true
}

// Convert applies the conversion rate and rounds half away from zero to
// AmountPlaces digits.
func Convert(score, rate decimal.Decimal) decimal.Decimal {
	return score.Mul(rate).Round(AmountPlaces)
}

// Evaluate runs the ordered admission checks.
func Evaluate(p Profile, in Input) Decision {
	v, reason := Validate(in.Request)
	if reason != model.ReasonNone {
		return Decision{Reason: reason}
	}
	d := Decision{Validated: v}

	if v.Origin != "" {
		if wait := remaining(in.Origin.LastRequestAt, in.Now, p.OriginWindow); wait > 0 {
			d.Reason = model.ReasonOriginThrottled
			d.RetryAfter = wait
			return d
		}
		d.TouchOrigin = true
	}

	if wait := remaining(in.Claimant.LastClaimAt, in.Now, p.Cooldown); wait > 0 {
		d.Reason = model.ReasonCooldownActive
		d.RetryAfter = wait
		return d
	}

	d.Amount = Convert(v.Score, p.ConversionRate)

	// Nothing to disburse once rounded.
	if !d.Amount.IsPositive() {
		d.Reason = model.ReasonInvalidRequest
		return d
	}

	// Strictly greater: reaching the cap exactly is allowed.
	if in.Claimant.TotalClaimedInPeriod.Add(d.Amount).GreaterThan(p.PeriodCap) {
		d.Reason = model.ReasonPeriodCapExceeded
		return d
	}

	return d
}

// remaining returns how much of window is left since last, or zero when the
// window has elapsed, is disabled, or last was never set.
func remaining(last, now time.Time, window time.Duration) time.Duration {
	if window <= 0 || last.IsZero() {
		return 0
	}
	if elapsed := now.Sub(last); elapsed < window {
		return window - elapsed
	}
	return 0
}
