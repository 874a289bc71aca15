// Package reset starts a new accounting period at each daily boundary.
//
// A sweep zeroes every claimant's period total (LastClaimAt is kept, cooldown
// spans periods) and drops every origin record. The sweep runs under the
// store's global write lock, so all store access pauses for its duration; it
// is bounded by the record count and happens once a day.
package reset

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/claimgate/internal/adapters/repository"
	"github.com/okian/claimgate/internal/domain/clock"
	"github.com/okian/claimgate/pkg/logger"
	"github.com/okian/claimgate/pkg/metrics"
)

// Controller schedules and performs period resets.
type Controller struct {
	store  repository.Store
	clock  clock.Clock
	loc    *time.Location
	logger logger.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clock.Clock) Option {
	return func(r *Controller) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithLocation sets the timezone the daily boundary is computed in.
func WithLocation(loc *time.Location) Option {
	return func(r *Controller) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// WithLogger sets the controller logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Controller) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Controller over store. Defaults: wall clock, UTC.
func New(store repository.Store, opts ...Option) *Controller {
	r := &Controller{store: store, clock: clock.System{}, loc: time.UTC}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Get().Named("reset")
	}
	return r
}

// Period returns the label of the period containing now.
func (r *Controller) Period() string {
	return clock.PeriodLabel(r.clock.Now(), r.loc)
}

// ResetNow sweeps unconditionally and records the current period label.
func (r *Controller) ResetNow(ctx context.Context) error {
	return r.sweep(ctx, r.Period())
}

// CatchUp sweeps when the store was last reset for an older period, e.g.
// because the process was down across a boundary. A store that never saw a
// reset (empty label) is stamped with the current period without sweeping.
func (r *Controller) CatchUp(ctx context.Context) error {
	current := r.Period()
	stored := r.store.Period(ctx)
	switch {
	case stored == current:
		return nil
	case stored == "":
		if err := r.store.ResetAll(ctx, current); err != nil {
			return fmt.Errorf("stamp period: %w", err)
		}
		return nil
	default:
		r.logger.Info(ctx, "period boundary crossed while stopped",
			logger.String("stored", stored), logger.String("current", current))
		return r.sweep(ctx, current)
	}
}

// Run sweeps at every boundary until ctx is cancelled. A failed sweep is
// retried after retryDelay.
func (r *Controller) Run(ctx context.Context) {
	const retryDelay = time.Minute
	for {
		now := r.clock.Now()
		next := clock.NextBoundary(now, r.loc)
		r.logger.Debug(ctx, "next period boundary", logger.Time("at", next))

		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(next.Sub(now)):
		}

		if err := r.sweep(ctx, clock.PeriodLabel(next, r.loc)); err != nil {
			r.logger.Error(ctx, "period reset failed, retrying", logger.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-r.clock.After(retryDelay):
			}
			if err := r.CatchUp(ctx); err != nil {
				r.logger.Error(ctx, "period reset retry failed", logger.Error(err))
			}
		}
	}
}

func (r *Controller) sweep(ctx context.Context, period string) error {
	start := time.Now()
	if err := r.store.ResetAll(ctx, period, repository.KindClaimant, repository.KindOrigin); err != nil {
		return fmt.Errorf("reset period %s: %w", period, err)
	}
	elapsed := time.Since(start)
	metrics.RecordPeriodReset(elapsed)
	r.logger.Info(ctx, "period reset", logger.String("period", period), logger.Duration("took", elapsed))
	return nil
}
