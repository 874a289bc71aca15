package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Paced limits how fast transfers are handed to the wrapped Transmitter, so
// a burst of admitted claims does not flood the node with transactions.
type Paced struct {
	next    Transmitter
	limiter *rate.Limiter
}

// NewPaced wraps next with a token bucket of rps transfers per second and the
// given burst. A non-positive rps disables pacing.
func NewPaced(next Transmitter, rps float64, burst int) *Paced {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Paced{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Transfer implements Transmitter. A transfer that cannot get a slot before
// ctx expires is never sent and fails as a network error.
func (p *Paced) Transfer(ctx context.Context, to string, amount decimal.Decimal) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("pacing: %w", errors.Join(ErrNetwork, err))
	}
	return p.next.Transfer(ctx, to, amount)
}

// BalanceOf implements Transmitter without pacing.
func (p *Paced) BalanceOf(ctx context.Context, owner string) (decimal.Decimal, error) {
	return p.next.BalanceOf(ctx, owner)
}
