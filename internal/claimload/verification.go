package claimload

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/claimgate/pkg/logger"
	"github.com/shopspring/decimal"
)

// ErrInvariant reports records that break the per-period accounting.
var ErrInvariant = errors.New("accounting invariant violated")

// verifyResults checks that no wallet went over the cap and that the
// recorded totals match what the service reported as settled.
func verifyResults(ctx context.Context, config *Config, log ClaimLog, stats *Stats) error {
	logger.Get().Info(ctx, "verifying results", logger.String("period", log.Period))

	recorded := make(map[string]decimal.Decimal, len(log.Claimants))
	for _, c := range log.Claimants {
		total, err := decimal.NewFromString(c.TotalClaimedInPeriod)
		if err != nil {
			return fmt.Errorf("%w: %s has unreadable total %q", ErrInvariant, c.Claimant, c.TotalClaimedInPeriod)
		}
		recorded[c.Claimant] = total
	}

	var errs []error
	for wallet, settled := range stats.SettledAmount {
		total := recorded[wallet]
		if total.GreaterThan(config.PeriodCap) {
			errs = append(errs, fmt.Errorf("%w: %s total %s exceeds cap %s", ErrInvariant, wallet, total, config.PeriodCap))
		}
		// Pending transfers may settle later, so only a shortfall is a defect.
		if stats.Pending == 0 && !total.Equal(settled) {
			errs = append(errs, fmt.Errorf("%w: %s recorded %s but %s was reported settled", ErrInvariant, wallet, total, settled))
		}
		if stats.Pending > 0 && total.LessThan(settled) {
			errs = append(errs, fmt.Errorf("%w: %s recorded %s below settled %s", ErrInvariant, wallet, total, settled))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	logger.Get().Info(ctx, "result verification completed", logger.Int("wallets", len(stats.SettledAmount)))
	return nil
}
