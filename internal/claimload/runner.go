// Package claimload drives concurrent claims against a running service and
// checks the resulting records.
package claimload

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/claimgate/pkg/logger"
	"github.com/shopspring/decimal"
)

// Run executes the complete load run.
func Run(ctx context.Context, config *Config) (*Stats, error) {
	stats := &Stats{
		StartTime:     time.Now(),
		Reasons:       make(map[string]int),
		SettledAmount: make(map[string]decimal.Decimal),
	}

	logger.Get().Info(ctx, "starting claim load run",
		logger.String("baseURL", config.BaseURL),
		logger.Int("wallets", config.Wallets),
		logger.Int("claimsPerWallet", config.ClaimsPerWallet),
		logger.Int("workers", config.Workers),
		logger.Int("rate", config.Rate),
		logger.String("timeout", config.Timeout.String()))

	if err := checkServiceHealth(ctx, config); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	claims, err := generateClaims(ctx, config)
	if err != nil {
		return stats, fmt.Errorf("claim generation failed: %w", err)
	}

	submitClaims(ctx, config, claims, stats)

	log, err := fetchClaimLog(ctx, config)
	if err != nil {
		return stats, err
	}
	if err := verifyResults(ctx, config, log, stats); err != nil {
		return stats, fmt.Errorf("result verification failed: %w", err)
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)

	logger.Get().Info(ctx, "load run completed successfully")
	return stats, nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, config *Config) error {
	client := newHTTPClient(config.Timeout)
	resp, err := client.Get(ctx, config.BaseURL+"/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	_ = resp.Body.Close()

	// Accept any 200 response as healthy (the service returns Prometheus metrics)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}
	return nil
}

// displayFinalStats logs the final run statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var settledRate, claimsPerSecond float64
	if stats.Submitted > 0 {
		settledRate = float64(stats.Settled) / float64(stats.Submitted) * PercentageMultiplier
	}
	if stats.Duration > 0 {
		claimsPerSecond = float64(stats.Submitted) / stats.Duration.Seconds()
	}

	logger.Get().Info(ctx, "final statistics",
		logger.Int("submitted", stats.Submitted),
		logger.Int("settled", stats.Settled),
		logger.Int("rejected", stats.Rejected),
		logger.Int("failed", stats.Failed),
		logger.Int("pending", stats.Pending),
		logger.Int("errors", stats.Errors),
		logger.Any("reasons", stats.Reasons),
		logger.String("duration", stats.Duration.String()),
		logger.Duration("p50", stats.Latencies.P50),
		logger.Duration("p95", stats.Latencies.P95),
		logger.Duration("p99", stats.Latencies.P99),
		logger.Float64("settledRate", settledRate),
		logger.Float64("claimsPerSecond", claimsPerSecond))
}
