package claimload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/okian/claimgate/pkg/logger"
	"github.com/shopspring/decimal"
	vegeta "github.com/tsenart/vegeta/v12/lib"
)

// HTTPClient wraps http.Client with timeout
type HTTPClient struct {
	client *http.Client
}

// newHTTPClient creates a new HTTP client with timeout
func newHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{client: &http.Client{Timeout: timeout}}
}

// Get performs a GET request
func (c *HTTPClient) Get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.client.Do(req)
}

// readJSON decodes and closes the response body.
func readJSON(resp *http.Response, v any) error {
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// claimTargeter serves each claim exactly once, then reports no targets so
// the attack stops. The ref query parameter ties a result back to its claim.
func claimTargeter(baseURL string, claims []Claim) vegeta.Targeter {
	var (
		mu   sync.Mutex
		next int
	)
	return func(tgt *vegeta.Target) error {
		mu.Lock()
		defer mu.Unlock()
		if next >= len(claims) {
			return vegeta.ErrNoTargets
		}
		i := next
		next++
		body, err := json.Marshal(claims[i])
		if err != nil {
			return fmt.Errorf("marshal claim %d: %w", i, err)
		}
		*tgt = vegeta.Target{
			Method: http.MethodPost,
			URL:    baseURL + "/claim?ref=" + strconv.Itoa(i),
			Body:   body,
			Header: http.Header{
				"Content-Type":    []string{"application/json"},
				"X-Forwarded-For": []string{claims[i].Origin},
			},
		}
		return nil
	}
}

// submitClaims fires all claims through a vegeta attacker and tallies the
// outcomes per wallet.
func submitClaims(ctx context.Context, config *Config, claims []Claim, stats *Stats) {
	logger.Get().Info(ctx, "submitting claims", logger.Int("claims", len(claims)), logger.Int("workers", config.Workers))

	attacker := vegeta.NewAttacker(
		vegeta.Timeout(config.Timeout),
		vegeta.Workers(uint64(config.Workers)),
		vegeta.MaxWorkers(uint64(config.Workers)),
	)
	rate := vegeta.Rate{Freq: config.Rate, Per: time.Second}

	var latencies vegeta.Metrics
	results := attacker.Attack(claimTargeter(config.BaseURL, claims), rate, 0, "claims")
	for {
		select {
		case <-ctx.Done():
			attacker.Stop()
			for range results {
			}
			latencies.Close()
			stats.Latencies = latencies.Latencies
			return
		case res, ok := <-results:
			if !ok {
				latencies.Close()
				stats.Latencies = latencies.Latencies
				return
			}
			if res.Error == vegeta.ErrNoTargets.Error() {
				continue
			}
			latencies.Add(res)
			tally(ctx, config, claims, res, stats)
		}
	}
}

// tally records one attack result.
func tally(ctx context.Context, config *Config, claims []Claim, res *vegeta.Result, stats *Stats) {
	stats.Submitted++
	claim, ok := claimFor(res.URL, claims)
	if !ok || res.Code == 0 {
		stats.Errors++
		logger.Get().Warn(ctx, "claim request failed", logger.String("url", res.URL), logger.String("error", res.Error))
		return
	}
	var out Outcome
	if err := json.Unmarshal(res.Body, &out); err != nil {
		stats.Errors++
		logger.Get().Warn(ctx, "undecodable claim response", logger.Int("code", int(res.Code)), logger.Error(err))
		return
	}
	if config.Verbose {
		logger.Get().Info(ctx, "claim answered",
			logger.String("wallet", claim.Wallet),
			logger.String("status", out.Status),
			logger.String("code", out.Code),
			logger.Duration("latency", res.Latency))
	}
	switch out.Status {
	case statusSuccess:
		amount, err := decimal.NewFromString(out.Amount)
		if err != nil {
			stats.Errors++
			return
		}
		stats.Settled++
		stats.SettledAmount[claim.Wallet] = stats.SettledAmount[claim.Wallet].Add(amount)
	case statusPending:
		stats.Pending++
	case statusFailed:
		stats.Failed++
		stats.Reasons[out.Code]++
	case statusRejected:
		stats.Rejected++
		stats.Reasons[out.Code]++
	default:
		stats.Errors++
	}
}

func claimFor(rawURL string, claims []Claim) (Claim, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Claim{}, false
	}
	i, err := strconv.Atoi(u.Query().Get("ref"))
	if err != nil || i < 0 || i >= len(claims) {
		return Claim{}, false
	}
	return claims[i], true
}

// fetchClaimLog reads the service records.
func fetchClaimLog(ctx context.Context, config *Config) (ClaimLog, error) {
	client := newHTTPClient(config.Timeout)
	resp, err := client.Get(ctx, config.BaseURL+"/claim-log")
	if err != nil {
		return ClaimLog{}, fmt.Errorf("failed to fetch claim log: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return ClaimLog{}, fmt.Errorf("claim log returned status %d", resp.StatusCode)
	}
	var log ClaimLog
	if err := readJSON(resp, &log); err != nil {
		return ClaimLog{}, err
	}
	return log, nil
}
