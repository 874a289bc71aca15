package claimload

import (
	"time"

	"github.com/shopspring/decimal"
	vegeta "github.com/tsenart/vegeta/v12/lib"
)

// Config holds configuration for a load run.
type Config struct {
	BaseURL         string          // Base URL of the service
	Wallets         int             // Number of distinct claimant wallets
	ClaimsPerWallet int             // Concurrent claims fired per wallet
	Score           string          // Score submitted with every claim
	PeriodCap       decimal.Decimal // Cap the service is expected to enforce
	Workers         int             // Number of concurrent workers
	Rate            int             // Claims fired per second
	Timeout         time.Duration   // HTTP request timeout
	Verbose         bool            // Log every response
}

// Claim is one request to submit.
type Claim struct {
	Wallet string `json:"wallet"`
	Score  string `json:"score"`
	// Origin is sent as X-Forwarded-For so each claim passes the origin
	// throttle and only the per-wallet checks decide.
	Origin string `json:"-"`
}

// Outcome is the body of a /claim response.
type Outcome struct {
	Status        string `json:"status"`
	TxHash        string `json:"txHash"`
	Amount        string `json:"amount"`
	Code          string `json:"code"`
	CorrelationID string `json:"correlationId"`
}

// ClaimantRecord mirrors one claimant in /claim-log.
type ClaimantRecord struct {
	Claimant             string `json:"claimant"`
	TotalClaimedInPeriod string `json:"totalClaimedInPeriod"`
}

// ClaimLog mirrors the /claim-log body.
type ClaimLog struct {
	Period    string           `json:"period"`
	Claimants []ClaimantRecord `json:"claimants"`
}

// Stats holds run statistics.
type Stats struct {
	Submitted int
	Settled   int
	Rejected  int
	Failed    int
	Pending   int
	Errors    int
	// Reasons counts rejections and failures by code.
	Reasons map[string]int
	// SettledAmount sums confirmed amounts per wallet.
	SettledAmount map[string]decimal.Decimal
	Latencies     vegeta.LatencyMetrics
	StartTime     time.Time
	EndTime       time.Time
	Duration      time.Duration
}
