// Package model contains domain models passed between layers.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Profile names a policy profile, i.e. an entry point with its own limits.
type Profile string

// Known profiles.
const (
	ProfileClaim    Profile = "claim"    // score-based reward claim
	ProfileWithdraw Profile = "withdraw" // direct-amount disbursement
)

// ClaimantRecord is the accounting state of one wallet.
type ClaimantRecord struct {
	LastClaimAt          time.Time
	TotalClaimedInPeriod decimal.Decimal
	// LastTxRef is the external reference of the most recent commit; a second
	// commit carrying the same reference is a replay.
	LastTxRef string
}

// OriginRecord tracks the last request seen from one origin.
type OriginRecord struct {
	LastRequestAt time.Time
}

// DisbursementEvent is the append-only log entry of a confirmed disbursement.
type DisbursementEvent struct {
	ID       string          `json:"id"`
	Profile  Profile         `json:"profile"`
	Claimant string          `json:"claimant"`
	Origin   string          `json:"origin,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
	TxRef    string          `json:"txRef"`
	Score    string          `json:"score,omitempty"`
	At       time.Time       `json:"at"`
}

// PendingTransfer is a transfer whose outcome the transmitter could not
// report. It waits for an operator to confirm or discard it.
type PendingTransfer struct {
	CorrelationID string
	Profile       Profile
	Claimant      string
	Origin        string
	Amount        decimal.Decimal
	Score         string
	TxRef         string
	Error         string
	At            time.Time
}

// Snapshot is a deep copy of the durable state.
type Snapshot struct {
	Period    string
	Claimants map[string]ClaimantRecord
	Origins   map[string]OriginRecord
	Pending   map[string]PendingTransfer
}
