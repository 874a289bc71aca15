// Package chain moves tokens from the treasury to claimants.
//
// A Transmitter either reports a confirmed transfer with its tx reference, or
// fails with one of the sentinel errors below. ErrNetwork and
// ErrRejectedByChain are definite: no tokens moved. ErrTimeout, and any error
// that is none of the three, leave the outcome unknown.
package chain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Sentinel transmitter errors.
var (
	// ErrNetwork means the transfer was never broadcast.
	ErrNetwork = errors.New("chain: network failure before broadcast")
	// ErrRejectedByChain means the transfer was refused or reverted.
	ErrRejectedByChain = errors.New("chain: transfer rejected")
	// ErrTimeout means no confirmation arrived in time; the transfer may
	// still land.
	ErrTimeout = errors.New("chain: confirmation timed out")
)

// Transmitter sends token transfers.
type Transmitter interface {
	// Transfer sends amount to the address and waits for confirmation. On
	// ErrTimeout the returned txRef, when non-empty, names the broadcast
	// transaction.
	Transfer(ctx context.Context, to string, amount decimal.Decimal) (txRef string, err error)
	// BalanceOf reports the token balance of owner; an empty owner means the
	// treasury itself.
	BalanceOf(ctx context.Context, owner string) (decimal.Decimal, error)
}

// Definite reports whether err says for certain that no tokens moved.
func Definite(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrRejectedByChain)
}
