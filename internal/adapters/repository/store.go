// Package repository defines the durable record store interface and errors.
package repository

import (
	"context"

	"github.com/okian/claimgate/internal/domain/model"
)

// Kind names a keyed collection in the store.
type Kind int

// Store collections.
const (
	KindClaimant Kind = iota + 1
	KindOrigin
)

// ApplyFunc computes the next claimant record from the current one. Returning
// changed=false leaves the record untouched and skips the durable write.
type ApplyFunc func(current model.ClaimantRecord) (next model.ClaimantRecord, changed bool, err error)

// Store persists claimant records, origin records, pending transfers and the
// disbursement event log. Every mutating call is durable before it returns
// nil; a failed write leaves the previous state in place.
type Store interface {
	// Claimant returns the record for key, or the zero record.
	Claimant(ctx context.Context, key string) (model.ClaimantRecord, error)
	// Origin returns the record for key, or the zero record.
	Origin(ctx context.Context, key string) (model.OriginRecord, error)
	// PutOrigin replaces the origin record for key.
	PutOrigin(ctx context.Context, key string, rec model.OriginRecord) error
	// ApplyClaimant atomically reads, transforms and writes one claimant record.
	ApplyClaimant(ctx context.Context, key string, fn ApplyFunc) (model.ClaimantRecord, bool, error)

	// ResetAll clears the given kinds and records period as current:
	// claimant totals drop to zero, origin records are removed.
	ResetAll(ctx context.Context, period string, kinds ...Kind) error
	// Period returns the label of the period the store was last reset for.
	Period(ctx context.Context) string

	// PutPending records a transfer with unknown outcome.
	PutPending(ctx context.Context, p model.PendingTransfer) error
	// Pending looks up a pending transfer by correlation id.
	Pending(ctx context.Context, id string) (model.PendingTransfer, bool, error)
	// PendingFor lists the pending transfers of one claimant.
	PendingFor(ctx context.Context, claimant string) ([]model.PendingTransfer, error)
	// DeletePending removes a pending transfer.
	DeletePending(ctx context.Context, id string) error

	// AppendEvent durably appends ev to the event log.
	AppendEvent(ctx context.Context, ev model.DisbursementEvent) error

	// Snapshot returns a deep copy of the records.
	Snapshot(ctx context.Context) (model.Snapshot, error)

	Close() error
}
