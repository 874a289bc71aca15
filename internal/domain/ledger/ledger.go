// Package ledger commits confirmed disbursements to claimant records.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/okian/claimgate/internal/adapters/repository"
	"github.com/okian/claimgate/internal/domain/model"
	"github.com/okian/claimgate/pkg/logger"
	"github.com/okian/claimgate/pkg/metrics"
	"github.com/shopspring/decimal"
)

// ErrEmptyTxRef is returned when an entry carries no transaction reference.
var ErrEmptyTxRef = errors.New("ledger: empty tx ref")

// Publisher receives committed events for best-effort mirroring.
type Publisher interface {
	Publish(ctx context.Context, ev model.DisbursementEvent) error
}

// Entry is one confirmed transfer to account for.
type Entry struct {
	Profile  model.Profile
	Claimant string
	Origin   string
	Amount   decimal.Decimal
	TxRef    string
	Score    string
	At       time.Time
}

// Ledger applies entries to the store. It is safe for concurrent use; the
// store serializes the read-modify-write of each record.
type Ledger struct {
	store     repository.Store
	publisher Publisher
	logger    logger.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithPublisher mirrors committed events through p.
func WithPublisher(p Publisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

// WithLogger sets the ledger logger.
func WithLogger(lg logger.Logger) Option {
	return func(l *Ledger) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// New creates a Ledger over store.
func New(store repository.Store, opts ...Option) *Ledger {
	l := &Ledger{store: store}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = logger.Get().Named("ledger")
	}
	return l
}

// Commit records e against its claimant: LastClaimAt moves to e.At, the
// amount is added to the period total and e.TxRef becomes the last reference.
// Committing the same TxRef twice is a no-op reported as applied=false.
//
// A failed record write returns an error wrapping model.ErrStoreIO and leaves
// the record untouched. Once the record is durable the commit stands; a failed
// event append is logged and counted but not returned.
func (l *Ledger) Commit(ctx context.Context, e Entry) (bool, error) {
	if e.TxRef == "" {
		return false, ErrEmptyTxRef
	}

	_, applied, err := l.store.ApplyClaimant(ctx, e.Claimant, func(cur model.ClaimantRecord) (model.ClaimantRecord, bool, error) {
		if cur.LastTxRef == e.TxRef {
			return cur, false, nil
		}
		cur.LastClaimAt = e.At
		cur.TotalClaimedInPeriod = cur.TotalClaimedInPeriod.Add(e.Amount)
		cur.LastTxRef = e.TxRef
		return cur, true, nil
	})
	if err != nil {
		// The transfer went out but was not accounted: the tx ref must be visible.
		l.logger.Error(ctx, "ledger commit failed after confirmed transfer",
			logger.String("claimant", e.Claimant),
			logger.String("tx", e.TxRef),
			logger.String("amount", e.Amount.String()),
			logger.Error(err),
		)
		return false, fmt.Errorf("commit %s: %w", e.TxRef, errors.Join(model.ErrStoreIO, err))
	}
	if !applied {
		metrics.RecordLedgerReplay()
		l.logger.Info(ctx, "ledger replay ignored", logger.String("claimant", e.Claimant), logger.String("tx", e.TxRef))
		return false, nil
	}

	ev := model.DisbursementEvent{
		ID:       uuid.NewString(),
		Profile:  e.Profile,
		Claimant: e.Claimant,
		Origin:   e.Origin,
		Amount:   e.Amount,
		TxRef:    e.TxRef,
		Score:    e.Score,
		At:       e.At,
	}
	if err := l.store.AppendEvent(ctx, ev); err != nil {
		metrics.RecordEventLogError()
		l.logger.Error(ctx, "event append failed, record already committed",
			logger.String("claimant", e.Claimant),
			logger.String("tx", e.TxRef),
			logger.Error(err),
		)
	}

	amount, _ := e.Amount.Float64()
	metrics.RecordDisbursed(string(e.Profile), amount)

	if l.publisher != nil {
		if err := l.publisher.Publish(ctx, ev); err != nil {
			l.logger.Warn(ctx, "event mirror enqueue failed", logger.String("tx", e.TxRef), logger.Error(err))
		}
	}

	l.logger.Debug(ctx, "ledger committed",
		logger.String("claimant", e.Claimant),
		logger.String("tx", e.TxRef),
		logger.String("amount", e.Amount.String()),
	)
	return true, nil
}
