// Package service wires the store, the admission policy, the ledger, the
// reset controller and the transmitter into the disbursement orchestrator
// behind the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/okian/claimgate/internal/adapters/chain"
	"github.com/okian/claimgate/internal/adapters/eventsink"
	eventqueue "github.com/okian/claimgate/internal/adapters/mq/queue"
	workerpool "github.com/okian/claimgate/internal/adapters/mq/worker"
	"github.com/okian/claimgate/internal/adapters/repository"
	"github.com/okian/claimgate/internal/domain/clock"
	"github.com/okian/claimgate/internal/domain/dedupe"
	"github.com/okian/claimgate/internal/domain/keylock"
	"github.com/okian/claimgate/internal/domain/ledger"
	"github.com/okian/claimgate/internal/domain/model"
	"github.com/okian/claimgate/internal/domain/policy"
	"github.com/okian/claimgate/internal/domain/reset"
	"github.com/okian/claimgate/internal/domain/types"
	"github.com/okian/claimgate/pkg/logger"
	"github.com/okian/claimgate/pkg/metrics"
	"github.com/shopspring/decimal"
)

// Request is one disbursement request as received from a caller.
type Request struct {
	Profile  model.Profile
	Claimant string
	Origin   string
	// Score is the game score for claims and the token amount for withdrawals.
	Score string
}

// Resolution is an operator's verdict on a pending transfer.
type Resolution struct {
	Confirmed bool
	// TxRef overrides the reference recorded with the pending transfer.
	TxRef string
}

// Service is the disbursement orchestrator.
type Service struct {
	mu sync.RWMutex

	// Core components
	store       repository.Store
	ownsStore   bool
	ledger      *ledger.Ledger
	resetter    *reset.Controller
	transmitter chain.Transmitter
	clock       clock.Clock
	claimants   *keylock.Set
	origins     *keylock.Set

	// Event mirror
	sink       workerpool.Sink
	eventQueue *eventqueue.InMemoryQueue
	workerPool *workerpool.Pool

	// Configuration
	profiles        map[model.Profile]policy.Profile
	dataDir         string
	loc             *time.Location
	transferTimeout time.Duration
	busyPolicy      BusyPolicy
	busyWait        time.Duration
	workerCount     int
	queueSize       int
	dedupeSize      int

	// State
	started  bool
	inflight atomic.Int64
	cancel   context.CancelFunc
	bg       sync.WaitGroup

	logger logger.Logger
}

// DefaultProfiles returns the stock claim and withdraw limits: one request
// per origin per minute, one claim per hour, at most one token per day.
func DefaultProfiles() []policy.Profile {
	return []policy.Profile{
		{
			Name:           model.ProfileClaim,
			OriginWindow:   time.Minute,
			Cooldown:       time.Hour,
			PeriodCap:      decimal.NewFromInt(1),
			ConversionRate: decimal.New(1, -4),
		},
		{
			Name:           model.ProfileWithdraw,
			OriginWindow:   time.Minute,
			Cooldown:       time.Hour,
			PeriodCap:      decimal.NewFromInt(1),
			ConversionRate: decimal.NewFromInt(1),
		},
	}
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		clock:           clock.System{},
		claimants:       keylock.New(),
		origins:         keylock.New(),
		profiles:        make(map[model.Profile]policy.Profile),
		dataDir:         "data",
		loc:             time.UTC,
		transferTimeout: 2 * time.Minute,
		busyPolicy:      BusyWait,
		busyWait:        5 * time.Second,
		workerCount:     2,
		queueSize:       1024,
		dedupeSize:      10_000,
	}
	for _, p := range DefaultProfiles() {
		s.profiles[p.Name] = p
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start loads the store, catches up a missed period reset and starts the
// reset schedule and the event mirror.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.logger.Info(ctx, "starting disbursement service...")

	if s.transmitter == nil {
		s.transmitter = chain.NewSimulated()
		s.logger.Warn(ctx, "no transmitter configured, using the simulator")
	}
	// A store this service opened was closed by Stop and is opened afresh.
	if s.store == nil || s.ownsStore {
		fs, err := repository.OpenFileStore(ctx, s.dataDir, repository.WithLogger(s.logger.Named("repository")))
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		s.store = fs
		s.ownsStore = true
	}
	if s.sink == nil {
		s.sink = eventsink.NewLog(s.logger.Named("eventsink"))
	}

	s.eventQueue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.workerPool = workerpool.NewPool(s.workerCount, s.eventQueue, s.sink, dedupe.New(dedupe.WithMaxSize(s.dedupeSize)))
	s.ledger = ledger.New(s.store, ledger.WithPublisher(queuePublisher{s.eventQueue}), ledger.WithLogger(s.logger.Named("ledger")))
	s.resetter = reset.New(s.store,
		reset.WithClock(s.clock),
		reset.WithLocation(s.loc),
		reset.WithLogger(s.logger.Named("reset")),
	)
	if err := s.resetter.CatchUp(ctx); err != nil {
		return fmt.Errorf("catch up period reset: %w", err)
	}

	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.workerPool.Start(bg)
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		s.resetter.Run(bg)
	}()

	s.started = true
	s.logger.Info(ctx, "disbursement service started",
		logger.String("period", s.resetter.Period()),
		logger.String("timezone", s.loc.String()),
		logger.Duration("transferTimeout", s.transferTimeout),
		logger.String("busyPolicy", string(s.busyPolicy)),
		logger.Int("workers", s.workerCount),
	)
	return nil
}

// Stop drains the event mirror, stops the reset schedule and closes the store.
// A store opened by Start is reopened by the next Start; an injected store
// is closed and cannot serve another Start.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping disbursement service...")

	var errs []error
	if err := s.workerPool.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	s.cancel()
	s.bg.Wait()
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	s.started = false
	s.logger.Info(ctx, "disbursement service stopped")
	return errors.Join(errs...)
}

func (s *Service) running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// EvaluateAndDisburse runs one request through the state machine and returns
// its terminal outcome. The error is non-nil only when the service cannot
// take requests at all.
func (s *Service) EvaluateAndDisburse(ctx context.Context, req Request) (model.Outcome, error) {
	if !s.running() {
		return model.Outcome{}, ErrNotStarted
	}
	s.inflight.Add(1)
	metrics.AddInflightClaims(1)
	defer func() {
		s.inflight.Add(-1)
		metrics.AddInflightClaims(-1)
	}()

	out := s.disburse(ctx, req)
	metrics.RecordDecision(string(req.Profile), string(out.State), string(out.Reason))
	return out, nil
}

func (s *Service) disburse(ctx context.Context, req Request) model.Outcome {
	prof, ok := s.profiles[req.Profile]
	if !ok {
		return rejected(model.ReasonInvalidRequest)
	}

	// RECEIVED -> VALIDATED
	v, reason := policy.Validate(policy.Request{Claimant: req.Claimant, Origin: req.Origin, Score: req.Score})
	if reason != model.ReasonNone {
		return rejected(reason)
	}

	// Single flight per claimant from the snapshot read to the terminal write.
	unlock, err := s.lockClaimant(ctx, v.Claimant)
	if err != nil {
		s.logger.Debug(ctx, "claimant busy", logger.String("claimant", v.Claimant), logger.Error(err))
		return rejected(model.ReasonBusy)
	}
	defer unlock()

	// VALIDATED -> ADMITTED
	decision, err := s.admit(ctx, prof, req, v)
	if err != nil {
		s.logger.Error(ctx, "admission bookkeeping failed", logger.String("claimant", v.Claimant), logger.Error(err))
		return failed(model.ReasonStoreIO, decimal.Zero)
	}
	if !decision.Accepted() {
		out := rejected(decision.Reason)
		out.Amount = decision.Amount
		out.RetryAfter = decision.RetryAfter
		return out
	}

	// ADMITTED -> TRANSFER_PENDING. The transfer must not be abandoned just
	// because the caller went away.
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.transferTimeout)
	start := time.Now()
	txRef, err := s.transmitter.Transfer(tctx, v.Claimant, decision.Amount)
	cancel()
	latency := float64(time.Since(start).Milliseconds())

	switch {
	case err == nil:
		metrics.RecordTransferLatency("confirmed", latency)
	case chain.Definite(err):
		metrics.RecordTransferLatency("failed", latency)
		s.logger.Warn(ctx, "transfer failed",
			logger.String("claimant", v.Claimant),
			logger.String("amount", decision.Amount.String()),
			logger.Error(err),
		)
		return failed(model.ReasonTransferFailed, decision.Amount)
	default:
		metrics.RecordTransferLatency("unknown", latency)
		return s.recordUnknown(ctx, req, v, decision.Amount, txRef, err)
	}

	// CONFIRMED -> SETTLED
	cctx := context.WithoutCancel(ctx)
	if _, err := s.ledger.Commit(cctx, ledger.Entry{
		Profile:  prof.Name,
		Claimant: v.Claimant,
		Origin:   v.Origin,
		Amount:   decision.Amount,
		TxRef:    txRef,
		Score:    v.Score.String(),
		At:       s.clock.Now(),
	}); err != nil {
		out := failed(model.ReasonStoreIO, decision.Amount)
		out.TxRef = txRef
		return out
	}

	s.logger.Info(ctx, "disbursement settled",
		logger.String("profile", string(prof.Name)),
		logger.String("claimant", v.Claimant),
		logger.String("amount", decision.Amount.String()),
		logger.String("tx", txRef),
	)
	return model.Outcome{State: model.StateSettled, Amount: decision.Amount, TxRef: txRef}
}

// admit evaluates the policy against fresh records and records the origin
// when it passed the throttle, whatever the final decision.
func (s *Service) admit(ctx context.Context, prof policy.Profile, req Request, v policy.Validated) (policy.Decision, error) {
	in := policy.Input{Request: policy.Request{Claimant: req.Claimant, Origin: req.Origin, Score: req.Score}}

	if v.Origin != "" {
		unlockOrigin, err := s.origins.Lock(ctx, v.Origin)
		if err != nil {
			return policy.Decision{Reason: model.ReasonBusy}, nil
		}
		defer unlockOrigin()
		if in.Origin, err = s.store.Origin(ctx, v.Origin); err != nil {
			return policy.Decision{}, err
		}
	}

	rec, err := s.store.Claimant(ctx, v.Claimant)
	if err != nil {
		return policy.Decision{}, err
	}
	pending, err := s.store.PendingFor(ctx, v.Claimant)
	if err != nil {
		return policy.Decision{}, err
	}
	in.Claimant = withPending(rec, pending)
	in.Now = s.clock.Now()

	d := policy.Evaluate(prof, in)
	if d.TouchOrigin {
		if err := s.store.PutOrigin(ctx, v.Origin, model.OriginRecord{LastRequestAt: in.Now}); err != nil {
			return d, err
		}
	}
	return d, nil
}

// withPending charges transfers still awaiting reconciliation to the
// claimant: their amounts count toward the period cap and the latest one
// starts the cooldown. The stored record is left as is.
func withPending(rec model.ClaimantRecord, pending []model.PendingTransfer) model.ClaimantRecord {
	for _, p := range pending {
		rec.TotalClaimedInPeriod = rec.TotalClaimedInPeriod.Add(p.Amount)
		if p.At.After(rec.LastClaimAt) {
			rec.LastClaimAt = p.At
		}
	}
	return rec
}

func (s *Service) lockClaimant(ctx context.Context, claimant string) (func(), error) {
	if s.busyPolicy == BusyReject {
		return s.claimants.TryLock(claimant)
	}
	wctx, cancel := context.WithTimeout(ctx, s.busyWait)
	defer cancel()
	return s.claimants.Lock(wctx, claimant)
}

// recordUnknown parks a transfer whose outcome could not be determined.
func (s *Service) recordUnknown(ctx context.Context, req Request, v policy.Validated, amount decimal.Decimal, txRef string, cause error) model.Outcome {
	p := model.PendingTransfer{
		CorrelationID: uuid.NewString(),
		Profile:       req.Profile,
		Claimant:      v.Claimant,
		Origin:        v.Origin,
		Amount:        amount,
		Score:         v.Score.String(),
		TxRef:         txRef,
		Error:         cause.Error(),
		At:            s.clock.Now(),
	}
	s.logger.Warn(ctx, "transfer outcome unknown, awaiting reconciliation",
		logger.String("correlationId", p.CorrelationID),
		logger.String("claimant", p.Claimant),
		logger.String("amount", amount.String()),
		logger.String("tx", txRef),
		logger.Error(cause),
	)
	if err := s.store.PutPending(context.WithoutCancel(ctx), p); err != nil {
		s.logger.Error(ctx, "could not persist pending transfer",
			logger.String("correlationId", p.CorrelationID),
			logger.String("tx", txRef),
			logger.Error(err),
		)
	}
	return model.Outcome{
		State:         model.StateUnknown,
		Reason:        model.ReasonTransferUnknown,
		Amount:        amount,
		TxRef:         txRef,
		CorrelationID: p.CorrelationID,
	}
}

// ResolvePending settles or discards a transfer left in UNKNOWN. Confirming
// commits it through the ledger, so resolving the same transfer twice is safe.
func (s *Service) ResolvePending(ctx context.Context, correlationID string, res Resolution) (model.Outcome, error) {
	if !s.running() {
		return model.Outcome{}, ErrNotStarted
	}
	p, ok, err := s.store.Pending(ctx, correlationID)
	if err != nil {
		return model.Outcome{}, fmt.Errorf("lookup pending %s: %w", correlationID, err)
	}
	if !ok {
		return model.Outcome{}, ErrPendingNotFound
	}

	unlock, err := s.claimants.Lock(ctx, p.Claimant)
	if err != nil {
		return model.Outcome{}, fmt.Errorf("lock claimant: %w", err)
	}
	defer unlock()

	// A concurrent resolve may have settled it while we waited.
	if p, ok, err = s.store.Pending(ctx, correlationID); err != nil {
		return model.Outcome{}, fmt.Errorf("lookup pending %s: %w", correlationID, err)
	}
	if !ok {
		return model.Outcome{}, ErrPendingNotFound
	}

	out := model.Outcome{State: model.StateFailed, Reason: model.ReasonTransferFailed, Amount: p.Amount, CorrelationID: correlationID}
	if res.Confirmed {
		txRef := res.TxRef
		if txRef == "" {
			txRef = p.TxRef
		}
		if txRef == "" {
			return model.Outcome{}, ErrMissingTxRef
		}
		if _, err := s.ledger.Commit(ctx, ledger.Entry{
			Profile:  p.Profile,
			Claimant: p.Claimant,
			Origin:   p.Origin,
			Amount:   p.Amount,
			TxRef:    txRef,
			Score:    p.Score,
			At:       p.At,
		}); err != nil {
			return model.Outcome{}, err
		}
		out = model.Outcome{State: model.StateSettled, Amount: p.Amount, TxRef: txRef, CorrelationID: correlationID}
	}

	if err := s.store.DeletePending(ctx, correlationID); err != nil {
		return model.Outcome{}, fmt.Errorf("delete pending %s: %w", correlationID, err)
	}
	s.logger.Info(ctx, "pending transfer resolved",
		logger.String("correlationId", correlationID),
		logger.Bool("confirmed", res.Confirmed),
		logger.String("tx", out.TxRef),
	)
	return out, nil
}

// InspectState returns the current records for operators.
func (s *Service) InspectState(ctx context.Context) (types.StateView, error) {
	if !s.running() {
		return types.StateView{}, ErrNotStarted
	}
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return types.StateView{}, err
	}
	return types.FromSnapshot(snap), nil
}

// Balance reports the treasury token balance. It is informational and never
// gates admission.
func (s *Service) Balance(ctx context.Context) (decimal.Decimal, error) {
	if !s.running() {
		return decimal.Zero, ErrNotStarted
	}
	return s.transmitter.BalanceOf(ctx, "")
}

// ResetPeriod starts a new period immediately.
func (s *Service) ResetPeriod(ctx context.Context) error {
	if !s.running() {
		return ErrNotStarted
	}
	return s.resetter.ResetNow(ctx)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":         s.started,
		"inflight":        s.inflight.Load(),
		"busyPolicy":      string(s.busyPolicy),
		"transferTimeout": s.transferTimeout.String(),
		"workerCount":     s.workerCount,
		"queueSize":       s.queueSize,
	}
	profiles := make(map[string]interface{}, len(s.profiles))
	for name, p := range s.profiles {
		profiles[string(name)] = map[string]string{
			"originWindow":   p.OriginWindow.String(),
			"cooldown":       p.Cooldown.String(),
			"periodCap":      p.PeriodCap.String(),
			"conversionRate": p.ConversionRate.String(),
		}
	}
	stats["profiles"] = profiles

	if s.started {
		if snap, err := s.store.Snapshot(context.Background()); err == nil {
			stats["period"] = snap.Period
			stats["claimants"] = len(snap.Claimants)
			stats["origins"] = len(snap.Origins)
			stats["pending"] = len(snap.Pending)
		}
		stats["queueLength"] = s.eventQueue.Len()
		stats["claimantLocks"] = s.claimants.Len()
	}
	return stats
}

func rejected(r model.Reason) model.Outcome {
	return model.Outcome{State: model.StateRejected, Reason: r}
}

func failed(r model.Reason, amount decimal.Decimal) model.Outcome {
	return model.Outcome{State: model.StateFailed, Reason: r, Amount: amount}
}

// queuePublisher hands committed events to the mirror queue.
type queuePublisher struct {
	q *eventqueue.InMemoryQueue
}

func (p queuePublisher) Publish(ctx context.Context, ev model.DisbursementEvent) error {
	return p.q.Enqueue(ctx, ev)
}
