// Package worker drains the event queue into the event mirror.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/okian/claimgate/internal/domain/dedupe"
	"github.com/okian/claimgate/internal/domain/model"
	"github.com/okian/claimgate/pkg/logger"
	"github.com/okian/claimgate/pkg/metrics"
)

const (
	defaultWorkers      = 2
	defaultAttempts     = 3
	defaultRetryBackoff = 200 * time.Millisecond
	poolShutdownTimeout = 10 * time.Second
)

// Sink receives each committed event once.
type Sink interface {
	Mirror(ctx context.Context, ev model.DisbursementEvent) error
}

// Queue defines how workers receive events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan model.DisbursementEvent
	Close() error
}

// Worker mirrors events one at a time.
type Worker struct {
	name    string
	queue   Queue
	sink    Sink
	deduper dedupe.Deduper
	logger  logger.Logger

	attempts int
	backoff  time.Duration

	done chan struct{}
}

// NewWorker creates a worker reading from q and writing to sink.
func NewWorker(q Queue, sink Sink, d dedupe.Deduper, opts ...Option) *Worker {
	w := &Worker{
		name:     "worker",
		queue:    q,
		sink:     sink,
		deduper:  d,
		attempts: defaultAttempts,
		backoff:  defaultRetryBackoff,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Get().Named(w.name)
	}
	return w
}

// Run processes events until the queue is drained and closed or ctx is done.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	for ev := range w.queue.Dequeue(ctx) {
		if err := w.process(ctx, ev); err != nil {
			w.logger.Warn(ctx, "event mirror failed", logger.String("tx", ev.TxRef), logger.Error(err))
		}
	}
}

// Done is closed when Run returns.
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) process(ctx context.Context, ev model.DisbursementEvent) error {
	if w.deduper != nil && w.deduper.SeenAndRecord(ctx, ev.TxRef) {
		metrics.RecordPublish("duplicate", 0)
		return nil
	}

	start := time.Now()
	var err error
	for attempt := 1; attempt <= w.attempts; attempt++ {
		if err = w.sink.Mirror(ctx, ev); err == nil {
			metrics.RecordPublish("ok", float64(time.Since(start).Milliseconds()))
			return nil
		}
		if attempt == w.attempts {
			break
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
			attempt = w.attempts
		case <-time.After(w.backoff * time.Duration(attempt)):
		}
	}

	metrics.RecordPublish("error", float64(time.Since(start).Milliseconds()))
	metrics.RecordErrorByComponent("worker", "mirror_error")
	if w.deduper != nil {
		w.deduper.Unrecord(ctx, ev.TxRef)
	}
	return fmt.Errorf("mirror %s: %w", ev.TxRef, err)
}

// Pool runs several workers over one queue.
type Pool struct {
	workers []*Worker
	queue   Queue
	logger  logger.Logger
	started sync.Once
}

// NewPool creates a pool of n workers sharing d for duplicate suppression.
func NewPool(n int, q Queue, sink Sink, d dedupe.Deduper, opts ...Option) *Pool {
	if n < 1 {
		n = defaultWorkers
	}
	p := &Pool{
		workers: make([]*Worker, n),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := range p.workers {
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		p.workers[i] = NewWorker(q, sink, d, wopts...)
	}
	return p
}

// Start launches the workers.
func (p *Pool) Start(ctx context.Context) {
	p.started.Do(func() {
		for _, w := range p.workers {
			go w.Run(ctx)
		}
		metrics.UpdateWorkerActiveCount(len(p.workers))
	})
}

// Shutdown closes the queue and waits for the workers to drain it.
func (p *Pool) Shutdown(ctx context.Context) error {
	if err := p.queue.Close(); err != nil {
		p.logger.Error(ctx, "error closing queue", logger.Error(err))
	}

	ctx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			return fmt.Errorf("worker pool shutdown: %w", ctx.Err())
		}
	}
	metrics.UpdateWorkerActiveCount(0)
	return nil
}
