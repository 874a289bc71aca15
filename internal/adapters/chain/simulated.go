package chain

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	defaultSimMinLatency = 80 * time.Millisecond
	defaultSimMaxLatency = 150 * time.Millisecond
	defaultSimSeed       = 42
)

// Simulated is an in-process Transmitter with a treasury balance, random
// latency and optional failure injection. It backs local runs and tests.
type Simulated struct {
	mu          sync.Mutex
	balance     decimal.Decimal
	minLatency  time.Duration
	maxLatency  time.Duration
	failRate    float64
	unknownRate float64
	rng         *rand.Rand
	script      []error
	sent        []SimulatedTransfer
}

// SimulatedTransfer is one transfer the simulator confirmed.
type SimulatedTransfer struct {
	To     string
	Amount decimal.Decimal
	TxRef  string
}

// SimOption configures a Simulated transmitter.
type SimOption func(*Simulated)

// WithLatencyRange sets the simulated confirmation latency. Zero max means instant.
func WithLatencyRange(minLatency, maxLatency time.Duration) SimOption {
	return func(s *Simulated) {
		if minLatency >= 0 && maxLatency >= minLatency {
			s.minLatency = minLatency
			s.maxLatency = maxLatency
		}
	}
}

// WithFailureRates makes a fraction of transfers fail (rejected) or stall
// until the caller's deadline (unknown outcome).
func WithFailureRates(rejected, unknown float64) SimOption {
	return func(s *Simulated) {
		s.failRate = clamp01(rejected)
		s.unknownRate = clamp01(unknown)
	}
}

// WithBalance sets the starting treasury balance.
func WithBalance(b decimal.Decimal) SimOption {
	return func(s *Simulated) { s.balance = b }
}

// WithSeed makes the random latency and failures reproducible.
func WithSeed(seed int64) SimOption {
	return func(s *Simulated) { s.rng = rand.New(rand.NewSource(seed)) } //nolint:gosec // simulation only
}

// NewSimulated creates a simulator.
func NewSimulated(opts ...SimOption) *Simulated {
	s := &Simulated{
		balance:    decimal.NewFromInt(1_000_000),
		minLatency: defaultSimMinLatency,
		maxLatency: defaultSimMaxLatency,
		rng:        rand.New(rand.NewSource(defaultSimSeed)), //nolint:gosec // simulation only
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Script queues the results of the next transfers: a nil entry lets the
// transfer go through normally, an error is returned as is. ErrTimeout
// entries block until ctx is done, like a stuck confirmation.
func (s *Simulated) Script(results ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, results...)
}

// Sent returns the confirmed transfers so far.
func (s *Simulated) Sent() []SimulatedTransfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SimulatedTransfer(nil), s.sent...)
}

// Transfer implements Transmitter.
func (s *Simulated) Transfer(ctx context.Context, to string, amount decimal.Decimal) (string, error) {
	s.mu.Lock()
	var scripted error
	hasScript := len(s.script) > 0
	if hasScript {
		scripted, s.script = s.script[0], s.script[1:]
	}
	latency := s.minLatency
	if span := s.maxLatency - s.minLatency; span > 0 {
		latency += time.Duration(s.rng.Int63n(int64(span)))
	}
	roll := s.rng.Float64()
	s.mu.Unlock()

	txRef := crypto.Keccak256Hash([]byte(uuid.NewString())).Hex()

	if !hasScript {
		switch {
		case roll < s.failRate:
			scripted = ErrRejectedByChain
		case roll < s.failRate+s.unknownRate:
			scripted = ErrTimeout
		}
	}

	if errors.Is(scripted, ErrTimeout) {
		<-ctx.Done()
		return txRef, fmt.Errorf("wait for %s: %w", txRef, ErrTimeout)
	}
	if scripted != nil {
		return "", scripted
	}

	if latency > 0 {
		select {
		case <-ctx.Done():
			return txRef, fmt.Errorf("wait for %s: %w", txRef, ErrTimeout)
		case <-time.After(latency):
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balance.LessThan(amount) {
		return "", fmt.Errorf("insufficient treasury balance: %w", ErrRejectedByChain)
	}
	s.balance = s.balance.Sub(amount)
	s.sent = append(s.sent, SimulatedTransfer{To: strings.ToLower(to), Amount: amount, TxRef: txRef})
	return txRef, nil
}

// BalanceOf implements Transmitter. Only the treasury has a balance.
func (s *Simulated) BalanceOf(_ context.Context, owner string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner != "" {
		total := decimal.Zero
		for _, t := range s.sent {
			if strings.EqualFold(t.To, owner) {
				total = total.Add(t.Amount)
			}
		}
		return total, nil
	}
	return s.balance, nil
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
