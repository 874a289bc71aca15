// Package eventsink mirrors committed disbursement events to external
// consumers. Mirroring is best effort; the on-disk event log stays the
// record of truth.
package eventsink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/okian/claimgate/internal/domain/model"
	"github.com/redis/go-redis/v9"
)

// RedisStream appends every event to a Redis stream and keeps running
// per-profile totals in a hash next to it.
type RedisStream struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

// RedisOption configures a RedisStream.
type RedisOption func(*RedisStream)

// WithStream sets the stream key. The totals hash lives at "<stream>:totals".
func WithStream(name string) RedisOption {
	return func(s *RedisStream) {
		if name = strings.Trim(name, ":"); name != "" {
			s.stream = name
		}
	}
}

// WithMaxLen caps the stream length (approximate trimming). Zero keeps everything.
func WithMaxLen(n int64) RedisOption {
	return func(s *RedisStream) { s.maxLen = n }
}

// NewRedisStream creates a sink over rdb.
func NewRedisStream(rdb *redis.Client, opts ...RedisOption) *RedisStream {
	s := &RedisStream{rdb: rdb, stream: "claimgate:disbursements", maxLen: 100_000}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mirror implements worker.Sink. A nil sink or client is a no-op.
func (s *RedisStream) Mirror(ctx context.Context, ev model.DisbursementEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	amount, _ := ev.Amount.Float64()

	pipe := s.rdb.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: s.maxLen > 0,
		Values: map[string]any{
			"id":       ev.ID,
			"profile":  string(ev.Profile),
			"claimant": ev.Claimant,
			"origin":   ev.Origin,
			"amount":   ev.Amount.String(),
			"txRef":    ev.TxRef,
			"score":    ev.Score,
			"at":       at.UTC().Format(time.RFC3339Nano),
		},
	})
	pipe.HIncrByFloat(ctx, s.stream+":totals", string(ev.Profile), amount)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis mirror %s: %w", ev.TxRef, err)
	}
	return nil
}

// Ping checks connectivity.
func (s *RedisStream) Ping(ctx context.Context) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Ping(ctx).Err()
}
