package eventsink

import (
	"context"

	"github.com/okian/claimgate/internal/domain/model"
	"github.com/okian/claimgate/pkg/logger"
)

// Log writes each event as a structured log line. It is the sink used when
// no Redis address is configured.
type Log struct {
	logger logger.Logger
}

// NewLog creates a log sink.
func NewLog(l logger.Logger) *Log {
	if l == nil {
		l = logger.Get().Named("eventsink")
	}
	return &Log{logger: l}
}

// Mirror implements worker.Sink.
func (s *Log) Mirror(ctx context.Context, ev model.DisbursementEvent) error {
	s.logger.Info(ctx, "disbursement",
		logger.String("id", ev.ID),
		logger.String("profile", string(ev.Profile)),
		logger.String("claimant", ev.Claimant),
		logger.String("amount", ev.Amount.String()),
		logger.String("tx", ev.TxRef),
		logger.Time("at", ev.At),
	)
	return nil
}
