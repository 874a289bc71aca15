package service

import (
	"time"

	"github.com/okian/claimgate/internal/adapters/chain"
	"github.com/okian/claimgate/internal/adapters/mq/worker"
	"github.com/okian/claimgate/internal/adapters/repository"
	"github.com/okian/claimgate/internal/domain/clock"
	"github.com/okian/claimgate/internal/domain/policy"
	"github.com/okian/claimgate/pkg/logger"
)

// BusyPolicy decides what a request does when its claimant is in flight.
type BusyPolicy string

// Busy policies.
const (
	// BusyWait queues behind the in-flight request for at most the busy wait.
	BusyWait BusyPolicy = "wait"
	// BusyReject answers BUSY immediately.
	BusyReject BusyPolicy = "reject"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore injects the record store; otherwise a FileStore is opened in the data dir.
func WithStore(s repository.Store) Option {
	return func(svc *Service) { svc.store = s }
}

// WithDataDir sets where the FileStore keeps state.cbor and events.log.
func WithDataDir(dir string) Option {
	return func(s *Service) {
		if dir != "" {
			s.dataDir = dir
		}
	}
}

// WithTransmitter sets the token transmitter.
func WithTransmitter(t chain.Transmitter) Option {
	return func(s *Service) { s.transmitter = t }
}

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLocation sets the timezone of the daily period.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithProfile registers (or replaces) the limits of one entry point.
func WithProfile(p policy.Profile) Option {
	return func(s *Service) { s.profiles[p.Name] = p }
}

// WithTransferTimeout bounds each transmitter call.
func WithTransferTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.transferTimeout = d
		}
	}
}

// WithBusyPolicy sets how same-claimant contention is handled.
func WithBusyPolicy(p BusyPolicy, wait time.Duration) Option {
	return func(s *Service) {
		if p == BusyWait || p == BusyReject {
			s.busyPolicy = p
		}
		if wait > 0 {
			s.busyWait = wait
		}
	}
}

// WithSink sets where committed events are mirrored.
func WithSink(sink worker.Sink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithWorkerCount sets the number of mirror workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the mirror queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many tx refs the mirror remembers.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
