package worker_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/okian/claimgate/internal/adapters/mq/queue"
	"github.com/okian/claimgate/internal/adapters/mq/worker"
	"github.com/okian/claimgate/internal/domain/dedupe"
	"github.com/okian/claimgate/internal/domain/model"
	"github.com/okian/claimgate/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(logger.WithOutput(io.Discard)); err != nil {
		panic(err)
	}
}

type recordingSink struct {
	mu       sync.Mutex
	got      []string
	failures int
}

func (s *recordingSink) Mirror(_ context.Context, ev model.DisbursementEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("redis down")
	}
	s.got = append(s.got, ev.TxRef)
	return nil
}

func (s *recordingSink) mirrored() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.got...)
}

func TestPool(t *testing.T) {
	Convey("Given a pool mirroring queued events", t, func() {
		ctx := context.Background()
		q := queue.NewInMemoryQueue(queue.WithCapacity(16))
		sink := &recordingSink{}
		pool := worker.NewPool(3, q, sink, dedupe.New(), worker.WithRetry(3, 0))
		pool.Start(ctx)

		Convey("When events including a duplicate are queued and the pool shuts down", func() {
			for _, tx := range []string{"0x1", "0x2", "0x1", "0x3"} {
				So(q.Enqueue(ctx, model.DisbursementEvent{TxRef: tx}), ShouldBeNil)
			}
			So(pool.Shutdown(ctx), ShouldBeNil)

			Convey("Then every distinct event is mirrored exactly once", func() {
				got := sink.mirrored()
				So(len(got), ShouldEqual, 3)
				So(got, ShouldContain, "0x1")
				So(got, ShouldContain, "0x2")
				So(got, ShouldContain, "0x3")
			})
		})
	})
}

func TestWorkerRetry(t *testing.T) {
	Convey("Given a sink that fails twice before succeeding", t, func() {
		ctx := context.Background()
		q := queue.NewInMemoryQueue()
		sink := &recordingSink{failures: 2}
		w := worker.NewWorker(q, sink, dedupe.New(), worker.WithRetry(3, time.Millisecond))
		go w.Run(ctx)

		So(q.Enqueue(ctx, model.DisbursementEvent{TxRef: "0xa"}), ShouldBeNil)
		So(q.Close(), ShouldBeNil)
		<-w.Done()

		Convey("Then the event gets through on the third attempt", func() {
			So(sink.mirrored(), ShouldResemble, []string{"0xa"})
		})
	})

	Convey("Given a sink that keeps failing", t, func() {
		ctx := context.Background()
		q := queue.NewInMemoryQueue()
		sink := &recordingSink{failures: 2}
		d := dedupe.New()
		w := worker.NewWorker(q, sink, d, worker.WithRetry(2, 0))
		go w.Run(ctx)

		So(q.Enqueue(ctx, model.DisbursementEvent{TxRef: "0xb"}), ShouldBeNil)
		So(q.Close(), ShouldBeNil)
		<-w.Done()

		Convey("Then the tx ref is forgotten so a later hand-off can retry", func() {
			So(sink.mirrored(), ShouldBeEmpty)
			So(d.Size(), ShouldEqual, 0)
		})
	})
}
