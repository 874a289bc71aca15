package keylock_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/claimgate/internal/domain/keylock"
	. "github.com/smartystreets/goconvey/convey"
)

func TestTryLock(t *testing.T) {
	Convey("Given a lock set", t, func() {
		s := keylock.New()

		Convey("When a key is held", func() {
			unlock, err := s.TryLock("a")
			So(err, ShouldBeNil)

			Convey("Then a second TryLock on it is busy", func() {
				_, err := s.TryLock("a")
				So(errors.Is(err, keylock.ErrBusy), ShouldBeTrue)
			})

			Convey("Then other keys are unaffected", func() {
				other, err := s.TryLock("b")
				So(err, ShouldBeNil)
				other()
			})

			Convey("Then releasing frees it and forgets the key", func() {
				unlock()
				unlock() // idempotent
				So(s.Len(), ShouldEqual, 0)
				again, err := s.TryLock("a")
				So(err, ShouldBeNil)
				again()
			})
		})
	})
}

func TestLockWaits(t *testing.T) {
	Convey("Given a held key", t, func() {
		s := keylock.New()
		unlock, err := s.Lock(context.Background(), "k")
		So(err, ShouldBeNil)

		Convey("When a waiter's context expires first", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			_, err := s.Lock(ctx, "k")

			Convey("Then it gives up with the context error", func() {
				So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
				unlock()
				So(s.Len(), ShouldEqual, 0)
			})
		})

		Convey("When the holder releases while a waiter blocks", func() {
			got := make(chan struct{})
			go func() {
				u, err := s.Lock(context.Background(), "k")
				if err == nil {
					close(got)
					u()
				}
			}()
			time.Sleep(10 * time.Millisecond)
			unlock()

			Convey("Then the waiter acquires it", func() {
				acquired := false
				select {
				case <-got:
					acquired = true
				case <-time.After(time.Second):
				}
				So(acquired, ShouldBeTrue)
			})
		})
	})
}

func TestMutualExclusion(t *testing.T) {
	Convey("Given many goroutines contending for one key", t, func() {
		s := keylock.New()
		var inside, maxInside int32
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				u, err := s.Lock(context.Background(), "hot")
				if err != nil {
					return
				}
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				u()
			}()
		}
		wg.Wait()

		Convey("Then at most one is ever inside", func() {
			So(atomic.LoadInt32(&maxInside), ShouldEqual, int32(1))
			So(s.Len(), ShouldEqual, 0)
		})
	})
}
