package repository_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/okian/claimgate/internal/adapters/repository"
	"github.com/okian/claimgate/internal/domain/model"
	"github.com/okian/claimgate/pkg/logger"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(logger.WithOutput(io.Discard)); err != nil {
		panic(err)
	}
}

const claimant = "0x52908400098527886e0f7030069857d2e4169ee7"

func addAmount(amount string, at time.Time, tx string) repository.ApplyFunc {
	return func(cur model.ClaimantRecord) (model.ClaimantRecord, bool, error) {
		cur.TotalClaimedInPeriod = cur.TotalClaimedInPeriod.Add(decimal.RequireFromString(amount))
		cur.LastClaimAt = at
		cur.LastTxRef = tx
		return cur, true, nil
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	Convey("Given a file store in an empty directory", t, func() {
		ctx := context.Background()
		dir := t.TempDir()
		s, err := repository.OpenFileStore(ctx, dir)
		So(err, ShouldBeNil)

		Convey("Then unknown keys read as zero records", func() {
			c, err := s.Claimant(ctx, claimant)
			So(err, ShouldBeNil)
			So(c.LastClaimAt.IsZero(), ShouldBeTrue)
			So(c.TotalClaimedInPeriod.IsZero(), ShouldBeTrue)
			o, err := s.Origin(ctx, "10.0.0.1")
			So(err, ShouldBeNil)
			So(o.LastRequestAt.IsZero(), ShouldBeTrue)
			So(s.Close(), ShouldBeNil)
		})

		Convey("When records are written and the store is reopened", func() {
			at := time.Date(2026, 10, 19, 8, 30, 0, 123, time.UTC)
			_, changed, err := s.ApplyClaimant(ctx, claimant, addAmount("0.1234", at, "0xabc"))
			So(err, ShouldBeNil)
			So(changed, ShouldBeTrue)
			So(s.PutOrigin(ctx, "10.0.0.1", model.OriginRecord{LastRequestAt: at}), ShouldBeNil)
			So(s.ResetAll(ctx, "2026-10-19"), ShouldBeNil)
			So(s.PutPending(ctx, model.PendingTransfer{
				CorrelationID: "c-1",
				Profile:       model.ProfileClaim,
				Claimant:      claimant,
				Amount:        decimal.RequireFromString("0.5"),
				At:            at,
			}), ShouldBeNil)
			So(s.Close(), ShouldBeNil)

			re, err := repository.OpenFileStore(ctx, dir)
			So(err, ShouldBeNil)
			defer func() { _ = re.Close() }()

			Convey("Then everything survives the restart", func() {
				c, _ := re.Claimant(ctx, claimant)
				So(c.TotalClaimedInPeriod.String(), ShouldEqual, "0.1234")
				So(c.LastClaimAt.Equal(at), ShouldBeTrue)
				So(c.LastTxRef, ShouldEqual, "0xabc")

				o, _ := re.Origin(ctx, "10.0.0.1")
				So(o.LastRequestAt.Equal(at), ShouldBeTrue)

				So(re.Period(ctx), ShouldEqual, "2026-10-19")

				p, ok, err := re.Pending(ctx, "c-1")
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(p.Amount.String(), ShouldEqual, "0.5")
				So(p.Profile, ShouldEqual, model.ProfileClaim)
			})
		})
	})
}

func TestFileStoreApplyClaimant(t *testing.T) {
	Convey("Given a file store", t, func() {
		ctx := context.Background()
		s, err := repository.OpenFileStore(ctx, t.TempDir())
		So(err, ShouldBeNil)
		defer func() { _ = s.Close() }()

		Convey("When the transform reports no change", func() {
			rec, changed, err := s.ApplyClaimant(ctx, claimant, func(cur model.ClaimantRecord) (model.ClaimantRecord, bool, error) {
				cur.LastTxRef = "ignored"
				return cur, false, nil
			})

			Convey("Then nothing is written", func() {
				So(err, ShouldBeNil)
				So(changed, ShouldBeFalse)
				So(rec.LastTxRef, ShouldBeEmpty)
				c, _ := s.Claimant(ctx, claimant)
				So(c.LastTxRef, ShouldBeEmpty)
			})
		})

		Convey("When the transform fails", func() {
			boom := errors.New("boom")
			_, _, err := s.ApplyClaimant(ctx, claimant, func(cur model.ClaimantRecord) (model.ClaimantRecord, bool, error) {
				return cur, true, boom
			})

			Convey("Then the error is returned as is", func() {
				So(errors.Is(err, boom), ShouldBeTrue)
			})
		})

		Convey("When many goroutines add to one claimant", func() {
			var wg sync.WaitGroup
			for i := 0; i < 40; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _, _ = s.ApplyClaimant(ctx, claimant, addAmount("0.0001", time.Now(), ""))
				}()
			}
			wg.Wait()

			Convey("Then no increment is lost", func() {
				c, _ := s.Claimant(ctx, claimant)
				So(c.TotalClaimedInPeriod.String(), ShouldEqual, "0.004")
			})
		})
	})
}

func TestFileStoreReset(t *testing.T) {
	Convey("Given claimant and origin records", t, func() {
		ctx := context.Background()
		s, err := repository.OpenFileStore(ctx, t.TempDir())
		So(err, ShouldBeNil)
		defer func() { _ = s.Close() }()

		at := time.Date(2026, 10, 19, 22, 0, 0, 0, time.UTC)
		_, _, err = s.ApplyClaimant(ctx, claimant, addAmount("0.9", at, "0x1"))
		So(err, ShouldBeNil)
		So(s.PutOrigin(ctx, "10.0.0.1", model.OriginRecord{LastRequestAt: at}), ShouldBeNil)

		Convey("When both kinds are reset", func() {
			So(s.ResetAll(ctx, "2026-10-20", repository.KindClaimant, repository.KindOrigin), ShouldBeNil)

			Convey("Then totals are zeroed but last claim times survive", func() {
				c, _ := s.Claimant(ctx, claimant)
				So(c.TotalClaimedInPeriod.IsZero(), ShouldBeTrue)
				So(c.LastClaimAt.Equal(at), ShouldBeTrue)
				So(c.LastTxRef, ShouldEqual, "0x1")
			})

			Convey("Then origin records are gone", func() {
				snap, err := s.Snapshot(ctx)
				So(err, ShouldBeNil)
				So(snap.Origins, ShouldBeEmpty)
				So(snap.Period, ShouldEqual, "2026-10-20")
			})
		})

		Convey("When an unknown kind is requested", func() {
			err := s.ResetAll(ctx, "x", repository.Kind(99))

			Convey("Then it is refused and nothing changes", func() {
				So(errors.Is(err, repository.ErrUnknown), ShouldBeTrue)
				c, _ := s.Claimant(ctx, claimant)
				So(c.TotalClaimedInPeriod.String(), ShouldEqual, "0.9")
			})
		})
	})
}

func TestFileStoreWriteFailure(t *testing.T) {
	Convey("Given a store whose data directory disappears", t, func() {
		ctx := context.Background()
		dir := filepath.Join(t.TempDir(), "data")
		s, err := repository.OpenFileStore(ctx, dir)
		So(err, ShouldBeNil)
		defer func() { _ = s.Close() }()

		_, _, err = s.ApplyClaimant(ctx, claimant, addAmount("0.1", time.Now(), "0x1"))
		So(err, ShouldBeNil)
		So(os.RemoveAll(dir), ShouldBeNil)

		Convey("When a claimant update is attempted", func() {
			_, changed, err := s.ApplyClaimant(ctx, claimant, addAmount("0.2", time.Now(), "0x2"))

			Convey("Then it fails with an io error and the old record stays", func() {
				So(errors.Is(err, repository.ErrIO), ShouldBeTrue)
				So(changed, ShouldBeFalse)
				c, _ := s.Claimant(ctx, claimant)
				So(c.TotalClaimedInPeriod.String(), ShouldEqual, "0.1")
				So(c.LastTxRef, ShouldEqual, "0x1")
			})
		})

		Convey("When a pending write is attempted", func() {
			errPending := s.PutPending(ctx, model.PendingTransfer{CorrelationID: "p"})

			Convey("Then it fails and leaves no trace", func() {
				So(errors.Is(errPending, repository.ErrIO), ShouldBeTrue)
				snap, _ := s.Snapshot(ctx)
				So(snap.Pending, ShouldBeEmpty)
			})
		})

		Convey("When a reset is attempted", func() {
			So(s.PutOrigin(ctx, "10.0.0.1", model.OriginRecord{LastRequestAt: time.Now()}), ShouldBeNil)
			err := s.ResetAll(ctx, "2026-10-20", repository.KindClaimant, repository.KindOrigin)

			Convey("Then it fails and nothing is cleared", func() {
				So(errors.Is(err, repository.ErrIO), ShouldBeTrue)
				c, _ := s.Claimant(ctx, claimant)
				So(c.TotalClaimedInPeriod.String(), ShouldEqual, "0.1")
				snap, _ := s.Snapshot(ctx)
				So(len(snap.Origins), ShouldEqual, 1)
				So(snap.Period, ShouldBeEmpty)
			})
		})
	})
}

func TestFileStoreCorruptState(t *testing.T) {
	Convey("Given a data directory with a garbage state file", t, func() {
		ctx := context.Background()
		dir := t.TempDir()
		So(os.WriteFile(filepath.Join(dir, "state.cbor"), []byte("definitely not cbor"), 0o600), ShouldBeNil)

		Convey("When the store is opened", func() {
			s, err := repository.OpenFileStore(ctx, dir)
			So(err, ShouldBeNil)
			defer func() { _ = s.Close() }()

			Convey("Then it starts empty and keeps the bad file aside", func() {
				snap, err := s.Snapshot(ctx)
				So(err, ShouldBeNil)
				So(snap.Claimants, ShouldBeEmpty)
				So(snap.Period, ShouldBeEmpty)

				entries, err := os.ReadDir(dir)
				So(err, ShouldBeNil)
				found := false
				for _, e := range entries {
					if strings.HasPrefix(e.Name(), "state.cbor.corrupt-") {
						found = true
					}
				}
				So(found, ShouldBeTrue)
			})
		})
	})
}

func TestFileStoreEvents(t *testing.T) {
	Convey("Given a store with two appended events", t, func() {
		ctx := context.Background()
		dir := t.TempDir()
		s, err := repository.OpenFileStore(ctx, dir, repository.WithFileNames("", "ledger.log"))
		So(err, ShouldBeNil)
		defer func() { _ = s.Close() }()

		for _, tx := range []string{"0x1", "0x2"} {
			So(s.AppendEvent(ctx, model.DisbursementEvent{
				ID:       tx,
				Profile:  model.ProfileClaim,
				Claimant: claimant,
				Amount:   decimal.RequireFromString("0.25"),
				TxRef:    tx,
				At:       time.Now().UTC(),
			}), ShouldBeNil)
		}

		Convey("When a torn line is left at the end", func() {
			f, err := os.OpenFile(filepath.Join(dir, "ledger.log"), os.O_APPEND|os.O_WRONLY, 0o600)
			So(err, ShouldBeNil)
			_, err = f.WriteString(`{"id":"0x3","amo`)
			So(err, ShouldBeNil)
			So(f.Close(), ShouldBeNil)

			Convey("Then reading skips it and keeps the complete ones", func() {
				evs, err := s.Events(ctx)
				So(err, ShouldBeNil)
				So(len(evs), ShouldEqual, 2)
				So(evs[0].TxRef, ShouldEqual, "0x1")
				So(evs[1].Amount.String(), ShouldEqual, "0.25")
			})
		})
	})
}

func TestFileStoreClosed(t *testing.T) {
	Convey("Given a closed store", t, func() {
		ctx := context.Background()
		s, err := repository.OpenFileStore(ctx, t.TempDir())
		So(err, ShouldBeNil)
		So(s.Close(), ShouldBeNil)
		So(s.Close(), ShouldBeNil)

		Convey("Then every operation reports it", func() {
			_, err := s.Claimant(ctx, claimant)
			So(errors.Is(err, repository.ErrClosed), ShouldBeTrue)
			So(errors.Is(s.PutOrigin(ctx, "o", model.OriginRecord{}), repository.ErrClosed), ShouldBeTrue)
			So(errors.Is(s.AppendEvent(ctx, model.DisbursementEvent{}), repository.ErrClosed), ShouldBeTrue)
		})
	})
}

func TestFileStoreOriginJournal(t *testing.T) {
	Convey("Given a store with origin timestamps", t, func() {
		ctx := context.Background()
		dir := t.TempDir()
		s, err := repository.OpenFileStore(ctx, dir)
		So(err, ShouldBeNil)

		first := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
		later := first.Add(time.Minute)
		So(s.PutOrigin(ctx, "10.0.0.1", model.OriginRecord{LastRequestAt: first}), ShouldBeNil)
		So(s.PutOrigin(ctx, "10.0.0.2", model.OriginRecord{LastRequestAt: first}), ShouldBeNil)
		So(s.PutOrigin(ctx, "10.0.0.1", model.OriginRecord{LastRequestAt: later}), ShouldBeNil)

		Convey("When the journal ends with a torn line and the store is reopened", func() {
			So(s.Close(), ShouldBeNil)
			f, err := os.OpenFile(filepath.Join(dir, "origins.log"), os.O_APPEND|os.O_WRONLY, 0o600)
			So(err, ShouldBeNil)
			_, err = f.WriteString(`{"k":"10.0.0.3","t":17`)
			So(err, ShouldBeNil)
			So(f.Close(), ShouldBeNil)

			re, err := repository.OpenFileStore(ctx, dir)
			So(err, ShouldBeNil)
			defer func() { _ = re.Close() }()

			Convey("Then the last complete entry per origin wins", func() {
				o1, _ := re.Origin(ctx, "10.0.0.1")
				o2, _ := re.Origin(ctx, "10.0.0.2")
				o3, _ := re.Origin(ctx, "10.0.0.3")
				So(o1.LastRequestAt.Equal(later), ShouldBeTrue)
				So(o2.LastRequestAt.Equal(first), ShouldBeTrue)
				So(o3.LastRequestAt.IsZero(), ShouldBeTrue)
			})

			Convey("Then the journal was compacted to one line per origin", func() {
				data, err := os.ReadFile(filepath.Join(dir, "origins.log"))
				So(err, ShouldBeNil)
				So(strings.Count(string(data), "\n"), ShouldEqual, 2)
			})
		})

		Convey("When the origins are reset and the store is reopened", func() {
			So(s.ResetAll(ctx, "2026-10-20", repository.KindOrigin), ShouldBeNil)
			So(s.Close(), ShouldBeNil)

			re, err := repository.OpenFileStore(ctx, dir)
			So(err, ShouldBeNil)
			defer func() { _ = re.Close() }()

			Convey("Then they stay cleared", func() {
				snap, err := re.Snapshot(ctx)
				So(err, ShouldBeNil)
				So(snap.Origins, ShouldBeEmpty)
				So(snap.Period, ShouldEqual, "2026-10-20")
			})
		})

		Convey("When one origin is written many times", func() {
			for i := 0; i < 1100; i++ {
				So(s.PutOrigin(ctx, "10.0.0.9", model.OriginRecord{LastRequestAt: first.Add(time.Duration(i) * time.Second)}), ShouldBeNil)
			}
			defer func() { _ = s.Close() }()

			Convey("Then the journal is compacted along the way", func() {
				data, err := os.ReadFile(filepath.Join(dir, "origins.log"))
				So(err, ShouldBeNil)
				So(strings.Count(string(data), "\n"), ShouldBeLessThan, 1100)
				o, _ := s.Origin(ctx, "10.0.0.9")
				So(o.LastRequestAt.Equal(first.Add(1099*time.Second)), ShouldBeTrue)
			})
		})

		Convey("When origins are written while the state file lock is busy", func() {
			defer func() { _ = s.Close() }()
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(2)
				go func(i int) {
					defer wg.Done()
					_ = s.PutOrigin(ctx, "10.1.0.1", model.OriginRecord{LastRequestAt: first.Add(time.Duration(i) * time.Second)})
				}(i)
				go func() {
					defer wg.Done()
					_, _, _ = s.ApplyClaimant(ctx, claimant, addAmount("0.01", first, ""))
				}()
			}
			wg.Wait()

			Convey("Then both kinds of record are intact", func() {
				c, _ := s.Claimant(ctx, claimant)
				So(c.TotalClaimedInPeriod.String(), ShouldEqual, "0.2")
				o, _ := s.Origin(ctx, "10.1.0.1")
				So(o.LastRequestAt.IsZero(), ShouldBeFalse)
			})
		})
	})
}

func TestFileStorePendingFor(t *testing.T) {
	Convey("Given pending transfers for two claimants", t, func() {
		ctx := context.Background()
		s, err := repository.OpenFileStore(ctx, t.TempDir())
		So(err, ShouldBeNil)
		defer func() { _ = s.Close() }()

		for _, p := range []model.PendingTransfer{
			{CorrelationID: "a", Claimant: claimant, Amount: decimal.RequireFromString("0.5")},
			{CorrelationID: "b", Claimant: claimant, Amount: decimal.RequireFromString("0.25")},
			{CorrelationID: "c", Claimant: "0xother", Amount: decimal.NewFromInt(1)},
		} {
			So(s.PutPending(ctx, p), ShouldBeNil)
		}

		Convey("Then only the claimant's own are listed", func() {
			got, err := s.PendingFor(ctx, claimant)
			So(err, ShouldBeNil)
			So(len(got), ShouldEqual, 2)
			none, err := s.PendingFor(ctx, "0xnobody")
			So(err, ShouldBeNil)
			So(none, ShouldBeEmpty)
		})
	})
}
