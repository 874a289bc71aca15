package repository

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/okian/claimgate/internal/domain/model"
	"github.com/okian/claimgate/pkg/logger"
	"github.com/okian/claimgate/pkg/metrics"
	"github.com/shopspring/decimal"
)

const (
	defaultStateName   = "state.cbor"
	defaultEventsName  = "events.log"
	defaultOriginsName = "origins.log"
	// The origin journal is compacted once it holds this many lines beyond
	// twice the live origin count.
	originCompactSlack = 1024
	stateVersion       = 1
	dirPerm            = 0o700
	filePerm           = 0o600
)

// FileStore keeps the records in memory and mirrors every claimant and
// pending mutation to a single CBOR state file that is replaced atomically
// (temp file, fsync, rename, directory fsync). Origin timestamps go to their
// own append-only journal and events to an append-only JSON-lines log.
//
// mu guards the claimant and pending records and the state file; it is the
// global store lock that a period reset holds for the duration of its sweep.
// originMu guards the origin records and their journal, so origin
// bookkeeping never waits on a state file write. Lock order is mu, originMu.
type FileStore struct {
	mu        sync.RWMutex
	period    string
	claimants map[string]model.ClaimantRecord
	pending   map[string]model.PendingTransfer
	closed    bool

	originMu      sync.Mutex
	origins       map[string]model.OriginRecord
	originLog     *os.File
	originLines   int
	originsClosed bool

	eventsMu sync.Mutex
	events   *os.File

	dir         string
	stateName   string
	eventsName  string
	originsName string
	logger      logger.Logger
}

var _ Store = (*FileStore)(nil)

// diskState is the CBOR layout of state.cbor.
type diskState struct {
	Version   int                     `cbor:"v"`
	Period    string                  `cbor:"period"`
	Claimants map[string]diskClaimant `cbor:"claimants"`
	// Origins is only read, from files written before the origin journal.
	Origins map[string]int64       `cbor:"origins,omitempty"`
	Pending map[string]diskPending `cbor:"pending"`
}

type diskClaimant struct {
	LastClaimAt int64  `cbor:"last"`
	Total       string `cbor:"total"`
	LastTxRef   string `cbor:"tx,omitempty"`
}

// originEntry is one line of the origin journal; the last line for a key wins.
type originEntry struct {
	Key string `json:"k"`
	At  int64  `json:"t"`
}

type diskPending struct {
	Profile  string `cbor:"profile"`
	Claimant string `cbor:"claimant"`
	Origin   string `cbor:"origin,omitempty"`
	Amount   string `cbor:"amount"`
	Score    string `cbor:"score,omitempty"`
	TxRef    string `cbor:"tx,omitempty"`
	Error    string `cbor:"error,omitempty"`
	At       int64  `cbor:"at"`
}

// OpenFileStore loads (or initializes) the store under dir. A missing state
// file yields an empty store; an unreadable or corrupt one is moved aside and
// also yields an empty store. Only failing to create dir or the event log is
// an error.
func OpenFileStore(ctx context.Context, dir string, opts ...Option) (*FileStore, error) {
	s := &FileStore{
		claimants:   make(map[string]model.ClaimantRecord),
		origins:     make(map[string]model.OriginRecord),
		pending:     make(map[string]model.PendingTransfer),
		dir:         dir,
		stateName:   defaultStateName,
		eventsName:  defaultEventsName,
		originsName: defaultOriginsName,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("repository")
	}

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dir, errors.Join(ErrIO, err))
	}

	s.load(ctx)
	s.loadOrigins(ctx)
	if err := s.rewriteOriginsLocked(s.origins); err != nil {
		return nil, fmt.Errorf("open origin journal: %w", errors.Join(ErrIO, err))
	}

	f, err := os.OpenFile(s.eventsPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, filePerm)
	if err != nil {
		_ = s.originLog.Close()
		return nil, fmt.Errorf("open event log: %w", errors.Join(ErrIO, err))
	}
	s.events = f

	metrics.UpdateRecordCounts(len(s.claimants), len(s.origins))
	metrics.UpdatePendingTransfers(len(s.pending))
	return s, nil
}

func (s *FileStore) statePath() string   { return filepath.Join(s.dir, s.stateName) }
func (s *FileStore) eventsPath() string  { return filepath.Join(s.dir, s.eventsName) }
func (s *FileStore) originsPath() string { return filepath.Join(s.dir, s.originsName) }

func (s *FileStore) load(ctx context.Context) {
	path := s.statePath()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info(ctx, "no state file, starting empty", logger.String("path", path))
		return
	}
	if err == nil {
		err = s.decode(data)
	}
	if err == nil {
		s.logger.Info(ctx, "state loaded",
			logger.String("path", path),
			logger.String("period", s.period),
			logger.Int("claimants", len(s.claimants)),
			logger.Int("origins", len(s.origins)),
			logger.Int("pending", len(s.pending)),
		)
		return
	}

	// Never crash on bad state: keep the bytes for forensics and start over.
	aside := path + ".corrupt-" + strconv.FormatInt(time.Now().Unix(), 10)
	if rerr := os.Rename(path, aside); rerr != nil {
		aside = ""
		s.logger.Error(ctx, "could not move corrupt state aside", logger.String("path", path), logger.Error(rerr))
	}
	s.logger.Warn(ctx, "STATE FILE UNREADABLE OR CORRUPT, STARTING WITH EMPTY STATE",
		logger.String("path", path),
		logger.String("moved_to", aside),
		logger.Error(err),
	)
	metrics.RecordStoreError("load")
	metrics.RecordErrorByType("state_corrupt", "high")
	s.period = ""
	s.claimants = make(map[string]model.ClaimantRecord)
	s.origins = make(map[string]model.OriginRecord)
	s.pending = make(map[string]model.PendingTransfer)
}

func (s *FileStore) decode(data []byte) error {
	var ds diskState
	if err := cbor.Unmarshal(data, &ds); err != nil {
		return errors.Join(ErrCorrupt, err)
	}
	if ds.Version != stateVersion {
		return fmt.Errorf("%w: version %d", ErrCorrupt, ds.Version)
	}

	claimants := make(map[string]model.ClaimantRecord, len(ds.Claimants))
	for k, c := range ds.Claimants {
		total, err := decimal.NewFromString(c.Total)
		if err != nil {
			return fmt.Errorf("%w: claimant %s total: %v", ErrCorrupt, k, err)
		}
		claimants[k] = model.ClaimantRecord{LastClaimAt: fromNanos(c.LastClaimAt), TotalClaimedInPeriod: total, LastTxRef: c.LastTxRef}
	}
	origins := make(map[string]model.OriginRecord, len(ds.Origins))
	for k, ts := range ds.Origins {
		origins[k] = model.OriginRecord{LastRequestAt: fromNanos(ts)}
	}
	pending := make(map[string]model.PendingTransfer, len(ds.Pending))
	for id, p := range ds.Pending {
		amount, err := decimal.NewFromString(p.Amount)
		if err != nil {
			return fmt.Errorf("%w: pending %s amount: %v", ErrCorrupt, id, err)
		}
		pending[id] = model.PendingTransfer{
			CorrelationID: id,
			Profile:       model.Profile(p.Profile),
			Claimant:      p.Claimant,
			Origin:        p.Origin,
			Amount:        amount,
			Score:         p.Score,
			TxRef:         p.TxRef,
			Error:         p.Error,
			At:            fromNanos(p.At),
		}
	}

	s.period = ds.Period
	s.claimants = claimants
	s.origins = origins
	s.pending = pending
	return nil
}

func (s *FileStore) encodeLocked() ([]byte, error) {
	ds := diskState{
		Version:   stateVersion,
		Period:    s.period,
		Claimants: make(map[string]diskClaimant, len(s.claimants)),
		Pending:   make(map[string]diskPending, len(s.pending)),
	}
	for k, c := range s.claimants {
		ds.Claimants[k] = diskClaimant{LastClaimAt: toNanos(c.LastClaimAt), Total: c.TotalClaimedInPeriod.String(), LastTxRef: c.LastTxRef}
	}
	for id, p := range s.pending {
		ds.Pending[id] = diskPending{
			Profile:  string(p.Profile),
			Claimant: p.Claimant,
			Origin:   p.Origin,
			Amount:   p.Amount.String(),
			Score:    p.Score,
			TxRef:    p.TxRef,
			Error:    p.Error,
			At:       toNanos(p.At),
		}
	}
	return cbor.Marshal(ds)
}

// persistLocked writes the whole state atomically. Callers hold s.mu.
func (s *FileStore) persistLocked(ctx context.Context, op string) error {
	start := time.Now()
	data, err := s.encodeLocked()
	if err == nil {
		err = writeFileAtomic(s.statePath(), data)
	}
	if err != nil {
		metrics.RecordStoreError(op)
		metrics.RecordErrorByComponent("repository", op)
		s.logger.Error(ctx, "durable write failed", logger.String("op", op), logger.Error(err))
		return fmt.Errorf("%s: %w", op, errors.Join(ErrIO, err))
	}
	metrics.RecordStoreWrite(op, float64(time.Since(start).Microseconds())/1000)
	metrics.UpdatePendingTransfers(len(s.pending))
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	return d.Sync()
}

func (s *FileStore) checkOpen() error {
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Claimant implements Store.
func (s *FileStore) Claimant(_ context.Context, key string) (model.ClaimantRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return model.ClaimantRecord{}, err
	}
	return s.claimants[key], nil
}

// Origin implements Store.
func (s *FileStore) Origin(_ context.Context, key string) (model.OriginRecord, error) {
	s.originMu.Lock()
	defer s.originMu.Unlock()
	if s.originsClosed {
		return model.OriginRecord{}, ErrClosed
	}
	return s.origins[key], nil
}

// PutOrigin implements Store.
// The timestamp is appended to the origin journal and fsynced; the global
// store lock is not taken.
func (s *FileStore) PutOrigin(ctx context.Context, key string, rec model.OriginRecord) error {
	line, err := json.Marshal(originEntry{Key: key, At: toNanos(rec.LastRequestAt)})
	if err != nil {
		return fmt.Errorf("encode origin: %w", err)
	}
	line = append(line, '\n')

	s.originMu.Lock()
	defer s.originMu.Unlock()
	if s.originsClosed {
		return ErrClosed
	}
	start := time.Now()
	if err := s.appendOriginLocked(line); err != nil {
		metrics.RecordStoreError("put_origin")
		metrics.RecordErrorByComponent("repository", "put_origin")
		s.logger.Error(ctx, "durable write failed", logger.String("op", "put_origin"), logger.Error(err))
		return fmt.Errorf("put_origin: %w", errors.Join(ErrIO, err))
	}
	s.origins[key] = rec
	s.originLines++
	metrics.RecordStoreWrite("put_origin", float64(time.Since(start).Microseconds())/1000)

	if s.originLines > 2*len(s.origins)+originCompactSlack {
		if err := s.rewriteOriginsLocked(s.origins); err != nil {
			// The journal still holds every line, only longer than needed.
			s.logger.Warn(ctx, "origin journal compaction failed", logger.Error(err))
		}
	}
	return nil
}

func (s *FileStore) appendOriginLocked(line []byte) error {
	if s.originLog == nil {
		f, err := os.OpenFile(s.originsPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, filePerm)
		if err != nil {
			return err
		}
		s.originLog = f
	}
	if _, err := s.originLog.Write(line); err != nil {
		return err
	}
	return s.originLog.Sync()
}

// rewriteOriginsLocked atomically replaces the origin journal with one line
// per origin and reopens it for appending. Callers hold originMu.
func (s *FileStore) rewriteOriginsLocked(origins map[string]model.OriginRecord) error {
	var buf bytes.Buffer
	for k, o := range origins {
		line, err := json.Marshal(originEntry{Key: k, At: toNanos(o.LastRequestAt)})
		if err != nil {
			return err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if err := writeFileAtomic(s.originsPath(), buf.Bytes()); err != nil {
		return err
	}
	// The old handle points at the replaced file.
	if s.originLog != nil {
		_ = s.originLog.Close()
		s.originLog = nil
	}
	f, err := os.OpenFile(s.originsPath(), os.O_APPEND|os.O_WRONLY, filePerm)
	if err != nil {
		return err
	}
	s.originLog = f
	s.originLines = len(origins)
	return nil
}

// loadOrigins replays the origin journal over whatever the state file held.
// Unreadable lines are skipped: losing an origin timestamp only relaxes the
// throttle for one window.
func (s *FileStore) loadOrigins(ctx context.Context) {
	path := s.originsPath()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		s.logger.Warn(ctx, "origin journal unreadable, throttle starts fresh", logger.String("path", path), logger.Error(err))
		metrics.RecordStoreError("load_origins")
		return
	}
	skipped := 0
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e originEntry
		if err := json.Unmarshal(line, &e); err != nil || e.Key == "" {
			skipped++
			continue
		}
		s.origins[e.Key] = model.OriginRecord{LastRequestAt: fromNanos(e.At)}
	}
	if err := sc.Err(); err != nil || skipped > 0 {
		s.logger.Warn(ctx, "skipped unreadable origin journal lines",
			logger.String("path", path),
			logger.Int("skipped", skipped),
			logger.Error(err),
		)
	}
}

// ApplyClaimant implements Store.
func (s *FileStore) ApplyClaimant(ctx context.Context, key string, fn ApplyFunc) (model.ClaimantRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return model.ClaimantRecord{}, false, err
	}
	prev, existed := s.claimants[key]
	next, changed, err := fn(prev)
	if err != nil || !changed {
		return prev, false, err
	}
	s.claimants[key] = next
	if err := s.persistLocked(ctx, "apply_claimant"); err != nil {
		if existed {
			s.claimants[key] = prev
		} else {
			delete(s.claimants, key)
		}
		return prev, false, err
	}
	return next, true, nil
}

// ResetAll implements Store.
func (s *FileStore) ResetAll(ctx context.Context, period string, kinds ...Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.originMu.Lock()
	defer s.originMu.Unlock()

	prevPeriod := s.period
	prevClaimants := s.claimants

	nextClaimants := prevClaimants
	clearOrigins := false
	for _, k := range kinds {
		switch k {
		case KindClaimant:
			nextClaimants = make(map[string]model.ClaimantRecord, len(prevClaimants))
			for key, c := range prevClaimants {
				c.TotalClaimedInPeriod = decimal.Zero
				nextClaimants[key] = c
			}
		case KindOrigin:
			clearOrigins = true
		default:
			return fmt.Errorf("reset kind %d: %w", k, ErrUnknown)
		}
	}

	// Origins are cleared on disk first; a failure there changes nothing.
	prevOrigins := s.origins
	if clearOrigins {
		if err := s.rewriteOriginsLocked(nil); err != nil {
			metrics.RecordStoreError("reset")
			s.logger.Error(ctx, "durable write failed", logger.String("op", "reset"), logger.Error(err))
			return fmt.Errorf("reset origins: %w", errors.Join(ErrIO, err))
		}
		s.origins = make(map[string]model.OriginRecord)
	}

	s.period, s.claimants = period, nextClaimants
	if err := s.persistLocked(ctx, "reset"); err != nil {
		s.period, s.claimants = prevPeriod, prevClaimants
		if clearOrigins {
			s.origins = prevOrigins
			if rerr := s.rewriteOriginsLocked(prevOrigins); rerr != nil {
				s.logger.Error(ctx, "could not restore origin journal", logger.Error(rerr))
			}
		}
		return err
	}
	return nil
}

// Period implements Store.
func (s *FileStore) Period(_ context.Context) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.period
}

// PutPending implements Store.
func (s *FileStore) PutPending(ctx context.Context, p model.PendingTransfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	prev, existed := s.pending[p.CorrelationID]
	s.pending[p.CorrelationID] = p
	if err := s.persistLocked(ctx, "put_pending"); err != nil {
		if existed {
			s.pending[p.CorrelationID] = prev
		} else {
			delete(s.pending, p.CorrelationID)
		}
		return err
	}
	return nil
}

// Pending implements Store.
func (s *FileStore) Pending(_ context.Context, id string) (model.PendingTransfer, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return model.PendingTransfer{}, false, err
	}
	p, ok := s.pending[id]
	return p, ok, nil
}

// PendingFor implements Store.
func (s *FileStore) PendingFor(_ context.Context, claimant string) ([]model.PendingTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var out []model.PendingTransfer
	for _, p := range s.pending {
		if p.Claimant == claimant {
			out = append(out, p)
		}
	}
	return out, nil
}

// DeletePending implements Store.
func (s *FileStore) DeletePending(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	prev, existed := s.pending[id]
	if !existed {
		return nil
	}
	delete(s.pending, id)
	if err := s.persistLocked(ctx, "delete_pending"); err != nil {
		s.pending[id] = prev
		return err
	}
	return nil
}

// AppendEvent implements Store. The line is written with a single write call
// and fsynced; a crash can at worst leave a torn final line, which Events skips.
func (s *FileStore) AppendEvent(ctx context.Context, ev model.DisbursementEvent) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	line = append(line, '\n')

	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	if s.events == nil {
		return ErrClosed
	}
	start := time.Now()
	if _, err := s.events.Write(line); err != nil {
		metrics.RecordStoreError("append_event")
		return fmt.Errorf("append event: %w", errors.Join(ErrIO, err))
	}
	if err := s.events.Sync(); err != nil {
		metrics.RecordStoreError("append_event")
		return fmt.Errorf("sync event log: %w", errors.Join(ErrIO, err))
	}
	metrics.RecordStoreWrite("append_event", float64(time.Since(start).Microseconds())/1000)
	s.logger.Debug(ctx, "event appended", logger.String("id", ev.ID), logger.String("tx", ev.TxRef))
	return nil
}

// Events reads the event log back, skipping a torn or garbled line.
func (s *FileStore) Events(ctx context.Context) ([]model.DisbursementEvent, error) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()

	data, err := os.ReadFile(s.eventsPath())
	if err != nil {
		return nil, fmt.Errorf("read event log: %w", errors.Join(ErrIO, err))
	}
	var out []model.DisbursementEvent
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev model.DisbursementEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			s.logger.Warn(ctx, "skipping unreadable event line", logger.Error(err))
			continue
		}
		out = append(out, ev)
	}
	return out, sc.Err()
}

// Snapshot implements Store.
func (s *FileStore) Snapshot(_ context.Context) (model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return model.Snapshot{}, err
	}
	snap := model.Snapshot{
		Period:    s.period,
		Claimants: make(map[string]model.ClaimantRecord, len(s.claimants)),
		Pending:   make(map[string]model.PendingTransfer, len(s.pending)),
	}
	s.originMu.Lock()
	snap.Origins = make(map[string]model.OriginRecord, len(s.origins))
	for k, v := range s.origins {
		snap.Origins[k] = v
	}
	s.originMu.Unlock()
	for k, v := range s.claimants {
		snap.Claimants[k] = v
	}
	for k, v := range s.pending {
		snap.Pending[k] = v
	}
	return snap, nil
}

// Close flushes the state once more and closes the journals.
func (s *FileStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	err := s.persistLocked(context.Background(), "close")
	s.closed = true
	s.mu.Unlock()

	s.originMu.Lock()
	s.originsClosed = true
	if s.originLog != nil {
		if cerr := s.originLog.Close(); cerr != nil && err == nil {
			err = cerr
		}
		s.originLog = nil
	}
	s.originMu.Unlock()

	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	if s.events != nil {
		if cerr := s.events.Close(); cerr != nil && err == nil {
			err = cerr
		}
		s.events = nil
	}
	return err
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
