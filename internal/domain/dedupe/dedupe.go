// Package dedupe remembers recently seen transaction references so a
// disbursement is mirrored at most once.
package dedupe

import (
	"container/list"
	"context"
	"sync"
)

// Deduper records seen ids.
type Deduper interface {
	// SeenAndRecord reports whether id was already seen and records it if not.
	SeenAndRecord(ctx context.Context, id string) bool
	// Unrecord forgets id so a failed hand-off can be retried.
	Unrecord(ctx context.Context, id string)
	Size() int
}

// window is a bounded set with oldest-first eviction. maxSize <= 0 means unbounded.
type window struct {
	mu      sync.Mutex
	maxSize int
	order   *list.List
	seen    map[string]*list.Element
}

// New creates an in-memory Deduper. Defaults to 10000 entries.
func New(opts ...Option) Deduper {
	w := &window{maxSize: 10_000}
	for _, opt := range opts {
		opt(w)
	}
	w.order = list.New()
	w.seen = make(map[string]*list.Element)
	return w
}

func (w *window) SeenAndRecord(_ context.Context, id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.seen[id]; ok {
		return true
	}
	if w.maxSize > 0 && w.order.Len() >= w.maxSize {
		oldest := w.order.Front()
		w.order.Remove(oldest)
		delete(w.seen, oldest.Value.(string))
	}
	w.seen[id] = w.order.PushBack(id)
	return false
}

func (w *window) Unrecord(_ context.Context, id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e, ok := w.seen[id]; ok {
		w.order.Remove(e)
		delete(w.seen, id)
	}
}

func (w *window) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.order.Len()
}
