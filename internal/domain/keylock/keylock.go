// Package keylock provides per-key exclusive sections.
//
// A Set hands out one lock per key and forgets keys nobody holds or waits
// for, so memory stays bounded by the number of concurrent requests rather
// than by the number of keys ever seen.
package keylock

import (
	"context"
	"errors"
	"sync"
)

// ErrBusy is returned by TryLock when the key is held.
var ErrBusy = errors.New("keylock: key busy")

type entry struct {
	sem  chan struct{}
	refs int
}

// Set is a collection of per-key mutexes. The zero value is not usable; use New.
type Set struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty Set.
func New() *Set {
	return &Set{entries: make(map[string]*entry)}
}

func (s *Set) acquireRef(key string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		s.entries[key] = e
	}
	e.refs++
	return e
}

func (s *Set) releaseRef(key string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(s.entries, key)
	}
}

// Lock blocks until key is free or ctx is done. The returned func releases
// the lock and must be called exactly once.
func (s *Set) Lock(ctx context.Context, key string) (func(), error) {
	e := s.acquireRef(key)
	select {
	case e.sem <- struct{}{}:
		return s.unlocker(key, e), nil
	case <-ctx.Done():
		s.releaseRef(key, e)
		return nil, ctx.Err()
	}
}

// TryLock takes key without waiting, or fails with ErrBusy.
func (s *Set) TryLock(key string) (func(), error) {
	e := s.acquireRef(key)
	select {
	case e.sem <- struct{}{}:
		return s.unlocker(key, e), nil
	default:
		s.releaseRef(key, e)
		return nil, ErrBusy
	}
}

func (s *Set) unlocker(key string, e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			s.releaseRef(key, e)
		})
	}
}

// Len reports how many keys are currently held or awaited.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
