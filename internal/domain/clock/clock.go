// Package clock supplies the current time and period boundaries.
//
// Everything that compares timestamps takes a Clock so tests can drive time
// explicitly with Manual instead of sleeping.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock is the time source used by the admission engine.
type Clock interface {
	Now() time.Time
	// After delivers the clock's time once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// System is the wall clock.
type System struct{}

// Now returns time.Now.
func (System) Now() time.Time { return time.Now() }

// After wraps time.After.
func (System) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Manual is a Clock that only moves when told to.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	waiters []waiter
}

type waiter struct {
	at time.Time
	ch chan time.Time
}

// NewManual returns a Manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// After fires once the clock is advanced past now+d.
func (m *Manual) After(d time.Duration) <-chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan time.Time, 1)
	at := m.now.Add(d)
	if d <= 0 {
		ch <- m.now
		return ch
	}
	m.waiters = append(m.waiters, waiter{at: at, ch: ch})
	return ch
}

// Advance moves the clock forward by d and fires due waiters in deadline order.
func (m *Manual) Advance(d time.Duration) {
	m.Set(m.Now().Add(d))
}

// Set moves the clock to t. Moving backwards is allowed but fires nothing.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	var due, keep []waiter
	for _, w := range m.waiters {
		if !w.at.After(t) {
			due = append(due, w)
		} else {
			keep = append(keep, w)
		}
	}
	m.waiters = keep
	m.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, w := range due {
		w.ch <- t
	}
}

// Waiters reports how many After channels are still pending.
func (m *Manual) Waiters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}

// PeriodStart returns the start of the calendar day containing t in loc.
func PeriodStart(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// NextBoundary returns the first day boundary in loc strictly after t.
func NextBoundary(t time.Time, loc *time.Location) time.Time {
	start := PeriodStart(t, loc)
	// AddDate keeps wall-clock midnight across DST shifts.
	return start.AddDate(0, 0, 1)
}

// PeriodLabel identifies the period containing t, e.g. "2026-10-19".
func PeriodLabel(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(time.DateOnly)
}
