// Package cache holds the TTL and owner-aware cache slots shared by the
// device, package and health components.
package cache

import (
	"sync"
	"time"
)

// Clock returns the current time. Components take one so tests can move time.
type Clock func() time.Time

// Entry is a cached payload stamped with its capture time, lifetime and the
// serial of the device it was read from. An empty Owner matches any device.
type Entry[T any] struct {
	Value      T
	CapturedAt time.Time
	TTL        time.Duration
	Owner      string
}

// Age reports how long ago the entry was captured.
func (e Entry[T]) Age(now time.Time) time.Duration {
	return now.Sub(e.CapturedAt)
}

// Expired reports whether the entry's TTL has elapsed.
func (e Entry[T]) Expired(now time.Time) bool {
	return e.Age(now) >= e.TTL
}

// ValidFor reports whether the entry may be served for owner at now.
func (e Entry[T]) ValidFor(now time.Time, owner string) bool {
	return !e.Expired(now) && e.Owner == owner
}

// Slot is a single cache entry behind its own lock. The lock is held only to
// read or replace the entry, never while the value is being produced.
type Slot[T any] struct {
	mu    sync.Mutex
	entry *Entry[T]
}

// Get returns the value when a valid entry exists for owner.
func (s *Slot[T]) Get(now time.Time, owner string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == nil || !s.entry.ValidFor(now, owner) {
		var zero T
		return zero, false
	}
	return s.entry.Value, true
}

// Peek returns the stored entry regardless of freshness.
func (s *Slot[T]) Peek() (Entry[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == nil {
		return Entry[T]{}, false
	}
	return *s.entry, true
}

// Set atomically replaces the stored entry.
func (s *Slot[T]) Set(e Entry[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry = &e
}

// Clear drops the stored entry.
func (s *Slot[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry = nil
}

// Expire keeps the stored value but marks it stale.
func (s *Slot[T]) Expire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry != nil {
		s.entry.TTL = 0
	}
}
