// Package dedup provides a TTL-bounded set used to drop repeated webhook
// deliveries of the same update.
package dedup

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long an accepted id is remembered.
const DefaultTTL = time.Hour

// Clock returns the current time. Tests swap it for a fake.
type Clock func() time.Time

// Option configures a KeySet.
type Option[K comparable] func(*KeySet[K])

// WithClock overrides time.Now.
func WithClock[K comparable](clock Clock) Option[K] {
	return func(s *KeySet[K]) {
		s.now = clock
	}
}

// WithOnEvict registers a callback invoked after each sweep with the number
// of removed entries and the remaining size.
func WithOnEvict[K comparable](fn func(removed, remaining int)) Option[K] {
	return func(s *KeySet[K]) {
		s.onEvict = fn
	}
}

// KeySet remembers ids for ttl after their first insertion.
// All methods are safe for concurrent use.
type KeySet[K comparable] struct {
	mu      sync.Mutex
	entries map[K]time.Time
	ttl     time.Duration
	now     Clock
	onEvict func(removed, remaining int)
}

// New creates a KeySet. A non-positive ttl falls back to DefaultTTL.
func New[K comparable](ttl time.Duration, opts ...Option[K]) *KeySet[K] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &KeySet[K]{
		entries: make(map[K]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TryInsert records id and returns true when no live entry for it exists.
// It returns false for a duplicate. Check and insert happen under one lock,
// so concurrent callers with the same id see exactly one true.
func (s *KeySet[K]) TryInsert(id K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if insertedAt, ok := s.entries[id]; ok && !s.expired(insertedAt, now) {
		return false
	}
	s.entries[id] = now
	return true
}

// Sweep drops every entry older than ttl relative to now and returns how
// many were removed.
func (s *KeySet[K]) Sweep(now time.Time) int {
	s.mu.Lock()
	var removed int
	for id, insertedAt := range s.entries {
		if s.expired(insertedAt, now) {
			delete(s.entries, id)
			removed++
		}
	}
	remaining := len(s.entries)
	s.mu.Unlock()

	if s.onEvict != nil {
		s.onEvict(removed, remaining)
	}
	return removed
}

// Run sweeps every interval until ctx is done. An entry is therefore gone
// at most ttl+interval after insertion.
func (s *KeySet[K]) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(s.now())
		}
	}
}

// Len returns the number of stored entries, expired ones included until the
// next sweep.
func (s *KeySet[K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// TTL returns the configured lifetime.
func (s *KeySet[K]) TTL() time.Duration {
	return s.ttl
}

func (s *KeySet[K]) expired(insertedAt, now time.Time) bool {
	return now.Sub(insertedAt) > s.ttl
}
