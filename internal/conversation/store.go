// Package conversation keeps bounded per-chat message history in memory.
package conversation

import (
	"context"
	"sync"
	"time"

	"tgrelay/internal/history"
)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now for lastActive bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store owns every Conversation of the process. The index lock is only held
// for map access, so work on one key never waits on another key.
type Store struct {
	mu         sync.RWMutex
	convs      map[Key]*Conversation
	maxHistory int
	now        func() time.Time
}

// NewStore creates a store whose conversations keep at most maxHistory
// turns. A non-positive value falls back to history.DefaultCapacity.
func NewStore(maxHistory int, opts ...Option) *Store {
	if maxHistory <= 0 {
		maxHistory = history.DefaultCapacity
	}
	s := &Store{
		convs:      make(map[Key]*Conversation),
		maxHistory: maxHistory,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate returns the conversation for key, creating it on first use.
// Concurrent first calls for one key all receive the same handle.
func (s *Store) GetOrCreate(key Key) *Conversation {
	s.mu.RLock()
	conv, ok := s.convs[key]
	s.mu.RUnlock()
	if ok {
		conv.touch()
		return conv
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.convs[key]; ok {
		return conv
	}
	conv = newConversation(key, s.maxHistory, s.now)
	s.convs[key] = conv
	return conv
}

// Get returns the conversation for key without creating it.
func (s *Store) Get(key Key) (*Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[key]
	return conv, ok
}

// Acquire returns the conversation for key with its exchange lock held.
// The caller must Unlock it. If idle eviction removed the handle while the
// caller was waiting, a fresh one is resolved.
func (s *Store) Acquire(ctx context.Context, key Key) (*Conversation, error) {
	for {
		conv := s.GetOrCreate(key)
		if err := conv.Lock(ctx); err != nil {
			return nil, err
		}
		if !conv.isEvicted() {
			return conv, nil
		}
		conv.Unlock()
	}
}

// Append adds turn to the conversation for key.
func (s *Store) Append(key Key, turn Turn) {
	s.GetOrCreate(key).Append(turn)
}

// Clear empties the history for key. Unknown keys are a no-op.
func (s *Store) Clear(key Key) {
	if conv, ok := s.Get(key); ok {
		conv.Clear()
	}
}

// Snapshot returns a copy of the turns for key, or nil for unknown keys.
func (s *Store) Snapshot(key Key) []Turn {
	conv, ok := s.Get(key)
	if !ok {
		return nil
	}
	return conv.Snapshot()
}

// Len returns the number of live conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}

// MaxHistory returns the per-conversation turn cap.
func (s *Store) MaxHistory() int {
	return s.maxHistory
}

// EvictIdle removes conversations inactive for longer than idle relative to
// now. Conversations with an exchange in flight are kept. A non-positive
// idle disables eviction.
func (s *Store) EvictIdle(now time.Time, idle time.Duration) int {
	if idle <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted int
	for key, conv := range s.convs {
		if now.Sub(conv.LastActive()) <= idle {
			continue
		}
		if !conv.tryLock() {
			continue
		}
		conv.markEvicted()
		delete(s.convs, key)
		conv.Unlock()
		evicted++
	}
	return evicted
}

// RunEviction calls EvictIdle every interval until ctx is done. onEvict, if
// not nil, receives the count of each non-empty pass.
func (s *Store) RunEviction(ctx context.Context, idle, interval time.Duration, onEvict func(int)) {
	if idle <= 0 {
		return
	}
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
			if n := s.EvictIdle(s.now(), idle); n > 0 && onEvict != nil {
				onEvict(n)
			}
		}
	}
}
