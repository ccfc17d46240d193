// Package history implements a fixed-capacity, append-only log.
package history

import "sync"

// DefaultCapacity matches MAX_CONVERSATION_HISTORY's default.
const DefaultCapacity = 22

// Bounded keeps at most cap items in append order. When an append overflows
// the capacity the oldest single items are dropped until it fits; role
// pairing is not considered.
type Bounded[T any] struct {
	mu    sync.RWMutex
	items []T
	cap   int
}

// NewBounded creates a log. A non-positive capacity falls back to
// DefaultCapacity.
func NewBounded[T any](capacity int) *Bounded[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bounded[T]{
		items: make([]T, 0, capacity),
		cap:   capacity,
	}
}

// Append adds item to the tail and returns how many items were evicted from
// the head.
func (b *Bounded[T]) Append(item T) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = append(b.items, item)
	overflow := len(b.items) - b.cap
	if overflow <= 0 {
		return 0
	}

	// Shift in place so the backing array does not grow without bound.
	n := copy(b.items, b.items[overflow:])
	var zero T
	for i := n; i < len(b.items); i++ {
		b.items[i] = zero
	}
	b.items = b.items[:n]
	return overflow
}

// Snapshot returns a copy of the current items. Later appends do not affect
// the returned slice.
func (b *Bounded[T]) Snapshot() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]T, len(b.items))
	copy(out, b.items)
	return out
}

// Clear empties the log.
func (b *Bounded[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.items = b.items[:0]
}

func (b *Bounded[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

func (b *Bounded[T]) Cap() int {
	return b.cap
}
