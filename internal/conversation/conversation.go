package conversation

import (
	"context"
	"sync"
	"time"

	"tgrelay/internal/history"
)

// Conversation is the per-key handle owned by Store. Its history methods are
// safe for concurrent use; Lock/Unlock additionally serialize whole
// exchanges (append user turn, call the model, append reply) on one key.
type Conversation struct {
	key   Key
	turns *history.Bounded[Turn]
	now   func() time.Time

	// exchange is a one-slot semaphore so waiting can honour a context.
	exchange chan struct{}

	mu         sync.Mutex
	lastActive time.Time
	evicted    bool
}

func newConversation(key Key, maxHistory int, now func() time.Time) *Conversation {
	return &Conversation{
		key:        key,
		turns:      history.NewBounded[Turn](maxHistory),
		now:        now,
		exchange:   make(chan struct{}, 1),
		lastActive: now(),
	}
}

func (c *Conversation) Key() Key {
	return c.key
}

// Append adds turn, dropping the oldest turns beyond the history cap.
func (c *Conversation) Append(turn Turn) {
	c.turns.Append(turn)
	c.touch()
}

// Snapshot returns a copy of the turns in append order.
func (c *Conversation) Snapshot() []Turn {
	return c.turns.Snapshot()
}

// Clear drops every stored turn. The conversation itself stays registered.
func (c *Conversation) Clear() {
	c.turns.Clear()
	c.touch()
}

func (c *Conversation) Len() int {
	return c.turns.Len()
}

// LastActive is the time of the last append, clear or lookup.
func (c *Conversation) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

// Lock waits for exclusive use of the conversation or until ctx is done.
// A context that is already done never takes the lock.
func (c *Conversation) Lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case c.exchange <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unlock releases a lock taken with Lock.
func (c *Conversation) Unlock() {
	<-c.exchange
}

func (c *Conversation) tryLock() bool {
	select {
	case c.exchange <- struct{}{}:
		return true
	default:
		return false
	}
}

func (c *Conversation) touch() {
	now := c.now()
	c.mu.Lock()
	c.lastActive = now
	c.mu.Unlock()
}

func (c *Conversation) markEvicted() {
	c.mu.Lock()
	c.evicted = true
	c.mu.Unlock()
}

func (c *Conversation) isEvicted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evicted
}
