package saga

import (
	"context"
	"errors"
	"sync"
)

// ErrRetryLocked is returned when another retry already holds the per-order
// lock.
var ErrRetryLocked = errors.New("retry lock already held for order")

// RetryGuard serializes retry attempts per order. Acquire returns a release
// function on success and ErrRetryLocked when the lock is already held.
type RetryGuard interface {
	Acquire(ctx context.Context, orderID string) (func(), error)
}

// MemoryRetryGuard is a single-process RetryGuard.
type MemoryRetryGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryRetryGuard creates an in-memory retry guard.
func NewMemoryRetryGuard() *MemoryRetryGuard {
	return &MemoryRetryGuard{held: make(map[string]struct{})}
}

// Acquire takes the per-order lock.
func (g *MemoryRetryGuard) Acquire(_ context.Context, orderID string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.held[orderID]; ok {
		return nil, ErrRetryLocked
	}
	g.held[orderID] = struct{}{}

	var once sync.Once
	release := func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, orderID)
			g.mu.Unlock()
		})
	}
	return release, nil
}
