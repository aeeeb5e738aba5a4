package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrOrderNotFound is returned when an order cannot be located.
var ErrOrderNotFound = errors.New("order not found")

// Store provides persistence for orders.
type Store interface {
	Save(ctx context.Context, ord *Order) error
	Get(ctx context.Context, orderID string) (*Order, error)
	UpdateStatus(ctx context.Context, orderID string, status Status) error
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*Order
}

// NewMemoryStore creates an in-memory order store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]*Order),
	}
}

// Save saves an order.
func (s *MemoryStore) Save(_ context.Context, ord *Order) error {
	if ord == nil {
		return fmt.Errorf("order cannot be nil")
	}
	if ord.ID == "" {
		return fmt.Errorf("order id cannot be empty")
	}
	s.mu.Lock()
	s.orders[ord.ID] = ord.Clone()
	s.mu.Unlock()
	return nil
}

// Get gets one order by id.
func (s *MemoryStore) Get(_ context.Context, orderID string) (*Order, error) {
	s.mu.RLock()
	ord, ok := s.orders[orderID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrOrderNotFound
	}
	return ord.Clone(), nil
}

// UpdateStatus applies a validated status transition.
func (s *MemoryStore) UpdateStatus(_ context.Context, orderID string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ord, ok := s.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if err := ValidateTransition(ord.Status, status); err != nil {
		return err
	}
	ord.Status = status
	ord.UpdatedAt = nowUTC()
	return nil
}
