package saga

import (
	"sort"
	"sync"

	"github.com/orderflow/orderflow/pkg/order"
)

// ContextKey identifies a typed value stored in a SagaContext. The type
// parameter ties each key to its value type so steps exchange data without
// runtime casts.
type ContextKey[T any] struct {
	name string
}

// Key creates a typed context key.
func Key[T any](name string) ContextKey[T] {
	return ContextKey[T]{name: name}
}

// Name returns the key identifier used for persistence and resume validation.
func (k ContextKey[T]) Name() string {
	return k.name
}

// SagaContext is the mutable per-execution data carrier. It holds the order
// snapshot, the coordination fields every step needs, and a typed key/value
// store for data produced by one step and consumed by a later step or by
// compensation. It exists only for the lifetime of one orchestrator invocation
// and is never persisted as a whole.
type SagaContext struct {
	ExecutionID     string
	Order           *order.Order
	CustomerID      string
	PaymentMethodID string
	ShippingAddress string

	mu        sync.RWMutex
	values    map[string]any
	completed map[string]struct{}
}

// NewContext creates a saga context for one execution.
func NewContext(executionID string, ord *order.Order, paymentMethodID, shippingAddress string) *SagaContext {
	customerID := ""
	if ord != nil {
		customerID = ord.CustomerID
	}
	return &SagaContext{
		ExecutionID:     executionID,
		Order:           ord,
		CustomerID:      customerID,
		PaymentMethodID: paymentMethodID,
		ShippingAddress: shippingAddress,
		values:          make(map[string]any),
		completed:       make(map[string]struct{}),
	}
}

// Put stores a value under a typed key.
func Put[T any](c *SagaContext, key ContextKey[T], value T) {
	c.mu.Lock()
	c.values[key.name] = value
	c.mu.Unlock()
}

// Get retrieves a value stored under a typed key. Absence returns the zero
// value and false, never an error.
func Get[T any](c *SagaContext, key ContextKey[T]) (T, bool) {
	c.mu.RLock()
	raw, ok := c.values[key.name]
	c.mu.RUnlock()
	if !ok {
		var zero T
		return zero, false
	}
	value, ok := raw.(T)
	if !ok {
		// Unreachable when values are written through Put with the same key.
		var zero T
		return zero, false
	}
	return value, true
}

// HasKey reports whether any value is stored under the given key name.
func (c *SagaContext) HasKey(name string) bool {
	c.mu.RLock()
	_, ok := c.values[name]
	c.mu.RUnlock()
	return ok
}

// MarkCompleted records that a step has completed in this execution.
func (c *SagaContext) MarkCompleted(stepName string) {
	c.mu.Lock()
	c.completed[stepName] = struct{}{}
	c.mu.Unlock()
}

// Completed reports whether a step has completed in this execution.
func (c *SagaContext) Completed(stepName string) bool {
	c.mu.RLock()
	_, ok := c.completed[stepName]
	c.mu.RUnlock()
	return ok
}

// CompletedSteps returns the names of completed steps in sorted order.
func (c *SagaContext) CompletedSteps() []string {
	c.mu.RLock()
	names := make([]string, 0, len(c.completed))
	for name := range c.completed {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)
	return names
}
