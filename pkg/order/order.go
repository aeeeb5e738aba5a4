// Package order defines the order aggregate read by the saga core.
package order

import (
	"fmt"
	"time"
)

// Status defines the lifecycle of an order.
type Status int

const (
	StatusPending Status = iota
	StatusProcessing
	StatusCompleted
	StatusFailed
	StatusCompensating
	StatusCompensated
)

var validTransitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusProcessing: {},
	},
	StatusProcessing: {
		StatusCompleted:    {},
		StatusFailed:       {},
		StatusCompensating: {},
	},
	StatusCompensating: {
		StatusCompensated: {},
		StatusFailed:      {},
	},
	StatusFailed: {
		StatusProcessing: {},
	},
	StatusCompensated: {
		StatusProcessing: {},
	},
}

// String returns the string form of Status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusProcessing:
		return "processing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCompensating:
		return "compensating"
	case StatusCompensated:
		return "compensated"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the status is terminal for forward progress.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCompensated:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether an order in this status may be retried.
func (s Status) IsRetryable() bool {
	switch s {
	case StatusFailed, StatusCompensated:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks whether a status transition is valid.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	validNext, ok := validTransitions[s]
	if !ok {
		return false
	}
	_, ok = validNext[next]
	return ok
}

// ValidateTransition validates transition semantics.
func ValidateTransition(current, next Status) error {
	if !current.CanTransitionTo(next) {
		return fmt.Errorf("invalid order status transition: %s -> %s", current, next)
	}
	return nil
}

// Item is one ordered line item.
type Item struct {
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

// Order is the order aggregate snapshot. The saga core only reads it and
// requests status transitions through the store.
type Order struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	Items      []Item    `json:"items"`
	TotalCents int64     `json:"total_cents"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// New creates a pending order and computes its total from the items.
func New(id, customerID string, items []Item) *Order {
	now := time.Now().UTC()
	ord := &Order{
		ID:         id,
		CustomerID: customerID,
		Items:      append([]Item(nil), items...),
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	ord.TotalCents = Total(items)
	return ord
}

// Total sums item prices in minor currency units.
func Total(items []Item) int64 {
	var total int64
	for _, item := range items {
		total += item.UnitPriceCents * int64(item.Quantity)
	}
	return total
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Items = append([]Item(nil), o.Items...)
	return &clone
}
