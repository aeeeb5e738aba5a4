// Package services defines the remote collaborator contracts the saga core
// calls and in-memory implementations used by tests and the demo binary.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/orderflow/orderflow/pkg/order"
)

// ServiceError is a typed failure raised by a remote collaborator.
type ServiceError struct {
	Service   string
	Code      string
	Message   string
	Retryable bool
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Service, e.Message, e.Code)
}

// Reservation is the result of reserving inventory.
type Reservation struct {
	ReservationID string
	Status        string
}

// InventoryClient reserves and releases inventory for an order.
type InventoryClient interface {
	Reserve(ctx context.Context, orderID string, items []order.Item) (*Reservation, error)
	Release(ctx context.Context, reservationID string) error
}

// Authorization is the result of authorizing a payment hold.
type Authorization struct {
	AuthorizationID string
	Status          string
}

// PaymentClient authorizes and voids payment holds.
type PaymentClient interface {
	Authorize(ctx context.Context, orderID, paymentMethodID string, amountCents int64) (*Authorization, error)
	Void(ctx context.Context, authorizationID string) error
}

// Shipment is the result of booking a shipment.
type Shipment struct {
	ShipmentID        string
	TrackingNumber    string
	EstimatedDelivery time.Time
	Status            string
}

// ShippingClient books and cancels shipments.
type ShippingClient interface {
	Book(ctx context.Context, orderID, shippingAddress string) (*Shipment, error)
	Cancel(ctx context.Context, shipmentID string) error
}
