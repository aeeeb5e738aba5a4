package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orderflow/orderflow/pkg/order"
)

// MemoryInventoryService tracks reservations in memory.
type MemoryInventoryService struct {
	mu           sync.Mutex
	reservations map[string][]order.Item
	released     map[string]bool

	// FailReserveWith, when set, makes Reserve fail with this error.
	FailReserveWith *ServiceError
	// FailReleaseWith, when set, makes Release fail with this error.
	FailReleaseWith *ServiceError
}

// NewMemoryInventoryService constructs an in-memory inventory client.
func NewMemoryInventoryService() *MemoryInventoryService {
	return &MemoryInventoryService{
		reservations: make(map[string][]order.Item),
		released:     make(map[string]bool),
	}
}

// Reserve places a reservation and returns its identifier.
func (s *MemoryInventoryService) Reserve(_ context.Context, orderID string, items []order.Item) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailReserveWith != nil {
		return nil, s.FailReserveWith
	}
	id := "res-" + uuid.NewString()
	s.reservations[id] = append([]order.Item(nil), items...)
	return &Reservation{ReservationID: id, Status: "reserved"}, nil
}

// Release releases a reservation.
func (s *MemoryInventoryService) Release(_ context.Context, reservationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailReleaseWith != nil {
		return s.FailReleaseWith
	}
	if _, ok := s.reservations[reservationID]; !ok {
		return &ServiceError{Service: "inventory", Code: "RESERVATION_NOT_FOUND", Message: "unknown reservation " + reservationID}
	}
	s.released[reservationID] = true
	return nil
}

// Released reports whether a reservation was released.
func (s *MemoryInventoryService) Released(reservationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released[reservationID]
}

// ReserveCalls returns the number of reservations placed.
func (s *MemoryInventoryService) ReserveCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reservations)
}

// MemoryPaymentService tracks authorizations in memory.
type MemoryPaymentService struct {
	mu             sync.Mutex
	authorizations map[string]int64
	voided         map[string]bool

	FailAuthorizeWith *ServiceError
	FailVoidWith      *ServiceError
}

// NewMemoryPaymentService constructs an in-memory payment client.
func NewMemoryPaymentService() *MemoryPaymentService {
	return &MemoryPaymentService{
		authorizations: make(map[string]int64),
		voided:         make(map[string]bool),
	}
}

// Authorize places a payment hold and returns its identifier.
func (s *MemoryPaymentService) Authorize(_ context.Context, orderID, paymentMethodID string, amountCents int64) (*Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAuthorizeWith != nil {
		return nil, s.FailAuthorizeWith
	}
	if paymentMethodID == "" {
		return nil, &ServiceError{Service: "payment", Code: "INVALID_PAYMENT_METHOD", Message: "payment method id is empty"}
	}
	id := "auth-" + uuid.NewString()
	s.authorizations[id] = amountCents
	return &Authorization{AuthorizationID: id, Status: "authorized"}, nil
}

// Void voids a payment hold.
func (s *MemoryPaymentService) Void(_ context.Context, authorizationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailVoidWith != nil {
		return s.FailVoidWith
	}
	if _, ok := s.authorizations[authorizationID]; !ok {
		return &ServiceError{Service: "payment", Code: "AUTHORIZATION_NOT_FOUND", Message: "unknown authorization " + authorizationID}
	}
	s.voided[authorizationID] = true
	return nil
}

// Voided reports whether an authorization was voided.
func (s *MemoryPaymentService) Voided(authorizationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voided[authorizationID]
}

// AuthorizedAmount returns the held amount for an authorization.
func (s *MemoryPaymentService) AuthorizedAmount(authorizationID string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	amount, ok := s.authorizations[authorizationID]
	return amount, ok
}

// MemoryShippingService tracks shipments in memory.
type MemoryShippingService struct {
	mu        sync.Mutex
	shipments map[string]string
	cancelled map[string]bool

	FailBookWith   *ServiceError
	FailCancelWith *ServiceError
	// DeliveryLeadTime controls the estimated delivery date on booked shipments.
	DeliveryLeadTime time.Duration
}

// NewMemoryShippingService constructs an in-memory shipping client.
func NewMemoryShippingService() *MemoryShippingService {
	return &MemoryShippingService{
		shipments:        make(map[string]string),
		cancelled:        make(map[string]bool),
		DeliveryLeadTime: 72 * time.Hour,
	}
}

// Book books a shipment to the given address.
func (s *MemoryShippingService) Book(_ context.Context, orderID, shippingAddress string) (*Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailBookWith != nil {
		return nil, s.FailBookWith
	}
	if shippingAddress == "" {
		return nil, &ServiceError{Service: "shipping", Code: "INVALID_ADDRESS", Message: "shipping address is empty"}
	}
	id := "ship-" + uuid.NewString()
	s.shipments[id] = shippingAddress
	return &Shipment{
		ShipmentID:        id,
		TrackingNumber:    "trk-" + uuid.NewString(),
		EstimatedDelivery: time.Now().UTC().Add(s.DeliveryLeadTime),
		Status:            "booked",
	}, nil
}

// Cancel cancels a booked shipment.
func (s *MemoryShippingService) Cancel(_ context.Context, shipmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCancelWith != nil {
		return s.FailCancelWith
	}
	if _, ok := s.shipments[shipmentID]; !ok {
		return &ServiceError{Service: "shipping", Code: "SHIPMENT_NOT_FOUND", Message: "unknown shipment " + shipmentID}
	}
	s.cancelled[shipmentID] = true
	return nil
}

// Cancelled reports whether a shipment was cancelled.
func (s *MemoryShippingService) Cancelled(shipmentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled[shipmentID]
}
