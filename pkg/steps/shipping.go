package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/orderflow/orderflow/pkg/saga"
	"github.com/orderflow/orderflow/pkg/services"
)

// ShippingStep books a shipment for the order. It runs last so a failure
// here triggers compensation of the payment hold and the reservation.
type ShippingStep struct {
	client services.ShippingClient
}

// NewShippingStep creates the shipping arrangement step.
func NewShippingStep(client services.ShippingClient) *ShippingStep {
	return &ShippingStep{client: client}
}

func (s *ShippingStep) Name() string { return StepNameShipping }
func (s *ShippingStep) Order() int   { return 3 }

// ValidatePreconditions rejects a context with no shipping address before
// the carrier is called.
func (s *ShippingStep) ValidatePreconditions(sc *saga.SagaContext) *saga.StepResult {
	if sc.ShippingAddress == "" {
		return saga.Fail("MISSING_SHIPPING_ADDRESS", "shipping address is required")
	}
	return nil
}

// Execute books the shipment and stashes the tracking details.
func (s *ShippingStep) Execute(ctx context.Context, sc *saga.SagaContext) *saga.StepResult {
	shipment, err := s.client.Book(ctx, sc.Order.ID, sc.ShippingAddress)
	if err != nil {
		return failure("SHIPPING_UNAVAILABLE", err)
	}

	saga.Put(sc, KeyShipmentID, shipment.ShipmentID)
	saga.Put(sc, KeyTrackingNumber, shipment.TrackingNumber)
	saga.Put(sc, KeyEstimatedDelivery, shipment.EstimatedDelivery)
	saga.Put(sc, KeyShippingAddress, sc.ShippingAddress)
	return saga.Succeed(map[string]string{
		KeyShipmentID.Name():        shipment.ShipmentID,
		KeyTrackingNumber.Name():    shipment.TrackingNumber,
		KeyEstimatedDelivery.Name(): shipment.EstimatedDelivery.UTC().Format(time.RFC3339),
		KeyShippingAddress.Name():   sc.ShippingAddress,
	})
}

// Compensate cancels the shipment. A missing shipment id means the booking
// never succeeded, so there is nothing to undo.
func (s *ShippingStep) Compensate(ctx context.Context, sc *saga.SagaContext) *saga.CompensationResult {
	shipmentID, ok := saga.Get(sc, KeyShipmentID)
	if !ok {
		return saga.CompensationSucceeded()
	}
	if err := s.client.Cancel(ctx, shipmentID); err != nil {
		return saga.CompensationFailed(fmt.Sprintf("cancel shipment %s: %v", shipmentID, err))
	}
	return saga.CompensationSucceeded()
}

// RestoreContext parses persisted step data back into context keys on retry.
// An unparseable delivery estimate is dropped rather than restored wrong.
func (s *ShippingStep) RestoreContext(sc *saga.SagaContext, data map[string]string) {
	if shipmentID := data[KeyShipmentID.Name()]; shipmentID != "" {
		saga.Put(sc, KeyShipmentID, shipmentID)
	}
	if trackingNumber := data[KeyTrackingNumber.Name()]; trackingNumber != "" {
		saga.Put(sc, KeyTrackingNumber, trackingNumber)
	}
	if raw := data[KeyEstimatedDelivery.Name()]; raw != "" {
		if estimated, err := time.Parse(time.RFC3339, raw); err == nil {
			saga.Put(sc, KeyEstimatedDelivery, estimated)
		}
	}
	if address := data[KeyShippingAddress.Name()]; address != "" {
		saga.Put(sc, KeyShippingAddress, address)
	}
}

// ProducedKeys lists the keys resume validation requires.
func (s *ShippingStep) ProducedKeys() []string {
	return []string{KeyShipmentID.Name(), KeyTrackingNumber.Name()}
}

// EnrichResult reports the tracking details on a successful run.
func (s *ShippingStep) EnrichResult(sc *saga.SagaContext, result *saga.SagaResult) {
	if trackingNumber, ok := saga.Get(sc, KeyTrackingNumber); ok {
		result.TrackingNumber = trackingNumber
	}
	if estimated, ok := saga.Get(sc, KeyEstimatedDelivery); ok {
		result.EstimatedDelivery = estimated
	}
}
