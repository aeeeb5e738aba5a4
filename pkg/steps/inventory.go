package steps

import (
	"context"
	"fmt"

	"github.com/orderflow/orderflow/pkg/saga"
	"github.com/orderflow/orderflow/pkg/services"
)

// InventoryStep reserves stock for every order item. It runs first so that a
// failure leaves nothing to undo.
type InventoryStep struct {
	client services.InventoryClient
}

// NewInventoryStep creates the inventory reservation step.
func NewInventoryStep(client services.InventoryClient) *InventoryStep {
	return &InventoryStep{client: client}
}

func (s *InventoryStep) Name() string { return StepNameInventory }
func (s *InventoryStep) Order() int   { return 1 }

// ValidatePreconditions rejects an order with no items before any external
// call is made.
func (s *InventoryStep) ValidatePreconditions(sc *saga.SagaContext) *saga.StepResult {
	if sc.Order == nil || len(sc.Order.Items) == 0 {
		return saga.Fail("NO_ITEMS", "order has no items to reserve")
	}
	return nil
}

// Execute reserves inventory and stashes the reservation id for later
// compensation.
func (s *InventoryStep) Execute(ctx context.Context, sc *saga.SagaContext) *saga.StepResult {
	reservation, err := s.client.Reserve(ctx, sc.Order.ID, sc.Order.Items)
	if err != nil {
		return failure("INVENTORY_UNAVAILABLE", err)
	}

	saga.Put(sc, KeyReservationID, reservation.ReservationID)
	return saga.Succeed(map[string]string{
		KeyReservationID.Name(): reservation.ReservationID,
	})
}

// Compensate releases the reservation. A missing reservation id means the
// reserve call never succeeded, so there is nothing to undo.
func (s *InventoryStep) Compensate(ctx context.Context, sc *saga.SagaContext) *saga.CompensationResult {
	reservationID, ok := saga.Get(sc, KeyReservationID)
	if !ok {
		return saga.CompensationSucceeded()
	}
	if err := s.client.Release(ctx, reservationID); err != nil {
		return saga.CompensationFailed(fmt.Sprintf("release reservation %s: %v", reservationID, err))
	}
	return saga.CompensationSucceeded()
}

// RestoreContext parses persisted step data back into context keys on retry.
func (s *InventoryStep) RestoreContext(sc *saga.SagaContext, data map[string]string) {
	if reservationID := data[KeyReservationID.Name()]; reservationID != "" {
		saga.Put(sc, KeyReservationID, reservationID)
	}
}

// ProducedKeys lists the keys a successful run stores.
func (s *InventoryStep) ProducedKeys() []string {
	return []string{KeyReservationID.Name()}
}
