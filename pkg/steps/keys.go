// Package steps provides the concrete order saga steps: inventory
// reservation, payment authorization, and shipping arrangement.
package steps

import (
	"errors"
	"time"

	"github.com/orderflow/orderflow/pkg/saga"
	"github.com/orderflow/orderflow/pkg/services"
)

// Fixed step names used in persistence, skip lists, and retry records.
const (
	StepNameInventory = "Inventory Reservation"
	StepNamePayment   = "Payment Processing"
	StepNameShipping  = "Shipping Arrangement"
)

// Typed context keys for data flowing between steps and into compensation.
var (
	KeyReservationID     = saga.Key[string]("reservationId")
	KeyAuthorizationID   = saga.Key[string]("authorizationId")
	KeyPaymentMethodID   = saga.Key[string](saga.DataFieldPaymentMethodID)
	KeyAmountCents       = saga.Key[int64]("amountInCents")
	KeyShipmentID        = saga.Key[string]("shipmentId")
	KeyTrackingNumber    = saga.Key[string]("trackingNumber")
	KeyEstimatedDelivery = saga.Key[time.Time]("estimatedDelivery")
	KeyShippingAddress   = saga.Key[string](saga.DataFieldShippingAddress)
)

// failure translates a collaborator error into a step failure result,
// keeping the service's error code when it raised a typed error.
func failure(fallbackCode string, err error) *saga.StepResult {
	var serviceErr *services.ServiceError
	if errors.As(err, &serviceErr) {
		return saga.Fail(serviceErr.Code, serviceErr.Message)
	}
	return saga.Fail(fallbackCode, err.Error())
}
