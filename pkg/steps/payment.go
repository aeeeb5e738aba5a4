package steps

import (
	"context"
	"fmt"
	"strconv"

	"github.com/orderflow/orderflow/pkg/saga"
	"github.com/orderflow/orderflow/pkg/services"
)

// PaymentStep authorizes a payment hold for the order total. The hold is
// captured downstream of the saga; a compensated saga voids it.
type PaymentStep struct {
	client services.PaymentClient
}

// NewPaymentStep creates the payment authorization step.
func NewPaymentStep(client services.PaymentClient) *PaymentStep {
	return &PaymentStep{client: client}
}

func (s *PaymentStep) Name() string { return StepNamePayment }
func (s *PaymentStep) Order() int   { return 2 }

// Execute authorizes the order total against the context's payment method.
func (s *PaymentStep) Execute(ctx context.Context, sc *saga.SagaContext) *saga.StepResult {
	amount := sc.Order.TotalCents
	authorization, err := s.client.Authorize(ctx, sc.Order.ID, sc.PaymentMethodID, amount)
	if err != nil {
		return failure("PAYMENT_DECLINED", err)
	}

	saga.Put(sc, KeyAuthorizationID, authorization.AuthorizationID)
	saga.Put(sc, KeyPaymentMethodID, sc.PaymentMethodID)
	saga.Put(sc, KeyAmountCents, amount)
	return saga.Succeed(map[string]string{
		KeyAuthorizationID.Name(): authorization.AuthorizationID,
		KeyPaymentMethodID.Name(): sc.PaymentMethodID,
		KeyAmountCents.Name():     strconv.FormatInt(amount, 10),
	})
}

// Compensate voids the authorization. A missing authorization id means the
// hold was never placed, so there is nothing to undo.
func (s *PaymentStep) Compensate(ctx context.Context, sc *saga.SagaContext) *saga.CompensationResult {
	authorizationID, ok := saga.Get(sc, KeyAuthorizationID)
	if !ok {
		return saga.CompensationSucceeded()
	}
	if err := s.client.Void(ctx, authorizationID); err != nil {
		return saga.CompensationFailed(fmt.Sprintf("void authorization %s: %v", authorizationID, err))
	}
	return saga.CompensationSucceeded()
}

// RestoreContext parses persisted step data back into context keys on retry.
// A malformed amount is dropped rather than restored wrong.
func (s *PaymentStep) RestoreContext(sc *saga.SagaContext, data map[string]string) {
	if authorizationID := data[KeyAuthorizationID.Name()]; authorizationID != "" {
		saga.Put(sc, KeyAuthorizationID, authorizationID)
	}
	if paymentMethodID := data[KeyPaymentMethodID.Name()]; paymentMethodID != "" {
		saga.Put(sc, KeyPaymentMethodID, paymentMethodID)
	}
	if raw := data[KeyAmountCents.Name()]; raw != "" {
		if amount, err := strconv.ParseInt(raw, 10, 64); err == nil {
			saga.Put(sc, KeyAmountCents, amount)
		}
	}
}

// ProducedKeys lists the keys resume validation requires. The amount and
// payment method are recoverable from the order, so only the authorization
// id is mandatory.
func (s *PaymentStep) ProducedKeys() []string {
	return []string{KeyAuthorizationID.Name()}
}

// EnrichResult reports the charged amount on a successful run.
func (s *PaymentStep) EnrichResult(sc *saga.SagaContext, result *saga.SagaResult) {
	if amount, ok := saga.Get(sc, KeyAmountCents); ok {
		result.TotalChargedCents = amount
	}
}
