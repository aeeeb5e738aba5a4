// Package models defines the HTTP API request and response payloads.
package models

import (
	"time"

	"github.com/orderflow/orderflow/pkg/order"
	"github.com/orderflow/orderflow/pkg/saga"
)

// CreateOrderRequest is the payload for placing a new order.
type CreateOrderRequest struct {
	CustomerID      string             `json:"customer_id" validate:"required"`
	Items           []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
	PaymentMethodID string             `json:"payment_method_id" validate:"required"`
	ShippingAddress string             `json:"shipping_address" validate:"required"`
}

// OrderItemRequest is one line item of a new order.
type OrderItemRequest struct {
	SKU            string `json:"sku" validate:"required"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity" validate:"required,min=1"`
	UnitPriceCents int64  `json:"unit_price_cents" validate:"min=0"`
}

// OrderItems converts the request line items to domain items.
func (r *CreateOrderRequest) OrderItems() []order.Item {
	items := make([]order.Item, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, order.Item{
			SKU:            item.SKU,
			Name:           item.Name,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		})
	}
	return items
}

// RetryOrderRequest is the payload for retrying a failed order. Both fields
// are optional overrides; absent fields fall back to the data the original
// execution persisted.
type RetryOrderRequest struct {
	PaymentMethodID string `json:"payment_method_id"`
	ShippingAddress string `json:"shipping_address"`
}

// OrderResponse is the API view of an order.
type OrderResponse struct {
	ID         string              `json:"id"`
	CustomerID string              `json:"customer_id"`
	Items      []OrderItemResponse `json:"items"`
	TotalCents int64               `json:"total_cents"`
	Status     string              `json:"status"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// OrderItemResponse is one line item of an order response.
type OrderItemResponse struct {
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

// NewOrderResponse converts a domain order to its API view.
func NewOrderResponse(ord *order.Order) OrderResponse {
	items := make([]OrderItemResponse, 0, len(ord.Items))
	for _, item := range ord.Items {
		items = append(items, OrderItemResponse{
			SKU:            item.SKU,
			Name:           item.Name,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		})
	}
	return OrderResponse{
		ID:         ord.ID,
		CustomerID: ord.CustomerID,
		Items:      items,
		TotalCents: ord.TotalCents,
		Status:     ord.Status.String(),
		CreatedAt:  ord.CreatedAt,
		UpdatedAt:  ord.UpdatedAt,
	}
}

// SagaResultResponse is the API view of one saga run's outcome.
type SagaResultResponse struct {
	ExecutionID string `json:"execution_id"`
	OrderID     string `json:"order_id"`
	Outcome     string `json:"outcome"`

	ConfirmationNumber string     `json:"confirmation_number,omitempty"`
	TotalChargedCents  int64      `json:"total_charged_cents,omitempty"`
	TrackingNumber     string     `json:"tracking_number,omitempty"`
	EstimatedDelivery  *time.Time `json:"estimated_delivery,omitempty"`

	FailedStep          string   `json:"failed_step,omitempty"`
	ErrorCode           string   `json:"error_code,omitempty"`
	ErrorMessage        string   `json:"error_message,omitempty"`
	CompensatedSteps    []string `json:"compensated_steps,omitempty"`
	FailedCompensations []string `json:"failed_compensations,omitempty"`
}

// NewSagaResultResponse converts a saga result to its API view.
func NewSagaResultResponse(result *saga.SagaResult) SagaResultResponse {
	resp := SagaResultResponse{
		ExecutionID:         result.ExecutionID,
		OrderID:             result.OrderID,
		Outcome:             result.Outcome.String(),
		ConfirmationNumber:  result.ConfirmationNumber,
		TotalChargedCents:   result.TotalChargedCents,
		TrackingNumber:      result.TrackingNumber,
		FailedStep:          result.FailedStep,
		ErrorCode:           result.ErrorCode,
		ErrorMessage:        result.ErrorMessage,
		CompensatedSteps:    result.CompensatedSteps,
		FailedCompensations: result.FailedCompensations,
	}
	if !result.EstimatedDelivery.IsZero() {
		estimated := result.EstimatedDelivery
		resp.EstimatedDelivery = &estimated
	}
	return resp
}

// ExecutionResponse is the API view of a saga execution.
type ExecutionResponse struct {
	ID            string               `json:"id"`
	OrderID       string               `json:"order_id"`
	Status        string               `json:"status"`
	CurrentStep   int                  `json:"current_step"`
	FailedStep    int                  `json:"failed_step,omitempty"`
	FailureReason string               `json:"failure_reason,omitempty"`
	RetryOf       string               `json:"retry_of,omitempty"`
	StartedAt     time.Time            `json:"started_at"`
	CompletedAt   *time.Time           `json:"completed_at,omitempty"`
	Steps         []StepResultResponse `json:"steps,omitempty"`
}

// StepResultResponse is the API view of one step's persisted state.
type StepResultResponse struct {
	StepName     string     `json:"step_name"`
	StepOrder    int        `json:"step_order"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// NewExecutionResponse converts an execution and its step results to the API
// view.
func NewExecutionResponse(execution *saga.SagaExecution, steps []*saga.SagaStepResult) ExecutionResponse {
	resp := ExecutionResponse{
		ID:            execution.ID,
		OrderID:       execution.OrderID,
		Status:        execution.Status.String(),
		CurrentStep:   execution.CurrentStep,
		FailedStep:    execution.FailedStep,
		FailureReason: execution.FailureReason,
		RetryOf:       execution.RetryOf,
		StartedAt:     execution.StartedAt,
		CompletedAt:   execution.CompletedAt,
	}
	for _, step := range steps {
		resp.Steps = append(resp.Steps, StepResultResponse{
			StepName:     step.StepName,
			StepOrder:    step.StepOrder,
			Status:       step.Status.String(),
			ErrorMessage: step.ErrorMessage,
			StartedAt:    step.StartedAt,
			CompletedAt:  step.CompletedAt,
		})
	}
	return resp
}

// RetryAttemptResponse is the API view of a retry attempt.
type RetryAttemptResponse struct {
	ID                  string     `json:"id"`
	OrderID             string     `json:"order_id"`
	OriginalExecutionID string     `json:"original_execution_id"`
	NewExecutionID      string     `json:"new_execution_id,omitempty"`
	AttemptNumber       int        `json:"attempt_number"`
	ResumedFromStep     string     `json:"resumed_from_step,omitempty"`
	SkippedSteps        []string   `json:"skipped_steps,omitempty"`
	Outcome             string     `json:"outcome"`
	FailureReason       string     `json:"failure_reason,omitempty"`
	StartedAt           time.Time  `json:"started_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
}

// NewRetryAttemptResponse converts a retry attempt to its API view.
func NewRetryAttemptResponse(attempt *saga.RetryAttempt) RetryAttemptResponse {
	return RetryAttemptResponse{
		ID:                  attempt.ID,
		OrderID:             attempt.OrderID,
		OriginalExecutionID: attempt.OriginalExecutionID,
		NewExecutionID:      attempt.NewExecutionID,
		AttemptNumber:       attempt.AttemptNumber,
		ResumedFromStep:     attempt.ResumedFromStep,
		SkippedSteps:        attempt.SkippedSteps,
		Outcome:             attempt.Outcome.String(),
		FailureReason:       attempt.FailureReason,
		StartedAt:           attempt.StartedAt,
		CompletedAt:         attempt.CompletedAt,
	}
}
