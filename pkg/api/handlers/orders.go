// Package handlers provides HTTP request handlers.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/orderflow/orderflow/pkg/api/middleware"
	"github.com/orderflow/orderflow/pkg/api/models"
	"github.com/orderflow/orderflow/pkg/api/response"
	"github.com/orderflow/orderflow/pkg/logger"
	"github.com/orderflow/orderflow/pkg/order"
	"github.com/orderflow/orderflow/pkg/saga"
)

// OrderHandler handles order placement, inspection, and retry endpoints.
type OrderHandler struct {
	orders       order.Store
	executions   saga.ExecutionStore
	retries      saga.RetryStore
	orchestrator *saga.OrderSagaOrchestrator
	retrier      *saga.RetryOrchestrator
	validate     *validator.Validate
	log          logger.Logger
}

// NewOrderHandler creates an order handler.
func NewOrderHandler(
	orders order.Store,
	executions saga.ExecutionStore,
	retries saga.RetryStore,
	orchestrator *saga.OrderSagaOrchestrator,
	retrier *saga.RetryOrchestrator,
	log logger.Logger,
) *OrderHandler {
	if log == nil {
		log = logger.Global()
	}
	return &OrderHandler{
		orders:       orders,
		executions:   executions,
		retries:      retries,
		orchestrator: orchestrator,
		retrier:      retrier,
		validate:     validator.New(),
		log:          log,
	}
}

// CreateOrder handles POST /api/v1/orders. The saga runs synchronously; the
// response reports the run's outcome.
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req models.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "invalid request body", requestID)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), requestID)
		return
	}

	ord := order.New(uuid.NewString(), req.CustomerID, req.OrderItems())
	if err := h.orders.Save(r.Context(), ord); err != nil {
		h.log.ErrorContext(r.Context(), "failed to save order", "error", err)
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "failed to save order", requestID)
		return
	}

	result, err := h.orchestrator.Execute(r.Context(), ord, req.PaymentMethodID, req.ShippingAddress)
	if err != nil {
		if errors.Is(err, saga.ErrExecutionActive) {
			response.Error(w, http.StatusConflict, response.ErrCodeConflict, "order already has an execution in progress", requestID)
			return
		}
		h.log.ErrorContext(r.Context(), "saga execution failed", "order_id", ord.ID, "error", err)
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "order processing failed", requestID)
		return
	}

	status := http.StatusCreated
	if !result.Succeeded() {
		status = http.StatusUnprocessableEntity
	}
	response.JSON(w, status, models.NewSagaResultResponse(result))
}

// GetOrder handles GET /api/v1/orders/{id}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	orderID := chi.URLParam(r, "id")

	ord, err := h.orders.Get(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "order not found", requestID)
			return
		}
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "failed to load order", requestID)
		return
	}
	response.JSON(w, http.StatusOK, models.NewOrderResponse(ord))
}

// ListExecutions handles GET /api/v1/orders/{id}/executions.
func (h *OrderHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	orderID := chi.URLParam(r, "id")

	executions, err := h.executions.ExecutionsByOrder(r.Context(), orderID)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "failed to load executions", requestID)
		return
	}

	resp := make([]models.ExecutionResponse, 0, len(executions))
	for _, execution := range executions {
		resp = append(resp, models.NewExecutionResponse(execution, nil))
	}
	response.JSON(w, http.StatusOK, resp)
}

// GetExecution handles GET /api/v1/executions/{id}, including step detail.
func (h *OrderHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	executionID := chi.URLParam(r, "id")

	execution, err := h.executions.GetExecution(r.Context(), executionID)
	if err != nil {
		if errors.Is(err, saga.ErrExecutionNotFound) {
			response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "execution not found", requestID)
			return
		}
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "failed to load execution", requestID)
		return
	}

	steps, err := h.executions.StepResultsByExecution(r.Context(), executionID)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "failed to load step results", requestID)
		return
	}
	response.JSON(w, http.StatusOK, models.NewExecutionResponse(execution, steps))
}

// RetryOrder handles POST /api/v1/orders/{id}/retry.
func (h *OrderHandler) RetryOrder(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	orderID := chi.URLParam(r, "id")

	var req models.RetryOrderRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "invalid request body", requestID)
			return
		}
	}

	attempt, result, err := h.retrier.Retry(r.Context(), saga.RetryRequest{
		OrderID:         orderID,
		PaymentMethodID: req.PaymentMethodID,
		ShippingAddress: req.ShippingAddress,
	})
	if err != nil {
		h.writeRetryError(w, r, err, requestID)
		return
	}

	resp := map[string]any{
		"attempt": models.NewRetryAttemptResponse(attempt),
		"result":  models.NewSagaResultResponse(result),
	}
	status := http.StatusOK
	if !result.Succeeded() {
		status = http.StatusUnprocessableEntity
	}
	response.JSON(w, status, resp)
}

// ListRetries handles GET /api/v1/orders/{id}/retries.
func (h *OrderHandler) ListRetries(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	orderID := chi.URLParam(r, "id")

	attempts, err := h.retries.RetryAttemptsByOrder(r.Context(), orderID)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "failed to load retry attempts", requestID)
		return
	}

	resp := make([]models.RetryAttemptResponse, 0, len(attempts))
	for _, attempt := range attempts {
		resp = append(resp, models.NewRetryAttemptResponse(attempt))
	}
	response.JSON(w, http.StatusOK, resp)
}

func (h *OrderHandler) writeRetryError(w http.ResponseWriter, r *http.Request, err error, requestID string) {
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "order not found", requestID)
	case errors.Is(err, saga.ErrRetryLocked), errors.Is(err, saga.ErrRetryActive):
		response.Error(w, http.StatusConflict, response.ErrCodeConflict, "a retry is already in progress for this order", requestID)
	case errors.Is(err, saga.ErrOrderNotRetryable):
		response.Error(w, http.StatusConflict, response.ErrCodeConflict, err.Error(), requestID)
	case errors.Is(err, saga.ErrRetryLimitReached):
		response.Error(w, http.StatusTooManyRequests, "RETRY_LIMIT_REACHED", err.Error(), requestID)
	case errors.Is(err, saga.ErrNoFailedExecution):
		response.Error(w, http.StatusConflict, response.ErrCodeConflict, err.Error(), requestID)
	case errors.Is(err, saga.ErrRetryContextInvalid):
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), requestID)
	default:
		h.log.ErrorContext(r.Context(), "retry failed", "error", err)
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "retry failed", requestID)
	}
}
