package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow/orderflow/pkg/api/models"
	"github.com/orderflow/orderflow/pkg/api/response"
	"github.com/orderflow/orderflow/pkg/order"
	"github.com/orderflow/orderflow/pkg/saga"
	"github.com/orderflow/orderflow/pkg/services"
	"github.com/orderflow/orderflow/pkg/steps"
)

type handlerFixture struct {
	orders    *order.MemoryStore
	store     *saga.MemoryStore
	inventory *services.MemoryInventoryService
	payment   *services.MemoryPaymentService
	shipping  *services.MemoryShippingService
	router    chi.Router
}

func newHandlerFixture(t *testing.T, maxAttempts int) *handlerFixture {
	t.Helper()
	f := &handlerFixture{
		orders:    order.NewMemoryStore(),
		store:     saga.NewMemoryStore(),
		inventory: services.NewMemoryInventoryService(),
		payment:   services.NewMemoryPaymentService(),
		shipping:  services.NewMemoryShippingService(),
	}

	orchestrator, err := saga.NewOrchestrator(f.orders, f.store, []saga.SagaStep{
		steps.NewInventoryStep(f.inventory),
		steps.NewPaymentStep(f.payment),
		steps.NewShippingStep(f.shipping),
	})
	require.NoError(t, err)

	retrier, err := saga.NewRetryOrchestrator(orchestrator, f.store, saga.NewMemoryRetryGuard(), saga.RetryConfig{MaxAttempts: maxAttempts})
	require.NoError(t, err)

	h := NewOrderHandler(f.orders, f.store, f.store, orchestrator, retrier, nil)

	r := chi.NewRouter()
	r.Post("/api/v1/orders", h.CreateOrder)
	r.Get("/api/v1/orders/{id}", h.GetOrder)
	r.Get("/api/v1/orders/{id}/executions", h.ListExecutions)
	r.Post("/api/v1/orders/{id}/retry", h.RetryOrder)
	r.Get("/api/v1/orders/{id}/retries", h.ListRetries)
	r.Get("/api/v1/executions/{id}", h.GetExecution)
	f.router = r
	return f
}

func (f *handlerFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[response.ErrorResponse](t, rec).Error.Code
}

func newOrderBody() models.CreateOrderRequest {
	return models.CreateOrderRequest{
		CustomerID: "cust-1",
		Items: []models.OrderItemRequest{
			{SKU: "sku-1", Name: "Widget", Quantity: 2, UnitPriceCents: 1500},
			{SKU: "sku-2", Name: "Gadget", Quantity: 1, UnitPriceCents: 9900},
		},
		PaymentMethodID: "pm-1",
		ShippingAddress: "221B Baker Street",
	}
}

// placeOrder posts a new order and returns the saga result from the response.
func (f *handlerFixture) placeOrder(t *testing.T, wantStatus int) models.SagaResultResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/orders", newOrderBody())
	require.Equal(t, wantStatus, rec.Code, "body: %s", rec.Body.String())
	return decodeBody[models.SagaResultResponse](t, rec)
}

func TestCreateOrder_Success(t *testing.T) {
	f := newHandlerFixture(t, 3)

	result := f.placeOrder(t, http.StatusCreated)
	assert.Equal(t, "success", result.Outcome)
	assert.True(t, strings.HasPrefix(result.ConfirmationNumber, "ORD-"), "confirmation number %q", result.ConfirmationNumber)
	assert.Equal(t, int64(12900), result.TotalChargedCents)
	assert.NotEmpty(t, result.TrackingNumber)
	require.NotNil(t, result.EstimatedDelivery)

	ord, err := f.orders.Get(context.Background(), result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCompleted, ord.Status)
}

func TestCreateOrder_FailedSagaReturns422(t *testing.T) {
	f := newHandlerFixture(t, 3)
	f.shipping.FailBookWith = &services.ServiceError{Service: "shipping", Code: "NO_CAPACITY", Message: "no carrier capacity"}

	result := f.placeOrder(t, http.StatusUnprocessableEntity)
	assert.Equal(t, "compensated", result.Outcome)
	assert.Equal(t, "NO_CAPACITY", result.ErrorCode)
	assert.Len(t, result.CompensatedSteps, 2)
}

func TestCreateOrder_InvalidBody(t *testing.T) {
	f := newHandlerFixture(t, 3)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, response.ErrCodeBadRequest, errorCode(t, rec))
}

func TestCreateOrder_ValidationFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.CreateOrderRequest)
	}{
		{"missing customer", func(r *models.CreateOrderRequest) { r.CustomerID = "" }},
		{"no items", func(r *models.CreateOrderRequest) { r.Items = nil }},
		{"zero quantity", func(r *models.CreateOrderRequest) { r.Items[0].Quantity = 0 }},
		{"missing payment method", func(r *models.CreateOrderRequest) { r.PaymentMethodID = "" }},
		{"missing shipping address", func(r *models.CreateOrderRequest) { r.ShippingAddress = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t, 3)
			body := newOrderBody()
			tt.mutate(&body)

			rec := f.do(t, http.MethodPost, "/api/v1/orders", body)
			require.Equal(t, http.StatusBadRequest, rec.Code, "body: %s", rec.Body.String())
			assert.Equal(t, response.ErrCodeValidationFailed, errorCode(t, rec))
		})
	}
}

func TestGetOrder(t *testing.T) {
	f := newHandlerFixture(t, 3)
	result := f.placeOrder(t, http.StatusCreated)

	t.Run("found", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/orders/"+result.OrderID, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decodeBody[models.OrderResponse](t, rec)
		assert.Equal(t, result.OrderID, resp.ID)
		assert.Equal(t, "cust-1", resp.CustomerID)
		assert.Equal(t, int64(12900), resp.TotalCents)
		assert.Len(t, resp.Items, 2)
		assert.Equal(t, "completed", resp.Status)
	})

	t.Run("not found", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/orders/missing", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, response.ErrCodeNotFound, errorCode(t, rec))
	})
}

func TestListExecutions(t *testing.T) {
	f := newHandlerFixture(t, 3)
	result := f.placeOrder(t, http.StatusCreated)

	rec := f.do(t, http.MethodGet, "/api/v1/orders/"+result.OrderID+"/executions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	executions := decodeBody[[]models.ExecutionResponse](t, rec)
	require.Len(t, executions, 1)
	assert.Equal(t, result.ExecutionID, executions[0].ID)
	assert.Equal(t, "completed", executions[0].Status)
	// The list view omits step detail.
	assert.Empty(t, executions[0].Steps)
}

func TestGetExecution(t *testing.T) {
	f := newHandlerFixture(t, 3)
	result := f.placeOrder(t, http.StatusCreated)

	t.Run("found with steps", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/executions/"+result.ExecutionID, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decodeBody[models.ExecutionResponse](t, rec)
		assert.Equal(t, result.OrderID, resp.OrderID)
		require.Len(t, resp.Steps, 3)
		for _, step := range resp.Steps {
			assert.Equal(t, "completed", step.Status, "step %q", step.StepName)
		}
	})

	t.Run("not found", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/executions/missing", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRetryOrder_Success(t *testing.T) {
	f := newHandlerFixture(t, 3)

	// First run: the card is declined and the saga compensates.
	f.payment.FailAuthorizeWith = &services.ServiceError{Service: "payment", Code: "PAYMENT_DECLINED", Message: "card declined"}
	first := f.placeOrder(t, http.StatusUnprocessableEntity)
	f.payment.FailAuthorizeWith = nil

	// The first run never booked a shipment, so the retry carries the address
	// again along with the replacement card.
	rec := f.do(t, http.MethodPost, "/api/v1/orders/"+first.OrderID+"/retry", models.RetryOrderRequest{
		PaymentMethodID: "pm-replacement",
		ShippingAddress: "221B Baker Street",
	})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	var resp struct {
		Attempt models.RetryAttemptResponse `json:"attempt"`
		Result  models.SagaResultResponse   `json:"result"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	assert.Equal(t, "success", resp.Attempt.Outcome)
	assert.Equal(t, 1, resp.Attempt.AttemptNumber)
	assert.Equal(t, first.ExecutionID, resp.Attempt.OriginalExecutionID)
	assert.Equal(t, "success", resp.Result.Outcome)
	assert.NotEmpty(t, resp.Result.TrackingNumber)

	ord, err := f.orders.Get(context.Background(), first.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCompleted, ord.Status)
}

func TestRetryOrder_FailedRetryReturns422(t *testing.T) {
	f := newHandlerFixture(t, 3)
	f.shipping.FailBookWith = &services.ServiceError{Service: "shipping", Code: "NO_CAPACITY", Message: "no carrier capacity"}
	first := f.placeOrder(t, http.StatusUnprocessableEntity)

	// Shipping is still down; the retry fails again. The payment method is
	// restored from the first run's persisted step data, but the address
	// never persisted and has to be carried again.
	rec := f.do(t, http.MethodPost, "/api/v1/orders/"+first.OrderID+"/retry", models.RetryOrderRequest{
		ShippingAddress: "221B Baker Street",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, "body: %s", rec.Body.String())

	var resp struct {
		Attempt models.RetryAttemptResponse `json:"attempt"`
		Result  models.SagaResultResponse   `json:"result"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	assert.Equal(t, "failed", resp.Attempt.Outcome)
	assert.Equal(t, "NO_CAPACITY", resp.Result.ErrorCode)
}

func TestRetryOrder_ErrorMapping(t *testing.T) {
	t.Run("unknown order returns 404", func(t *testing.T) {
		f := newHandlerFixture(t, 3)
		rec := f.do(t, http.MethodPost, "/api/v1/orders/missing/retry", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("non-retryable order returns 409", func(t *testing.T) {
		f := newHandlerFixture(t, 3)
		ord := order.New("ord-pending", "cust-1", []order.Item{{SKU: "sku-1", Quantity: 1, UnitPriceCents: 100}})
		require.NoError(t, f.orders.Save(context.Background(), ord))

		rec := f.do(t, http.MethodPost, "/api/v1/orders/ord-pending/retry", nil)
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, response.ErrCodeConflict, errorCode(t, rec))
	})

	t.Run("exhausted attempts return 429", func(t *testing.T) {
		f := newHandlerFixture(t, 1)
		f.shipping.FailBookWith = &services.ServiceError{Service: "shipping", Code: "NO_CAPACITY", Message: "no carrier capacity"}
		first := f.placeOrder(t, http.StatusUnprocessableEntity)

		// The single allowed attempt fails, then the limit kicks in.
		retryBody := models.RetryOrderRequest{ShippingAddress: "221B Baker Street"}
		rec := f.do(t, http.MethodPost, "/api/v1/orders/"+first.OrderID+"/retry", retryBody)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code, "body: %s", rec.Body.String())

		rec = f.do(t, http.MethodPost, "/api/v1/orders/"+first.OrderID+"/retry", retryBody)
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "RETRY_LIMIT_REACHED", errorCode(t, rec))
	})

	t.Run("unreconstructable context returns 400", func(t *testing.T) {
		f := newHandlerFixture(t, 3)
		f.payment.FailAuthorizeWith = &services.ServiceError{Service: "payment", Code: "PAYMENT_DECLINED", Message: "card declined"}
		first := f.placeOrder(t, http.StatusUnprocessableEntity)
		f.payment.FailAuthorizeWith = nil

		// The first run failed before shipping, so no source can supply the
		// address and the retry is rejected before it consumes an attempt.
		rec := f.do(t, http.MethodPost, "/api/v1/orders/"+first.OrderID+"/retry", models.RetryOrderRequest{
			PaymentMethodID: "pm-replacement",
		})
		require.Equal(t, http.StatusBadRequest, rec.Code, "body: %s", rec.Body.String())
		assert.Equal(t, response.ErrCodeValidationFailed, errorCode(t, rec))

		rec = f.do(t, http.MethodGet, "/api/v1/orders/"+first.OrderID+"/retries", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, decodeBody[[]models.RetryAttemptResponse](t, rec))
	})

	t.Run("malformed retry body returns 400", func(t *testing.T) {
		f := newHandlerFixture(t, 3)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord-1/retry", strings.NewReader("{not json"))
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestListRetries(t *testing.T) {
	f := newHandlerFixture(t, 3)
	f.shipping.FailBookWith = &services.ServiceError{Service: "shipping", Code: "NO_CAPACITY", Message: "no carrier capacity"}
	first := f.placeOrder(t, http.StatusUnprocessableEntity)

	t.Run("empty before any retry", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/orders/"+first.OrderID+"/retries", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, decodeBody[[]models.RetryAttemptResponse](t, rec))
	})

	f.shipping.FailBookWith = nil
	retryBody := models.RetryOrderRequest{PaymentMethodID: "pm-1", ShippingAddress: "221B Baker Street"}
	rec := f.do(t, http.MethodPost, "/api/v1/orders/"+first.OrderID+"/retry", retryBody)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	t.Run("lists recorded attempts", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/orders/"+first.OrderID+"/retries", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		attempts := decodeBody[[]models.RetryAttemptResponse](t, rec)
		require.Len(t, attempts, 1)
		assert.Equal(t, first.OrderID, attempts[0].OrderID)
		assert.Equal(t, "success", attempts[0].Outcome)
	})
}
