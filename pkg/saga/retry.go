package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/orderflow/orderflow/pkg/logger"
	"github.com/orderflow/orderflow/pkg/order"
)

var (
	// ErrOrderNotRetryable is returned when the order is not in a retryable
	// status.
	ErrOrderNotRetryable = errors.New("order status does not allow retry")
	// ErrRetryLimitReached is returned when the order has exhausted its
	// retry attempts.
	ErrRetryLimitReached = errors.New("retry attempt limit reached for order")
	// ErrNoFailedExecution is returned when the order has no failed
	// execution to resume from.
	ErrNoFailedExecution = errors.New("order has no failed execution to retry")
	// ErrRetryContextInvalid is returned when the retry context cannot be
	// reconstructed from the request, the original execution's step data,
	// and the configured defaults.
	ErrRetryContextInvalid = errors.New("retry context cannot be reconstructed")
)

// Step data field names the retry path reads back from persisted payloads.
const (
	DataFieldPaymentMethodID = "paymentMethodId"
	DataFieldShippingAddress = "shippingAddress"
)

// RetryRequest carries caller-supplied overrides for one retry. Empty fields
// fall back to the data persisted by the original execution.
type RetryRequest struct {
	OrderID         string
	PaymentMethodID string
	ShippingAddress string
}

// RetryConfig bounds retry behavior.
type RetryConfig struct {
	// MaxAttempts is the number of retries allowed per order.
	MaxAttempts int
	// DefaultPaymentMethodID is the last-resort payment method when neither
	// the request nor the original execution supplies one.
	DefaultPaymentMethodID string
}

// RetryOrchestrator resumes failed order sagas. A retry creates a fresh
// execution, reconstructs the saga context from the original execution's
// persisted step data, skips the steps whose results could be restored, and
// runs the remaining steps through the regular orchestrator.
type RetryOrchestrator struct {
	saga       *OrderSagaOrchestrator
	retryStore RetryStore
	guard      RetryGuard
	builder    *RetryContextBuilder
	cfg        RetryConfig
}

// NewRetryOrchestrator creates a retry orchestrator. A nil guard falls back
// to a single-process in-memory guard.
func NewRetryOrchestrator(saga *OrderSagaOrchestrator, retryStore RetryStore, guard RetryGuard, cfg RetryConfig) (*RetryOrchestrator, error) {
	if saga == nil {
		return nil, fmt.Errorf("saga orchestrator cannot be nil")
	}
	if retryStore == nil {
		return nil, fmt.Errorf("retry store cannot be nil")
	}
	if guard == nil {
		guard = NewMemoryRetryGuard()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &RetryOrchestrator{
		saga:       saga,
		retryStore: retryStore,
		guard:      guard,
		builder:    NewRetryContextBuilder(saga.store),
		cfg:        cfg,
	}, nil
}

// Retry resumes the latest failed execution of an order. Eligibility checks
// and context reconstruction run under the per-order guard and before the
// attempt is recorded, so a rejected retry never consumes an attempt. The
// returned attempt records what was skipped and how the retry ended; the
// SagaResult is nil when the retry was rejected before running.
func (r *RetryOrchestrator) Retry(ctx context.Context, req RetryRequest) (*RetryAttempt, *SagaResult, error) {
	if req.OrderID == "" {
		return nil, nil, fmt.Errorf("order id is required")
	}

	release, err := r.guard.Acquire(ctx, req.OrderID)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	ctx, span := sagaTracer().Start(ctx, spanSagaRetry)
	span.SetAttributes(attribute.String("saga.order_id", req.OrderID))
	defer span.End()

	ord, err := r.saga.orders.Get(ctx, req.OrderID)
	if err != nil {
		return nil, nil, fmt.Errorf("load order: %w", err)
	}
	if !ord.Status.IsRetryable() {
		return nil, nil, fmt.Errorf("%w: order %s is %s", ErrOrderNotRetryable, ord.ID, ord.Status)
	}

	previous, err := r.retryStore.RetryAttemptsByOrder(ctx, req.OrderID)
	if err != nil {
		return nil, nil, fmt.Errorf("load retry attempts: %w", err)
	}
	if len(previous) >= r.cfg.MaxAttempts {
		return nil, nil, fmt.Errorf("%w: %d of %d used", ErrRetryLimitReached, len(previous), r.cfg.MaxAttempts)
	}

	original, err := r.latestFailedExecution(ctx, req.OrderID)
	if err != nil {
		return nil, nil, err
	}

	execution := NewExecution(uuid.NewString(), ord.ID, logger.CorrelationID(ctx))
	execution.RetryOf = original.ID

	steps := r.saga.steps
	sc, restored, err := r.builder.Build(ctx, original.ID, execution.ID, ord, req, r.cfg.DefaultPaymentMethodID, steps)
	if err != nil {
		return nil, nil, err
	}
	if missing := ValidateContextForResume(sc, steps, restored); len(missing) > 0 {
		return nil, nil, fmt.Errorf("%w: restored step data is missing keys %v", ErrRetryContextInvalid, flattenMissingKeys(missing))
	}

	skippable := make(map[string]struct{}, len(restored))
	for _, name := range restored {
		skippable[name] = struct{}{}
	}

	attempt := &RetryAttempt{
		ID:                  uuid.NewString(),
		OrderID:             req.OrderID,
		OriginalExecutionID: original.ID,
		NewExecutionID:      execution.ID,
		AttemptNumber:       len(previous) + 1,
		ResumedFromStep:     firstUnskipped(steps, skippable),
		SkippedSteps:        sortedNames(skippable),
		Outcome:             RetryInProgress,
		StartedAt:           time.Now().UTC(),
	}
	if err := r.retryStore.CreateRetryAttempt(ctx, attempt); err != nil {
		return nil, nil, fmt.Errorf("create retry attempt: %w", err)
	}

	result, err := r.resume(ctx, execution, sc, skippable, ord)
	if err != nil {
		r.finishAttempt(ctx, attempt, RetryFailed, err.Error())
		return attempt, nil, err
	}

	outcome, reason := classifyRetryOutcome(original, result)
	r.finishAttempt(ctx, attempt, outcome, reason)
	r.saga.metrics.RetryAttempted(outcome.String())
	return attempt, result, nil
}

// resume persists the new execution and runs the unskipped steps with the
// reconstructed context.
func (r *RetryOrchestrator) resume(
	ctx context.Context,
	execution *SagaExecution,
	sc *SagaContext,
	skippable map[string]struct{},
	ord *order.Order,
) (*SagaResult, error) {
	if err := r.saga.store.CreateExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("create retry execution: %w", err)
	}
	if err := r.saga.orders.UpdateStatus(ctx, ord.ID, order.StatusProcessing); err != nil {
		r.saga.abortExecution(ctx, execution.ID, err.Error())
		return nil, fmt.Errorf("move order to processing: %w", err)
	}
	ord.Status = order.StatusProcessing

	skip := func(step SagaStep) bool {
		_, ok := skippable[step.Name()]
		return ok
	}
	return r.saga.Run(ctx, execution, sc, skip)
}

// latestFailedExecution returns the most recent terminal non-completed
// execution of the order.
func (r *RetryOrchestrator) latestFailedExecution(ctx context.Context, orderID string) (*SagaExecution, error) {
	executions, err := r.saga.store.ExecutionsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load executions: %w", err)
	}
	for i := len(executions) - 1; i >= 0; i-- {
		execution := executions[i]
		if execution.Status == ExecutionFailed || execution.Status == ExecutionCompensated {
			return execution, nil
		}
	}
	return nil, ErrNoFailedExecution
}

func (r *RetryOrchestrator) finishAttempt(ctx context.Context, attempt *RetryAttempt, outcome RetryOutcome, reason string) {
	attempt.Outcome = outcome
	attempt.FailureReason = reason
	now := time.Now().UTC()
	attempt.CompletedAt = &now
	if err := r.retryStore.UpdateRetryAttempt(ctx, attempt); err != nil {
		r.saga.log.ErrorContext(ctx, "failed to finalize retry attempt",
			"attempt_id", attempt.ID,
			"order_id", attempt.OrderID,
			"error", err,
		)
	}
}

// classifyRetryOutcome maps the saga result onto a retry outcome. A retry
// that fails later than the original failure point still made progress and
// is recorded as a partial success.
func classifyRetryOutcome(original *SagaExecution, result *SagaResult) (RetryOutcome, string) {
	if result.Succeeded() {
		return RetrySuccess, ""
	}
	if original.FailedStep > 0 && result.FailedStepOrder > original.FailedStep {
		return RetryPartialSuccess, result.ErrorMessage
	}
	return RetryFailed, result.ErrorMessage
}

// RetryContextBuilder reconstructs a saga context from the persisted step
// data of a finished execution.
type RetryContextBuilder struct {
	store ExecutionStore
}

// NewRetryContextBuilder creates a builder over an execution store.
func NewRetryContextBuilder(store ExecutionStore) *RetryContextBuilder {
	return &RetryContextBuilder{store: store}
}

// Build reconstructs the context for a resumed execution and returns the
// names of the steps whose payloads were restored. A row counts as restored
// when its step completed in the original run, including rows a later
// compensation marked compensated. Field resolution order is request
// override, then the original execution's persisted data, then the
// configured default; a coordination field that resolves empty fails
// reconstruction with ErrRetryContextInvalid. Malformed payloads are
// tolerated: the owning step is simply left out of the restored set so it
// re-executes.
func (b *RetryContextBuilder) Build(
	ctx context.Context,
	originalExecutionID string,
	newExecutionID string,
	ord *order.Order,
	req RetryRequest,
	defaultPaymentMethodID string,
	steps []SagaStep,
) (*SagaContext, []string, error) {
	rows, err := b.store.StepResultsByExecution(ctx, originalExecutionID)
	if err != nil {
		return nil, nil, fmt.Errorf("load original step results: %w", err)
	}

	stepsByName := make(map[string]SagaStep, len(steps))
	for _, step := range steps {
		stepsByName[step.Name()] = step
	}

	restored := make([]string, 0, len(rows))
	payloads := make(map[string]map[string]string, len(rows))
	for _, row := range rows {
		if row.Status != StepCompleted && row.Status != StepCompensated {
			continue
		}
		data := make(map[string]string)
		if len(row.Data) > 0 {
			if err := json.Unmarshal(row.Data, &data); err != nil {
				continue
			}
		}
		payloads[row.StepName] = data
		restored = append(restored, row.StepName)
	}

	paymentMethodID := req.PaymentMethodID
	if paymentMethodID == "" {
		paymentMethodID = fieldFromPayloads(payloads, DataFieldPaymentMethodID)
	}
	if paymentMethodID == "" {
		paymentMethodID = defaultPaymentMethodID
	}
	shippingAddress := req.ShippingAddress
	if shippingAddress == "" {
		shippingAddress = fieldFromPayloads(payloads, DataFieldShippingAddress)
	}

	if paymentMethodID == "" {
		return nil, nil, fmt.Errorf("%w: no payment method from request, original execution, or default", ErrRetryContextInvalid)
	}
	if shippingAddress == "" {
		return nil, nil, fmt.Errorf("%w: no shipping address from request or original execution", ErrRetryContextInvalid)
	}

	sc := NewContext(newExecutionID, ord, paymentMethodID, shippingAddress)
	for _, name := range restored {
		step, ok := stepsByName[name]
		if !ok {
			continue
		}
		if restorer, ok := step.(ContextRestorer); ok {
			restorer.RestoreContext(sc, payloads[name])
		}
	}
	return sc, restored, nil
}

// ValidateContextForResume checks that every restored step's produced keys
// are present in the context. It returns the missing keys grouped by step
// name; an empty map means the context is complete.
func ValidateContextForResume(sc *SagaContext, steps []SagaStep, restored []string) map[string][]string {
	restoredSet := make(map[string]struct{}, len(restored))
	for _, name := range restored {
		restoredSet[name] = struct{}{}
	}

	missing := make(map[string][]string)
	for _, step := range steps {
		if _, ok := restoredSet[step.Name()]; !ok {
			continue
		}
		producer, ok := step.(KeyProducer)
		if !ok {
			continue
		}
		for _, key := range producer.ProducedKeys() {
			if !sc.HasKey(key) {
				missing[step.Name()] = append(missing[step.Name()], key)
			}
		}
	}
	return missing
}

func fieldFromPayloads(payloads map[string]map[string]string, field string) string {
	for _, data := range payloads {
		if value, ok := data[field]; ok && value != "" {
			return value
		}
	}
	return ""
}

func flattenMissingKeys(missing map[string][]string) []string {
	keys := make([]string, 0, len(missing))
	for _, stepKeys := range missing {
		keys = append(keys, stepKeys...)
	}
	sort.Strings(keys)
	return keys
}

func sortedNames(set map[string]struct{}) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func firstUnskipped(steps []SagaStep, skippable map[string]struct{}) string {
	for _, step := range steps {
		if _, ok := skippable[step.Name()]; !ok {
			return step.Name()
		}
	}
	return ""
}
