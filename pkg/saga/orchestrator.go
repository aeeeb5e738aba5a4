package saga

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/orderflow/orderflow/pkg/logger"
	"github.com/orderflow/orderflow/pkg/order"
)

// Outcome classifies how a saga run ended. Exactly one outcome applies to
// every finished run.
type Outcome int

const (
	// OutcomeUnknown is the zero value and never a valid final outcome.
	OutcomeUnknown Outcome = iota
	// OutcomeSuccess means every step completed.
	OutcomeSuccess
	// OutcomeFailedNoCompensation means a step failed before any side effect
	// was made, so there was nothing to undo.
	OutcomeFailedNoCompensation
	// OutcomeCompensated means a step failed and every completed step was
	// successfully undone.
	OutcomeCompensated
	// OutcomePartiallyCompensated means a step failed and at least one undo
	// also failed, leaving resources that need manual intervention.
	OutcomePartiallyCompensated
)

// String returns the wire representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailedNoCompensation:
		return "failed_no_compensation"
	case OutcomeCompensated:
		return "compensated"
	case OutcomePartiallyCompensated:
		return "partially_compensated"
	default:
		return "unknown"
	}
}

// SagaResult is the outcome report of one saga run. Success fields and
// failure fields are mutually exclusive, selected by Outcome.
type SagaResult struct {
	ExecutionID string    `json:"execution_id"`
	OrderID     string    `json:"order_id"`
	Outcome     Outcome   `json:"-"`
	FinishedAt  time.Time `json:"finished_at"`

	// Success fields, populated only when Outcome is OutcomeSuccess.
	ConfirmationNumber string    `json:"confirmation_number,omitempty"`
	TotalChargedCents  int64     `json:"total_charged_cents,omitempty"`
	TrackingNumber     string    `json:"tracking_number,omitempty"`
	EstimatedDelivery  time.Time `json:"estimated_delivery,omitzero"`

	// Failure fields, populated for every non-success outcome.
	FailedStep          string   `json:"failed_step,omitempty"`
	FailedStepOrder     int      `json:"failed_step_order,omitempty"`
	ErrorCode           string   `json:"error_code,omitempty"`
	ErrorMessage        string   `json:"error_message,omitempty"`
	CompensatedSteps    []string `json:"compensated_steps,omitempty"`
	FailedCompensations []string `json:"failed_compensations,omitempty"`
}

// Succeeded reports whether the run completed every step.
func (r *SagaResult) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// ResultEnricher is implemented by steps that contribute fields to the final
// result after a successful run, read back from the saga context.
type ResultEnricher interface {
	EnrichResult(sc *SagaContext, result *SagaResult)
}

// OrchestratorOption configures an OrderSagaOrchestrator.
type OrchestratorOption func(*OrderSagaOrchestrator)

// WithEventRecorder sets the lifecycle event recorder.
func WithEventRecorder(events EventRecorder) OrchestratorOption {
	return func(o *OrderSagaOrchestrator) {
		if events != nil {
			o.events = events
		}
	}
}

// WithMetricsRecorder sets the metrics recorder.
func WithMetricsRecorder(metrics MetricsRecorder) OrchestratorOption {
	return func(o *OrderSagaOrchestrator) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(log logger.Logger) OrchestratorOption {
	return func(o *OrderSagaOrchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

// OrderSagaOrchestrator drives the order saga in three phases: initialize
// (persist the new execution and move the order to processing), execute
// (walk the steps through the StepExecutor), and finalize (persist the
// terminal statuses and build the result). No store transaction is ever held
// across an external service call.
type OrderSagaOrchestrator struct {
	orders      order.Store
	store       ExecutionStore
	steps       []SagaStep
	executor    *StepExecutor
	compensator *CompensationOrchestrator
	events      EventRecorder
	metrics     MetricsRecorder
	log         logger.Logger
}

// NewOrchestrator creates an orchestrator over a fixed ordered step list.
func NewOrchestrator(orders order.Store, store ExecutionStore, steps []SagaStep, opts ...OrchestratorOption) (*OrderSagaOrchestrator, error) {
	if orders == nil {
		return nil, fmt.Errorf("order store cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("execution store cannot be nil")
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("at least one step is required")
	}

	ordered := make([]SagaStep, len(steps))
	copy(ordered, steps)
	SortSteps(ordered)
	if err := ValidateSteps(ordered); err != nil {
		return nil, err
	}

	o := &OrderSagaOrchestrator{
		orders:  orders,
		store:   store,
		steps:   ordered,
		events:  NopEventRecorder{},
		metrics: NopMetricsRecorder{},
		log:     logger.Global(),
	}
	for _, opt := range opts {
		opt(o)
	}

	var err error
	o.executor, err = NewStepExecutor(store, o.events, o.metrics, o.log)
	if err != nil {
		return nil, err
	}
	o.compensator, err = NewCompensationOrchestrator(store, o.events, o.metrics, o.log)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// Steps returns the ordered step list.
func (o *OrderSagaOrchestrator) Steps() []SagaStep {
	steps := make([]SagaStep, len(o.steps))
	copy(steps, o.steps)
	return steps
}

// Execute runs the full saga for an order. The execution row is created
// first so a crash mid-run leaves an inspectable record. CreateExecution
// rejects a second concurrent run for the same order with ErrExecutionActive.
func (o *OrderSagaOrchestrator) Execute(ctx context.Context, ord *order.Order, paymentMethodID, shippingAddress string) (*SagaResult, error) {
	if ord == nil || ord.ID == "" {
		return nil, fmt.Errorf("order with an id is required")
	}

	execution := NewExecution(uuid.NewString(), ord.ID, logger.CorrelationID(ctx))
	if err := o.store.CreateExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}
	if err := o.orders.UpdateStatus(ctx, ord.ID, order.StatusProcessing); err != nil {
		o.abortExecution(ctx, execution.ID, err.Error())
		return nil, fmt.Errorf("move order to processing: %w", err)
	}
	ord.Status = order.StatusProcessing

	sc := NewContext(execution.ID, ord, paymentMethodID, shippingAddress)
	return o.Run(ctx, execution, sc, nil)
}

// Run executes the steps for an already-created execution and finalizes the
// run. The retry path calls this directly with a reconstructed context and a
// skip predicate for the steps the original execution completed.
func (o *OrderSagaOrchestrator) Run(ctx context.Context, execution *SagaExecution, sc *SagaContext, skip SkipPredicate) (*SagaResult, error) {
	ctx, span := sagaTracer().Start(ctx, spanSagaForward)
	span.SetAttributes(
		attribute.String("saga.execution_id", execution.ID),
		attribute.String("saga.order_id", execution.OrderID),
	)
	defer span.End()

	o.metrics.SagaStarted()
	o.events.SagaStarted(ctx, execution)
	started := time.Now()

	outcome, err := o.executor.Execute(ctx, execution.ID, o.steps, sc, ExecuteOptions{
		Skip:       skip,
		EmitEvents: true,
	})
	if err != nil {
		o.abortExecution(ctx, execution.ID, err.Error())
		return nil, fmt.Errorf("execute saga steps: %w", err)
	}

	result, err := o.finalize(ctx, execution, sc, outcome)
	if err != nil {
		return nil, err
	}

	o.metrics.SagaFinished(result.Outcome.String(), time.Since(started))
	if !result.Succeeded() {
		span.SetStatus(codes.Error, result.ErrorMessage)
	}
	return result, nil
}

// finalize persists the terminal execution and order statuses for the run's
// outcome and builds the result report.
func (o *OrderSagaOrchestrator) finalize(ctx context.Context, execution *SagaExecution, sc *SagaContext, outcome *ExecutionOutcome) (*SagaResult, error) {
	result := &SagaResult{
		ExecutionID: execution.ID,
		OrderID:     execution.OrderID,
		FinishedAt:  time.Now().UTC(),
	}

	if outcome.AllSucceeded() {
		if err := o.store.UpdateExecutionStatus(ctx, execution.ID, ExecutionCompleted); err != nil {
			return nil, fmt.Errorf("mark execution completed: %w", err)
		}
		if err := o.orders.UpdateStatus(ctx, execution.OrderID, order.StatusCompleted); err != nil {
			return nil, fmt.Errorf("mark order completed: %w", err)
		}
		result.Outcome = OutcomeSuccess
		result.ConfirmationNumber = confirmationNumber(execution.ID)
		for _, step := range o.steps {
			if enricher, ok := step.(ResultEnricher); ok {
				enricher.EnrichResult(sc, result)
			}
		}
		o.events.SagaCompleted(ctx, execution)
		return result, nil
	}

	result.FailedStep = outcome.FailedStep.Name()
	result.FailedStepOrder = outcome.FailedIndex
	result.ErrorCode = outcome.FailedResult.ErrorCode
	result.ErrorMessage = outcome.FailedResult.ErrorMessage

	if err := o.store.SetExecutionFailure(ctx, execution.ID, outcome.FailedIndex, result.ErrorMessage); err != nil {
		return nil, fmt.Errorf("record execution failure: %w", err)
	}
	o.events.SagaFailed(ctx, execution, result.ErrorMessage)

	if len(sc.CompletedSteps()) == 0 {
		if err := o.store.UpdateExecutionStatus(ctx, execution.ID, ExecutionFailed); err != nil {
			return nil, fmt.Errorf("mark execution failed: %w", err)
		}
		if err := o.orders.UpdateStatus(ctx, execution.OrderID, order.StatusFailed); err != nil {
			return nil, fmt.Errorf("mark order failed: %w", err)
		}
		result.Outcome = OutcomeFailedNoCompensation
		return result, nil
	}

	if err := o.orders.UpdateStatus(ctx, execution.OrderID, order.StatusCompensating); err != nil {
		return nil, fmt.Errorf("mark order compensating: %w", err)
	}

	report, err := o.compensator.Compensate(ctx, execution.ID, o.steps, sc)
	if err != nil {
		return nil, fmt.Errorf("compensate execution: %w", err)
	}
	result.CompensatedSteps = report.CompensatedSteps
	result.FailedCompensations = report.FailedCompensations

	if report.FullySucceeded() {
		result.Outcome = OutcomeCompensated
		if err := o.orders.UpdateStatus(ctx, execution.OrderID, order.StatusCompensated); err != nil {
			return nil, fmt.Errorf("mark order compensated: %w", err)
		}
	} else {
		result.Outcome = OutcomePartiallyCompensated
		if err := o.orders.UpdateStatus(ctx, execution.OrderID, order.StatusFailed); err != nil {
			return nil, fmt.Errorf("mark order failed: %w", err)
		}
	}
	// The metric carries the compensation run's own three-way classification,
	// finer than the result outcome.
	o.metrics.SagaCompensated(string(report.Outcome()))
	return result, nil
}

// abortExecution force-fails an execution after an infrastructure error so
// no non-terminal row is left blocking the order.
func (o *OrderSagaOrchestrator) abortExecution(ctx context.Context, executionID, reason string) {
	if err := o.store.SetExecutionFailure(ctx, executionID, 0, reason); err != nil {
		o.log.ErrorContext(ctx, "failed to record execution failure", "execution_id", executionID, "error", err)
	}
	if err := o.store.UpdateExecutionStatus(ctx, executionID, ExecutionFailed); err != nil {
		o.log.ErrorContext(ctx, "failed to abort execution", "execution_id", executionID, "error", err)
	}
}

func confirmationNumber(executionID string) string {
	compact := strings.ReplaceAll(executionID, "-", "")
	if len(compact) > 12 {
		compact = compact[:12]
	}
	return "ORD-" + strings.ToUpper(compact)
}
