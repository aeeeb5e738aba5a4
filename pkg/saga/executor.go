package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/orderflow/orderflow/pkg/logger"
)

// SkipPredicate reports whether a step's completion state should be assumed
// instead of invoking it. Used by the retry path to skip steps the original
// execution already completed.
type SkipPredicate func(step SagaStep) bool

// ExecutionOutcome is the tagged result of walking the step list: either all
// steps succeeded, or execution stopped at the first failing step.
type ExecutionOutcome struct {
	FailedStep   SagaStep
	FailedIndex  int
	FailedResult *StepResult
}

// AllSucceeded reports whether every step completed.
func (o *ExecutionOutcome) AllSucceeded() bool {
	return o.FailedStep == nil
}

// ExecuteOptions configures one executor run.
type ExecuteOptions struct {
	Skip       SkipPredicate
	EmitEvents bool
}

// StepExecutor walks an ordered step list against a context, persisting
// per-step status transitions and emitting lifecycle events. It is reused by
// the first-run and retry paths.
type StepExecutor struct {
	store   ExecutionStore
	events  EventRecorder
	metrics MetricsRecorder
	log     logger.Logger
}

// NewStepExecutor creates a step executor.
func NewStepExecutor(store ExecutionStore, events EventRecorder, metrics MetricsRecorder, log logger.Logger) (*StepExecutor, error) {
	if store == nil {
		return nil, fmt.Errorf("execution store cannot be nil")
	}
	if events == nil {
		events = NopEventRecorder{}
	}
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	if log == nil {
		log = logger.Global()
	}
	return &StepExecutor{
		store:   store,
		events:  events,
		metrics: metrics,
		log:     log,
	}, nil
}

// Execute runs the steps strictly in order. It stops at the first failure and
// returns a tagged outcome. An error return means persistence failed, not
// that a step failed. No store transaction spans a step's external call: each
// persistence operation is its own small atomic unit.
func (e *StepExecutor) Execute(
	ctx context.Context,
	executionID string,
	steps []SagaStep,
	sc *SagaContext,
	opts ExecuteOptions,
) (*ExecutionOutcome, error) {
	if err := ValidateSteps(steps); err != nil {
		return nil, err
	}

	for _, step := range steps {
		if opts.Skip != nil && opts.Skip(step) {
			if err := e.recordSkipped(ctx, executionID, step); err != nil {
				return nil, err
			}
			sc.MarkCompleted(step.Name())
			continue
		}

		result, err := e.executeStep(ctx, executionID, step, sc, opts.EmitEvents)
		if err != nil {
			return nil, err
		}
		if !result.Success {
			return &ExecutionOutcome{
				FailedStep:   step,
				FailedIndex:  step.Order(),
				FailedResult: result,
			}, nil
		}
	}

	return &ExecutionOutcome{}, nil
}

func (e *StepExecutor) executeStep(
	ctx context.Context,
	executionID string,
	step SagaStep,
	sc *SagaContext,
	emitEvents bool,
) (*StepResult, error) {
	record := &SagaStepResult{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		StepName:    step.Name(),
		StepOrder:   step.Order(),
		Status:      StepPending,
		StartedAt:   time.Now().UTC(),
	}
	if err := e.store.CreateStepResult(ctx, record); err != nil {
		return nil, fmt.Errorf("create step result for %q: %w", step.Name(), err)
	}
	if err := e.store.MarkStepInProgress(ctx, record.ID); err != nil {
		return nil, fmt.Errorf("mark step %q in progress: %w", step.Name(), err)
	}
	if err := e.store.UpdateCurrentStep(ctx, executionID, step.Order()); err != nil {
		return nil, fmt.Errorf("update current step: %w", err)
	}
	if emitEvents {
		e.events.StepStarted(ctx, executionID, step.Name())
	}

	stepCtx, span := sagaTracer().Start(ctx, spanSagaStep)
	span.SetAttributes(
		attribute.String("saga.execution_id", executionID),
		attribute.String("saga.step", step.Name()),
		attribute.Int("saga.step_order", step.Order()),
	)

	started := time.Now()
	result := e.invoke(stepCtx, step, sc)
	duration := time.Since(started)

	if result.Success {
		span.End()
		data, err := json.Marshal(result.Data)
		if err != nil {
			return nil, fmt.Errorf("serialize step data for %q: %w", step.Name(), err)
		}
		if err := e.store.MarkStepCompleted(ctx, record.ID, data); err != nil {
			return nil, fmt.Errorf("mark step %q completed: %w", step.Name(), err)
		}
		sc.MarkCompleted(step.Name())
		e.metrics.StepCompleted(step.Name(), duration)
		if emitEvents {
			e.events.StepCompleted(ctx, executionID, step.Name(), duration)
		}
		e.log.DebugContext(ctx, "saga step succeeded",
			"execution_id", executionID,
			"step", step.Name(),
			"duration_ms", duration.Milliseconds(),
		)
		return result, nil
	}

	span.SetStatus(codes.Error, result.ErrorMessage)
	span.End()
	if err := e.store.MarkStepFailed(ctx, record.ID, result.ErrorMessage); err != nil {
		return nil, fmt.Errorf("mark step %q failed: %w", step.Name(), err)
	}
	if emitEvents {
		e.events.StepFailed(ctx, executionID, step.Name(), result.ErrorMessage)
	}
	e.log.WarnContext(ctx, "saga step failed",
		"execution_id", executionID,
		"step", step.Name(),
		"error_code", result.ErrorCode,
		"error", result.ErrorMessage,
	)
	return result, nil
}

// invoke runs precondition validation, then the step itself. A nil result is
// a programming error in the step and is converted into a failure result.
func (e *StepExecutor) invoke(ctx context.Context, step SagaStep, sc *SagaContext) *StepResult {
	if validator, ok := step.(PreconditionValidator); ok {
		if rejection := validator.ValidatePreconditions(sc); rejection != nil {
			return rejection
		}
	}
	result := step.Execute(ctx, sc)
	if result == nil {
		return Fail("NIL_RESULT", fmt.Sprintf("step %q returned no result", step.Name()))
	}
	return result
}

// recordSkipped records a step's completion state as assumed without
// invoking it.
func (e *StepExecutor) recordSkipped(ctx context.Context, executionID string, step SagaStep) error {
	now := time.Now().UTC()
	record := &SagaStepResult{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		StepName:    step.Name(),
		StepOrder:   step.Order(),
		Status:      StepCompleted,
		StartedAt:   now,
		CompletedAt: &now,
	}
	if err := e.store.CreateStepResult(ctx, record); err != nil {
		return fmt.Errorf("record skipped step %q: %w", step.Name(), err)
	}
	if err := e.store.UpdateCurrentStep(ctx, executionID, step.Order()); err != nil {
		return fmt.Errorf("update current step: %w", err)
	}
	e.log.DebugContext(ctx, "saga step skipped",
		"execution_id", executionID,
		"step", step.Name(),
	)
	return nil
}
