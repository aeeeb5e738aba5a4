package saga

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/orderflow/orderflow/pkg/logger"
)

// CompensationReport summarizes one compensation run: which steps were
// undone and which undo calls failed.
type CompensationReport struct {
	CompensatedSteps    []string
	FailedCompensations []string
}

// FullySucceeded reports whether every attempted compensation succeeded.
func (r *CompensationReport) FullySucceeded() bool {
	return len(r.FailedCompensations) == 0
}

// CompensationOutcome classifies a compensation run as a whole.
type CompensationOutcome string

const (
	// CompensationOutcomeSuccess means every attempted undo succeeded.
	CompensationOutcomeSuccess CompensationOutcome = "success"
	// CompensationOutcomePartial means some undo calls failed.
	CompensationOutcomePartial CompensationOutcome = "partial_success"
	// CompensationOutcomeFailure means every attempted undo failed.
	CompensationOutcomeFailure CompensationOutcome = "failure"
)

// Outcome classifies the run. A run where nothing could be undone is a
// failure, not a partial success.
func (r *CompensationReport) Outcome() CompensationOutcome {
	switch {
	case len(r.FailedCompensations) == 0:
		return CompensationOutcomeSuccess
	case len(r.CompensatedSteps) == 0:
		return CompensationOutcomeFailure
	default:
		return CompensationOutcomePartial
	}
}

// CompensationOrchestrator undoes the completed steps of a failed execution
// in strict reverse order. Compensation is best effort: a failed undo is
// recorded and the run continues with the remaining steps.
type CompensationOrchestrator struct {
	store   ExecutionStore
	events  EventRecorder
	metrics MetricsRecorder
	log     logger.Logger
}

// NewCompensationOrchestrator creates a compensation orchestrator.
func NewCompensationOrchestrator(store ExecutionStore, events EventRecorder, metrics MetricsRecorder, log logger.Logger) (*CompensationOrchestrator, error) {
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
	return &CompensationOrchestrator{
		store:   store,
		events:  events,
		metrics: metrics,
		log:     log,
	}, nil
}

// Compensate undoes the steps the context recorded as completed, highest
// order first. Steps that never completed are not touched. The execution is
// moved to Compensating before the first undo and to Compensated or Failed
// after the last, depending on whether every undo succeeded. An error return
// means persistence failed, not that an undo failed.
func (c *CompensationOrchestrator) Compensate(
	ctx context.Context,
	executionID string,
	steps []SagaStep,
	sc *SagaContext,
) (*CompensationReport, error) {
	ctx, span := sagaTracer().Start(ctx, spanSagaCompensate)
	span.SetAttributes(attribute.String("saga.execution_id", executionID))
	defer span.End()

	if err := c.store.UpdateExecutionStatus(ctx, executionID, ExecutionCompensating); err != nil {
		return nil, fmt.Errorf("mark execution compensating: %w", err)
	}
	if err := c.store.MarkCompensationStarted(ctx, executionID); err != nil {
		return nil, fmt.Errorf("mark compensation started: %w", err)
	}
	c.events.CompensationStarted(ctx, executionID)

	completedRows, err := c.completedRowsByStep(ctx, executionID)
	if err != nil {
		return nil, err
	}

	report := &CompensationReport{
		CompensatedSteps:    make([]string, 0, len(steps)),
		FailedCompensations: make([]string, 0),
	}

	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		if !sc.Completed(step.Name()) {
			continue
		}

		result := c.undo(ctx, executionID, step, sc)
		if result.Success {
			if rowID, ok := completedRows[step.Name()]; ok {
				if err := c.store.MarkStepCompensated(ctx, rowID); err != nil {
					return nil, fmt.Errorf("mark step %q compensated: %w", step.Name(), err)
				}
			}
			report.CompensatedSteps = append(report.CompensatedSteps, step.Name())
			c.metrics.CompensationExecuted(step.Name(), true)
			c.events.StepCompensated(ctx, executionID, step.Name())
			continue
		}

		report.FailedCompensations = append(report.FailedCompensations, step.Name())
		c.metrics.CompensationExecuted(step.Name(), false)
		c.events.CompensationFailed(ctx, executionID, step.Name(), result.ErrorMessage)
		c.log.ErrorContext(ctx, "saga step compensation failed, manual intervention required",
			"execution_id", executionID,
			"step", step.Name(),
			"error", result.ErrorMessage,
		)
	}

	if err := c.store.MarkCompensationCompleted(ctx, executionID); err != nil {
		return nil, fmt.Errorf("mark compensation completed: %w", err)
	}

	finalStatus := ExecutionCompensated
	switch report.Outcome() {
	case CompensationOutcomeSuccess:
	case CompensationOutcomeFailure:
		finalStatus = ExecutionFailed
		span.SetStatus(codes.Error, "compensation failed")
		c.log.ErrorContext(ctx, "no saga step could be compensated, manual intervention required",
			"execution_id", executionID,
			"failed_compensations", report.FailedCompensations,
		)
	default:
		finalStatus = ExecutionFailed
		span.SetStatus(codes.Error, "compensation partially failed")
	}
	if err := c.store.UpdateExecutionStatus(ctx, executionID, finalStatus); err != nil {
		return nil, fmt.Errorf("finalize compensation status: %w", err)
	}

	return report, nil
}

// undo invokes one step's compensation with panic containment. A panicking
// or nil-returning compensation is treated as a failed undo so the remaining
// steps still run.
func (c *CompensationOrchestrator) undo(ctx context.Context, executionID string, step SagaStep, sc *SagaContext) (result *CompensationResult) {
	defer func() {
		if r := recover(); r != nil {
			c.log.ErrorContext(ctx, "saga step compensation panicked",
				"execution_id", executionID,
				"step", step.Name(),
				"panic", fmt.Sprint(r),
			)
			result = CompensationFailed(fmt.Sprintf("compensation panicked: %v", r))
		}
	}()

	undoCtx, span := sagaTracer().Start(ctx, spanStepCompensate)
	span.SetAttributes(
		attribute.String("saga.execution_id", executionID),
		attribute.String("saga.step", step.Name()),
	)
	defer span.End()

	result = step.Compensate(undoCtx, sc)
	if result == nil {
		result = CompensationFailed(fmt.Sprintf("step %q returned no compensation result", step.Name()))
	}
	if !result.Success {
		span.SetStatus(codes.Error, result.ErrorMessage)
	}
	return result
}

func (c *CompensationOrchestrator) completedRowsByStep(ctx context.Context, executionID string) (map[string]string, error) {
	rows, err := c.store.StepResultsByExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("load step results: %w", err)
	}
	byStep := make(map[string]string, len(rows))
	for _, row := range rows {
		if row.Status == StepCompleted {
			byStep[row.StepName] = row.ID
		}
	}
	return byStep, nil
}
