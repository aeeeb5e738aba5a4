package saga

import (
	"context"
	"time"

	"github.com/orderflow/orderflow/pkg/logger"
)

// EventRecorder receives append-only saga lifecycle events. Recording is
// fire-and-forget: implementations must not return errors and their failures
// must never abort saga progress.
type EventRecorder interface {
	SagaStarted(ctx context.Context, execution *SagaExecution)
	SagaCompleted(ctx context.Context, execution *SagaExecution)
	SagaFailed(ctx context.Context, execution *SagaExecution, reason string)

	StepStarted(ctx context.Context, executionID, stepName string)
	StepCompleted(ctx context.Context, executionID, stepName string, duration time.Duration)
	StepFailed(ctx context.Context, executionID, stepName, errorMessage string)

	CompensationStarted(ctx context.Context, executionID string)
	StepCompensated(ctx context.Context, executionID, stepName string)
	CompensationFailed(ctx context.Context, executionID, stepName, errorMessage string)
}

// NopEventRecorder discards all events.
type NopEventRecorder struct{}

func (NopEventRecorder) SagaStarted(context.Context, *SagaExecution)                {}
func (NopEventRecorder) SagaCompleted(context.Context, *SagaExecution)              {}
func (NopEventRecorder) SagaFailed(context.Context, *SagaExecution, string)         {}
func (NopEventRecorder) StepStarted(context.Context, string, string)                {}
func (NopEventRecorder) StepCompleted(context.Context, string, string, time.Duration) {}
func (NopEventRecorder) StepFailed(context.Context, string, string, string)         {}
func (NopEventRecorder) CompensationStarted(context.Context, string)                {}
func (NopEventRecorder) StepCompensated(context.Context, string, string)            {}
func (NopEventRecorder) CompensationFailed(context.Context, string, string, string) {}

// LogEventRecorder writes lifecycle events to the structured log.
type LogEventRecorder struct {
	log logger.Logger
}

// NewLogEventRecorder creates a log-backed event recorder.
func NewLogEventRecorder(log logger.Logger) *LogEventRecorder {
	if log == nil {
		log = logger.Global()
	}
	return &LogEventRecorder{log: log}
}

func (r *LogEventRecorder) SagaStarted(ctx context.Context, execution *SagaExecution) {
	r.log.InfoContext(ctx, "saga started",
		"execution_id", execution.ID,
		"order_id", execution.OrderID,
	)
}

func (r *LogEventRecorder) SagaCompleted(ctx context.Context, execution *SagaExecution) {
	r.log.InfoContext(ctx, "saga completed",
		"execution_id", execution.ID,
		"order_id", execution.OrderID,
	)
}

func (r *LogEventRecorder) SagaFailed(ctx context.Context, execution *SagaExecution, reason string) {
	r.log.WarnContext(ctx, "saga failed",
		"execution_id", execution.ID,
		"order_id", execution.OrderID,
		"reason", reason,
	)
}

func (r *LogEventRecorder) StepStarted(ctx context.Context, executionID, stepName string) {
	r.log.InfoContext(ctx, "saga step started",
		"execution_id", executionID,
		"step", stepName,
	)
}

func (r *LogEventRecorder) StepCompleted(ctx context.Context, executionID, stepName string, duration time.Duration) {
	r.log.InfoContext(ctx, "saga step completed",
		"execution_id", executionID,
		"step", stepName,
		"duration_ms", duration.Milliseconds(),
	)
}

func (r *LogEventRecorder) StepFailed(ctx context.Context, executionID, stepName, errorMessage string) {
	r.log.WarnContext(ctx, "saga step failed",
		"execution_id", executionID,
		"step", stepName,
		"error", errorMessage,
	)
}

func (r *LogEventRecorder) CompensationStarted(ctx context.Context, executionID string) {
	r.log.InfoContext(ctx, "saga compensation started",
		"execution_id", executionID,
	)
}

func (r *LogEventRecorder) StepCompensated(ctx context.Context, executionID, stepName string) {
	r.log.InfoContext(ctx, "saga step compensated",
		"execution_id", executionID,
		"step", stepName,
	)
}

func (r *LogEventRecorder) CompensationFailed(ctx context.Context, executionID, stepName, errorMessage string) {
	r.log.WarnContext(ctx, "saga step compensation failed",
		"execution_id", executionID,
		"step", stepName,
		"error", errorMessage,
	)
}

// MultiEventRecorder fans events out to several recorders.
type MultiEventRecorder []EventRecorder

func (m MultiEventRecorder) SagaStarted(ctx context.Context, execution *SagaExecution) {
	for _, r := range m {
		r.SagaStarted(ctx, execution)
	}
}

func (m MultiEventRecorder) SagaCompleted(ctx context.Context, execution *SagaExecution) {
	for _, r := range m {
		r.SagaCompleted(ctx, execution)
	}
}

func (m MultiEventRecorder) SagaFailed(ctx context.Context, execution *SagaExecution, reason string) {
	for _, r := range m {
		r.SagaFailed(ctx, execution, reason)
	}
}

func (m MultiEventRecorder) StepStarted(ctx context.Context, executionID, stepName string) {
	for _, r := range m {
		r.StepStarted(ctx, executionID, stepName)
	}
}

func (m MultiEventRecorder) StepCompleted(ctx context.Context, executionID, stepName string, duration time.Duration) {
	for _, r := range m {
		r.StepCompleted(ctx, executionID, stepName, duration)
	}
}

func (m MultiEventRecorder) StepFailed(ctx context.Context, executionID, stepName, errorMessage string) {
	for _, r := range m {
		r.StepFailed(ctx, executionID, stepName, errorMessage)
	}
}

func (m MultiEventRecorder) CompensationStarted(ctx context.Context, executionID string) {
	for _, r := range m {
		r.CompensationStarted(ctx, executionID)
	}
}

func (m MultiEventRecorder) StepCompensated(ctx context.Context, executionID, stepName string) {
	for _, r := range m {
		r.StepCompensated(ctx, executionID, stepName)
	}
}

func (m MultiEventRecorder) CompensationFailed(ctx context.Context, executionID, stepName, errorMessage string) {
	for _, r := range m {
		r.CompensationFailed(ctx, executionID, stepName, errorMessage)
	}
}
