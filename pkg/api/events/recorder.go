package events

import (
	"context"
	"time"

	"github.com/orderflow/orderflow/pkg/saga"
)

// SagaRecorder adapts the broadcaster to the saga event hook so websocket
// subscribers see the saga lifecycle live. Delivery is best effort and never
// blocks orchestration.
type SagaRecorder struct {
	broadcaster *Broadcaster
}

// NewSagaRecorder creates a broadcaster-backed saga event recorder.
func NewSagaRecorder(broadcaster *Broadcaster) *SagaRecorder {
	return &SagaRecorder{broadcaster: broadcaster}
}

var _ saga.EventRecorder = (*SagaRecorder)(nil)

func (r *SagaRecorder) SagaStarted(_ context.Context, execution *saga.SagaExecution) {
	r.broadcaster.BroadcastSagaEvent("saga.started", execution.ID, execution.OrderID, nil)
}

func (r *SagaRecorder) SagaCompleted(_ context.Context, execution *saga.SagaExecution) {
	r.broadcaster.BroadcastSagaEvent("saga.completed", execution.ID, execution.OrderID, nil)
}

func (r *SagaRecorder) SagaFailed(_ context.Context, execution *saga.SagaExecution, reason string) {
	r.broadcaster.BroadcastSagaEvent("saga.failed", execution.ID, execution.OrderID, map[string]any{
		"reason": reason,
	})
}

func (r *SagaRecorder) StepStarted(_ context.Context, executionID, stepName string) {
	r.broadcaster.BroadcastSagaEvent("saga.step.started", executionID, "", map[string]any{
		"step": stepName,
	})
}

func (r *SagaRecorder) StepCompleted(_ context.Context, executionID, stepName string, duration time.Duration) {
	r.broadcaster.BroadcastSagaEvent("saga.step.completed", executionID, "", map[string]any{
		"step":        stepName,
		"duration_ms": duration.Milliseconds(),
	})
}

func (r *SagaRecorder) StepFailed(_ context.Context, executionID, stepName, errorMessage string) {
	r.broadcaster.BroadcastSagaEvent("saga.step.failed", executionID, "", map[string]any{
		"step":  stepName,
		"error": errorMessage,
	})
}

func (r *SagaRecorder) CompensationStarted(_ context.Context, executionID string) {
	r.broadcaster.BroadcastSagaEvent("saga.compensation.started", executionID, "", nil)
}

func (r *SagaRecorder) StepCompensated(_ context.Context, executionID, stepName string) {
	r.broadcaster.BroadcastSagaEvent("saga.step.compensated", executionID, "", map[string]any{
		"step": stepName,
	})
}

func (r *SagaRecorder) CompensationFailed(_ context.Context, executionID, stepName, errorMessage string) {
	r.broadcaster.BroadcastSagaEvent("saga.compensation.failed", executionID, "", map[string]any{
		"step":  stepName,
		"error": errorMessage,
	})
}
