package saga

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const sagaTracerName = "orderflow.saga"

const (
	spanSagaForward    = "saga.execute.forward"
	spanSagaStep       = "saga.step.execute"
	spanSagaCompensate = "saga.execute.compensation"
	spanStepCompensate = "saga.step.compensate"
	spanSagaRetry      = "saga.retry.resume"
)

func sagaTracer() trace.Tracer {
	return otel.Tracer(sagaTracerName)
}
