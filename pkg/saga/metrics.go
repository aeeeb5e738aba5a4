package saga

import "time"

// MetricsRecorder is the instrumentation hook the saga core calls. The
// concrete Prometheus manager lives in pkg/metrics.
type MetricsRecorder interface {
	SagaStarted()
	SagaFinished(status string, duration time.Duration)
	SagaCompensated(outcome string)
	StepCompleted(stepName string, duration time.Duration)
	CompensationExecuted(stepName string, success bool)
	RetryAttempted(outcome string)
}

// NopMetricsRecorder discards all measurements.
type NopMetricsRecorder struct{}

func (NopMetricsRecorder) SagaStarted()                          {}
func (NopMetricsRecorder) SagaFinished(string, time.Duration)    {}
func (NopMetricsRecorder) SagaCompensated(string)                {}
func (NopMetricsRecorder) StepCompleted(string, time.Duration)   {}
func (NopMetricsRecorder) CompensationExecuted(string, bool)     {}
func (NopMetricsRecorder) RetryAttempted(string)                 {}
