package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initSagaMetrics(cfg Config) {
	m.sagaExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_executions_total",
			Help: "Total number of saga executions by outcome",
		},
		[]string{"outcome"},
	)

	m.sagaDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "saga_duration_seconds",
			Help:    "Saga execution duration in seconds",
			Buckets: cfg.SagaDurationBuckets,
		},
		[]string{"outcome"},
	)

	m.sagaActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "saga_active_count",
			Help: "Current number of active saga executions",
		},
	)

	m.stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "saga_step_duration_seconds",
			Help:    "Saga step execution duration in seconds",
			Buckets: cfg.StepDurationBuckets,
		},
		[]string{"step"},
	)

	m.compensations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_compensations_total",
			Help: "Total number of compensation phases by outcome",
		},
		[]string{"outcome"},
	)

	m.stepCompensations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_step_compensations_total",
			Help: "Total number of step compensation calls by result",
		},
		[]string{"step", "result"},
	)

	m.retryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_retry_attempts_total",
			Help: "Total number of retry attempts by outcome",
		},
		[]string{"outcome"},
	)

	m.registry.MustRegister(m.sagaExecutions)
	m.registry.MustRegister(m.sagaDuration)
	m.registry.MustRegister(m.sagaActive)
	m.registry.MustRegister(m.stepDuration)
	m.registry.MustRegister(m.compensations)
	m.registry.MustRegister(m.stepCompensations)
	m.registry.MustRegister(m.retryAttempts)
}

// SagaStarted increments the active saga gauge.
func (m *Manager) SagaStarted() {
	if !m.enabled {
		return
	}
	m.sagaActive.Inc()
}

// SagaFinished records one saga run's outcome and latency.
func (m *Manager) SagaFinished(outcome string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.sagaActive.Dec()
	m.sagaExecutions.WithLabelValues(outcome).Inc()
	m.sagaDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// SagaCompensated records one compensation phase outcome.
func (m *Manager) SagaCompensated(outcome string) {
	if !m.enabled {
		return
	}
	m.compensations.WithLabelValues(outcome).Inc()
}

// StepCompleted records one completed step's latency.
func (m *Manager) StepCompleted(stepName string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.stepDuration.WithLabelValues(stepName).Observe(duration.Seconds())
}

// CompensationExecuted records one step compensation call.
func (m *Manager) CompensationExecuted(stepName string, success bool) {
	if !m.enabled {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.stepCompensations.WithLabelValues(stepName, result).Inc()
}

// RetryAttempted records one retry attempt outcome.
func (m *Manager) RetryAttempted(outcome string) {
	if !m.enabled {
		return
	}
	m.retryAttempts.WithLabelValues(outcome).Inc()
}
