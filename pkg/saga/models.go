package saga

import (
	"time"
)

// SagaExecution is one execution attempt of the order saga. Each retry
// creates a new execution referencing the original through RetryOf.
type SagaExecution struct {
	ID                      string          `json:"id"`
	OrderID                 string          `json:"order_id"`
	Status                  ExecutionStatus `json:"status"`
	CurrentStep             int             `json:"current_step"`
	FailedStep              int             `json:"failed_step,omitempty"`
	FailureReason           string          `json:"failure_reason,omitempty"`
	CorrelationID           string          `json:"correlation_id,omitempty"`
	RetryOf                 string          `json:"retry_of,omitempty"`
	StartedAt               time.Time       `json:"started_at"`
	CompletedAt             *time.Time      `json:"completed_at,omitempty"`
	CompensationStartedAt   *time.Time      `json:"compensation_started_at,omitempty"`
	CompensationCompletedAt *time.Time      `json:"compensation_completed_at,omitempty"`
}

// NewExecution creates an in-progress execution for an order.
func NewExecution(id, orderID, correlationID string) *SagaExecution {
	return &SagaExecution{
		ID:            id,
		OrderID:       orderID,
		Status:        ExecutionInProgress,
		CorrelationID: correlationID,
		StartedAt:     time.Now().UTC(),
	}
}

// Clone returns a deep copy of the execution.
func (e *SagaExecution) Clone() *SagaExecution {
	if e == nil {
		return nil
	}
	clone := *e
	clone.CompletedAt = copyTime(e.CompletedAt)
	clone.CompensationStartedAt = copyTime(e.CompensationStartedAt)
	clone.CompensationCompletedAt = copyTime(e.CompensationCompletedAt)
	return &clone
}

// SagaStepResult is one step's persisted state within one execution. Rows are
// created lazily when the step begins. Data holds the serialized step output.
type SagaStepResult struct {
	ID           string     `json:"id"`
	ExecutionID  string     `json:"execution_id"`
	StepName     string     `json:"step_name"`
	StepOrder    int        `json:"step_order"`
	Status       StepStatus `json:"status"`
	Data         []byte     `json:"data,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the step result.
func (r *SagaStepResult) Clone() *SagaStepResult {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Data = append([]byte(nil), r.Data...)
	clone.CompletedAt = copyTime(r.CompletedAt)
	return &clone
}

// RetryAttempt records one resumable retry of a failed order saga.
type RetryAttempt struct {
	ID                  string       `json:"id"`
	OrderID             string       `json:"order_id"`
	OriginalExecutionID string       `json:"original_execution_id"`
	NewExecutionID      string       `json:"new_execution_id,omitempty"`
	AttemptNumber       int          `json:"attempt_number"`
	ResumedFromStep     string       `json:"resumed_from_step,omitempty"`
	SkippedSteps        []string     `json:"skipped_steps,omitempty"`
	Outcome             RetryOutcome `json:"outcome"`
	FailureReason       string       `json:"failure_reason,omitempty"`
	StartedAt           time.Time    `json:"started_at"`
	CompletedAt         *time.Time   `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the retry attempt.
func (a *RetryAttempt) Clone() *RetryAttempt {
	if a == nil {
		return nil
	}
	clone := *a
	clone.SkippedSteps = append([]string(nil), a.SkippedSteps...)
	clone.CompletedAt = copyTime(a.CompletedAt)
	return &clone
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	copied := *t
	return &copied
}
