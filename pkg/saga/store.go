package saga

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrExecutionNotFound is returned when an execution cannot be located.
	ErrExecutionNotFound = errors.New("saga execution not found")
	// ErrStepResultNotFound is returned when a step result cannot be located.
	ErrStepResultNotFound = errors.New("saga step result not found")
	// ErrRetryAttemptNotFound is returned when a retry attempt cannot be located.
	ErrRetryAttemptNotFound = errors.New("retry attempt not found")
	// ErrExecutionActive is returned when an order already has a non-terminal execution.
	ErrExecutionActive = errors.New("order already has an execution in progress")
	// ErrRetryActive is returned when an order already has a retry in flight.
	ErrRetryActive = errors.New("order already has a retry in progress")
	// ErrStepNotCompensatable is returned when compensating a step that never completed.
	ErrStepNotCompensatable = errors.New("step result is not in a compensatable status")
)

// ExecutionStore provides persistence for saga executions and their step
// results. The "at most one non-terminal execution per order" invariant is
// enforced inside CreateExecution, not by callers holding locks.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, execution *SagaExecution) error
	GetExecution(ctx context.Context, executionID string) (*SagaExecution, error)
	ExecutionsByOrder(ctx context.Context, orderID string) ([]*SagaExecution, error)
	UpdateExecutionStatus(ctx context.Context, executionID string, status ExecutionStatus) error
	UpdateCurrentStep(ctx context.Context, executionID string, stepOrder int) error
	SetExecutionFailure(ctx context.Context, executionID string, failedStep int, reason string) error
	MarkCompensationStarted(ctx context.Context, executionID string) error
	MarkCompensationCompleted(ctx context.Context, executionID string) error

	CreateStepResult(ctx context.Context, result *SagaStepResult) error
	StepResultsByExecution(ctx context.Context, executionID string) ([]*SagaStepResult, error)
	MarkStepInProgress(ctx context.Context, stepResultID string) error
	MarkStepCompleted(ctx context.Context, stepResultID string, data []byte) error
	MarkStepFailed(ctx context.Context, stepResultID string, errorMessage string) error
	MarkStepCompensated(ctx context.Context, stepResultID string) error
}

// RetryStore provides persistence for retry attempts. The "one in-flight
// retry per order" invariant is enforced inside CreateRetryAttempt.
type RetryStore interface {
	CreateRetryAttempt(ctx context.Context, attempt *RetryAttempt) error
	UpdateRetryAttempt(ctx context.Context, attempt *RetryAttempt) error
	RetryAttemptsByOrder(ctx context.Context, orderID string) ([]*RetryAttempt, error)
}

// MemoryStore is an in-memory ExecutionStore and RetryStore implementation.
type MemoryStore struct {
	mu         sync.RWMutex
	executions map[string]*SagaExecution
	steps      map[string]*SagaStepResult
	retries    map[string]*RetryAttempt
}

// NewMemoryStore creates an in-memory saga store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions: make(map[string]*SagaExecution),
		steps:      make(map[string]*SagaStepResult),
		retries:    make(map[string]*RetryAttempt),
	}
}

// CreateExecution creates an execution, rejecting a second non-terminal
// execution for the same order.
func (s *MemoryStore) CreateExecution(_ context.Context, execution *SagaExecution) error {
	if execution == nil {
		return fmt.Errorf("execution cannot be nil")
	}
	if execution.ID == "" || execution.OrderID == "" {
		return fmt.Errorf("execution id and order id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.executions[execution.ID]; exists {
		return fmt.Errorf("execution %s already exists", execution.ID)
	}
	for _, existing := range s.executions {
		if existing.OrderID == execution.OrderID && !existing.Status.IsTerminal() {
			return ErrExecutionActive
		}
	}
	s.executions[execution.ID] = execution.Clone()
	return nil
}

// GetExecution gets one execution by id.
func (s *MemoryStore) GetExecution(_ context.Context, executionID string) (*SagaExecution, error) {
	s.mu.RLock()
	execution, ok := s.executions[executionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrExecutionNotFound
	}
	return execution.Clone(), nil
}

// ExecutionsByOrder lists executions for an order, oldest first.
func (s *MemoryStore) ExecutionsByOrder(_ context.Context, orderID string) ([]*SagaExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	executions := make([]*SagaExecution, 0)
	for _, execution := range s.executions {
		if execution.OrderID == orderID {
			executions = append(executions, execution.Clone())
		}
	}
	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartedAt.Before(executions[j].StartedAt)
	})
	return executions, nil
}

// UpdateExecutionStatus applies a validated execution status transition.
func (s *MemoryStore) UpdateExecutionStatus(_ context.Context, executionID string, status ExecutionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	execution, ok := s.executions[executionID]
	if !ok {
		return ErrExecutionNotFound
	}
	if err := ValidateExecutionTransition(execution.Status, status); err != nil {
		return err
	}
	execution.Status = status
	if status.IsTerminal() && execution.CompletedAt == nil {
		now := time.Now().UTC()
		execution.CompletedAt = &now
	}
	return nil
}

// UpdateCurrentStep moves the execution's current-step pointer.
func (s *MemoryStore) UpdateCurrentStep(_ context.Context, executionID string, stepOrder int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	execution, ok := s.executions[executionID]
	if !ok {
		return ErrExecutionNotFound
	}
	execution.CurrentStep = stepOrder
	return nil
}

// SetExecutionFailure records the failed step index and reason.
func (s *MemoryStore) SetExecutionFailure(_ context.Context, executionID string, failedStep int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	execution, ok := s.executions[executionID]
	if !ok {
		return ErrExecutionNotFound
	}
	execution.FailedStep = failedStep
	execution.FailureReason = reason
	return nil
}

// MarkCompensationStarted stamps the compensation start time.
func (s *MemoryStore) MarkCompensationStarted(_ context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	execution, ok := s.executions[executionID]
	if !ok {
		return ErrExecutionNotFound
	}
	now := time.Now().UTC()
	execution.CompensationStartedAt = &now
	return nil
}

// MarkCompensationCompleted stamps the compensation completion time.
func (s *MemoryStore) MarkCompensationCompleted(_ context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	execution, ok := s.executions[executionID]
	if !ok {
		return ErrExecutionNotFound
	}
	now := time.Now().UTC()
	execution.CompensationCompletedAt = &now
	return nil
}

// CreateStepResult creates one step result row.
func (s *MemoryStore) CreateStepResult(_ context.Context, result *SagaStepResult) error {
	if result == nil {
		return fmt.Errorf("step result cannot be nil")
	}
	if result.ID == "" || result.ExecutionID == "" {
		return fmt.Errorf("step result id and execution id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.steps[result.ID]; exists {
		return fmt.Errorf("step result %s already exists", result.ID)
	}
	s.steps[result.ID] = result.Clone()
	return nil
}

// StepResultsByExecution lists step results for one execution by step order.
func (s *MemoryStore) StepResultsByExecution(_ context.Context, executionID string) ([]*SagaStepResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*SagaStepResult, 0)
	for _, result := range s.steps {
		if result.ExecutionID == executionID {
			results = append(results, result.Clone())
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].StepOrder < results[j].StepOrder
	})
	return results, nil
}

// MarkStepInProgress transitions a step result to in-progress.
func (s *MemoryStore) MarkStepInProgress(_ context.Context, stepResultID string) error {
	return s.transitionStep(stepResultID, StepInProgress, func(result *SagaStepResult) {
		result.StartedAt = time.Now().UTC()
	})
}

// MarkStepCompleted transitions a step result to completed with its payload.
func (s *MemoryStore) MarkStepCompleted(_ context.Context, stepResultID string, data []byte) error {
	return s.transitionStep(stepResultID, StepCompleted, func(result *SagaStepResult) {
		result.Data = append([]byte(nil), data...)
		now := time.Now().UTC()
		result.CompletedAt = &now
	})
}

// MarkStepFailed transitions a step result to failed with an error message.
func (s *MemoryStore) MarkStepFailed(_ context.Context, stepResultID string, errorMessage string) error {
	return s.transitionStep(stepResultID, StepFailed, func(result *SagaStepResult) {
		result.ErrorMessage = errorMessage
		now := time.Now().UTC()
		result.CompletedAt = &now
	})
}

// MarkStepCompensated transitions a completed step result to compensated.
// Only completed steps may be compensated.
func (s *MemoryStore) MarkStepCompensated(_ context.Context, stepResultID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, ok := s.steps[stepResultID]
	if !ok {
		return ErrStepResultNotFound
	}
	if result.Status != StepCompleted {
		return ErrStepNotCompensatable
	}
	result.Status = StepCompensated
	return nil
}

func (s *MemoryStore) transitionStep(stepResultID string, status StepStatus, apply func(result *SagaStepResult)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, ok := s.steps[stepResultID]
	if !ok {
		return ErrStepResultNotFound
	}
	if err := ValidateStepTransition(result.Status, status); err != nil {
		return err
	}
	result.Status = status
	if apply != nil {
		apply(result)
	}
	return nil
}

// CreateRetryAttempt creates a retry attempt, rejecting a second in-flight
// retry for the same order.
func (s *MemoryStore) CreateRetryAttempt(_ context.Context, attempt *RetryAttempt) error {
	if attempt == nil {
		return fmt.Errorf("retry attempt cannot be nil")
	}
	if attempt.ID == "" || attempt.OrderID == "" {
		return fmt.Errorf("retry attempt id and order id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.retries[attempt.ID]; exists {
		return fmt.Errorf("retry attempt %s already exists", attempt.ID)
	}
	for _, existing := range s.retries {
		if existing.OrderID == attempt.OrderID && !existing.Outcome.IsTerminal() {
			return ErrRetryActive
		}
	}
	s.retries[attempt.ID] = attempt.Clone()
	return nil
}

// UpdateRetryAttempt replaces a stored retry attempt.
func (s *MemoryStore) UpdateRetryAttempt(_ context.Context, attempt *RetryAttempt) error {
	if attempt == nil {
		return fmt.Errorf("retry attempt cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.retries[attempt.ID]; !ok {
		return ErrRetryAttemptNotFound
	}
	s.retries[attempt.ID] = attempt.Clone()
	return nil
}

// RetryAttemptsByOrder lists retry attempts for an order, oldest first.
func (s *MemoryStore) RetryAttemptsByOrder(_ context.Context, orderID string) ([]*RetryAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	attempts := make([]*RetryAttempt, 0)
	for _, attempt := range s.retries {
		if attempt.OrderID == orderID {
			attempts = append(attempts, attempt.Clone())
		}
	}
	sort.Slice(attempts, func(i, j int) bool {
		return attempts[i].AttemptNumber < attempts[j].AttemptNumber
	})
	return attempts, nil
}
