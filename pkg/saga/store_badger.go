package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	execKeyPrefix        = "exec:"
	execIndexOrderPrefix = "exec:index:order:"
	execActiveKeyPrefix  = "exec:active:"

	stepKeyPrefix       = "step:"
	stepIndexExecPrefix = "step:index:exec:"

	retryKeyPrefix        = "retry:"
	retryIndexOrderPrefix = "retry:index:order:"
	retryActiveKeyPrefix  = "retry:active:"
)

// BadgerStore is a Badger-backed ExecutionStore and RetryStore. Uniqueness
// invariants are enforced with marker keys written in the same transaction as
// the record, so concurrent processes cannot create two active executions or
// retries for one order.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates a Badger-backed saga store.
func NewBadgerStore(db *badger.DB) (*BadgerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db cannot be nil")
	}
	return &BadgerStore{db: db}, nil
}

// CreateExecution creates an execution, rejecting a second non-terminal
// execution for the same order via the "exec:active:{orderID}" marker.
func (s *BadgerStore) CreateExecution(ctx context.Context, execution *SagaExecution) error {
	if execution == nil {
		return fmt.Errorf("execution cannot be nil")
	}
	if execution.ID == "" || execution.OrderID == "" {
		return fmt.Errorf("execution id and order id cannot be empty")
	}
	data, err := json.Marshal(execution)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := ctxErr(ctx); err != nil {
			return err
		}

		if _, err := txn.Get([]byte(execKey(execution.ID))); err == nil {
			return fmt.Errorf("execution %s already exists", execution.ID)
		}

		activeKey := []byte(execActiveKeyPrefix + execution.OrderID)
		if !execution.Status.IsTerminal() {
			if _, err := txn.Get(activeKey); err == nil {
				return ErrExecutionActive
			}
			if err := txn.Set(activeKey, []byte(execution.ID)); err != nil {
				return err
			}
		}

		if err := txn.Set([]byte(execKey(execution.ID)), data); err != nil {
			return err
		}
		return txn.Set([]byte(execOrderIndexKey(execution.OrderID, execution.ID)), []byte{})
	})
}

// GetExecution loads one execution by id.
func (s *BadgerStore) GetExecution(ctx context.Context, executionID string) (*SagaExecution, error) {
	var execution SagaExecution
	err := s.db.View(func(txn *badger.Txn) error {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		item, err := txn.Get([]byte(execKey(executionID)))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrExecutionNotFound
			}
			return err
		}
		return item.Value(func(v []byte) error { return json.Unmarshal(v, &execution) })
	})
	if err != nil {
		return nil, err
	}
	return &execution, nil
}

// ExecutionsByOrder lists executions for an order, oldest first.
func (s *BadgerStore) ExecutionsByOrder(ctx context.Context, orderID string) ([]*SagaExecution, error) {
	executions := make([]*SagaExecution, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(execIndexOrderPrefix + orderID + ":")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctxErr(ctx); err != nil {
				return err
			}
			executionID := string(it.Item().Key()[len(prefix):])
			item, err := txn.Get([]byte(execKey(executionID)))
			if err != nil {
				continue
			}
			var execution SagaExecution
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &execution) }); err != nil {
				continue
			}
			executions = append(executions, &execution)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortExecutionsByStart(executions)
	return executions, nil
}

// UpdateExecutionStatus applies a validated execution status transition and
// clears the active marker when the execution reaches a terminal status.
func (s *BadgerStore) UpdateExecutionStatus(ctx context.Context, executionID string, status ExecutionStatus) error {
	return s.updateExecution(ctx, executionID, func(execution *SagaExecution) error {
		if err := ValidateExecutionTransition(execution.Status, status); err != nil {
			return err
		}
		execution.Status = status
		if status.IsTerminal() && execution.CompletedAt == nil {
			now := time.Now().UTC()
			execution.CompletedAt = &now
		}
		return nil
	})
}

// UpdateCurrentStep moves the execution's current-step pointer.
func (s *BadgerStore) UpdateCurrentStep(ctx context.Context, executionID string, stepOrder int) error {
	return s.updateExecution(ctx, executionID, func(execution *SagaExecution) error {
		execution.CurrentStep = stepOrder
		return nil
	})
}

// SetExecutionFailure records the failed step index and reason.
func (s *BadgerStore) SetExecutionFailure(ctx context.Context, executionID string, failedStep int, reason string) error {
	return s.updateExecution(ctx, executionID, func(execution *SagaExecution) error {
		execution.FailedStep = failedStep
		execution.FailureReason = reason
		return nil
	})
}

// MarkCompensationStarted stamps the compensation start time.
func (s *BadgerStore) MarkCompensationStarted(ctx context.Context, executionID string) error {
	return s.updateExecution(ctx, executionID, func(execution *SagaExecution) error {
		now := time.Now().UTC()
		execution.CompensationStartedAt = &now
		return nil
	})
}

// MarkCompensationCompleted stamps the compensation completion time.
func (s *BadgerStore) MarkCompensationCompleted(ctx context.Context, executionID string) error {
	return s.updateExecution(ctx, executionID, func(execution *SagaExecution) error {
		now := time.Now().UTC()
		execution.CompensationCompletedAt = &now
		return nil
	})
}

// CreateStepResult creates one step result row and its execution index.
func (s *BadgerStore) CreateStepResult(ctx context.Context, result *SagaStepResult) error {
	if result == nil {
		return fmt.Errorf("step result cannot be nil")
	}
	if result.ID == "" || result.ExecutionID == "" {
		return fmt.Errorf("step result id and execution id cannot be empty")
	}
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		if _, err := txn.Get([]byte(stepKey(result.ID))); err == nil {
			return fmt.Errorf("step result %s already exists", result.ID)
		}
		if err := txn.Set([]byte(stepKey(result.ID)), data); err != nil {
			return err
		}
		return txn.Set([]byte(stepExecIndexKey(result.ExecutionID, result.StepOrder, result.ID)), []byte{})
	})
}

// StepResultsByExecution lists step results for one execution by step order.
func (s *BadgerStore) StepResultsByExecution(ctx context.Context, executionID string) ([]*SagaStepResult, error) {
	results := make([]*SagaStepResult, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(stepIndexExecPrefix + executionID + ":")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctxErr(ctx); err != nil {
				return err
			}
			key := string(it.Item().Key())
			stepResultID := key[lastColon(key)+1:]
			item, err := txn.Get([]byte(stepKey(stepResultID)))
			if err != nil {
				continue
			}
			var result SagaStepResult
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &result) }); err != nil {
				continue
			}
			results = append(results, &result)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// MarkStepInProgress transitions a step result to in-progress.
func (s *BadgerStore) MarkStepInProgress(ctx context.Context, stepResultID string) error {
	return s.updateStep(ctx, stepResultID, StepInProgress, func(result *SagaStepResult) {
		result.StartedAt = time.Now().UTC()
	})
}

// MarkStepCompleted transitions a step result to completed with its payload.
func (s *BadgerStore) MarkStepCompleted(ctx context.Context, stepResultID string, data []byte) error {
	return s.updateStep(ctx, stepResultID, StepCompleted, func(result *SagaStepResult) {
		result.Data = append([]byte(nil), data...)
		now := time.Now().UTC()
		result.CompletedAt = &now
	})
}

// MarkStepFailed transitions a step result to failed with an error message.
func (s *BadgerStore) MarkStepFailed(ctx context.Context, stepResultID string, errorMessage string) error {
	return s.updateStep(ctx, stepResultID, StepFailed, func(result *SagaStepResult) {
		result.ErrorMessage = errorMessage
		now := time.Now().UTC()
		result.CompletedAt = &now
	})
}

// MarkStepCompensated transitions a completed step result to compensated.
func (s *BadgerStore) MarkStepCompensated(ctx context.Context, stepResultID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		result, err := s.getStepInTxn(txn, stepResultID)
		if err != nil {
			return err
		}
		if result.Status != StepCompleted {
			return ErrStepNotCompensatable
		}
		result.Status = StepCompensated
		data, err := json.Marshal(result)
		if err != nil {
			return err
		}
		return txn.Set([]byte(stepKey(stepResultID)), data)
	})
}

// CreateRetryAttempt creates a retry attempt, rejecting a second in-flight
// retry for the same order via the "retry:active:{orderID}" marker.
func (s *BadgerStore) CreateRetryAttempt(ctx context.Context, attempt *RetryAttempt) error {
	if attempt == nil {
		return fmt.Errorf("retry attempt cannot be nil")
	}
	if attempt.ID == "" || attempt.OrderID == "" {
		return fmt.Errorf("retry attempt id and order id cannot be empty")
	}
	data, err := json.Marshal(attempt)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		if _, err := txn.Get([]byte(retryKey(attempt.ID))); err == nil {
			return fmt.Errorf("retry attempt %s already exists", attempt.ID)
		}

		activeKey := []byte(retryActiveKeyPrefix + attempt.OrderID)
		if !attempt.Outcome.IsTerminal() {
			if _, err := txn.Get(activeKey); err == nil {
				return ErrRetryActive
			}
			if err := txn.Set(activeKey, []byte(attempt.ID)); err != nil {
				return err
			}
		}

		if err := txn.Set([]byte(retryKey(attempt.ID)), data); err != nil {
			return err
		}
		return txn.Set([]byte(retryOrderIndexKey(attempt.OrderID, attempt.ID)), []byte{})
	})
}

// UpdateRetryAttempt replaces a stored retry attempt and clears the active
// marker once the attempt reaches a terminal outcome.
func (s *BadgerStore) UpdateRetryAttempt(ctx context.Context, attempt *RetryAttempt) error {
	if attempt == nil {
		return fmt.Errorf("retry attempt cannot be nil")
	}
	data, err := json.Marshal(attempt)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		if _, err := txn.Get([]byte(retryKey(attempt.ID))); err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrRetryAttemptNotFound
			}
			return err
		}
		if err := txn.Set([]byte(retryKey(attempt.ID)), data); err != nil {
			return err
		}
		if attempt.Outcome.IsTerminal() {
			_ = txn.Delete([]byte(retryActiveKeyPrefix + attempt.OrderID))
		}
		return nil
	})
}

// RetryAttemptsByOrder lists retry attempts for an order, oldest first.
func (s *BadgerStore) RetryAttemptsByOrder(ctx context.Context, orderID string) ([]*RetryAttempt, error) {
	attempts := make([]*RetryAttempt, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(retryIndexOrderPrefix + orderID + ":")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctxErr(ctx); err != nil {
				return err
			}
			attemptID := string(it.Item().Key()[len(prefix):])
			item, err := txn.Get([]byte(retryKey(attemptID)))
			if err != nil {
				continue
			}
			var attempt RetryAttempt
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &attempt) }); err != nil {
				continue
			}
			attempts = append(attempts, &attempt)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortRetryAttemptsByNumber(attempts)
	return attempts, nil
}

func (s *BadgerStore) updateExecution(ctx context.Context, executionID string, apply func(execution *SagaExecution) error) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		item, err := txn.Get([]byte(execKey(executionID)))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrExecutionNotFound
			}
			return err
		}

		var execution SagaExecution
		if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &execution) }); err != nil {
			return err
		}
		wasTerminal := execution.Status.IsTerminal()
		if err := apply(&execution); err != nil {
			return err
		}

		data, err := json.Marshal(&execution)
		if err != nil {
			return err
		}
		if err := txn.Set([]byte(execKey(executionID)), data); err != nil {
			return err
		}
		if !wasTerminal && execution.Status.IsTerminal() {
			_ = txn.Delete([]byte(execActiveKeyPrefix + execution.OrderID))
		}
		return nil
	})
}

func (s *BadgerStore) updateStep(ctx context.Context, stepResultID string, status StepStatus, apply func(result *SagaStepResult)) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		result, err := s.getStepInTxn(txn, stepResultID)
		if err != nil {
			return err
		}
		if err := ValidateStepTransition(result.Status, status); err != nil {
			return err
		}
		result.Status = status
		if apply != nil {
			apply(result)
		}
		data, err := json.Marshal(result)
		if err != nil {
			return err
		}
		return txn.Set([]byte(stepKey(stepResultID)), data)
	})
}

func (s *BadgerStore) getStepInTxn(txn *badger.Txn, stepResultID string) (*SagaStepResult, error) {
	item, err := txn.Get([]byte(stepKey(stepResultID)))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, ErrStepResultNotFound
		}
		return nil, err
	}
	var result SagaStepResult
	if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &result) }); err != nil {
		return nil, err
	}
	return &result, nil
}

func execKey(executionID string) string {
	return execKeyPrefix + executionID
}

func execOrderIndexKey(orderID, executionID string) string {
	return execIndexOrderPrefix + orderID + ":" + executionID
}

func stepKey(stepResultID string) string {
	return stepKeyPrefix + stepResultID
}

func stepExecIndexKey(executionID string, stepOrder int, stepResultID string) string {
	return fmt.Sprintf("%s%s:%03d:%s", stepIndexExecPrefix, executionID, stepOrder, stepResultID)
}

func retryKey(attemptID string) string {
	return retryKeyPrefix + attemptID
}

func retryOrderIndexKey(orderID, attemptID string) string {
	return retryIndexOrderPrefix + orderID + ":" + attemptID
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}

func sortExecutionsByStart(executions []*SagaExecution) {
	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartedAt.Before(executions[j].StartedAt)
	})
}

func sortRetryAttemptsByNumber(attempts []*RetryAttempt) {
	sort.Slice(attempts, func(i, j int) bool {
		return attempts[i].AttemptNumber < attempts[j].AttemptNumber
	})
}
