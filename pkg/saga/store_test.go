package saga

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_CreateExecution(t *testing.T) {
	ctx := context.Background()

	t.Run("creates execution", func(t *testing.T) {
		store := NewMemoryStore()
		execution := NewExecution("exec-1", "ord-1", "corr-1")

		if err := store.CreateExecution(ctx, execution); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		got, err := store.GetExecution(ctx, "exec-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.OrderID != "ord-1" || got.Status != ExecutionInProgress {
			t.Errorf("unexpected execution: %+v", got)
		}
		if got.CorrelationID != "corr-1" {
			t.Errorf("expected correlation id persisted, got %q", got.CorrelationID)
		}
	})

	t.Run("rejects duplicate id", func(t *testing.T) {
		store := NewMemoryStore()
		if err := store.CreateExecution(ctx, NewExecution("exec-1", "ord-1", "")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := store.CreateExecution(ctx, NewExecution("exec-1", "ord-2", "")); err == nil {
			t.Fatal("expected error for duplicate execution id")
		}
	})

	t.Run("rejects second active execution per order", func(t *testing.T) {
		store := NewMemoryStore()
		if err := store.CreateExecution(ctx, NewExecution("exec-1", "ord-1", "")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		err := store.CreateExecution(ctx, NewExecution("exec-2", "ord-1", ""))
		if !errors.Is(err, ErrExecutionActive) {
			t.Fatalf("expected ErrExecutionActive, got %v", err)
		}
	})

	t.Run("allows new execution after terminal", func(t *testing.T) {
		store := NewMemoryStore()
		if err := store.CreateExecution(ctx, NewExecution("exec-1", "ord-1", "")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := store.UpdateExecutionStatus(ctx, "exec-1", ExecutionFailed); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if err := store.CreateExecution(ctx, NewExecution("exec-2", "ord-1", "")); err != nil {
			t.Fatalf("expected new execution after terminal, got %v", err)
		}
	})

	t.Run("rejects missing ids", func(t *testing.T) {
		store := NewMemoryStore()
		if err := store.CreateExecution(ctx, &SagaExecution{OrderID: "ord-1"}); err == nil {
			t.Error("expected error for missing execution id")
		}
		if err := store.CreateExecution(ctx, nil); err == nil {
			t.Error("expected error for nil execution")
		}
	})
}

func TestMemoryStore_GetExecution_NotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.GetExecution(context.Background(), "missing")
	if !errors.Is(err, ErrExecutionNotFound) {
		t.Fatalf("expected ErrExecutionNotFound, got %v", err)
	}
}

func TestMemoryStore_CloneIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	execution := NewExecution("exec-1", "ord-1", "")
	if err := store.CreateExecution(ctx, execution); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Mutating the original or a returned copy must not affect the store.
	execution.OrderID = "mutated"
	got, err := store.GetExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.OrderID != "ord-1" {
		t.Errorf("store leaked caller mutation: %q", got.OrderID)
	}

	got.Status = ExecutionCompleted
	again, err := store.GetExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.Status != ExecutionInProgress {
		t.Errorf("store leaked read mutation: %v", again.Status)
	}
}

func TestMemoryStore_ExecutionsByOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first := NewExecution("exec-1", "ord-1", "")
	first.StartedAt = time.Now().UTC().Add(-time.Hour)
	if err := store.CreateExecution(ctx, first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.UpdateExecutionStatus(ctx, "exec-1", ExecutionFailed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.CreateExecution(ctx, NewExecution("exec-2", "ord-1", "")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.CreateExecution(ctx, NewExecution("exec-other", "ord-2", "")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	executions, err := store.ExecutionsByOrder(ctx, "ord-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(executions) != 2 {
		t.Fatalf("expected 2 executions, got %d", len(executions))
	}
	// Oldest first.
	if executions[0].ID != "exec-1" || executions[1].ID != "exec-2" {
		t.Errorf("unexpected ordering: %s, %s", executions[0].ID, executions[1].ID)
	}
}

func TestMemoryStore_UpdateExecutionStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("terminal status stamps completion time", func(t *testing.T) {
		store := NewMemoryStore()
		if err := store.CreateExecution(ctx, NewExecution("exec-1", "ord-1", "")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if err := store.UpdateExecutionStatus(ctx, "exec-1", ExecutionCompleted); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got, _ := store.GetExecution(ctx, "exec-1")
		if got.CompletedAt == nil {
			t.Error("expected CompletedAt to be stamped on terminal status")
		}
	})

	t.Run("rejects invalid transition", func(t *testing.T) {
		store := NewMemoryStore()
		if err := store.CreateExecution(ctx, NewExecution("exec-1", "ord-1", "")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := store.UpdateExecutionStatus(ctx, "exec-1", ExecutionCompleted); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if err := store.UpdateExecutionStatus(ctx, "exec-1", ExecutionInProgress); err == nil {
			t.Fatal("expected invalid transition error")
		}
	})

	t.Run("unknown execution", func(t *testing.T) {
		store := NewMemoryStore()
		err := store.UpdateExecutionStatus(ctx, "missing", ExecutionCompleted)
		if !errors.Is(err, ErrExecutionNotFound) {
			t.Fatalf("expected ErrExecutionNotFound, got %v", err)
		}
	})
}

func TestMemoryStore_ExecutionFailureAndCompensationStamps(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.CreateExecution(ctx, NewExecution("exec-1", "ord-1", "")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := store.UpdateCurrentStep(ctx, "exec-1", 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.SetExecutionFailure(ctx, "exec-1", 2, "card declined"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.MarkCompensationStarted(ctx, "exec-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.MarkCompensationCompleted(ctx, "exec-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := store.GetExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.CurrentStep != 2 {
		t.Errorf("expected current step 2, got %d", got.CurrentStep)
	}
	if got.FailedStep != 2 || got.FailureReason != "card declined" {
		t.Errorf("unexpected failure fields: %+v", got)
	}
	if got.CompensationStartedAt == nil || got.CompensationCompletedAt == nil {
		t.Error("expected compensation timestamps to be stamped")
	}
}

func TestMemoryStore_StepResults(t *testing.T) {
	ctx := context.Background()

	newStepRow := func(id string, order int) *SagaStepResult {
		return &SagaStepResult{
			ID:          id,
			ExecutionID: "exec-1",
			StepName:    "step-" + id,
			StepOrder:   order,
			Status:      StepPending,
			StartedAt:   time.Now().UTC(),
		}
	}

	t.Run("lifecycle to completed", func(t *testing.T) {
		store := NewMemoryStore()
		if err := store.CreateStepResult(ctx, newStepRow("s1", 1)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := store.MarkStepInProgress(ctx, "s1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := store.MarkStepCompleted(ctx, "s1", []byte(`{"reservationId":"res-1"}`)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		rows, err := store.StepResultsByExecution(ctx, "exec-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(rows) != 1 {
			t.Fatalf("expected 1 row, got %d", len(rows))
		}
		if rows[0].Status != StepCompleted {
			t.Errorf("expected completed status, got %v", rows[0].Status)
		}
		if string(rows[0].Data) != `{"reservationId":"res-1"}` {
			t.Errorf("unexpected data: %s", rows[0].Data)
		}
		if rows[0].CompletedAt == nil {
			t.Error("expected completion time to be stamped")
		}
	})

	t.Run("lifecycle to failed", func(t *testing.T) {
		store := NewMemoryStore()
		if err := store.CreateStepResult(ctx, newStepRow("s1", 1)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := store.MarkStepInProgress(ctx, "s1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := store.MarkStepFailed(ctx, "s1", "timeout"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		rows, _ := store.StepResultsByExecution(ctx, "exec-1")
		if rows[0].Status != StepFailed || rows[0].ErrorMessage != "timeout" {
			t.Errorf("unexpected row: %+v", rows[0])
		}
	})

	t.Run("rejects invalid transition", func(t *testing.T) {
		store := NewMemoryStore()
		if err := store.CreateStepResult(ctx, newStepRow("s1", 1)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		// Pending cannot fail without running first.
		if err := store.MarkStepFailed(ctx, "s1", "boom"); err == nil {
			t.Fatal("expected invalid transition error")
		}
	})

	t.Run("only completed steps are compensatable", func(t *testing.T) {
		store := NewMemoryStore()
		if err := store.CreateStepResult(ctx, newStepRow("s1", 1)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := store.MarkStepInProgress(ctx, "s1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := store.MarkStepFailed(ctx, "s1", "boom"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		err := store.MarkStepCompensated(ctx, "s1")
		if !errors.Is(err, ErrStepNotCompensatable) {
			t.Fatalf("expected ErrStepNotCompensatable, got %v", err)
		}
	})

	t.Run("rows ordered by step order", func(t *testing.T) {
		store := NewMemoryStore()
		if err := store.CreateStepResult(ctx, newStepRow("s3", 3)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := store.CreateStepResult(ctx, newStepRow("s1", 1)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := store.CreateStepResult(ctx, newStepRow("s2", 2)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		rows, _ := store.StepResultsByExecution(ctx, "exec-1")
		for i, want := range []int{1, 2, 3} {
			if rows[i].StepOrder != want {
				t.Errorf("position %d: expected order %d, got %d", i, want, rows[i].StepOrder)
			}
		}
	})

	t.Run("unknown step result", func(t *testing.T) {
		store := NewMemoryStore()
		if err := store.MarkStepInProgress(ctx, "missing"); !errors.Is(err, ErrStepResultNotFound) {
			t.Fatalf("expected ErrStepResultNotFound, got %v", err)
		}
	})
}

func TestMemoryStore_RetryAttempts(t *testing.T) {
	ctx := context.Background()

	newAttempt := func(id string, number int, outcome RetryOutcome) *RetryAttempt {
		return &RetryAttempt{
			ID:                  id,
			OrderID:             "ord-1",
			OriginalExecutionID: "exec-1",
			AttemptNumber:       number,
			Outcome:             outcome,
			StartedAt:           time.Now().UTC(),
		}
	}

	t.Run("rejects second in-flight retry per order", func(t *testing.T) {
		store := NewMemoryStore()
		if err := store.CreateRetryAttempt(ctx, newAttempt("r1", 1, RetryInProgress)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		err := store.CreateRetryAttempt(ctx, newAttempt("r2", 2, RetryInProgress))
		if !errors.Is(err, ErrRetryActive) {
			t.Fatalf("expected ErrRetryActive, got %v", err)
		}
	})

	t.Run("allows new retry after terminal outcome", func(t *testing.T) {
		store := NewMemoryStore()
		if err := store.CreateRetryAttempt(ctx, newAttempt("r1", 1, RetryFailed)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := store.CreateRetryAttempt(ctx, newAttempt("r2", 2, RetryInProgress)); err != nil {
			t.Fatalf("expected second retry after terminal, got %v", err)
		}
	})

	t.Run("update requires existing attempt", func(t *testing.T) {
		store := NewMemoryStore()
		err := store.UpdateRetryAttempt(ctx, newAttempt("missing", 1, RetryFailed))
		if !errors.Is(err, ErrRetryAttemptNotFound) {
			t.Fatalf("expected ErrRetryAttemptNotFound, got %v", err)
		}
	})

	t.Run("attempts ordered by attempt number", func(t *testing.T) {
		store := NewMemoryStore()
		if err := store.CreateRetryAttempt(ctx, newAttempt("r2", 2, RetryFailed)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := store.CreateRetryAttempt(ctx, newAttempt("r1", 1, RetryFailed)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		attempts, err := store.RetryAttemptsByOrder(ctx, "ord-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(attempts) != 2 || attempts[0].AttemptNumber != 1 || attempts[1].AttemptNumber != 2 {
			t.Errorf("unexpected ordering: %+v", attempts)
		}
	})
}
