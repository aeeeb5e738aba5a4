package saga

import (
	"context"
	"strings"
	"testing"
)

// fakeStep is a configurable step used across the package tests. Its default
// behavior succeeds and stashes a token under a step-specific key, mirroring
// how the real steps persist their produced identifiers.
type fakeStep struct {
	name  string
	order int

	execute      func(sc *SagaContext) *StepResult
	compensate   func(sc *SagaContext) *CompensationResult
	precondition func(sc *SagaContext) *StepResult
	enrich       func(sc *SagaContext, result *SagaResult)

	executions    int
	compensations int
}

func (s *fakeStep) keyName() string { return s.name + ".token" }
func (s *fakeStep) token() string   { return "token-" + s.name }

func (s *fakeStep) Name() string { return s.name }
func (s *fakeStep) Order() int   { return s.order }

func (s *fakeStep) Execute(_ context.Context, sc *SagaContext) *StepResult {
	s.executions++
	if s.execute != nil {
		return s.execute(sc)
	}
	Put(sc, Key[string](s.keyName()), s.token())
	return Succeed(map[string]string{s.keyName(): s.token()})
}

func (s *fakeStep) Compensate(_ context.Context, sc *SagaContext) *CompensationResult {
	s.compensations++
	if s.compensate != nil {
		return s.compensate(sc)
	}
	return CompensationSucceeded()
}

func (s *fakeStep) ValidatePreconditions(sc *SagaContext) *StepResult {
	if s.precondition != nil {
		return s.precondition(sc)
	}
	return nil
}

func (s *fakeStep) RestoreContext(sc *SagaContext, data map[string]string) {
	if v := data[s.keyName()]; v != "" {
		Put(sc, Key[string](s.keyName()), v)
	}
}

func (s *fakeStep) ProducedKeys() []string { return []string{s.keyName()} }

func (s *fakeStep) EnrichResult(sc *SagaContext, result *SagaResult) {
	if s.enrich != nil {
		s.enrich(sc, result)
	}
}

func newFakeSteps(count int) []*fakeStep {
	steps := make([]*fakeStep, 0, count)
	names := []string{"reserve", "authorize", "ship", "notify", "archive"}
	for i := 0; i < count; i++ {
		steps = append(steps, &fakeStep{name: names[i], order: i + 1})
	}
	return steps
}

func asSagaSteps(steps []*fakeStep) []SagaStep {
	out := make([]SagaStep, len(steps))
	for i, s := range steps {
		out[i] = s
	}
	return out
}

func TestStepResult_Constructors(t *testing.T) {
	success := Succeed(map[string]string{"reservationId": "res-1"})
	if !success.Success {
		t.Error("expected success result")
	}
	if success.Data["reservationId"] != "res-1" {
		t.Errorf("expected data payload, got %v", success.Data)
	}

	failure := Fail("PAYMENT_DECLINED", "card declined")
	if failure.Success {
		t.Error("expected failure result")
	}
	if failure.ErrorCode != "PAYMENT_DECLINED" || failure.ErrorMessage != "card declined" {
		t.Errorf("unexpected failure fields: %+v", failure)
	}
}

func TestCompensationResult_Constructors(t *testing.T) {
	if !CompensationSucceeded().Success {
		t.Error("expected compensation success")
	}
	failed := CompensationFailed("release failed")
	if failed.Success || failed.ErrorMessage != "release failed" {
		t.Errorf("unexpected compensation failure: %+v", failed)
	}
}

func TestSortSteps(t *testing.T) {
	steps := []SagaStep{
		&fakeStep{name: "ship", order: 3},
		&fakeStep{name: "reserve", order: 1},
		&fakeStep{name: "authorize", order: 2},
	}

	SortSteps(steps)

	for i, want := range []string{"reserve", "authorize", "ship"} {
		if steps[i].Name() != want {
			t.Errorf("position %d: expected %q, got %q", i, want, steps[i].Name())
		}
	}
}

func TestValidateSteps(t *testing.T) {
	t.Run("contiguous orders pass", func(t *testing.T) {
		if err := ValidateSteps(asSagaSteps(newFakeSteps(3))); err != nil {
			t.Errorf("expected valid steps, got %v", err)
		}
	})

	t.Run("empty list passes", func(t *testing.T) {
		if err := ValidateSteps(nil); err != nil {
			t.Errorf("expected nil error for empty list, got %v", err)
		}
	})

	t.Run("gap in orders fails", func(t *testing.T) {
		steps := []SagaStep{
			&fakeStep{name: "reserve", order: 1},
			&fakeStep{name: "ship", order: 3},
		}
		err := ValidateSteps(steps)
		if err == nil {
			t.Fatal("expected error for gap in step orders")
		}
		if !strings.Contains(err.Error(), "ship") {
			t.Errorf("expected offending step name in error, got %v", err)
		}
	})

	t.Run("not starting at one fails", func(t *testing.T) {
		steps := []SagaStep{&fakeStep{name: "reserve", order: 2}}
		if err := ValidateSteps(steps); err == nil {
			t.Fatal("expected error for step order not starting at 1")
		}
	})

	t.Run("nil step fails", func(t *testing.T) {
		steps := []SagaStep{&fakeStep{name: "reserve", order: 1}, nil}
		if err := ValidateSteps(steps); err == nil {
			t.Fatal("expected error for nil step")
		}
	})
}
