// Package saga implements the order saga orchestration core: forward
// execution over a fixed ordered step list, reverse-order best-effort
// compensation, and resumable retries reconstructed from persisted step data.
package saga

import (
	"context"
	"fmt"
	"sort"
)

// StepResult is the outcome of a forward step. Failures are values, never
// panics or raw errors crossing the orchestrator boundary.
type StepResult struct {
	Success      bool
	Data         map[string]string
	ErrorCode    string
	ErrorMessage string
}

// Succeed builds a success result carrying the step data payload.
func Succeed(data map[string]string) *StepResult {
	return &StepResult{Success: true, Data: data}
}

// Fail builds a failure result with a machine-readable code and message.
func Fail(code, message string) *StepResult {
	return &StepResult{Success: false, ErrorCode: code, ErrorMessage: message}
}

// CompensationResult is the outcome of undoing a step.
type CompensationResult struct {
	Success      bool
	ErrorMessage string
}

// CompensationSucceeded builds a success compensation result.
func CompensationSucceeded() *CompensationResult {
	return &CompensationResult{Success: true}
}

// CompensationFailed builds a failure compensation result.
func CompensationFailed(message string) *CompensationResult {
	return &CompensationResult{Success: false, ErrorMessage: message}
}

// SagaStep is one stateless policy object in the ordered step list.
type SagaStep interface {
	// Name is the fixed step name used in persistence and skip lists.
	Name() string
	// Order is the 1-based position of the step. Step order must be
	// contiguous starting at 1 with no gaps.
	Order() int
	// Execute performs the external side effect. Errors from remote
	// collaborators are translated into failure results.
	Execute(ctx context.Context, sc *SagaContext) *StepResult
	// Compensate undoes the side effect using data stashed in the context.
	// When the expected context key is absent there is nothing to undo and
	// compensation is a successful no-op.
	Compensate(ctx context.Context, sc *SagaContext) *CompensationResult
}

// PreconditionValidator is implemented by steps that can reject a context as
// structurally invalid before any external call is made.
type PreconditionValidator interface {
	ValidatePreconditions(sc *SagaContext) *StepResult
}

// ContextRestorer is implemented by steps whose persisted step data can be
// parsed back into typed context keys when a retry resumes an execution.
type ContextRestorer interface {
	RestoreContext(sc *SagaContext, data map[string]string)
}

// KeyProducer is implemented by steps that declare the context key names
// their successful execution stores, used to validate a context before resume.
type KeyProducer interface {
	ProducedKeys() []string
}

// SortSteps orders steps by their declared 1-based order, in place.
func SortSteps(steps []SagaStep) {
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].Order() < steps[j].Order()
	})
}

// ValidateSteps checks that step orders are contiguous starting at 1.
func ValidateSteps(steps []SagaStep) error {
	for i, step := range steps {
		if step == nil {
			return fmt.Errorf("step at position %d is nil", i)
		}
		if step.Order() != i+1 {
			return fmt.Errorf("step %q has order %d, want %d", step.Name(), step.Order(), i+1)
		}
	}
	return nil
}
