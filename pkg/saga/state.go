package saga

import "fmt"

// ExecutionStatus defines the lifecycle of a SagaExecution.
type ExecutionStatus int

const (
	ExecutionInProgress ExecutionStatus = iota
	ExecutionCompleted
	ExecutionFailed
	ExecutionCompensating
	ExecutionCompensated
)

var validExecutionTransitions = map[ExecutionStatus]map[ExecutionStatus]struct{}{
	ExecutionInProgress: {
		ExecutionCompleted:    {},
		ExecutionFailed:       {},
		ExecutionCompensating: {},
	},
	ExecutionCompensating: {
		ExecutionCompensated: {},
		ExecutionFailed:      {},
	},
}

// String returns the string form of ExecutionStatus.
func (s ExecutionStatus) String() string {
	switch s {
	case ExecutionInProgress:
		return "in-progress"
	case ExecutionCompleted:
		return "completed"
	case ExecutionFailed:
		return "failed"
	case ExecutionCompensating:
		return "compensating"
	case ExecutionCompensated:
		return "compensated"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the execution status is terminal.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCompensated:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks whether an execution status transition is valid.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	if s == next {
		return true
	}
	validNext, ok := validExecutionTransitions[s]
	if !ok {
		return false
	}
	_, ok = validNext[next]
	return ok
}

// ValidateExecutionTransition validates transition semantics.
func ValidateExecutionTransition(current, next ExecutionStatus) error {
	if !current.CanTransitionTo(next) {
		return fmt.Errorf("invalid execution status transition: %s -> %s", current, next)
	}
	return nil
}

// StepStatus defines the lifecycle of a SagaStepResult.
type StepStatus int

const (
	StepPending StepStatus = iota
	StepInProgress
	StepCompleted
	StepFailed
	StepCompensated
)

var validStepTransitions = map[StepStatus]map[StepStatus]struct{}{
	StepPending: {
		StepInProgress: {},
		// Skipped steps are recorded as already satisfied.
		StepCompleted: {},
	},
	StepInProgress: {
		StepCompleted: {},
		StepFailed:    {},
	},
	StepCompleted: {
		StepCompensated: {},
	},
}

// String returns the string form of StepStatus.
func (s StepStatus) String() string {
	switch s {
	case StepPending:
		return "pending"
	case StepInProgress:
		return "in-progress"
	case StepCompleted:
		return "completed"
	case StepFailed:
		return "failed"
	case StepCompensated:
		return "compensated"
	default:
		return "unknown"
	}
}

// CanTransitionTo checks whether a step status transition is valid.
func (s StepStatus) CanTransitionTo(next StepStatus) bool {
	if s == next {
		return true
	}
	validNext, ok := validStepTransitions[s]
	if !ok {
		return false
	}
	_, ok = validNext[next]
	return ok
}

// ValidateStepTransition validates transition semantics.
func ValidateStepTransition(current, next StepStatus) error {
	if !current.CanTransitionTo(next) {
		return fmt.Errorf("invalid step status transition: %s -> %s", current, next)
	}
	return nil
}

// RetryOutcome classifies a retry attempt.
type RetryOutcome int

const (
	RetryInProgress RetryOutcome = iota
	RetrySuccess
	RetryFailed
	RetryPartialSuccess
)

// String returns the string form of RetryOutcome.
func (o RetryOutcome) String() string {
	switch o {
	case RetryInProgress:
		return "in-progress"
	case RetrySuccess:
		return "success"
	case RetryFailed:
		return "failed"
	case RetryPartialSuccess:
		return "partial-success"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the retry outcome is terminal.
func (o RetryOutcome) IsTerminal() bool {
	return o != RetryInProgress
}
