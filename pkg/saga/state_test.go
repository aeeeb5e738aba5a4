package saga

import "testing"

func TestExecutionStatus_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		from    ExecutionStatus
		to      ExecutionStatus
		allowed bool
	}{
		{"in-progress to completed", ExecutionInProgress, ExecutionCompleted, true},
		{"in-progress to failed", ExecutionInProgress, ExecutionFailed, true},
		{"in-progress to compensating", ExecutionInProgress, ExecutionCompensating, true},
		{"compensating to compensated", ExecutionCompensating, ExecutionCompensated, true},
		{"compensating to failed", ExecutionCompensating, ExecutionFailed, true},
		{"self transition", ExecutionInProgress, ExecutionInProgress, true},
		{"completed to in-progress", ExecutionCompleted, ExecutionInProgress, false},
		{"completed to failed", ExecutionCompleted, ExecutionFailed, false},
		{"failed to completed", ExecutionFailed, ExecutionCompleted, false},
		{"compensated to in-progress", ExecutionCompensated, ExecutionInProgress, false},
		{"in-progress to compensated", ExecutionInProgress, ExecutionCompensated, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
				t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.allowed)
			}
			err := ValidateExecutionTransition(tt.from, tt.to)
			if tt.allowed && err != nil {
				t.Errorf("expected valid transition, got %v", err)
			}
			if !tt.allowed && err == nil {
				t.Error("expected transition error, got nil")
			}
		})
	}
}

func TestExecutionStatus_IsTerminal(t *testing.T) {
	terminal := []ExecutionStatus{ExecutionCompleted, ExecutionFailed, ExecutionCompensated}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	nonTerminal := []ExecutionStatus{ExecutionInProgress, ExecutionCompensating}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("expected %s not to be terminal", s)
		}
	}
}

func TestExecutionStatus_String(t *testing.T) {
	tests := []struct {
		status   ExecutionStatus
		expected string
	}{
		{ExecutionInProgress, "in-progress"},
		{ExecutionCompleted, "completed"},
		{ExecutionFailed, "failed"},
		{ExecutionCompensating, "compensating"},
		{ExecutionCompensated, "compensated"},
		{ExecutionStatus(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.expected {
			t.Errorf("String() = %q, want %q", got, tt.expected)
		}
	}
}

func TestStepStatus_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		from    StepStatus
		to      StepStatus
		allowed bool
	}{
		{"pending to in-progress", StepPending, StepInProgress, true},
		{"pending to completed for skipped steps", StepPending, StepCompleted, true},
		{"in-progress to completed", StepInProgress, StepCompleted, true},
		{"in-progress to failed", StepInProgress, StepFailed, true},
		{"completed to compensated", StepCompleted, StepCompensated, true},
		{"self transition", StepCompleted, StepCompleted, true},
		{"pending to failed", StepPending, StepFailed, false},
		{"failed to completed", StepFailed, StepCompleted, false},
		{"failed to compensated", StepFailed, StepCompensated, false},
		{"compensated to completed", StepCompensated, StepCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
				t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.allowed)
			}
		})
	}
}

func TestStepStatus_String(t *testing.T) {
	tests := []struct {
		status   StepStatus
		expected string
	}{
		{StepPending, "pending"},
		{StepInProgress, "in-progress"},
		{StepCompleted, "completed"},
		{StepFailed, "failed"},
		{StepCompensated, "compensated"},
		{StepStatus(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.expected {
			t.Errorf("String() = %q, want %q", got, tt.expected)
		}
	}
}

func TestRetryOutcome(t *testing.T) {
	tests := []struct {
		outcome  RetryOutcome
		expected string
		terminal bool
	}{
		{RetryInProgress, "in-progress", false},
		{RetrySuccess, "success", true},
		{RetryFailed, "failed", true},
		{RetryPartialSuccess, "partial-success", true},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.outcome.String(); got != tt.expected {
				t.Errorf("String() = %q, want %q", got, tt.expected)
			}
			if got := tt.outcome.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

func TestOutcome_String(t *testing.T) {
	tests := []struct {
		outcome  Outcome
		expected string
	}{
		{OutcomeSuccess, "success"},
		{OutcomeFailedNoCompensation, "failed_no_compensation"},
		{OutcomeCompensated, "compensated"},
		{OutcomePartiallyCompensated, "partially_compensated"},
		{OutcomeUnknown, "unknown"},
	}
	for _, tt := range tests {
		if got := tt.outcome.String(); got != tt.expected {
			t.Errorf("String() = %q, want %q", got, tt.expected)
		}
	}
}
