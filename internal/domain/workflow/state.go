package workflow

import "github.com/garyjia/change-approval/internal/domain/entity"

// State represents a lifecycle state of an approval step or a workflow instance.
// Step and workflow machines share the vocabulary for approved and rejected.
type State string

const (
	// Step states
	StatePending   State = "pending"
	StateNeedsInfo State = State(entity.DecisionNeedsInfo)
	StateDelegated State = State(entity.DecisionDelegated)

	// Shared by steps and workflows
	StateApproved State = State(entity.DecisionApproved)
	StateRejected State = State(entity.DecisionRejected)

	// Workflow states
	StateActive State = State(entity.WorkflowStatusActive)
	StateOnHold State = State(entity.WorkflowStatusOnHold)
	StateError  State = State(entity.WorkflowStatusError)
)

// IsTerminal returns true if the state is a terminal state (no further transitions allowed)
func (s State) IsTerminal() bool {
	switch s {
	case StateApproved, StateRejected, StateError:
		return true
	}
	return false
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid workflow state
func (s State) IsValid() bool {
	switch s {
	case StatePending, StateNeedsInfo, StateDelegated, StateApproved, StateRejected,
		StateActive, StateOnHold, StateError:
		return true
	}
	return false
}

// StepState maps a step's recorded decision to its machine state
func StepState(step *entity.ApprovalStep) State {
	if step.Decision == "" {
		return StatePending
	}
	return State(step.Decision)
}
