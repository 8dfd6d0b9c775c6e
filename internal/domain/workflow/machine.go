package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// StateMachine represents a state machine that tracks current state and validates transitions
type StateMachine interface {
	// State returns the current state
	State() State

	// CanFire returns true if the trigger is permitted in the current state
	CanFire(trigger Trigger) bool

	// Fire attempts to execute the trigger, transitioning to the new state if allowed
	Fire(ctx context.Context, trigger Trigger) error

	// PermittedTriggers returns the triggers configured for the current state, sorted
	PermittedTriggers() []Trigger
}

type stateMachine struct {
	current State
	table   transitionTable
}

func (m *stateMachine) State() State {
	return m.current
}

// CanFire does not evaluate guards; it only reports whether a transition is configured
func (m *stateMachine) CanFire(trigger Trigger) bool {
	return len(m.table[m.current][trigger]) > 0
}

func (m *stateMachine) Fire(ctx context.Context, trigger Trigger) error {
	candidates := m.table[m.current][trigger]
	if len(candidates) == 0 {
		return fmt.Errorf("%w: cannot fire trigger %s from state %s", ErrInvalidTransition, trigger, m.current)
	}

	for _, t := range candidates {
		if t.guard == nil || t.guard(ctx) {
			m.current = t.toState
			return nil
		}
	}

	return fmt.Errorf("%w: trigger %s from state %s", ErrGuardFailed, trigger, m.current)
}

func (m *stateMachine) PermittedTriggers() []Trigger {
	byTrigger := m.table[m.current]
	triggers := make([]Trigger, 0, len(byTrigger))
	for trigger := range byTrigger {
		triggers = append(triggers, trigger)
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i] < triggers[j] })
	return triggers
}

// Transition tables are built on first use, after package initialisation
var (
	stepBuilder     = sync.OnceValue(newStepBuilder)
	workflowBuilder = sync.OnceValue(newWorkflowBuilder)
)

// newStepBuilder configures the per-step decision lifecycle. needs_info reopens the
// step for any decision; delegated steps are closed by the delegate without a
// second hand-off.
func newStepBuilder() StateMachineBuilder {
	b := NewBuilder()

	b.Configure(StatePending).
		Permit(TriggerApprove, StateApproved).
		Permit(TriggerReject, StateRejected).
		Permit(TriggerRequestInfo, StateNeedsInfo).
		Permit(TriggerDelegate, StateDelegated)

	b.Configure(StateNeedsInfo).
		Permit(TriggerApprove, StateApproved).
		Permit(TriggerReject, StateRejected).
		Permit(TriggerRequestInfo, StateNeedsInfo).
		Permit(TriggerDelegate, StateDelegated)

	b.Configure(StateDelegated).
		Permit(TriggerApprove, StateApproved).
		Permit(TriggerReject, StateRejected).
		Permit(TriggerRequestInfo, StateNeedsInfo)

	b.Configure(StateApproved)
	b.Configure(StateRejected)

	return b
}

func newWorkflowBuilder() StateMachineBuilder {
	b := NewBuilder()

	b.Configure(StateActive).
		Permit(TriggerComplete, StateApproved).
		Permit(TriggerReject, StateRejected).
		Permit(TriggerOverride, StateRejected).
		Permit(TriggerHold, StateOnHold).
		Permit(TriggerFail, StateError)

	b.Configure(StateOnHold).
		Permit(TriggerResume, StateActive).
		Permit(TriggerHold, StateOnHold).
		Permit(TriggerComplete, StateApproved).
		Permit(TriggerReject, StateRejected).
		Permit(TriggerOverride, StateRejected).
		Permit(TriggerFail, StateError)

	b.Configure(StateApproved)
	b.Configure(StateRejected)
	b.Configure(StateError)

	return b
}

// NewStepMachine returns a machine positioned at the step's current decision state
func NewStepMachine(current State) StateMachine {
	return stepBuilder().Build(current)
}

// NewWorkflowMachine returns a machine positioned at the workflow's current status
func NewWorkflowMachine(current State) StateMachine {
	return workflowBuilder().Build(current)
}
