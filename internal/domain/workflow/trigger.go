package workflow

import "github.com/garyjia/change-approval/internal/domain/entity"

// Trigger represents an event that can cause a state transition
type Trigger string

const (
	// Step triggers, one per decision variant
	TriggerApprove     Trigger = "APPROVE"
	TriggerReject      Trigger = "REJECT"
	TriggerRequestInfo Trigger = "REQUEST_INFO"
	TriggerDelegate    Trigger = "DELEGATE"

	// Workflow triggers
	TriggerComplete Trigger = "COMPLETE"
	TriggerHold     Trigger = "HOLD"
	TriggerResume   Trigger = "RESUME"
	TriggerOverride Trigger = "OVERRIDE"
	TriggerFail     Trigger = "FAIL"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}

// TriggerForDecision maps a decision value to the step trigger it fires
func TriggerForDecision(decision string) (Trigger, bool) {
	switch decision {
	case entity.DecisionApproved:
		return TriggerApprove, true
	case entity.DecisionRejected:
		return TriggerReject, true
	case entity.DecisionNeedsInfo:
		return TriggerRequestInfo, true
	case entity.DecisionDelegated:
		return TriggerDelegate, true
	}
	return "", false
}
