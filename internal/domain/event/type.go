package event

import "github.com/garyjia/change-approval/internal/domain/entity"

// Type identifies the type of domain event
type Type string

const (
	TypeWorkflowInitiated    Type = "workflow.initiated"
	TypeWorkflowApproved     Type = "workflow.approved"
	TypeWorkflowRejected     Type = "workflow.rejected"
	TypeWorkflowOnHold       Type = "workflow.on_hold"
	TypeWorkflowResumed      Type = "workflow.resumed"
	TypeWorkflowOverridden   Type = "workflow.overridden"
	TypeStepDecided          Type = "step.decided"
	TypeStepDelegated        Type = "step.delegated"
	TypeStepEligible         Type = "step.eligible"
	TypeStepReminded         Type = "step.reminded"
	TypeStepEscalated        Type = "step.escalated"
	TypeDeadlineUpdated      Type = "step.deadline_updated"
	TypeRequirementFulfilled Type = "requirement.fulfilled"
	TypeRoleDelegated        Type = "delegation.role_granted"
	TypeDelegationExpired    Type = "delegation.expired"
	TypeBackupApproverSet    Type = "backup.updated"
)

// auditKinds maps each event type to the audit record kind it produces.
// Types missing from the map are not audited.
var auditKinds = map[Type]string{
	TypeWorkflowInitiated:    entity.AuditWorkflowInitiated,
	TypeWorkflowApproved:     entity.AuditWorkflowStatus,
	TypeWorkflowRejected:     entity.AuditWorkflowStatus,
	TypeWorkflowOnHold:       entity.AuditWorkflowStatus,
	TypeWorkflowResumed:      entity.AuditWorkflowStatus,
	TypeWorkflowOverridden:   entity.AuditAdministrativeClose,
	TypeStepDecided:          entity.AuditDecision,
	TypeStepDelegated:        entity.AuditDelegation,
	TypeStepEscalated:        entity.AuditEscalation,
	TypeDeadlineUpdated:      entity.AuditDeadlineChange,
	TypeRequirementFulfilled: entity.AuditRequirementFulfill,
	TypeRoleDelegated:        entity.AuditDelegation,
	TypeDelegationExpired:    entity.AuditDelegationExpired,
	TypeBackupApproverSet:    entity.AuditBackupApprover,
}

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeWorkflowInitiated,
		TypeWorkflowApproved,
		TypeWorkflowRejected,
		TypeWorkflowOnHold,
		TypeWorkflowResumed,
		TypeWorkflowOverridden,
		TypeStepDecided,
		TypeStepDelegated,
		TypeStepEligible,
		TypeStepReminded,
		TypeStepEscalated,
		TypeDeadlineUpdated,
		TypeRequirementFulfilled,
		TypeRoleDelegated,
		TypeDelegationExpired,
		TypeBackupApproverSet:
		return true
	default:
		return false
	}
}

// AuditKind returns the audit record kind for the type, or "" when the type is not audited
func (t Type) AuditKind() string {
	return auditKinds[t]
}
