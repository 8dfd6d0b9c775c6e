package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChangeData describes the change request entering review. It is supplied by the
// change-request subsystem and snapshotted onto the workflow instance.
type ChangeData struct {
	ChangeID       string          `json:"change_id"`
	Title          string          `json:"title,omitempty"`
	ChangeType     string          `json:"change_type"`
	Priority       string          `json:"priority"`
	CostImpact     decimal.Decimal `json:"cost_impact"`
	RequesterID    string          `json:"requester_id,omitempty"`
	ProjectOwnerID string          `json:"project_owner_id,omitempty"`
}

// WorkflowInstance is one attempt to get a change request approved
type WorkflowInstance struct {
	ID             int64           `json:"id"`
	ChangeID       string          `json:"change_id"`
	Archetype      string          `json:"archetype"`
	Status         string          `json:"status"`
	ChangeType     string          `json:"change_type"`
	Priority       string          `json:"priority"`
	CostImpact     decimal.Decimal `json:"cost_impact"`
	RequesterID    string          `json:"requester_id,omitempty"`
	ProjectOwnerID string          `json:"project_owner_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// IsTerminal reports whether the workflow can no longer change
func (w *WorkflowInstance) IsTerminal() bool {
	switch w.Status {
	case WorkflowStatusApproved, WorkflowStatusRejected, WorkflowStatusError:
		return true
	}
	return false
}

// HighUrgency reports whether escalations on this workflow are broadcast to executives
func (w *WorkflowInstance) HighUrgency() bool {
	if w.Priority == PriorityEmergency || w.Priority == PriorityCritical {
		return true
	}
	return w.Archetype == ArchetypeEmergency || w.Archetype == ArchetypeExpedited
}

// ChangeContext returns the change characteristics used for approver resolution
func (w *WorkflowInstance) ChangeContext() ChangeContext {
	return ChangeContext{
		ChangeID:       w.ChangeID,
		ChangeType:     w.ChangeType,
		Priority:       w.Priority,
		CostImpact:     w.CostImpact,
		ProjectOwnerID: w.ProjectOwnerID,
	}
}

// ChangeContext is the subset of change data the directory needs to resolve a role
type ChangeContext struct {
	ChangeID       string
	ChangeType     string
	Priority       string
	CostImpact     decimal.Decimal
	ProjectOwnerID string
}

// ApprovalStep is one planned authorization point of a workflow.
// Steps sharing a StepNumber form a parallel group.
type ApprovalStep struct {
	ID               int64            `json:"id"`
	WorkflowID       int64            `json:"workflow_id"`
	StepNumber       int              `json:"step_number"`
	RequiredRole     string           `json:"required_role"`
	AssignedApprover string           `json:"assigned_approver,omitempty"`
	IsRequired       bool             `json:"is_required"`
	IsParallel       bool             `json:"is_parallel"`
	DependsOnStep    *int             `json:"depends_on_step,omitempty"`
	AuthorityCeiling *decimal.Decimal `json:"authority_ceiling,omitempty"`
	DueAt            time.Time        `json:"due_at"`
	EscalateAt       time.Time        `json:"escalate_at"`

	// Decision record, empty while pending
	Decision   string     `json:"decision,omitempty"`
	DecidedBy  string     `json:"decided_by,omitempty"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`
	Comments   string     `json:"comments,omitempty"`
	Conditions string     `json:"conditions,omitempty"`

	DelegatedTo string `json:"delegated_to,omitempty"`
	EscalatedTo string `json:"escalated_to,omitempty"`

	// Set once the step has been announced as eligible after its dependency completed
	EligibleNotifiedAt *time.Time `json:"eligible_notified_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StepDecision is one entry of a step's append-only decision history
type StepDecision struct {
	ID          int64     `json:"id"`
	StepID      int64     `json:"step_id"`
	Decision    string    `json:"decision"`
	DecidedBy   string    `json:"decided_by"`
	Comments    string    `json:"comments,omitempty"`
	Conditions  string    `json:"conditions,omitempty"`
	DelegatedTo string    `json:"delegated_to,omitempty"`
	DecidedAt   time.Time `json:"decided_at"`
}

// IsUndecided reports whether the step still waits for someone to act on it
func (s *ApprovalStep) IsUndecided() bool {
	return s.Decision == "" || s.Decision == DecisionDelegated
}

// CurrentApprover returns who is expected to act on the step while any recorded
// delegation still holds. A delegate keeps the step while it waits for
// information they requested.
func (s *ApprovalStep) CurrentApprover() string {
	if s.DelegatedTo != "" && (s.Decision == DecisionDelegated || s.Decision == DecisionNeedsInfo) {
		return s.DelegatedTo
	}
	return s.UndelegatedApprover()
}

// UndelegatedApprover returns the escalation target, else the assigned approver
func (s *ApprovalStep) UndelegatedApprover() string {
	if s.EscalatedTo != "" {
		return s.EscalatedTo
	}
	return s.AssignedApprover
}

// AuthorityValue returns the monetary value an approver of this step must be
// authorised for: the change value capped by the step's ceiling.
func (s *ApprovalStep) AuthorityValue(changeValue decimal.Decimal) decimal.Decimal {
	if s.AuthorityCeiling != nil && changeValue.GreaterThan(*s.AuthorityCeiling) {
		return *s.AuthorityCeiling
	}
	return changeValue
}

// ConditionalRequirement is one follow-up item of an approval granted with conditions
type ConditionalRequirement struct {
	ID          int64      `json:"id"`
	StepID      int64      `json:"step_id"`
	Sequence    int        `json:"sequence"`
	Description string     `json:"description"`
	Fulfilled   bool       `json:"fulfilled"`
	FulfilledBy string     `json:"fulfilled_by,omitempty"`
	FulfilledAt *time.Time `json:"fulfilled_at,omitempty"`
	Evidence    string     `json:"evidence,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// PendingApproval is a step waiting on a specific user
type PendingApproval struct {
	Step     *ApprovalStep     `json:"step"`
	Workflow *WorkflowInstance `json:"workflow"`
	Eligible bool              `json:"eligible"`
	// ActingAs is "assigned", "escalated" or "delegated"
	ActingAs string `json:"acting_as"`
	Overdue  bool   `json:"overdue"`
}
