package workflow

import (
	"context"
	"time"

	"github.com/garyjia/change-approval/internal/domain/entity"
)

// Engine orchestrates approval workflows for change requests
type Engine interface {
	// InitiateWorkflow plans and persists a workflow for a change request
	InitiateWorkflow(ctx context.Context, change entity.ChangeData) (*entity.WorkflowInstance, error)

	// Decide records a decision on a step and advances the workflow
	Decide(ctx context.Context, req DecideRequest) (*DecisionResult, error)

	// FulfillRequirement marks one condition of an approved step as met.
	// Returns true once every condition of the step is fulfilled.
	FulfillRequirement(ctx context.Context, stepID, requirementID int64, actor, evidence string) (bool, error)

	// PendingFor lists the open steps waiting on a user
	PendingFor(ctx context.Context, userID string) ([]*entity.PendingApproval, error)

	// RunProgressionSweep announces newly eligible steps and completes finished workflows
	RunProgressionSweep(ctx context.Context) (*SweepReport, error)

	// RunDeadlineSweep sends reminders and escalates overdue steps
	RunDeadlineSweep(ctx context.Context) (*SweepReport, error)

	// Escalate reassigns a step now, to target or to the resolved escalation target
	Escalate(ctx context.Context, req EscalateRequest) (*entity.Escalation, error)

	// Delegate hands a step to another approver
	Delegate(ctx context.Context, req DelegateRequest) (*entity.Delegation, error)

	// DelegateRole grants a role-scope delegation
	DelegateRole(ctx context.Context, from, to, role, reason string, duration time.Duration) (*entity.Delegation, error)

	SetBackupApprover(ctx context.Context, primary, backup, role string) (*entity.BackupApprover, error)
	RemoveBackupApprover(ctx context.Context, primary, role string) error

	// UpdateDeadline moves a step's due time; reason is mandatory
	UpdateDeadline(ctx context.Context, stepID int64, dueAt time.Time, reason, actor string) (*entity.ApprovalStep, error)

	// CleanupDelegations deactivates expired delegations and returns how many
	CleanupDelegations(ctx context.Context) (int, error)

	// Override administratively closes a workflow as rejected
	Override(ctx context.Context, workflowID int64, actor, reason string) (*entity.WorkflowInstance, error)

	// GetWorkflow returns a workflow with its steps and requirements
	GetWorkflow(ctx context.Context, workflowID int64) (*WorkflowView, error)

	// GetWorkflowByChange returns the latest workflow of a change request
	GetWorkflowByChange(ctx context.Context, changeID string) (*WorkflowView, error)
}

// DecideRequest is one approver decision on a step
type DecideRequest struct {
	StepID     int64  `json:"step_id"`
	Actor      string `json:"actor"`
	Decision   string `json:"decision"`
	Comments   string `json:"comments,omitempty"`
	Conditions string `json:"conditions,omitempty"`

	// Only for delegated decisions
	DelegateTo         string        `json:"delegate_to,omitempty"`
	DelegationDuration time.Duration `json:"delegation_duration,omitempty"`
}

// DecisionResult reports the state after a decision. A replayed submission
// returns the same result as the original.
type DecisionResult struct {
	StepID             int64                            `json:"step_id"`
	WorkflowID         int64                            `json:"workflow_id"`
	ChangeID           string                           `json:"change_id"`
	Decision           string                           `json:"decision"`
	StepState          string                           `json:"step_state"`
	WorkflowStatus     string                           `json:"workflow_status"`
	NewlyEligibleSteps []int64                          `json:"newly_eligible_steps,omitempty"`
	Requirements       []*entity.ConditionalRequirement `json:"requirements,omitempty"`
	Delegation         *entity.Delegation               `json:"delegation,omitempty"`
}

// DelegateRequest hands a step from one approver to another
type DelegateRequest struct {
	StepID   int64         `json:"step_id"`
	From     string        `json:"from"`
	To       string        `json:"to"`
	Reason   string        `json:"reason"`
	Duration time.Duration `json:"duration,omitempty"`
}

// EscalateRequest reassigns a step. An empty Target resolves manager, peer, then backup.
type EscalateRequest struct {
	StepID int64  `json:"step_id"`
	Target string `json:"target,omitempty"`
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

// SweepReport summarises one periodic pass
type SweepReport struct {
	Sweep       string        `json:"sweep"`
	Processed   int           `json:"processed"`
	Completed   int           `json:"completed,omitempty"`
	Eligible    int           `json:"eligible,omitempty"`
	Reminded    int           `json:"reminded,omitempty"`
	Escalated   int           `json:"escalated,omitempty"`
	Unescalated int           `json:"unescalated,omitempty"`
	Failed      int           `json:"failed"`
	Duration    time.Duration `json:"duration"`
	Err         error         `json:"-"`
}

// WorkflowView is a workflow with its steps and their requirements
type WorkflowView struct {
	Workflow     *entity.WorkflowInstance         `json:"workflow"`
	Steps        []*entity.ApprovalStep           `json:"steps"`
	Requirements []*entity.ConditionalRequirement `json:"requirements,omitempty"`
}
