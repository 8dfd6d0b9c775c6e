package port

import (
	"context"
	"time"

	"github.com/garyjia/change-approval/internal/domain/entity"
)

// WorkflowRepository defines persistence operations for WorkflowInstance
type WorkflowRepository interface {
	Create(ctx context.Context, wf *entity.WorkflowInstance) error
	GetByID(ctx context.Context, id int64) (*entity.WorkflowInstance, error)

	// GetByChangeID returns the most recent workflow for a change request
	GetByChangeID(ctx context.Context, changeID string) (*entity.WorkflowInstance, error)

	UpdateStatus(ctx context.Context, id int64, status string, at time.Time) error
	ListByStatus(ctx context.Context, status string) ([]*entity.WorkflowInstance, error)
}

// StepRepository defines persistence operations for ApprovalStep.
// Only the decision, delegation, escalation, deadline and eligibility fields are mutable.
type StepRepository interface {
	// CreateBatch inserts the steps and assigns their IDs
	CreateBatch(ctx context.Context, steps []*entity.ApprovalStep) error
	GetByID(ctx context.Context, id int64) (*entity.ApprovalStep, error)

	// GetByWorkflowID returns steps ordered by step number then id
	GetByWorkflowID(ctx context.Context, workflowID int64) ([]*entity.ApprovalStep, error)

	// RecordDecision persists the decision record and delegated_to of the step.
	// A non-empty decision is also appended to the step's decision history.
	RecordDecision(ctx context.Context, step *entity.ApprovalStep) error

	// ListDecisions returns the step's decision history, oldest first
	ListDecisions(ctx context.Context, stepID int64) ([]*entity.StepDecision, error)
	SetEscalatedTo(ctx context.Context, id int64, target string, at time.Time) error
	UpdateDeadline(ctx context.Context, id int64, dueAt, escalateAt, at time.Time) error
	MarkEligibleNotified(ctx context.Context, id int64, at time.Time) error

	// ListUndecided returns undecided or delegated steps of workflows in the given status
	ListUndecided(ctx context.Context, workflowStatus string) ([]*entity.ApprovalStep, error)

	// ListOpenForUser returns open steps assigned, escalated or delegated to the user
	ListOpenForUser(ctx context.Context, userID string) ([]*entity.ApprovalStep, error)
}

// RequirementRepository defines persistence operations for ConditionalRequirement
type RequirementRepository interface {
	CreateBatch(ctx context.Context, reqs []*entity.ConditionalRequirement) error
	GetByID(ctx context.Context, id int64) (*entity.ConditionalRequirement, error)

	// GetByStepID returns requirements ordered by sequence
	GetByStepID(ctx context.Context, stepID int64) ([]*entity.ConditionalRequirement, error)
	GetByWorkflowID(ctx context.Context, workflowID int64) ([]*entity.ConditionalRequirement, error)
	MarkFulfilled(ctx context.Context, id int64, fulfilledBy, evidence string, at time.Time) error
}

// DelegationRepository defines persistence operations for Delegation
type DelegationRepository interface {
	Create(ctx context.Context, d *entity.Delegation) error

	// GetActiveForStep returns the active delegation of a step, or nil
	GetActiveForStep(ctx context.Context, stepID int64) (*entity.Delegation, error)

	// ListForStep returns every delegation of a step, active or not, ordered by id
	ListForStep(ctx context.Context, stepID int64) ([]*entity.Delegation, error)

	// ListActiveByDelegate returns active delegations granted to the user, including expired-but-not-yet-cleaned ones
	ListActiveByDelegate(ctx context.Context, delegate string) ([]*entity.Delegation, error)

	// ListExpired returns active delegations whose expiry is before now
	ListExpired(ctx context.Context, now time.Time) ([]*entity.Delegation, error)
	Deactivate(ctx context.Context, id int64) error
}

// BackupApproverRepository defines persistence operations for BackupApprover
type BackupApproverRepository interface {
	// Upsert creates or reactivates the mapping for (primary, role)
	Upsert(ctx context.Context, b *entity.BackupApprover) error
	Deactivate(ctx context.Context, primaryID, role string, at time.Time) error

	// Find returns the active backup for a primary and role, or nil
	Find(ctx context.Context, primaryID, role string) (*entity.BackupApprover, error)

	// ListForRole returns active backups for a role ordered by id
	ListForRole(ctx context.Context, role string) ([]*entity.BackupApprover, error)
}

// EscalationRepository defines persistence operations for Escalation (append-only)
type EscalationRepository interface {
	Create(ctx context.Context, e *entity.Escalation) error
	GetByStepID(ctx context.Context, stepID int64) ([]*entity.Escalation, error)
}

// ReminderRepository defines persistence operations for Reminder (append-only)
type ReminderRepository interface {
	Create(ctx context.Context, r *entity.Reminder) error

	// LastForStep returns the most recent reminder for the step, or nil
	LastForStep(ctx context.Context, stepID int64) (*entity.Reminder, error)
}

// FailureRepository stores collaborator failures for later reconciliation
type FailureRepository interface {
	Create(ctx context.Context, f *entity.CollaboratorFailure) error
	List(ctx context.Context, limit int) ([]*entity.CollaboratorFailure, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store groups the repositories backing the engine. Both the sqlite and the
// in-memory backends provide one.
type Store struct {
	Workflows    WorkflowRepository
	Steps        StepRepository
	Requirements RequirementRepository
	Delegations  DelegationRepository
	Backups      BackupApproverRepository
	Escalations  EscalationRepository
	Reminders    ReminderRepository
	Failures     FailureRepository
	Tx           TransactionManager
}
