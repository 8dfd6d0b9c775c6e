package repository

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/change-approval/internal/domain/entity"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const workflowColumns = `id, change_id, archetype, status, change_type, priority,
	cost_impact, requester_id, project_owner_id, created_at, updated_at`

func scanWorkflow(row rowScanner) (*entity.WorkflowInstance, error) {
	var wf entity.WorkflowInstance
	err := row.Scan(
		&wf.ID,
		&wf.ChangeID,
		&wf.Archetype,
		&wf.Status,
		&wf.ChangeType,
		&wf.Priority,
		&wf.CostImpact,
		&wf.RequesterID,
		&wf.ProjectOwnerID,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

const stepColumns = `s.id, s.workflow_id, s.step_number, s.required_role, s.assigned_approver,
	s.is_required, s.is_parallel, s.depends_on_step, s.authority_ceiling, s.due_at, s.escalate_at,
	s.decision, s.decided_by, s.decided_at, s.comments, s.conditions,
	s.delegated_to, s.escalated_to, s.eligible_notified_at, s.created_at, s.updated_at`

func scanStep(row rowScanner) (*entity.ApprovalStep, error) {
	var st entity.ApprovalStep
	var dependsOn sql.NullInt64
	var ceiling decimal.NullDecimal
	var decidedAt, eligibleAt sql.NullTime

	err := row.Scan(
		&st.ID,
		&st.WorkflowID,
		&st.StepNumber,
		&st.RequiredRole,
		&st.AssignedApprover,
		&st.IsRequired,
		&st.IsParallel,
		&dependsOn,
		&ceiling,
		&st.DueAt,
		&st.EscalateAt,
		&st.Decision,
		&st.DecidedBy,
		&decidedAt,
		&st.Comments,
		&st.Conditions,
		&st.DelegatedTo,
		&st.EscalatedTo,
		&eligibleAt,
		&st.CreatedAt,
		&st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if dependsOn.Valid {
		n := int(dependsOn.Int64)
		st.DependsOnStep = &n
	}
	if ceiling.Valid {
		c := ceiling.Decimal
		st.AuthorityCeiling = &c
	}
	st.DecidedAt = timePtr(decidedAt)
	st.EligibleNotifiedAt = timePtr(eligibleAt)
	return &st, nil
}

const requirementColumns = `r.id, r.step_id, r.sequence, r.description, r.fulfilled,
	r.fulfilled_by, r.fulfilled_at, r.evidence, r.created_at`

func scanRequirement(row rowScanner) (*entity.ConditionalRequirement, error) {
	var req entity.ConditionalRequirement
	var fulfilledAt sql.NullTime
	err := row.Scan(
		&req.ID,
		&req.StepID,
		&req.Sequence,
		&req.Description,
		&req.Fulfilled,
		&req.FulfilledBy,
		&fulfilledAt,
		&req.Evidence,
		&req.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	req.FulfilledAt = timePtr(fulfilledAt)
	return &req, nil
}

const delegationColumns = `id, delegator, delegate, step_id, role, reason, active, expires_at, created_at`

func scanDelegation(row rowScanner) (*entity.Delegation, error) {
	var d entity.Delegation
	var expiresAt sql.NullTime
	err := row.Scan(
		&d.ID,
		&d.Delegator,
		&d.Delegate,
		&d.StepID,
		&d.Role,
		&d.Reason,
		&d.Active,
		&expiresAt,
		&d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.ExpiresAt = timePtr(expiresAt)
	return &d, nil
}

const backupColumns = `id, primary_id, backup_id, role, active, created_at, updated_at`

func scanBackup(row rowScanner) (*entity.BackupApprover, error) {
	var b entity.BackupApprover
	err := row.Scan(
		&b.ID,
		&b.PrimaryID,
		&b.BackupID,
		&b.Role,
		&b.Active,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// nullableTime converts an optional time to a driver value in UTC
func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullableInt(n *int) interface{} {
	if n == nil {
		return nil
	}
	return int64(*n)
}

func nullableDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
