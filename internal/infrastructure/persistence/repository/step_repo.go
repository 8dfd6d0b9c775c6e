package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/change-approval/internal/application/port"
	"github.com/garyjia/change-approval/internal/domain/entity"
	"github.com/garyjia/change-approval/internal/infrastructure/persistence/sqlite"
)

// StepRepository implements port.StepRepository
type StepRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStepRepository creates a new approval step repository
func NewStepRepository(db *sql.DB, logger *zap.Logger) port.StepRepository {
	return &StepRepository{
		db:     db,
		logger: logger,
	}
}

// CreateBatch inserts the steps of a workflow and assigns their IDs
func (r *StepRepository) CreateBatch(ctx context.Context, steps []*entity.ApprovalStep) error {
	query := `
		INSERT INTO approval_steps (
			workflow_id, step_number, required_role, assigned_approver, is_required,
			is_parallel, depends_on_step, authority_ceiling, due_at, escalate_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	exec := sqlite.Executor(ctx, r.db)
	for _, st := range steps {
		result, err := exec.ExecContext(ctx, query,
			st.WorkflowID,
			st.StepNumber,
			st.RequiredRole,
			st.AssignedApprover,
			st.IsRequired,
			st.IsParallel,
			nullableInt(st.DependsOnStep),
			nullableDecimal(st.AuthorityCeiling),
			st.DueAt.UTC(),
			st.EscalateAt.UTC(),
			st.CreatedAt.UTC(),
			st.UpdatedAt.UTC(),
		)
		if err != nil {
			r.logger.Error("Failed to create approval step",
				zap.Int64("workflow_id", st.WorkflowID),
				zap.Int("step_number", st.StepNumber),
				zap.Error(err))
			return fmt.Errorf("failed to create approval step: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		st.ID = id
	}
	return nil
}

// GetByID retrieves an approval step by ID
func (r *StepRepository) GetByID(ctx context.Context, id int64) (*entity.ApprovalStep, error) {
	query := `SELECT ` + stepColumns + ` FROM approval_steps s WHERE s.id = ?`

	st, err := scanStep(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get approval step", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get approval step: %w", err)
	}
	return st, nil
}

// GetByWorkflowID retrieves the steps of a workflow ordered by step number
func (r *StepRepository) GetByWorkflowID(ctx context.Context, workflowID int64) ([]*entity.ApprovalStep, error) {
	query := `SELECT ` + stepColumns + ` FROM approval_steps s
		WHERE s.workflow_id = ? ORDER BY s.step_number, s.id`
	return r.list(ctx, "workflow steps", query, workflowID)
}

// RecordDecision persists the decision record and delegated_to of the step
func (r *StepRepository) RecordDecision(ctx context.Context, step *entity.ApprovalStep) error {
	query := `
		UPDATE approval_steps
		SET decision = ?, decided_by = ?, decided_at = ?, comments = ?, conditions = ?,
			delegated_to = ?, updated_at = ?
		WHERE id = ?
	`

	exec := sqlite.Executor(ctx, r.db)
	result, err := exec.ExecContext(ctx, query,
		step.Decision,
		step.DecidedBy,
		nullableTime(step.DecidedAt),
		step.Comments,
		step.Conditions,
		step.DelegatedTo,
		step.UpdatedAt.UTC(),
		step.ID,
	)
	if err != nil {
		r.logger.Error("Failed to record decision", zap.Int64("id", step.ID), zap.String("decision", step.Decision), zap.Error(err))
		return fmt.Errorf("failed to record decision: %w", err)
	}
	if err := expectRow(result, "approval step", step.ID); err != nil {
		return err
	}
	if step.Decision == "" {
		return nil
	}

	decidedAt := step.UpdatedAt
	if step.DecidedAt != nil {
		decidedAt = *step.DecidedAt
	}
	_, err = exec.ExecContext(ctx, `
		INSERT INTO step_decisions (step_id, decision, decided_by, comments, conditions, delegated_to, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, step.ID, step.Decision, step.DecidedBy, step.Comments, step.Conditions, step.DelegatedTo, decidedAt.UTC())
	if err != nil {
		r.logger.Error("Failed to append decision history", zap.Int64("id", step.ID), zap.Error(err))
		return fmt.Errorf("failed to append decision history: %w", err)
	}
	return nil
}

// ListDecisions returns the decision history of a step, oldest first
func (r *StepRepository) ListDecisions(ctx context.Context, stepID int64) ([]*entity.StepDecision, error) {
	query := `
		SELECT id, step_id, decision, decided_by, comments, conditions, delegated_to, decided_at
		FROM step_decisions WHERE step_id = ? ORDER BY id
	`

	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, stepID)
	if err != nil {
		r.logger.Error("Failed to list decision history", zap.Int64("step_id", stepID), zap.Error(err))
		return nil, fmt.Errorf("failed to list decision history: %w", err)
	}
	defer rows.Close()

	var out []*entity.StepDecision
	for rows.Next() {
		var d entity.StepDecision
		if err := rows.Scan(&d.ID, &d.StepID, &d.Decision, &d.DecidedBy, &d.Comments, &d.Conditions, &d.DelegatedTo, &d.DecidedAt); err != nil {
			return nil, fmt.Errorf("failed to scan step decision: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// SetEscalatedTo reassigns the step to an escalation target
func (r *StepRepository) SetEscalatedTo(ctx context.Context, id int64, target string, at time.Time) error {
	query := `UPDATE approval_steps SET escalated_to = ?, updated_at = ? WHERE id = ?`

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query, target, at.UTC(), id)
	if err != nil {
		r.logger.Error("Failed to set escalation target", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to set escalation target: %w", err)
	}
	return expectRow(result, "approval step", id)
}

// UpdateDeadline moves the due and escalation times of the step
func (r *StepRepository) UpdateDeadline(ctx context.Context, id int64, dueAt, escalateAt, at time.Time) error {
	query := `UPDATE approval_steps SET due_at = ?, escalate_at = ?, updated_at = ? WHERE id = ?`

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query, dueAt.UTC(), escalateAt.UTC(), at.UTC(), id)
	if err != nil {
		r.logger.Error("Failed to update deadline", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to update deadline: %w", err)
	}
	return expectRow(result, "approval step", id)
}

// MarkEligibleNotified records that the step was announced as eligible
func (r *StepRepository) MarkEligibleNotified(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE approval_steps SET eligible_notified_at = ? WHERE id = ?`

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query, at.UTC(), id)
	if err != nil {
		r.logger.Error("Failed to mark step eligible", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to mark step eligible: %w", err)
	}
	return expectRow(result, "approval step", id)
}

// ListUndecided lists undecided or delegated steps of workflows in the given status
func (r *StepRepository) ListUndecided(ctx context.Context, workflowStatus string) ([]*entity.ApprovalStep, error) {
	query := `SELECT ` + stepColumns + ` FROM approval_steps s
		JOIN workflow_instances w ON w.id = s.workflow_id
		WHERE w.status = ? AND s.decision IN ('', ?)
		ORDER BY s.step_number, s.id`
	return r.list(ctx, "undecided steps", query, workflowStatus, entity.DecisionDelegated)
}

// ListOpenForUser lists open steps assigned, escalated or delegated to the user
func (r *StepRepository) ListOpenForUser(ctx context.Context, userID string) ([]*entity.ApprovalStep, error) {
	query := `SELECT ` + stepColumns + ` FROM approval_steps s
		WHERE s.decision NOT IN (?, ?)
			AND (s.assigned_approver = ? OR s.escalated_to = ? OR s.delegated_to = ?)
		ORDER BY s.step_number, s.id`
	return r.list(ctx, "open steps", query,
		entity.DecisionApproved, entity.DecisionRejected, userID, userID, userID)
}

func (r *StepRepository) list(ctx context.Context, what, query string, args ...interface{}) ([]*entity.ApprovalStep, error) {
	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list "+what, zap.Error(err))
		return nil, fmt.Errorf("failed to list %s: %w", what, err)
	}
	defer rows.Close()

	var steps []*entity.ApprovalStep
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval step: %w", err)
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// Verify interface compliance
var _ port.StepRepository = (*StepRepository)(nil)
