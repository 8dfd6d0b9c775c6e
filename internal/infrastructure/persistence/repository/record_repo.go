package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/change-approval/internal/application/port"
	"github.com/garyjia/change-approval/internal/domain/entity"
	"github.com/garyjia/change-approval/internal/infrastructure/persistence/sqlite"
)

// EscalationRepository implements port.EscalationRepository
type EscalationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewEscalationRepository creates a new escalation repository
func NewEscalationRepository(db *sql.DB, logger *zap.Logger) port.EscalationRepository {
	return &EscalationRepository{db: db, logger: logger}
}

// Create appends an escalation record
func (r *EscalationRepository) Create(ctx context.Context, e *entity.Escalation) error {
	query := `
		INSERT INTO escalations (step_id, workflow_id, original_approver, escalated_to, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		e.StepID,
		e.WorkflowID,
		e.OriginalApprover,
		e.EscalatedTo,
		e.Reason,
		e.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create escalation", zap.Int64("step_id", e.StepID), zap.Error(err))
		return fmt.Errorf("failed to create escalation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	e.ID = id
	return nil
}

// GetByStepID lists the escalations of a step in order
func (r *EscalationRepository) GetByStepID(ctx context.Context, stepID int64) ([]*entity.Escalation, error) {
	query := `
		SELECT id, step_id, workflow_id, original_approver, escalated_to, reason, created_at
		FROM escalations
		WHERE step_id = ?
		ORDER BY id
	`

	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, stepID)
	if err != nil {
		r.logger.Error("Failed to list escalations", zap.Int64("step_id", stepID), zap.Error(err))
		return nil, fmt.Errorf("failed to list escalations: %w", err)
	}
	defer rows.Close()

	var escalations []*entity.Escalation
	for rows.Next() {
		var e entity.Escalation
		if err := rows.Scan(
			&e.ID,
			&e.StepID,
			&e.WorkflowID,
			&e.OriginalApprover,
			&e.EscalatedTo,
			&e.Reason,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan escalation: %w", err)
		}
		escalations = append(escalations, &e)
	}
	return escalations, rows.Err()
}

// ReminderRepository implements port.ReminderRepository
type ReminderRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewReminderRepository creates a new reminder repository
func NewReminderRepository(db *sql.DB, logger *zap.Logger) port.ReminderRepository {
	return &ReminderRepository{db: db, logger: logger}
}

// Create appends a reminder record
func (r *ReminderRepository) Create(ctx context.Context, rem *entity.Reminder) error {
	query := `INSERT INTO reminders (step_id, recipient, sent_at) VALUES (?, ?, ?)`

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query, rem.StepID, rem.Recipient, rem.SentAt.UTC())
	if err != nil {
		r.logger.Error("Failed to create reminder", zap.Int64("step_id", rem.StepID), zap.Error(err))
		return fmt.Errorf("failed to create reminder: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	rem.ID = id
	return nil
}

// LastForStep returns the most recent reminder of a step, or nil
func (r *ReminderRepository) LastForStep(ctx context.Context, stepID int64) (*entity.Reminder, error) {
	query := `
		SELECT id, step_id, recipient, sent_at
		FROM reminders
		WHERE step_id = ?
		ORDER BY sent_at DESC, id DESC
		LIMIT 1
	`

	var rem entity.Reminder
	err := sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, stepID).Scan(
		&rem.ID,
		&rem.StepID,
		&rem.Recipient,
		&rem.SentAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get last reminder", zap.Int64("step_id", stepID), zap.Error(err))
		return nil, fmt.Errorf("failed to get last reminder: %w", err)
	}
	return &rem, nil
}

// FailureRepository implements port.FailureRepository
type FailureRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewFailureRepository creates a new collaborator failure repository
func NewFailureRepository(db *sql.DB, logger *zap.Logger) port.FailureRepository {
	return &FailureRepository{db: db, logger: logger}
}

// Create stores a collaborator failure
func (r *FailureRepository) Create(ctx context.Context, f *entity.CollaboratorFailure) error {
	query := `
		INSERT INTO collaborator_failures (collaborator, entity_id, operation, error_message, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		f.Collaborator,
		f.EntityID,
		f.Operation,
		f.ErrorMessage,
		f.OccurredAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to store collaborator failure", zap.String("collaborator", f.Collaborator), zap.Error(err))
		return fmt.Errorf("failed to store collaborator failure: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	f.ID = id
	return nil
}

// List returns the most recent failures first. A limit <= 0 returns all.
func (r *FailureRepository) List(ctx context.Context, limit int) ([]*entity.CollaboratorFailure, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT id, collaborator, entity_id, operation, error_message, occurred_at
		FROM collaborator_failures
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, limit)
	if err != nil {
		r.logger.Error("Failed to list collaborator failures", zap.Error(err))
		return nil, fmt.Errorf("failed to list collaborator failures: %w", err)
	}
	defer rows.Close()

	var failures []*entity.CollaboratorFailure
	for rows.Next() {
		var f entity.CollaboratorFailure
		if err := rows.Scan(
			&f.ID,
			&f.Collaborator,
			&f.EntityID,
			&f.Operation,
			&f.ErrorMessage,
			&f.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan collaborator failure: %w", err)
		}
		failures = append(failures, &f)
	}
	return failures, rows.Err()
}

// Verify interface compliance
var (
	_ port.EscalationRepository = (*EscalationRepository)(nil)
	_ port.ReminderRepository   = (*ReminderRepository)(nil)
	_ port.FailureRepository    = (*FailureRepository)(nil)
)
