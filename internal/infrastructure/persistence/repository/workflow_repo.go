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

// WorkflowRepository implements port.WorkflowRepository
type WorkflowRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(db *sql.DB, logger *zap.Logger) port.WorkflowRepository {
	return &WorkflowRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new workflow instance
func (r *WorkflowRepository) Create(ctx context.Context, wf *entity.WorkflowInstance) error {
	query := `
		INSERT INTO workflow_instances (
			change_id, archetype, status, change_type, priority, cost_impact,
			requester_id, project_owner_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		wf.ChangeID,
		wf.Archetype,
		wf.Status,
		wf.ChangeType,
		wf.Priority,
		wf.CostImpact,
		wf.RequesterID,
		wf.ProjectOwnerID,
		wf.CreatedAt.UTC(),
		wf.UpdatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create workflow", zap.String("change_id", wf.ChangeID), zap.Error(err))
		return fmt.Errorf("failed to create workflow: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	wf.ID = id
	return nil
}

// GetByID retrieves a workflow by ID
func (r *WorkflowRepository) GetByID(ctx context.Context, id int64) (*entity.WorkflowInstance, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflow_instances WHERE id = ?`

	wf, err := scanWorkflow(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get workflow by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return wf, nil
}

// GetByChangeID retrieves the most recent workflow of a change request
func (r *WorkflowRepository) GetByChangeID(ctx context.Context, changeID string) (*entity.WorkflowInstance, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflow_instances
		WHERE change_id = ? ORDER BY id DESC LIMIT 1`

	wf, err := scanWorkflow(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, changeID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get workflow by change ID", zap.String("change_id", changeID), zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return wf, nil
}

// UpdateStatus updates the status of a workflow
func (r *WorkflowRepository) UpdateStatus(ctx context.Context, id int64, status string, at time.Time) error {
	query := `UPDATE workflow_instances SET status = ?, updated_at = ? WHERE id = ?`

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query, status, at.UTC(), id)
	if err != nil {
		r.logger.Error("Failed to update workflow status", zap.Int64("id", id), zap.String("status", status), zap.Error(err))
		return fmt.Errorf("failed to update workflow status: %w", err)
	}
	return expectRow(result, "workflow", id)
}

// ListByStatus lists workflows in a status, oldest first
func (r *WorkflowRepository) ListByStatus(ctx context.Context, status string) ([]*entity.WorkflowInstance, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflow_instances WHERE status = ? ORDER BY id`

	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, status)
	if err != nil {
		r.logger.Error("Failed to list workflows", zap.String("status", status), zap.Error(err))
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*entity.WorkflowInstance
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// expectRow turns an update that matched nothing into an error
func expectRow(result sql.Result, what string, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d not found", what, id)
	}
	return nil
}

// Verify interface compliance
var _ port.WorkflowRepository = (*WorkflowRepository)(nil)
