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

// RequirementRepository implements port.RequirementRepository
type RequirementRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRequirementRepository creates a new conditional requirement repository
func NewRequirementRepository(db *sql.DB, logger *zap.Logger) port.RequirementRepository {
	return &RequirementRepository{
		db:     db,
		logger: logger,
	}
}

// CreateBatch inserts requirements and assigns their IDs
func (r *RequirementRepository) CreateBatch(ctx context.Context, reqs []*entity.ConditionalRequirement) error {
	query := `
		INSERT INTO conditional_requirements (step_id, sequence, description, created_at)
		VALUES (?, ?, ?, ?)
	`

	exec := sqlite.Executor(ctx, r.db)
	for _, req := range reqs {
		result, err := exec.ExecContext(ctx, query, req.StepID, req.Sequence, req.Description, req.CreatedAt.UTC())
		if err != nil {
			r.logger.Error("Failed to create requirement", zap.Int64("step_id", req.StepID), zap.Error(err))
			return fmt.Errorf("failed to create requirement: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		req.ID = id
	}
	return nil
}

// GetByID retrieves a requirement by ID
func (r *RequirementRepository) GetByID(ctx context.Context, id int64) (*entity.ConditionalRequirement, error) {
	query := `SELECT ` + requirementColumns + ` FROM conditional_requirements r WHERE r.id = ?`

	req, err := scanRequirement(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get requirement", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get requirement: %w", err)
	}
	return req, nil
}

// GetByStepID retrieves the requirements of a step ordered by sequence
func (r *RequirementRepository) GetByStepID(ctx context.Context, stepID int64) ([]*entity.ConditionalRequirement, error) {
	query := `SELECT ` + requirementColumns + ` FROM conditional_requirements r
		WHERE r.step_id = ? ORDER BY r.sequence`
	return r.list(ctx, query, stepID)
}

// GetByWorkflowID retrieves the requirements of every step of a workflow
func (r *RequirementRepository) GetByWorkflowID(ctx context.Context, workflowID int64) ([]*entity.ConditionalRequirement, error) {
	query := `SELECT ` + requirementColumns + ` FROM conditional_requirements r
		JOIN approval_steps s ON s.id = r.step_id
		WHERE s.workflow_id = ? ORDER BY r.step_id, r.sequence`
	return r.list(ctx, query, workflowID)
}

// MarkFulfilled records who fulfilled a requirement and with what evidence
func (r *RequirementRepository) MarkFulfilled(ctx context.Context, id int64, fulfilledBy, evidence string, at time.Time) error {
	query := `
		UPDATE conditional_requirements
		SET fulfilled = 1, fulfilled_by = ?, fulfilled_at = ?, evidence = ?
		WHERE id = ?
	`

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query, fulfilledBy, at.UTC(), evidence, id)
	if err != nil {
		r.logger.Error("Failed to fulfill requirement", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to fulfill requirement: %w", err)
	}
	return expectRow(result, "requirement", id)
}

func (r *RequirementRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.ConditionalRequirement, error) {
	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list requirements", zap.Error(err))
		return nil, fmt.Errorf("failed to list requirements: %w", err)
	}
	defer rows.Close()

	var reqs []*entity.ConditionalRequirement
	for rows.Next() {
		req, err := scanRequirement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan requirement: %w", err)
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// Verify interface compliance
var _ port.RequirementRepository = (*RequirementRepository)(nil)
