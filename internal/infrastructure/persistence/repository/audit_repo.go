package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/change-approval/internal/application/port"
	"github.com/garyjia/change-approval/internal/domain/entity"
	"github.com/garyjia/change-approval/internal/infrastructure/persistence/sqlite"
)

// AuditRepository is the durable audit sink
type AuditRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sql.DB, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{db: db, logger: logger}
}

// Append stores an audit record. Appending the same event id twice is a no-op,
// so redelivered events do not duplicate the trail.
func (r *AuditRepository) Append(ctx context.Context, e *entity.AuditEvent) error {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("failed to marshal audit detail: %w", err)
	}

	query := `
		INSERT INTO audit_events (
			id, kind, change_id, workflow_id, step_id, actor,
			before_value, after_value, detail, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	_, err = sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		e.ID,
		e.Kind,
		e.ChangeID,
		e.WorkflowID,
		e.StepID,
		e.Actor,
		e.Before,
		e.After,
		string(detail),
		e.OccurredAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to append audit event", zap.String("id", e.ID), zap.String("kind", e.Kind), zap.Error(err))
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// ListByChange returns the audit trail of a change request in order
func (r *AuditRepository) ListByChange(ctx context.Context, changeID string) ([]*entity.AuditEvent, error) {
	query := `
		SELECT id, kind, change_id, workflow_id, step_id, actor,
			before_value, after_value, detail, occurred_at
		FROM audit_events
		WHERE change_id = ?
		ORDER BY occurred_at, rowid
	`

	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, changeID)
	if err != nil {
		r.logger.Error("Failed to list audit events", zap.String("change_id", changeID), zap.Error(err))
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var events []*entity.AuditEvent
	for rows.Next() {
		var e entity.AuditEvent
		var detail string
		if err := rows.Scan(
			&e.ID,
			&e.Kind,
			&e.ChangeID,
			&e.WorkflowID,
			&e.StepID,
			&e.Actor,
			&e.Before,
			&e.After,
			&detail,
			&e.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if err := json.Unmarshal([]byte(detail), &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit detail: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// ChangeStatusRepository is the durable change status sink
type ChangeStatusRepository struct {
	db     *sql.DB
	tx     port.TransactionManager
	logger *zap.Logger
}

// NewChangeStatusRepository creates a new change status repository
func NewChangeStatusRepository(db *sql.DB, tx port.TransactionManager, logger *zap.Logger) *ChangeStatusRepository {
	return &ChangeStatusRepository{db: db, tx: tx, logger: logger}
}

// SetStatus records the latest status of a change and appends it to the history
func (r *ChangeStatusRepository) SetStatus(ctx context.Context, changeID, status string) error {
	return r.tx.WithTransaction(ctx, func(ctx context.Context) error {
		exec := sqlite.Executor(ctx, r.db)

		_, err := exec.ExecContext(ctx, `
			INSERT INTO change_status (change_id, status, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(change_id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at
		`, changeID, status)
		if err != nil {
			r.logger.Error("Failed to set change status", zap.String("change_id", changeID), zap.String("status", status), zap.Error(err))
			return fmt.Errorf("failed to set change status: %w", err)
		}

		_, err = exec.ExecContext(ctx,
			`INSERT INTO change_status_history (change_id, status, recorded_at) VALUES (?, ?, CURRENT_TIMESTAMP)`,
			changeID, status,
		)
		if err != nil {
			return fmt.Errorf("failed to record change status history: %w", err)
		}
		return nil
	})
}

// GetStatus returns the latest status of a change, or "" when none was set
func (r *ChangeStatusRepository) GetStatus(ctx context.Context, changeID string) (string, error) {
	var status string
	err := sqlite.Executor(ctx, r.db).QueryRowContext(ctx,
		`SELECT status FROM change_status WHERE change_id = ?`, changeID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get change status: %w", err)
	}
	return status, nil
}

// History returns every status the change went through, oldest first
func (r *ChangeStatusRepository) History(ctx context.Context, changeID string) ([]string, error) {
	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx,
		`SELECT status FROM change_status_history WHERE change_id = ? ORDER BY id`, changeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list change status history: %w", err)
	}
	defer rows.Close()

	var statuses []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan change status: %w", err)
		}
		statuses = append(statuses, s)
	}
	return statuses, rows.Err()
}

// Verify interface compliance
var (
	_ port.AuditSink        = (*AuditRepository)(nil)
	_ port.ChangeStatusSink = (*ChangeStatusRepository)(nil)
)
