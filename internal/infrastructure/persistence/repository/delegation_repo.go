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

// DelegationRepository implements port.DelegationRepository
type DelegationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDelegationRepository creates a new delegation repository
func NewDelegationRepository(db *sql.DB, logger *zap.Logger) port.DelegationRepository {
	return &DelegationRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new delegation
func (r *DelegationRepository) Create(ctx context.Context, d *entity.Delegation) error {
	query := `
		INSERT INTO delegations (delegator, delegate, step_id, role, reason, active, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		d.Delegator,
		d.Delegate,
		d.StepID,
		d.Role,
		d.Reason,
		d.Active,
		nullableTime(d.ExpiresAt),
		d.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create delegation",
			zap.String("delegator", d.Delegator),
			zap.String("delegate", d.Delegate),
			zap.Error(err))
		return fmt.Errorf("failed to create delegation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	d.ID = id
	return nil
}

// GetActiveForStep returns the latest active delegation of a step, or nil
func (r *DelegationRepository) GetActiveForStep(ctx context.Context, stepID int64) (*entity.Delegation, error) {
	query := `SELECT ` + delegationColumns + ` FROM delegations
		WHERE step_id = ? AND active = 1 ORDER BY id DESC LIMIT 1`

	d, err := scanDelegation(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, stepID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get step delegation", zap.Int64("step_id", stepID), zap.Error(err))
		return nil, fmt.Errorf("failed to get step delegation: %w", err)
	}
	return d, nil
}

// ListForStep lists every delegation of a step
func (r *DelegationRepository) ListForStep(ctx context.Context, stepID int64) ([]*entity.Delegation, error) {
	query := `SELECT ` + delegationColumns + ` FROM delegations WHERE step_id = ? ORDER BY id`
	return r.list(ctx, query, stepID)
}

// ListActiveByDelegate lists active delegations granted to a user
func (r *DelegationRepository) ListActiveByDelegate(ctx context.Context, delegate string) ([]*entity.Delegation, error) {
	query := `SELECT ` + delegationColumns + ` FROM delegations
		WHERE delegate = ? AND active = 1 ORDER BY id`
	return r.list(ctx, query, delegate)
}

// ListExpired lists active delegations whose expiry is before now
func (r *DelegationRepository) ListExpired(ctx context.Context, now time.Time) ([]*entity.Delegation, error) {
	query := `SELECT ` + delegationColumns + ` FROM delegations
		WHERE active = 1 AND expires_at IS NOT NULL ORDER BY id`

	active, err := r.list(ctx, query)
	if err != nil {
		return nil, err
	}

	// compared in Go: stored timestamps are text and may carry different offsets
	var expired []*entity.Delegation
	for _, d := range active {
		if d.ExpiresAt.Before(now) {
			expired = append(expired, d)
		}
	}
	return expired, nil
}

// Deactivate marks a delegation inactive
func (r *DelegationRepository) Deactivate(ctx context.Context, id int64) error {
	query := `UPDATE delegations SET active = 0 WHERE id = ?`

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query, id)
	if err != nil {
		r.logger.Error("Failed to deactivate delegation", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to deactivate delegation: %w", err)
	}
	return expectRow(result, "delegation", id)
}

func (r *DelegationRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.Delegation, error) {
	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list delegations", zap.Error(err))
		return nil, fmt.Errorf("failed to list delegations: %w", err)
	}
	defer rows.Close()

	var delegations []*entity.Delegation
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delegation: %w", err)
		}
		delegations = append(delegations, d)
	}
	return delegations, rows.Err()
}

// BackupApproverRepository implements port.BackupApproverRepository
type BackupApproverRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewBackupApproverRepository creates a new backup approver repository
func NewBackupApproverRepository(db *sql.DB, logger *zap.Logger) port.BackupApproverRepository {
	return &BackupApproverRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert creates or reactivates the mapping for (primary, role)
func (r *BackupApproverRepository) Upsert(ctx context.Context, b *entity.BackupApprover) error {
	query := `
		INSERT INTO backup_approvers (primary_id, backup_id, role, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(primary_id, role) DO UPDATE SET
			backup_id = excluded.backup_id,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	exec := sqlite.Executor(ctx, r.db)
	_, err := exec.ExecContext(ctx, query,
		b.PrimaryID,
		b.BackupID,
		b.Role,
		b.Active,
		b.CreatedAt.UTC(),
		b.UpdatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to upsert backup approver",
			zap.String("primary_id", b.PrimaryID),
			zap.String("role", b.Role),
			zap.Error(err))
		return fmt.Errorf("failed to upsert backup approver: %w", err)
	}

	// LastInsertId is not reliable for the update branch
	err = exec.QueryRowContext(ctx,
		`SELECT id, created_at FROM backup_approvers WHERE primary_id = ? AND role = ?`,
		b.PrimaryID, b.Role,
	).Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to read backup approver: %w", err)
	}
	return nil
}

// Deactivate disables the backup of a primary for a role
func (r *BackupApproverRepository) Deactivate(ctx context.Context, primaryID, role string, at time.Time) error {
	query := `UPDATE backup_approvers SET active = 0, updated_at = ? WHERE primary_id = ? AND role = ?`

	if _, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query, at.UTC(), primaryID, role); err != nil {
		r.logger.Error("Failed to deactivate backup approver", zap.String("primary_id", primaryID), zap.Error(err))
		return fmt.Errorf("failed to deactivate backup approver: %w", err)
	}
	return nil
}

// Find returns the active backup for a primary and role, or nil
func (r *BackupApproverRepository) Find(ctx context.Context, primaryID, role string) (*entity.BackupApprover, error) {
	query := `SELECT ` + backupColumns + ` FROM backup_approvers
		WHERE primary_id = ? AND role = ? AND active = 1`

	b, err := scanBackup(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, primaryID, role))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to find backup approver", zap.String("primary_id", primaryID), zap.Error(err))
		return nil, fmt.Errorf("failed to find backup approver: %w", err)
	}
	return b, nil
}

// ListForRole lists active backups for a role ordered by id
func (r *BackupApproverRepository) ListForRole(ctx context.Context, role string) ([]*entity.BackupApprover, error) {
	query := `SELECT ` + backupColumns + ` FROM backup_approvers WHERE role = ? AND active = 1 ORDER BY id`

	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, role)
	if err != nil {
		r.logger.Error("Failed to list backup approvers", zap.String("role", role), zap.Error(err))
		return nil, fmt.Errorf("failed to list backup approvers: %w", err)
	}
	defer rows.Close()

	var backups []*entity.BackupApprover
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backup approver: %w", err)
		}
		backups = append(backups, b)
	}
	return backups, rows.Err()
}

// Verify interface compliance
var (
	_ port.DelegationRepository     = (*DelegationRepository)(nil)
	_ port.BackupApproverRepository = (*BackupApproverRepository)(nil)
)
