package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/change-approval/internal/application/port"
	"github.com/garyjia/change-approval/internal/domain/entity"
	"github.com/garyjia/change-approval/internal/infrastructure/persistence/sqlite"
)

// DirectoryRepository implements port.Directory over the users and user_roles tables
type DirectoryRepository struct {
	db     *sql.DB
	tx     port.TransactionManager
	logger *zap.Logger
}

// NewDirectoryRepository creates a new directory repository
func NewDirectoryRepository(db *sql.DB, tx port.TransactionManager, logger *zap.Logger) *DirectoryRepository {
	return &DirectoryRepository{
		db:     db,
		tx:     tx,
		logger: logger,
	}
}

// Upsert replaces a user's profile, roles and limits
func (r *DirectoryRepository) Upsert(ctx context.Context, p *entity.UserProfile) error {
	return r.tx.WithTransaction(ctx, func(ctx context.Context) error {
		exec := sqlite.Executor(ctx, r.db)

		_, err := exec.ExecContext(ctx, `
			INSERT INTO users (user_id, name, manager_id) VALUES (?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET name = excluded.name, manager_id = excluded.manager_id
		`, p.UserID, p.Name, p.ManagerID)
		if err != nil {
			r.logger.Error("Failed to upsert user", zap.String("user_id", p.UserID), zap.Error(err))
			return fmt.Errorf("failed to upsert user: %w", err)
		}

		if _, err := exec.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = ?`, p.UserID); err != nil {
			return fmt.Errorf("failed to clear user roles: %w", err)
		}

		for _, role := range p.RoleNames() {
			var limit decimal.NullDecimal
			if l, ok := p.Limits[role]; ok {
				limit = decimal.NullDecimal{Decimal: l, Valid: true}
			}
			_, err := exec.ExecContext(ctx,
				`INSERT INTO user_roles (user_id, role, authority_limit) VALUES (?, ?, ?)`,
				p.UserID, role, limit,
			)
			if err != nil {
				r.logger.Error("Failed to insert user role", zap.String("user_id", p.UserID), zap.String("role", role), zap.Error(err))
				return fmt.Errorf("failed to insert user role: %w", err)
			}
		}
		return nil
	})
}

// RolesAndLimits returns the user's profile, or nil when the user is unknown
func (r *DirectoryRepository) RolesAndLimits(ctx context.Context, userID string) (*entity.UserProfile, error) {
	exec := sqlite.Executor(ctx, r.db)

	p := &entity.UserProfile{
		UserID: userID,
		Roles:  make(map[string]bool),
		Limits: make(map[string]decimal.Decimal),
	}
	err := exec.QueryRowContext(ctx, `SELECT name, manager_id FROM users WHERE user_id = ?`, userID).
		Scan(&p.Name, &p.ManagerID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get user", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	rows, err := exec.QueryContext(ctx, `SELECT role, authority_limit FROM user_roles WHERE user_id = ?`, userID)
	if err != nil {
		r.logger.Error("Failed to get user roles", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var role string
		var limit decimal.NullDecimal
		if err := rows.Scan(&role, &limit); err != nil {
			return nil, fmt.Errorf("failed to scan user role: %w", err)
		}
		p.Roles[role] = true
		if limit.Valid {
			p.Limits[role] = limit.Decimal
		}
	}
	return p, rows.Err()
}

// ResolveRole returns the first user, by id, holding the role
func (r *DirectoryRepository) ResolveRole(ctx context.Context, role string, change entity.ChangeContext) (string, error) {
	users, err := r.UsersWithRole(ctx, role)
	if err != nil || len(users) == 0 {
		return "", err
	}
	return users[0], nil
}

// UsersWithRole returns users holding the role sorted by id
func (r *DirectoryRepository) UsersWithRole(ctx context.Context, role string) ([]string, error) {
	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx,
		`SELECT user_id FROM user_roles WHERE role = ? ORDER BY user_id`, role)
	if err != nil {
		r.logger.Error("Failed to list users with role", zap.String("role", role), zap.Error(err))
		return nil, fmt.Errorf("failed to list users with role: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// Verify interface compliance
var _ port.Directory = (*DirectoryRepository)(nil)
