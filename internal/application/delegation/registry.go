// Package delegation manages who may act on behalf of whom: step and role
// delegations with optional expiry, and standing backup approvers.
package delegation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/garyjia/change-approval/internal/application/authority"
	"github.com/garyjia/change-approval/internal/application/port"
	"github.com/garyjia/change-approval/internal/domain/entity"
	domainwf "github.com/garyjia/change-approval/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Registry validates and records delegations and backup approvers
type Registry struct {
	delegations port.DelegationRepository
	backups     port.BackupApproverRepository
	authority   authority.Checker
	directory   port.Directory
	logger      Logger
	now         func() time.Time
}

// Option configures the registry
type Option func(*Registry)

// WithLogger sets a logger for the registry
func WithLogger(logger Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithClock overrides the registry clock
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates a delegation registry
func NewRegistry(
	delegations port.DelegationRepository,
	backups port.BackupApproverRepository,
	checker authority.Checker,
	directory port.Directory,
	opts ...Option,
) *Registry {
	r := &Registry{
		delegations: delegations,
		backups:     backups,
		authority:   checker,
		directory:   directory,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// StepDelegation describes a hand-off of one approval step
type StepDelegation struct {
	Step     *entity.ApprovalStep
	Workflow *entity.WorkflowInstance
	From     string
	To       string
	Reason   string
	Duration time.Duration
}

// DelegateStep validates that the delegate independently has authority for the
// step and records the delegation. The caller updates the step itself.
func (r *Registry) DelegateStep(ctx context.Context, req StepDelegation) (*entity.Delegation, error) {
	stepID := req.Step.ID
	if strings.TrimSpace(req.To) == "" {
		return nil, domainwf.Validationf("approval_step", stepID, domainwf.TriggerDelegate.String(), "delegate is required")
	}
	if req.To == req.From {
		return nil, domainwf.Validationf("approval_step", stepID, domainwf.TriggerDelegate.String(), "cannot delegate to self")
	}
	if strings.TrimSpace(req.Reason) == "" {
		return nil, domainwf.Validationf("approval_step", stepID, domainwf.TriggerDelegate.String(), "delegation reason is required")
	}

	ok, err := r.authority.CanActOnStep(ctx, req.To, req.Step, req.Workflow)
	if err != nil {
		return nil, domainwf.NewError(domainwf.KindCollaboratorFailure, "approval_step", stepID, domainwf.TriggerDelegate.String(), err)
	}
	if !ok {
		return nil, domainwf.NewError(domainwf.KindAuthority, "approval_step", stepID, domainwf.TriggerDelegate.String(),
			fmt.Errorf("delegate %s lacks authority for role %s", req.To, req.Step.RequiredRole))
	}

	d := &entity.Delegation{
		Delegator: req.From,
		Delegate:  req.To,
		StepID:    stepID,
		Role:      req.Step.RequiredRole,
		Reason:    req.Reason,
		Active:    true,
		ExpiresAt: r.expiry(req.Duration),
		CreatedAt: r.now(),
	}
	if err := r.delegations.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to record delegation: %w", err)
	}

	r.logInfo("Step delegated",
		"step_id", stepID,
		"from", req.From,
		"to", req.To,
	)
	return d, nil
}

// DelegateRole grants a role-scope delegation. The delegator must hold the role
// directly; the delegate acts with the delegator's limits until expiry.
func (r *Registry) DelegateRole(ctx context.Context, from, to, role, reason string, duration time.Duration) (*entity.Delegation, error) {
	if from == "" || to == "" || role == "" {
		return nil, domainwf.Validationf("delegation", from, "DELEGATE_ROLE", "delegator, delegate and role are required")
	}
	if from == to {
		return nil, domainwf.Validationf("delegation", from, "DELEGATE_ROLE", "cannot delegate to self")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, domainwf.Validationf("delegation", from, "DELEGATE_ROLE", "delegation reason is required")
	}

	profile, err := r.directory.RolesAndLimits(ctx, from)
	if err != nil {
		return nil, domainwf.NewError(domainwf.KindCollaboratorFailure, "delegation", from, "DELEGATE_ROLE", err)
	}
	if !profile.HasRole(role) {
		return nil, domainwf.NewError(domainwf.KindAuthority, "delegation", from, "DELEGATE_ROLE",
			fmt.Errorf("%s does not hold role %s", from, role))
	}

	d := &entity.Delegation{
		Delegator: from,
		Delegate:  to,
		Role:      role,
		Reason:    reason,
		Active:    true,
		ExpiresAt: r.expiry(duration),
		CreatedAt: r.now(),
	}
	if err := r.delegations.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to record role delegation: %w", err)
	}

	r.logInfo("Role delegated", "from", from, "to", to, "role", role)
	return d, nil
}

// SetBackupApprover creates or reactivates the backup for a primary approver and role
func (r *Registry) SetBackupApprover(ctx context.Context, primary, backup, role string) (*entity.BackupApprover, error) {
	if primary == "" || backup == "" || role == "" {
		return nil, domainwf.Validationf("backup_approver", primary, "SET_BACKUP", "primary, backup and role are required")
	}
	if primary == backup {
		return nil, domainwf.Validationf("backup_approver", primary, "SET_BACKUP", "backup must differ from primary")
	}

	now := r.now()
	b := &entity.BackupApprover{
		PrimaryID: primary,
		BackupID:  backup,
		Role:      role,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.backups.Upsert(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to save backup approver: %w", err)
	}

	r.logInfo("Backup approver set", "primary", primary, "backup", backup, "role", role)
	return b, nil
}

// RemoveBackupApprover deactivates the backup mapping; history is kept
func (r *Registry) RemoveBackupApprover(ctx context.Context, primary, role string) error {
	existing, err := r.backups.Find(ctx, primary, role)
	if err != nil {
		return fmt.Errorf("failed to load backup approver: %w", err)
	}
	if existing == nil {
		return domainwf.NewError(domainwf.KindNotFound, "backup_approver", primary, "REMOVE_BACKUP",
			fmt.Errorf("no active backup for role %s", role))
	}
	if err := r.backups.Deactivate(ctx, primary, role, r.now()); err != nil {
		return fmt.Errorf("failed to deactivate backup approver: %w", err)
	}
	return nil
}

// BackupFor returns a backup approver for the role, preferring one configured for
// the primary. Returns "" when none is configured or the only candidate is exclude.
func (r *Registry) BackupFor(ctx context.Context, primary, role, exclude string) (string, error) {
	if primary != "" {
		b, err := r.backups.Find(ctx, primary, role)
		if err != nil {
			return "", fmt.Errorf("failed to load backup approver: %w", err)
		}
		if b != nil && b.BackupID != exclude {
			return b.BackupID, nil
		}
	}

	candidates, err := r.backups.ListForRole(ctx, role)
	if err != nil {
		return "", fmt.Errorf("failed to list backup approvers: %w", err)
	}
	for _, b := range candidates {
		if b.BackupID != exclude {
			return b.BackupID, nil
		}
	}
	return "", nil
}

// ActiveForStep returns the active delegation recorded for a step, or nil
func (r *Registry) ActiveForStep(ctx context.Context, stepID int64) (*entity.Delegation, error) {
	return r.delegations.GetActiveForStep(ctx, stepID)
}

// LatestForStep returns the most recent delegation of a step from one approver
// to another, active or not, or nil
func (r *Registry) LatestForStep(ctx context.Context, stepID int64, from, to string) (*entity.Delegation, error) {
	all, err := r.delegations.ListForStep(ctx, stepID)
	if err != nil {
		return nil, fmt.Errorf("failed to list delegations of step %d: %w", stepID, err)
	}
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Delegator == from && all[i].Delegate == to {
			return all[i], nil
		}
	}
	return nil, nil
}

// CleanupExpired deactivates delegations that expired before now. Decisions
// already made under them are untouched. Per-item failures do not stop the pass.
func (r *Registry) CleanupExpired(ctx context.Context, now time.Time) ([]*entity.Delegation, error) {
	expired, err := r.delegations.ListExpired(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired delegations: %w", err)
	}

	var (
		deactivated []*entity.Delegation
		errs        error
	)
	for _, d := range expired {
		if err := r.delegations.Deactivate(ctx, d.ID); err != nil {
			r.logError("Failed to deactivate delegation", "delegation_id", d.ID, "error", err)
			errs = multierr.Append(errs, fmt.Errorf("delegation %d: %w", d.ID, err))
			continue
		}
		d.Active = false
		deactivated = append(deactivated, d)
	}

	if len(deactivated) > 0 {
		r.logInfo("Expired delegations deactivated", "count", len(deactivated))
	}
	return deactivated, errs
}

func (r *Registry) expiry(d time.Duration) *time.Time {
	if d <= 0 {
		return nil
	}
	t := r.now().Add(d)
	return &t
}

func (r *Registry) logInfo(msg string, kv ...interface{}) {
	if r.logger != nil {
		r.logger.Info(msg, kv...)
	}
}

func (r *Registry) logError(msg string, kv ...interface{}) {
	if r.logger != nil {
		r.logger.Error(msg, kv...)
	}
}
