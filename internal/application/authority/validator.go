// Package authority decides whether a user may act in an approver role for a change value.
package authority

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/change-approval/internal/application/port"
	"github.com/garyjia/change-approval/internal/domain/entity"
)

// seniority orders the generic management roles. A holder of a later role may act
// for an earlier one.
var seniority = []string{
	entity.RoleProjectManager,
	entity.RoleSeniorManager,
	entity.RoleExecutive,
}

// specialists maps change types to the role that must be held directly
var specialists = map[string]string{
	entity.ChangeTypeRegulatory: entity.RoleComplianceOfficer,
	entity.ChangeTypeSafety:     entity.RoleSafetyOfficer,
}

// DelegationLookup returns role-scope delegations granted to a user
type DelegationLookup interface {
	ListActiveByDelegate(ctx context.Context, delegate string) ([]*entity.Delegation, error)
}

// Checker is the contract consumed by the delegation registry and the engine
type Checker interface {
	CanAct(ctx context.Context, userID, requiredRole string, changeValue decimal.Decimal, changeType string) (bool, error)
	CanActOnStep(ctx context.Context, userID string, step *entity.ApprovalStep, wf *entity.WorkflowInstance) (bool, error)
}

// Validator evaluates authority against the directory. It holds no mutable state
// and is safe for concurrent use.
type Validator struct {
	directory   port.Directory
	delegations DelegationLookup
	now         func() time.Time
}

// Option configures the validator
type Option func(*Validator)

// WithDelegations enables role-scope delegation lookups
func WithDelegations(d DelegationLookup) Option {
	return func(v *Validator) {
		v.delegations = d
	}
}

// WithClock overrides the clock used to judge delegation expiry
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

// NewValidator creates an authority validator backed by the directory
func NewValidator(directory port.Directory, opts ...Option) *Validator {
	v := &Validator{
		directory: directory,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// CanAct reports whether userID may act as requiredRole for changeValue.
// Unknown users, missing roles, missing limits and values above the limit all
// yield false. An error is returned only when the directory itself fails.
func (v *Validator) CanAct(ctx context.Context, userID, requiredRole string, changeValue decimal.Decimal, changeType string) (bool, error) {
	if userID == "" || requiredRole == "" {
		return false, nil
	}

	profile, err := v.directory.RolesAndLimits(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to load profile for %s: %w", userID, err)
	}
	if Holds(profile, requiredRole, changeValue, changeType) {
		return true, nil
	}

	if v.delegations == nil {
		return false, nil
	}
	return v.viaDelegation(ctx, userID, requiredRole, changeValue, changeType)
}

// CanActOnStep checks authority for the step's role. The value checked is the
// change cost capped by the step's authority ceiling.
func (v *Validator) CanActOnStep(ctx context.Context, userID string, step *entity.ApprovalStep, wf *entity.WorkflowInstance) (bool, error) {
	return v.CanAct(ctx, userID, step.RequiredRole, step.AuthorityValue(wf.CostImpact), wf.ChangeType)
}

// viaDelegation consults role-scope delegations one hop deep: the delegator's
// own authority is what counts.
func (v *Validator) viaDelegation(ctx context.Context, userID, role string, value decimal.Decimal, changeType string) (bool, error) {
	grants, err := v.delegations.ListActiveByDelegate(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to load delegations for %s: %w", userID, err)
	}

	now := v.now()
	for _, g := range grants {
		if g.StepID != 0 || g.Role != role || !g.IsUsable(now) {
			continue
		}
		delegator, err := v.directory.RolesAndLimits(ctx, g.Delegator)
		if err != nil {
			return false, fmt.Errorf("failed to load profile for delegator %s: %w", g.Delegator, err)
		}
		if Holds(delegator, role, value, changeType) {
			return true, nil
		}
	}
	return false, nil
}

// Holds evaluates a profile directly, without delegations
func Holds(profile *entity.UserProfile, role string, value decimal.Decimal, changeType string) bool {
	if profile == nil {
		return false
	}

	specialist := specialists[changeType]
	for _, acting := range actingRoles(profile, role) {
		// Acting above one's own role on a regulated change needs the specialist role too
		if acting != role && specialist != "" && !profile.HasRole(specialist) {
			continue
		}
		limit, ok := profile.Limits[acting]
		if !ok {
			continue
		}
		if value.LessThanOrEqual(limit) {
			return true
		}
	}
	return false
}

// actingRoles lists the roles through which the profile could act for role:
// the role itself when held, then any more senior management roles held.
func actingRoles(profile *entity.UserProfile, role string) []string {
	var roles []string
	if profile.HasRole(role) {
		roles = append(roles, role)
	}

	rank := rankOf(role)
	if rank < 0 {
		return roles
	}
	for _, senior := range seniority[rank+1:] {
		if profile.HasRole(senior) {
			roles = append(roles, senior)
		}
	}
	return roles
}

func rankOf(role string) int {
	for i, r := range seniority {
		if r == role {
			return i
		}
	}
	return -1
}

var _ Checker = (*Validator)(nil)
