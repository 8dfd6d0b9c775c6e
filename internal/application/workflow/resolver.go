package workflow

import (
	"context"
	"fmt"

	"github.com/garyjia/change-approval/internal/domain/entity"
)

// resolveApprover picks the assigned approver for a planned step. Project manager
// steps go to the change's project owner when one is known.
func (e *engineImpl) resolveApprover(ctx context.Context, role string, change entity.ChangeContext) (string, error) {
	if role == entity.RoleProjectManager && change.ProjectOwnerID != "" {
		return change.ProjectOwnerID, nil
	}
	approver, err := e.directory.ResolveRole(ctx, role, change)
	if err != nil {
		return "", fmt.Errorf("failed to resolve approver for %s: %w", role, err)
	}
	return approver, nil
}

// escalationTarget walks manager, then a peer sharing one of the approver's roles,
// then a backup approver. Returns "" when nobody qualifies.
func (e *engineImpl) escalationTarget(ctx context.Context, step *entity.ApprovalStep) (string, error) {
	approver, err := e.currentApprover(ctx, step)
	if err != nil {
		return "", err
	}

	var profile *entity.UserProfile
	if approver != "" {
		p, err := e.directory.RolesAndLimits(ctx, approver)
		if err != nil {
			return "", fmt.Errorf("failed to load profile for %s: %w", approver, err)
		}
		profile = p
	}

	if profile != nil && profile.ManagerID != "" && profile.ManagerID != approver {
		return profile.ManagerID, nil
	}

	for _, role := range peerRoles(profile, step.RequiredRole) {
		users, err := e.directory.UsersWithRole(ctx, role)
		if err != nil {
			return "", fmt.Errorf("failed to list users with role %s: %w", role, err)
		}
		for _, u := range users {
			if u != approver {
				return u, nil
			}
		}
	}

	return e.registry.BackupFor(ctx, approver, step.RequiredRole, approver)
}

// peerRoles lists the roles to search for peers, the step's role first when the
// approver holds it.
func peerRoles(profile *entity.UserProfile, stepRole string) []string {
	if profile == nil {
		return []string{stepRole}
	}
	names := profile.RoleNames()
	if !profile.HasRole(stepRole) {
		return names
	}
	roles := []string{stepRole}
	for _, r := range names {
		if r != stepRole {
			roles = append(roles, r)
		}
	}
	return roles
}
