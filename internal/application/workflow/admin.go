package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/change-approval/internal/domain/entity"
	"github.com/garyjia/change-approval/internal/domain/event"
	domainwf "github.com/garyjia/change-approval/internal/domain/workflow"
)

// DelegateRole grants a role-scope delegation and audits it
func (e *engineImpl) DelegateRole(ctx context.Context, from, to, role, reason string, duration time.Duration) (*entity.Delegation, error) {
	d, err := e.registry.DelegateRole(ctx, from, to, role, reason, duration)
	if err != nil {
		e.logError("Role delegation failed", "from", from, "to", to, "role", role, "error", err)
		return nil, err
	}

	evt := event.NewEvent(event.TypeRoleDelegated, 0, "", map[string]interface{}{
		"delegation_id": d.ID,
		"delegate":      d.Delegate,
		"role":          d.Role,
		"reason":        d.Reason,
	}).ForStep(0, from).At(d.CreatedAt).Notify(entity.NotifyDelegationReceived, d.Delegate)
	e.publish(ctx, &outbox{events: []*event.Event{evt}})
	return d, nil
}

func (e *engineImpl) SetBackupApprover(ctx context.Context, primary, backup, role string) (*entity.BackupApprover, error) {
	b, err := e.registry.SetBackupApprover(ctx, primary, backup, role)
	if err != nil {
		return nil, err
	}
	e.publish(ctx, &outbox{events: []*event.Event{
		event.NewEvent(event.TypeBackupApproverSet, 0, "", map[string]interface{}{
			"primary": primary,
			"after":   backup,
			"role":    role,
		}).ForStep(0, primary).At(b.UpdatedAt),
	}})
	return b, nil
}

func (e *engineImpl) RemoveBackupApprover(ctx context.Context, primary, role string) error {
	if err := e.registry.RemoveBackupApprover(ctx, primary, role); err != nil {
		return err
	}
	e.publish(ctx, &outbox{events: []*event.Event{
		event.NewEvent(event.TypeBackupApproverSet, 0, "", map[string]interface{}{
			"primary": primary,
			"after":   "",
			"role":    role,
		}).ForStep(0, primary).At(e.now()),
	}})
	return nil
}

// CleanupDelegations deactivates expired delegations. Steps decided under them keep their decisions.
func (e *engineImpl) CleanupDelegations(ctx context.Context) (int, error) {
	now := e.now()
	expired, err := e.registry.CleanupExpired(ctx, now)

	ob := &outbox{}
	for _, d := range expired {
		ob.emit(event.NewEvent(event.TypeDelegationExpired, 0, "", map[string]interface{}{
			"delegation_id": d.ID,
			"delegator":     d.Delegator,
			"delegate":      d.Delegate,
			"role":          d.Role,
		}).ForStep(d.StepID, systemActor).At(now))
	}
	e.publish(ctx, ob)

	if err != nil {
		return len(expired), fmt.Errorf("failed to clean up delegations: %w", err)
	}
	return len(expired), nil
}

// Override closes a workflow as rejected. Only executives may override.
func (e *engineImpl) Override(ctx context.Context, workflowID int64, actor, reason string) (*entity.WorkflowInstance, error) {
	const transition = "OVERRIDE"
	if strings.TrimSpace(actor) == "" || strings.TrimSpace(reason) == "" {
		return nil, domainwf.Validationf("workflow", workflowID, transition, "actor and reason are required")
	}

	profile, err := e.directory.RolesAndLimits(ctx, actor)
	if err != nil {
		return nil, domainwf.NewError(domainwf.KindCollaboratorFailure, "workflow", workflowID, transition, err)
	}
	if !profile.HasRole(entity.RoleExecutive) {
		return nil, domainwf.NewError(domainwf.KindAuthority, "workflow", workflowID, transition,
			fmt.Errorf("%s may not override workflows", actor))
	}

	wf, err := e.loadWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	err = e.mutate(ctx, wf.ChangeID, func(ctx context.Context, ob *outbox) error {
		current, err := e.loadWorkflow(ctx, workflowID)
		if err != nil {
			return err
		}
		if current.IsTerminal() {
			return domainwf.Validationf("workflow", workflowID, transition, "workflow is already %s", current.Status)
		}
		if _, err := e.transitionWorkflow(ctx, ob, current, domainwf.TriggerOverride, actor); err != nil {
			return err
		}
		ob.events[len(ob.events)-1].Payload["reason"] = reason
		wf = current
		return nil
	})
	if err != nil {
		e.logError("Override failed", "workflow_id", workflowID, "error", err)
		return nil, err
	}
	return wf, nil
}
