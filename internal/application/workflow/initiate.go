package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/garyjia/change-approval/internal/domain/entity"
	"github.com/garyjia/change-approval/internal/domain/event"
	"github.com/garyjia/change-approval/internal/domain/planner"
	domainwf "github.com/garyjia/change-approval/internal/domain/workflow"
)

var knownChangeTypes = map[string]bool{
	entity.ChangeTypeScope:      true,
	entity.ChangeTypeSchedule:   true,
	entity.ChangeTypeBudget:     true,
	entity.ChangeTypeTechnical:  true,
	entity.ChangeTypeRegulatory: true,
	entity.ChangeTypeSafety:     true,
	entity.ChangeTypeQuality:    true,
}

var knownPriorities = map[string]bool{
	entity.PriorityLow:       true,
	entity.PriorityMedium:    true,
	entity.PriorityHigh:      true,
	entity.PriorityCritical:  true,
	entity.PriorityEmergency: true,
}

func validateChange(change entity.ChangeData) error {
	const transition = "INITIATE"
	switch {
	case strings.TrimSpace(change.ChangeID) == "":
		return domainwf.Validationf("change_request", change.ChangeID, transition, "change id is required")
	case !knownChangeTypes[change.ChangeType]:
		return domainwf.Validationf("change_request", change.ChangeID, transition, "unknown change type %q", change.ChangeType)
	case !knownPriorities[change.Priority]:
		return domainwf.Validationf("change_request", change.ChangeID, transition, "unknown priority %q", change.Priority)
	case change.CostImpact.IsNegative():
		return domainwf.Validationf("change_request", change.ChangeID, transition, "cost impact cannot be negative")
	}
	return nil
}

// InitiateWorkflow plans the change, resolves approvers and persists the workflow.
// A change may have only one non-terminal workflow at a time.
func (e *engineImpl) InitiateWorkflow(ctx context.Context, change entity.ChangeData) (*entity.WorkflowInstance, error) {
	if err := validateChange(change); err != nil {
		return nil, err
	}

	archetype, plans := planner.Plan(change)

	var wf *entity.WorkflowInstance
	err := e.mutate(ctx, change.ChangeID, func(ctx context.Context, ob *outbox) error {
		existing, err := e.store.Workflows.GetByChangeID(ctx, change.ChangeID)
		if err != nil {
			return fmt.Errorf("failed to check existing workflow: %w", err)
		}
		if existing != nil && !existing.IsTerminal() {
			return domainwf.Validationf("change_request", change.ChangeID, "INITIATE",
				"workflow %d is already %s", existing.ID, existing.Status)
		}

		now := e.now()
		wf = &entity.WorkflowInstance{
			ChangeID:       change.ChangeID,
			Archetype:      archetype,
			Status:         entity.WorkflowStatusActive,
			ChangeType:     change.ChangeType,
			Priority:       change.Priority,
			CostImpact:     change.CostImpact,
			RequesterID:    change.RequesterID,
			ProjectOwnerID: change.ProjectOwnerID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := e.store.Workflows.Create(ctx, wf); err != nil {
			return fmt.Errorf("failed to create workflow: %w", err)
		}

		steps := planner.Materialize(wf.ID, plans, now, e.config.GracePeriod)
		for _, s := range steps {
			approver, err := e.resolveApprover(ctx, s.RequiredRole, wf.ChangeContext())
			if err != nil {
				return domainwf.NewError(domainwf.KindCollaboratorFailure, "workflow", change.ChangeID, "INITIATE", err)
			}
			if approver == "" {
				e.logInfo("No approver resolved for step",
					"change_id", change.ChangeID,
					"step_number", s.StepNumber,
					"role", s.RequiredRole,
				)
			}
			s.AssignedApprover = approver
		}
		if err := e.store.Steps.CreateBatch(ctx, steps); err != nil {
			return fmt.Errorf("failed to create steps: %w", err)
		}

		ob.statuses = append(ob.statuses, statusUpdate{
			workflowID: wf.ID,
			changeID:   wf.ChangeID,
			status:     entity.ChangeStatusPendingApproval,
		})

		evt := event.NewEvent(event.TypeWorkflowInitiated, wf.ID, wf.ChangeID, map[string]interface{}{
			"after":      wf.Status,
			"archetype":  archetype,
			"step_count": len(steps),
		}).ForStep(0, change.RequesterID).At(now)
		for _, s := range steps {
			if s.DependsOnStep == nil {
				evt.Notify(entity.NotifyApprovalRequested, s.AssignedApprover)
			}
		}
		ob.emit(evt)
		return nil
	})
	if err != nil {
		e.logError("Failed to initiate workflow", "change_id", change.ChangeID, "error", err)
		return nil, err
	}

	e.metrics.WorkflowInitiated(archetype)
	e.logInfo("Workflow initiated",
		"workflow_id", wf.ID,
		"change_id", wf.ChangeID,
		"archetype", archetype,
	)
	return wf, nil
}
