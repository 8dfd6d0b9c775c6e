package workflow

import (
	"context"
	"fmt"

	"github.com/garyjia/change-approval/internal/domain/entity"
	domainwf "github.com/garyjia/change-approval/internal/domain/workflow"
)

// Acting modes reported by PendingFor
const (
	ActingAssigned  = "assigned"
	ActingEscalated = "escalated"
	ActingDelegated = "delegated"
)

// PendingFor lists open steps whose current approver is userID, including steps
// still waiting on a dependency (reported as not eligible).
func (e *engineImpl) PendingFor(ctx context.Context, userID string) ([]*entity.PendingApproval, error) {
	if userID == "" {
		return nil, domainwf.Validationf("user", userID, "PENDING_FOR", "user id is required")
	}

	steps, err := e.store.Steps.ListOpenForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list open steps: %w", err)
	}

	now := e.now()
	workflows := make(map[int64]*entity.WorkflowInstance)
	snapshots := make(map[int64]*snapshot)

	pending := make([]*entity.PendingApproval, 0, len(steps))
	for _, s := range steps {
		holder, err := e.delegateHolding(ctx, s)
		if err != nil {
			return nil, err
		}
		current := holder
		if current == "" {
			current = s.UndelegatedApprover()
		}
		if current != userID {
			continue
		}

		wf, ok := workflows[s.WorkflowID]
		if !ok {
			if wf, err = e.loadWorkflow(ctx, s.WorkflowID); err != nil {
				return nil, err
			}
			workflows[s.WorkflowID] = wf
		}
		if wf.IsTerminal() {
			continue
		}

		snap, ok := snapshots[wf.ID]
		if !ok {
			if snap, err = e.loadSnapshot(ctx, wf.ID); err != nil {
				return nil, err
			}
			snapshots[wf.ID] = snap
		}

		pending = append(pending, &entity.PendingApproval{
			Step:     s,
			Workflow: wf,
			Eligible: snap.progress.Eligible(s),
			ActingAs: actingAs(s, userID, holder != ""),
			Overdue:  now.After(s.DueAt),
		})
	}
	return pending, nil
}

func actingAs(step *entity.ApprovalStep, userID string, delegated bool) string {
	switch {
	case delegated:
		return ActingDelegated
	case step.EscalatedTo == userID:
		return ActingEscalated
	}
	return ActingAssigned
}

func (e *engineImpl) GetWorkflow(ctx context.Context, workflowID int64) (*WorkflowView, error) {
	wf, err := e.loadWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return e.view(ctx, wf)
}

func (e *engineImpl) GetWorkflowByChange(ctx context.Context, changeID string) (*WorkflowView, error) {
	wf, err := e.store.Workflows.GetByChangeID(ctx, changeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow for change %s: %w", changeID, err)
	}
	if wf == nil {
		return nil, domainwf.NewError(domainwf.KindNotFound, "change_request", changeID, "", fmt.Errorf("no workflow for change"))
	}
	return e.view(ctx, wf)
}

func (e *engineImpl) view(ctx context.Context, wf *entity.WorkflowInstance) (*WorkflowView, error) {
	steps, err := e.store.Steps.GetByWorkflowID(ctx, wf.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps: %w", err)
	}
	reqs, err := e.store.Requirements.GetByWorkflowID(ctx, wf.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load requirements: %w", err)
	}
	return &WorkflowView{Workflow: wf, Steps: steps, Requirements: reqs}, nil
}
