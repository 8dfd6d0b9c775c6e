package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/garyjia/change-approval/internal/domain/entity"
	"github.com/garyjia/change-approval/internal/domain/event"
	domainwf "github.com/garyjia/change-approval/internal/domain/workflow"
)

const transitionFulfill = "FULFILL_REQUIREMENT"

// FulfillRequirement marks a condition as met and re-evaluates the workflow.
// Fulfilling an already fulfilled requirement changes nothing.
func (e *engineImpl) FulfillRequirement(ctx context.Context, stepID, requirementID int64, actor, evidence string) (bool, error) {
	if strings.TrimSpace(actor) == "" {
		return false, domainwf.Validationf("conditional_requirement", requirementID, transitionFulfill, "actor is required")
	}

	_, wf, err := e.loadStep(ctx, stepID, transitionFulfill)
	if err != nil {
		return false, err
	}

	var settled bool
	err = e.mutate(ctx, wf.ChangeID, func(ctx context.Context, ob *outbox) error {
		step, wf, err := e.loadStep(ctx, stepID, transitionFulfill)
		if err != nil {
			return err
		}

		req, err := e.store.Requirements.GetByID(ctx, requirementID)
		if err != nil {
			return fmt.Errorf("failed to load requirement %d: %w", requirementID, err)
		}
		if req == nil || req.StepID != stepID {
			return domainwf.Validationf("conditional_requirement", requirementID, transitionFulfill,
				"requirement does not belong to step %d", stepID)
		}

		if req.Fulfilled {
			settled, err = e.stepSettled(ctx, wf.ID, step.ID)
			return err
		}

		if step.Decision != entity.DecisionApproved {
			return domainwf.Validationf("approval_step", stepID, transitionFulfill, "step is not approved")
		}
		if wf.IsTerminal() {
			return domainwf.Validationf("workflow", wf.ID, transitionFulfill, "workflow is %s", wf.Status)
		}

		now := e.now()
		if err := e.store.Requirements.MarkFulfilled(ctx, requirementID, actor, evidence, now); err != nil {
			return fmt.Errorf("failed to fulfill requirement %d: %w", requirementID, err)
		}

		ob.emit(event.NewEvent(event.TypeRequirementFulfilled, wf.ID, wf.ChangeID, map[string]interface{}{
			"requirement_id": requirementID,
			"sequence":       req.Sequence,
			"description":    req.Description,
			"evidence":       evidence,
		}).ForStep(stepID, actor).At(now))

		if err := e.settle(ctx, ob, wf, actor); err != nil {
			return err
		}
		settled, err = e.stepSettled(ctx, wf.ID, step.ID)
		return err
	})
	if err != nil {
		e.logError("Failed to fulfill requirement",
			"step_id", stepID,
			"requirement_id", requirementID,
			"error", err,
		)
		return false, err
	}
	return settled, nil
}

func (e *engineImpl) stepSettled(ctx context.Context, workflowID, stepID int64) (bool, error) {
	snap, err := e.loadSnapshot(ctx, workflowID)
	if err != nil {
		return false, err
	}
	step := snap.step(stepID)
	return step != nil && snap.progress.Settled(step), nil
}
