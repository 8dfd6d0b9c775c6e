package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/garyjia/change-approval/internal/domain/entity"
	"github.com/garyjia/change-approval/internal/domain/event"
	domainwf "github.com/garyjia/change-approval/internal/domain/workflow"
)

const (
	transitionEscalate       = "ESCALATE"
	transitionUpdateDeadline = "UPDATE_DEADLINE"

	systemActor = "system"
)

// RunDeadlineSweep runs the reminder pass, then the escalation pass. Each step
// is handled under its change's lock on its own; failures are collected.
func (e *engineImpl) RunDeadlineSweep(ctx context.Context) (*SweepReport, error) {
	start := time.Now()

	steps, err := e.store.Steps.ListUndecided(ctx, entity.WorkflowStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list undecided steps: %w", err)
	}

	now := e.now()
	var remind, escalate []*entity.ApprovalStep
	for _, s := range steps {
		if s.CurrentApprover() != "" && !s.DueAt.After(now.Add(e.config.ReminderLookAhead)) {
			remind = append(remind, s)
		}
		if s.EscalatedTo == "" && !s.EscalateAt.After(now) {
			escalate = append(escalate, s)
		}
	}

	c := &sweepCollector{report: SweepReport{Sweep: SweepDeadline}}

	e.fanOut(ctx, c, remind, func(ctx context.Context, s *entity.ApprovalStep) error {
		sent, err := e.remindStep(ctx, s)
		if err != nil {
			return err
		}
		c.record(func(r *SweepReport) {
			r.Processed++
			if sent {
				r.Reminded++
			}
		})
		return nil
	})

	e.fanOut(ctx, c, escalate, func(ctx context.Context, s *entity.ApprovalStep) error {
		esc, err := e.escalateOverdue(ctx, s)
		switch {
		case errors.Is(err, domainwf.ErrNotFound):
			e.metrics.EscalationRecorded(EscalationOutcomeNoTarget)
			e.logError("No escalation target, step left unescalated",
				"step_id", s.ID,
				"workflow_id", s.WorkflowID,
				"approver", s.CurrentApprover(),
			)
			c.record(func(r *SweepReport) {
				r.Processed++
				r.Unescalated++
			})
			return nil
		case err != nil:
			return err
		}
		c.record(func(r *SweepReport) {
			r.Processed++
			if esc != nil {
				r.Escalated++
			}
		})
		return nil
	})

	return e.finishSweep(c, start)
}

// fanOut runs fn for each step with bounded concurrency, collecting failures
func (e *engineImpl) fanOut(ctx context.Context, c *sweepCollector, steps []*entity.ApprovalStep, fn func(context.Context, *entity.ApprovalStep) error) {
	g := new(errgroup.Group)
	g.SetLimit(e.config.SweepConcurrency)

	for _, s := range steps {
		if ctx.Err() != nil {
			c.fail(ctx.Err())
			break
		}
		g.Go(func() error {
			if err := fn(ctx, s); err != nil {
				e.logError("Deadline sweep item failed", "step_id", s.ID, "error", err)
				c.fail(fmt.Errorf("step %d: %w", s.ID, err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// stepInScope reloads a step under the lock and reports whether the sweeps may
// still act on it: workflow active, step undecided and eligible.
func (e *engineImpl) stepInScope(ctx context.Context, stepID int64) (*entity.ApprovalStep, *entity.WorkflowInstance, bool, error) {
	step, wf, err := e.loadStep(ctx, stepID, "")
	if err != nil {
		return nil, nil, false, err
	}
	if wf.Status != entity.WorkflowStatusActive || !step.IsUndecided() {
		return step, wf, false, nil
	}
	snap, err := e.loadSnapshot(ctx, wf.ID)
	if err != nil {
		return nil, nil, false, err
	}
	return step, wf, snap.progress.Eligible(step), nil
}

func (e *engineImpl) remindStep(ctx context.Context, candidate *entity.ApprovalStep) (bool, error) {
	wf, err := e.loadWorkflow(ctx, candidate.WorkflowID)
	if err != nil {
		return false, err
	}

	var sent bool
	err = e.mutate(ctx, wf.ChangeID, func(ctx context.Context, ob *outbox) error {
		step, wf, ok, err := e.stepInScope(ctx, candidate.ID)
		if err != nil || !ok {
			return err
		}

		now := e.now()
		recipient, err := e.currentApprover(ctx, step)
		if err != nil {
			return err
		}
		if recipient == "" || step.DueAt.After(now.Add(e.config.ReminderLookAhead)) {
			return nil
		}

		last, err := e.store.Reminders.LastForStep(ctx, step.ID)
		if err != nil {
			return fmt.Errorf("failed to load last reminder: %w", err)
		}
		if last != nil && now.Sub(last.SentAt) < e.config.ReminderCooldown {
			return nil
		}

		if err := e.store.Reminders.Create(ctx, &entity.Reminder{StepID: step.ID, Recipient: recipient, SentAt: now}); err != nil {
			return fmt.Errorf("failed to record reminder: %w", err)
		}

		ob.emit(event.NewEvent(event.TypeStepReminded, wf.ID, wf.ChangeID, map[string]interface{}{
			"due_at":  step.DueAt.UTC().Format(time.RFC3339),
			"overdue": now.After(step.DueAt),
		}).ForStep(step.ID, systemActor).At(now).Notify(entity.NotifyReminder, recipient))
		sent = true
		return nil
	})
	if sent {
		e.metrics.ReminderSent()
	}
	return sent, err
}

func (e *engineImpl) escalateOverdue(ctx context.Context, candidate *entity.ApprovalStep) (*entity.Escalation, error) {
	wf, err := e.loadWorkflow(ctx, candidate.WorkflowID)
	if err != nil {
		return nil, err
	}

	var esc *entity.Escalation
	err = e.mutate(ctx, wf.ChangeID, func(ctx context.Context, ob *outbox) error {
		step, wf, ok, err := e.stepInScope(ctx, candidate.ID)
		if err != nil || !ok {
			return err
		}
		if step.EscalatedTo != "" || step.EscalateAt.After(e.now()) {
			return nil
		}
		esc, err = e.escalateStep(ctx, ob, wf, step, "", "deadline exceeded", systemActor)
		return err
	})
	return esc, err
}

// Escalate reassigns an undecided step now. An explicit target must have
// authority for the step; otherwise the target is resolved like the sweep does.
func (e *engineImpl) Escalate(ctx context.Context, req EscalateRequest) (*entity.Escalation, error) {
	switch {
	case req.StepID <= 0:
		return nil, domainwf.Validationf("approval_step", req.StepID, transitionEscalate, "step id is required")
	case strings.TrimSpace(req.Actor) == "":
		return nil, domainwf.Validationf("approval_step", req.StepID, transitionEscalate, "actor is required")
	case strings.TrimSpace(req.Reason) == "":
		return nil, domainwf.Validationf("approval_step", req.StepID, transitionEscalate, "escalation reason is required")
	}

	_, wf, err := e.loadStep(ctx, req.StepID, transitionEscalate)
	if err != nil {
		return nil, err
	}

	var esc *entity.Escalation
	err = e.mutate(ctx, wf.ChangeID, func(ctx context.Context, ob *outbox) error {
		step, wf, err := e.loadStep(ctx, req.StepID, transitionEscalate)
		if err != nil {
			return err
		}
		if wf.IsTerminal() {
			return domainwf.Validationf("workflow", wf.ID, transitionEscalate, "workflow is %s", wf.Status)
		}
		if !step.IsUndecided() {
			return domainwf.Validationf("approval_step", step.ID, transitionEscalate, "step is %s", step.Decision)
		}

		if req.Target != "" {
			ok, err := e.authority.CanActOnStep(ctx, req.Target, step, wf)
			if err != nil {
				return domainwf.NewError(domainwf.KindCollaboratorFailure, "approval_step", step.ID, transitionEscalate, err)
			}
			if !ok {
				return domainwf.NewError(domainwf.KindAuthority, "approval_step", step.ID, transitionEscalate,
					fmt.Errorf("%s lacks authority for role %s", req.Target, step.RequiredRole))
			}
		}

		esc, err = e.escalateStep(ctx, ob, wf, step, req.Target, req.Reason, req.Actor)
		return err
	})
	if err != nil {
		if errors.Is(err, domainwf.ErrNotFound) {
			e.metrics.EscalationRecorded(EscalationOutcomeNoTarget)
		}
		e.logError("Escalation failed", "step_id", req.StepID, "error", err)
		return nil, err
	}
	return esc, nil
}

// escalateStep moves the step to target, resolving one when empty. A delegated
// step is taken back from its delegate.
func (e *engineImpl) escalateStep(ctx context.Context, ob *outbox, wf *entity.WorkflowInstance, step *entity.ApprovalStep, target, reason, actor string) (*entity.Escalation, error) {
	original, err := e.currentApprover(ctx, step)
	if err != nil {
		return nil, err
	}

	if target == "" {
		resolved, err := e.escalationTarget(ctx, step)
		if err != nil {
			return nil, domainwf.NewError(domainwf.KindCollaboratorFailure, "approval_step", step.ID, transitionEscalate, err)
		}
		if resolved == "" {
			return nil, domainwf.NewError(domainwf.KindNotFound, "approval_step", step.ID, transitionEscalate,
				fmt.Errorf("no manager, peer or backup for %s", original))
		}
		target = resolved
	}
	if target == original {
		return nil, domainwf.Validationf("approval_step", step.ID, transitionEscalate, "%s already holds the step", target)
	}

	now := e.now()
	var cleared map[string]interface{}
	if step.Decision == entity.DecisionDelegated {
		cleared = map[string]interface{}{
			"cleared_decision":   step.Decision,
			"cleared_decided_by": step.DecidedBy,
			"cleared_delegate":   step.DelegatedTo,
		}
		if step.DecidedAt != nil {
			cleared["cleared_decided_at"] = step.DecidedAt.UTC().Format(time.RFC3339)
		}
		revoked, err := e.revokeDelegation(ctx, step, now)
		if err != nil {
			return nil, err
		}
		if revoked != nil {
			cleared["revoked_delegation_id"] = revoked.ID
		}
	}

	esc := &entity.Escalation{
		StepID:           step.ID,
		WorkflowID:       wf.ID,
		OriginalApprover: original,
		EscalatedTo:      target,
		Reason:           reason,
		CreatedAt:        now,
	}
	if err := e.store.Escalations.Create(ctx, esc); err != nil {
		return nil, fmt.Errorf("failed to record escalation: %w", err)
	}
	if err := e.store.Steps.SetEscalatedTo(ctx, step.ID, target, now); err != nil {
		return nil, fmt.Errorf("failed to reassign step: %w", err)
	}
	step.EscalatedTo = target

	evt := event.NewEvent(event.TypeStepEscalated, wf.ID, wf.ChangeID, map[string]interface{}{
		"before":        original,
		"after":         target,
		"reason":        reason,
		"escalation_id": esc.ID,
	}).ForStep(step.ID, actor).At(now).Notify(entity.NotifyEscalated, target)
	for k, v := range cleared {
		evt = evt.WithPayload(k, v)
	}

	if wf.HighUrgency() {
		execs, err := e.directory.UsersWithRole(ctx, entity.RoleExecutive)
		if err != nil {
			// visibility is best effort; the escalation itself stands
			e.recordFailure(ctx, "directory", wf.ChangeID, "list_executives", err)
		}
		for _, x := range execs {
			if x != target {
				evt.Notify(entity.NotifyEscalationVisibility, x)
			}
		}
	}
	ob.emit(evt)

	e.metrics.EscalationRecorded(EscalationOutcomeEscalated)
	e.logInfo("Step escalated",
		"workflow_id", wf.ID,
		"step_id", step.ID,
		"from", original,
		"to", target,
		"reason", reason,
	)
	return esc, nil
}

// revokeDelegation returns a delegated step to pending and deactivates its
// delegation. Returns the deactivated delegation, nil when none was active.
func (e *engineImpl) revokeDelegation(ctx context.Context, step *entity.ApprovalStep, now time.Time) (*entity.Delegation, error) {
	d, err := e.registry.ActiveForStep(ctx, step.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load step delegation: %w", err)
	}
	if d != nil {
		if err := e.store.Delegations.Deactivate(ctx, d.ID); err != nil {
			return nil, fmt.Errorf("failed to deactivate delegation %d: %w", d.ID, err)
		}
	}

	step.Decision = ""
	step.DecidedBy = ""
	step.DecidedAt = nil
	step.Comments = ""
	step.DelegatedTo = ""
	step.UpdatedAt = now
	if err := e.store.Steps.RecordDecision(ctx, step); err != nil {
		return nil, fmt.Errorf("failed to reset delegated step: %w", err)
	}
	return d, nil
}

// UpdateDeadline moves due_at and recomputes escalate_at with the grace period
func (e *engineImpl) UpdateDeadline(ctx context.Context, stepID int64, dueAt time.Time, reason, actor string) (*entity.ApprovalStep, error) {
	switch {
	case strings.TrimSpace(reason) == "":
		return nil, domainwf.Validationf("approval_step", stepID, transitionUpdateDeadline, "reason is required")
	case strings.TrimSpace(actor) == "":
		return nil, domainwf.Validationf("approval_step", stepID, transitionUpdateDeadline, "actor is required")
	case dueAt.IsZero():
		return nil, domainwf.Validationf("approval_step", stepID, transitionUpdateDeadline, "due time is required")
	}

	_, wf, err := e.loadStep(ctx, stepID, transitionUpdateDeadline)
	if err != nil {
		return nil, err
	}

	var updated *entity.ApprovalStep
	err = e.mutate(ctx, wf.ChangeID, func(ctx context.Context, ob *outbox) error {
		step, wf, err := e.loadStep(ctx, stepID, transitionUpdateDeadline)
		if err != nil {
			return err
		}
		if wf.IsTerminal() {
			return domainwf.Validationf("workflow", wf.ID, transitionUpdateDeadline, "workflow is %s", wf.Status)
		}
		if step.Decision == entity.DecisionApproved || step.Decision == entity.DecisionRejected {
			return domainwf.Validationf("approval_step", step.ID, transitionUpdateDeadline, "step is %s", step.Decision)
		}

		now := e.now()
		before := step.DueAt
		escalateAt := dueAt.Add(e.config.GracePeriod)
		if err := e.store.Steps.UpdateDeadline(ctx, step.ID, dueAt, escalateAt, now); err != nil {
			return fmt.Errorf("failed to update deadline: %w", err)
		}
		step.DueAt = dueAt
		step.EscalateAt = escalateAt
		step.UpdatedAt = now

		ob.emit(event.NewEvent(event.TypeDeadlineUpdated, wf.ID, wf.ChangeID, map[string]interface{}{
			"before":      before.UTC().Format(time.RFC3339),
			"after":       dueAt.UTC().Format(time.RFC3339),
			"escalate_at": escalateAt.UTC().Format(time.RFC3339),
			"reason":      reason,
		}).ForStep(step.ID, actor).At(now))

		updated = step
		return nil
	})
	if err != nil {
		e.logError("Failed to update deadline", "step_id", stepID, "error", err)
		return nil, err
	}
	return updated, nil
}
