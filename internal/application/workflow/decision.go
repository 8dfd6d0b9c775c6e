package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/garyjia/change-approval/internal/application/delegation"
	"github.com/garyjia/change-approval/internal/domain/entity"
	"github.com/garyjia/change-approval/internal/domain/event"
	domainwf "github.com/garyjia/change-approval/internal/domain/workflow"
)

func validateDecideRequest(req DecideRequest) (domainwf.Trigger, error) {
	trigger, ok := domainwf.TriggerForDecision(req.Decision)
	if !ok {
		return "", domainwf.Validationf("approval_step", req.StepID, "DECIDE", "unknown decision %q", req.Decision)
	}
	transition := trigger.String()

	switch {
	case req.StepID <= 0:
		return "", domainwf.Validationf("approval_step", req.StepID, transition, "step id is required")
	case strings.TrimSpace(req.Actor) == "":
		return "", domainwf.Validationf("approval_step", req.StepID, transition, "actor is required")
	case req.Conditions != "" && req.Decision != entity.DecisionApproved:
		return "", domainwf.Validationf("approval_step", req.StepID, transition, "conditions are only allowed on approval")
	case req.Decision != entity.DecisionDelegated && req.DelegateTo != "":
		return "", domainwf.Validationf("approval_step", req.StepID, transition, "delegate is only allowed on delegation")
	}
	return trigger, nil
}

// Decide validates and applies one decision. The step and workflow are reloaded
// under the change lock so concurrent decisions observe each other.
func (e *engineImpl) Decide(ctx context.Context, req DecideRequest) (*DecisionResult, error) {
	trigger, err := validateDecideRequest(req)
	if err != nil {
		return nil, err
	}

	_, wf, err := e.loadStep(ctx, req.StepID, trigger.String())
	if err != nil {
		return nil, err
	}

	var result *DecisionResult
	err = e.mutate(ctx, wf.ChangeID, func(ctx context.Context, ob *outbox) error {
		step, wf, err := e.loadStep(ctx, req.StepID, trigger.String())
		if err != nil {
			return err
		}
		result, err = e.decide(ctx, ob, wf, step, req, trigger)
		return err
	})
	if err != nil {
		e.logError("Decision failed",
			"step_id", req.StepID,
			"actor", req.Actor,
			"decision", req.Decision,
			"error", err,
		)
		return nil, err
	}
	return result, nil
}

func (e *engineImpl) decide(ctx context.Context, ob *outbox, wf *entity.WorkflowInstance, step *entity.ApprovalStep, req DecideRequest, trigger domainwf.Trigger) (*DecisionResult, error) {
	transition := trigger.String()

	replayed := isReplay(step, req)
	if !replayed {
		var err error
		if replayed, err = e.isSupersededReplay(ctx, step, req); err != nil {
			return nil, err
		}
	}
	if replayed {
		e.logInfo("Decision replayed", "step_id", step.ID, "actor", req.Actor, "decision", req.Decision)
		return e.result(ctx, wf, step.ID)
	}

	switch {
	case step.Decision == entity.DecisionApproved || step.Decision == entity.DecisionRejected:
		return nil, domainwf.Validationf("approval_step", step.ID, transition, "step already %s by %s", step.Decision, step.DecidedBy)
	case wf.IsTerminal():
		return nil, domainwf.Validationf("workflow", wf.ID, transition, "workflow is %s", wf.Status)
	case wf.Status == entity.WorkflowStatusOnHold && step.Decision != entity.DecisionNeedsInfo:
		return nil, domainwf.Validationf("workflow", wf.ID, transition, "workflow is on hold awaiting information")
	}

	holder, err := e.delegateHolding(ctx, step)
	if err != nil {
		return nil, err
	}
	if holder != "" && holder != req.Actor {
		return nil, domainwf.NewError(domainwf.KindAuthority, "approval_step", step.ID, transition,
			fmt.Errorf("step is delegated to %s", holder))
	}

	machine := domainwf.NewStepMachine(domainwf.StepState(step))
	if !machine.CanFire(trigger) {
		return nil, domainwf.Validationf("approval_step", step.ID, transition, "cannot %s a step in state %s", req.Decision, machine.State())
	}

	ok, err := e.authority.CanActOnStep(ctx, req.Actor, step, wf)
	if err != nil {
		return nil, domainwf.NewError(domainwf.KindCollaboratorFailure, "approval_step", step.ID, transition, err)
	}
	if !ok {
		return nil, domainwf.NewError(domainwf.KindAuthority, "approval_step", step.ID, transition,
			fmt.Errorf("%s lacks authority for role %s", req.Actor, step.RequiredRole))
	}

	if trigger == domainwf.TriggerApprove {
		snap, err := e.loadSnapshot(ctx, wf.ID)
		if err != nil {
			return nil, err
		}
		if !snap.progress.Eligible(step) {
			return nil, domainwf.NewError(domainwf.KindDependencyViolation, "approval_step", step.ID, transition,
				fmt.Errorf("step %d depends on step %d which is not complete", step.StepNumber, *step.DependsOnStep))
		}
	}

	if err := machine.Fire(ctx, trigger); err != nil {
		return nil, domainwf.NewError(domainwf.KindValidation, "approval_step", step.ID, transition, err)
	}

	before := domainwf.StepState(step).String()
	switch req.Decision {
	case entity.DecisionApproved:
		err = e.applyApproval(ctx, ob, wf, step, req)
	case entity.DecisionRejected:
		err = e.applyRejection(ctx, ob, wf, step, req)
	case entity.DecisionNeedsInfo:
		err = e.applyInfoRequest(ctx, ob, wf, step, req)
	case entity.DecisionDelegated:
		err = e.applyDelegation(ctx, ob, wf, step, req)
	}
	if err != nil {
		return nil, err
	}

	e.metrics.DecisionRecorded(req.Decision)
	e.logInfo("Decision recorded",
		"workflow_id", wf.ID,
		"step_id", step.ID,
		"actor", req.Actor,
		"from", before,
		"decision", req.Decision,
		"workflow_status", wf.Status,
	)
	return e.result(ctx, wf, step.ID)
}

// isReplay reports whether req repeats the decision already recorded on the step
func isReplay(step *entity.ApprovalStep, req DecideRequest) bool {
	if step.Decision == "" || step.Decision != req.Decision || step.DecidedBy != req.Actor {
		return false
	}
	if step.Comments != req.Comments || step.Conditions != req.Conditions {
		return false
	}
	return req.Decision != entity.DecisionDelegated || step.DelegatedTo == req.DelegateTo
}

// isSupersededReplay reports whether a delegation or information request was
// already recorded on the step and a later decision has since replaced it.
// A step whose decision was cleared starts over, so nothing is replayed.
func (e *engineImpl) isSupersededReplay(ctx context.Context, step *entity.ApprovalStep, req DecideRequest) (bool, error) {
	if req.Decision != entity.DecisionDelegated && req.Decision != entity.DecisionNeedsInfo {
		return false, nil
	}
	if step.Decision == "" {
		return false, nil
	}
	history, err := e.store.Steps.ListDecisions(ctx, step.ID)
	if err != nil {
		return false, fmt.Errorf("failed to load decision history of step %d: %w", step.ID, err)
	}
	for i, d := range history {
		if i == len(history)-1 {
			break
		}
		if d.Decision != req.Decision || d.DecidedBy != req.Actor || d.Comments != req.Comments {
			continue
		}
		if req.Decision == entity.DecisionDelegated && d.DelegatedTo != req.DelegateTo {
			continue
		}
		return true, nil
	}
	return false, nil
}

// delegateHolding returns the delegate who alone may act on the step. The hold
// ends when the step's delegation is deactivated or expires; the recorded
// decision is left as it is.
func (e *engineImpl) delegateHolding(ctx context.Context, step *entity.ApprovalStep) (string, error) {
	if step.DelegatedTo == "" {
		return "", nil
	}
	if step.Decision != entity.DecisionDelegated && step.Decision != entity.DecisionNeedsInfo {
		return "", nil
	}
	d, err := e.registry.ActiveForStep(ctx, step.ID)
	if err != nil {
		return "", fmt.Errorf("failed to load delegation of step %d: %w", step.ID, err)
	}
	if d == nil || d.Delegate != step.DelegatedTo || !d.IsUsable(e.now()) {
		return "", nil
	}
	return step.DelegatedTo, nil
}

// currentApprover is the live delegate, else the escalation target, else the assignee
func (e *engineImpl) currentApprover(ctx context.Context, step *entity.ApprovalStep) (string, error) {
	holder, err := e.delegateHolding(ctx, step)
	if err != nil || holder != "" {
		return holder, err
	}
	return step.UndelegatedApprover(), nil
}

func (e *engineImpl) recordDecision(ctx context.Context, step *entity.ApprovalStep, req DecideRequest) error {
	now := e.now()
	step.Decision = req.Decision
	step.DecidedBy = req.Actor
	step.DecidedAt = &now
	step.Comments = req.Comments
	step.Conditions = req.Conditions
	step.UpdatedAt = now
	if err := e.store.Steps.RecordDecision(ctx, step); err != nil {
		return fmt.Errorf("failed to record decision on step %d: %w", step.ID, err)
	}
	return nil
}

func (e *engineImpl) decisionEvent(wf *entity.WorkflowInstance, step *entity.ApprovalStep, before string) *event.Event {
	return event.NewEvent(event.TypeStepDecided, wf.ID, wf.ChangeID, map[string]interface{}{
		"before":      before,
		"after":       step.Decision,
		"step_number": step.StepNumber,
		"role":        step.RequiredRole,
		"comments":    step.Comments,
	}).ForStep(step.ID, step.DecidedBy).At(e.now())
}

func (e *engineImpl) applyApproval(ctx context.Context, ob *outbox, wf *entity.WorkflowInstance, step *entity.ApprovalStep, req DecideRequest) error {
	var clauses []string
	if strings.TrimSpace(req.Conditions) != "" {
		parsed, err := domainwf.ParseConditions(req.Conditions)
		if err != nil {
			return domainwf.NewError(domainwf.KindValidation, "approval_step", step.ID, domainwf.TriggerApprove.String(), err)
		}
		clauses = parsed
	}

	before := domainwf.StepState(step).String()
	if err := e.recordDecision(ctx, step, req); err != nil {
		return err
	}

	if len(clauses) > 0 {
		reqs := make([]*entity.ConditionalRequirement, 0, len(clauses))
		for i, c := range clauses {
			reqs = append(reqs, &entity.ConditionalRequirement{
				StepID:      step.ID,
				Sequence:    i + 1,
				Description: c,
				CreatedAt:   e.now(),
			})
		}
		if err := e.store.Requirements.CreateBatch(ctx, reqs); err != nil {
			return fmt.Errorf("failed to create requirements: %w", err)
		}
	}

	ob.emit(e.decisionEvent(wf, step, before).WithPayload("conditions", len(clauses)))
	return e.settle(ctx, ob, wf, req.Actor)
}

func (e *engineImpl) applyRejection(ctx context.Context, ob *outbox, wf *entity.WorkflowInstance, step *entity.ApprovalStep, req DecideRequest) error {
	before := domainwf.StepState(step).String()
	if err := e.recordDecision(ctx, step, req); err != nil {
		return err
	}
	ob.emit(e.decisionEvent(wf, step, before))

	_, err := e.transitionWorkflow(ctx, ob, wf, domainwf.TriggerReject, req.Actor)
	return err
}

func (e *engineImpl) applyInfoRequest(ctx context.Context, ob *outbox, wf *entity.WorkflowInstance, step *entity.ApprovalStep, req DecideRequest) error {
	before := domainwf.StepState(step).String()
	if err := e.recordDecision(ctx, step, req); err != nil {
		return err
	}
	ob.emit(e.decisionEvent(wf, step, before).Notify(entity.NotifyInfoRequested, wf.RequesterID))

	_, err := e.transitionWorkflow(ctx, ob, wf, domainwf.TriggerHold, req.Actor)
	return err
}

func (e *engineImpl) applyDelegation(ctx context.Context, ob *outbox, wf *entity.WorkflowInstance, step *entity.ApprovalStep, req DecideRequest) error {
	before := domainwf.StepState(step).String()

	d, err := e.registry.DelegateStep(ctx, delegation.StepDelegation{
		Step:     step,
		Workflow: wf,
		From:     req.Actor,
		To:       req.DelegateTo,
		Reason:   req.Comments,
		Duration: req.DelegationDuration,
	})
	if err != nil {
		return err
	}

	step.DelegatedTo = req.DelegateTo
	if err := e.recordDecision(ctx, step, req); err != nil {
		return err
	}

	evt := event.NewEvent(event.TypeStepDelegated, wf.ID, wf.ChangeID, map[string]interface{}{
		"before":        before,
		"after":         step.Decision,
		"delegate":      d.Delegate,
		"delegation_id": d.ID,
		"reason":        d.Reason,
	}).ForStep(step.ID, req.Actor).At(e.now()).Notify(entity.NotifyDelegationReceived, d.Delegate)
	if d.ExpiresAt != nil {
		evt = evt.WithPayload("expires_at", d.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z07:00"))
	}
	ob.emit(evt)

	return e.settle(ctx, ob, wf, req.Actor)
}

// settle resumes an on-hold workflow whose information request was answered, then
// re-evaluates completion and eligibility.
func (e *engineImpl) settle(ctx context.Context, ob *outbox, wf *entity.WorkflowInstance, actor string) error {
	if wf.Status == entity.WorkflowStatusOnHold {
		snap, err := e.loadSnapshot(ctx, wf.ID)
		if err != nil {
			return err
		}
		if !snap.progress.Complete() && !awaitingInfo(snap.steps) {
			if _, err := e.transitionWorkflow(ctx, ob, wf, domainwf.TriggerResume, actor); err != nil {
				return err
			}
		}
	}

	_, _, err := e.advance(ctx, ob, wf, actor)
	return err
}

func awaitingInfo(steps []*entity.ApprovalStep) bool {
	for _, s := range steps {
		if s.Decision == entity.DecisionNeedsInfo {
			return true
		}
	}
	return false
}

// result builds the decision result from persisted state so a replay matches the original
func (e *engineImpl) result(ctx context.Context, wf *entity.WorkflowInstance, stepID int64) (*DecisionResult, error) {
	snap, err := e.loadSnapshot(ctx, wf.ID)
	if err != nil {
		return nil, err
	}
	step := snap.step(stepID)
	if step == nil {
		return nil, domainwf.NewError(domainwf.KindNotFound, "approval_step", stepID, "", fmt.Errorf("step vanished"))
	}

	res := &DecisionResult{
		StepID:         step.ID,
		WorkflowID:     wf.ID,
		ChangeID:       wf.ChangeID,
		Decision:       step.Decision,
		StepState:      domainwf.StepState(step).String(),
		WorkflowStatus: wf.Status,
		Requirements:   snap.requirements[step.ID],
	}

	if snap.progress.GroupSatisfied(step.StepNumber) {
		for _, d := range snap.progress.Dependents(step.StepNumber) {
			if d.IsUndecided() {
				res.NewlyEligibleSteps = append(res.NewlyEligibleSteps, d.ID)
			}
		}
	}

	if step.Decision == entity.DecisionDelegated {
		d, err := e.registry.ActiveForStep(ctx, step.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load delegation: %w", err)
		}
		res.Delegation = d
	}
	return res, nil
}

// Delegate hands a step to another approver through the delegated decision
func (e *engineImpl) Delegate(ctx context.Context, req DelegateRequest) (*entity.Delegation, error) {
	res, err := e.Decide(ctx, DecideRequest{
		StepID:             req.StepID,
		Actor:              req.From,
		Decision:           entity.DecisionDelegated,
		Comments:           req.Reason,
		DelegateTo:         req.To,
		DelegationDuration: req.Duration,
	})
	if err != nil {
		return nil, err
	}
	if res.Delegation == nil {
		// replayed after the step moved on
		d, err := e.registry.LatestForStep(ctx, req.StepID, req.From, req.To)
		if err != nil {
			return nil, err
		}
		if d != nil {
			return d, nil
		}
		return nil, domainwf.NewError(domainwf.KindNotFound, "delegation", req.StepID, domainwf.TriggerDelegate.String(),
			fmt.Errorf("no active delegation recorded"))
	}
	return res.Delegation, nil
}
