package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/change-approval/internal/application/authority"
	"github.com/garyjia/change-approval/internal/application/delegation"
	"github.com/garyjia/change-approval/internal/application/dispatcher"
	"github.com/garyjia/change-approval/internal/application/port"
	"github.com/garyjia/change-approval/internal/domain/entity"
	"github.com/garyjia/change-approval/internal/domain/event"
	"github.com/garyjia/change-approval/internal/domain/planner"
	domainwf "github.com/garyjia/change-approval/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Config holds the engine's timing knobs
type Config struct {
	// GracePeriod separates due_at from escalate_at on new steps
	GracePeriod time.Duration
	// ReminderLookAhead selects steps due within this window
	ReminderLookAhead time.Duration
	// ReminderCooldown suppresses repeat reminders for the same step
	ReminderCooldown time.Duration
	// SweepConcurrency bounds parallel work within one sweep
	SweepConcurrency int
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		GracePeriod:       planner.DefaultGracePeriod,
		ReminderLookAhead: 24 * time.Hour,
		ReminderCooldown:  12 * time.Hour,
		SweepConcurrency:  4,
	}
}

// engineImpl is the concrete implementation of Engine
type engineImpl struct {
	store      port.Store
	directory  port.Directory
	authority  authority.Checker
	registry   *delegation.Registry
	dispatcher dispatcher.Dispatcher
	statusSink port.ChangeStatusSink

	logger  Logger
	metrics Metrics
	config  Config
	now     func() time.Time
	locks   *keyedLock
}

var _ Engine = (*engineImpl)(nil)

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher used after commit for notifications and audit
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithStatusSink sets the change request status collaborator
func WithStatusSink(s port.ChangeStatusSink) EngineOption {
	return func(e *engineImpl) {
		e.statusSink = s
	}
}

// WithLogger sets a logger for the engine
func WithLogger(logger Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = logger
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m Metrics) EngineOption {
	return func(e *engineImpl) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithConfig overrides the engine timing configuration. Zero fields keep defaults.
func WithConfig(cfg Config) EngineOption {
	return func(e *engineImpl) {
		if cfg.GracePeriod > 0 {
			e.config.GracePeriod = cfg.GracePeriod
		}
		if cfg.ReminderLookAhead > 0 {
			e.config.ReminderLookAhead = cfg.ReminderLookAhead
		}
		if cfg.ReminderCooldown > 0 {
			e.config.ReminderCooldown = cfg.ReminderCooldown
		}
		if cfg.SweepConcurrency > 0 {
			e.config.SweepConcurrency = cfg.SweepConcurrency
		}
	}
}

// WithClock overrides the engine clock
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	store port.Store,
	directory port.Directory,
	checker authority.Checker,
	registry *delegation.Registry,
	opts ...EngineOption,
) Engine {
	e := &engineImpl{
		store:     store,
		directory: directory,
		authority: checker,
		registry:  registry,
		metrics:   nopMetrics{},
		config:    DefaultConfig(),
		now:       time.Now,
		locks:     newKeyedLock(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// outbox collects side effects of a mutation until it commits
type outbox struct {
	events   []*event.Event
	statuses []statusUpdate
}

type statusUpdate struct {
	workflowID int64
	changeID   string
	status     string
}

func (o *outbox) emit(evt *event.Event) {
	o.events = append(o.events, evt)
}

// mutate serialises work on one change request inside a transaction. Status
// updates and events are published only after a successful commit.
func (e *engineImpl) mutate(ctx context.Context, changeID string, fn func(ctx context.Context, ob *outbox) error) error {
	unlock := e.locks.Lock(changeID)
	defer unlock()

	ob := &outbox{}
	if err := e.store.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		return fn(txCtx, ob)
	}); err != nil {
		return err
	}

	e.publish(ctx, ob)
	return nil
}

func (e *engineImpl) publish(ctx context.Context, ob *outbox) {
	for _, s := range ob.statuses {
		if e.statusSink == nil {
			continue
		}
		if err := e.statusSink.SetStatus(ctx, s.changeID, s.status); err != nil {
			e.recordFailure(ctx, entity.CollaboratorStatusSink, s.changeID, "set_status:"+s.status, err)
		}
	}

	if e.dispatcher == nil {
		return
	}
	for _, evt := range ob.events {
		e.dispatcher.DispatchAsync(ctx, evt)
	}
}

// recordFailure logs, counts and stores a collaborator failure. State is never rolled back.
func (e *engineImpl) recordFailure(ctx context.Context, collaborator, entityID, operation string, cause error) {
	e.logError("Collaborator call failed",
		"collaborator", collaborator,
		"entity_id", entityID,
		"operation", operation,
		"error", cause,
	)
	e.metrics.CollaboratorFailure(collaborator)

	f := &entity.CollaboratorFailure{
		Collaborator: collaborator,
		EntityID:     entityID,
		Operation:    operation,
		ErrorMessage: cause.Error(),
		OccurredAt:   e.now(),
	}
	if err := e.store.Failures.Create(context.WithoutCancel(ctx), f); err != nil {
		e.logError("Failed to store collaborator failure", "collaborator", collaborator, "error", err)
	}
}

// transitionWorkflow fires a workflow trigger, persists the new status and queues
// the status update and event. Returns false when the status did not change.
func (e *engineImpl) transitionWorkflow(ctx context.Context, ob *outbox, wf *entity.WorkflowInstance, trigger domainwf.Trigger, actor string) (bool, error) {
	machine := domainwf.NewWorkflowMachine(domainwf.State(wf.Status))
	if err := machine.Fire(ctx, trigger); err != nil {
		return false, domainwf.NewError(domainwf.KindValidation, "workflow", wf.ID, trigger.String(), err)
	}

	before := wf.Status
	after := machine.State().String()
	if after == before {
		return false, nil
	}

	now := e.now()
	if err := e.store.Workflows.UpdateStatus(ctx, wf.ID, after, now); err != nil {
		return false, fmt.Errorf("failed to update workflow status: %w", err)
	}
	wf.Status = after
	wf.UpdatedAt = now

	if status := changeStatusFor(after); status != "" {
		ob.statuses = append(ob.statuses, statusUpdate{workflowID: wf.ID, changeID: wf.ChangeID, status: status})
	}

	evt := event.NewEvent(workflowEventType(after, trigger), wf.ID, wf.ChangeID, map[string]interface{}{
		"before":  before,
		"after":   after,
		"trigger": trigger.String(),
	}).ForStep(0, actor).At(now)
	switch after {
	case entity.WorkflowStatusApproved:
		evt.Notify(entity.NotifyWorkflowApproved, wf.RequesterID, wf.ProjectOwnerID)
	case entity.WorkflowStatusRejected:
		evt.Notify(entity.NotifyWorkflowRejected, wf.RequesterID, wf.ProjectOwnerID)
	}
	ob.emit(evt)

	if domainwf.State(after).IsTerminal() {
		e.metrics.WorkflowFinished(after)
	}
	e.logInfo("Workflow status changed",
		"workflow_id", wf.ID,
		"change_id", wf.ChangeID,
		"from", before,
		"to", after,
	)
	return true, nil
}

func changeStatusFor(workflowStatus string) string {
	switch workflowStatus {
	case entity.WorkflowStatusActive:
		return entity.ChangeStatusPendingApproval
	case entity.WorkflowStatusApproved:
		return entity.ChangeStatusApproved
	case entity.WorkflowStatusRejected:
		return entity.ChangeStatusRejected
	case entity.WorkflowStatusOnHold:
		return entity.ChangeStatusOnHold
	}
	return ""
}

func workflowEventType(status string, trigger domainwf.Trigger) event.Type {
	switch {
	case trigger == domainwf.TriggerOverride:
		return event.TypeWorkflowOverridden
	case status == entity.WorkflowStatusApproved:
		return event.TypeWorkflowApproved
	case status == entity.WorkflowStatusRejected:
		return event.TypeWorkflowRejected
	case status == entity.WorkflowStatusOnHold:
		return event.TypeWorkflowOnHold
	}
	return event.TypeWorkflowResumed
}

// snapshot loads a workflow's steps and requirements and evaluates its progress
type snapshot struct {
	steps        []*entity.ApprovalStep
	requirements map[int64][]*entity.ConditionalRequirement
	progress     *domainwf.Progress
}

func (e *engineImpl) loadSnapshot(ctx context.Context, workflowID int64) (*snapshot, error) {
	steps, err := e.store.Steps.GetByWorkflowID(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps: %w", err)
	}
	reqs, err := e.store.Requirements.GetByWorkflowID(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load requirements: %w", err)
	}

	byStep := make(map[int64][]*entity.ConditionalRequirement)
	for _, r := range reqs {
		byStep[r.StepID] = append(byStep[r.StepID], r)
	}
	return &snapshot{
		steps:        steps,
		requirements: byStep,
		progress:     domainwf.NewProgress(steps, byStep),
	}, nil
}

func (s *snapshot) step(id int64) *entity.ApprovalStep {
	for _, st := range s.steps {
		if st.ID == id {
			return st
		}
	}
	return nil
}

// advance announces newly eligible steps and completes the workflow when the
// completion law holds. Returns the announced steps.
func (e *engineImpl) advance(ctx context.Context, ob *outbox, wf *entity.WorkflowInstance, actor string) ([]*entity.ApprovalStep, bool, error) {
	snap, err := e.loadSnapshot(ctx, wf.ID)
	if err != nil {
		return nil, false, err
	}
	if snap.progress.AnyRejected() {
		return nil, false, nil
	}

	if snap.progress.Complete() {
		changed, err := e.transitionWorkflow(ctx, ob, wf, domainwf.TriggerComplete, actor)
		return nil, changed, err
	}

	if wf.Status != entity.WorkflowStatusActive {
		return nil, false, nil
	}

	now := e.now()
	announced := snap.progress.NewlyEligible()
	for _, s := range announced {
		approver, err := e.currentApprover(ctx, s)
		if err != nil {
			return nil, false, err
		}
		if err := e.store.Steps.MarkEligibleNotified(ctx, s.ID, now); err != nil {
			return nil, false, fmt.Errorf("failed to mark step %d eligible: %w", s.ID, err)
		}
		ob.emit(event.NewEvent(event.TypeStepEligible, wf.ID, wf.ChangeID, map[string]interface{}{
			"step_number": s.StepNumber,
			"role":        s.RequiredRole,
		}).ForStep(s.ID, actor).At(now).Notify(entity.NotifyStepEligible, approver))
	}
	return announced, false, nil
}

func (e *engineImpl) loadWorkflow(ctx context.Context, id int64) (*entity.WorkflowInstance, error) {
	wf, err := e.store.Workflows.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow %d: %w", id, err)
	}
	if wf == nil {
		return nil, domainwf.NewError(domainwf.KindNotFound, "workflow", id, "", fmt.Errorf("workflow does not exist"))
	}
	return wf, nil
}

// loadStep returns the step and its workflow. Unknown steps are validation errors.
func (e *engineImpl) loadStep(ctx context.Context, id int64, transition string) (*entity.ApprovalStep, *entity.WorkflowInstance, error) {
	step, err := e.store.Steps.GetByID(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load step %d: %w", id, err)
	}
	if step == nil {
		return nil, nil, domainwf.Validationf("approval_step", id, transition, "step does not exist")
	}
	wf, err := e.loadWorkflow(ctx, step.WorkflowID)
	if err != nil {
		return nil, nil, err
	}
	return step, wf, nil
}

func (e *engineImpl) logInfo(msg string, kv ...interface{}) {
	if e.logger != nil {
		e.logger.Info(msg, kv...)
	}
}

func (e *engineImpl) logError(msg string, kv ...interface{}) {
	if e.logger != nil {
		e.logger.Error(msg, kv...)
	}
}
