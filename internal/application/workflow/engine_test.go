package workflow

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/change-approval/internal/application/authority"
	"github.com/garyjia/change-approval/internal/application/delegation"
	"github.com/garyjia/change-approval/internal/application/dispatcher"
	"github.com/garyjia/change-approval/internal/application/port"
	"github.com/garyjia/change-approval/internal/domain/entity"
	"github.com/garyjia/change-approval/internal/domain/event"
	domainwf "github.com/garyjia/change-approval/internal/domain/workflow"
	"github.com/garyjia/change-approval/internal/infrastructure/persistence/memory"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// syncDispatcher runs async dispatches inline so tests observe delivered notifications
type syncDispatcher struct {
	dispatcher.Dispatcher
}

func (s syncDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	_ = s.Dispatch(ctx, evt)
}

type fixture struct {
	engine   Engine
	ports    port.Store
	dir      *memory.Directory
	status   *memory.StatusSink
	audit    *memory.AuditLog
	notifier *memory.Notifier
	clock    *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := memory.NewDirectory()
	dir.AddUser("pm-1", entity.RoleProjectManager, 50000, "sm-1")
	dir.AddUser("pm-2", entity.RoleProjectManager, 50000, "sm-1")
	dir.AddUser("pm-low", entity.RoleProjectManager, 1000, "sm-1")
	dir.AddUser("sm-1", entity.RoleSeniorManager, 100000, "exec-1")
	dir.AddUser("sm-2", entity.RoleSeniorManager, 100000, "exec-1")
	dir.AddUser("exec-1", entity.RoleExecutive, 1000000, "")
	dir.AddUser("exec-2", entity.RoleExecutive, 1000000, "")
	dir.AddUser("tl-1", entity.RoleTechnicalLead, 1000000, "")
	dir.AddUser("co-1", entity.RoleComplianceOfficer, 1000000, "")
	dir.AddUser("em-1", entity.RoleEmergencyApprover, 1000000, "exec-1")

	clock := &testClock{now: base}
	ports := memory.New().Ports()
	checker := authority.NewValidator(dir, authority.WithDelegations(ports.Delegations), authority.WithClock(clock.Now))
	registry := delegation.NewRegistry(ports.Delegations, ports.Backups, checker, dir, delegation.WithClock(clock.Now))

	status := memory.NewStatusSink()
	audit := memory.NewAuditLog()
	notifier := memory.NewNotifier()

	d := dispatcher.NewDispatcher()
	NewSubscribers(audit, notifier, ports.Failures, nil, nil).Register(d)

	engine := NewEngine(ports, dir, checker, registry,
		WithDispatcher(syncDispatcher{d}),
		WithStatusSink(status),
		WithClock(clock.Now),
	)

	return &fixture{
		engine:   engine,
		ports:    ports,
		dir:      dir,
		status:   status,
		audit:    audit,
		notifier: notifier,
		clock:    clock,
	}
}

func change(id string, cost int64) entity.ChangeData {
	return entity.ChangeData{
		ChangeID:       id,
		ChangeType:     entity.ChangeTypeBudget,
		Priority:       entity.PriorityMedium,
		CostImpact:     decimal.NewFromInt(cost),
		RequesterID:    "req-1",
		ProjectOwnerID: "pm-1",
	}
}

func (f *fixture) initiate(t *testing.T, c entity.ChangeData) (*entity.WorkflowInstance, []*entity.ApprovalStep) {
	t.Helper()
	wf, err := f.engine.InitiateWorkflow(context.Background(), c)
	require.NoError(t, err)
	return wf, f.steps(t, wf.ID)
}

func (f *fixture) steps(t *testing.T, workflowID int64) []*entity.ApprovalStep {
	t.Helper()
	steps, err := f.ports.Steps.GetByWorkflowID(context.Background(), workflowID)
	require.NoError(t, err)
	return steps
}

func (f *fixture) workflow(t *testing.T, id int64) *entity.WorkflowInstance {
	t.Helper()
	wf, err := f.ports.Workflows.GetByID(context.Background(), id)
	require.NoError(t, err)
	return wf
}

func (f *fixture) recipients(kind string) []string {
	var users []string
	for _, n := range f.notifier.Sent(kind) {
		users = append(users, n.UserID)
	}
	sort.Strings(users)
	return users
}

func approve(stepID int64, actor string) DecideRequest {
	return DecideRequest{StepID: stepID, Actor: actor, Decision: entity.DecisionApproved}
}

func TestStandardWorkflow_30000(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	wf, steps := f.initiate(t, change("CR-100", 30000))
	assert.Equal(t, entity.ArchetypeStandard, wf.Archetype)
	assert.Equal(t, entity.WorkflowStatusActive, wf.Status)

	require.Len(t, steps, 2)
	pmStep, smStep := steps[0], steps[1]
	assert.Equal(t, entity.RoleProjectManager, pmStep.RequiredRole)
	assert.Equal(t, "pm-1", pmStep.AssignedApprover)
	assert.Equal(t, base.Add(72*time.Hour), pmStep.DueAt)
	assert.Equal(t, base.Add(96*time.Hour), pmStep.EscalateAt)
	assert.Equal(t, entity.RoleSeniorManager, smStep.RequiredRole)
	assert.Equal(t, "sm-1", smStep.AssignedApprover)
	require.NotNil(t, smStep.DependsOnStep)
	assert.Equal(t, 1, *smStep.DependsOnStep)

	assert.Equal(t, []string{entity.ChangeStatusPendingApproval}, f.status.History("CR-100"))
	assert.Equal(t, []string{"pm-1"}, f.recipients(entity.NotifyApprovalRequested))
	assert.Len(t, f.audit.Events(entity.AuditWorkflowInitiated), 1)

	pending, err := f.engine.PendingFor(ctx, "sm-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.False(t, pending[0].Eligible)

	res, err := f.engine.Decide(ctx, approve(pmStep.ID, "pm-1"))
	require.NoError(t, err)
	assert.Equal(t, "approved", res.StepState)
	assert.Equal(t, entity.WorkflowStatusActive, res.WorkflowStatus)
	assert.Equal(t, []int64{smStep.ID}, res.NewlyEligibleSteps)
	assert.Equal(t, []string{"sm-1"}, f.recipients(entity.NotifyStepEligible))

	pending, err = f.engine.PendingFor(ctx, "sm-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Eligible)
	assert.Equal(t, ActingAssigned, pending[0].ActingAs)

	res, err = f.engine.Decide(ctx, approve(smStep.ID, "sm-1"))
	require.NoError(t, err)
	assert.Equal(t, entity.WorkflowStatusApproved, res.WorkflowStatus)
	assert.Equal(t, []string{entity.ChangeStatusPendingApproval, entity.ChangeStatusApproved}, f.status.History("CR-100"))
	assert.Equal(t, []string{"pm-1", "req-1"}, f.recipients(entity.NotifyWorkflowApproved))
	assert.Len(t, f.audit.Events(entity.AuditDecision), 2)
}

func TestDecide_DependencyInvariant(t *testing.T) {
	f := newFixture(t)
	_, steps := f.initiate(t, change("CR-101", 30000))

	_, err := f.engine.Decide(context.Background(), approve(steps[1].ID, "sm-1"))
	assert.ErrorIs(t, err, domainwf.ErrDependencyViolation)

	after := f.steps(t, steps[1].WorkflowID)
	assert.Empty(t, after[1].Decision, "rejected decision leaves no trace")
}

func TestDecide_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, steps := f.initiate(t, change("CR-102", 5000))

	first, err := f.engine.Decide(ctx, approve(steps[0].ID, "pm-1"))
	require.NoError(t, err)
	second, err := f.engine.Decide(ctx, approve(steps[0].ID, "pm-1"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{entity.ChangeStatusPendingApproval, entity.ChangeStatusApproved}, f.status.History("CR-102"))
	assert.Len(t, f.audit.Events(entity.AuditDecision), 1)

	_, err = f.engine.Decide(ctx, DecideRequest{StepID: steps[0].ID, Actor: "pm-1", Decision: entity.DecisionRejected})
	assert.ErrorIs(t, err, domainwf.ErrValidation)
}

func TestDecide_ReplayedDelegationAfterDelegateDecided(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, steps := f.initiate(t, change("CR-111", 5000))

	req := DelegateRequest{StepID: steps[0].ID, From: "pm-1", To: "pm-2", Reason: "offsite"}
	d, err := f.engine.Delegate(ctx, req)
	require.NoError(t, err)
	_, err = f.engine.Decide(ctx, approve(steps[0].ID, "pm-2"))
	require.NoError(t, err)

	again, err := f.engine.Delegate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, d.ID, again.ID)

	res, err := f.engine.Decide(ctx, DecideRequest{StepID: steps[0].ID, Actor: "pm-1", Decision: entity.DecisionDelegated, Comments: "offsite", DelegateTo: "pm-2"})
	require.NoError(t, err)
	assert.Equal(t, entity.DecisionApproved, res.Decision)
	assert.Equal(t, entity.WorkflowStatusApproved, res.WorkflowStatus)
	assert.Len(t, f.audit.Events(entity.AuditDelegation), 1)

	_, err = f.engine.Delegate(ctx, DelegateRequest{StepID: steps[0].ID, From: "pm-1", To: "pm-low", Reason: "offsite"})
	assert.ErrorIs(t, err, domainwf.ErrValidation, "a different delegation is a new request")
}

func TestDecide_ReplayedInfoRequestAfterApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, steps := f.initiate(t, change("CR-112", 5000))

	ask := DecideRequest{StepID: steps[0].ID, Actor: "pm-1", Decision: entity.DecisionNeedsInfo, Comments: "rollback plan?"}
	_, err := f.engine.Decide(ctx, ask)
	require.NoError(t, err)
	_, err = f.engine.Decide(ctx, approve(steps[0].ID, "pm-1"))
	require.NoError(t, err)

	res, err := f.engine.Decide(ctx, ask)
	require.NoError(t, err)
	assert.Equal(t, entity.DecisionApproved, res.Decision)
	assert.Equal(t, entity.WorkflowStatusApproved, res.WorkflowStatus)
	assert.Equal(t, []string{
		entity.ChangeStatusPendingApproval,
		entity.ChangeStatusOnHold,
		entity.ChangeStatusApproved,
	}, f.status.History("CR-112"))

	ask.Comments = "and the test evidence?"
	_, err = f.engine.Decide(ctx, ask)
	assert.ErrorIs(t, err, domainwf.ErrValidation)
}

func TestDecide_ConcurrentDuplicates(t *testing.T) {
	f := newFixture(t)
	_, steps := f.initiate(t, change("CR-103", 5000))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.Decide(context.Background(), approve(steps[0].ID, "pm-1"))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, []string{entity.ChangeStatusPendingApproval, entity.ChangeStatusApproved}, f.status.History("CR-103"))
}

func TestDecide_Authority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, steps := f.initiate(t, change("CR-104", 30000))

	_, err := f.engine.Decide(ctx, approve(steps[0].ID, "pm-low"))
	assert.ErrorIs(t, err, domainwf.ErrAuthority)

	_, err = f.engine.Decide(ctx, approve(steps[0].ID, "ghost"))
	assert.ErrorIs(t, err, domainwf.ErrAuthority)

	res, err := f.engine.Decide(ctx, approve(steps[0].ID, "sm-1"))
	require.NoError(t, err, "a senior manager may act for a project manager")
	assert.Equal(t, entity.DecisionApproved, res.Decision)
}

func TestDecide_RequestValidation(t *testing.T) {
	f := newFixture(t)
	_, steps := f.initiate(t, change("CR-105", 5000))

	tests := []struct {
		name string
		req  DecideRequest
	}{
		{"unknown decision", DecideRequest{StepID: steps[0].ID, Actor: "pm-1", Decision: "maybe"}},
		{"missing actor", DecideRequest{StepID: steps[0].ID, Decision: entity.DecisionApproved}},
		{"unknown step", DecideRequest{StepID: 9999, Actor: "pm-1", Decision: entity.DecisionApproved}},
		{"conditions on rejection", DecideRequest{StepID: steps[0].ID, Actor: "pm-1", Decision: entity.DecisionRejected, Conditions: "x"}},
		{"malformed conditions", DecideRequest{StepID: steps[0].ID, Actor: "pm-1", Decision: entity.DecisionApproved, Conditions: " ; ;"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Decide(context.Background(), tt.req)
			assert.ErrorIs(t, err, domainwf.ErrValidation)
		})
	}
}

func TestDecide_RejectionShortCircuit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := change("CR-106", 20000)
	c.ChangeType = entity.ChangeTypeRegulatory
	wf, steps := f.initiate(t, c)
	assert.Equal(t, entity.ArchetypeRegulatory, wf.Archetype)
	require.Len(t, steps, 3)

	res, err := f.engine.Decide(ctx, DecideRequest{StepID: steps[0].ID, Actor: "tl-1", Decision: entity.DecisionRejected, Comments: "unsafe"})
	require.NoError(t, err)
	assert.Equal(t, entity.WorkflowStatusRejected, res.WorkflowStatus)
	assert.Equal(t, []string{entity.ChangeStatusPendingApproval, entity.ChangeStatusRejected}, f.status.History("CR-106"))
	assert.Equal(t, []string{"pm-1", "req-1"}, f.recipients(entity.NotifyWorkflowRejected))

	_, err = f.engine.Decide(ctx, approve(steps[1].ID, "co-1"))
	assert.ErrorIs(t, err, domainwf.ErrValidation)
}

func TestDecide_ConditionalGating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf, steps := f.initiate(t, change("CR-107", 5000))

	res, err := f.engine.Decide(ctx, DecideRequest{
		StepID:     steps[0].ID,
		Actor:      "pm-1",
		Decision:   entity.DecisionApproved,
		Conditions: "Update the runbook; Notify operations",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.WorkflowStatusActive, res.WorkflowStatus)
	require.Len(t, res.Requirements, 2)
	assert.Equal(t, "Update the runbook", res.Requirements[0].Description)

	settled, err := f.engine.FulfillRequirement(ctx, steps[0].ID, res.Requirements[0].ID, "req-1", "runbook v2")
	require.NoError(t, err)
	assert.False(t, settled)
	assert.Equal(t, entity.WorkflowStatusActive, f.workflow(t, wf.ID).Status, "1 of 2 fulfilled is not approved")

	settled, err = f.engine.FulfillRequirement(ctx, steps[0].ID, res.Requirements[1].ID, "req-1", "email sent")
	require.NoError(t, err)
	assert.True(t, settled)
	assert.Equal(t, entity.WorkflowStatusApproved, f.workflow(t, wf.ID).Status)

	settled, err = f.engine.FulfillRequirement(ctx, steps[0].ID, res.Requirements[1].ID, "req-1", "again")
	require.NoError(t, err)
	assert.True(t, settled)
	assert.Len(t, f.audit.Events(entity.AuditRequirementFulfill), 2)

	_, err = f.engine.FulfillRequirement(ctx, 9999, res.Requirements[1].ID, "req-1", "")
	assert.ErrorIs(t, err, domainwf.ErrValidation)
}

func TestDecide_NeedsInfoHoldsAndResumes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, steps := f.initiate(t, change("CR-108", 30000))

	res, err := f.engine.Decide(ctx, DecideRequest{StepID: steps[0].ID, Actor: "pm-1", Decision: entity.DecisionNeedsInfo, Comments: "rollback plan?"})
	require.NoError(t, err)
	assert.Equal(t, entity.WorkflowStatusOnHold, res.WorkflowStatus)
	assert.Equal(t, []string{"req-1"}, f.recipients(entity.NotifyInfoRequested))

	_, err = f.engine.Decide(ctx, approve(steps[1].ID, "sm-1"))
	assert.ErrorIs(t, err, domainwf.ErrValidation, "on-hold workflows only accept the waiting step")

	res, err = f.engine.Decide(ctx, approve(steps[0].ID, "pm-1"))
	require.NoError(t, err)
	assert.Equal(t, entity.WorkflowStatusActive, res.WorkflowStatus)
	assert.Equal(t, []int64{steps[1].ID}, res.NewlyEligibleSteps)
	assert.Equal(t, []string{
		entity.ChangeStatusPendingApproval,
		entity.ChangeStatusOnHold,
		entity.ChangeStatusPendingApproval,
	}, f.status.History("CR-108"))
}

func TestDecide_NeedsInfoOnLastStepCompletesDirectly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, steps := f.initiate(t, change("CR-109", 5000))

	_, err := f.engine.Decide(ctx, DecideRequest{StepID: steps[0].ID, Actor: "pm-1", Decision: entity.DecisionNeedsInfo})
	require.NoError(t, err)
	res, err := f.engine.Decide(ctx, approve(steps[0].ID, "pm-1"))
	require.NoError(t, err)

	assert.Equal(t, entity.WorkflowStatusApproved, res.WorkflowStatus)
	assert.Equal(t, []string{
		entity.ChangeStatusPendingApproval,
		entity.ChangeStatusOnHold,
		entity.ChangeStatusApproved,
	}, f.status.History("CR-109"))
}

func TestDelegate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, steps := f.initiate(t, change("CR-110", 30000))
	_, err := f.engine.Decide(ctx, approve(steps[0].ID, "pm-1"))
	require.NoError(t, err)

	_, err = f.engine.Delegate(ctx, DelegateRequest{StepID: steps[1].ID, From: "sm-1", To: "pm-2", Reason: "leave"})
	assert.ErrorIs(t, err, domainwf.ErrAuthority)

	d, err := f.engine.Delegate(ctx, DelegateRequest{StepID: steps[1].ID, From: "sm-1", To: "sm-2", Reason: "leave", Duration: 48 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, "sm-2", d.Delegate)
	assert.Equal(t, []string{"sm-2"}, f.recipients(entity.NotifyDelegationReceived))

	pending, err := f.engine.PendingFor(ctx, "sm-2")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ActingDelegated, pending[0].ActingAs)

	_, err = f.engine.Decide(ctx, approve(steps[1].ID, "sm-1"))
	assert.ErrorIs(t, err, domainwf.ErrAuthority, "only the delegate may close a delegated step")

	res, err := f.engine.Decide(ctx, approve(steps[1].ID, "sm-2"))
	require.NoError(t, err)
	assert.Equal(t, entity.WorkflowStatusApproved, res.WorkflowStatus)
	assert.Len(t, f.audit.Events(entity.AuditDelegation), 1)
}

func TestProgressionSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	one := 1

	stalled := &entity.WorkflowInstance{ChangeID: "CR-200", Status: entity.WorkflowStatusActive, CostImpact: decimal.NewFromInt(1)}
	done := &entity.WorkflowInstance{ChangeID: "CR-201", Status: entity.WorkflowStatusActive, CostImpact: decimal.NewFromInt(1)}
	require.NoError(t, f.ports.Workflows.Create(ctx, stalled))
	require.NoError(t, f.ports.Workflows.Create(ctx, done))

	require.NoError(t, f.ports.Steps.CreateBatch(ctx, []*entity.ApprovalStep{
		{WorkflowID: stalled.ID, StepNumber: 1, IsRequired: true, Decision: entity.DecisionApproved},
		{WorkflowID: stalled.ID, StepNumber: 2, IsRequired: true, DependsOnStep: &one, AssignedApprover: "sm-1"},
		{WorkflowID: done.ID, StepNumber: 1, IsRequired: true, Decision: entity.DecisionApproved},
		{WorkflowID: done.ID, StepNumber: 2, IsRequired: true, Decision: entity.DecisionApproved},
		{WorkflowID: done.ID, StepNumber: 3, IsRequired: false},
	}))

	report, err := f.engine.RunProgressionSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Eligible)
	assert.Equal(t, 1, report.Completed)

	assert.Equal(t, entity.WorkflowStatusApproved, f.workflow(t, done.ID).Status, "optional steps never block completion")
	assert.Equal(t, []string{entity.ChangeStatusApproved}, f.status.History("CR-201"))
	assert.Equal(t, []string{"sm-1"}, f.recipients(entity.NotifyStepEligible))
	assert.Empty(t, f.steps(t, stalled.ID)[1].Decision, "eligibility never auto-approves")

	report, err = f.engine.RunProgressionSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Zero(t, report.Eligible, "steps are announced once")
	assert.Len(t, f.notifier.Sent(entity.NotifyStepEligible), 1)
}

func TestDeadlineSweep_RemindersAndEscalation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, steps := f.initiate(t, change("CR-300", 5000))

	report, err := f.engine.RunDeadlineSweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Reminded)

	f.clock.Advance(50 * time.Hour)
	report, err = f.engine.RunDeadlineSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reminded)
	assert.Equal(t, []string{"pm-1"}, f.recipients(entity.NotifyReminder))

	f.clock.Advance(time.Hour)
	report, err = f.engine.RunDeadlineSweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Reminded, "cool-down suppresses repeats")

	f.clock.Advance(12 * time.Hour)
	report, err = f.engine.RunDeadlineSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reminded)

	f.clock.Advance(34 * time.Hour)
	report, err = f.engine.RunDeadlineSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Escalated)

	step := f.steps(t, steps[0].WorkflowID)[0]
	assert.Equal(t, "sm-1", step.EscalatedTo, "manager wins over peer")
	escalations, err := f.ports.Escalations.GetByStepID(ctx, step.ID)
	require.NoError(t, err)
	require.Len(t, escalations, 1)
	assert.Equal(t, "pm-1", escalations[0].OriginalApprover)
	assert.Equal(t, []string{"sm-1"}, f.recipients(entity.NotifyEscalated))
	assert.Empty(t, f.notifier.Sent(entity.NotifyEscalationVisibility))

	report, err = f.engine.RunDeadlineSweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Escalated, "escalated steps are not escalated again")
}

func TestDeadlineSweep_PeerBackupAndNoTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := change("CR-301", 20000)
	c.ChangeType = entity.ChangeTypeRegulatory
	_, steps := f.initiate(t, c)

	f.clock.Advance(97 * time.Hour)
	report, err := f.engine.RunDeadlineSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Unescalated)
	assert.Zero(t, report.Escalated)

	f.dir.AddUser("tl-2", entity.RoleTechnicalLead, 1000000, "")
	_, err = f.engine.SetBackupApprover(ctx, "co-1", "co-backup", entity.RoleComplianceOfficer)
	require.NoError(t, err)

	report, err = f.engine.RunDeadlineSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Escalated)

	after := f.steps(t, steps[0].WorkflowID)
	assert.Equal(t, "tl-2", after[0].EscalatedTo)
	assert.Equal(t, "co-backup", after[1].EscalatedTo)
	assert.Empty(t, after[2].EscalatedTo, "steps waiting on a dependency are left alone")
}

func TestDeadlineSweep_HighUrgencyNotifiesExecutives(t *testing.T) {
	f := newFixture(t)
	c := change("CR-302", 5000)
	c.Priority = entity.PriorityCritical
	wf, _ := f.initiate(t, c)
	assert.Equal(t, entity.ArchetypeExpedited, wf.Archetype)

	f.clock.Advance(49 * time.Hour)
	report, err := f.engine.RunDeadlineSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Escalated)
	assert.Equal(t, []string{"sm-1"}, f.recipients(entity.NotifyEscalated))
	assert.Equal(t, []string{"exec-1", "exec-2"}, f.recipients(entity.NotifyEscalationVisibility))
}

func TestDeadlineSweep_EscalationRevokesDelegation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, steps := f.initiate(t, change("CR-303", 5000))

	d, err := f.engine.Delegate(ctx, DelegateRequest{StepID: steps[0].ID, From: "pm-1", To: "pm-2", Reason: "holiday"})
	require.NoError(t, err)

	f.clock.Advance(97 * time.Hour)
	report, err := f.engine.RunDeadlineSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Escalated)

	step := f.steps(t, steps[0].WorkflowID)[0]
	assert.Empty(t, step.Decision)
	assert.Empty(t, step.DelegatedTo)
	assert.Equal(t, "sm-1", step.EscalatedTo)

	active, err := f.ports.Delegations.GetActiveForStep(ctx, steps[0].ID)
	require.NoError(t, err)
	assert.Nil(t, active)
	assert.NotZero(t, d.ID)

	// the audit trail keeps the delegated decision the escalation cleared
	escalations := f.audit.Events(entity.AuditEscalation)
	require.Len(t, escalations, 1)
	detail := escalations[0].Detail
	assert.Equal(t, entity.DecisionDelegated, detail["cleared_decision"])
	assert.Equal(t, "pm-1", detail["cleared_decided_by"])
	assert.Equal(t, "pm-2", detail["cleared_delegate"])
	assert.Equal(t, base.Format(time.RFC3339), detail["cleared_decided_at"])
	assert.Equal(t, d.ID, detail["revoked_delegation_id"])
}

func TestEscalate_Manual(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, steps := f.initiate(t, change("CR-304", 5000))

	_, err := f.engine.Escalate(ctx, EscalateRequest{StepID: steps[0].ID, Target: "pm-2", Actor: "sm-1"})
	assert.ErrorIs(t, err, domainwf.ErrValidation, "reason is mandatory")

	_, err = f.engine.Escalate(ctx, EscalateRequest{StepID: steps[0].ID, Target: "pm-low", Reason: "vacation", Actor: "sm-1"})
	assert.ErrorIs(t, err, domainwf.ErrAuthority)

	esc, err := f.engine.Escalate(ctx, EscalateRequest{StepID: steps[0].ID, Target: "pm-2", Reason: "vacation", Actor: "sm-1"})
	require.NoError(t, err)
	assert.Equal(t, "pm-2", esc.EscalatedTo)

	pending, err := f.engine.PendingFor(ctx, "pm-2")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ActingEscalated, pending[0].ActingAs)

	pending, err = f.engine.PendingFor(ctx, "pm-1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestUpdateDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, steps := f.initiate(t, change("CR-305", 5000))

	_, err := f.engine.UpdateDeadline(ctx, steps[0].ID, base.Add(100*time.Hour), "  ", "sm-1")
	assert.ErrorIs(t, err, domainwf.ErrValidation)

	step, err := f.engine.UpdateDeadline(ctx, steps[0].ID, base.Add(100*time.Hour), "vendor delay", "sm-1")
	require.NoError(t, err)
	assert.Equal(t, base.Add(124*time.Hour), step.EscalateAt)

	events := f.audit.Events(entity.AuditDeadlineChange)
	require.Len(t, events, 1)
	assert.Equal(t, base.Add(72*time.Hour).Format(time.RFC3339), events[0].Before)
	assert.Equal(t, base.Add(100*time.Hour).Format(time.RFC3339), events[0].After)
	assert.Equal(t, "vendor delay", events[0].Detail["reason"])
}

func TestInitiateWorkflow_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.initiate(t, change("CR-400", 5000))

	_, err := f.engine.InitiateWorkflow(ctx, change("CR-400", 5000))
	assert.ErrorIs(t, err, domainwf.ErrValidation, "one live workflow per change")

	bad := change("CR-401", 5000)
	bad.ChangeType = "vibes"
	_, err = f.engine.InitiateWorkflow(ctx, bad)
	assert.ErrorIs(t, err, domainwf.ErrValidation)

	negative := change("CR-402", -1)
	_, err = f.engine.InitiateWorkflow(ctx, negative)
	assert.ErrorIs(t, err, domainwf.ErrValidation)
}

func TestInitiateWorkflow_EmergencyBeatsHighValue(t *testing.T) {
	f := newFixture(t)
	c := change("CR-403", 200000)
	c.Priority = entity.PriorityEmergency

	wf, steps := f.initiate(t, c)
	assert.Equal(t, entity.ArchetypeEmergency, wf.Archetype)
	require.Len(t, steps, 1)
	assert.Equal(t, "em-1", steps[0].AssignedApprover)
}

func TestStatusSinkFailureIsRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.status.FailWith(errors.New("change service down"))

	wf, err := f.engine.InitiateWorkflow(ctx, change("CR-500", 5000))
	require.NoError(t, err, "collaborator failures never fail the committed operation")
	assert.Equal(t, entity.WorkflowStatusActive, f.workflow(t, wf.ID).Status)

	failures, err := f.ports.Failures.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, entity.CollaboratorStatusSink, failures[0].Collaborator)
	assert.Equal(t, "CR-500", failures[0].EntityID)
}

func TestOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf, _ := f.initiate(t, change("CR-600", 30000))

	_, err := f.engine.Override(ctx, wf.ID, "pm-1", "duplicate request")
	assert.ErrorIs(t, err, domainwf.ErrAuthority)

	closed, err := f.engine.Override(ctx, wf.ID, "exec-1", "duplicate request")
	require.NoError(t, err)
	assert.Equal(t, entity.WorkflowStatusRejected, closed.Status)
	assert.Equal(t, []string{entity.ChangeStatusPendingApproval, entity.ChangeStatusRejected}, f.status.History("CR-600"))

	events := f.audit.Events(entity.AuditAdministrativeClose)
	require.Len(t, events, 1)
	assert.Equal(t, "duplicate request", events[0].Detail["reason"])

	_, err = f.engine.Override(ctx, wf.ID, "exec-1", "again")
	assert.ErrorIs(t, err, domainwf.ErrValidation)

	_, err = f.engine.Override(ctx, 9999, "exec-1", "missing")
	assert.ErrorIs(t, err, domainwf.ErrNotFound)
}

func TestCleanupDelegations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, steps := f.initiate(t, change("CR-700", 5000))

	_, err := f.engine.Delegate(ctx, DelegateRequest{StepID: steps[0].ID, From: "pm-1", To: "pm-2", Reason: "offsite", Duration: time.Hour})
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	n, err := f.engine.CleanupDelegations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, f.audit.Events(entity.AuditDelegationExpired), 1)

	step := f.steps(t, steps[0].WorkflowID)[0]
	assert.Equal(t, entity.DecisionDelegated, step.Decision, "cleanup never alters step decisions")
}

func TestExpiredDelegationReturnsStepToApprover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, steps := f.initiate(t, change("CR-710", 5000))

	_, err := f.engine.Delegate(ctx, DelegateRequest{StepID: steps[0].ID, From: "pm-1", To: "pm-2", Reason: "offsite", Duration: time.Hour})
	require.NoError(t, err)

	pending, err := f.engine.PendingFor(ctx, "pm-1")
	require.NoError(t, err)
	assert.Empty(t, pending, "the delegate holds the step while the delegation lasts")

	// expiry alone ends the hold, before any cleanup runs
	f.clock.Advance(2 * time.Hour)
	pending, err = f.engine.PendingFor(ctx, "pm-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ActingAssigned, pending[0].ActingAs)

	n, err := f.engine.CleanupDelegations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err = f.engine.PendingFor(ctx, "pm-2")
	require.NoError(t, err)
	assert.Empty(t, pending)

	res, err := f.engine.Decide(ctx, approve(steps[0].ID, "pm-1"))
	require.NoError(t, err)
	assert.Equal(t, entity.WorkflowStatusApproved, res.WorkflowStatus)
	assert.Equal(t, "pm-1", f.steps(t, steps[0].WorkflowID)[0].DecidedBy)
}

func TestGetWorkflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf, _ := f.initiate(t, change("CR-800", 30000))

	view, err := f.engine.GetWorkflowByChange(ctx, "CR-800")
	require.NoError(t, err)
	assert.Equal(t, wf.ID, view.Workflow.ID)
	assert.Len(t, view.Steps, 2)

	_, err = f.engine.GetWorkflow(ctx, 9999)
	assert.ErrorIs(t, err, domainwf.ErrNotFound)
	_, err = f.engine.GetWorkflowByChange(ctx, "CR-missing")
	assert.ErrorIs(t, err, domainwf.ErrNotFound)
}
