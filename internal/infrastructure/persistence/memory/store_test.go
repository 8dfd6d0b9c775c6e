package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/change-approval/internal/domain/entity"
)

func TestStore_TransactionRollsBack(t *testing.T) {
	store := New()
	ports := store.Ports()
	ctx := context.Background()

	wf := &entity.WorkflowInstance{ChangeID: "CR-1", Status: entity.WorkflowStatusActive}
	require.NoError(t, ports.Workflows.Create(ctx, wf))

	boom := errors.New("boom")
	err := ports.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		require.NoError(t, ports.Workflows.UpdateStatus(txCtx, wf.ID, entity.WorkflowStatusApproved, time.Now()))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := ports.Workflows.GetByID(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.WorkflowStatusActive, got.Status)
}

func TestStore_RollbackKeepsWritesMadeOutsideTheTransaction(t *testing.T) {
	store := New()
	ports := store.Ports()
	ctx := context.Background()

	wf := &entity.WorkflowInstance{ChangeID: "CR-1", Status: entity.WorkflowStatusActive}
	other := &entity.WorkflowInstance{ChangeID: "CR-9", Status: entity.WorkflowStatusActive}
	require.NoError(t, ports.Workflows.Create(ctx, wf))
	require.NoError(t, ports.Workflows.Create(ctx, other))

	boom := errors.New("boom")
	err := ports.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		require.NoError(t, ports.Workflows.UpdateStatus(txCtx, wf.ID, entity.WorkflowStatusApproved, time.Now()))
		require.NoError(t, ports.Escalations.Create(txCtx, &entity.Escalation{StepID: 7, EscalatedTo: "sm-1"}))

		// Written while the transaction is open but not through it
		require.NoError(t, ports.Failures.Create(ctx, &entity.CollaboratorFailure{Collaborator: "notifier", Operation: "notify"}))
		require.NoError(t, ports.Tx.WithTransaction(ctx, func(otherCtx context.Context) error {
			return ports.Workflows.UpdateStatus(otherCtx, other.ID, entity.WorkflowStatusOnHold, time.Now())
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := ports.Workflows.GetByID(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.WorkflowStatusActive, got.Status)

	escalations, err := ports.Escalations.GetByStepID(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, escalations)

	failures, err := ports.Failures.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "notifier", failures[0].Collaborator)

	committed, err := ports.Workflows.GetByID(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.WorkflowStatusOnHold, committed.Status)
}

func TestStore_RollbackUndoesInsertsAndUpdatesInOrder(t *testing.T) {
	ports := New().Ports()
	ctx := context.Background()

	require.NoError(t, ports.Backups.Upsert(ctx, &entity.BackupApprover{PrimaryID: "pm", BackupID: "b1", Role: "project_manager", Active: true}))

	var stepID int64
	err := ports.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		steps := []*entity.ApprovalStep{{WorkflowID: 1, StepNumber: 1}}
		require.NoError(t, ports.Steps.CreateBatch(txCtx, steps))
		stepID = steps[0].ID
		require.NoError(t, ports.Steps.SetEscalatedTo(txCtx, stepID, "sm-1", time.Now()))
		require.NoError(t, ports.Backups.Upsert(txCtx, &entity.BackupApprover{PrimaryID: "pm", BackupID: "b2", Role: "project_manager", Active: true}))
		require.NoError(t, ports.Backups.Deactivate(txCtx, "pm", "project_manager", time.Now()))
		return errors.New("abort")
	})
	require.Error(t, err)

	step, err := ports.Steps.GetByID(ctx, stepID)
	require.NoError(t, err)
	assert.Nil(t, step)

	backup, err := ports.Backups.Find(ctx, "pm", "project_manager")
	require.NoError(t, err)
	require.NotNil(t, backup)
	assert.Equal(t, "b1", backup.BackupID)
}

func TestStore_NestedTransactionJoinsOuter(t *testing.T) {
	store := New()
	ports := store.Ports()
	ctx := context.Background()

	err := ports.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		return ports.Tx.WithTransaction(txCtx, func(inner context.Context) error {
			return ports.Workflows.Create(inner, &entity.WorkflowInstance{ChangeID: "CR-2"})
		})
	})
	require.NoError(t, err)

	wf, err := ports.Workflows.GetByChangeID(ctx, "CR-2")
	require.NoError(t, err)
	assert.NotNil(t, wf)
}

func TestStore_ReturnsCopies(t *testing.T) {
	ports := New().Ports()
	ctx := context.Background()

	steps := []*entity.ApprovalStep{{WorkflowID: 1, StepNumber: 2}, {WorkflowID: 1, StepNumber: 1}}
	require.NoError(t, ports.Steps.CreateBatch(ctx, steps))

	got, err := ports.Steps.GetByWorkflowID(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].StepNumber, "ordered by step number")

	got[0].Decision = entity.DecisionApproved
	again, err := ports.Steps.GetByID(ctx, got[0].ID)
	require.NoError(t, err)
	assert.Empty(t, again.Decision)
}

func TestStore_ListUndecidedAndOpenForUser(t *testing.T) {
	ports := New().Ports()
	ctx := context.Background()

	active := &entity.WorkflowInstance{ChangeID: "CR-3", Status: entity.WorkflowStatusActive}
	done := &entity.WorkflowInstance{ChangeID: "CR-4", Status: entity.WorkflowStatusApproved}
	require.NoError(t, ports.Workflows.Create(ctx, active))
	require.NoError(t, ports.Workflows.Create(ctx, done))

	require.NoError(t, ports.Steps.CreateBatch(ctx, []*entity.ApprovalStep{
		{WorkflowID: active.ID, StepNumber: 1, AssignedApprover: "pm"},
		{WorkflowID: active.ID, StepNumber: 2, AssignedApprover: "sm", Decision: entity.DecisionDelegated, DelegatedTo: "deputy"},
		{WorkflowID: active.ID, StepNumber: 3, AssignedApprover: "pm", Decision: entity.DecisionApproved},
		{WorkflowID: done.ID, StepNumber: 1, AssignedApprover: "pm"},
	}))

	undecided, err := ports.Steps.ListUndecided(ctx, entity.WorkflowStatusActive)
	require.NoError(t, err)
	assert.Len(t, undecided, 2)

	open, err := ports.Steps.ListOpenForUser(ctx, "deputy")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, 2, open[0].StepNumber)

	pmOpen, err := ports.Steps.ListOpenForUser(ctx, "pm")
	require.NoError(t, err)
	assert.Len(t, pmOpen, 2, "approved steps are not open")
}

func TestStore_BackupUpsertAndExpiry(t *testing.T) {
	ports := New().Ports()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, ports.Backups.Upsert(ctx, &entity.BackupApprover{PrimaryID: "pm", BackupID: "b1", Role: "project_manager", Active: true}))
	require.NoError(t, ports.Backups.Upsert(ctx, &entity.BackupApprover{PrimaryID: "pm", BackupID: "b2", Role: "project_manager", Active: true}))

	list, err := ports.Backups.ListForRole(ctx, "project_manager")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b2", list[0].BackupID)

	past := now.Add(-time.Minute)
	require.NoError(t, ports.Delegations.Create(ctx, &entity.Delegation{Delegator: "a", Delegate: "b", Active: true, ExpiresAt: &past}))
	require.NoError(t, ports.Delegations.Create(ctx, &entity.Delegation{Delegator: "a", Delegate: "c", Active: true}))

	expired, err := ports.Delegations.ListExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "b", expired[0].Delegate)
}

func TestSinks_ReadBack(t *testing.T) {
	ctx := context.Background()

	status := NewStatusSink()
	got, err := status.GetStatus(ctx, "CR-1")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, status.SetStatus(ctx, "CR-1", entity.WorkflowStatusActive))
	require.NoError(t, status.SetStatus(ctx, "CR-2", entity.WorkflowStatusActive))
	require.NoError(t, status.SetStatus(ctx, "CR-1", entity.WorkflowStatusApproved))
	got, err = status.GetStatus(ctx, "CR-1")
	require.NoError(t, err)
	assert.Equal(t, entity.WorkflowStatusApproved, got)

	audit := NewAuditLog()
	require.NoError(t, audit.Append(ctx, &entity.AuditEvent{ID: "a", ChangeID: "CR-1", Kind: "workflow_initiated"}))
	require.NoError(t, audit.Append(ctx, &entity.AuditEvent{ID: "b", ChangeID: "CR-2", Kind: "workflow_initiated"}))
	trail, err := audit.ListByChange(ctx, "CR-1")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "a", trail[0].ID)

	dir := NewDirectory()
	assert.Error(t, dir.Upsert(ctx, &entity.UserProfile{}))
	require.NoError(t, dir.Upsert(ctx, &entity.UserProfile{UserID: "pm-1", Roles: map[string]bool{entity.RoleProjectManager: true}}))
	users, err := dir.UsersWithRole(ctx, entity.RoleProjectManager)
	require.NoError(t, err)
	assert.Equal(t, []string{"pm-1"}, users)
}
