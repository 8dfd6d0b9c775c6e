package container

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/change-approval/internal/application/workflow"
	"github.com/garyjia/change-approval/internal/domain/entity"
	"github.com/garyjia/change-approval/internal/infrastructure/worker"
)

func testConfig(t *testing.T, driver string) *Config {
	cfg := DefaultConfig()
	cfg.Database.Driver = driver
	cfg.Database.Path = filepath.Join(t.TempDir(), "approval.db")
	// keep the sweeps out of the way
	cfg.Engine.ProgressionInterval = time.Hour
	cfg.Engine.DeadlineInterval = time.Hour
	cfg.Engine.DelegationCleanupInterval = time.Hour
	return cfg
}

func TestContainer_Lifecycle(t *testing.T) {
	for _, driver := range []string{DriverMemory, DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			c, err := NewContainer(testConfig(t, driver), zap.NewNop())
			require.NoError(t, err)

			ctx := context.Background()
			require.NoError(t, c.Start(ctx))
			assert.True(t, c.Ready())
			assert.Error(t, c.Start(ctx), "second start")

			require.NoError(t, c.Directory().Upsert(ctx, &entity.UserProfile{
				UserID: "pm-1",
				Roles:  map[string]bool{entity.RoleProjectManager: true},
				Limits: map[string]decimal.Decimal{entity.RoleProjectManager: decimal.NewFromInt(50000)},
			}))

			wf, err := c.Engine().InitiateWorkflow(ctx, entity.ChangeData{
				ChangeID:       "CR-1",
				ChangeType:     entity.ChangeTypeBudget,
				Priority:       entity.PriorityMedium,
				CostImpact:     decimal.NewFromInt(5000),
				RequesterID:    "req-1",
				ProjectOwnerID: "pm-1",
			})
			require.NoError(t, err)

			view, err := c.Engine().GetWorkflow(ctx, wf.ID)
			require.NoError(t, err)
			require.Len(t, view.Steps, 1)

			res, err := c.Engine().Decide(ctx, workflow.DecideRequest{
				StepID:   view.Steps[0].ID,
				Actor:    "pm-1",
				Decision: entity.DecisionApproved,
			})
			require.NoError(t, err)
			assert.Equal(t, entity.WorkflowStatusApproved, res.WorkflowStatus)

			status, err := c.ChangeStatus().GetStatus(ctx, "CR-1")
			require.NoError(t, err)
			assert.Equal(t, entity.ChangeStatusApproved, status)

			// audit delivery is asynchronous
			require.Eventually(t, func() bool {
				trail, err := c.AuditTrail().ListByChange(ctx, "CR-1")
				return err == nil && len(trail) >= 2
			}, 2*time.Second, 10*time.Millisecond)

			health := c.Health()
			assert.True(t, health.Overall, "%+v", health.Components)
			assert.Equal(t, "breaker closed", health.Components["notifier"].Message)
			require.Len(t, health.Workers, 3)
			names := []string{health.Workers[0].Name, health.Workers[1].Name, health.Workers[2].Name}
			assert.ElementsMatch(t, []string{
				worker.ProgressionWorkerName,
				worker.DeadlineWorkerName,
				worker.DelegationCleanupWorkerName,
			}, names)

			require.NoError(t, c.Close())
			assert.False(t, c.Ready())
			assert.Error(t, c.Close(), "second close")
			assert.Error(t, c.Start(ctx), "start after close")
			assert.False(t, c.Health().Overall)
		})
	}
}

func TestNewContainer_RejectsInvalidConfig(t *testing.T) {
	_, err := NewContainer(nil, zap.NewNop())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Database.Driver = "postgres"
	_, err = NewContainer(cfg, zap.NewNop())
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Lark.Enabled = true
	_, err = NewContainer(cfg, zap.NewNop())
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Engine.DeadlineInterval = 0
	_, err = NewContainer(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestConvertToZapFields(t *testing.T) {
	fields := convertToZapFields("step_id", int64(7), 42, "skipped", "error", assert.AnError, "dangling")
	require.Len(t, fields, 2)
	assert.Equal(t, "step_id", fields[0].Key)
	assert.Equal(t, "error", fields[1].Key)
}
