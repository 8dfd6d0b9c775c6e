package planner

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/change-approval/internal/domain/entity"
)

func change(changeType, priority string, cost int64) entity.ChangeData {
	return entity.ChangeData{
		ChangeID:   "CR-1",
		ChangeType: changeType,
		Priority:   priority,
		CostImpact: decimal.NewFromInt(cost),
	}
}

func TestPlan_ArchetypePrecedence(t *testing.T) {
	tests := []struct {
		name   string
		change entity.ChangeData
		want   string
	}{
		{"emergency beats high value", change(entity.ChangeTypeBudget, entity.PriorityEmergency, 500000), entity.ArchetypeEmergency},
		{"high value beats regulatory", change(entity.ChangeTypeRegulatory, entity.PriorityCritical, 150000), entity.ArchetypeHighValue},
		{"regulatory beats critical", change(entity.ChangeTypeSafety, entity.PriorityCritical, 5000), entity.ArchetypeRegulatory},
		{"quality is regulatory", change(entity.ChangeTypeQuality, entity.PriorityLow, 0), entity.ArchetypeRegulatory},
		{"critical is expedited", change(entity.ChangeTypeScope, entity.PriorityCritical, 20000), entity.ArchetypeExpedited},
		{"exactly 100k is not high value", change(entity.ChangeTypeScope, entity.PriorityMedium, 100000), entity.ArchetypeStandard},
		{"default standard", change(entity.ChangeTypeSchedule, entity.PriorityHigh, 1000), entity.ArchetypeStandard},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := Plan(tt.change)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlan_Emergency(t *testing.T) {
	_, plans := Plan(change(entity.ChangeTypeTechnical, entity.PriorityEmergency, 500000))

	require.Len(t, plans, 1)
	assert.Equal(t, entity.RoleEmergencyApprover, plans[0].Role)
	assert.Equal(t, 4*time.Hour, plans[0].Deadline)
	assert.Nil(t, plans[0].DependsOnStep)
}

func TestPlan_StandardScenario(t *testing.T) {
	archetype, plans := Plan(change(entity.ChangeTypeScope, entity.PriorityMedium, 30000))

	assert.Equal(t, entity.ArchetypeStandard, archetype)
	require.Len(t, plans, 2)

	assert.Equal(t, entity.RoleProjectManager, plans[0].Role)
	assert.Equal(t, 72*time.Hour, plans[0].Deadline)

	assert.Equal(t, entity.RoleSeniorManager, plans[1].Role)
	assert.Equal(t, 72*time.Hour, plans[1].Deadline)
	require.NotNil(t, plans[1].AuthorityCeiling)
	assert.True(t, plans[1].AuthorityCeiling.Equal(decimal.NewFromInt(100000)))
	require.NotNil(t, plans[1].DependsOnStep)
	assert.Equal(t, 1, *plans[1].DependsOnStep)
}

func TestPlan_StandardBelowThreshold(t *testing.T) {
	_, plans := Plan(change(entity.ChangeTypeScope, entity.PriorityLow, 25000))
	require.Len(t, plans, 1)
	assert.Equal(t, entity.RoleProjectManager, plans[0].Role)
}

func TestPlan_Expedited(t *testing.T) {
	_, small := Plan(change(entity.ChangeTypeScope, entity.PriorityCritical, 10000))
	require.Len(t, small, 1)
	assert.Equal(t, 24*time.Hour, small[0].Deadline)

	_, large := Plan(change(entity.ChangeTypeScope, entity.PriorityCritical, 10001))
	require.Len(t, large, 2)
	assert.Equal(t, 48*time.Hour, large[1].Deadline)
	assert.True(t, large[1].AuthorityCeiling.Equal(decimal.NewFromInt(50000)))
	assert.Equal(t, 1, *large[1].DependsOnStep)
}

func TestPlan_HighValue(t *testing.T) {
	_, plans := Plan(change(entity.ChangeTypeBudget, entity.PriorityHigh, 250000))

	require.Len(t, plans, 3)
	roles := []string{plans[0].Role, plans[1].Role, plans[2].Role}
	assert.Equal(t, []string{entity.RoleProjectManager, entity.RoleSeniorManager, entity.RoleExecutive}, roles)
	assert.Equal(t, 120*time.Hour, plans[2].Deadline)
	assert.True(t, plans[2].AuthorityCeiling.Equal(decimal.NewFromInt(500000)))
	assert.Equal(t, 2, *plans[2].DependsOnStep)
}

func TestPlan_RegulatoryParallelGroup(t *testing.T) {
	_, plans := Plan(change(entity.ChangeTypeRegulatory, entity.PriorityMedium, 1000))

	require.Len(t, plans, 3)
	for _, p := range plans[:2] {
		assert.Equal(t, 1, p.StepNumber)
		assert.True(t, p.IsParallel)
		assert.Equal(t, 72*time.Hour, p.Deadline)
	}
	assert.ElementsMatch(t, []string{entity.RoleTechnicalLead, entity.RoleComplianceOfficer}, []string{plans[0].Role, plans[1].Role})

	assert.Equal(t, 2, plans[2].StepNumber)
	assert.Equal(t, 48*time.Hour, plans[2].Deadline)
	assert.Equal(t, 1, *plans[2].DependsOnStep)
}

func TestMaterialize(t *testing.T) {
	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	_, plans := Plan(change(entity.ChangeTypeScope, entity.PriorityMedium, 30000))

	steps := Materialize(5, plans, created, 0)

	require.Len(t, steps, 2)
	assert.Equal(t, int64(5), steps[0].WorkflowID)
	assert.Equal(t, created.Add(72*time.Hour), steps[0].DueAt)
	assert.Equal(t, created.Add(96*time.Hour), steps[0].EscalateAt)
	assert.Empty(t, steps[0].Decision)

	// Plans and steps do not share pointers
	*steps[1].DependsOnStep = 9
	assert.Equal(t, 1, *plans[1].DependsOnStep)
}
