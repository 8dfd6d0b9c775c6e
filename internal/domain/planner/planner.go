// Package planner maps change characteristics to a workflow archetype and its step plan.
package planner

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/change-approval/internal/domain/entity"
)

var (
	highValueThreshold = decimal.NewFromInt(100000)
	expeditedThreshold = decimal.NewFromInt(10000)
	standardThreshold  = decimal.NewFromInt(25000)

	ceiling50k  = decimal.NewFromInt(50000)
	ceiling100k = decimal.NewFromInt(100000)
	ceiling500k = decimal.NewFromInt(500000)
)

// DefaultGracePeriod separates a step's due time from its escalation time
const DefaultGracePeriod = 24 * time.Hour

// StepPlan is one step of an archetype before it is bound to a workflow
type StepPlan struct {
	StepNumber       int
	Role             string
	IsRequired       bool
	IsParallel       bool
	DependsOnStep    *int
	AuthorityCeiling *decimal.Decimal
	Deadline         time.Duration
}

// Plan selects the archetype for a change and expands it into steps.
// Archetype rules are evaluated in a fixed order and the first match wins.
func Plan(change entity.ChangeData) (string, []StepPlan) {
	switch {
	case change.Priority == entity.PriorityEmergency:
		return entity.ArchetypeEmergency, emergency()
	case change.CostImpact.GreaterThan(highValueThreshold):
		return entity.ArchetypeHighValue, highValue(change.CostImpact)
	case isRegulatoryType(change.ChangeType):
		return entity.ArchetypeRegulatory, regulatory()
	case change.Priority == entity.PriorityCritical:
		return entity.ArchetypeExpedited, expedited(change.CostImpact)
	default:
		return entity.ArchetypeStandard, standard(change.CostImpact)
	}
}

func isRegulatoryType(changeType string) bool {
	switch changeType {
	case entity.ChangeTypeRegulatory, entity.ChangeTypeSafety, entity.ChangeTypeQuality:
		return true
	}
	return false
}

func emergency() []StepPlan {
	return []StepPlan{
		sequential(1, entity.RoleEmergencyApprover, 4*time.Hour, nil),
	}
}

func highValue(cost decimal.Decimal) []StepPlan {
	plans := []StepPlan{
		sequential(1, entity.RoleProjectManager, 72*time.Hour, nil),
		dependent(sequential(2, entity.RoleSeniorManager, 72*time.Hour, &ceiling100k), 1),
	}
	// executive sign-off has its own threshold check
	if cost.GreaterThan(highValueThreshold) {
		plans = append(plans, dependent(sequential(3, entity.RoleExecutive, 120*time.Hour, &ceiling500k), 2))
	}
	return plans
}

func regulatory() []StepPlan {
	tech := sequential(1, entity.RoleTechnicalLead, 72*time.Hour, nil)
	tech.IsParallel = true
	compliance := sequential(1, entity.RoleComplianceOfficer, 72*time.Hour, nil)
	compliance.IsParallel = true

	return []StepPlan{
		tech,
		compliance,
		dependent(sequential(2, entity.RoleProjectManager, 48*time.Hour, nil), 1),
	}
}

func expedited(cost decimal.Decimal) []StepPlan {
	plans := []StepPlan{sequential(1, entity.RoleProjectManager, 24*time.Hour, nil)}
	if cost.GreaterThan(expeditedThreshold) {
		plans = append(plans, dependent(sequential(2, entity.RoleSeniorManager, 48*time.Hour, &ceiling50k), 1))
	}
	return plans
}

func standard(cost decimal.Decimal) []StepPlan {
	plans := []StepPlan{sequential(1, entity.RoleProjectManager, 72*time.Hour, nil)}
	if cost.GreaterThan(standardThreshold) {
		plans = append(plans, dependent(sequential(2, entity.RoleSeniorManager, 72*time.Hour, &ceiling100k), 1))
	}
	return plans
}

func sequential(number int, role string, deadline time.Duration, ceiling *decimal.Decimal) StepPlan {
	p := StepPlan{
		StepNumber: number,
		Role:       role,
		IsRequired: true,
		Deadline:   deadline,
	}
	if ceiling != nil {
		c := *ceiling
		p.AuthorityCeiling = &c
	}
	return p
}

func dependent(p StepPlan, on int) StepPlan {
	p.DependsOnStep = &on
	return p
}

// Materialize binds plans to a workflow, computing due and escalation times from createdAt.
// Approvers are resolved by the caller.
func Materialize(workflowID int64, plans []StepPlan, createdAt time.Time, grace time.Duration) []*entity.ApprovalStep {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	steps := make([]*entity.ApprovalStep, 0, len(plans))
	for _, p := range plans {
		due := createdAt.Add(p.Deadline)
		s := &entity.ApprovalStep{
			WorkflowID:   workflowID,
			StepNumber:   p.StepNumber,
			RequiredRole: p.Role,
			IsRequired:   p.IsRequired,
			IsParallel:   p.IsParallel,
			DueAt:        due,
			EscalateAt:   due.Add(grace),
			CreatedAt:    createdAt,
			UpdatedAt:    createdAt,
		}
		if p.DependsOnStep != nil {
			d := *p.DependsOnStep
			s.DependsOnStep = &d
		}
		if p.AuthorityCeiling != nil {
			c := *p.AuthorityCeiling
			s.AuthorityCeiling = &c
		}
		steps = append(steps, s)
	}
	return steps
}
