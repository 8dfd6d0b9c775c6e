package workflow

import (
	"sort"

	"github.com/garyjia/change-approval/internal/domain/entity"
)

// Progress evaluates completion, group satisfaction and eligibility over one
// workflow's steps. It is a read-only snapshot; build a new one after mutating steps.
type Progress struct {
	steps        []*entity.ApprovalStep
	groups       map[int][]*entity.ApprovalStep
	requirements map[int64][]*entity.ConditionalRequirement
}

// NewProgress indexes steps by step number. requirements is keyed by step id and may be nil.
func NewProgress(steps []*entity.ApprovalStep, requirements map[int64][]*entity.ConditionalRequirement) *Progress {
	groups := make(map[int][]*entity.ApprovalStep)
	for _, s := range steps {
		groups[s.StepNumber] = append(groups[s.StepNumber], s)
	}
	if requirements == nil {
		requirements = map[int64][]*entity.ConditionalRequirement{}
	}
	return &Progress{steps: steps, groups: groups, requirements: requirements}
}

// Settled reports whether the step is approved and all of its conditions are fulfilled
func (p *Progress) Settled(step *entity.ApprovalStep) bool {
	if step.Decision != entity.DecisionApproved {
		return false
	}
	for _, r := range p.requirements[step.ID] {
		if !r.Fulfilled {
			return false
		}
	}
	return true
}

// UnfulfilledRequirements counts open conditions on an approved step
func (p *Progress) UnfulfilledRequirements(stepID int64) int {
	n := 0
	for _, r := range p.requirements[stepID] {
		if !r.Fulfilled {
			n++
		}
	}
	return n
}

// GroupSatisfied reports whether every required member of the group is settled.
// A group without required members needs all of its members settled; an unknown
// group is never satisfied.
func (p *Progress) GroupSatisfied(number int) bool {
	members, ok := p.groups[number]
	if !ok || len(members) == 0 {
		return false
	}

	hasRequired := false
	for _, s := range members {
		if s.IsRequired {
			hasRequired = true
			break
		}
	}

	for _, s := range members {
		if (s.IsRequired || !hasRequired) && !p.Settled(s) {
			return false
		}
	}
	return true
}

// Eligible reports whether the step may be decided: it has no dependency or its
// dependency group is satisfied.
func (p *Progress) Eligible(step *entity.ApprovalStep) bool {
	if step.DependsOnStep == nil {
		return true
	}
	return p.GroupSatisfied(*step.DependsOnStep)
}

// PendingRequired returns required, eligible steps that are not yet settled.
// Required steps still waiting on their dependency are left out.
func (p *Progress) PendingRequired() []*entity.ApprovalStep {
	var pending []*entity.ApprovalStep
	for _, s := range p.steps {
		if !s.IsRequired || !p.Eligible(s) {
			continue
		}
		if !p.Settled(s) {
			pending = append(pending, s)
		}
	}
	return pending
}

// Complete reports whether the workflow satisfies the completion law
func (p *Progress) Complete() bool {
	if p.AnyRejected() {
		return false
	}
	return len(p.PendingRequired()) == 0
}

// AnyRejected reports whether a required step has been rejected
func (p *Progress) AnyRejected() bool {
	for _, s := range p.steps {
		if s.IsRequired && s.Decision == entity.DecisionRejected {
			return true
		}
	}
	return false
}

// GroupNumbers returns the distinct step numbers in ascending order
func (p *Progress) GroupNumbers() []int {
	numbers := make([]int, 0, len(p.groups))
	for n := range p.groups {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	return numbers
}

// Dependents returns the steps that wait on the given group
func (p *Progress) Dependents(number int) []*entity.ApprovalStep {
	var out []*entity.ApprovalStep
	for _, s := range p.steps {
		if s.DependsOnStep != nil && *s.DependsOnStep == number {
			out = append(out, s)
		}
	}
	return out
}

// NewlyEligible returns undecided dependents of satisfied groups that have not yet
// been announced.
func (p *Progress) NewlyEligible() []*entity.ApprovalStep {
	var out []*entity.ApprovalStep
	for _, n := range p.GroupNumbers() {
		if !p.GroupSatisfied(n) {
			continue
		}
		for _, s := range p.Dependents(n) {
			if s.EligibleNotifiedAt == nil && s.Decision == "" {
				out = append(out, s)
			}
		}
	}
	return out
}
