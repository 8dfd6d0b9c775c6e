package workflow

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/change-approval/internal/domain/entity"
)

func dep(n int) *int { return &n }

func step(id int64, number int, required bool, decision string) *entity.ApprovalStep {
	return &entity.ApprovalStep{ID: id, StepNumber: number, IsRequired: required, Decision: decision}
}

func TestProgress_CompletionLaw_OptionalNeverBlocks(t *testing.T) {
	steps := []*entity.ApprovalStep{
		step(1, 1, true, entity.DecisionApproved),
		step(2, 2, true, entity.DecisionApproved),
		step(3, 3, false, ""),
	}

	assert.True(t, NewProgress(steps, nil).Complete())
}

func TestProgress_CompletionLaw_PendingRequiredBlocks(t *testing.T) {
	steps := []*entity.ApprovalStep{
		step(1, 1, true, entity.DecisionApproved),
		step(2, 2, true, entity.DecisionNeedsInfo),
	}

	p := NewProgress(steps, nil)
	assert.False(t, p.Complete())
	require.Len(t, p.PendingRequired(), 1)
	assert.Equal(t, int64(2), p.PendingRequired()[0].ID)
}

func TestProgress_IneligibleDependentExcluded(t *testing.T) {
	optional := step(1, 1, false, "")
	dependent := step(2, 2, true, "")
	dependent.DependsOnStep = dep(1)
	anchor := step(3, 3, true, entity.DecisionApproved)

	p := NewProgress([]*entity.ApprovalStep{optional, dependent, anchor}, nil)

	assert.False(t, p.Eligible(dependent))
	assert.Empty(t, p.PendingRequired())
	assert.True(t, p.Complete())
}

func TestProgress_StandardSequenceNeedsBothSteps(t *testing.T) {
	first := step(1, 1, true, entity.DecisionApproved)
	second := step(2, 2, true, "")
	second.DependsOnStep = dep(1)

	p := NewProgress([]*entity.ApprovalStep{first, second}, nil)
	assert.True(t, p.Eligible(second))
	assert.False(t, p.Complete())
}

func TestProgress_ConditionalGating(t *testing.T) {
	approved := step(7, 1, true, entity.DecisionApproved)
	reqs := []*entity.ConditionalRequirement{
		{ID: 1, StepID: 7, Sequence: 1},
		{ID: 2, StepID: 7, Sequence: 2},
	}
	byStep := map[int64][]*entity.ConditionalRequirement{7: reqs}

	assert.False(t, NewProgress([]*entity.ApprovalStep{approved}, byStep).Complete())

	reqs[0].Fulfilled = true
	p := NewProgress([]*entity.ApprovalStep{approved}, byStep)
	assert.False(t, p.Complete())
	assert.Equal(t, 1, p.UnfulfilledRequirements(7))

	reqs[1].Fulfilled = true
	assert.True(t, NewProgress([]*entity.ApprovalStep{approved}, byStep).Complete())
}

func TestProgress_GroupSatisfied(t *testing.T) {
	tests := []struct {
		name    string
		members []*entity.ApprovalStep
		want    bool
	}{
		{
			name: "all required approved",
			members: []*entity.ApprovalStep{
				step(1, 1, true, entity.DecisionApproved),
				step(2, 1, true, entity.DecisionApproved),
			},
			want: true,
		},
		{
			name: "one required pending",
			members: []*entity.ApprovalStep{
				step(1, 1, true, entity.DecisionApproved),
				step(2, 1, true, ""),
			},
			want: false,
		},
		{
			name: "optional member ignored",
			members: []*entity.ApprovalStep{
				step(1, 1, true, entity.DecisionApproved),
				step(2, 1, false, ""),
			},
			want: true,
		},
		{
			name:    "optional only group needs all members",
			members: []*entity.ApprovalStep{step(1, 1, false, "")},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewProgress(tt.members, nil).GroupSatisfied(1))
		})
	}

	assert.False(t, NewProgress(nil, nil).GroupSatisfied(4), "unknown group")
}

func TestProgress_RejectionBlocksCompletion(t *testing.T) {
	steps := []*entity.ApprovalStep{
		step(1, 1, true, entity.DecisionRejected),
		step(2, 1, false, entity.DecisionApproved),
	}
	p := NewProgress(steps, nil)
	assert.True(t, p.AnyRejected())
	assert.False(t, p.Complete())
}

func TestProgress_NewlyEligible(t *testing.T) {
	tl := step(1, 1, true, entity.DecisionApproved)
	co := step(2, 1, true, entity.DecisionApproved)
	pm := step(3, 2, true, "")
	pm.DependsOnStep = dep(1)

	p := NewProgress([]*entity.ApprovalStep{tl, co, pm}, nil)
	require.Len(t, p.NewlyEligible(), 1)
	assert.Equal(t, int64(3), p.NewlyEligible()[0].ID)
	assert.Equal(t, []int{1, 2}, p.GroupNumbers())

	announced := pm.CreatedAt
	pm.EligibleNotifiedAt = &announced
	assert.Empty(t, NewProgress([]*entity.ApprovalStep{tl, co, pm}, nil).NewlyEligible())
}

func TestParseConditions(t *testing.T) {
	got, err := ParseConditions(" provide test plan ;; sign-off from QA ; ")
	require.NoError(t, err)
	assert.Equal(t, []string{"provide test plan", "sign-off from QA"}, got)

	_, err = ParseConditions(" ; ;")
	assert.Error(t, err)

	many := ""
	for i := 0; i <= maxConditionClauses; i++ {
		many += fmt.Sprintf("item %d;", i)
	}
	_, err = ParseConditions(many)
	assert.Error(t, err)
}

func TestError_MatchesKindSentinel(t *testing.T) {
	err := fmt.Errorf("decide: %w", NewError(KindDependencyViolation, "approval_step", 42, "APPROVE", errors.New("step 1 not approved")))

	assert.True(t, errors.Is(err, ErrDependencyViolation))
	assert.False(t, errors.Is(err, ErrValidation))
	assert.Equal(t, KindDependencyViolation, KindOf(err))
	assert.Contains(t, err.Error(), "approval_step 42 (APPROVE)")
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))

	v := Validationf("workflow", "CR-1", "", "unknown change %s", "CR-1")
	assert.True(t, errors.Is(v, ErrValidation))
}
