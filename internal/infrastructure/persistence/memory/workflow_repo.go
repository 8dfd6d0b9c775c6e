package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/garyjia/change-approval/internal/application/port"
	"github.com/garyjia/change-approval/internal/domain/entity"
)

type workflowRepo struct{ s *Store }

func (r *workflowRepo) Create(ctx context.Context, wf *entity.WorkflowInstance) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	wf.ID = r.s.data.nextID()
	r.s.data.workflows[wf.ID] = *wf
	id := wf.ID
	r.s.journal(ctx, func(d *state) { delete(d.workflows, id) })
	return nil
}

func (r *workflowRepo) GetByID(ctx context.Context, id int64) (*entity.WorkflowInstance, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	wf, ok := r.s.data.workflows[id]
	if !ok {
		return nil, nil
	}
	return &wf, nil
}

func (r *workflowRepo) GetByChangeID(ctx context.Context, changeID string) (*entity.WorkflowInstance, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var latest *entity.WorkflowInstance
	for _, wf := range r.s.data.workflows {
		if wf.ChangeID != changeID {
			continue
		}
		if latest == nil || wf.ID > latest.ID {
			w := wf
			latest = &w
		}
	}
	return latest, nil
}

func (r *workflowRepo) UpdateStatus(ctx context.Context, id int64, status string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	wf, ok := r.s.data.workflows[id]
	if !ok {
		return fmt.Errorf("workflow %d not found", id)
	}
	prev := wf
	r.s.journal(ctx, func(d *state) { d.workflows[id] = prev })
	wf.Status = status
	wf.UpdatedAt = at
	r.s.data.workflows[id] = wf
	return nil
}

func (r *workflowRepo) ListByStatus(ctx context.Context, status string) ([]*entity.WorkflowInstance, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*entity.WorkflowInstance
	for _, wf := range r.s.data.workflows {
		if wf.Status == status {
			w := wf
			out = append(out, &w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type stepRepo struct{ s *Store }

func (r *stepRepo) CreateBatch(ctx context.Context, steps []*entity.ApprovalStep) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, st := range steps {
		st.ID = r.s.data.nextID()
		r.s.data.steps[st.ID] = *st
		id := st.ID
		r.s.journal(ctx, func(d *state) { delete(d.steps, id) })
	}
	return nil
}

func (r *stepRepo) GetByID(ctx context.Context, id int64) (*entity.ApprovalStep, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	st, ok := r.s.data.steps[id]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (r *stepRepo) GetByWorkflowID(ctx context.Context, workflowID int64) ([]*entity.ApprovalStep, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return r.filter(func(st *entity.ApprovalStep) bool { return st.WorkflowID == workflowID }), nil
}

// filter must be called with the read lock held
func (r *stepRepo) filter(keep func(*entity.ApprovalStep) bool) []*entity.ApprovalStep {
	var out []*entity.ApprovalStep
	for _, st := range r.s.data.steps {
		c := st
		if keep(&c) {
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StepNumber != out[j].StepNumber {
			return out[i].StepNumber < out[j].StepNumber
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *stepRepo) update(ctx context.Context, id int64, fn func(*entity.ApprovalStep)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	st, ok := r.s.data.steps[id]
	if !ok {
		return fmt.Errorf("approval step %d not found", id)
	}
	prev := st
	r.s.journal(ctx, func(d *state) { d.steps[id] = prev })
	fn(&st)
	r.s.data.steps[id] = st
	return nil
}

func (r *stepRepo) RecordDecision(ctx context.Context, step *entity.ApprovalStep) error {
	err := r.update(ctx, step.ID, func(st *entity.ApprovalStep) {
		st.Decision = step.Decision
		st.DecidedBy = step.DecidedBy
		st.DecidedAt = step.DecidedAt
		st.Comments = step.Comments
		st.Conditions = step.Conditions
		st.DelegatedTo = step.DelegatedTo
		st.UpdatedAt = step.UpdatedAt
	})
	if err != nil || step.Decision == "" {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	entry := entity.StepDecision{
		ID:          r.s.data.nextID(),
		StepID:      step.ID,
		Decision:    step.Decision,
		DecidedBy:   step.DecidedBy,
		Comments:    step.Comments,
		Conditions:  step.Conditions,
		DelegatedTo: step.DelegatedTo,
		DecidedAt:   step.UpdatedAt,
	}
	if step.DecidedAt != nil {
		entry.DecidedAt = *step.DecidedAt
	}
	r.s.data.decisions = append(r.s.data.decisions, entry)
	r.s.journal(ctx, func(d *state) {
		d.decisions = removeRow(d.decisions, func(row entity.StepDecision) bool { return row.ID == entry.ID })
	})
	return nil
}

func (r *stepRepo) ListDecisions(ctx context.Context, stepID int64) ([]*entity.StepDecision, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*entity.StepDecision
	for _, d := range r.s.data.decisions {
		if d.StepID == stepID {
			c := d
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *stepRepo) SetEscalatedTo(ctx context.Context, id int64, target string, at time.Time) error {
	return r.update(ctx, id, func(st *entity.ApprovalStep) {
		st.EscalatedTo = target
		st.UpdatedAt = at
	})
}

func (r *stepRepo) UpdateDeadline(ctx context.Context, id int64, dueAt, escalateAt, at time.Time) error {
	return r.update(ctx, id, func(st *entity.ApprovalStep) {
		st.DueAt = dueAt
		st.EscalateAt = escalateAt
		st.UpdatedAt = at
	})
}

func (r *stepRepo) MarkEligibleNotified(ctx context.Context, id int64, at time.Time) error {
	return r.update(ctx, id, func(st *entity.ApprovalStep) {
		st.EligibleNotifiedAt = &at
	})
}

func (r *stepRepo) ListUndecided(ctx context.Context, workflowStatus string) ([]*entity.ApprovalStep, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return r.filter(func(st *entity.ApprovalStep) bool {
		wf, ok := r.s.data.workflows[st.WorkflowID]
		return ok && wf.Status == workflowStatus && st.IsUndecided()
	}), nil
}

func (r *stepRepo) ListOpenForUser(ctx context.Context, userID string) ([]*entity.ApprovalStep, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return r.filter(func(st *entity.ApprovalStep) bool {
		if st.Decision == entity.DecisionApproved || st.Decision == entity.DecisionRejected {
			return false
		}
		return st.AssignedApprover == userID || st.EscalatedTo == userID || st.DelegatedTo == userID
	}), nil
}

var (
	_ port.WorkflowRepository = (*workflowRepo)(nil)
	_ port.StepRepository     = (*stepRepo)(nil)
)
