package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/garyjia/change-approval/internal/application/port"
	"github.com/garyjia/change-approval/internal/domain/entity"
)

type requirementRepo struct{ s *Store }

func (r *requirementRepo) CreateBatch(ctx context.Context, reqs []*entity.ConditionalRequirement) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, req := range reqs {
		req.ID = r.s.data.nextID()
		r.s.data.requirements[req.ID] = *req
		id := req.ID
		r.s.journal(ctx, func(d *state) { delete(d.requirements, id) })
	}
	return nil
}

func (r *requirementRepo) GetByID(ctx context.Context, id int64) (*entity.ConditionalRequirement, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	req, ok := r.s.data.requirements[id]
	if !ok {
		return nil, nil
	}
	return &req, nil
}

func (r *requirementRepo) GetByStepID(ctx context.Context, stepID int64) ([]*entity.ConditionalRequirement, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return r.filter(func(req *entity.ConditionalRequirement) bool { return req.StepID == stepID }), nil
}

func (r *requirementRepo) GetByWorkflowID(ctx context.Context, workflowID int64) ([]*entity.ConditionalRequirement, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return r.filter(func(req *entity.ConditionalRequirement) bool {
		st, ok := r.s.data.steps[req.StepID]
		return ok && st.WorkflowID == workflowID
	}), nil
}

func (r *requirementRepo) filter(keep func(*entity.ConditionalRequirement) bool) []*entity.ConditionalRequirement {
	var out []*entity.ConditionalRequirement
	for _, req := range r.s.data.requirements {
		c := req
		if keep(&c) {
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StepID != out[j].StepID {
			return out[i].StepID < out[j].StepID
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out
}

func (r *requirementRepo) MarkFulfilled(ctx context.Context, id int64, fulfilledBy, evidence string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	req, ok := r.s.data.requirements[id]
	if !ok {
		return fmt.Errorf("requirement %d not found", id)
	}
	prev := req
	r.s.journal(ctx, func(d *state) { d.requirements[id] = prev })
	req.Fulfilled = true
	req.FulfilledBy = fulfilledBy
	req.FulfilledAt = &at
	req.Evidence = evidence
	r.s.data.requirements[id] = req
	return nil
}

type delegationRepo struct{ s *Store }

func (r *delegationRepo) Create(ctx context.Context, d *entity.Delegation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d.ID = r.s.data.nextID()
	r.s.data.delegations[d.ID] = *d
	id := d.ID
	r.s.journal(ctx, func(st *state) { delete(st.delegations, id) })
	return nil
}

func (r *delegationRepo) GetActiveForStep(ctx context.Context, stepID int64) (*entity.Delegation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var latest *entity.Delegation
	for _, d := range r.s.data.delegations {
		if d.StepID == stepID && d.Active && (latest == nil || d.ID > latest.ID) {
			c := d
			latest = &c
		}
	}
	return latest, nil
}

func (r *delegationRepo) ListForStep(ctx context.Context, stepID int64) ([]*entity.Delegation, error) {
	return r.list(func(d *entity.Delegation) bool { return d.StepID == stepID }), nil
}

func (r *delegationRepo) ListActiveByDelegate(ctx context.Context, delegate string) ([]*entity.Delegation, error) {
	return r.list(func(d *entity.Delegation) bool { return d.Active && d.Delegate == delegate }), nil
}

func (r *delegationRepo) ListExpired(ctx context.Context, now time.Time) ([]*entity.Delegation, error) {
	return r.list(func(d *entity.Delegation) bool {
		return d.Active && d.ExpiresAt != nil && d.ExpiresAt.Before(now)
	}), nil
}

func (r *delegationRepo) list(keep func(*entity.Delegation) bool) []*entity.Delegation {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*entity.Delegation
	for _, d := range r.s.data.delegations {
		c := d
		if keep(&c) {
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *delegationRepo) Deactivate(ctx context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.s.data.delegations[id]
	if !ok {
		return fmt.Errorf("delegation %d not found", id)
	}
	prev := d
	r.s.journal(ctx, func(st *state) { st.delegations[id] = prev })
	d.Active = false
	r.s.data.delegations[id] = d
	return nil
}

type backupRepo struct{ s *Store }

func (r *backupRepo) Upsert(ctx context.Context, b *entity.BackupApprover) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for id, existing := range r.s.data.backups {
		if existing.PrimaryID == b.PrimaryID && existing.Role == b.Role {
			prev := existing
			r.s.journal(ctx, func(d *state) { d.backups[prev.ID] = prev })
			b.ID = id
			b.CreatedAt = existing.CreatedAt
			r.s.data.backups[id] = *b
			return nil
		}
	}
	b.ID = r.s.data.nextID()
	r.s.data.backups[b.ID] = *b
	id := b.ID
	r.s.journal(ctx, func(d *state) { delete(d.backups, id) })
	return nil
}

func (r *backupRepo) Deactivate(ctx context.Context, primaryID, role string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for id, b := range r.s.data.backups {
		if b.PrimaryID == primaryID && b.Role == role {
			prev := b
			r.s.journal(ctx, func(d *state) { d.backups[prev.ID] = prev })
			b.Active = false
			b.UpdatedAt = at
			r.s.data.backups[id] = b
		}
	}
	return nil
}

func (r *backupRepo) Find(ctx context.Context, primaryID, role string) (*entity.BackupApprover, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, b := range r.s.data.backups {
		if b.Active && b.PrimaryID == primaryID && b.Role == role {
			c := b
			return &c, nil
		}
	}
	return nil, nil
}

func (r *backupRepo) ListForRole(ctx context.Context, role string) ([]*entity.BackupApprover, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*entity.BackupApprover
	for _, b := range r.s.data.backups {
		if b.Active && b.Role == role {
			c := b
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type escalationRepo struct{ s *Store }

func (r *escalationRepo) Create(ctx context.Context, e *entity.Escalation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e.ID = r.s.data.nextID()
	r.s.data.escalations = append(r.s.data.escalations, *e)
	id := e.ID
	r.s.journal(ctx, func(d *state) {
		d.escalations = removeRow(d.escalations, func(row entity.Escalation) bool { return row.ID == id })
	})
	return nil
}

func (r *escalationRepo) GetByStepID(ctx context.Context, stepID int64) ([]*entity.Escalation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*entity.Escalation
	for _, e := range r.s.data.escalations {
		if e.StepID == stepID {
			c := e
			out = append(out, &c)
		}
	}
	return out, nil
}

type reminderRepo struct{ s *Store }

func (r *reminderRepo) Create(ctx context.Context, rem *entity.Reminder) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rem.ID = r.s.data.nextID()
	r.s.data.reminders = append(r.s.data.reminders, *rem)
	id := rem.ID
	r.s.journal(ctx, func(d *state) {
		d.reminders = removeRow(d.reminders, func(row entity.Reminder) bool { return row.ID == id })
	})
	return nil
}

func (r *reminderRepo) LastForStep(ctx context.Context, stepID int64) (*entity.Reminder, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var last *entity.Reminder
	for _, rem := range r.s.data.reminders {
		if rem.StepID == stepID && (last == nil || rem.SentAt.After(last.SentAt)) {
			c := rem
			last = &c
		}
	}
	return last, nil
}

type failureRepo struct{ s *Store }

func (r *failureRepo) Create(ctx context.Context, f *entity.CollaboratorFailure) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	f.ID = r.s.data.nextID()
	r.s.data.failures = append(r.s.data.failures, *f)
	id := f.ID
	r.s.journal(ctx, func(d *state) {
		d.failures = removeRow(d.failures, func(row entity.CollaboratorFailure) bool { return row.ID == id })
	})
	return nil
}

// List returns the most recent failures first
func (r *failureRepo) List(ctx context.Context, limit int) ([]*entity.CollaboratorFailure, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*entity.CollaboratorFailure
	for i := len(r.s.data.failures) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		c := r.s.data.failures[i]
		out = append(out, &c)
	}
	return out, nil
}

var (
	_ port.RequirementRepository    = (*requirementRepo)(nil)
	_ port.DelegationRepository     = (*delegationRepo)(nil)
	_ port.BackupApproverRepository = (*backupRepo)(nil)
	_ port.EscalationRepository     = (*escalationRepo)(nil)
	_ port.ReminderRepository       = (*reminderRepo)(nil)
	_ port.FailureRepository        = (*failureRepo)(nil)
)
