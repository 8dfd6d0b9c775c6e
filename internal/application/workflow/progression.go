package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/garyjia/change-approval/internal/domain/entity"
)

// Sweep names
const (
	SweepProgression = "progression"
	SweepDeadline    = "deadline"
)

// sweepCollector accumulates per-item outcomes from concurrent sweep workers
type sweepCollector struct {
	mu     sync.Mutex
	report SweepReport
}

func (c *sweepCollector) record(fn func(r *SweepReport)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.report)
}

func (c *sweepCollector) fail(err error) {
	c.record(func(r *SweepReport) {
		r.Failed++
		r.Err = multierr.Append(r.Err, err)
	})
}

// RunProgressionSweep walks every active workflow, announces steps whose
// dependency group just completed and approves workflows that satisfy the
// completion law. A failing workflow does not stop the pass.
func (e *engineImpl) RunProgressionSweep(ctx context.Context) (*SweepReport, error) {
	start := time.Now()

	workflows, err := e.store.Workflows.ListByStatus(ctx, entity.WorkflowStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active workflows: %w", err)
	}

	c := &sweepCollector{report: SweepReport{Sweep: SweepProgression}}
	g := new(errgroup.Group)
	g.SetLimit(e.config.SweepConcurrency)

	for _, wf := range workflows {
		if ctx.Err() != nil {
			c.fail(ctx.Err())
			break
		}
		g.Go(func() error {
			announced, completed, err := e.progressWorkflow(ctx, wf)
			if err != nil {
				e.logError("Progression failed", "workflow_id", wf.ID, "change_id", wf.ChangeID, "error", err)
				c.fail(fmt.Errorf("workflow %d: %w", wf.ID, err))
				return nil
			}
			c.record(func(r *SweepReport) {
				r.Processed++
				r.Eligible += announced
				if completed {
					r.Completed++
				}
			})
			return nil
		})
	}
	_ = g.Wait()

	return e.finishSweep(c, start)
}

func (e *engineImpl) progressWorkflow(ctx context.Context, candidate *entity.WorkflowInstance) (int, bool, error) {
	var (
		announced int
		completed bool
	)
	err := e.mutate(ctx, candidate.ChangeID, func(ctx context.Context, ob *outbox) error {
		wf, err := e.loadWorkflow(ctx, candidate.ID)
		if err != nil {
			return err
		}
		// decided while we waited for the lock
		if wf.Status != entity.WorkflowStatusActive {
			return nil
		}

		steps, changed, err := e.advance(ctx, ob, wf, "system")
		announced = len(steps)
		completed = changed && wf.Status == entity.WorkflowStatusApproved
		return err
	})
	return announced, completed, err
}

func (e *engineImpl) finishSweep(c *sweepCollector, start time.Time) (*SweepReport, error) {
	c.mu.Lock()
	report := c.report
	c.mu.Unlock()

	report.Duration = time.Since(start)
	e.metrics.SweepCompleted(report.Sweep, report.Processed, report.Failed, report.Duration)
	e.logInfo("Sweep finished",
		"sweep", report.Sweep,
		"processed", report.Processed,
		"completed", report.Completed,
		"eligible", report.Eligible,
		"reminded", report.Reminded,
		"escalated", report.Escalated,
		"unescalated", report.Unescalated,
		"failed", report.Failed,
		"duration", report.Duration,
	)
	return &report, report.Err
}
