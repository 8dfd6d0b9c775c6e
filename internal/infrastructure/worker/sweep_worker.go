package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/change-approval/internal/application/workflow"
)

// Worker names
const (
	ProgressionWorkerName       = "ProgressionWorker"
	DeadlineWorkerName          = "DeadlineWorker"
	DelegationCleanupWorkerName = "DelegationCleanupWorker"
)

// Status is a snapshot of a ticker worker's state
type Status struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	Interval  string    `json:"interval"`
	Runs      int       `json:"runs"`
	Failures  int       `json:"failures"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// TickerWorker runs a task on a fixed interval until stopped. Runs never overlap.
type TickerWorker struct {
	name     string
	interval time.Duration
	task     func(ctx context.Context) error
	logger   *zap.Logger

	mu        sync.RWMutex
	cancel    context.CancelFunc
	done      chan struct{}
	isRunning bool
	runs      int
	failures  int
	lastRun   time.Time
	lastError error
}

// NewTickerWorker creates a worker running task every interval
func NewTickerWorker(name string, interval time.Duration, task func(ctx context.Context) error, logger *zap.Logger) *TickerWorker {
	return &TickerWorker{
		name:     name,
		interval: interval,
		task:     task,
		logger:   logger,
	}
}

// NewProgressionWorker periodically announces eligible steps and completes finished workflows
func NewProgressionWorker(engine workflow.Engine, interval time.Duration, logger *zap.Logger) *TickerWorker {
	return NewTickerWorker(ProgressionWorkerName, interval, func(ctx context.Context) error {
		_, err := engine.RunProgressionSweep(ctx)
		return err
	}, logger)
}

// NewDeadlineWorker periodically sends reminders and escalates overdue steps
func NewDeadlineWorker(engine workflow.Engine, interval time.Duration, logger *zap.Logger) *TickerWorker {
	return NewTickerWorker(DeadlineWorkerName, interval, func(ctx context.Context) error {
		_, err := engine.RunDeadlineSweep(ctx)
		return err
	}, logger)
}

// NewDelegationCleanupWorker periodically deactivates expired delegations
func NewDelegationCleanupWorker(engine workflow.Engine, interval time.Duration, logger *zap.Logger) *TickerWorker {
	return NewTickerWorker(DelegationCleanupWorkerName, interval, func(ctx context.Context) error {
		n, err := engine.CleanupDelegations(ctx)
		if n > 0 {
			logger.Info("Expired delegations deactivated", zap.Int("count", n))
		}
		return err
	}, logger)
}

// Start begins the ticker loop
func (w *TickerWorker) Start(ctx context.Context) error {
	if w.interval <= 0 {
		return fmt.Errorf("%s: interval must be positive", w.name)
	}

	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return fmt.Errorf("%s already running", w.name)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.isRunning = true
	done := w.done
	w.mu.Unlock()

	w.logger.Info("Worker loop started",
		zap.String("worker_name", w.name),
		zap.Duration("interval", w.interval))

	go w.loop(loopCtx, done)
	return nil
}

// Stop cancels the loop and waits for an in-flight run to finish
func (w *TickerWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	w.mu.RLock()
	defer w.mu.RUnlock()
	w.logger.Info("Worker loop stopped",
		zap.String("worker_name", w.name),
		zap.Int("runs", w.runs),
		zap.Int("failures", w.failures))
	return nil
}

// Name returns the worker name for identification
func (w *TickerWorker) Name() string {
	return w.name
}

// Status returns a snapshot of the worker state
func (w *TickerWorker) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s := Status{
		Name:     w.name,
		Running:  w.isRunning,
		Interval: w.interval.String(),
		Runs:     w.runs,
		Failures: w.failures,
		LastRun:  w.lastRun,
	}
	if w.lastError != nil {
		s.LastError = w.lastError.Error()
	}
	return s
}

func (w *TickerWorker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *TickerWorker) runOnce(ctx context.Context) {
	err := w.task(ctx)

	w.mu.Lock()
	w.runs++
	w.lastRun = time.Now()
	w.lastError = err
	if err != nil {
		w.failures++
	}
	w.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		w.logger.Error("Worker run failed", zap.String("worker_name", w.name), zap.Error(err))
	}
}
