package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/garyjia/change-approval/internal/application/dispatcher"
	"github.com/garyjia/change-approval/internal/application/port"
	"github.com/garyjia/change-approval/internal/application/workflow"
	"github.com/garyjia/change-approval/internal/infrastructure/metrics"
	"github.com/garyjia/change-approval/internal/infrastructure/worker"
)

// Container manages all application dependencies and lifecycle.
// Initialization is ordered and teardown runs in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Observability
	metrics *metrics.Recorder

	// Infrastructure
	data     *DataBundle
	notifier *NotifierBundle

	// Application
	dispatcher dispatcher.Dispatcher
	engine     workflow.Engine

	// Workers
	workers *worker.WorkerManager

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
	Workers    []worker.Status            `json:"workers,omitempty"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components and begins processing.
// Components are initialized in dependency order:
// 1. Metrics
// 2. Database and repositories
// 3. Notification sink
// 4. Event dispatcher and workflow engine
// 5. Workers
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}

	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	c.metrics = ProvideMetrics()

	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized", zap.String("driver", c.config.Database.Driver))

	if err := c.initNotifier(); err != nil {
		_ = c.teardown()
		return fmt.Errorf("failed to initialize notifier: %w", err)
	}
	c.logger.Info("Notifier initialized", zap.Bool("lark", c.config.Lark.Enabled))

	if err := c.initDispatcherAndEngine(); err != nil {
		_ = c.teardown()
		return fmt.Errorf("failed to initialize dispatcher and engine: %w", err)
	}
	c.logger.Info("Dispatcher and workflow engine initialized")

	if err := c.initWorkers(); err != nil {
		_ = c.teardown()
		return fmt.Errorf("failed to initialize workers: %w", err)
	}
	c.logger.Info("Workers initialized and started")

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	err := c.teardown()

	c.closed.Store(true)
	c.ready.Store(false)

	if err != nil {
		c.logger.Error("Container closed with errors",
			zap.Int("error_count", len(multierr.Errors(err))),
			zap.Error(err))
		return fmt.Errorf("container closed with errors: %w", err)
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// teardown releases whatever has been initialized. Callers hold mu.
func (c *Container) teardown() error {
	var err error

	if c.cancel != nil {
		c.cancel()
	}

	// Workers first so no sweep is mid-flight when the dispatcher drains
	if c.workers != nil {
		if stopErr := c.workers.StopAll(); stopErr != nil {
			c.logger.Error("Failed to stop workers", zap.Error(stopErr))
			err = multierr.Append(err, fmt.Errorf("stop workers: %w", stopErr))
		} else {
			c.logger.Info("Workers stopped")
		}
		c.workers = nil
	}

	// Waits for in-flight async deliveries
	if c.dispatcher != nil {
		if closeErr := c.dispatcher.Close(); closeErr != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(closeErr))
			err = multierr.Append(err, fmt.Errorf("close dispatcher: %w", closeErr))
		} else {
			c.logger.Info("Dispatcher closed")
		}
		c.dispatcher = nil
	}

	if c.data != nil && c.data.DB != nil {
		if closeErr := c.data.DB.Close(); closeErr != nil {
			c.logger.Error("Failed to close database", zap.Error(closeErr))
			err = multierr.Append(err, fmt.Errorf("close database: %w", closeErr))
		} else {
			c.logger.Info("Database closed")
		}
		c.data.DB = nil
	}

	return err
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health() *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, h ComponentHealth) {
		status.Components[name] = h
		if !h.Healthy {
			status.Overall = false
		}
	}
	missing := ComponentHealth{Healthy: false, Message: "not initialized"}

	switch {
	case c.data == nil:
		set("database", missing)
	case c.config.Database.Driver == DriverMemory:
		set("database", ComponentHealth{Healthy: true, Message: "in-memory"})
	case c.data.DB == nil:
		set("database", ComponentHealth{Healthy: false, Message: "closed"})
	default:
		if err := c.data.DB.Ping(); err != nil {
			set("database", ComponentHealth{Healthy: false, Message: fmt.Sprintf("ping failed: %v", err)})
		} else {
			set("database", ComponentHealth{Healthy: true})
		}
	}

	// An open breaker degrades delivery but the engine keeps working
	if c.notifier != nil {
		set("notifier", ComponentHealth{
			Healthy: true,
			Message: "breaker " + c.notifier.Breaker.State().String(),
		})
	} else {
		set("notifier", missing)
	}

	if c.dispatcher != nil {
		set("dispatcher", ComponentHealth{Healthy: true})
	} else {
		set("dispatcher", missing)
	}

	if c.workers != nil {
		set("workers", ComponentHealth{
			Healthy: c.workers.IsRunning(),
			Message: fmt.Sprintf("worker count: %d", c.workers.GetWorkerCount()),
		})
		status.Workers = c.workers.Statuses()
	} else {
		set("workers", missing)
	}

	return status
}

// initDatabase opens the configured store.
func (c *Container) initDatabase() error {
	data, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.data = data
	return nil
}

// initNotifier builds the notification sink and its breaker.
func (c *Container) initNotifier() error {
	bundle, err := ProvideNotifier(&c.config.Lark, &c.config.Notification, c.metrics, c.logger)
	if err != nil {
		return err
	}
	c.notifier = bundle
	return nil
}

// initDispatcherAndEngine initializes the event dispatcher and workflow engine.
func (c *Container) initDispatcherAndEngine() error {
	disp, err := ProvideDispatcher(c.logger)
	if err != nil {
		return err
	}
	c.dispatcher = disp

	engine, err := ProvideWorkflowEngine(&EngineDeps{
		Data:       c.data,
		Notifier:   c.notifier.Sink,
		Dispatcher: c.dispatcher,
		Metrics:    c.metrics,
		Config:     &c.config.Engine,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.engine = engine
	return nil
}

// initWorkers initializes and starts the sweep workers.
func (c *Container) initWorkers() error {
	workers, err := ProvideWorkers(c.engine, &c.config.Engine, c.logger)
	if err != nil {
		return err
	}
	c.workers = workers

	if err := c.workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	return nil
}

// Getters for accessing container components

// Engine returns the workflow engine.
func (c *Container) Engine() workflow.Engine {
	return c.engine
}

// Directory returns the user directory.
func (c *Container) Directory() DirectoryStore {
	return c.data.Directory
}

// AuditTrail returns the audit store.
func (c *Container) AuditTrail() AuditStore {
	return c.data.Audit
}

// ChangeStatus returns the change status store.
func (c *Container) ChangeStatus() StatusStore {
	return c.data.Status
}

// Failures returns the collaborator failure log.
func (c *Container) Failures() port.FailureRepository {
	return c.data.Store.Failures
}

// Metrics returns the metrics recorder.
func (c *Container) Metrics() *metrics.Recorder {
	return c.metrics
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}

// KVLogger is the key-value logger shape shared by the application packages
type KVLogger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// AdapterLogger returns the container logger in key-value form for adapters.
func (c *Container) AdapterLogger() KVLogger {
	return &zapLoggerAdapter{logger: c.logger}
}

// zapLoggerAdapter adapts zap.Logger to the key-value Logger interfaces
// of the application packages.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, isErr := keysAndValues[i+1].(error); isErr {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
