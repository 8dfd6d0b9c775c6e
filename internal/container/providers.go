package container

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/garyjia/change-approval/internal/application/authority"
	"github.com/garyjia/change-approval/internal/application/delegation"
	"github.com/garyjia/change-approval/internal/application/dispatcher"
	"github.com/garyjia/change-approval/internal/application/port"
	"github.com/garyjia/change-approval/internal/application/workflow"
	"github.com/garyjia/change-approval/internal/domain/entity"
	infraLark "github.com/garyjia/change-approval/internal/infrastructure/external/lark"
	"github.com/garyjia/change-approval/internal/infrastructure/metrics"
	"github.com/garyjia/change-approval/internal/infrastructure/notification"
	"github.com/garyjia/change-approval/internal/infrastructure/persistence/memory"
	"github.com/garyjia/change-approval/internal/infrastructure/persistence/repository"
	"github.com/garyjia/change-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/change-approval/internal/infrastructure/worker"
	"github.com/garyjia/change-approval/pkg/database"
)

// DirectoryStore is a directory that also accepts profile updates.
type DirectoryStore interface {
	port.Directory
	Upsert(ctx context.Context, p *entity.UserProfile) error
}

// AuditStore is an audit sink that can read back a change's trail.
type AuditStore interface {
	port.AuditSink
	ListByChange(ctx context.Context, changeID string) ([]*entity.AuditEvent, error)
}

// StatusStore is a status sink that can report the current status.
type StatusStore interface {
	port.ChangeStatusSink
	GetStatus(ctx context.Context, changeID string) (string, error)
}

// DataBundle holds the storage-backed components of either driver.
type DataBundle struct {
	// DB is nil for the memory driver
	DB        *database.DB
	Store     port.Store
	Directory DirectoryStore
	Audit     AuditStore
	Status    StatusStore
}

// NotifierBundle holds the notification sink and its circuit breaker.
type NotifierBundle struct {
	// Client is nil when Lark is disabled
	Client  *infraLark.SDKClient
	Breaker *notification.BreakerSink
	Sink    port.NotificationSink
}

// ProvideMetrics creates the metrics recorder on a fresh registry that also
// carries the Go runtime and process collectors.
func ProvideMetrics() *metrics.Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics.NewRecorder(reg)
}

// ProvideDatabase creates the store for the configured driver.
// The sqlite driver also runs any pending migrations.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DataBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if cfg.Driver == DriverMemory {
		logger.Info("Using in-memory store; state is lost on restart")
		return &DataBundle{
			Store:     memory.New().Ports(),
			Directory: memory.NewDirectory(),
			Audit:     memory.NewAuditLog(),
			Status:    memory.NewStatusSink(),
		}, nil
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	applied, err := database.NewMigrator(db, logger).RunMigrations()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("Migrations checked", zap.Int("applied", applied))

	txManager := sqlite.NewDB(db.DB, logger)

	return &DataBundle{
		DB:        db,
		Store:     repository.NewStore(txManager, logger),
		Directory: repository.NewDirectoryRepository(db.DB, txManager, logger),
		Audit:     repository.NewAuditRepository(db.DB, logger),
		Status:    repository.NewChangeStatusRepository(db.DB, txManager, logger),
	}, nil
}

// ProvideNotifier creates the notification sink behind a circuit breaker.
// Without Lark, notifications are written to the log.
func ProvideNotifier(cfg *LarkConfig, breakerCfg *NotificationConfig, observer notification.StateObserver, logger *zap.Logger) (*NotifierBundle, error) {
	if cfg == nil || breakerCfg == nil {
		return nil, fmt.Errorf("notification config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	bundle := &NotifierBundle{}
	var sink port.NotificationSink
	if cfg.Enabled {
		bundle.Client = infraLark.NewSDKClient(infraLark.Config{
			AppID:         cfg.AppID,
			AppSecret:     cfg.AppSecret,
			ReceiveIDType: cfg.ReceiveIDType,
		}, logger)
		sink = infraLark.NewMessenger(
			infraLark.NewMessageAPI(bundle.Client, logger),
			bundle.Client.ReceiveIDType(),
			logger,
		)
	} else {
		sink = notification.NewLogSink(logger)
	}

	bundle.Breaker = notification.NewBreakerSink(sink, notification.BreakerConfig{
		Name:                "notification-sink",
		ConsecutiveFailures: breakerCfg.BreakerFailures,
		Timeout:             breakerCfg.BreakerTimeout,
		Interval:            breakerCfg.BreakerInterval,
		MaxRequests:         breakerCfg.BreakerMaxRequests,
	}, observer, logger)
	bundle.Sink = bundle.Breaker

	return bundle, nil
}

// ProvideDispatcher creates the event dispatcher.
// Returns dispatcher.Dispatcher implementation.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(&zapLoggerAdapter{logger: logger}),
	), nil
}

// EngineDeps holds dependencies required for creating the workflow engine.
type EngineDeps struct {
	Data       *DataBundle
	Notifier   port.NotificationSink
	Dispatcher dispatcher.Dispatcher
	Metrics    workflow.Metrics
	Config     *EngineConfig
	Logger     *zap.Logger
}

// ProvideWorkflowEngine creates the workflow engine and subscribes the
// audit and notification sinks to its events.
func ProvideWorkflowEngine(deps *EngineDeps) (workflow.Engine, error) {
	if deps == nil {
		return nil, fmt.Errorf("engine dependencies are required")
	}
	if deps.Data == nil {
		return nil, fmt.Errorf("data bundle is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("engine config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	logger := &zapLoggerAdapter{logger: deps.Logger}
	store := deps.Data.Store

	checker := authority.NewValidator(deps.Data.Directory, authority.WithDelegations(store.Delegations))
	registry := delegation.NewRegistry(store.Delegations, store.Backups, checker, deps.Data.Directory,
		delegation.WithLogger(logger))

	workflow.NewSubscribers(deps.Data.Audit, deps.Notifier, store.Failures, logger, deps.Metrics).
		Register(deps.Dispatcher)

	opts := []workflow.EngineOption{
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithStatusSink(deps.Data.Status),
		workflow.WithLogger(logger),
		workflow.WithConfig(workflow.Config{
			GracePeriod:       deps.Config.GracePeriod,
			ReminderLookAhead: deps.Config.ReminderLookAhead,
			ReminderCooldown:  deps.Config.ReminderCooldown,
			SweepConcurrency:  deps.Config.SweepConcurrency,
		}),
	}
	if deps.Metrics != nil {
		opts = append(opts, workflow.WithMetrics(deps.Metrics))
	}

	return workflow.NewEngine(store, deps.Data.Directory, checker, registry, opts...), nil
}

// ProvideWorkers creates the sweep workers.
// Returns *worker.WorkerManager with all workers registered but not started.
func ProvideWorkers(engine workflow.Engine, cfg *EngineConfig, logger *zap.Logger) (*worker.WorkerManager, error) {
	if engine == nil {
		return nil, fmt.Errorf("workflow engine is required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("engine config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	manager := worker.NewWorkerManager(logger)
	manager.Register(worker.NewProgressionWorker(engine, cfg.ProgressionInterval, logger))
	manager.Register(worker.NewDeadlineWorker(engine, cfg.DeadlineInterval, logger))
	manager.Register(worker.NewDelegationCleanupWorker(engine, cfg.DelegationCleanupInterval, logger))

	return manager, nil
}
