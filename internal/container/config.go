// Package container provides dependency injection and lifecycle management
// for the change approval service.
package container

import (
	"fmt"
	"time"
)

// Database drivers
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Lark API configuration
	Lark LarkConfig

	// Engine and sweep configuration
	Engine EngineConfig

	// Notification delivery configuration
	Notification NotificationConfig

	// Server configuration
	Server ServerConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Driver selects the sqlite or the in-memory store
	Driver string

	// Path to SQLite database file
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration
}

// LarkConfig holds Lark API settings.
type LarkConfig struct {
	// Enabled routes notifications to Lark; otherwise they are logged
	Enabled bool

	// AppID is the Lark application ID
	AppID string

	// AppSecret is the Lark application secret
	AppSecret string

	// ReceiveIDType tells Lark how to read user ids
	ReceiveIDType string
}

// EngineConfig holds engine tuning and sweep schedules.
type EngineConfig struct {
	GracePeriod       time.Duration
	ReminderLookAhead time.Duration
	ReminderCooldown  time.Duration
	SweepConcurrency  int

	ProgressionInterval       time.Duration
	DeadlineInterval          time.Duration
	DelegationCleanupInterval time.Duration
}

// NotificationConfig holds the circuit breaker settings around the notifier.
type NotificationConfig struct {
	BreakerFailures    uint32
	BreakerTimeout     time.Duration
	BreakerInterval    time.Duration
	BreakerMaxRequests uint32
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host to bind to
	Host string

	// Port to listen on
	Port int

	// ReadTimeout for HTTP server
	ReadTimeout time.Duration

	// WriteTimeout for HTTP server
	WriteTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          DriverSQLite,
			Path:            "data/approval.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Lark: LarkConfig{
			ReceiveIDType: "user_id",
		},
		Engine: EngineConfig{
			GracePeriod:               24 * time.Hour,
			ReminderLookAhead:         24 * time.Hour,
			ReminderCooldown:          12 * time.Hour,
			SweepConcurrency:          4,
			ProgressionInterval:       time.Minute,
			DeadlineInterval:          5 * time.Minute,
			DelegationCleanupInterval: time.Hour,
		},
		Notification: NotificationConfig{
			BreakerFailures:    5,
			BreakerTimeout:     30 * time.Second,
			BreakerInterval:    time.Minute,
			BreakerMaxRequests: 1,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if c.Lark.Enabled && (c.Lark.AppID == "" || c.Lark.AppSecret == "") {
		return fmt.Errorf("lark.app_id and lark.app_secret are required when lark is enabled")
	}

	if c.Engine.ProgressionInterval <= 0 || c.Engine.DeadlineInterval <= 0 || c.Engine.DelegationCleanupInterval <= 0 {
		return fmt.Errorf("sweep intervals must be positive")
	}

	return nil
}
