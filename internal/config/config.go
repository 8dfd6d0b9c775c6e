package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Database drivers
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Lark         LarkConfig         `mapstructure:"lark"`
	Engine       EngineConfig       `mapstructure:"engine"`
	Notification NotificationConfig `mapstructure:"notification"`
	Logger       LoggerConfig       `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LarkConfig holds Lark API configuration. When disabled, notifications are logged.
type LarkConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	AppID         string `mapstructure:"app_id"`
	AppSecret     string `mapstructure:"app_secret"`
	ReceiveIDType string `mapstructure:"receive_id_type"`
}

// EngineConfig holds workflow engine and sweep scheduling configuration
type EngineConfig struct {
	GracePeriod               time.Duration `mapstructure:"grace_period"`
	ReminderLookAhead         time.Duration `mapstructure:"reminder_lookahead"`
	ReminderCooldown          time.Duration `mapstructure:"reminder_cooldown"`
	SweepConcurrency          int           `mapstructure:"sweep_concurrency"`
	ProgressionInterval       time.Duration `mapstructure:"progression_interval"`
	DeadlineInterval          time.Duration `mapstructure:"deadline_interval"`
	DelegationCleanupInterval time.Duration `mapstructure:"delegation_cleanup_interval"`
}

// NotificationConfig holds the circuit breaker around the notification sink
type NotificationConfig struct {
	BreakerFailures    uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout     time.Duration `mapstructure:"breaker_timeout"`
	BreakerInterval    time.Duration `mapstructure:"breaker_interval"`
	BreakerMaxRequests uint32        `mapstructure:"breaker_max_requests"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from an optional .env file, the config file and
// environment variables, in increasing precedence. An empty configPath skips the file.
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APPROVAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvVars(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "data/approval.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// Lark defaults
	v.SetDefault("lark.enabled", false)
	v.SetDefault("lark.receive_id_type", "user_id")

	// Engine defaults
	v.SetDefault("engine.grace_period", 24*time.Hour)
	v.SetDefault("engine.reminder_lookahead", 24*time.Hour)
	v.SetDefault("engine.reminder_cooldown", 12*time.Hour)
	v.SetDefault("engine.sweep_concurrency", 4)
	v.SetDefault("engine.progression_interval", time.Minute)
	v.SetDefault("engine.deadline_interval", 5*time.Minute)
	v.SetDefault("engine.delegation_cleanup_interval", time.Hour)

	// Notification defaults
	v.SetDefault("notification.breaker_failures", 5)
	v.SetDefault("notification.breaker_timeout", 30*time.Second)
	v.SetDefault("notification.breaker_interval", time.Minute)
	v.SetDefault("notification.breaker_max_requests", 1)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables that do not follow the APPROVAL_ prefix
func bindEnvVars(v *viper.Viper) {
	// Sensitive credentials from environment
	_ = v.BindEnv("lark.app_id", "LARK_APP_ID")
	_ = v.BindEnv("lark.app_secret", "LARK_APP_SECRET")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverMemory, c.Database.Driver)
	}

	if c.Lark.Enabled {
		if c.Lark.AppID == "" {
			return fmt.Errorf("lark.app_id is required")
		}
		if c.Lark.AppSecret == "" {
			return fmt.Errorf("lark.app_secret is required")
		}
	}

	if c.Engine.SweepConcurrency < 1 {
		return fmt.Errorf("engine.sweep_concurrency must be at least 1")
	}
	for name, d := range map[string]time.Duration{
		"engine.progression_interval":        c.Engine.ProgressionInterval,
		"engine.deadline_interval":           c.Engine.DeadlineInterval,
		"engine.delegation_cleanup_interval": c.Engine.DelegationCleanupInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Engine.GracePeriod < 0 || c.Engine.ReminderLookAhead < 0 || c.Engine.ReminderCooldown < 0 {
		return fmt.Errorf("engine durations must not be negative")
	}

	return nil
}
