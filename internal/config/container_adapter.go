package config

import (
	"github.com/garyjia/change-approval/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Driver:          c.Database.Driver,
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
		},
		Lark: container.LarkConfig{
			Enabled:       c.Lark.Enabled,
			AppID:         c.Lark.AppID,
			AppSecret:     c.Lark.AppSecret,
			ReceiveIDType: c.Lark.ReceiveIDType,
		},
		Engine: container.EngineConfig{
			GracePeriod:               c.Engine.GracePeriod,
			ReminderLookAhead:         c.Engine.ReminderLookAhead,
			ReminderCooldown:          c.Engine.ReminderCooldown,
			SweepConcurrency:          c.Engine.SweepConcurrency,
			ProgressionInterval:       c.Engine.ProgressionInterval,
			DeadlineInterval:          c.Engine.DeadlineInterval,
			DelegationCleanupInterval: c.Engine.DelegationCleanupInterval,
		},
		Notification: container.NotificationConfig{
			BreakerFailures:    c.Notification.BreakerFailures,
			BreakerTimeout:     c.Notification.BreakerTimeout,
			BreakerInterval:    c.Notification.BreakerInterval,
			BreakerMaxRequests: c.Notification.BreakerMaxRequests,
		},
		Server: container.ServerConfig{
			Host:         c.Server.Host,
			Port:         c.Server.Port,
			ReadTimeout:  c.Server.ReadTimeout,
			WriteTimeout: c.Server.WriteTimeout,
		},
	}
}
