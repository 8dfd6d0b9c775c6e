package notification

import (
	"context"

	"go.uber.org/zap"

	"github.com/garyjia/change-approval/internal/application/port"
)

// LogSink writes notifications to the log. It is used when no chat
// integration is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a logging notification sink
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(ctx context.Context, userID, kind string, payload map[string]interface{}) error {
	s.logger.Info("Notification",
		zap.String("user_id", userID),
		zap.String("kind", kind),
		zap.Any("payload", payload))
	return nil
}

var _ port.NotificationSink = (*LogSink)(nil)
