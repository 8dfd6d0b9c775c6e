// Package notification wraps notification sinks with delivery policies.
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/garyjia/change-approval/internal/application/port"
)

// BreakerConfig configures the circuit breaker around a sink
type BreakerConfig struct {
	Name string

	// ConsecutiveFailures trips the breaker
	ConsecutiveFailures uint32

	// Timeout is how long the breaker stays open before probing
	Timeout time.Duration

	// Interval clears the closed-state counts; zero never clears them
	Interval time.Duration

	// MaxRequests allowed through while half-open
	MaxRequests uint32
}

// DefaultBreakerConfig returns settings suited to a chat API
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:                "notification-sink",
		ConsecutiveFailures: 5,
		Timeout:             30 * time.Second,
		Interval:            time.Minute,
		MaxRequests:         1,
	}
}

// StateObserver is told about breaker state changes
type StateObserver interface {
	BreakerStateChanged(name string, state int)
}

// BreakerSink stops calling a failing sink until it recovers. While open,
// Notify fails fast with gobreaker.ErrOpenState.
type BreakerSink struct {
	next    port.NotificationSink
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewBreakerSink wraps next. observer may be nil.
func NewBreakerSink(next port.NotificationSink, cfg BreakerConfig, observer StateObserver, logger *zap.Logger) *BreakerSink {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = DefaultBreakerConfig().ConsecutiveFailures
	}
	if cfg.Name == "" {
		cfg.Name = DefaultBreakerConfig().Name
	}
	threshold := cfg.ConsecutiveFailures

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if observer != nil {
				observer.BreakerStateChanged(name, int(to))
			}
		},
	}

	return &BreakerSink{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// Notify delivers through the breaker
func (s *BreakerSink) Notify(ctx context.Context, userID, kind string, payload map[string]interface{}) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.next.Notify(ctx, userID, kind, payload)
	})
	if err != nil {
		return fmt.Errorf("notification breaker %s: %w", s.breaker.Name(), err)
	}
	return nil
}

// State reports the breaker state
func (s *BreakerSink) State() gobreaker.State {
	return s.breaker.State()
}

var _ port.NotificationSink = (*BreakerSink)(nil)
