package workflow

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/multierr"

	"github.com/garyjia/change-approval/internal/application/dispatcher"
	"github.com/garyjia/change-approval/internal/application/port"
	"github.com/garyjia/change-approval/internal/domain/entity"
	"github.com/garyjia/change-approval/internal/domain/event"
)

// Subscriber names registered on the dispatcher
const (
	SubscriberAudit        = "audit-sink"
	SubscriberNotification = "notification-sink"
)

// Subscribers delivers committed events to the audit and notification sinks.
// Delivery failures are logged, counted and stored for reconciliation.
type Subscribers struct {
	audit    port.AuditSink
	notifier port.NotificationSink
	failures port.FailureRepository
	logger   Logger
	metrics  Metrics
	now      func() time.Time
}

// NewSubscribers creates the sink subscribers. Either sink may be nil.
func NewSubscribers(audit port.AuditSink, notifier port.NotificationSink, failures port.FailureRepository, logger Logger, metrics Metrics) *Subscribers {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Subscribers{
		audit:    audit,
		notifier: notifier,
		failures: failures,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Register subscribes the sinks to every event type
func (s *Subscribers) Register(d dispatcher.Dispatcher) {
	if s.audit != nil {
		d.SubscribeAll(SubscriberAudit, s.HandleAudit)
	}
	if s.notifier != nil {
		d.SubscribeAll(SubscriberNotification, s.HandleNotify)
	}
}

// HandleAudit appends the event's audit record, if the event type is audited
func (s *Subscribers) HandleAudit(ctx context.Context, evt *event.Event) error {
	record := evt.AuditEvent()
	if record == nil {
		return nil
	}
	if err := s.audit.Append(ctx, record); err != nil {
		s.fail(ctx, entity.CollaboratorAuditSink, evt, "append:"+record.Kind, err)
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// HandleNotify sends each notice on the event. One failed recipient does not stop the others.
func (s *Subscribers) HandleNotify(ctx context.Context, evt *event.Event) error {
	var errs error
	for _, n := range evt.Notices {
		payload := make(map[string]interface{}, len(evt.Payload)+4)
		for k, v := range evt.Payload {
			payload[k] = v
		}
		payload["event_type"] = evt.Type.String()
		payload["change_id"] = evt.ChangeID
		payload["workflow_id"] = evt.WorkflowID
		if evt.StepID != 0 {
			payload["step_id"] = evt.StepID
		}

		if err := s.notifier.Notify(ctx, n.UserID, n.Kind, payload); err != nil {
			s.fail(ctx, entity.CollaboratorNotification, evt, "notify:"+n.Kind+":"+n.UserID, err)
			errs = multierr.Append(errs, fmt.Errorf("notify %s: %w", n.UserID, err))
		}
	}
	return errs
}

func (s *Subscribers) fail(ctx context.Context, collaborator string, evt *event.Event, operation string, cause error) {
	entityID := evt.ChangeID
	if entityID == "" {
		entityID = strconv.FormatInt(evt.StepID, 10)
	}

	if s.logger != nil {
		s.logger.Error("Collaborator call failed",
			"collaborator", collaborator,
			"event_id", evt.ID,
			"event_type", evt.Type,
			"operation", operation,
			"error", cause,
		)
	}
	s.metrics.CollaboratorFailure(collaborator)

	if s.failures == nil {
		return
	}
	if err := s.failures.Create(ctx, &entity.CollaboratorFailure{
		Collaborator: collaborator,
		EntityID:     entityID,
		Operation:    operation,
		ErrorMessage: cause.Error(),
		OccurredAt:   s.now(),
	}); err != nil && s.logger != nil {
		s.logger.Error("Failed to store collaborator failure", "collaborator", collaborator, "error", err)
	}
}
