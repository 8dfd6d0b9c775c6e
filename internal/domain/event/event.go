package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/change-approval/internal/domain/entity"
)

// Notice is a notification the event asks the notification sink to deliver
type Notice struct {
	UserID string `json:"user_id"`
	Kind   string `json:"kind"`
}

// Event represents a domain event raised after a state change has been committed
type Event struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	WorkflowID    int64                  `json:"workflow_id"`
	ChangeID      string                 `json:"change_id"`
	StepID        int64                  `json:"step_id,omitempty"`
	Actor         string                 `json:"actor,omitempty"`
	Payload       map[string]interface{} `json:"payload"`
	Notices       []Notice               `json:"notices,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
}

// NewEvent creates a new domain event with generated ID and correlation ID
func NewEvent(eventType Type, workflowID int64, changeID string, payload map[string]interface{}) *Event {
	return NewEventWithCorrelation(eventType, workflowID, changeID, payload, uuid.NewString())
}

// NewEventWithCorrelation creates an event linked to a correlation chain, e.g. all
// events raised by one decision.
func NewEventWithCorrelation(eventType Type, workflowID int64, changeID string, payload map[string]interface{}, correlationID string) *Event {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		WorkflowID:    workflowID,
		ChangeID:      changeID,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
	}
}

// ForStep sets the step and actor the event concerns
func (e *Event) ForStep(stepID int64, actor string) *Event {
	e.StepID = stepID
	e.Actor = actor
	return e
}

// At overrides the event timestamp with the engine clock
func (e *Event) At(ts time.Time) *Event {
	e.Timestamp = ts
	return e
}

// Notify appends a notice for each non-empty user id not already notified of kind
func (e *Event) Notify(kind string, userIDs ...string) *Event {
	for _, id := range userIDs {
		if id == "" || e.hasNotice(id, kind) {
			continue
		}
		e.Notices = append(e.Notices, Notice{UserID: id, Kind: kind})
	}
	return e
}

func (e *Event) hasNotice(userID, kind string) bool {
	for _, n := range e.Notices {
		if n.UserID == userID && n.Kind == kind {
			return true
		}
	}
	return false
}

// WithPayload returns a copy of the event with an added payload key
func (e *Event) WithPayload(key string, value interface{}) *Event {
	newPayload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		newPayload[k] = v
	}
	newPayload[key] = value

	copied := *e
	copied.Payload = newPayload
	copied.Notices = append([]Notice(nil), e.Notices...)
	return &copied
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadInt retrieves an int64 value from the payload
func (e *Event) GetPayloadInt(key string) int64 {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case float64:
			return int64(v)
		}
	}
	return 0
}

// AuditEvent converts the event to the audit sink record, or nil when the type is not audited.
// The "before" and "after" payload keys become the record's before/after values.
func (e *Event) AuditEvent() *entity.AuditEvent {
	kind := e.Type.AuditKind()
	if kind == "" {
		return nil
	}

	detail := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		if k == "before" || k == "after" {
			continue
		}
		detail[k] = v
	}
	detail["event_type"] = e.Type.String()

	return &entity.AuditEvent{
		ID:         e.ID,
		Kind:       kind,
		ChangeID:   e.ChangeID,
		WorkflowID: e.WorkflowID,
		StepID:     e.StepID,
		Actor:      e.Actor,
		Before:     e.GetPayloadString("before"),
		After:      e.GetPayloadString("after"),
		Detail:     detail,
		OccurredAt: e.Timestamp,
	}
}
