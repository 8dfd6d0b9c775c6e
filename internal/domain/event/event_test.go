package event

import (
	"testing"
	"time"

	"github.com/garyjia/change-approval/internal/domain/entity"
)

func TestType_IsValid(t *testing.T) {
	tests := []struct {
		name      string
		eventType Type
		want      bool
	}{
		{"workflow initiated", TypeWorkflowInitiated, true},
		{"step escalated", TypeStepEscalated, true},
		{"backup updated", TypeBackupApproverSet, true},
		{"unknown type", Type("instance.created"), false},
		{"empty string", Type(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.eventType.IsValid(); got != tt.want {
				t.Errorf("Type.IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestType_AuditKind(t *testing.T) {
	tests := []struct {
		eventType Type
		want      string
	}{
		{TypeStepDecided, entity.AuditDecision},
		{TypeStepEscalated, entity.AuditEscalation},
		{TypeDeadlineUpdated, entity.AuditDeadlineChange},
		{TypeWorkflowOverridden, entity.AuditAdministrativeClose},
		{TypeStepReminded, ""},
		{TypeStepEligible, ""},
	}

	for _, tt := range tests {
		t.Run(tt.eventType.String(), func(t *testing.T) {
			if got := tt.eventType.AuditKind(); got != tt.want {
				t.Errorf("AuditKind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewEvent(t *testing.T) {
	event := NewEvent(TypeWorkflowInitiated, 12, "CR-12", map[string]interface{}{"archetype": entity.ArchetypeStandard})

	if event.ID == "" {
		t.Error("Event ID should not be empty")
	}
	if event.CorrelationID == "" || event.CorrelationID == event.ID {
		t.Errorf("CorrelationID = %q, want a distinct generated id", event.CorrelationID)
	}
	if event.WorkflowID != 12 || event.ChangeID != "CR-12" {
		t.Errorf("event refs = (%d, %s), want (12, CR-12)", event.WorkflowID, event.ChangeID)
	}
	if time.Since(event.Timestamp) > time.Second {
		t.Error("Event Timestamp should be recent")
	}

	empty := NewEvent(TypeStepReminded, 1, "CR-1", nil)
	if empty.Payload == nil {
		t.Error("nil payload should be replaced by an empty map")
	}
}

func TestEvent_Notify(t *testing.T) {
	event := NewEvent(TypeStepEscalated, 1, "CR-1", nil).
		Notify(entity.NotifyEscalated, "manager-1").
		Notify(entity.NotifyEscalationVisibility, "exec-1", "", "exec-2")

	if len(event.Notices) != 3 {
		t.Fatalf("len(Notices) = %d, want 3", len(event.Notices))
	}
	if event.Notices[0] != (Notice{UserID: "manager-1", Kind: entity.NotifyEscalated}) {
		t.Errorf("Notices[0] = %+v", event.Notices[0])
	}
}

func TestEvent_WithPayload(t *testing.T) {
	original := NewEvent(TypeStepDecided, 1, "CR-1", map[string]interface{}{"decision": "approved"})
	modified := original.WithPayload("comments", "ok")

	if _, exists := original.Payload["comments"]; exists {
		t.Error("Original event should not be modified")
	}
	if modified.GetPayloadString("decision") != "approved" || modified.GetPayloadString("comments") != "ok" {
		t.Errorf("modified payload = %v", modified.Payload)
	}
	if modified.ID != original.ID || modified.CorrelationID != original.CorrelationID {
		t.Error("Modified event should keep identifiers")
	}
}

func TestEvent_GetPayloadInt(t *testing.T) {
	event := NewEvent(TypeStepEligible, 1, "CR-1", map[string]interface{}{
		"int64":   int64(100),
		"int":     50,
		"float64": 75.5,
		"string":  "not a number",
	})

	tests := []struct {
		key  string
		want int64
	}{
		{"int64", 100},
		{"int", 50},
		{"float64", 75},
		{"string", 0},
		{"nonexistent", 0},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := event.GetPayloadInt(tt.key); got != tt.want {
				t.Errorf("GetPayloadInt(%v) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestEvent_AuditEvent(t *testing.T) {
	event := NewEvent(TypeDeadlineUpdated, 3, "CR-3", map[string]interface{}{
		"before": "2026-01-01T00:00:00Z",
		"after":  "2026-01-03T00:00:00Z",
		"reason": "vendor delay",
	}).ForStep(9, "pm-1")

	audit := event.AuditEvent()
	if audit == nil {
		t.Fatal("AuditEvent() returned nil for an audited type")
	}
	if audit.Kind != entity.AuditDeadlineChange || audit.StepID != 9 || audit.Actor != "pm-1" {
		t.Errorf("audit = %+v", audit)
	}
	if audit.Before != "2026-01-01T00:00:00Z" || audit.After != "2026-01-03T00:00:00Z" {
		t.Errorf("before/after = %q/%q", audit.Before, audit.After)
	}
	if audit.Detail["reason"] != "vendor delay" {
		t.Errorf("detail = %v", audit.Detail)
	}
	if _, ok := audit.Detail["before"]; ok {
		t.Error("before should not be duplicated into detail")
	}

	if NewEvent(TypeStepReminded, 1, "CR-1", nil).AuditEvent() != nil {
		t.Error("reminders are not audited")
	}
}
