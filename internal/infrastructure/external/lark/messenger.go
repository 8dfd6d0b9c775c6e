package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/change-approval/internal/application/port"
	"github.com/garyjia/change-approval/internal/domain/entity"
)

// Messenger implements port.NotificationSink with Lark text messages
type Messenger struct {
	sender        MessageSender
	receiveIDType string
	logger        *zap.Logger
}

// NewMessenger creates a Lark notification sink
func NewMessenger(sender MessageSender, receiveIDType string, logger *zap.Logger) *Messenger {
	if receiveIDType == "" {
		receiveIDType = "user_id"
	}
	return &Messenger{
		sender:        sender,
		receiveIDType: receiveIDType,
		logger:        logger,
	}
}

// Notify sends one notification to a user
func (m *Messenger) Notify(ctx context.Context, userID, kind string, payload map[string]interface{}) error {
	if userID == "" {
		return fmt.Errorf("userID cannot be empty")
	}

	content, err := json.Marshal(map[string]string{"text": RenderText(kind, payload)})
	if err != nil {
		return fmt.Errorf("failed to marshal message content: %w", err)
	}

	if _, err := m.sender.SendMessage(ctx, m.receiveIDType, userID, "text", string(content)); err != nil {
		return fmt.Errorf("failed to send %s notification: %w", kind, err)
	}
	return nil
}

var headlines = map[string]string{
	entity.NotifyApprovalRequested:    "Approval requested",
	entity.NotifyStepEligible:         "Your approval step is now open",
	entity.NotifyReminder:             "Reminder: approval due soon",
	entity.NotifyEscalated:            "An overdue approval was escalated to you",
	entity.NotifyEscalationVisibility: "Escalation on an urgent change",
	entity.NotifyInfoRequested:        "More information requested",
	entity.NotifyDelegationReceived:   "An approval was delegated to you",
	entity.NotifyWorkflowApproved:     "Change approved",
	entity.NotifyWorkflowRejected:     "Change rejected",
}

// RenderText formats a notification as plain text
func RenderText(kind string, payload map[string]interface{}) string {
	headline, ok := headlines[kind]
	if !ok {
		headline = "Change approval update"
	}

	var b strings.Builder
	b.WriteString(headline)
	if id, ok := payload["change_id"]; ok && id != "" {
		fmt.Fprintf(&b, "\nChange: %v", id)
	}
	if id, ok := payload["step_id"]; ok {
		fmt.Fprintf(&b, "\nStep: %v", id)
	}
	for _, key := range []string{"due_at", "reason", "comments"} {
		if v, ok := payload[key]; ok && v != "" {
			fmt.Fprintf(&b, "\n%s: %v", strings.ReplaceAll(key, "_", " "), v)
		}
	}
	return b.String()
}

var _ port.NotificationSink = (*Messenger)(nil)
