package lark

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/change-approval/internal/domain/entity"
)

type sentMessage struct {
	receiveIDType, receiveID, msgType, content string
}

type fakeSender struct {
	sent []sentMessage
	err  error
}

func (f *fakeSender) SendMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, sentMessage{receiveIDType, receiveID, msgType, content})
	return "om_1", nil
}

func TestMessenger_Notify(t *testing.T) {
	sender := &fakeSender{}
	m := NewMessenger(sender, "", zap.NewNop())

	err := m.Notify(context.Background(), "sm-1", entity.NotifyEscalated, map[string]interface{}{
		"change_id": "CR-42",
		"step_id":   int64(7),
		"reason":    "Line \"A\" overdue",
	})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)

	msg := sender.sent[0]
	assert.Equal(t, "user_id", msg.receiveIDType)
	assert.Equal(t, "sm-1", msg.receiveID)
	assert.Equal(t, "text", msg.msgType)

	var content map[string]string
	require.NoError(t, json.Unmarshal([]byte(msg.content), &content))
	assert.Equal(t, "An overdue approval was escalated to you\nChange: CR-42\nStep: 7\nreason: Line \"A\" overdue", content["text"])
}

func TestMessenger_Errors(t *testing.T) {
	m := NewMessenger(&fakeSender{err: errors.New("code=99991663")}, "open_id", zap.NewNop())

	assert.Error(t, m.Notify(context.Background(), "", entity.NotifyReminder, nil))

	err := m.Notify(context.Background(), "pm-1", entity.NotifyReminder, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reminder")
}

func TestRenderText_UnknownKind(t *testing.T) {
	assert.Equal(t, "Change approval update", RenderText("something_else", nil))
}
