package memory

import (
	"context"
	"sync"

	"github.com/garyjia/change-approval/internal/application/port"
	"github.com/garyjia/change-approval/internal/domain/entity"
)

// StatusChange is one call received by StatusSink
type StatusChange struct {
	ChangeID string
	Status   string
}

// StatusSink records change-request status transitions
type StatusSink struct {
	mu      sync.Mutex
	changes []StatusChange
	err     error
}

// NewStatusSink creates an empty status sink
func NewStatusSink() *StatusSink {
	return &StatusSink{}
}

// FailWith makes subsequent SetStatus calls return err; nil restores success
func (s *StatusSink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *StatusSink) SetStatus(ctx context.Context, changeID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	s.changes = append(s.changes, StatusChange{ChangeID: changeID, Status: status})
	return nil
}

// History returns the statuses reported for a change, oldest first
func (s *StatusSink) History(changeID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, c := range s.changes {
		if c.ChangeID == changeID {
			out = append(out, c.Status)
		}
	}
	return out
}

// GetStatus returns the last status reported for a change, or "" when none
func (s *StatusSink) GetStatus(ctx context.Context, changeID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.changes) - 1; i >= 0; i-- {
		if s.changes[i].ChangeID == changeID {
			return s.changes[i].Status, nil
		}
	}
	return "", nil
}

// AuditLog keeps appended audit events in memory
type AuditLog struct {
	mu     sync.Mutex
	events []entity.AuditEvent
}

// NewAuditLog creates an empty audit log
func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

func (a *AuditLog) Append(ctx context.Context, event *entity.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.events = append(a.events, *event)
	return nil
}

// Events returns audit events of the given kind, or all events when kind is empty
func (a *AuditLog) Events(kind string) []entity.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []entity.AuditEvent
	for _, e := range a.events {
		if kind == "" || e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// ListByChange returns a change's audit trail in append order
func (a *AuditLog) ListByChange(ctx context.Context, changeID string) ([]*entity.AuditEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []*entity.AuditEvent
	for i := range a.events {
		if a.events[i].ChangeID == changeID {
			e := a.events[i]
			out = append(out, &e)
		}
	}
	return out, nil
}

// Notification is one delivery received by Notifier
type Notification struct {
	UserID  string
	Kind    string
	Payload map[string]interface{}
}

// Notifier records notifications instead of delivering them
type Notifier struct {
	mu   sync.Mutex
	sent []Notification
}

// NewNotifier creates an empty notifier
func NewNotifier() *Notifier {
	return &Notifier{}
}

func (n *Notifier) Notify(ctx context.Context, userID, kind string, payload map[string]interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.sent = append(n.sent, Notification{UserID: userID, Kind: kind, Payload: payload})
	return nil
}

// Sent returns notifications of the given kind, or all when kind is empty
func (n *Notifier) Sent(kind string) []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []Notification
	for _, s := range n.sent {
		if kind == "" || s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

var (
	_ port.ChangeStatusSink = (*StatusSink)(nil)
	_ port.AuditSink        = (*AuditLog)(nil)
	_ port.NotificationSink = (*Notifier)(nil)
)
