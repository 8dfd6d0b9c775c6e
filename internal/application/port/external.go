package port

import (
	"context"

	"github.com/garyjia/change-approval/internal/domain/entity"
)

// ChangeStatusSink receives change-request status transitions
type ChangeStatusSink interface {
	SetStatus(ctx context.Context, changeID, status string) error
}

// Directory provides roles, authority limits and reporting lines
type Directory interface {
	// RolesAndLimits returns the user's profile, or nil when the user is unknown
	RolesAndLimits(ctx context.Context, userID string) (*entity.UserProfile, error)

	// ResolveRole picks an approver for a role in the context of a change; "" when none
	ResolveRole(ctx context.Context, role string, change entity.ChangeContext) (string, error)

	// UsersWithRole returns users holding the role, sorted by id
	UsersWithRole(ctx context.Context, role string) ([]string, error)
}

// NotificationSink delivers messages to users. Delivery is at-least-once and
// the sink owns retries.
type NotificationSink interface {
	Notify(ctx context.Context, userID, kind string, payload map[string]interface{}) error
}

// AuditSink receives append-only audit records
type AuditSink interface {
	Append(ctx context.Context, event *entity.AuditEvent) error
}
