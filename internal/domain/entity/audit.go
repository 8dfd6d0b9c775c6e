package entity

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// AuditEvent is an append-only compliance record mirrored to the audit sink
type AuditEvent struct {
	ID         string                 `json:"id"`
	Kind       string                 `json:"kind"`
	ChangeID   string                 `json:"change_id,omitempty"`
	WorkflowID int64                  `json:"workflow_id,omitempty"`
	StepID     int64                  `json:"step_id,omitempty"`
	Actor      string                 `json:"actor,omitempty"`
	Before     string                 `json:"before,omitempty"`
	After      string                 `json:"after,omitempty"`
	Detail     map[string]interface{} `json:"detail,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// CollaboratorFailure records a side effect that failed after state was committed
type CollaboratorFailure struct {
	ID           int64     `json:"id"`
	Collaborator string    `json:"collaborator"`
	EntityID     string    `json:"entity_id"`
	Operation    string    `json:"operation"`
	ErrorMessage string    `json:"error_message"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// UserProfile is the directory view of a user: roles, per-role limits and manager
type UserProfile struct {
	UserID    string                     `json:"user_id"`
	Name      string                     `json:"name,omitempty"`
	Roles     map[string]bool            `json:"roles"`
	Limits    map[string]decimal.Decimal `json:"limits"`
	ManagerID string                     `json:"manager_id,omitempty"`
}

// HasRole reports whether the profile holds role directly
func (p *UserProfile) HasRole(role string) bool {
	return p != nil && p.Roles[role]
}

// RoleNames returns the held roles in sorted order
func (p *UserProfile) RoleNames() []string {
	names := make([]string, 0, len(p.Roles))
	for role, held := range p.Roles {
		if held {
			names = append(names, role)
		}
	}
	sort.Strings(names)
	return names
}
