package entity

import "time"

// Delegation is a time-scoped grant allowing Delegate to act for Delegator.
// StepID scopes it to one approval step; when StepID is zero, Role scopes it.
type Delegation struct {
	ID        int64      `json:"id"`
	Delegator string     `json:"delegator"`
	Delegate  string     `json:"delegate"`
	StepID    int64      `json:"step_id,omitempty"`
	Role      string     `json:"role,omitempty"`
	Reason    string     `json:"reason"`
	Active    bool       `json:"active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// IsUsable reports whether the delegation may back an authority check at now
func (d *Delegation) IsUsable(now time.Time) bool {
	if !d.Active {
		return false
	}
	return d.ExpiresAt == nil || !d.ExpiresAt.Before(now)
}

// BackupApprover is a standing mapping from a primary approver to a backup for a role
type BackupApprover struct {
	ID        int64     `json:"id"`
	PrimaryID string    `json:"primary_id"`
	BackupID  string    `json:"backup_id"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Escalation records an automatic or manual reassignment of an overdue step
type Escalation struct {
	ID               int64     `json:"id"`
	StepID           int64     `json:"step_id"`
	WorkflowID       int64     `json:"workflow_id"`
	OriginalApprover string    `json:"original_approver"`
	EscalatedTo      string    `json:"escalated_to"`
	Reason           string    `json:"reason"`
	CreatedAt        time.Time `json:"created_at"`
}

// Reminder records a deadline reminder sent for a step
type Reminder struct {
	ID        int64     `json:"id"`
	StepID    int64     `json:"step_id"`
	Recipient string    `json:"recipient"`
	SentAt    time.Time `json:"sent_at"`
}
