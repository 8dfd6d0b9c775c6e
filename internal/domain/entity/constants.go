package entity

// Workflow archetypes
const (
	ArchetypeStandard   = "STANDARD"
	ArchetypeExpedited  = "EXPEDITED"
	ArchetypeEmergency  = "EMERGENCY"
	ArchetypeHighValue  = "HIGH_VALUE"
	ArchetypeRegulatory = "REGULATORY"
)

// Status constants for WorkflowInstance
const (
	WorkflowStatusActive   = "active"
	WorkflowStatusApproved = "approved"
	WorkflowStatusRejected = "rejected"
	WorkflowStatusOnHold   = "on_hold"
	WorkflowStatusError    = "error"
)

// Decision constants for ApprovalStep. An empty decision means the step is pending.
const (
	DecisionApproved  = "approved"
	DecisionRejected  = "rejected"
	DecisionNeedsInfo = "needs_info"
	DecisionDelegated = "delegated"
)

// Change request status values reported to the status sink
const (
	ChangeStatusPendingApproval = "pending_approval"
	ChangeStatusApproved        = "approved"
	ChangeStatusRejected        = "rejected"
	ChangeStatusOnHold          = "on_hold"
	ChangeStatusImplementing    = "implementing"
)

// Change types
const (
	ChangeTypeScope      = "scope"
	ChangeTypeSchedule   = "schedule"
	ChangeTypeBudget     = "budget"
	ChangeTypeTechnical  = "technical"
	ChangeTypeRegulatory = "regulatory"
	ChangeTypeSafety     = "safety"
	ChangeTypeQuality    = "quality"
)

// Change priorities
const (
	PriorityLow       = "low"
	PriorityMedium    = "medium"
	PriorityHigh      = "high"
	PriorityCritical  = "critical"
	PriorityEmergency = "emergency"
)

// Approver roles
const (
	RoleProjectManager    = "project_manager"
	RoleSeniorManager     = "senior_manager"
	RoleExecutive         = "executive"
	RoleTechnicalLead     = "technical_lead"
	RoleComplianceOfficer = "compliance_officer"
	RoleSafetyOfficer     = "safety_officer"
	RoleEmergencyApprover = "emergency_approver"
)

// Notification kinds sent to the notification sink
const (
	NotifyApprovalRequested    = "approval_requested"
	NotifyStepEligible         = "step_eligible"
	NotifyReminder             = "reminder"
	NotifyEscalated            = "escalated"
	NotifyEscalationVisibility = "escalation_visibility"
	NotifyInfoRequested        = "info_requested"
	NotifyDelegationReceived   = "delegation_received"
	NotifyWorkflowApproved     = "workflow_approved"
	NotifyWorkflowRejected     = "workflow_rejected"
)

// Audit event kinds appended to the audit sink
const (
	AuditWorkflowInitiated   = "WORKFLOW_INITIATED"
	AuditDecision            = "DECISION"
	AuditDelegation          = "DELEGATION"
	AuditEscalation          = "ESCALATION"
	AuditDeadlineChange      = "DEADLINE_CHANGE"
	AuditRequirementFulfill  = "REQUIREMENT_FULFILLED"
	AuditWorkflowStatus      = "WORKFLOW_STATUS"
	AuditBackupApprover      = "BACKUP_APPROVER"
	AuditDelegationExpired   = "DELEGATION_EXPIRED"
	AuditAdministrativeClose = "ADMINISTRATIVE_OVERRIDE"
)

// Collaborator names used in failure records
const (
	CollaboratorStatusSink   = "status_sink"
	CollaboratorAuditSink    = "audit_sink"
	CollaboratorNotification = "notification_sink"
)
