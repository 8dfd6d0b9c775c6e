package workflow

import "time"

// Metrics records engine activity. Implementations must be safe for concurrent use.
type Metrics interface {
	DecisionRecorded(decision string)
	WorkflowInitiated(archetype string)
	WorkflowFinished(status string)
	EscalationRecorded(outcome string)
	ReminderSent()
	SweepCompleted(sweep string, processed, failed int, elapsed time.Duration)
	CollaboratorFailure(collaborator string)
}

// Escalation outcomes
const (
	EscalationOutcomeEscalated = "escalated"
	EscalationOutcomeNoTarget  = "no_target"
)

type nopMetrics struct{}

func (nopMetrics) DecisionRecorded(string)                        {}
func (nopMetrics) WorkflowInitiated(string)                       {}
func (nopMetrics) WorkflowFinished(string)                        {}
func (nopMetrics) EscalationRecorded(string)                      {}
func (nopMetrics) ReminderSent()                                  {}
func (nopMetrics) SweepCompleted(string, int, int, time.Duration) {}
func (nopMetrics) CollaboratorFailure(string)                     {}
