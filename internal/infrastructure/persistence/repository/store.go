package repository

import (
	"go.uber.org/zap"

	"github.com/garyjia/change-approval/internal/application/port"
	"github.com/garyjia/change-approval/internal/infrastructure/persistence/sqlite"
)

// NewStore wires every sqlite repository behind one transaction manager
func NewStore(db *sqlite.DB, logger *zap.Logger) port.Store {
	return port.Store{
		Workflows:    NewWorkflowRepository(db.DB, logger),
		Steps:        NewStepRepository(db.DB, logger),
		Requirements: NewRequirementRepository(db.DB, logger),
		Delegations:  NewDelegationRepository(db.DB, logger),
		Backups:      NewBackupApproverRepository(db.DB, logger),
		Escalations:  NewEscalationRepository(db.DB, logger),
		Reminders:    NewReminderRepository(db.DB, logger),
		Failures:     NewFailureRepository(db.DB, logger),
		Tx:           db,
	}
}
