// Package memory is an in-process implementation of the engine's storage ports.
// It backs the "memory" database driver and the engine tests.
package memory

import (
	"context"
	"sync"

	"github.com/garyjia/change-approval/internal/application/port"
	"github.com/garyjia/change-approval/internal/domain/entity"
)

type txKey struct{}

type state struct {
	workflows    map[int64]entity.WorkflowInstance
	steps        map[int64]entity.ApprovalStep
	requirements map[int64]entity.ConditionalRequirement
	delegations  map[int64]entity.Delegation
	backups      map[int64]entity.BackupApprover
	escalations  []entity.Escalation
	reminders    []entity.Reminder
	decisions    []entity.StepDecision
	failures     []entity.CollaboratorFailure
	seq          int64
}

func newState() *state {
	return &state{
		workflows:    make(map[int64]entity.WorkflowInstance),
		steps:        make(map[int64]entity.ApprovalStep),
		requirements: make(map[int64]entity.ConditionalRequirement),
		delegations:  make(map[int64]entity.Delegation),
		backups:      make(map[int64]entity.BackupApprover),
	}
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

// Store holds all engine records in memory. Entities are stored by value so
// callers never share pointers with the store.
type Store struct {
	mu   sync.RWMutex
	data *state
}

// New creates an empty store
func New() *Store {
	return &Store{data: newState()}
}

// txLog holds the undo actions of one transaction's writes, newest last
type txLog struct {
	undo []func(*state)
}

// WithTransaction runs fn with all-or-nothing semantics: on error or panic
// every write fn made is undone, newest first. Writes made outside the
// transaction, including those of concurrent transactions, are left alone.
// Nested calls join the outer transaction. Isolation between concurrent
// transactions relies on callers serialising work on the same records, as
// the engine does per change request.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*txLog); ok {
		return fn(ctx)
	}

	log := &txLog{}
	defer func() {
		if p := recover(); p != nil {
			s.rollback(log)
			panic(p)
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, log)); err != nil {
		s.rollback(log)
	}
	return err
}

// journal records how to revert a write. Callers hold mu.
func (s *Store) journal(ctx context.Context, undo func(*state)) {
	if log, ok := ctx.Value(txKey{}).(*txLog); ok {
		log.undo = append(log.undo, undo)
	}
}

func (s *Store) rollback(log *txLog) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(log.undo) - 1; i >= 0; i-- {
		log.undo[i](s.data)
	}
	log.undo = nil
}

// removeRow drops the first row matching from an append-only table
func removeRow[T any](rows []T, match func(T) bool) []T {
	for i, row := range rows {
		if match(row) {
			return append(rows[:i], rows[i+1:]...)
		}
	}
	return rows
}

// Ports exposes the store through the engine's repository interfaces
func (s *Store) Ports() port.Store {
	return port.Store{
		Workflows:    &workflowRepo{s},
		Steps:        &stepRepo{s},
		Requirements: &requirementRepo{s},
		Delegations:  &delegationRepo{s},
		Backups:      &backupRepo{s},
		Escalations:  &escalationRepo{s},
		Reminders:    &reminderRepo{s},
		Failures:     &failureRepo{s},
		Tx:           s,
	}
}

var _ port.TransactionManager = (*Store)(nil)
