package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a state transition is not allowed
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when a state is not valid
	ErrInvalidState = errors.New("invalid state")

	// ErrGuardFailed is returned when a guard condition fails
	ErrGuardFailed = errors.New("guard condition failed")
)

// Engine error taxonomy. Every *Error matches exactly one of these with errors.Is.
var (
	ErrValidation          = errors.New("validation error")
	ErrAuthority           = errors.New("authority error")
	ErrDependencyViolation = errors.New("dependency violation")
	ErrNotFound            = errors.New("not found")
	ErrCollaboratorFailure = errors.New("collaborator failure")
)

// Kind classifies an engine error
type Kind string

const (
	KindValidation          Kind = "validation"
	KindAuthority           Kind = "authority"
	KindDependencyViolation Kind = "dependency_violation"
	KindNotFound            Kind = "not_found"
	KindCollaboratorFailure Kind = "collaborator_failure"
)

func (k Kind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindAuthority:
		return ErrAuthority
	case KindDependencyViolation:
		return ErrDependencyViolation
	case KindNotFound:
		return ErrNotFound
	case KindCollaboratorFailure:
		return ErrCollaboratorFailure
	}
	return nil
}

// Error carries the entity and attempted transition so audit reconciliation can
// match a failure to the record it concerns.
type Error struct {
	Kind       Kind
	Entity     string
	EntityID   string
	Transition string
	Err        error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s %s", e.Kind, e.Entity, e.EntityID)
	if e.Transition != "" {
		msg += " (" + e.Transition + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// NewError builds a typed engine error
func NewError(kind Kind, entity string, entityID interface{}, transition string, err error) *Error {
	return &Error{
		Kind:       kind,
		Entity:     entity,
		EntityID:   fmt.Sprint(entityID),
		Transition: transition,
		Err:        err,
	}
}

// Validationf builds a validation error with a formatted cause
func Validationf(entity string, entityID interface{}, transition, format string, args ...interface{}) *Error {
	return NewError(KindValidation, entity, entityID, transition, fmt.Errorf(format, args...))
}

// KindOf returns the kind of an engine error, or "" for foreign errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
