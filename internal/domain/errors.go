package domain

import "fmt"

// PreconditionError is returned when a lifecycle transition is attempted
// from a status that does not permit it. The caller can recover by
// correcting the call sequence; the engine never retries these.
type PreconditionError struct {
	Entity string
	ID     string
	Action string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s %s: cannot %s: %s", e.Entity, e.ID, e.Action, e.Reason)
}

// NewPreconditionError creates a precondition violation for an entity transition.
func NewPreconditionError(entity, id, action, reason string) *PreconditionError {
	return &PreconditionError{Entity: entity, ID: id, Action: action, Reason: reason}
}

// ValidationError is returned when transition input is malformed,
// e.g. an unknown severity or category value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// NewValidationError creates a validation error for a named field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError is returned when an aggregate does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// NewNotFoundError creates a not-found error for an entity.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// ConflictError is returned when an optimistic version check fails,
// i.e. two concurrent transitions raced on the same aggregate.
type ConflictError struct {
	Entity string
	ID     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: concurrent modification detected", e.Entity, e.ID)
}

// NewConflictError creates a conflict error for an entity.
func NewConflictError(entity, id string) *ConflictError {
	return &ConflictError{Entity: entity, ID: id}
}
