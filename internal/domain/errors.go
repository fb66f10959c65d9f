package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Concrete error values match them through errors.Is.
var (
	ErrValidation             = errors.New("validation failed")
	ErrInvalidState           = errors.New("invalid state")
	ErrNotFound               = errors.New("not found")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrDuplicate              = errors.New("already exists")
)

// Entity names the component that rejected an input.
type Entity string

const (
	EntityApproval Entity = "approval"
	EntityWorkflow Entity = "workflow"
	EntityStep     Entity = "step"
	EntityAction   Entity = "action"
)

// ValidationError reports malformed or missing input.
type ValidationError struct {
	Entity  Entity
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s validation: %s", e.Entity, e.Message)
}

// Is makes errors.Is(err, ErrValidation) true for every ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func newValidationError(entity Entity, format string, args ...any) *ValidationError {
	return &ValidationError{Entity: entity, Message: fmt.Sprintf(format, args...)}
}

// StateError reports an operation attempted from a status that forbids it.
// To is empty when the operation does not change status (e.g. approve_step).
type StateError struct {
	From      ApprovalStatus
	To        ApprovalStatus
	Operation string
}

func (e *StateError) Error() string {
	if e.To == "" {
		return fmt.Sprintf("cannot %s from %s state", e.Operation, e.From)
	}
	return fmt.Sprintf("cannot %s from %s state: transition %s -> %s is not allowed",
		e.Operation, e.From, e.From, e.To)
}

// Is makes errors.Is(err, ErrInvalidState) true for every StateError.
func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}
