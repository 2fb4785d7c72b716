package model

import "fmt"

// NotFoundError indicates a referenced shift, proposal, caregiver, visit,
// or configuration is absent (or soft-deleted).
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// NewNotFound builds a NotFoundError for a resource and its identifier.
func NewNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ConflictError indicates a uniqueness invariant would be violated, such as
// a second open shift for a visit or a claim on an assigned shift.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// NewConflict builds a ConflictError with a formatted message.
func NewConflict(format string, args ...any) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ValidationError indicates input rejected by schema or business rule.
// Details carries machine-readable context, e.g. the failing score and the
// threshold on a self-select claim.
type ValidationError struct {
	Message string
	Details map[string]any
}

func (e *ValidationError) Error() string { return e.Message }

// NewValidation builds a ValidationError with a formatted message.
func NewValidation(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// WithDetail attaches one machine-readable detail and returns the error for
// chaining.
func (e *ValidationError) WithDetail(key string, value any) *ValidationError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// StateError indicates an illegal state machine transition.
type StateError struct {
	Entity string
	From   string
	To     string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s cannot transition from %s to %s", e.Entity, e.From, e.To)
}

// NewStateError builds a StateError for an entity and the refused move.
func NewStateError(entity, from, to string) *StateError {
	return &StateError{Entity: entity, From: from, To: to}
}

// ConcurrencyError indicates a lost CAS on shift status: another worker is
// advancing the same shift. Callers may retry after backoff.
type ConcurrencyError struct {
	Message string
}

func (e *ConcurrencyError) Error() string { return e.Message }

// NewConcurrency builds a ConcurrencyError with a formatted message.
func NewConcurrency(format string, args ...any) *ConcurrencyError {
	return &ConcurrencyError{Message: fmt.Sprintf(format, args...)}
}

// PermissionError indicates the authorization context lacks the required
// capability.
type PermissionError struct {
	Message string
}

func (e *PermissionError) Error() string { return e.Message }

// NewPermission builds a PermissionError with a formatted message.
func NewPermission(format string, args ...any) *PermissionError {
	return &PermissionError{Message: fmt.Sprintf(format, args...)}
}

// DataPortError wraps a failed downstream read or write. The matcher rolls
// back in-progress state before surfacing one.
type DataPortError struct {
	Op  string
	Err error
}

func (e *DataPortError) Error() string {
	return fmt.Sprintf("data port %s: %v", e.Op, e.Err)
}

func (e *DataPortError) Unwrap() error { return e.Err }

// NewDataPortError wraps err as a DataPortError for the named operation.
func NewDataPortError(op string, err error) *DataPortError {
	return &DataPortError{Op: op, Err: err}
}
