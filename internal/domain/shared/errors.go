// Package shared contains common domain types, errors and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base error kinds that can be used for error checking with errors.Is().
// Every failure surfaced by the domain carries exactly one of them.
var (
	// ErrValidation covers empty titles/names, out-of-range priorities,
	// malformed dates and malformed integers.
	ErrValidation = errors.New("validation error")

	// ErrNotFound covers unknown course codes, task references and users.
	ErrNotFound = errors.New("entity not found")

	// ErrForbidden covers non-owner mutations and moderator-only actions.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict covers duplicate codes, deleting a course with tasks and
	// completing an already completed task.
	ErrConflict = errors.New("conflict")

	// ErrPersistence covers I/O failures of the durability layer.
	ErrPersistence = errors.New("persistence error")

	// ErrTimeout marks an operation that exceeded its deadline.
	ErrTimeout = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "course", "task", "user"
	Op      string // Operation that failed, e.g., "Create", "Archive"
	Kind    error  // Base error kind for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if t, ok := target.(*DomainError); ok {
		return e.Domain == t.Domain && e.Op == t.Op && e.Message == t.Message
	}
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Course domain errors
var (
	ErrCourseNotFound        = NewDomainError("course", "Find", ErrNotFound, "course not found")
	ErrDuplicateCode         = NewDomainError("course", "Create", ErrConflict, "course code already exists")
	ErrEmptyCourseCode       = NewDomainError("course", "Validate", ErrValidation, "course code cannot be empty")
	ErrEmptyCourseName       = NewDomainError("course", "Validate", ErrValidation, "course name cannot be empty")
	ErrReservedCourseCode    = NewDomainError("course", "Validate", ErrValidation, "course code is reserved")
	ErrCourseNotOwner        = NewDomainError("course", "Authorize", ErrForbidden, "only the creator can modify the course")
	ErrCourseAlreadyArchived = NewDomainError("course", "Archive", ErrConflict, "course already archived")
	ErrCourseNotArchived     = NewDomainError("course", "Unarchive", ErrConflict, "course is not archived")
	ErrCourseHasTasks        = NewDomainError("course", "Delete", ErrConflict, "course has associated tasks")
)

// Task domain errors
var (
	ErrTaskNotFound         = NewDomainError("task", "Find", ErrNotFound, "task not found")
	ErrEmptyTaskTitle       = NewDomainError("task", "Validate", ErrValidation, "task title cannot be empty")
	ErrInvalidPriority      = NewDomainError("task", "Validate", ErrValidation, "priority must be between 1 and 3")
	ErrUnknownCourse        = NewDomainError("task", "Create", ErrNotFound, "referenced course does not exist")
	ErrTaskNotOwner         = NewDomainError("task", "Authorize", ErrForbidden, "only the creator can modify the task")
	ErrTaskAlreadyCompleted = NewDomainError("task", "Complete", ErrConflict, "task already completed")
	ErrPastDueDate          = NewDomainError("task", "SetDueDate", ErrValidation, "due date cannot be in the past")
)

// User domain errors
var (
	ErrUserNotFound  = NewDomainError("user", "Find", ErrNotFound, "user not found")
	ErrNegativeScore = NewDomainError("user", "Score", ErrValidation, "score amount cannot be negative")
)

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsPermission checks if the error is a permission error.
func IsPermission(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsConflict checks if the error is a conflict error.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsPersistence checks if the error comes from the durability layer.
func IsPersistence(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrPersistence)
}
