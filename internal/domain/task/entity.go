// Package task contains the domain model of a unit of study work.
package task

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/educativo/edubot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Priority is the importance of a task. Only 1, 2 and 3 are valid.
type Priority int

const (
	// PriorityLow - baja.
	PriorityLow Priority = 1
	// PriorityMedium - media, the default.
	PriorityMedium Priority = 2
	// PriorityHigh - alta.
	PriorityHigh Priority = 3
)

// IsValid checks that the priority is in {1,2,3}.
func (p Priority) IsValid() bool {
	return p >= PriorityLow && p <= PriorityHigh
}

// Int returns the underlying value.
func (p Priority) Int() int {
	return int(p)
}

// ParsePriority parses a decimal priority and validates its range.
func ParsePriority(s string) (Priority, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, shared.WrapError("task", "ParsePriority", shared.ErrValidation, "priority must be a number", err)
	}
	p := Priority(n)
	if !p.IsValid() {
		return 0, shared.ErrInvalidPriority
	}
	return p, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: TASK
// ══════════════════════════════════════════════════════════════════════════════

// Task is a unit of study work, optionally tied to a course by code.
// The course is referenced by value, never by pointer.
type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`

	// CourseCode is the upper-cased code of the course, or shared.GeneralCourse.
	CourseCode string `json:"course_code"`

	CreatorID string   `json:"creator_id"`
	Priority  Priority `json:"priority"`

	// Completed is monotonic: once true it is never reset.
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	DueAt     *time.Time `json:"due_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// New creates a pending task with validation.
// An empty course code places the task in the general bucket.
func New(title, description, courseCode, creatorID string, priority Priority, now time.Time) (*Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, shared.ErrEmptyTaskTitle
	}
	if !priority.IsValid() {
		return nil, shared.ErrInvalidPriority
	}

	code := strings.ToUpper(strings.TrimSpace(courseCode))
	if shared.IsGeneralCourse(code) {
		code = shared.GeneralCourse
	}

	return &Task{
		ID:          uuid.New().String(),
		Title:       title,
		Description: strings.TrimSpace(description),
		CourseCode:  code,
		CreatorID:   creatorID,
		Priority:    priority,
		CreatedAt:   now,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// BEHAVIOR
// ══════════════════════════════════════════════════════════════════════════════

// IsOwnedBy reports whether actorID created the task.
func (t *Task) IsOwnedBy(actorID string) bool {
	return t.CreatorID == actorID
}

// InGeneralBucket reports whether the task has no specific course.
func (t *Task) InGeneralBucket() bool {
	return t.CourseCode == shared.GeneralCourse
}

// BelongsTo reports whether the task references the given course code.
func (t *Task) BelongsTo(courseCode string) bool {
	return strings.EqualFold(t.CourseCode, strings.TrimSpace(courseCode))
}

// Complete marks the task as done.
func (t *Task) Complete(actorID string, now time.Time) error {
	if !t.IsOwnedBy(actorID) {
		return shared.ErrTaskNotOwner
	}
	if t.Completed {
		return shared.ErrTaskAlreadyCompleted
	}
	t.Completed = true
	t.CompletedAt = &now
	return nil
}

// SetDueDate sets the deadline. Dates before now are rejected.
func (t *Task) SetDueDate(actorID string, due, now time.Time) error {
	if !t.IsOwnedBy(actorID) {
		return shared.ErrTaskNotOwner
	}
	if due.Before(now) {
		return shared.ErrPastDueDate
	}
	t.DueAt = &due
	return nil
}

// SetPriority changes the priority.
func (t *Task) SetPriority(actorID string, p Priority) error {
	if !t.IsOwnedBy(actorID) {
		return shared.ErrTaskNotOwner
	}
	if !p.IsValid() {
		return shared.ErrInvalidPriority
	}
	t.Priority = p
	return nil
}

// IsOverdue reports whether the task is pending past its due date.
func (t *Task) IsOverdue(now time.Time) bool {
	return !t.Completed && t.DueAt != nil && t.DueAt.Before(now)
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.DueAt != nil {
		due := *t.DueAt
		cp.DueAt = &due
	}
	if t.CompletedAt != nil {
		done := *t.CompletedAt
		cp.CompletedAt = &done
	}
	return &cp
}
