// Package course contains the domain model of an academic subject.
// It is pure business logic with no infrastructure dependencies.
package course

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/educativo/edubot/internal/domain/shared"
)

// DefaultInstructor is shown when a course is created without an instructor.
const DefaultInstructor = "Sin asignar"

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: COURSE
// ══════════════════════════════════════════════════════════════════════════════

// Course is an academic subject identified by a unique human-readable code.
type Course struct {
	// ID is the generated opaque identifier (UUID).
	ID string `json:"id"`

	// Code is the unique human key, always stored upper-cased.
	Code string `json:"code"`

	// Name is the display name. Never empty.
	Name string `json:"name"`

	// Description is optional free text.
	Description string `json:"description"`

	// Instructor defaults to DefaultInstructor.
	Instructor string `json:"instructor"`

	// Active is false once the course is archived.
	Active bool `json:"active"`

	// CreatorID is the actor who created the course and the only one allowed
	// to archive, unarchive or delete it.
	CreatorID string `json:"creator_id"`

	// CreatedAt is the creation time.
	CreatedAt time.Time `json:"created_at"`
}

// NormalizeCode trims and upper-cases a course code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// New creates an active course with validation.
func New(code, name, description, instructor, creatorID string, now time.Time) (*Course, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, shared.ErrEmptyCourseCode
	}
	if shared.IsGeneralCourse(code) {
		return nil, shared.ErrReservedCourseCode
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, shared.ErrEmptyCourseName
	}

	instructor = strings.TrimSpace(instructor)
	if instructor == "" {
		instructor = DefaultInstructor
	}

	return &Course{
		ID:          uuid.New().String(),
		Code:        code,
		Name:        name,
		Description: strings.TrimSpace(description),
		Instructor:  instructor,
		Active:      true,
		CreatorID:   creatorID,
		CreatedAt:   now,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// BEHAVIOR
// ══════════════════════════════════════════════════════════════════════════════

// IsOwnedBy reports whether actorID created the course.
func (c *Course) IsOwnedBy(actorID string) bool {
	return c.CreatorID == actorID
}

// HasInstructor reports whether an instructor other than the default was set.
func (c *Course) HasInstructor() bool {
	return c.Instructor != "" && c.Instructor != DefaultInstructor
}

// Archive soft-removes the course.
func (c *Course) Archive(actorID string) error {
	if !c.IsOwnedBy(actorID) {
		return shared.ErrCourseNotOwner
	}
	if !c.Active {
		return shared.ErrCourseAlreadyArchived
	}
	c.Active = false
	return nil
}

// Unarchive restores an archived course.
func (c *Course) Unarchive(actorID string) error {
	if !c.IsOwnedBy(actorID) {
		return shared.ErrCourseNotOwner
	}
	if c.Active {
		return shared.ErrCourseNotArchived
	}
	c.Active = true
	return nil
}

// Clone returns a copy that shares no state with c.
func (c *Course) Clone() *Course {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
