package store

import (
	"context"
	"sort"

	"github.com/educativo/edubot/internal/domain/course"
	"github.com/educativo/edubot/internal/domain/scoring"
	"github.com/educativo/edubot/internal/domain/shared"
	"github.com/educativo/edubot/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// COURSE COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

// CourseInput contains the data to create a course.
type CourseInput struct {
	Code        string
	Name        string
	Description string

	// Instructor is optional; empty means course.DefaultInstructor.
	Instructor string

	// ActorID becomes the course creator.
	ActorID string
}

// CourseCreated is the result of CreateCourse.
type CourseCreated struct {
	Course *course.Course

	// Bonus is the first-course bonus awarded, 0 if none.
	Bonus int

	// User is the creator after the bonus was applied.
	User *user.User
}

// CreateCourse registers a new course. Codes are unique case-insensitively,
// archived courses included.
func (c *Classroom) CreateCourse(ctx context.Context, in CourseInput) (CourseCreated, error) {
	now := c.now()
	created, err := course.New(in.Code, in.Name, in.Description, in.Instructor, in.ActorID, now)
	if err != nil {
		return CourseCreated{}, err
	}

	ch := &change{}

	c.mu.Lock()
	if _, exists := c.courses[created.Code]; exists {
		c.mu.Unlock()
		return CourseCreated{}, shared.ErrDuplicateCode
	}
	c.courses[created.Code] = created
	ch.touch(KindCourse, created.Code)
	ch.emit(shared.CourseEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventCourseCreated, c.tenant, created.Code, in.ActorID, now),
		Name:      created.Name,
	})

	u := c.materialize(in.ActorID, now, ch)
	bonus := 0
	if c.firstCourseBonus && c.countCoursesBy(in.ActorID) == 1 {
		bonus = scoring.FirstCourseBonus
		c.award(u, bonus, created.Code, "first_course", now, ch)
	}
	result := CourseCreated{Course: created.Clone(), Bonus: bonus, User: u.Clone()}
	c.mu.Unlock()

	c.commit(ctx, ch)
	return result, nil
}

// ArchiveCourse marks a course inactive. Only the creator may archive it.
func (c *Classroom) ArchiveCourse(ctx context.Context, code, actorID string) (*course.Course, error) {
	return c.mutateCourse(ctx, code, actorID, shared.EventCourseArchived, func(cr *course.Course) error {
		return cr.Archive(actorID)
	})
}

// UnarchiveCourse reactivates an archived course. Only the creator may do it.
func (c *Classroom) UnarchiveCourse(ctx context.Context, code, actorID string) (*course.Course, error) {
	return c.mutateCourse(ctx, code, actorID, shared.EventCourseUnarchived, func(cr *course.Course) error {
		return cr.Unarchive(actorID)
	})
}

func (c *Classroom) mutateCourse(
	ctx context.Context,
	code, actorID string,
	eventType shared.EventType,
	fn func(*course.Course) error,
) (*course.Course, error) {
	now := c.now()
	key := course.NormalizeCode(code)
	ch := &change{}

	c.mu.Lock()
	cr, ok := c.courses[key]
	if !ok {
		c.mu.Unlock()
		return nil, shared.ErrCourseNotFound
	}
	if err := fn(cr); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	ch.touch(KindCourse, key)
	ch.emit(shared.CourseEvent{
		BaseEvent: shared.NewBaseEvent(eventType, c.tenant, key, actorID, now),
		Name:      cr.Name,
	})
	c.materialize(actorID, now, ch)
	result := cr.Clone()
	c.mu.Unlock()

	c.commit(ctx, ch)
	return result, nil
}

// DeleteCourse removes a course. Only the creator may delete it, and only
// when no task references its code.
func (c *Classroom) DeleteCourse(ctx context.Context, code, actorID string) (*course.Course, error) {
	now := c.now()
	key := course.NormalizeCode(code)
	ch := &change{}

	c.mu.Lock()
	cr, ok := c.courses[key]
	if !ok {
		c.mu.Unlock()
		return nil, shared.ErrCourseNotFound
	}
	if !cr.IsOwnedBy(actorID) {
		c.mu.Unlock()
		return nil, shared.ErrCourseNotOwner
	}
	if n := c.countTasksIn(key); n > 0 {
		c.mu.Unlock()
		return nil, shared.WrapError("course", "Delete", shared.ErrConflict,
			"course has associated tasks", &TaskCountError{Code: key, Count: n})
	}
	delete(c.courses, key)
	ch.touch(KindCourse, key)
	ch.emit(shared.CourseEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventCourseDeleted, c.tenant, key, actorID, now),
		Name:      cr.Name,
	})
	c.materialize(actorID, now, ch)
	c.mu.Unlock()

	c.commit(ctx, ch)
	return cr, nil
}

// TaskCountError carries the number of tasks blocking a course deletion.
// It is wrapped by an error matching shared.ErrCourseHasTasks.
type TaskCountError struct {
	Code  string
	Count int
}

func (e *TaskCountError) Error() string {
	return "course " + e.Code + " is referenced by tasks"
}

// ══════════════════════════════════════════════════════════════════════════════
// COURSE QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// Course returns a copy of the course with the given code.
func (c *Classroom) Course(code string) (*course.Course, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cr, ok := c.courses[course.NormalizeCode(code)]
	if !ok {
		return nil, shared.ErrCourseNotFound
	}
	return cr.Clone(), nil
}

// Courses returns copies of all courses ordered by creation time.
func (c *Classroom) Courses() []*course.Course {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.coursesLocked()
}

// CountTasksIn returns how many tasks reference a course code.
func (c *Classroom) CountTasksIn(code string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.countTasksIn(course.NormalizeCode(code))
}

func (c *Classroom) coursesLocked() []*course.Course {
	out := make([]*course.Course, 0, len(c.courses))
	for _, cr := range c.courses {
		out = append(out, cr.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Code < out[j].Code
	})
	return out
}

func (c *Classroom) countCoursesBy(actorID string) int {
	n := 0
	for _, cr := range c.courses {
		if cr.IsOwnedBy(actorID) {
			n++
		}
	}
	return n
}

func (c *Classroom) countTasksIn(code string) int {
	n := 0
	for _, t := range c.tasks {
		if t.BelongsTo(code) {
			n++
		}
	}
	return n
}
