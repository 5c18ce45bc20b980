package store

import (
	"context"
	"sort"
	"time"

	"github.com/educativo/edubot/internal/domain/course"
	"github.com/educativo/edubot/internal/domain/scoring"
	"github.com/educativo/edubot/internal/domain/shared"
	"github.com/educativo/edubot/internal/domain/task"
	"github.com/educativo/edubot/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// TASK COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

// TaskInput contains the data to create a task.
type TaskInput struct {
	Title       string
	Description string

	// CourseCode is optional; empty or "General" means the general bucket.
	CourseCode string

	// Priority 0 means task.PriorityMedium.
	Priority task.Priority

	ActorID string
}

// Completion is the result of CompleteTask.
type Completion struct {
	Task *task.Task

	// Reward is Base + Bonus.
	Reward int
	Base   int
	Bonus  int

	// User is the actor after the reward was applied.
	User *user.User

	LeveledUp     bool
	PreviousLevel int
}

// CreateTask registers a pending task. A course other than the general
// bucket must exist; archived courses are accepted.
func (c *Classroom) CreateTask(ctx context.Context, in TaskInput) (*task.Task, error) {
	now := c.now()
	priority := in.Priority
	if priority == 0 {
		priority = task.PriorityMedium
	}
	created, err := task.New(in.Title, in.Description, in.CourseCode, in.ActorID, priority, now)
	if err != nil {
		return nil, err
	}

	ch := &change{}

	c.mu.Lock()
	if !created.InGeneralBucket() {
		if _, ok := c.courses[course.NormalizeCode(created.CourseCode)]; !ok {
			c.mu.Unlock()
			return nil, shared.ErrUnknownCourse
		}
	}
	c.tasks[created.ID] = created
	ch.touch(KindTask, created.ID)
	ch.emit(c.taskEvent(shared.EventTaskCreated, created, in.ActorID, 0, now))
	c.materialize(in.ActorID, now, ch)
	result := created.Clone()
	c.mu.Unlock()

	c.commit(ctx, ch)
	return result, nil
}

// CompleteTask marks a task completed and awards its reward to the actor
// under the task's course. Completing twice fails and leaves the score as is.
func (c *Classroom) CompleteTask(ctx context.Context, taskID, actorID string) (Completion, error) {
	now := c.now()
	ch := &change{}

	c.mu.Lock()
	t, ok := c.tasks[taskID]
	if !ok {
		c.mu.Unlock()
		return Completion{}, shared.ErrTaskNotFound
	}
	if err := t.Complete(actorID, now); err != nil {
		c.mu.Unlock()
		return Completion{}, err
	}

	bonus := scoring.PriorityBonus(t.Priority.Int())
	reward := scoring.TaskReward(t.Priority.Int())

	ch.touch(KindTask, t.ID)
	ch.emit(c.taskEvent(shared.EventTaskCompleted, t, actorID, reward, now))
	u := c.materialize(actorID, now, ch)
	leveledUp, previous := c.award(u, reward, t.CourseCode, "task_completion", now, ch)

	result := Completion{
		Task:          t.Clone(),
		Reward:        reward,
		Base:          scoring.BaseTaskReward,
		Bonus:         bonus,
		User:          u.Clone(),
		LeveledUp:     leveledUp,
		PreviousLevel: previous,
	}
	c.mu.Unlock()

	c.commit(ctx, ch)
	return result, nil
}

// SetDueDate sets the due date of a task. The date cannot be in the past.
func (c *Classroom) SetDueDate(ctx context.Context, taskID, actorID string, due time.Time) (*task.Task, error) {
	return c.mutateTask(ctx, taskID, actorID, func(t *task.Task, now time.Time) error {
		return t.SetDueDate(actorID, due, now)
	})
}

// SetPriority changes the priority of a task and returns the task together
// with the previous priority.
func (c *Classroom) SetPriority(ctx context.Context, taskID, actorID string, p task.Priority) (*task.Task, task.Priority, error) {
	var previous task.Priority
	t, err := c.mutateTask(ctx, taskID, actorID, func(t *task.Task, _ time.Time) error {
		previous = t.Priority
		return t.SetPriority(actorID, p)
	})
	return t, previous, err
}

func (c *Classroom) mutateTask(
	ctx context.Context,
	taskID, actorID string,
	fn func(*task.Task, time.Time) error,
) (*task.Task, error) {
	now := c.now()
	ch := &change{}

	c.mu.Lock()
	t, ok := c.tasks[taskID]
	if !ok {
		c.mu.Unlock()
		return nil, shared.ErrTaskNotFound
	}
	if err := fn(t, now); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	ch.touch(KindTask, t.ID)
	c.materialize(actorID, now, ch)
	result := t.Clone()
	c.mu.Unlock()

	c.commit(ctx, ch)
	return result, nil
}

// DeleteTask removes a task. Only the creator may delete it.
func (c *Classroom) DeleteTask(ctx context.Context, taskID, actorID string) (*task.Task, error) {
	now := c.now()
	ch := &change{}

	c.mu.Lock()
	t, ok := c.tasks[taskID]
	if !ok {
		c.mu.Unlock()
		return nil, shared.ErrTaskNotFound
	}
	if !t.IsOwnedBy(actorID) {
		c.mu.Unlock()
		return nil, shared.ErrTaskNotOwner
	}
	delete(c.tasks, taskID)
	ch.touch(KindTask, taskID)
	ch.emit(c.taskEvent(shared.EventTaskDeleted, t, actorID, 0, now))
	c.materialize(actorID, now, ch)
	c.mu.Unlock()

	c.commit(ctx, ch)
	return t, nil
}

func (c *Classroom) taskEvent(eventType shared.EventType, t *task.Task, actorID string, reward int, now time.Time) shared.TaskEvent {
	return shared.TaskEvent{
		BaseEvent:  shared.NewBaseEvent(eventType, c.tenant, t.ID, actorID, now),
		Title:      t.Title,
		CourseCode: t.CourseCode,
		Priority:   t.Priority.Int(),
		Reward:     reward,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TASK QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// Task returns a copy of the task with the given id.
func (c *Classroom) Task(id string) (*task.Task, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.tasks[id]
	if !ok {
		return nil, shared.ErrTaskNotFound
	}
	return t.Clone(), nil
}

// Tasks returns copies of all tasks in creation order.
func (c *Classroom) Tasks() []*task.Task {
	return c.filterTasks(func(*task.Task) bool { return true })
}

// TasksByCreator returns copies of the tasks created by actorID in creation order.
func (c *Classroom) TasksByCreator(actorID string) []*task.Task {
	return c.filterTasks(func(t *task.Task) bool { return t.IsOwnedBy(actorID) })
}

// TasksByCourse returns copies of the tasks referencing a course code.
func (c *Classroom) TasksByCourse(code string) []*task.Task {
	code = course.NormalizeCode(code)
	return c.filterTasks(func(t *task.Task) bool { return t.BelongsTo(code) })
}

// TaskStats summarizes the tasks of one creator.
type TaskStats struct {
	Total     int
	Completed int
	Pending   int
	Overdue   int
}

// TaskStatsFor counts the tasks created by actorID.
func (c *Classroom) TaskStatsFor(actorID string) TaskStats {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	var s TaskStats
	for _, t := range c.tasks {
		if !t.IsOwnedBy(actorID) {
			continue
		}
		s.Total++
		switch {
		case t.Completed:
			s.Completed++
		case t.IsOverdue(now):
			s.Pending++
			s.Overdue++
		default:
			s.Pending++
		}
	}
	return s
}

func (c *Classroom) filterTasks(keep func(*task.Task) bool) []*task.Task {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filterTasksLocked(keep)
}

func (c *Classroom) filterTasksLocked(keep func(*task.Task) bool) []*task.Task {
	out := make([]*task.Task, 0)
	for _, t := range c.tasks {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	sortByCreation(out)
	return out
}

func sortByCreation(tasks []*task.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}
