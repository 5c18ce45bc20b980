package store

import (
	"context"
	"sort"
	"time"

	"github.com/educativo/edubot/internal/domain/course"
	"github.com/educativo/edubot/internal/domain/shared"
	"github.com/educativo/edubot/internal/domain/task"
	"github.com/educativo/edubot/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

// EnsureUser returns the user of actorID, creating it with score 0 on first
// interaction, and records activity.
func (c *Classroom) EnsureUser(ctx context.Context, actorID string) *user.User {
	ch := &change{}

	c.mu.Lock()
	u := c.materialize(actorID, c.now(), ch)
	result := u.Clone()
	c.mu.Unlock()

	c.commit(ctx, ch)
	return result
}

// LookupOrCreate returns the user of userID, creating it with score 0 when
// unknown. No activity is recorded: a user someone else looks up stays
// inactive until they act themselves.
func (c *Classroom) LookupOrCreate(ctx context.Context, userID string) *user.User {
	ch := &change{}

	c.mu.Lock()
	u, ok := c.users[userID]
	if !ok {
		u = c.join(userID, c.now(), ch)
		u.LastActiveAt = time.Time{}
		ch.touch(KindUser, userID)
	}
	result := u.Clone()
	c.mu.Unlock()

	c.commit(ctx, ch)
	return result
}

// DeductScore removes points from a known user. The score never drops
// below zero. Moderator checks belong to the caller.
func (c *Classroom) DeductScore(ctx context.Context, targetID, actorID string, amount int) (*user.User, error) {
	now := c.now()
	ch := &change{}

	c.mu.Lock()
	u, ok := c.users[targetID]
	if !ok {
		c.mu.Unlock()
		return nil, shared.ErrUserNotFound
	}
	before := u.Score
	if err := u.Deduct(amount, now); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	ch.touch(KindUser, targetID)
	ch.emit(shared.ScoreChangedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventScoreChanged, c.tenant, targetID, actorID, now),
		Delta:     u.Score - before,
		NewTotal:  u.Score,
		Reason:    "penalty",
	})
	result := u.Clone()
	c.mu.Unlock()

	c.commit(ctx, ch)
	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// USER QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// User returns a copy of a known user.
func (c *Classroom) User(id string) (*user.User, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	u, ok := c.users[id]
	if !ok {
		return nil, shared.ErrUserNotFound
	}
	return u.Clone(), nil
}

// Users returns copies of all users in join order.
func (c *Classroom) Users() []*user.User {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := c.usersLocked()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Ranking returns up to limit users ordered by score descending, ties by
// earliest join. A limit <= 0 returns everyone.
func (c *Classroom) Ranking(limit int) []*user.User {
	c.mu.RLock()
	ranked := c.rankedLocked()
	c.mu.RUnlock()

	if limit > 0 && limit < len(ranked) {
		ranked = ranked[:limit]
	}
	return ranked
}

// Rank returns the 1-based ranking position of a user and the number of
// ranked users. ok is false for unknown users.
func (c *Classroom) Rank(id string) (position, total int, ok bool) {
	c.mu.RLock()
	ranked := c.rankedLocked()
	c.mu.RUnlock()

	for i, u := range ranked {
		if u.ID == id {
			return i + 1, len(ranked), true
		}
	}
	return 0, len(ranked), false
}

func (c *Classroom) usersLocked() []*user.User {
	out := make([]*user.User, 0, len(c.users))
	for _, u := range c.users {
		out = append(out, u.Clone())
	}
	return out
}

func (c *Classroom) rankedLocked() []*user.User {
	out := c.usersLocked()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// AGGREGATES
// ══════════════════════════════════════════════════════════════════════════════

// Stats aggregates the state of a classroom.
type Stats struct {
	Users         int
	ActiveUsers   int
	TotalPoints   int
	AveragePoints int

	// TopUser is nil when there are no users.
	TopUser *user.User

	Courses         int
	ActiveCourses   int
	ArchivedCourses int

	Tasks          int
	CompletedTasks int
	PendingTasks   int
	OverdueTasks   int

	// CompletionRate is a whole percentage.
	CompletionRate int
}

// Stats computes the classroom aggregates.
func (c *Classroom) Stats() Stats {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	var s Stats
	s.Users = len(c.users)
	for _, u := range c.users {
		s.TotalPoints += u.Score
		if u.IsActive(now) {
			s.ActiveUsers++
		}
	}
	if s.Users > 0 {
		s.AveragePoints = s.TotalPoints / s.Users
		s.TopUser = c.rankedLocked()[0]
	}

	s.Courses = len(c.courses)
	for _, cr := range c.courses {
		if cr.Active {
			s.ActiveCourses++
		}
	}
	s.ArchivedCourses = s.Courses - s.ActiveCourses

	s.Tasks = len(c.tasks)
	for _, t := range c.tasks {
		switch {
		case t.Completed:
			s.CompletedTasks++
		case t.IsOverdue(now):
			s.OverdueTasks++
		}
	}
	s.PendingTasks = s.Tasks - s.CompletedTasks
	if s.Tasks > 0 {
		s.CompletionRate = s.CompletedTasks * 100 / s.Tasks
	}
	return s
}

// Snapshot is a consistent copy of a whole classroom.
type Snapshot struct {
	Tenant  shared.TenantID
	Courses []*course.Course
	Tasks   []*task.Task
	Users   []*user.User
}

// Snapshot copies every entity under a single read lock.
func (c *Classroom) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		Tenant:  c.tenant,
		Courses: c.coursesLocked(),
		Tasks:   c.filterTasksLocked(func(*task.Task) bool { return true }),
		Users:   c.rankedLocked(),
	}
}
