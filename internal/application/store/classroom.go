package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/educativo/edubot/internal/domain/course"
	"github.com/educativo/edubot/internal/domain/scoring"
	"github.com/educativo/edubot/internal/domain/shared"
	"github.com/educativo/edubot/internal/domain/task"
	"github.com/educativo/edubot/internal/domain/user"
	"github.com/educativo/edubot/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLASSROOM
// ══════════════════════════════════════════════════════════════════════════════

// Classroom holds the courses, tasks and users of one tenant.
//
// Mutations run under mu. Persistence runs afterwards under persistMu,
// re-reading the latest state of every touched record, so the last writer
// always persists the newest value and no I/O happens while mu is held.
type Classroom struct {
	tenant shared.TenantID

	mu      sync.RWMutex
	courses map[string]*course.Course // by normalized code
	tasks   map[string]*task.Task     // by id
	users   map[string]*user.User     // by actor id

	persistMu sync.Mutex

	persister        Persister
	events           shared.EventPublisher
	clock            timeutil.Clock
	isModerator      func(string) bool
	persistTimeout   time.Duration
	firstCourseBonus bool
	logger           *slog.Logger
}

func newClassroom(tenant shared.TenantID, cfg Config, logger *slog.Logger) *Classroom {
	return &Classroom{
		tenant:           tenant,
		courses:          make(map[string]*course.Course),
		tasks:            make(map[string]*task.Task),
		users:            make(map[string]*user.User),
		persister:        cfg.Persister,
		events:           cfg.Events,
		clock:            cfg.Clock,
		isModerator:      cfg.IsModerator,
		persistTimeout:   cfg.PersistTimeout,
		firstCourseBonus: cfg.FirstCourseBonus,
		logger:           logger.With("tenant", tenant.String()),
	}
}

// Tenant returns the tenant this classroom belongs to.
func (c *Classroom) Tenant() shared.TenantID {
	return c.tenant
}

func (c *Classroom) now() time.Time {
	return c.clock.Now()
}

// ══════════════════════════════════════════════════════════════════════════════
// CHANGE TRACKING
// ══════════════════════════════════════════════════════════════════════════════

// change collects what a mutation touched while the write lock is held.
type change struct {
	refs   []recordRef
	events []shared.Event
}

func (ch *change) touch(kind, id string) {
	for _, r := range ch.refs {
		if r.kind == kind && r.id == id {
			return
		}
	}
	ch.refs = append(ch.refs, recordRef{kind: kind, id: id})
}

func (ch *change) emit(e shared.Event) {
	ch.events = append(ch.events, e)
}

// commit writes every touched record through the persister and then
// publishes the collected events. It must be called without mu held.
// Failures are logged; the in-memory state is never rolled back.
func (c *Classroom) commit(ctx context.Context, ch *change) {
	if c.persister != nil && len(ch.refs) > 0 {
		c.persistMu.Lock()
		for _, ref := range ch.refs {
			c.persistRecord(ctx, ref)
		}
		c.persistMu.Unlock()
	}

	if c.events == nil {
		return
	}
	for _, e := range ch.events {
		if err := c.events.Publish(e); err != nil {
			c.logger.Warn("failed to publish event", "event_type", e.EventType(), "error", err)
		}
	}
}

func (c *Classroom) persistRecord(ctx context.Context, ref recordRef) {
	value, exists := c.currentRecord(ref)
	key := RecordKey(c.tenant, ref.kind, ref.id)

	// A cancelled request still persists what it changed.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.persistTimeout)
	defer cancel()

	var err error
	if exists {
		err = c.persister.Put(pctx, key, value)
	} else {
		_, err = c.persister.Delete(pctx, key)
	}
	if err != nil {
		c.logger.Error("write-through failed, change kept in memory",
			"key", key,
			"deleted", !exists,
			"error", err,
		)
	}
}

// currentRecord copies the latest state of a record under the read lock.
func (c *Classroom) currentRecord(ref recordRef) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch ref.kind {
	case KindCourse:
		if v, ok := c.courses[ref.id]; ok {
			return v.Clone(), true
		}
	case KindTask:
		if v, ok := c.tasks[ref.id]; ok {
			return v.Clone(), true
		}
	case KindUser:
		if v, ok := c.users[ref.id]; ok {
			return v.Clone(), true
		}
	}
	return nil, false
}

// ══════════════════════════════════════════════════════════════════════════════
// USER MATERIALIZATION (mu held)
// ══════════════════════════════════════════════════════════════════════════════

// materialize returns the user of actorID, creating it with score 0 if it
// does not exist yet, and records activity.
func (c *Classroom) materialize(actorID string, now time.Time, ch *change) *user.User {
	u, ok := c.users[actorID]
	if !ok {
		u = c.join(actorID, now, ch)
	} else {
		u.Touch(now)
	}
	ch.touch(KindUser, actorID)
	return u
}

// join creates and stores a new user. Callers hold the write lock.
func (c *Classroom) join(userID string, now time.Time, ch *change) *user.User {
	u := user.New(userID, user.DisplayNameFor(len(c.users)), c.isModerator(userID), now)
	c.users[userID] = u
	ch.emit(shared.UserJoinedEvent{
		BaseEvent:   shared.NewBaseEvent(shared.EventUserJoined, c.tenant, userID, userID, now),
		DisplayName: u.DisplayName,
	})
	return u
}

// award adds points to a user and emits the score and level events.
func (c *Classroom) award(u *user.User, amount int, courseCode, reason string, now time.Time, ch *change) (leveledUp bool, previous int) {
	previous = u.Level()
	if err := u.AddScore(amount, courseCode, now); err != nil {
		// amount comes from the scoring policy and is never negative.
		c.logger.Error("award rejected", "user_id", u.ID, "amount", amount, "error", err)
		return false, previous
	}
	ch.emit(shared.ScoreChangedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventScoreChanged, c.tenant, u.ID, u.ID, now),
		Delta:     amount,
		NewTotal:  u.Score,
		Reason:    reason,
	})
	if lvl := scoring.LevelOf(u.Score); lvl > previous {
		ch.emit(shared.LevelUpEvent{
			BaseEvent: shared.NewBaseEvent(shared.EventLevelUp, c.tenant, u.ID, u.ID, now),
			OldLevel:  previous,
			NewLevel:  lvl,
		})
		return true, previous
	}
	return false, previous
}
