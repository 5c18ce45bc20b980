// Package store is the Entity Store: the single owner of courses, tasks and
// users, scoped per tenant. Every read returns a copy; every mutation is
// written through the persistence gateway after the lock is released.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/educativo/edubot/internal/domain/course"
	"github.com/educativo/edubot/internal/domain/shared"
	"github.com/educativo/edubot/internal/domain/task"
	"github.com/educativo/edubot/internal/domain/user"
	"github.com/educativo/edubot/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Persister is the slice of the persistence gateway the store needs.
// *persistence.Gateway satisfies it.
type Persister interface {
	Put(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) (bool, error)
	Keys(prefix string) []string
	GetInto(key string, dest any) (bool, error)
}

// Config holds the store dependencies.
type Config struct {
	// Persister receives every touched record. Nil keeps the store in memory only.
	Persister Persister

	// Events receives domain events after a mutation is persisted. Optional.
	Events shared.EventPublisher

	// Clock defaults to timeutil.SystemClock.
	Clock timeutil.Clock

	// IsModerator marks users as moderators when they are materialized.
	IsModerator func(actorID string) bool

	// PersistTimeout bounds every write-through call.
	PersistTimeout time.Duration

	// FirstCourseBonus enables the bonus for a user's first course.
	FirstCourseBonus bool

	Logger *slog.Logger
}

// DefaultConfig returns a memory-only configuration.
func DefaultConfig() Config {
	return Config{
		Clock:            timeutil.SystemClock{},
		PersistTimeout:   3 * time.Second,
		FirstCourseBonus: true,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HUB
// ══════════════════════════════════════════════════════════════════════════════

// Hub owns one Classroom per tenant. Classrooms are created on first use.
type Hub struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	rooms map[shared.TenantID]*Classroom
}

// NewHub creates an empty hub.
func NewHub(cfg Config) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.SystemClock{}
	}
	if cfg.IsModerator == nil {
		cfg.IsModerator = func(string) bool { return false }
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 3 * time.Second
	}
	return &Hub{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "store"),
		rooms:  make(map[shared.TenantID]*Classroom),
	}
}

// Classroom returns the classroom of a tenant, creating it if needed.
// An empty tenant maps to the global classroom.
func (h *Hub) Classroom(tenant shared.TenantID) *Classroom {
	tenant = tenant.OrGlobal()

	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[tenant]
	if !ok {
		room = newClassroom(tenant, h.cfg, h.logger)
		h.rooms[tenant] = room
	}
	return room
}

// Tenants returns the known tenants in order.
func (h *Hub) Tenants() []shared.TenantID {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]shared.TenantID, 0, len(h.rooms))
	for t := range h.rooms {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Load rebuilds every classroom from the records held by the persister.
// Records that cannot be decoded are logged and skipped.
func (h *Hub) Load(ctx context.Context) error {
	p := h.cfg.Persister
	if p == nil {
		return nil
	}

	var courses, tasks, users int
	for _, key := range p.Keys(keyPrefix) {
		if err := ctx.Err(); err != nil {
			return err
		}

		tenant, kind, id, ok := parseKey(key)
		if !ok {
			h.logger.Warn("skipping unrecognized key", "key", key)
			continue
		}
		room := h.Classroom(tenant)

		var err error
		switch kind {
		case KindCourse:
			var c course.Course
			if err = decode(p, key, &c); err == nil {
				room.courses[course.NormalizeCode(c.Code)] = &c
				courses++
			}
		case KindTask:
			var t task.Task
			if err = decode(p, key, &t); err == nil {
				room.tasks[t.ID] = &t
				tasks++
			}
		case KindUser:
			var u user.User
			if err = decode(p, key, &u); err == nil {
				if u.ScoreByCourse == nil {
					u.ScoreByCourse = make(map[string]int)
				}
				room.users[u.ID] = &u
				users++
			}
		default:
			h.logger.Warn("skipping unknown record kind", "key", key, "kind", kind)
			continue
		}
		if err != nil {
			h.logger.Error("failed to decode record", "key", key, "id", id, "error", err)
		}
	}

	h.logger.Info("store loaded",
		"tenants", len(h.Tenants()),
		"courses", courses,
		"tasks", tasks,
		"users", users,
	)
	return nil
}

func decode(p Persister, key string, dest any) error {
	ok, err := p.GetInto(key, dest)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("key %q vanished during load", key)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// KEY LAYOUT
// ══════════════════════════════════════════════════════════════════════════════

const keyPrefix = "aula:"

// Record kinds of the key layout.
const (
	KindCourse = "curso"
	KindTask   = "tarea"
	KindUser   = "usuario"
)

// recordRef names one persisted record of a classroom.
type recordRef struct {
	kind string
	id   string
}

// RecordKey returns the gateway key of a record: aula:<tenant>:<kind>:<id>.
func RecordKey(tenant shared.TenantID, kind, id string) string {
	return keyPrefix + tenant.OrGlobal().String() + ":" + kind + ":" + id
}

func parseKey(key string) (shared.TenantID, string, string, bool) {
	if !strings.HasPrefix(key, keyPrefix) {
		return "", "", "", false
	}
	parts := strings.SplitN(strings.TrimPrefix(key, keyPrefix), ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return shared.TenantID(parts[0]), parts[1], parts[2], true
}
