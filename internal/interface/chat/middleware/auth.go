package middleware

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONTEXT KEYS
// ══════════════════════════════════════════════════════════════════════════════

type contextKey string

const (
	// ActorIDContextKey is the context key for the chat user ID.
	ActorIDContextKey contextKey = "actor_id"

	// RequestIDContextKey is the context key for request tracing.
	RequestIDContextKey contextKey = "request_id"
)

// ContextWithActorID adds the actor ID to context.
func ContextWithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, ActorIDContextKey, actorID)
}

// ActorIDFromContext retrieves the actor ID from context.
// Returns "" if not found.
func ActorIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ActorIDContextKey).(string)
	return id
}

// ContextWithRequestID adds a request ID to context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDContextKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDContextKey).(string)
	return id
}

// ══════════════════════════════════════════════════════════════════════════════
// MODERATOR ALLOW-LIST
// ══════════════════════════════════════════════════════════════════════════════

// DefaultModerators are the moderator ids used when none are configured.
var DefaultModerators = []string{"123456789", "987654321"}

// ModeratorList is the static allow-list of moderator ids.
// It is safe for concurrent use.
type ModeratorList struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewModeratorList creates an allow-list. Blank ids are ignored.
func NewModeratorList(ids ...string) *ModeratorList {
	m := &ModeratorList{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		m.Add(id)
	}
	return m
}

// IsModerator reports whether actorID is on the list.
func (m *ModeratorList) IsModerator(actorID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.ids[strings.TrimSpace(actorID)]
	return ok
}

// Add puts an id on the list.
func (m *ModeratorList) Add(actorID string) {
	id := strings.TrimSpace(actorID)
	if id == "" {
		return
	}
	m.mu.Lock()
	m.ids[id] = struct{}{}
	m.mu.Unlock()
}

// IDs returns the sorted ids.
func (m *ModeratorList) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.ids))
	for id := range m.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
