package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each one records something significant that happened
// inside a classroom.
const (
	// Course events
	EventCourseCreated    EventType = "course.created"
	EventCourseArchived   EventType = "course.archived"
	EventCourseUnarchived EventType = "course.unarchived"
	EventCourseDeleted    EventType = "course.deleted"

	// Task events
	EventTaskCreated   EventType = "task.created"
	EventTaskCompleted EventType = "task.completed"
	EventTaskDeleted   EventType = "task.deleted"

	// Progress events
	EventUserJoined   EventType = "progress.user_joined"
	EventScoreChanged EventType = "progress.score_changed"
	EventLevelUp      EventType = "progress.level_up"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
	Tenant      TenantID  `json:"tenant"`
	ActorID     string    `json:"actor_id"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, tenant TenantID, aggregateID, actorID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Tenant:      tenant,
		ActorID:     actorID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Course Events
// ═══════════════════════════════════════════════════════════════════════════

// CourseEvent is emitted on every course lifecycle change.
// The aggregate id is the course code.
type CourseEvent struct {
	BaseEvent
	Name string `json:"name"`
}

// Payload implements Event interface.
func (e CourseEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"tenant":   e.Tenant.String(),
		"code":     e.AggregateId,
		"name":     e.Name,
		"actor_id": e.ActorID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Task Events
// ═══════════════════════════════════════════════════════════════════════════

// TaskEvent is emitted when a task is created, completed or deleted.
type TaskEvent struct {
	BaseEvent
	Title      string `json:"title"`
	CourseCode string `json:"course_code"`
	Priority   int    `json:"priority"`

	// Reward is set on completion only.
	Reward int `json:"reward,omitempty"`
}

// Payload implements Event interface.
func (e TaskEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"tenant":      e.Tenant.String(),
		"task_id":     e.AggregateId,
		"title":       e.Title,
		"course_code": e.CourseCode,
		"priority":    e.Priority,
		"reward":      e.Reward,
		"actor_id":    e.ActorID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// UserJoinedEvent is emitted when a user is first materialized.
type UserJoinedEvent struct {
	BaseEvent
	DisplayName string `json:"display_name"`
}

// Payload implements Event interface.
func (e UserJoinedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"tenant":       e.Tenant.String(),
		"user_id":      e.AggregateId,
		"display_name": e.DisplayName,
	}
}

// ScoreChangedEvent is emitted when a user's score changes.
type ScoreChangedEvent struct {
	BaseEvent
	Delta    int    `json:"delta"`
	NewTotal int    `json:"new_total"`
	Reason   string `json:"reason"` // e.g. "task_completion", "first_course", "penalty"
}

// Payload implements Event interface.
func (e ScoreChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"tenant":    e.Tenant.String(),
		"user_id":   e.AggregateId,
		"delta":     e.Delta,
		"new_total": e.NewTotal,
		"reason":    e.Reason,
	}
}

// LevelUpEvent is emitted when a score change crosses a level threshold.
type LevelUpEvent struct {
	BaseEvent
	OldLevel int `json:"old_level"`
	NewLevel int `json:"new_level"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"tenant":    e.Tenant.String(),
		"user_id":   e.AggregateId,
		"old_level": e.OldLevel,
		"new_level": e.NewLevel,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Bus Interfaces
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for a specific event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
