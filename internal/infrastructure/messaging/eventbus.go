// Package messaging implements the in-process event bus that carries domain
// events from the store to its subscribers (activity log, metrics).
package messaging

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/educativo/edubot/internal/domain/shared"
)

var (
	// ErrEventBusClosed is returned by Publish and Subscribe after Close.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrHandlerPanic wraps a recovered handler panic in the failure count.
	ErrHandlerPanic = errors.New("handler panicked")
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBusConfig configures NewInMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode hands deliveries to WorkerPoolSize workers. Off, handlers run
	// on the publisher's goroutine before Publish returns.
	AsyncMode      bool
	WorkerPoolSize int

	// QueueSize bounds pending async deliveries; Publish blocks when full.
	QueueSize int

	Logger *slog.Logger
}

// DefaultInMemoryEventBusConfig returns the bot's settings.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 4,
		QueueSize:      256,
	}
}

type delivery struct {
	event   shared.Event
	handler shared.EventHandler
}

// InMemoryEventBus fans events out to handlers in the same process.
// Handler errors and panics are logged and counted, never returned.
type InMemoryEventBus struct {
	logger  *slog.Logger
	metrics *EventBusMetrics

	mu     sync.RWMutex
	byType map[shared.EventType][]shared.EventHandler
	all    []shared.EventHandler
	closed bool

	queue   chan delivery // nil in sync mode
	workers sync.WaitGroup
}

// NewInMemoryEventBus starts the workers when AsyncMode is set.
func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	defaults := DefaultInMemoryEventBusConfig()
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = defaults.WorkerPoolSize
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}

	b := &InMemoryEventBus{
		logger:  config.Logger.With("component", "eventbus"),
		metrics: NewEventBusMetrics(),
		byType:  make(map[shared.EventType][]shared.EventHandler),
	}
	if config.AsyncMode {
		b.queue = make(chan delivery, config.QueueSize)
		b.workers.Add(config.WorkerPoolSize)
		for i := 0; i < config.WorkerPoolSize; i++ {
			go b.work()
		}
	}
	return b
}

// Subscribe registers handler for one event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.subscribe(handler, func() {
		b.byType[eventType] = append(b.byType[eventType], handler)
	})
}

// SubscribeAll registers handler for every event type.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.subscribe(handler, func() {
		b.all = append(b.all, handler)
	})
}

func (b *InMemoryEventBus) subscribe(handler shared.EventHandler, add func()) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	add()
	return nil
}

// Publish delivers event to the type's handlers, then to the catch-all ones.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	handlers := make([]shared.EventHandler, 0, len(b.byType[event.EventType()])+len(b.all))
	handlers = append(handlers, b.byType[event.EventType()]...)
	handlers = append(handlers, b.all...)
	b.metrics.RecordPublish(event.EventType())

	if b.queue != nil {
		// Queued under the read lock so Close cannot close the channel
		// under a pending send.
		for _, h := range handlers {
			b.queue <- delivery{event: event, handler: h}
		}
		b.mu.RUnlock()
		return nil
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.run(delivery{event: event, handler: h})
	}
	return nil
}

func (b *InMemoryEventBus) work() {
	defer b.workers.Done()
	for d := range b.queue {
		b.run(d)
	}
}

func (b *InMemoryEventBus) run(d delivery) {
	start := time.Now()
	err := safeCall(d)
	b.metrics.RecordHandlerExecution(time.Since(start), err == nil)
	if err != nil {
		b.logger.Error("event handler failed", "event_type", d.event.EventType(), "error", err)
	}
}

func safeCall(d delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return d.handler(d.event)
}

// Close rejects new events and waits for queued deliveries to finish.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	if b.queue != nil {
		close(b.queue)
	}
	b.mu.Unlock()

	b.workers.Wait()
	b.logger.Info("event bus closed", "published", b.metrics.Snapshot().TotalPublished)
	return nil
}

// Metrics returns the live counters.
func (b *InMemoryEventBus) Metrics() *EventBusMetrics {
	return b.metrics
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// EventBusMetrics counts publishes per type and handler runs.
type EventBusMetrics struct {
	mu        sync.Mutex
	published map[shared.EventType]int64

	execs    atomic.Int64
	failures atomic.Int64
	total    atomic.Int64 // nanoseconds
}

func NewEventBusMetrics() *EventBusMetrics {
	return &EventBusMetrics{published: make(map[shared.EventType]int64)}
}

func (m *EventBusMetrics) RecordPublish(eventType shared.EventType) {
	m.mu.Lock()
	m.published[eventType]++
	m.mu.Unlock()
}

func (m *EventBusMetrics) RecordHandlerExecution(d time.Duration, success bool) {
	m.execs.Add(1)
	m.total.Add(int64(d))
	if !success {
		m.failures.Add(1)
	}
}

// EventBusMetricsSnapshot is a copy of EventBusMetrics.
type EventBusMetricsSnapshot struct {
	TotalPublished         int64
	PublishedByType        map[shared.EventType]int64
	TotalHandlerExecs      int64
	HandlerFailures        int64
	AverageHandlerDuration time.Duration
}

func (m *EventBusMetrics) Snapshot() EventBusMetricsSnapshot {
	snap := EventBusMetricsSnapshot{
		TotalHandlerExecs: m.execs.Load(),
		HandlerFailures:   m.failures.Load(),
	}
	if snap.TotalHandlerExecs > 0 {
		snap.AverageHandlerDuration = time.Duration(m.total.Load() / snap.TotalHandlerExecs)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	snap.PublishedByType = make(map[shared.EventType]int64, len(m.published))
	for k, v := range m.published {
		snap.PublishedByType[k] = v
		snap.TotalPublished += v
	}
	return snap
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBSCRIBERS
// ══════════════════════════════════════════════════════════════════════════════

// ActivityLogger returns a handler that writes every event to logger.
func ActivityLogger(logger *slog.Logger) shared.EventHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(event shared.Event) error {
		attrs := []any{"event_type", event.EventType(), "aggregate_id", event.AggregateID()}
		for k, v := range event.Payload() {
			attrs = append(attrs, k, v)
		}
		logger.Info("domain event", attrs...)
		return nil
	}
}
