package messaging

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/educativo/edubot/internal/domain/shared"
)

func testEvent(t shared.EventType) shared.Event {
	return shared.CourseEvent{
		BaseEvent: shared.NewBaseEvent(t, shared.GlobalTenant, "MAT101", "u1", time.Now()),
		Name:      "Cálculo",
	}
}

func TestInMemoryEventBus_SyncDelivery(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: false})
	defer bus.Close()

	var typed, all []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventCourseCreated, func(e shared.Event) error {
		typed = append(typed, e.EventType())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, e.EventType())
		return nil
	}))

	require.NoError(t, bus.Publish(testEvent(shared.EventCourseCreated)))
	require.NoError(t, bus.Publish(testEvent(shared.EventCourseDeleted)))

	assert.Equal(t, []shared.EventType{shared.EventCourseCreated}, typed)
	assert.Equal(t, []shared.EventType{shared.EventCourseCreated, shared.EventCourseDeleted}, all)

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.TotalPublished)
	assert.Equal(t, int64(3), snap.TotalHandlerExecs)
}

func TestInMemoryEventBus_HandlerFailuresAreContained(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: false})
	defer bus.Close()

	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("nope") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("boom") }))

	assert.NoError(t, bus.Publish(testEvent(shared.EventTaskCreated)))
	assert.Equal(t, int64(2), bus.Metrics().Snapshot().HandlerFailures)
}

func TestInMemoryEventBus_AsyncDeliveryCompletesBeforeClose(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})

	var count atomic.Int32
	var wg sync.WaitGroup
	wg.Add(5)
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		count.Add(1)
		wg.Done()
		return nil
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(testEvent(shared.EventScoreChanged)))
	}
	wg.Wait()
	require.NoError(t, bus.Close())
	assert.Equal(t, int32(5), count.Load())

	assert.ErrorIs(t, bus.Publish(testEvent(shared.EventScoreChanged)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(func(shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestActivityLogger(t *testing.T) {
	handler := ActivityLogger(nil)
	assert.NoError(t, handler(testEvent(shared.EventCourseArchived)))
}

func TestInMemoryEventBus_CloseDrainsQueue(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 1, QueueSize: 8})

	var count atomic.Int32
	require.NoError(t, bus.Subscribe(shared.EventTaskCompleted, func(shared.Event) error {
		time.Sleep(time.Millisecond)
		count.Add(1)
		return nil
	}))
	for i := 0; i < 8; i++ {
		require.NoError(t, bus.Publish(testEvent(shared.EventTaskCompleted)))
	}
	require.NoError(t, bus.Close())
	assert.Equal(t, int32(8), count.Load())
	assert.Equal(t, int64(8), bus.Metrics().Snapshot().PublishedByType[shared.EventTaskCompleted])
}
