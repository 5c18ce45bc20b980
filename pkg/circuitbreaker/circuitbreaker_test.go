package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("backend down")

func fail(context.Context) error    { return errDown }
func succeed(context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	var transitions []State
	cb := New("test",
		WithFailureThreshold(2),
		WithOnStateChange(func(name string, from, to State) {
			transitions = append(transitions, to)
		}),
	)
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, []State{StateOpen}, transitions)

	stats := cb.Stats()
	assert.Equal(t, int64(2), stats.Calls)
	assert.Equal(t, int64(2), stats.Failures)
	assert.Equal(t, int64(1), stats.Rejected)
	assert.Equal(t, "backend down", stats.LastError)
}

func TestCircuitBreaker_SuccessResetsStreak(t *testing.T) {
	cb := New("test", WithFailureThreshold(2))
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	require.NoError(t, cb.Execute(ctx, succeed))
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	var transitions []string
	cb := New("test",
		WithFailureThreshold(1),
		WithTimeout(10*time.Second),
		WithClock(func() time.Time { return now }),
		WithOnStateChange(func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}),
	)
	ctx := context.Background()

	require.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	now = now.Add(5 * time.Second)
	require.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen)

	now = now.Add(6 * time.Second)
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	cb := New("test",
		WithFailureThreshold(1),
		WithTimeout(time.Second),
		WithClock(func() time.Time { return now }),
	)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	now = now.Add(2 * time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, now, cb.Stats().OpenedAt)
}

func TestCircuitBreaker_OneProbeAtATime(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	cb := New("test",
		WithFailureThreshold(1),
		WithTimeout(time.Second),
		WithClock(func() time.Time { return now }),
	)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	now = now.Add(2 * time.Second)

	err := cb.Execute(ctx, func(ctx context.Context) error {
		assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen, "second probe is rejected")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestPresets_IgnoreCancellation(t *testing.T) {
	for _, cb := range []*CircuitBreaker{RedisBreaker(nil), DatabaseBreaker(nil)} {
		for i := 0; i < 10; i++ {
			_ = cb.Execute(context.Background(), func(context.Context) error { return context.Canceled })
		}
		assert.Equal(t, StateClosed, cb.State(), cb.Name())
		assert.Zero(t, cb.Stats().Failures, cb.Name())
	}
	assert.Equal(t, "redis", RedisBreaker(nil).Name())
	assert.Equal(t, "database", DatabaseBreaker(nil).Name())
}
