package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errBoom = errors.New("boom")

func fast(opts ...Option) *Retrier {
	return New(append([]Option{WithInitialDelay(time.Millisecond), WithJitter(0)}, opts...)...)
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := fast().Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ReturnsLastErrorAfterBudget(t *testing.T) {
	calls := 0
	err := fast(WithMaxAttempts(2)).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errBoom
	})

	assert.Equal(t, errBoom, err)
	assert.Equal(t, 2, calls)
}

func TestDo_RetryIfStopsEarly(t *testing.T) {
	calls := 0
	r := fast(WithRetryIf(func(err error) bool { return !errors.Is(err, errBoom) }))
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errBoom
	})
	assert.Equal(t, errBoom, err)
	assert.Equal(t, 1, calls)
}

func TestDo_DoesNotRetryCancellation(t *testing.T) {
	calls := 0
	err := fast().Do(context.Background(), func(ctx context.Context) error {
		calls++
		return context.Canceled
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_StopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := fast().Do(ctx, func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestPersistenceRetrier_ReportsRetries(t *testing.T) {
	var retried []int
	calls := 0
	r := PersistenceRetrier(
		WithInitialDelay(time.Millisecond),
		WithOnRetry(func(attempt int, err error, delay time.Duration) {
			retried = append(retried, attempt)
		}),
	)

	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errBoom
	})
	assert.Equal(t, errBoom, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
	assert.Equal(t, 5, ConnectRetrier().MaxAttempts())
}

func TestBackoff_IsCapped(t *testing.T) {
	r := New(WithInitialDelay(time.Second), WithMaxDelay(2*time.Second), WithJitter(0))
	assert.Equal(t, time.Second, r.Backoff(1))
	assert.Equal(t, 2*time.Second, r.Backoff(2))
	assert.Equal(t, 2*time.Second, r.Backoff(5))
}

func TestDo_DelayHintOverridesBackoff(t *testing.T) {
	var delays []time.Duration
	r := New(
		WithInitialDelay(time.Hour),
		WithMaxAttempts(2),
		WithDelayHint(func(error) time.Duration { return time.Millisecond }),
		WithOnRetry(func(_ int, _ error, d time.Duration) { delays = append(delays, d) }),
	)
	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errBoom
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Millisecond}, delays)
}
