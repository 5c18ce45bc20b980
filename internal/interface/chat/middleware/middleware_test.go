package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *manualClock {
	return &manualClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

// ══════════════════════════════════════════════════════════════════════════════
// RECOVERY
// ══════════════════════════════════════════════════════════════════════════════

func TestRecoverWithHandler_Panic(t *testing.T) {
	var seen *PanicInfo
	cfg := DefaultRecoveryConfig()
	cfg.OnPanic = func(_ context.Context, info *PanicInfo) { seen = info }
	m := NewRecoveryMiddleware(cfg)

	ctx := ContextWithRequestID(context.Background(), "req-1")
	res := m.RecoverWithHandler(ctx, "42", "tarea", func() error {
		panic("boom")
	})

	require.True(t, res.Recovered)
	assert.Equal(t, DefaultUserErrorMessage, res.UserMessage)
	require.NotNil(t, res.PanicInfo)
	assert.Equal(t, "42", res.PanicInfo.ActorID)
	assert.Equal(t, "tarea", res.PanicInfo.Command)
	assert.Equal(t, "req-1", res.PanicInfo.RequestID)
	assert.EqualError(t, res.PanicInfo.Error, "boom")
	assert.NotEmpty(t, res.PanicInfo.StackTrace)
	assert.Contains(t, res.PanicInfo.String(), `panic in "tarea" by 42`)
	assert.Contains(t, res.PanicInfo.String(), "[req-1]: boom")
	assert.Same(t, res.PanicInfo, seen)
}

func TestRecoverWithHandler_PassesErrors(t *testing.T) {
	m := NewRecoveryMiddleware(DefaultRecoveryConfig())
	want := errors.New("nope")

	res := m.RecoverWithHandler(context.Background(), "1", "materia", func() error { return want })
	assert.False(t, res.Recovered)
	assert.ErrorIs(t, res.Err, want)

	res = m.RecoverWithHandler(context.Background(), "1", "materia", func() error { return nil })
	assert.False(t, res.Recovered)
	assert.NoError(t, res.Err)
}

func TestRecoverWithHandler_PanicBudget(t *testing.T) {
	cfg := DefaultRecoveryConfig()
	cfg.MaxPanicsPerMinute = 1
	calls := 0
	cfg.OnPanic = func(context.Context, *PanicInfo) { calls++ }
	m := NewRecoveryMiddleware(cfg)

	for i := 0; i < 3; i++ {
		res := m.RecoverWithHandler(context.Background(), "1", "x", func() error { panic(i) })
		assert.True(t, res.Recovered)
		assert.Equal(t, DefaultUserErrorMessage, res.UserMessage)
	}
	assert.Equal(t, 1, calls)
}

func TestRecoverWithHandler_BudgetResetsEachMinute(t *testing.T) {
	clock := newClock()
	cfg := DefaultRecoveryConfig()
	cfg.MaxPanicsPerMinute = 1
	cfg.Now = clock.Now
	m := NewRecoveryMiddleware(cfg)

	boom := func() error { panic("boom") }
	assert.NotNil(t, m.RecoverWithHandler(context.Background(), "1", "x", boom).PanicInfo)
	assert.Nil(t, m.RecoverWithHandler(context.Background(), "1", "x", boom).PanicInfo)

	clock.Advance(time.Minute)
	assert.NotNil(t, m.RecoverWithHandler(context.Background(), "1", "x", boom).PanicInfo)
}

func TestToError(t *testing.T) {
	base := errors.New("base")
	assert.Same(t, base, toError(base))
	assert.EqualError(t, toError("text"), "text")
	assert.EqualError(t, toError(7), "panic: 7")
}

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMIT
// ══════════════════════════════════════════════════════════════════════════════

func TestRateLimiter_BurstThenRefill(t *testing.T) {
	clock := newClock()
	rl := NewRateLimiter(RateLimitConfig{
		RequestsPerMinute: 60,
		BurstSize:         2,
		Now:               clock.Now,
	})
	defer rl.Stop()
	ctx := context.Background()

	assert.True(t, rl.Check(ctx, "a").Allowed)
	assert.True(t, rl.Check(ctx, "a").Allowed)

	res := rl.Check(ctx, "a")
	require.False(t, res.Allowed)
	assert.False(t, res.IsBanned)
	assert.Equal(t, time.Second, res.RetryAfter)
	assert.Contains(t, res.ResponseMessage, "Espera 1 segundos")

	// Other actors have their own bucket.
	assert.True(t, rl.Check(ctx, "b").Allowed)

	clock.Advance(time.Second)
	assert.True(t, rl.Check(ctx, "a").Allowed)
}

func TestRateLimiter_BanAfterThreshold(t *testing.T) {
	clock := newClock()
	rl := NewRateLimiter(RateLimitConfig{
		RequestsPerMinute: 1,
		BurstSize:         1,
		BanThreshold:      2,
		BanDuration:       time.Hour,
		Now:               clock.Now,
	})
	defer rl.Stop()
	ctx := context.Background()

	assert.True(t, rl.Check(ctx, "a").Allowed)
	assert.False(t, rl.Check(ctx, "a").IsBanned)

	res := rl.Check(ctx, "a")
	assert.False(t, res.Allowed)

	res = rl.Check(ctx, "a")
	require.True(t, res.IsBanned)
	assert.Contains(t, res.ResponseMessage, "minutos")

	clock.Advance(time.Hour + time.Second)
	assert.True(t, rl.Check(ctx, "a").Allowed)
}

func TestRateLimiter_WhitelistAndReset(t *testing.T) {
	clock := newClock()
	rl := NewRateLimiter(RateLimitConfig{
		RequestsPerMinute: 1,
		BurstSize:         1,
		WhitelistedUsers:  []string{"mod"},
		Now:               clock.Now,
	})
	defer rl.Stop()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		assert.True(t, rl.Check(ctx, "mod").Allowed)
	}

	assert.True(t, rl.Check(ctx, "a").Allowed)
	assert.False(t, rl.Check(ctx, "a").Allowed)
	rl.Reset("a")
	assert.True(t, rl.Check(ctx, "a").Allowed)
}

func TestRateLimiter_CleanupDropsIdleBuckets(t *testing.T) {
	clock := newClock()
	rl := NewRateLimiter(RateLimitConfig{Now: clock.Now})
	rl.Stop()
	rl.Stop()

	rl.Check(context.Background(), "a")
	rl.cleanup(clock.Now().Add(11 * time.Minute))

	_, ok := rl.buckets.Load("a")
	assert.False(t, ok)
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

func TestMetrics_Snapshot(t *testing.T) {
	clock := newClock()
	var slow []string
	m := NewMetricsMiddleware(MetricsConfig{
		SlowRequestThreshold: time.Second,
		OnSlowRequest:        func(cmd string, _ time.Duration, _ string) { slow = append(slow, cmd) },
		Now:                  clock.Now,
	})

	rc := m.Start("tarea", "1")
	clock.Advance(100 * time.Millisecond)
	rc.EndSuccess()

	rc = m.Start("tarea", "2")
	clock.Advance(300 * time.Millisecond)
	rc.End(errors.New("task not found: 9"))

	rc = m.Start("materia", "1")
	clock.Advance(2 * time.Second)
	rc.EndSuccess()

	snap := m.Snapshot()
	assert.EqualValues(t, 3, snap.TotalRequests)
	assert.EqualValues(t, 1, snap.TotalErrors)
	assert.EqualValues(t, 0, snap.ActiveRequests)
	assert.Equal(t, 2, snap.UniqueUsers)
	assert.InDelta(t, 1.0/3.0, snap.ErrorRate, 0.001)

	require.Len(t, snap.Commands, 2)
	assert.Equal(t, "materia", snap.Commands[0].Name)
	tarea := snap.Commands[1]
	assert.Equal(t, "tarea", tarea.Name)
	assert.EqualValues(t, 2, tarea.TotalCount)
	assert.EqualValues(t, 1, tarea.ErrorCount)
	assert.Equal(t, 200*time.Millisecond, tarea.AvgDuration)
	assert.Equal(t, 100*time.Millisecond, tarea.MinDuration)
	assert.Equal(t, 300*time.Millisecond, tarea.MaxDuration)

	require.Len(t, snap.TopErrors, 1)
	assert.Equal(t, ErrorCount{Error: "task not found", Count: 1}, snap.TopErrors[0])

	assert.Equal(t, []string{"materia"}, slow)
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTH
// ══════════════════════════════════════════════════════════════════════════════

func TestModeratorList(t *testing.T) {
	m := NewModeratorList(" 2 ", "1", "")
	assert.True(t, m.IsModerator("1"))
	assert.True(t, m.IsModerator("2"))
	assert.False(t, m.IsModerator("3"))

	m.Add("3")
	assert.True(t, m.IsModerator("3"))
	assert.Equal(t, []string{"1", "2", "3"}, m.IDs())
}

func TestContextValues(t *testing.T) {
	ctx := ContextWithActorID(context.Background(), "7")
	ctx = ContextWithRequestID(ctx, "r")
	assert.Equal(t, "7", ActorIDFromContext(ctx))
	assert.Equal(t, "r", RequestIDFromContext(ctx))
	assert.Empty(t, ActorIDFromContext(context.Background()))
}
