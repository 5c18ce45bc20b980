package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name  string
	runs  atomic.Int64
	err   error
	block chan struct{}
}

func (j *countingJob) Name() string        { return j.name }
func (j *countingJob) Description() string { return "counts runs" }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return j.err
}

func newTestScheduler() *Scheduler {
	return New(Config{TickInterval: 2 * time.Millisecond})
}

func TestScheduler_RunsDueJobs(t *testing.T) {
	s := newTestScheduler()
	job := &countingJob{name: "tick"}
	require.NoError(t, s.Register(job, Every(5*time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return job.runs.Load() >= 3 }, time.Second, 2*time.Millisecond)
	require.NoError(t, s.Stop())

	infos := s.ListJobs()
	require.Len(t, infos, 1)
	assert.Equal(t, "tick", infos[0].Name)
	assert.Equal(t, "@every 5ms", infos[0].Schedule)
	assert.GreaterOrEqual(t, infos[0].RunCount, int64(3))
	assert.NotEmpty(t, s.History(0))
}

func TestScheduler_DoesNotOverlapRuns(t *testing.T) {
	s := newTestScheduler()
	job := &countingJob{name: "slow", block: make(chan struct{})}
	require.NoError(t, s.Register(job, Every(time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), job.runs.Load())

	close(job.block)
	require.Eventually(t, func() bool { return job.runs.Load() > 1 }, time.Second, time.Millisecond)
	require.NoError(t, s.Stop())
}

func TestScheduler_StopCancelsRunningJobs(t *testing.T) {
	s := newTestScheduler()
	job := &countingJob{name: "forever", block: make(chan struct{})}
	require.NoError(t, s.Register(job, Every(time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		_ = s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
	assert.False(t, s.IsRunning())
}

func TestScheduler_FailuresAreReported(t *testing.T) {
	s := newTestScheduler()
	job := &countingJob{name: "broken", err: errors.New("disk full")}
	require.NoError(t, s.Register(job, Every(time.Hour)))

	result, err := s.RunNow(context.Background(), "broken")
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.Manual)

	infos := s.ListJobs()
	require.Len(t, infos, 1)
	assert.Equal(t, int64(1), infos[0].FailCount)
	assert.Equal(t, "disk full", infos[0].LastError)

	job.err = nil
	_, err = s.RunNow(context.Background(), "broken")
	require.NoError(t, err)
	assert.Empty(t, s.ListJobs()[0].LastError)
	assert.Len(t, s.History(1), 1)
	assert.Len(t, s.History(0), 2)
}

func TestScheduler_RunNowRejectsBusyJob(t *testing.T) {
	s := newTestScheduler()
	job := &countingJob{name: "slow", block: make(chan struct{})}
	require.NoError(t, s.Register(job, Every(time.Hour)))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.RunNow(context.Background(), "slow")
	}()
	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, time.Millisecond)
	assert.True(t, s.ListJobs()[0].Running)

	_, err := s.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrJobBusy)

	close(job.block)
	<-done
	assert.False(t, s.ListJobs()[0].Running)
}

func TestScheduler_Errors(t *testing.T) {
	s := newTestScheduler()
	job := &countingJob{name: "a"}

	assert.ErrorIs(t, s.Register(nil, Every(time.Second)), ErrNilJob)
	assert.ErrorIs(t, s.Register(job, nil), ErrNilSchedule)
	require.NoError(t, s.Register(job, Every(time.Second)))
	assert.ErrorIs(t, s.Register(job, Every(time.Second)), ErrJobAlreadyExists)
	_, err := s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)
	require.NoError(t, s.Stop())
}

func TestEvery(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, base.Add(30*time.Second), Every(30*time.Second).Next(base))
	assert.Equal(t, time.Minute, Every(0).Interval)
}
