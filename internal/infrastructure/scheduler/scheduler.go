// Package scheduler runs the bot's periodic maintenance jobs, such as
// flushing the persistence gateway and reporting usage metrics.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var (
	ErrNilJob                  = errors.New("scheduler: job cannot be nil")
	ErrNilSchedule             = errors.New("scheduler: schedule cannot be nil")
	ErrJobAlreadyExists        = errors.New("scheduler: job already exists")
	ErrJobNotFound             = errors.New("scheduler: job not found")
	ErrJobBusy                 = errors.New("scheduler: job is already running")
	ErrSchedulerAlreadyRunning = errors.New("scheduler: already running")
	ErrSchedulerNotRunning     = errors.New("scheduler: not running")
)

// ══════════════════════════════════════════════════════════════════════════════
// JOBS AND SCHEDULES
// ══════════════════════════════════════════════════════════════════════════════

// Job is a unit of periodic work. Run gets a context that is cancelled
// when the scheduler stops.
type Job interface {
	Name() string
	Description() string
	Run(ctx context.Context) error
}

// Schedule picks the next run after t.
type Schedule interface {
	Next(t time.Time) time.Time
	String() string
}

// JobResult is one finished run.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Success     bool
	Error       error
	Manual      bool
}

// JobInfo is the listing view of a registered job.
type JobInfo struct {
	Name        string
	Description string
	Schedule    string
	Running     bool
	LastRun     time.Time
	NextRun     time.Time
	RunCount    int64
	FailCount   int64
	LastError   string
}

type entry struct {
	job      Job
	schedule Schedule

	running bool
	lastRun time.Time
	nextRun time.Time
	runs    int64
	fails   int64
	lastErr string
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Config configures New.
type Config struct {
	// TickInterval is how often due jobs are checked. Default: 1s.
	TickInterval time.Duration

	// MaxHistorySize bounds History. Default: 100.
	MaxHistorySize int

	Now    func() time.Time
	Logger *slog.Logger
}

// Scheduler runs registered jobs on their schedules. A job never overlaps
// itself: when it is due while still running, that tick is skipped, and
// RunNow on a busy job fails with ErrJobBusy.
type Scheduler struct {
	config Config
	logger *slog.Logger

	mu      sync.Mutex
	jobs    map[string]*entry
	history []JobResult
	cancel  context.CancelFunc // nil while stopped
	started time.Time

	wg sync.WaitGroup
}

// New creates a stopped Scheduler.
func New(config Config) *Scheduler {
	if config.TickInterval <= 0 {
		config.TickInterval = time.Second
	}
	if config.MaxHistorySize <= 0 {
		config.MaxHistorySize = 100
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Scheduler{
		config: config,
		logger: config.Logger.With("component", "scheduler"),
		jobs:   make(map[string]*entry),
	}
}

// Register adds job. Its first run is one schedule step from now.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	if job == nil {
		return ErrNilJob
	}
	if schedule == nil {
		return ErrNilSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}
	e := &entry{job: job, schedule: schedule, nextRun: schedule.Next(s.config.Now())}
	s.jobs[name] = e

	s.logger.Info("job registered", "job", name, "schedule", schedule.String(), "next_run", e.nextRun.Format(time.RFC3339))
	return nil
}

// Start launches the tick loop. It runs until Stop or until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrSchedulerAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = s.config.Now()

	s.wg.Add(1)
	go s.loop(loopCtx)

	s.logger.Info("scheduler started", "jobs_count", len(s.jobs))
	return nil
}

// Stop cancels the loop and every running job, then waits for them.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return ErrSchedulerNotRunning
	}

	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped", "uptime", s.config.Now().Sub(s.started).String())
	return nil
}

// IsRunning reports whether Start was called without a matching Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, e := range s.claimDue() {
				s.wg.Add(1)
				go func(e *entry) {
					defer s.wg.Done()
					s.run(ctx, e, false)
				}(e)
			}
		}
	}
}

// claimDue marks every due idle job as running and advances its schedule.
func (s *Scheduler) claimDue() []*entry {
	now := s.config.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*entry
	for _, e := range s.jobs {
		if e.running || now.Before(e.nextRun) {
			continue
		}
		e.running = true
		e.nextRun = e.schedule.Next(now)
		due = append(due, e)
	}
	return due
}

// RunNow runs a job on the caller's goroutine, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) (JobResult, error) {
	s.mu.Lock()
	e, ok := s.jobs[name]
	switch {
	case !ok:
		s.mu.Unlock()
		return JobResult{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	case e.running:
		s.mu.Unlock()
		return JobResult{}, fmt.Errorf("%w: %s", ErrJobBusy, name)
	}
	e.running = true
	s.mu.Unlock()

	res := s.run(ctx, e, true)
	return res, res.Error
}

// run executes a claimed entry and releases it.
func (s *Scheduler) run(ctx context.Context, e *entry, manual bool) JobResult {
	name := e.job.Name()
	start := s.config.Now()
	err := e.job.Run(ctx)
	end := s.config.Now()

	res := JobResult{
		JobName:     name,
		StartedAt:   start,
		CompletedAt: end,
		Duration:    end.Sub(start),
		Success:     err == nil,
		Error:       err,
		Manual:      manual,
	}

	s.mu.Lock()
	e.running = false
	e.lastRun = start
	e.runs++
	if err != nil {
		e.fails++
		e.lastErr = err.Error()
	} else {
		e.lastErr = ""
	}
	s.history = append(s.history, res)
	if over := len(s.history) - s.config.MaxHistorySize; over > 0 {
		s.history = s.history[over:]
	}
	s.mu.Unlock()

	switch {
	case err == nil:
		s.logger.Debug("job completed", "job", name, "duration", res.Duration.String(), "manual", manual)
	case errors.Is(err, context.Canceled):
		s.logger.Debug("job cancelled", "job", name)
	default:
		s.logger.Error("job failed", "job", name, "duration", res.Duration.String(), "error", err)
	}
	return res
}

// ListJobs returns every registered job sorted by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, e := range s.jobs {
		infos = append(infos, JobInfo{
			Name:        name,
			Description: e.job.Description(),
			Schedule:    e.schedule.String(),
			Running:     e.running,
			LastRun:     e.lastRun,
			NextRun:     e.nextRun,
			RunCount:    e.runs,
			FailCount:   e.fails,
			LastError:   e.lastErr,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// History returns up to limit of the most recent results, oldest first.
// A non-positive limit returns all of them.
func (s *Scheduler) History(limit int) []JobResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	out := make([]JobResult, limit)
	copy(out, s.history[len(s.history)-limit:])
	return out
}
