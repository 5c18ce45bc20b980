// Package jobs contains the scheduled maintenance jobs of the bot.
package jobs

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// FLUSH STORE JOB
// ══════════════════════════════════════════════════════════════════════════════

// Flusher is the slice of the persistence gateway the job needs.
// *persistence.Gateway implements it.
type Flusher interface {
	Flush(ctx context.Context) error
	Dirty() bool
}

// FlushStoreJob writes the whole gateway cache to its backend. A dirty
// gateway, one whose last write failed, is flushed on every run; a clean
// one only every FullEvery runs.
type FlushStoreJob struct {
	gateway Flusher
	config  FlushStoreConfig
	logger  *slog.Logger

	runs    atomic.Int64
	flushes atomic.Int64
}

// FlushStoreConfig contains configuration for the flush job.
type FlushStoreConfig struct {
	// FullEvery is how many runs pass between flushes of a clean gateway.
	FullEvery int

	// Timeout bounds one flush.
	Timeout time.Duration

	Logger *slog.Logger
}

// DefaultFlushStoreConfig returns sensible defaults.
func DefaultFlushStoreConfig() FlushStoreConfig {
	return FlushStoreConfig{
		FullEvery: 1,
		Timeout:   30 * time.Second,
	}
}

// NewFlushStoreJob creates the job.
func NewFlushStoreJob(gateway Flusher, config FlushStoreConfig) *FlushStoreJob {
	defaults := DefaultFlushStoreConfig()
	if config.FullEvery <= 0 {
		config.FullEvery = defaults.FullEvery
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &FlushStoreJob{
		gateway: gateway,
		config:  config,
		logger:  config.Logger.With("job", "flush_store"),
	}
}

// Name returns the job name.
func (j *FlushStoreJob) Name() string {
	return "flush_store"
}

// Description returns a human-readable description.
func (j *FlushStoreJob) Description() string {
	return "Writes the cached store to the persistence backend"
}

// Run executes the job.
func (j *FlushStoreJob) Run(ctx context.Context) error {
	run := j.runs.Add(1)
	dirty := j.gateway.Dirty()
	if !dirty && (run-1)%int64(j.config.FullEvery) != 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	if err := j.gateway.Flush(ctx); err != nil {
		return err
	}
	j.flushes.Add(1)
	if dirty {
		j.logger.Info("dirty store repaired by full flush")
	}
	return nil
}

// Flushes returns how many flushes succeeded.
func (j *FlushStoreJob) Flushes() int64 {
	return j.flushes.Load()
}
