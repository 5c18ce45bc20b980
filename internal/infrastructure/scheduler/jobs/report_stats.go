package jobs

import (
	"context"
	"log/slog"
	"sort"

	"github.com/educativo/edubot/internal/application/store"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPORT STATS JOB
// ══════════════════════════════════════════════════════════════════════════════

// CommandMetrics is a point-in-time view of dispatcher metrics.
type CommandMetrics struct {
	TotalRequests int64
	TotalErrors   int64
	UniqueUsers   int

	// PerCommand maps a command name to its invocation count.
	PerCommand map[string]int64
}

// MetricsSource returns the current command metrics.
type MetricsSource func() CommandMetrics

// ReportStatsJob logs per-tenant classroom aggregates and command metrics.
type ReportStatsJob struct {
	hub     *store.Hub
	metrics MetricsSource
	logger  *slog.Logger
}

// NewReportStatsJob creates the job. metrics may be nil.
func NewReportStatsJob(hub *store.Hub, metrics MetricsSource, logger *slog.Logger) *ReportStatsJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportStatsJob{
		hub:     hub,
		metrics: metrics,
		logger:  logger.With("job", "report_stats"),
	}
}

// Name returns the job name.
func (j *ReportStatsJob) Name() string {
	return "report_stats"
}

// Description returns a human-readable description.
func (j *ReportStatsJob) Description() string {
	return "Logs classroom aggregates and command metrics"
}

// Run executes the job.
func (j *ReportStatsJob) Run(ctx context.Context) error {
	for _, tenant := range j.hub.Tenants() {
		if err := ctx.Err(); err != nil {
			return err
		}
		s := j.hub.Classroom(tenant).Stats()
		j.logger.InfoContext(ctx, "classroom stats",
			"tenant", string(tenant),
			"users", s.Users,
			"active_users", s.ActiveUsers,
			"courses", s.Courses,
			"tasks", s.Tasks,
			"pending_tasks", s.PendingTasks,
			"overdue_tasks", s.OverdueTasks,
			"completion_rate", s.CompletionRate,
		)
	}

	if j.metrics == nil {
		return nil
	}
	snap := j.metrics()
	attrs := []any{
		"total_requests", snap.TotalRequests,
		"total_errors", snap.TotalErrors,
		"unique_users", snap.UniqueUsers,
	}
	for _, name := range sortedKeys(snap.PerCommand) {
		attrs = append(attrs, "command_"+name, snap.PerCommand[name])
	}
	j.logger.InfoContext(ctx, "command metrics", attrs...)
	return nil
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
