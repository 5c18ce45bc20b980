package middleware

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// METRICS MIDDLEWARE
// In-process counters for command usage, errors and latency.
// ══════════════════════════════════════════════════════════════════════════════

// MetricsConfig holds configuration for the metrics middleware.
type MetricsConfig struct {
	// SlowRequestThreshold defines what is considered a slow command.
	SlowRequestThreshold time.Duration

	// OnSlowRequest is called when a command exceeds the slow threshold.
	OnSlowRequest func(command string, duration time.Duration, actorID string)

	// Now is the time source. Defaults to time.Now.
	Now func() time.Time
}

// DefaultMetricsConfig returns sensible defaults for metrics middleware.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		SlowRequestThreshold: 2 * time.Second,
	}
}

// MetricsMiddleware collects command metrics.
type MetricsMiddleware struct {
	config MetricsConfig

	totalRequests  atomic.Int64
	totalErrors    atomic.Int64
	activeRequests atomic.Int64

	commandMetrics sync.Map // map[string]*commandMetrics
	errorCounts    sync.Map // map[string]*atomic.Int64
	uniqueUsers    sync.Map // map[string]time.Time
}

type commandMetrics struct {
	name string

	totalCount    atomic.Int64
	errorCount    atomic.Int64
	totalDuration atomic.Int64
	minDuration   atomic.Int64
	maxDuration   atomic.Int64

	lastInvoked atomic.Value // time.Time
}

// NewMetricsMiddleware creates a new metrics middleware.
func NewMetricsMiddleware(config MetricsConfig) *MetricsMiddleware {
	if config.Now == nil {
		config.Now = time.Now
	}
	return &MetricsMiddleware{config: config}
}

// RequestContext tracks one command execution.
type RequestContext struct {
	Command   string
	ActorID   string
	StartTime time.Time

	middleware *MetricsMiddleware
}

// Start begins tracking a command.
func (m *MetricsMiddleware) Start(command, actorID string) *RequestContext {
	now := m.config.Now()
	m.totalRequests.Add(1)
	m.activeRequests.Add(1)
	m.uniqueUsers.Store(actorID, now)

	return &RequestContext{
		Command:    command,
		ActorID:    actorID,
		StartTime:  now,
		middleware: m,
	}
}

// End completes tracking. A non-nil err counts as a failure.
func (rc *RequestContext) End(err error) {
	m := rc.middleware
	now := m.config.Now()
	duration := now.Sub(rc.StartTime)

	m.activeRequests.Add(-1)

	metrics := m.getCommandMetrics(rc.Command)
	metrics.totalCount.Add(1)
	if err != nil {
		metrics.errorCount.Add(1)
		m.totalErrors.Add(1)
		m.recordError(err.Error())
	}

	nanos := duration.Nanoseconds()
	metrics.totalDuration.Add(nanos)

	for {
		current := metrics.minDuration.Load()
		if current != 0 && current <= nanos {
			break
		}
		if metrics.minDuration.CompareAndSwap(current, nanos) {
			break
		}
	}
	for {
		current := metrics.maxDuration.Load()
		if current >= nanos {
			break
		}
		if metrics.maxDuration.CompareAndSwap(current, nanos) {
			break
		}
	}

	metrics.lastInvoked.Store(now)

	if m.config.OnSlowRequest != nil && m.config.SlowRequestThreshold > 0 && duration > m.config.SlowRequestThreshold {
		m.config.OnSlowRequest(rc.Command, duration, rc.ActorID)
	}
}

// EndSuccess ends tracking without an error.
func (rc *RequestContext) EndSuccess() {
	rc.End(nil)
}

func (m *MetricsMiddleware) getCommandMetrics(command string) *commandMetrics {
	if val, ok := m.commandMetrics.Load(command); ok {
		return val.(*commandMetrics)
	}
	actual, _ := m.commandMetrics.LoadOrStore(command, &commandMetrics{name: command})
	return actual.(*commandMetrics)
}

func (m *MetricsMiddleware) recordError(msg string) {
	val, _ := m.errorCounts.LoadOrStore(simplifyError(msg), &atomic.Int64{})
	val.(*atomic.Int64).Add(1)
}

// simplifyError keeps the leading part of an error message so that errors
// carrying ids group together.
func simplifyError(msg string) string {
	if i := strings.Index(msg, ":"); i > 0 {
		msg = msg[:i]
	}
	if len(msg) > 80 {
		msg = msg[:80]
	}
	return msg
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	Timestamp time.Time

	TotalRequests  int64
	TotalErrors    int64
	ActiveRequests int64
	ErrorRate      float64

	// UniqueUsers is the number of distinct actors seen so far.
	UniqueUsers int

	// Commands is sorted by name.
	Commands []CommandSnapshot

	// TopErrors is sorted by count, at most ten entries.
	TopErrors []ErrorCount
}

// CommandSnapshot holds the metrics of a single command.
type CommandSnapshot struct {
	Name        string
	TotalCount  int64
	ErrorCount  int64
	AvgDuration time.Duration
	MinDuration time.Duration
	MaxDuration time.Duration
	LastInvoked time.Time
}

// ErrorCount is an error group and its count.
type ErrorCount struct {
	Error string
	Count int64
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *MetricsMiddleware) Snapshot() *MetricsSnapshot {
	snap := &MetricsSnapshot{
		Timestamp:      m.config.Now(),
		TotalRequests:  m.totalRequests.Load(),
		TotalErrors:    m.totalErrors.Load(),
		ActiveRequests: m.activeRequests.Load(),
	}
	if snap.TotalRequests > 0 {
		snap.ErrorRate = float64(snap.TotalErrors) / float64(snap.TotalRequests)
	}

	m.uniqueUsers.Range(func(_, _ interface{}) bool {
		snap.UniqueUsers++
		return true
	})

	m.commandMetrics.Range(func(_, value interface{}) bool {
		snap.Commands = append(snap.Commands, value.(*commandMetrics).snapshot())
		return true
	})
	sort.Slice(snap.Commands, func(i, j int) bool {
		return snap.Commands[i].Name < snap.Commands[j].Name
	})

	m.errorCounts.Range(func(key, value interface{}) bool {
		snap.TopErrors = append(snap.TopErrors, ErrorCount{
			Error: key.(string),
			Count: value.(*atomic.Int64).Load(),
		})
		return true
	})
	sort.Slice(snap.TopErrors, func(i, j int) bool {
		if snap.TopErrors[i].Count != snap.TopErrors[j].Count {
			return snap.TopErrors[i].Count > snap.TopErrors[j].Count
		}
		return snap.TopErrors[i].Error < snap.TopErrors[j].Error
	})
	if len(snap.TopErrors) > 10 {
		snap.TopErrors = snap.TopErrors[:10]
	}

	return snap
}

func (cm *commandMetrics) snapshot() CommandSnapshot {
	s := CommandSnapshot{
		Name:        cm.name,
		TotalCount:  cm.totalCount.Load(),
		ErrorCount:  cm.errorCount.Load(),
		MinDuration: time.Duration(cm.minDuration.Load()),
		MaxDuration: time.Duration(cm.maxDuration.Load()),
	}
	if s.TotalCount > 0 {
		s.AvgDuration = time.Duration(cm.totalDuration.Load() / s.TotalCount)
	}
	if t, ok := cm.lastInvoked.Load().(time.Time); ok {
		s.LastInvoked = t
	}
	return s
}
