// Package handlers contains the health checks of the ops HTTP server.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/educativo/edubot/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH CHECK INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// HealthChecker reports the health of the bot's dependencies.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// HealthCheckFunc is a single named check. A non-nil error marks it unhealthy.
type HealthCheckFunc func(ctx context.Context) error

// HealthStatus is the aggregated result served by /health and /ready.
type HealthStatus struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`

	Checks map[string]CheckResult `json:"checks,omitempty"`

	Uptime    string    `json:"uptime,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPOSITE HEALTH CHECKER
// ══════════════════════════════════════════════════════════════════════════════

// CompositeHealthChecker runs every registered check concurrently, each
// under its own timeout.
type CompositeHealthChecker struct {
	version string
	started time.Time
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]HealthCheckFunc
}

// NewCompositeHealthChecker gives each check five seconds.
func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		version: version,
		started: time.Now(),
		timeout: 5 * time.Second,
		checks:  make(map[string]HealthCheckFunc),
	}
}

// AddCheck registers or replaces a named check.
func (c *CompositeHealthChecker) AddCheck(name string, check HealthCheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Check runs all checks. The status is healthy only if every check is.
func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	funcs := make([]HealthCheckFunc, len(names))
	sort.Strings(names)
	for i, name := range names {
		funcs[i] = c.checks[name]
	}
	c.mu.RUnlock()

	now := time.Now()
	status := HealthStatus{
		Healthy:   true,
		Checks:    make(map[string]CheckResult, len(names)),
		Uptime:    now.Sub(c.started).Round(time.Second).String(),
		Timestamp: now.UTC(),
		Version:   c.version,
	}
	if len(names) == 0 {
		status.Message = "No health checks registered"
		return status
	}

	results := make([]CheckResult, len(names))
	var wg sync.WaitGroup
	for i := range funcs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.run(ctx, funcs[i])
		}(i)
	}
	wg.Wait()

	var failed []string
	for i, name := range names {
		status.Checks[name] = results[i]
		if !results[i].Healthy {
			failed = append(failed, name)
		}
	}
	if len(failed) == 0 {
		status.Message = "All checks passed"
		return status
	}
	status.Healthy = false
	status.Message = "Some checks failed: " + strings.Join(failed, ", ")
	return status
}

func (c *CompositeHealthChecker) run(ctx context.Context, check HealthCheckFunc) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := check(ctx)
	res := CheckResult{Healthy: err == nil, Message: "OK", Duration: time.Since(start).Round(time.Millisecond).String()}
	if err != nil {
		res.Message = err.Error()
	}
	return res
}

// ══════════════════════════════════════════════════════════════════════════════
// PREDEFINED HEALTH CHECKS
// ══════════════════════════════════════════════════════════════════════════════

// Pinger is implemented by the redis and postgres backends.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewPingCheck checks a backend connection.
func NewPingCheck(p Pinger) HealthCheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// DirtyReporter is implemented by the persistence gateway.
type DirtyReporter interface {
	Dirty() bool
}

// ErrStoreDirty means the last backend write failed and the cache has not
// been flushed since.
var ErrStoreDirty = errors.New("store has unflushed changes")

// NewStoreCheck fails while the gateway is dirty.
func NewStoreCheck(d DirtyReporter) HealthCheckFunc {
	return func(context.Context) error {
		if d.Dirty() {
			return ErrStoreDirty
		}
		return nil
	}
}

// NewBreakerCheck fails while the backend breaker is not closed.
func NewBreakerCheck(cb *circuitbreaker.CircuitBreaker) HealthCheckFunc {
	return func(context.Context) error {
		stats := cb.Stats()
		if stats.State == circuitbreaker.StateClosed {
			return nil
		}
		if stats.LastError != "" {
			return fmt.Errorf("%s breaker %s: %s", cb.Name(), stats.State, stats.LastError)
		}
		return fmt.Errorf("%s breaker %s", cb.Name(), stats.State)
	}
}
