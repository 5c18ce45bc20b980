// Package circuitbreaker stops calling a networked storage backend after a
// run of failures, so commands fail fast instead of each waiting out a
// timeout. After a cool-down one probe call decides whether to close again.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// STATE
// ═══════════════════════════════════════════════════════════════════════════

// State is the breaker position.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the cool-down ends.
	StateOpen
	// StateHalfOpen lets probe calls through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned without calling the function while the breaker
// is open, or while a half-open probe is already in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ═══════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ═══════════════════════════════════════════════════════════════════════════

// Config holds circuit breaker configuration.
type Config struct {
	Name string

	// FailureThreshold consecutive failures open the breaker. Default: 5.
	FailureThreshold int

	// SuccessThreshold consecutive half-open successes close it. Default: 1.
	SuccessThreshold int

	// Timeout is the open cool-down before probing. Default: 30s.
	Timeout time.Duration

	// MaxProbes caps concurrent half-open calls. Default: 1.
	MaxProbes int

	// OnStateChange is called under the breaker lock; keep it short.
	OnStateChange func(name string, from, to State)

	// IsFailure filters which errors count. Nil counts every error.
	IsFailure func(error) bool

	Now func() time.Time
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
		MaxProbes:        1,
		Now:              time.Now,
	}
}

// Option is a functional option for configuring the circuit breaker.
type Option func(*Config)

// WithFailureThreshold sets how many consecutive failures open the breaker.
func WithFailureThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.FailureThreshold = n
		}
	}
}

// WithSuccessThreshold sets how many half-open successes close the breaker.
func WithSuccessThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.SuccessThreshold = n
		}
	}
}

// WithTimeout sets the open cool-down.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Timeout = d
		}
	}
}

// WithOnStateChange sets the transition callback.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(c *Config) {
		c.OnStateChange = fn
	}
}

// WithIsFailure sets the failure filter.
func WithIsFailure(fn func(error) bool) Option {
	return func(c *Config) {
		c.IsFailure = fn
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		if now != nil {
			c.Now = now
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// BREAKER
// ═══════════════════════════════════════════════════════════════════════════

// Stats is a point-in-time view of a breaker.
type Stats struct {
	State     State
	Calls     int64
	Failures  int64
	Rejected  int64
	OpenedAt  time.Time
	LastError string
}

// CircuitBreaker guards calls to one backend.
type CircuitBreaker struct {
	config Config

	mu        sync.Mutex
	state     State
	streak    int // consecutive failures when closed, successes when half-open
	probes    int
	openedAt  time.Time
	calls     int64
	failures  int64
	rejected  int64
	lastError string
}

// New creates a closed breaker.
func New(name string, opts ...Option) *CircuitBreaker {
	config := DefaultConfig(name)
	for _, opt := range opts {
		opt(&config)
	}
	return &CircuitBreaker{config: config}
}

// Execute calls fn unless the breaker rejects the call with ErrCircuitOpen.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)
	cb.record(probe, err)
	return err
}

func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.config.Now().Sub(cb.openedAt) >= cb.config.Timeout {
		cb.transition(StateHalfOpen)
	}

	switch cb.state {
	case StateClosed:
		return false, nil
	case StateHalfOpen:
		if cb.probes < cb.config.MaxProbes {
			cb.probes++
			return true, nil
		}
	}
	cb.rejected++
	return false, ErrCircuitOpen
}

func (cb *CircuitBreaker) record(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.calls++
	if probe && cb.probes > 0 {
		cb.probes--
	}

	failed := err != nil && (cb.config.IsFailure == nil || cb.config.IsFailure(err))
	if failed {
		cb.failures++
		cb.lastError = err.Error()
	}

	switch cb.state {
	case StateClosed:
		if !failed {
			cb.streak = 0
			return
		}
		cb.streak++
		if cb.streak >= cb.config.FailureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		if failed {
			cb.transition(StateOpen)
			return
		}
		cb.streak++
		if cb.streak >= cb.config.SuccessThreshold {
			cb.transition(StateClosed)
		}
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.streak = 0
	cb.probes = 0
	if to == StateOpen {
		cb.openedAt = cb.config.Now()
	}
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, from, to)
	}
}

// State returns the current state. An open breaker whose cool-down has
// passed still reports open until the next call probes it.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns a snapshot of the breaker.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		State:     cb.state,
		Calls:     cb.calls,
		Failures:  cb.failures,
		Rejected:  cb.rejected,
		OpenedAt:  cb.openedAt,
		LastError: cb.lastError,
	}
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// ═══════════════════════════════════════════════════════════════════════════
// PRESETS
// ═══════════════════════════════════════════════════════════════════════════

// notCanceled keeps a caller giving up from counting against the backend.
func notCanceled(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// RedisBreaker tolerates short blips and probes again soon.
func RedisBreaker(onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New("redis",
		WithFailureThreshold(5),
		WithTimeout(15*time.Second),
		WithIsFailure(notCanceled),
		WithOnStateChange(onStateChange),
	)
}

// DatabaseBreaker opens sooner, since each postgres failure already waited
// on a pool acquire.
func DatabaseBreaker(onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New("database",
		WithFailureThreshold(3),
		WithTimeout(10*time.Second),
		WithIsFailure(notCanceled),
		WithOnStateChange(onStateChange),
	)
}
