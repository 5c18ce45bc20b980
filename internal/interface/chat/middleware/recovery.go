// Package middleware contains the request-processing layers wrapped around
// every chat command: panic recovery, rate limiting, metrics and the
// moderator allow-list.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECOVERY MIDDLEWARE
// A panicking command answers with a generic message. The stack goes to the
// log only, never to the channel.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultUserErrorMessage is sent when a handler panics or fails internally.
const DefaultUserErrorMessage = "❌ Error interno del bot. Por favor, intenta de nuevo más tarde."

// RecoveryConfig configures NewRecoveryMiddleware.
type RecoveryConfig struct {
	EnableStackTrace bool
	LogPanics        bool

	// OnPanic runs after logging, for panics within the per-minute budget.
	OnPanic func(ctx context.Context, info *PanicInfo)

	UserErrorMessage string

	// MaxPanicsPerMinute caps how many panics are logged and reported per
	// minute. Past it users still get UserErrorMessage.
	MaxPanicsPerMinute int

	Logger *slog.Logger
	Now    func() time.Time
}

// DefaultRecoveryConfig logs every panic with its stack.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		EnableStackTrace:   true,
		LogPanics:          true,
		UserErrorMessage:   DefaultUserErrorMessage,
		MaxPanicsPerMinute: 100,
	}
}

// PanicInfo describes one recovered panic.
type PanicInfo struct {
	Error      error
	StackTrace string
	RequestID  string
	ActorID    string
	Command    string
	Timestamp  time.Time
}

// String renders the panic for a log file or a moderator DM.
func (p *PanicInfo) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "panic in %q by %s at %s", p.Command, p.ActorID, p.Timestamp.Format(time.RFC3339))
	if p.RequestID != "" {
		fmt.Fprintf(&b, " [%s]", p.RequestID)
	}
	fmt.Fprintf(&b, ": %v\n", p.Error)
	if p.StackTrace != "" {
		b.WriteString(p.StackTrace)
	}
	return b.String()
}

// RecoveryResult is the outcome of RecoverWithHandler. PanicInfo is nil
// when the panic was over budget.
type RecoveryResult struct {
	Recovered   bool
	PanicInfo   *PanicInfo
	UserMessage string
	Err         error
}

// RecoveryMiddleware turns handler panics into RecoveryResults.
type RecoveryMiddleware struct {
	config RecoveryConfig
	logger *slog.Logger

	mu          sync.Mutex
	windowStart time.Time
	inWindow    int
}

// NewRecoveryMiddleware fills unset fields from DefaultRecoveryConfig.
func NewRecoveryMiddleware(config RecoveryConfig) *RecoveryMiddleware {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.UserErrorMessage == "" {
		config.UserErrorMessage = DefaultUserErrorMessage
	}
	if config.MaxPanicsPerMinute <= 0 {
		config.MaxPanicsPerMinute = DefaultRecoveryConfig().MaxPanicsPerMinute
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &RecoveryMiddleware{
		config: config,
		logger: config.Logger.With("component", "recovery"),
	}
}

// RecoverWithHandler runs handler for command on behalf of actorID.
func (m *RecoveryMiddleware) RecoverWithHandler(
	ctx context.Context,
	actorID string,
	command string,
	handler func() error,
) (res *RecoveryResult) {
	defer func() {
		if r := recover(); r != nil {
			res = m.recovered(ctx, r, actorID, command)
		}
	}()
	return &RecoveryResult{Err: handler()}
}

func (m *RecoveryMiddleware) recovered(ctx context.Context, value any, actorID, command string) *RecoveryResult {
	res := &RecoveryResult{Recovered: true, UserMessage: m.config.UserErrorMessage}
	now := m.config.Now()
	if !m.withinBudget(now) {
		return res
	}

	info := &PanicInfo{
		Error:     toError(value),
		RequestID: RequestIDFromContext(ctx),
		ActorID:   actorID,
		Command:   command,
		Timestamp: now,
	}
	if m.config.EnableStackTrace {
		info.StackTrace = string(debug.Stack())
	}

	if m.config.LogPanics {
		m.logger.Error("panic recovered in command handler",
			"command", command,
			"actor_id", actorID,
			"request_id", info.RequestID,
			"error", info.Error,
			"stack", info.StackTrace,
		)
	}
	if m.config.OnPanic != nil {
		m.config.OnPanic(ctx, info)
	}

	res.PanicInfo = info
	return res
}

// withinBudget counts panics in fixed one-minute windows.
func (m *RecoveryMiddleware) withinBudget(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.windowStart) >= time.Minute {
		m.windowStart = now
		m.inWindow = 0
	}
	if m.inWindow >= m.config.MaxPanicsPerMinute {
		return false
	}
	m.inWindow++
	return true
}

func toError(value any) error {
	switch v := value.(type) {
	case error:
		return v
	case string:
		return errors.New(v)
	default:
		return fmt.Errorf("panic: %v", v)
	}
}
