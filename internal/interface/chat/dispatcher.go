package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/educativo/edubot/internal/domain/shared"
	"github.com/educativo/edubot/internal/interface/chat/middleware"
	"github.com/educativo/edubot/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// TenantMode selects how messages map to classrooms.
type TenantMode string

const (
	// TenantShared routes every message to the global classroom.
	TenantShared TenantMode = "shared"

	// TenantGuild gives every guild its own classroom.
	TenantGuild TenantMode = "guild"
)

// Reply texts of the dispatcher.
const (
	MsgForbidden = "❌ No tienes permisos para ejecutar este comando."
)

// Auxiliary counter keys kept in the gateway.
const (
	CommandCounterPrefix = "stats_comando_"
	LastActivityPrefix   = "ultima_actividad_"
)

// Counters records usage counters. *persistence.Gateway implements it.
type Counters interface {
	Incr(ctx context.Context, key string, delta int64) (int64, error)
	Put(ctx context.Context, key string, value any) error
}

// DispatcherConfig contains configuration for the dispatcher.
type DispatcherConfig struct {
	// Prefix marks a message as a command. Defaults to "!".
	Prefix string

	TenantMode TenantMode

	// CommandTimeout bounds a single Execute call.
	CommandTimeout time.Duration

	// MaxMessageLength is the chunk size of replies, in runes.
	MaxMessageLength int

	// WordBoundarySplit cuts replies after whitespace when possible.
	// WordBoundarySplitFor, when set, decides per actor instead.
	WordBoundarySplit    bool
	WordBoundarySplitFor func(actorID string) bool

	// CommandCounters enables the stats_comando_/ultima_actividad_ counters.
	CommandCounters bool

	Logger *slog.Logger
}

// DefaultDispatcherConfig returns sensible defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Prefix:           "!",
		TenantMode:       TenantShared,
		CommandTimeout:   10 * time.Second,
		MaxMessageLength: DefaultMaxMessageLength,
		CommandCounters:  true,
	}
}

// DispatcherDeps are the collaborators of the dispatcher. Every field is
// optional; missing middlewares are skipped.
type DispatcherDeps struct {
	RateLimiter *middleware.RateLimiter
	Recovery    *middleware.RecoveryMiddleware
	Metrics     *middleware.MetricsMiddleware
	Counters    Counters
	Clock       timeutil.Clock
}

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

// Inbound is a chat message as received from a Transport.
type Inbound struct {
	GuildID   string
	ChannelID string
	ActorID   string
	Text      string
}

// Status classifies how a message was handled.
type Status string

const (
	StatusIgnored     Status = "ignored"
	StatusRateLimited Status = "rate_limited"
	StatusUnknown     Status = "unknown_command"
	StatusForbidden   Status = "forbidden"
	StatusFailed      Status = "failed"
	StatusOK          Status = "ok"
)

// Outcome is the result of handling one message.
type Outcome struct {
	Status Status

	// Command is the resolved command name, empty when none was found.
	Command string

	// Replies are the chunks to send back, in order.
	Replies []string
}

// Dispatcher parses inbound messages, runs the matching command through the
// middleware chain and returns the reply chunks. It is safe for concurrent use.
type Dispatcher struct {
	config   DispatcherConfig
	registry *Registry
	deps     DispatcherDeps
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *Registry, config DispatcherConfig, deps DispatcherDeps) (*Dispatcher, error) {
	if registry == nil {
		return nil, errors.New("chat: registry is required")
	}

	defaults := DefaultDispatcherConfig()
	if config.Prefix == "" {
		config.Prefix = defaults.Prefix
	}
	switch config.TenantMode {
	case "":
		config.TenantMode = TenantShared
	case TenantShared, TenantGuild:
	default:
		return nil, fmt.Errorf("chat: unknown tenant mode %q", config.TenantMode)
	}
	if config.CommandTimeout <= 0 {
		config.CommandTimeout = defaults.CommandTimeout
	}
	if config.MaxMessageLength <= 0 {
		config.MaxMessageLength = defaults.MaxMessageLength
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if deps.Recovery == nil {
		deps.Recovery = middleware.NewRecoveryMiddleware(middleware.RecoveryConfig{
			EnableStackTrace: true,
			LogPanics:        true,
			Logger:           config.Logger,
		})
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.SystemClock{}
	}

	return &Dispatcher{
		config:   config,
		registry: registry,
		deps:     deps,
		logger:   config.Logger.With("component", "dispatcher"),
	}, nil
}

// Prefix returns the configured command prefix.
func (d *Dispatcher) Prefix() string {
	return d.config.Prefix
}

// Dispatch handles one message and returns the reply chunks. Messages that
// are not commands yield no replies.
func (d *Dispatcher) Dispatch(ctx context.Context, in Inbound) []string {
	return d.Handle(ctx, in).Replies
}

// Handle is Dispatch with the full outcome.
func (d *Dispatcher) Handle(ctx context.Context, in Inbound) Outcome {
	text := strings.TrimSpace(in.Text)
	if !strings.HasPrefix(text, d.config.Prefix) {
		return Outcome{Status: StatusIgnored}
	}

	tokens := Tokenize(strings.TrimPrefix(text, d.config.Prefix))
	if len(tokens) == 0 {
		return Outcome{Status: StatusIgnored}
	}
	name := strings.ToLower(tokens[0])

	if d.deps.RateLimiter != nil {
		if res := d.deps.RateLimiter.Check(ctx, in.ActorID); !res.Allowed {
			d.logger.Warn("rate limited",
				"actor_id", in.ActorID,
				"command", name,
				"banned", res.IsBanned,
				"retry_after", res.RetryAfter,
			)
			return d.reply(in.ActorID, StatusRateLimited, name, res.ResponseMessage)
		}
	}

	cmd, ok := d.registry.Lookup(name)
	if !ok {
		return d.reply(in.ActorID, StatusUnknown, "", d.unknownCommandMessage())
	}

	if !cmd.Authorize(in.ActorID) {
		d.logger.Info("command refused", "actor_id", in.ActorID, "command", name)
		return d.reply(in.ActorID, StatusForbidden, name, MsgForbidden)
	}

	req := Request{
		Tenant:    d.tenantFor(in),
		GuildID:   in.GuildID,
		ChannelID: in.ChannelID,
		ActorID:   in.ActorID,
		Command:   name,
		Args:      tokens[1:],
	}

	requestID := uuid.New().String()
	ctx = middleware.ContextWithRequestID(ctx, requestID)
	ctx = middleware.ContextWithActorID(ctx, in.ActorID)

	text, status := d.execute(ctx, cmd, req, requestID)
	d.recordCounters(ctx, name, in.ActorID)
	return d.reply(in.ActorID, status, name, text)
}

// execute runs the command under recovery, timeout and metrics.
func (d *Dispatcher) execute(ctx context.Context, cmd Command, req Request, requestID string) (string, Status) {
	var mctx *middleware.RequestContext
	if d.deps.Metrics != nil {
		mctx = d.deps.Metrics.Start(req.Command, req.ActorID)
	}

	execCtx, cancel := context.WithTimeout(ctx, d.config.CommandTimeout)
	defer cancel()

	var out string
	res := d.deps.Recovery.RecoverWithHandler(execCtx, req.ActorID, req.Command, func() error {
		var err error
		out, err = cmd.Execute(execCtx, req)
		return err
	})

	var failure error
	switch {
	case res.Recovered:
		failure = fmt.Errorf("panic in %s", req.Command)
		if res.PanicInfo != nil {
			failure = res.PanicInfo.Error
		}
	case res.Err != nil:
		failure = res.Err
		d.logger.Error("command failed",
			"command", req.Command,
			"actor_id", req.ActorID,
			"tenant", req.Tenant,
			"request_id", requestID,
			"error", res.Err,
		)
	}

	if mctx != nil {
		mctx.End(failure)
	}

	if failure != nil {
		return middleware.DefaultUserErrorMessage, StatusFailed
	}

	d.logger.Debug("command executed",
		"command", req.Command,
		"actor_id", req.ActorID,
		"tenant", req.Tenant,
		"request_id", requestID,
	)
	return out, StatusOK
}

// recordCounters bumps the usage counter and the last activity of the actor.
// Failures are logged only.
func (d *Dispatcher) recordCounters(ctx context.Context, name, actorID string) {
	if !d.config.CommandCounters || d.deps.Counters == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	if _, err := d.deps.Counters.Incr(ctx, CommandCounterPrefix+name, 1); err != nil {
		d.logger.Warn("failed to record command counter", "command", name, "error", err)
	}
	stamp := d.deps.Clock.Now().UTC().Format(time.RFC3339)
	if err := d.deps.Counters.Put(ctx, LastActivityPrefix+actorID, stamp); err != nil {
		d.logger.Warn("failed to record last activity", "actor_id", actorID, "error", err)
	}
}

func (d *Dispatcher) tenantFor(in Inbound) shared.TenantID {
	if d.config.TenantMode == TenantGuild {
		return shared.TenantID(strings.TrimSpace(in.GuildID)).OrGlobal()
	}
	return shared.GlobalTenant
}

func (d *Dispatcher) reply(actorID string, status Status, command, text string) Outcome {
	words := d.config.WordBoundarySplit
	if d.config.WordBoundarySplitFor != nil {
		words = d.config.WordBoundarySplitFor(actorID)
	}
	var chunks []string
	if words {
		chunks = SplitMessageWords(text, d.config.MaxMessageLength)
	} else {
		chunks = SplitMessage(text, d.config.MaxMessageLength)
	}
	return Outcome{Status: status, Command: command, Replies: chunks}
}

func (d *Dispatcher) unknownCommandMessage() string {
	return fmt.Sprintf("❌ Comando no encontrado. Usa `%ssistema ayuda` para ver los comandos disponibles.", d.config.Prefix)
}
