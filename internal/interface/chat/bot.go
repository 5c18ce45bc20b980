package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRANSPORT
// ══════════════════════════════════════════════════════════════════════════════

// Transport connects the bot to a messaging platform.
type Transport interface {
	// Receive blocks until the next inbound message. It returns io.EOF when
	// the source is exhausted and ctx.Err() when ctx is done.
	Receive(ctx context.Context) (Inbound, error)

	// Send posts text to a channel.
	Send(ctx context.Context, channelID, text string) error
}

// ══════════════════════════════════════════════════════════════════════════════
// BOT CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// BotConfig contains configuration for the bot loop.
type BotConfig struct {
	// MaxConcurrentMessages limits concurrent message processing.
	MaxConcurrentMessages int

	// GracefulShutdownTimeout bounds how long Stop waits for in-flight messages.
	GracefulShutdownTimeout time.Duration

	// SendTimeout bounds a single Transport.Send.
	SendTimeout time.Duration

	Logger *slog.Logger
}

// DefaultBotConfig returns sensible defaults.
func DefaultBotConfig() BotConfig {
	return BotConfig{
		MaxConcurrentMessages:   100,
		GracefulShutdownTimeout: 30 * time.Second,
		SendTimeout:             10 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// BOT
// ══════════════════════════════════════════════════════════════════════════════

// Bot pulls messages from a Transport, dispatches them concurrently and
// sends the replies back to the originating channel.
type Bot struct {
	config     BotConfig
	transport  Transport
	dispatcher *Dispatcher
	logger     *slog.Logger

	running   bool
	runningMu sync.RWMutex
	stopCh    chan struct{}
	msgSem    chan struct{}
	wg        sync.WaitGroup

	stats *BotStats
}

// BotStats holds runtime statistics.
type BotStats struct {
	mu               sync.RWMutex
	StartedAt        time.Time
	MessagesReceived int64
	MessagesHandled  int64
	RepliesSent      int64
	ErrorsCount      int64
	CommandsCount    map[string]int64
}

// StatsSnapshot is a copy of BotStats.
type StatsSnapshot struct {
	StartedAt        time.Time
	Uptime           time.Duration
	MessagesReceived int64
	MessagesHandled  int64
	RepliesSent      int64
	ErrorsCount      int64
	CommandsCount    map[string]int64
	Running          bool
}

// NewBot creates a bot over transport and dispatcher.
func NewBot(config BotConfig, transport Transport, dispatcher *Dispatcher) (*Bot, error) {
	if transport == nil {
		return nil, errors.New("chat: transport is required")
	}
	if dispatcher == nil {
		return nil, errors.New("chat: dispatcher is required")
	}

	defaults := DefaultBotConfig()
	if config.MaxConcurrentMessages <= 0 {
		config.MaxConcurrentMessages = defaults.MaxConcurrentMessages
	}
	if config.GracefulShutdownTimeout <= 0 {
		config.GracefulShutdownTimeout = defaults.GracefulShutdownTimeout
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = defaults.SendTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Bot{
		config:     config,
		transport:  transport,
		dispatcher: dispatcher,
		logger:     config.Logger.With("component", "bot"),
		stopCh:     make(chan struct{}),
		msgSem:     make(chan struct{}, config.MaxConcurrentMessages),
		stats: &BotStats{
			CommandsCount: make(map[string]int64),
		},
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE MANAGEMENT
// ══════════════════════════════════════════════════════════════════════════════

// Run receives and dispatches messages until the transport is exhausted,
// ctx is done or Stop is called. In-flight messages keep running; Stop
// waits for them.
func (b *Bot) Run(ctx context.Context) error {
	b.runningMu.Lock()
	if b.running {
		b.runningMu.Unlock()
		return errors.New("bot is already running")
	}
	b.running = true
	b.stats.mu.Lock()
	b.stats.StartedAt = time.Now()
	b.stats.mu.Unlock()
	b.runningMu.Unlock()

	b.logger.Info("starting bot",
		"prefix", b.dispatcher.Prefix(),
		"max_concurrent", b.config.MaxConcurrentMessages,
	)

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-b.stopCh:
			cancel()
		case <-loopCtx.Done():
		}
	}()

	for {
		msg, err := b.transport.Receive(loopCtx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			b.logger.Info("transport exhausted")
			return nil
		case loopCtx.Err() != nil:
			return nil
		default:
			b.stats.mu.Lock()
			b.stats.ErrorsCount++
			b.stats.mu.Unlock()
			return fmt.Errorf("receive: %w", err)
		}

		select {
		case b.msgSem <- struct{}{}:
		case <-loopCtx.Done():
			return nil
		}

		b.wg.Add(1)
		go func(msg Inbound) {
			defer b.wg.Done()
			defer func() { <-b.msgSem }()
			b.handleMessage(context.WithoutCancel(ctx), msg)
		}(msg)
	}
}

// Stop ends the receive loop and waits for in-flight messages.
func (b *Bot) Stop(ctx context.Context) error {
	b.runningMu.Lock()
	if !b.running {
		b.runningMu.Unlock()
		return nil
	}
	b.running = false
	b.runningMu.Unlock()

	b.logger.Info("stopping bot")
	close(b.stopCh)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("all messages completed gracefully")
	case <-time.After(b.config.GracefulShutdownTimeout):
		b.logger.Warn("graceful shutdown timeout exceeded")
	case <-ctx.Done():
		b.logger.Warn("context cancelled during shutdown")
		return ctx.Err()
	}
	return nil
}

// Wait blocks until every in-flight message is handled.
func (b *Bot) Wait() {
	b.wg.Wait()
}

// IsRunning returns whether the bot is currently running.
func (b *Bot) IsRunning() bool {
	b.runningMu.RLock()
	defer b.runningMu.RUnlock()
	return b.running
}

// ══════════════════════════════════════════════════════════════════════════════
// MESSAGE HANDLING
// ══════════════════════════════════════════════════════════════════════════════

func (b *Bot) handleMessage(ctx context.Context, msg Inbound) {
	b.stats.mu.Lock()
	b.stats.MessagesReceived++
	b.stats.mu.Unlock()

	out := b.dispatcher.Handle(ctx, msg)
	if out.Status == StatusIgnored {
		return
	}

	b.stats.mu.Lock()
	b.stats.MessagesHandled++
	if out.Command != "" {
		b.stats.CommandsCount[out.Command]++
	}
	if out.Status == StatusFailed {
		b.stats.ErrorsCount++
	}
	b.stats.mu.Unlock()

	for _, chunk := range out.Replies {
		if err := b.send(ctx, msg.ChannelID, chunk); err != nil {
			b.stats.mu.Lock()
			b.stats.ErrorsCount++
			b.stats.mu.Unlock()
			b.logger.Error("failed to send reply",
				"channel_id", msg.ChannelID,
				"actor_id", msg.ActorID,
				"command", out.Command,
				"error", err,
			)
			return
		}
		b.stats.mu.Lock()
		b.stats.RepliesSent++
		b.stats.mu.Unlock()
	}
}

func (b *Bot) send(ctx context.Context, channelID, text string) error {
	ctx, cancel := context.WithTimeout(ctx, b.config.SendTimeout)
	defer cancel()
	return b.transport.Send(ctx, channelID, text)
}

// ══════════════════════════════════════════════════════════════════════════════
// STATISTICS
// ══════════════════════════════════════════════════════════════════════════════

// Stats returns a copy of the runtime statistics.
func (b *Bot) Stats() StatsSnapshot {
	running := b.IsRunning()

	b.stats.mu.RLock()
	defer b.stats.mu.RUnlock()

	commands := make(map[string]int64, len(b.stats.CommandsCount))
	for k, v := range b.stats.CommandsCount {
		commands[k] = v
	}

	var uptime time.Duration
	if !b.stats.StartedAt.IsZero() {
		uptime = time.Since(b.stats.StartedAt)
	}

	return StatsSnapshot{
		StartedAt:        b.stats.StartedAt,
		Uptime:           uptime,
		MessagesReceived: b.stats.MessagesReceived,
		MessagesHandled:  b.stats.MessagesHandled,
		RepliesSent:      b.stats.RepliesSent,
		ErrorsCount:      b.stats.ErrorsCount,
		CommandsCount:    commands,
		Running:          running,
	}
}
