// Package console implements a line-oriented chat transport over an
// io.Reader and io.Writer, for running the bot locally or from scripts.
//
// Every input line is one message. A line may start with a header naming
// the sender and the place it was posted to:
//
//	alice@aula1#general: !tarea listar
//
// Headerless lines are attributed to the configured defaults.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the console client.
type ClientConfig struct {
	// DefaultActor is the sender of headerless lines.
	DefaultActor string

	// DefaultGuild is the guild of headerless lines.
	DefaultGuild string

	// DefaultChannel is the channel of headerless lines and headers without one.
	DefaultChannel string

	// MaxLineBytes bounds a single input line.
	MaxLineBytes int

	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		DefaultActor:   "console",
		DefaultGuild:   "local",
		DefaultChannel: "general",
		MaxLineBytes:   64 * 1024,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MESSAGE
// ══════════════════════════════════════════════════════════════════════════════

// Message is one parsed input line.
type Message struct {
	ActorID   string
	GuildID   string
	ChannelID string
	Text      string
}

// ParseLine splits an optional `actor@guild#channel:` header from the text.
// Missing parts fall back to the defaults of cfg. A line whose prefix before
// the first colon contains whitespace has no header.
func ParseLine(line string, cfg ClientConfig) Message {
	msg := Message{
		ActorID:   cfg.DefaultActor,
		GuildID:   cfg.DefaultGuild,
		ChannelID: cfg.DefaultChannel,
		Text:      strings.TrimSpace(line),
	}

	head, text, ok := strings.Cut(line, ":")
	if !ok || head == "" || strings.ContainsAny(head, " \t") || !strings.ContainsAny(head, "@#") {
		return msg
	}

	if rest, channel, found := strings.Cut(head, "#"); found {
		if channel != "" {
			msg.ChannelID = channel
		}
		head = rest
	}
	if actor, guild, found := strings.Cut(head, "@"); found {
		if guild != "" {
			msg.GuildID = guild
		}
		head = actor
	}
	if head != "" {
		msg.ActorID = head
	}
	msg.Text = strings.TrimSpace(text)
	return msg
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

type readResult struct {
	line string
	err  error
}

// Client reads messages from r and writes replies to w.
type Client struct {
	config ClientConfig
	logger *slog.Logger

	lines chan readResult

	writeMu sync.Mutex
	w       io.Writer
}

// NewClient creates a console client. Reading starts immediately in a
// background goroutine that ends at the end of r.
func NewClient(config ClientConfig, r io.Reader, w io.Writer) *Client {
	defaults := DefaultClientConfig()
	if config.DefaultActor == "" {
		config.DefaultActor = defaults.DefaultActor
	}
	if config.DefaultGuild == "" {
		config.DefaultGuild = defaults.DefaultGuild
	}
	if config.DefaultChannel == "" {
		config.DefaultChannel = defaults.DefaultChannel
	}
	if config.MaxLineBytes <= 0 {
		config.MaxLineBytes = defaults.MaxLineBytes
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	c := &Client{
		config: config,
		logger: config.Logger.With("component", "console"),
		lines:  make(chan readResult),
		w:      w,
	}
	go c.readLoop(r)
	return c
}

func (c *Client) readLoop(r io.Reader) {
	defer close(c.lines)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), c.config.MaxLineBytes)
	for scanner.Scan() {
		c.lines <- readResult{line: scanner.Text()}
	}
	if err := scanner.Err(); err != nil {
		c.lines <- readResult{err: err}
	}
}

// Receive returns the next non-empty line. It returns io.EOF at the end of
// input and ctx.Err() when ctx is done first.
func (c *Client) Receive(ctx context.Context) (Message, error) {
	for {
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case res, ok := <-c.lines:
			if !ok {
				return Message{}, io.EOF
			}
			if res.err != nil {
				return Message{}, fmt.Errorf("read input: %w", res.err)
			}
			msg := ParseLine(res.line, c.config)
			if msg.Text == "" {
				continue
			}
			c.logger.Debug("line received", "actor_id", msg.ActorID, "channel_id", msg.ChannelID)
			return msg, nil
		}
	}
}

// Send writes text as `[#channel] text`. Multi-line text keeps its
// newlines after the channel tag.
func (c *Client) Send(ctx context.Context, channelID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.w == nil {
		return errors.New("console: no output configured")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := fmt.Fprintf(c.w, "[#%s] %s\n", channelID, text); err != nil {
		return fmt.Errorf("write reply: %w", err)
	}
	return nil
}
