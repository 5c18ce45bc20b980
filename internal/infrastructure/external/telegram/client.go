// Package telegram implements a chat transport over the Telegram Bot API.
// Messages are pulled with long polling and replies are posted with
// sendMessage.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/educativo/edubot/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig configures NewClient.
type ClientConfig struct {
	Token   string
	BaseURL string

	// Timeout bounds one HTTP round trip and must exceed PollTimeout.
	Timeout time.Duration

	// PollTimeout is the getUpdates long-poll wait, in seconds.
	PollTimeout int

	// RetryAttempts counts retries after the first call.
	RetryAttempts int
	RetryDelay    time.Duration

	Logger *slog.Logger
	Debug  bool
}

// DefaultClientConfig returns the production settings for token.
func DefaultClientConfig(token string) ClientConfig {
	return ClientConfig{
		Token:         token,
		BaseURL:       "https://api.telegram.org",
		Timeout:       60 * time.Second,
		PollTimeout:   30,
		RetryAttempts: 3,
		RetryDelay:    time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// API TYPES
// Only the fields the bot reads.
// ══════════════════════════════════════════════════════════════════════════════

type Update struct {
	UpdateID      int64    `json:"update_id"`
	Message       *Message `json:"message,omitempty"`
	EditedMessage *Message `json:"edited_message,omitempty"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      *Chat  `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text,omitempty"`
}

type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username,omitempty"`
}

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// APIResponse is the envelope around every Bot API result.
type APIResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	Description string          `json:"description,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

// APIError is a response with ok=false.
type APIError struct {
	Code        int
	Description string
	RetryAfter  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api error %d: %s", e.Code, e.Description)
}

// Incoming is a text message as the bot sees it. Telegram has no guilds;
// GuildID and ChannelID are both the chat id.
type Incoming struct {
	ActorID   string
	GuildID   string
	ChannelID string
	Text      string
}

// toIncoming drops updates that carry no human text message.
func toIncoming(u Update) (Incoming, bool) {
	m := u.Message
	if m == nil || m.Chat == nil || m.From == nil || m.From.IsBot || strings.TrimSpace(m.Text) == "" {
		return Incoming{}, false
	}
	chatID := strconv.FormatInt(m.Chat.ID, 10)
	return Incoming{
		ActorID:   strconv.FormatInt(m.From.ID, 10),
		GuildID:   chatID,
		ChannelID: chatID,
		Text:      m.Text,
	}, true
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client talks to one bot over the Bot API.
type Client struct {
	config  ClientConfig
	http    *http.Client
	retrier *retry.Retrier
	logger  *slog.Logger

	mu      sync.Mutex
	offset  int64
	pending []Incoming
}

// NewClient fills unset fields from DefaultClientConfig. Token is required.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Token == "" {
		return nil, errors.New("telegram: token is required")
	}
	defaults := DefaultClientConfig(config.Token)
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.PollTimeout <= 0 {
		config.PollTimeout = defaults.PollTimeout
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaults.RetryDelay
	}
	if config.RetryAttempts < 0 {
		config.RetryAttempts = 0
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	logger := config.Logger.With("component", "telegram")
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
		retrier: retry.New(
			retry.WithMaxAttempts(config.RetryAttempts+1),
			retry.WithInitialDelay(config.RetryDelay),
			retry.WithRetryIf(isRetryableError),
			retry.WithDelayHint(retryAfter),
			retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
				logger.Warn("telegram call failed, retrying", "attempt", attempt, "delay", delay, "error", err)
			}),
		),
		logger: logger,
	}, nil
}

// Receive returns the next text message, long polling when nothing is
// buffered. Poll failures are logged and retried after RetryDelay until
// ctx is done.
func (c *Client) Receive(ctx context.Context) (Incoming, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Incoming{}, err
		}
		if in, ok := c.next(); ok {
			return in, nil
		}

		c.mu.Lock()
		offset := c.offset
		c.mu.Unlock()

		updates, err := c.GetUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return Incoming{}, ctx.Err()
			}
			c.logger.Error("failed to get updates", "error", err)
			select {
			case <-ctx.Done():
				return Incoming{}, ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
			continue
		}
		c.enqueue(updates)
	}
}

func (c *Client) next() (Incoming, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return Incoming{}, false
	}
	in := c.pending[0]
	c.pending = c.pending[1:]
	return in, true
}

// enqueue advances the offset past every update, text or not.
func (c *Client) enqueue(updates []Update) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range updates {
		if u.UpdateID >= c.offset {
			c.offset = u.UpdateID + 1
		}
		if in, ok := toIncoming(u); ok {
			c.pending = append(c.pending, in)
		}
	}
}

// Send posts text to the chat whose id is channelID.
func (c *Client) Send(ctx context.Context, channelID, text string) error {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", channelID, err)
	}
	_, err = c.SendText(ctx, chatID, text)
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// API METHODS
// ══════════════════════════════════════════════════════════════════════════════

// SendText sends a plain text message without link previews.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) (*Message, error) {
	var m Message
	err := c.call(ctx, "sendMessage", map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	}, &m)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &m, nil
}

// GetUpdates long-polls for message updates from offset on.
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	body := map[string]any{
		"timeout":         c.config.PollTimeout,
		"limit":           100,
		"allowed_updates": []string{"message"},
	}
	if offset > 0 {
		body["offset"] = offset
	}

	var updates []Update
	if err := c.call(ctx, "getUpdates", body, &updates); err != nil {
		return nil, fmt.Errorf("get updates: %w", err)
	}
	return updates, nil
}

// GetMe returns the bot's own user, which also validates the token.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var u User
	if err := c.call(ctx, "getMe", nil, &u); err != nil {
		return nil, fmt.Errorf("get me: %w", err)
	}
	return &u, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSPORT
// ══════════════════════════════════════════════════════════════════════════════

func (c *Client) call(ctx context.Context, method string, body map[string]any, result any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal %s: %w", method, err)
		}
	}
	return c.retrier.Do(ctx, func(ctx context.Context) error {
		return c.post(ctx, method, payload, result)
	})
}

func (c *Client) post(ctx context.Context, method string, payload []byte, result any) error {
	url := c.config.BaseURL + "/bot" + c.config.Token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.config.Debug {
		c.logger.Debug("telegram api call", "method", method)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s response (HTTP %d): %w", method, resp.StatusCode, err)
	}
	if !env.OK {
		apiErr := &APIError{Code: env.ErrorCode, Description: env.Description}
		if env.Parameters != nil {
			apiErr.RetryAfter = env.Parameters.RetryAfter
		}
		return apiErr
	}
	if result != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// isRetryableError accepts rate limits, server errors and dropped
// connections. Client errors and cancellation are final.
func isRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED)
}

func retryAfter(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return time.Duration(apiErr.RetryAfter) * time.Second
	}
	return 0
}
