package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI serves canned getUpdates batches and records sendMessage bodies.
type fakeAPI struct {
	mu      sync.Mutex
	batches [][]Update
	offsets []float64
	sent    []map[string]any
	fail    int
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	if f.fail > 0 {
		f.fail--
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":502,"description":"Bad Gateway"}`))
		return
	}

	var result any = true
	switch {
	case strings.HasSuffix(r.URL.Path, "/getUpdates"):
		off, _ := body["offset"].(float64)
		f.offsets = append(f.offsets, off)
		var batch []Update
		if len(f.batches) > 0 {
			batch, f.batches = f.batches[0], f.batches[1:]
		}
		if batch == nil {
			batch = []Update{}
		}
		result = batch
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		f.sent = append(f.sent, body)
		result = Message{MessageID: 1, Chat: &Chat{ID: 5}}
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		result = User{ID: 99, IsBot: true, FirstName: "edubot"}
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
		return
	}

	raw, _ := json.Marshal(result)
	_ = json.NewEncoder(w).Encode(APIResponse{OK: true, Result: raw})
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientConfig{
		Token:         "TOKEN",
		BaseURL:       srv.URL,
		Timeout:       time.Second,
		PollTimeout:   1,
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func textUpdate(id, chat, from int64, text string) Update {
	return Update{UpdateID: id, Message: &Message{
		MessageID: id,
		From:      &User{ID: from, FirstName: "u"},
		Chat:      &Chat{ID: chat, Type: "group"},
		Text:      text,
	}}
}

func TestClient_ReceiveSkipsNonTextAndAdvancesOffset(t *testing.T) {
	api := &fakeAPI{batches: [][]Update{
		{
			textUpdate(10, -100, 7, "!tarea listar"),
			{UpdateID: 11},
			{UpdateID: 12, Message: &Message{From: &User{ID: 8, IsBot: true}, Chat: &Chat{ID: -100}, Text: "!spam"}},
		},
		{textUpdate(13, -100, 8, "!sistema puntos")},
	}}
	c := newTestClient(t, api)

	first, err := c.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Incoming{ActorID: "7", GuildID: "-100", ChannelID: "-100", Text: "!tarea listar"}, first)

	second, err := c.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "8", second.ActorID)
	assert.Equal(t, "!sistema puntos", second.Text)

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Len(t, api.offsets, 2)
	assert.Equal(t, float64(0), api.offsets[0])
	assert.Equal(t, float64(13), api.offsets[1])
}

func TestClient_ReceiveStopsOnCancel(t *testing.T) {
	c := newTestClient(t, &fakeAPI{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Receive(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled), "got %v", err)
}

func TestClient_SendRetriesServerErrors(t *testing.T) {
	api := &fakeAPI{fail: 2}
	c := newTestClient(t, api)

	require.NoError(t, c.Send(context.Background(), "-100", "✅ listo"))

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Len(t, api.sent, 1)
	assert.Equal(t, float64(-100), api.sent[0]["chat_id"])
	assert.Equal(t, "✅ listo", api.sent[0]["text"])
}

func TestClient_SendRejectsBadChannel(t *testing.T) {
	c := newTestClient(t, &fakeAPI{})
	assert.ErrorContains(t, c.Send(context.Background(), "general", "x"), "invalid chat id")
}

func TestClient_GetMe(t *testing.T) {
	c := newTestClient(t, &fakeAPI{})
	me, err := c.GetMe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(99), me.ID)
}

func TestNewClient_RequiresToken(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	assert.Error(t, err)
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, isRetryableError(&APIError{Code: 429}))
	assert.True(t, isRetryableError(&APIError{Code: 503}))
	assert.False(t, isRetryableError(&APIError{Code: 400}))
	assert.False(t, isRetryableError(context.Canceled))
	assert.True(t, isRetryableError(&net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}))
	assert.False(t, isRetryableError(errors.New("decode getMe response")))
	assert.False(t, isRetryableError(nil))
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, retryAfter(fmt.Errorf("send message: %w", &APIError{Code: 429, RetryAfter: 3})))
	assert.Zero(t, retryAfter(&APIError{Code: 502}))
	assert.Zero(t, retryAfter(errors.New("other")))
}
