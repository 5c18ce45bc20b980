package redis

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Addr(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "localhost:6379", cfg.Addr())
	assert.Equal(t, "edubot:kv", cfg.Namespace)
}

// newTestBackend connects to REDIS_ADDR (host:port) or skips the test.
func newTestBackend(t *testing.T) *Backend {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	cfg := DefaultConfig()
	host, port, ok := strings.Cut(addr, ":")
	require.True(t, ok, "REDIS_ADDR must be host:port")
	cfg.Host = host
	n, err := strconv.Atoi(port)
	require.NoError(t, err)
	cfg.Port = n
	cfg.Namespace = "edubot:test:" + strconv.FormatInt(time.Now().UnixNano(), 10)

	b, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = b.Sync(context.Background(), nil)
		_ = b.Close()
	})
	return b
}

func TestBackend_Integration(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Sync(ctx, map[string]json.RawMessage{
		"a": json.RawMessage(`1`),
		"b": json.RawMessage(`{"x":true}`),
	}))
	require.NoError(t, b.PutKey(ctx, "c", json.RawMessage(`"tres"`)))
	require.NoError(t, b.DeleteKey(ctx, "a"))

	entries, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.JSONEq(t, `{"x":true}`, string(entries["b"]))
	assert.Equal(t, `"tres"`, string(entries["c"]))

	require.NoError(t, b.Sync(ctx, map[string]json.RawMessage{"z": json.RawMessage(`0`)}))
	entries, err = b.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	assert.ErrorIs(t, b.PutKey(ctx, "", nil), ErrEmptyKey)
}
