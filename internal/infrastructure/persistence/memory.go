package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// ErrBackendUnavailable is returned by MemoryBackend while it is set to fail.
var ErrBackendUnavailable = errors.New("persistence: backend unavailable")

// MemoryBackend keeps entries in process memory. It supports single-key
// writes and can be switched into a failing mode.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]json.RawMessage
	failing bool

	puts    int
	deletes int
	syncs   int
}

// NewMemoryBackend creates an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]json.RawMessage)}
}

// SetFailing makes every following call fail (or succeed again).
func (m *MemoryBackend) SetFailing(failing bool) {
	m.mu.Lock()
	m.failing = failing
	m.mu.Unlock()
}

func (m *MemoryBackend) Load(ctx context.Context) (map[string]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return nil, ErrBackendUnavailable
	}
	out := make(map[string]json.RawMessage, len(m.entries))
	for k, v := range m.entries {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out, nil
}

func (m *MemoryBackend) Sync(ctx context.Context, entries map[string]json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return ErrBackendUnavailable
	}
	m.entries = make(map[string]json.RawMessage, len(entries))
	for k, v := range entries {
		m.entries[k] = append(json.RawMessage(nil), v...)
	}
	m.syncs++
	return nil
}

func (m *MemoryBackend) PutKey(ctx context.Context, key string, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return ErrBackendUnavailable
	}
	m.entries[key] = append(json.RawMessage(nil), value...)
	m.puts++
	return nil
}

func (m *MemoryBackend) DeleteKey(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return ErrBackendUnavailable
	}
	delete(m.entries, key)
	m.deletes++
	return nil
}

func (m *MemoryBackend) Close() error { return nil }

// Stored returns the raw value persisted under key.
func (m *MemoryBackend) Stored(key string) (json.RawMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	return v, ok
}

// Syncs returns the number of successful full syncs.
func (m *MemoryBackend) Syncs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncs
}
