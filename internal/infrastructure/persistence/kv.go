// Package persistence implements the key/value gateway that makes the bot's
// state durable.
//
// The Gateway keeps every entry in an in-memory cache and writes each
// mutation through to a pluggable Backend:
//   - file: a single JSON document on disk (default)
//   - redis: one hash per namespace
//   - postgres: a kv_entries table
//   - memory: no durability, used in tests and dry runs
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/educativo/edubot/internal/domain/shared"
	"github.com/educativo/edubot/pkg/circuitbreaker"
	"github.com/educativo/edubot/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONTRACTS
// ══════════════════════════════════════════════════════════════════════════════

// Backend is a durable store of JSON entries.
type Backend interface {
	// Load returns every stored entry. A missing store loads as empty.
	Load(ctx context.Context) (map[string]json.RawMessage, error)

	// Sync replaces the stored contents with entries.
	Sync(ctx context.Context, entries map[string]json.RawMessage) error

	// Close releases the backend's resources.
	Close() error
}

// KeyWriter is implemented by backends that can persist a single key.
// Backends without it receive a full Sync on every mutation.
type KeyWriter interface {
	PutKey(ctx context.Context, key string, value json.RawMessage) error
	DeleteKey(ctx context.Context, key string) error
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds gateway configuration.
type Config struct {
	// Name identifies the backend in logs ("file", "redis", ...).
	Name string

	// WriteTimeout bounds every backend call.
	WriteTimeout time.Duration

	// Breaker guards networked backends. Optional.
	Breaker *circuitbreaker.CircuitBreaker

	// Retrier is used for Load and Flush. Defaults to retry.PersistenceRetrier.
	Retrier *retry.Retrier

	Logger *slog.Logger
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Name:         "memory",
		WriteTimeout: 5 * time.Second,
	}
}

// ErrClosed is returned by mutations after Close.
var ErrClosed = shared.NewDomainError("persistence", "Write", shared.ErrPersistence, "gateway closed")

// ══════════════════════════════════════════════════════════════════════════════
// GATEWAY
// ══════════════════════════════════════════════════════════════════════════════

// Gateway is the cache plus write-through layer over a Backend.
// It is safe for concurrent use.
type Gateway struct {
	backend Backend
	config  Config
	logger  *slog.Logger

	mu    sync.RWMutex
	cache map[string]json.RawMessage

	// writeMu serializes backend writes so that each write observes the
	// latest cached value of its key.
	writeMu sync.Mutex

	// dirty is set after a failed write; the next write becomes a full Sync.
	dirty  atomic.Bool
	closed atomic.Bool

	writes   atomic.Int64
	failures atomic.Int64
	syncs    atomic.Int64
}

// Open loads the backing store in full and returns a ready gateway.
func Open(ctx context.Context, backend Backend, cfg Config) (*Gateway, error) {
	if backend == nil {
		return nil, errors.New("persistence: backend is required")
	}
	defaults := DefaultConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.Name == "" {
		cfg.Name = defaults.Name
	}
	if cfg.Retrier == nil {
		cfg.Retrier = retry.PersistenceRetrier()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	g := &Gateway{
		backend: backend,
		config:  cfg,
		logger:  cfg.Logger.With("component", "persistence", "backend", cfg.Name),
		cache:   make(map[string]json.RawMessage),
	}

	var loaded map[string]json.RawMessage
	err := cfg.Retrier.Do(ctx, func(ctx context.Context) error {
		var loadErr error
		loaded, loadErr = g.load(ctx)
		return loadErr
	})
	if err != nil {
		return nil, shared.WrapError("persistence", "Open", shared.ErrPersistence, "failed to load backing store", err)
	}
	for k, v := range loaded {
		g.cache[k] = v
	}

	g.logger.Info("persistence gateway opened", "entries", len(g.cache))
	return g, nil
}

func (g *Gateway) load(ctx context.Context) (map[string]json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.WriteTimeout)
	defer cancel()
	return g.backend.Load(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// READS (cache only)
// ══════════════════════════════════════════════════════════════════════════════

// Get returns a copy of the raw JSON stored under key.
func (g *Gateway) Get(key string) (json.RawMessage, bool) {
	g.mu.RLock()
	v, ok := g.cache[key]
	g.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return append(json.RawMessage(nil), v...), true
}

// GetInto decodes the value stored under key into dest.
func (g *Gateway) GetInto(key string, dest any) (bool, error) {
	raw, ok := g.Get(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return true, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

// Has reports whether key is present.
func (g *Gateway) Has(key string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.cache[key]
	return ok
}

// Keys returns the sorted keys starting with prefix.
func (g *Gateway) Keys(prefix string) []string {
	g.mu.RLock()
	keys := make([]string, 0, len(g.cache))
	for k := range g.cache {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	g.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Len returns the number of cached entries.
func (g *Gateway) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.cache)
}

// ══════════════════════════════════════════════════════════════════════════════
// MUTATIONS (write-through)
// ══════════════════════════════════════════════════════════════════════════════

// Put caches value under key and persists it eagerly.
// The cache keeps the new value even when the write fails.
func (g *Gateway) Put(ctx context.Context, key string, value any) error {
	if g.closed.Load() {
		return ErrClosed
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return shared.WrapError("persistence", "Put", shared.ErrValidation, "value is not serializable", err)
	}

	g.mu.Lock()
	g.cache[key] = raw
	g.mu.Unlock()

	return g.persistKey(ctx, "Put", key)
}

// Delete removes key and persists the removal. It reports whether the key existed.
func (g *Gateway) Delete(ctx context.Context, key string) (bool, error) {
	if g.closed.Load() {
		return false, ErrClosed
	}

	g.mu.Lock()
	_, existed := g.cache[key]
	delete(g.cache, key)
	g.mu.Unlock()

	if !existed {
		return false, nil
	}
	return true, g.persistKey(ctx, "Delete", key)
}

// Incr adds delta to the integer stored under key and returns the new value.
// A missing or non-numeric entry counts as zero.
func (g *Gateway) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	if g.closed.Load() {
		return 0, ErrClosed
	}

	g.mu.Lock()
	var current int64
	if raw, ok := g.cache[key]; ok {
		if n, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
			current = n
		}
	}
	current += delta
	g.cache[key] = json.RawMessage(strconv.FormatInt(current, 10))
	g.mu.Unlock()

	return current, g.persistKey(ctx, "Incr", key)
}

// Flush writes the whole cache to the backend, with retries.
func (g *Gateway) Flush(ctx context.Context) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	err := g.config.Retrier.Do(ctx, g.syncAll)
	if err != nil {
		return shared.WrapError("persistence", "Flush", shared.ErrPersistence, "flush failed", err)
	}
	return nil
}

// Close flushes and closes the backend. Later mutations return ErrClosed.
func (g *Gateway) Close(ctx context.Context) error {
	if !g.closed.CompareAndSwap(false, true) {
		return nil
	}

	flushErr := g.Flush(ctx)
	closeErr := g.backend.Close()
	g.logger.Info("persistence gateway closed",
		"writes", g.writes.Load(),
		"failures", g.failures.Load(),
		"full_syncs", g.syncs.Load(),
	)
	return errors.Join(flushErr, closeErr)
}

// Dirty reports whether a write failed and has not been repaired yet.
func (g *Gateway) Dirty() bool {
	return g.dirty.Load()
}

// Backend returns the backend name.
func (g *Gateway) Backend() string {
	return g.config.Name
}

// ══════════════════════════════════════════════════════════════════════════════
// WRITE PATH
// ══════════════════════════════════════════════════════════════════════════════

// persistKey writes the current cached state of key. A dirty gateway or a
// backend without KeyWriter gets a full sync instead.
func (g *Gateway) persistKey(ctx context.Context, op, key string) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	g.writes.Add(1)

	kw, ok := g.backend.(KeyWriter)
	if !ok || g.dirty.Load() {
		if err := g.syncAll(ctx); err != nil {
			return g.fail(op, key, err)
		}
		return nil
	}

	g.mu.RLock()
	raw, present := g.cache[key]
	g.mu.RUnlock()

	err := g.guard(ctx, func(ctx context.Context) error {
		if present {
			return kw.PutKey(ctx, key, raw)
		}
		return kw.DeleteKey(ctx, key)
	})
	if err != nil {
		return g.fail(op, key, err)
	}
	return nil
}

// syncAll replaces the backend contents with the cache. writeMu must be held.
func (g *Gateway) syncAll(ctx context.Context) error {
	g.mu.RLock()
	entries := make(map[string]json.RawMessage, len(g.cache))
	for k, v := range g.cache {
		entries[k] = v
	}
	g.mu.RUnlock()

	err := g.guard(ctx, func(ctx context.Context) error {
		return g.backend.Sync(ctx, entries)
	})
	if err != nil {
		g.dirty.Store(true)
		return err
	}

	g.syncs.Add(1)
	if g.dirty.CompareAndSwap(true, false) {
		g.logger.Info("backing store re-synced", "entries", len(entries))
	}
	return nil
}

// guard bounds fn with the write timeout and the optional circuit breaker.
func (g *Gateway) guard(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, g.config.WriteTimeout)
	defer cancel()

	if g.config.Breaker != nil {
		return g.config.Breaker.Execute(ctx, fn)
	}
	return fn(ctx)
}

func (g *Gateway) fail(op, key string, err error) error {
	g.dirty.Store(true)
	g.failures.Add(1)
	g.logger.Warn("write-through failed", "op", op, "key", key, "error", err)
	return shared.WrapError("persistence", op, shared.ErrPersistence, "write failed", err)
}
