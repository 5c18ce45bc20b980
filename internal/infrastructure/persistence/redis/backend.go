// Package redis implements the Redis backend of the persistence gateway.
//
// All entries of one deployment live in a single hash, so a full sync is one
// DEL plus one HSET inside a MULTI/EXEC transaction.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config selects the server and the hash. Pool and timeout fields map
// straight onto redis.Options.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int

	// Namespace is the hash holding every entry; deployments sharing a
	// server need distinct namespaces.
	Namespace string

	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig points at a local server with the edubot:kv namespace.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		Namespace:    "edubot:kv",
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

var (
	// ErrConnection wraps the first ping failure in New.
	ErrConnection = errors.New("redis: connection failed")

	ErrEmptyKey = errors.New("redis: key cannot be empty")
)

// ══════════════════════════════════════════════════════════════════════════════
// BACKEND
// ══════════════════════════════════════════════════════════════════════════════

// Backend stores gateway entries as fields of one Redis hash.
type Backend struct {
	client    *redis.Client
	namespace string
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultConfig().Namespace
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	return &Backend{client: client, namespace: cfg.Namespace}, nil
}

// Namespace returns the hash key.
func (b *Backend) Namespace() string {
	return b.namespace
}

// Load reads every field of the hash.
func (b *Backend) Load(ctx context.Context) (map[string]json.RawMessage, error) {
	fields, err := b.client.HGetAll(ctx, b.namespace).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", b.namespace, err)
	}

	entries := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		if !json.Valid([]byte(v)) {
			return nil, fmt.Errorf("field %q of %s is not valid JSON", k, b.namespace)
		}
		entries[k] = json.RawMessage(v)
	}
	return entries, nil
}

// Sync replaces the hash atomically.
func (b *Backend) Sync(ctx context.Context, entries map[string]json.RawMessage) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, b.namespace)
		if len(entries) == 0 {
			return nil
		}
		values := make(map[string]interface{}, len(entries))
		for k, v := range entries {
			values[k] = string(v)
		}
		pipe.HSet(ctx, b.namespace, values)
		return nil
	})
	if err != nil {
		return fmt.Errorf("sync %s: %w", b.namespace, err)
	}
	return nil
}

// PutKey writes a single field.
func (b *Backend) PutKey(ctx context.Context, key string, value json.RawMessage) error {
	if key == "" {
		return ErrEmptyKey
	}
	return b.client.HSet(ctx, b.namespace, key, string(value)).Err()
}

// DeleteKey removes a single field.
func (b *Backend) DeleteKey(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return b.client.HDel(ctx, b.namespace, key).Err()
}

// Ping checks if Redis is reachable.
func (b *Backend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (b *Backend) Close() error {
	return b.client.Close()
}
