package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const (
	selectAllSQL = `SELECT key, value FROM kv_entries`

	upsertSQL = `
		INSERT INTO kv_entries (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = NOW()`

	deleteSQL = `DELETE FROM kv_entries WHERE key = $1`

	truncateSQL = `DELETE FROM kv_entries`
)

// Backend stores gateway entries in the kv_entries table.
type Backend struct {
	conn *Pool
}

// New connects, applies pending migrations and returns the backend.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	conn, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := migrate(ctx, conn, Steps()); err != nil {
		conn.Close()
		return nil, err
	}

	return &Backend{conn: conn}, nil
}

// NewWithPool wraps an open pool. Migrations must already be applied.
func NewWithPool(p *Pool) *Backend {
	return &Backend{conn: p}
}

// Load reads every row.
func (b *Backend) Load(ctx context.Context) (map[string]json.RawMessage, error) {
	rows, err := b.conn.Query(ctx, selectAllSQL)
	if err != nil {
		return nil, fmt.Errorf("load kv_entries: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]json.RawMessage)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan kv_entries: %w", err)
		}
		entries[key] = json.RawMessage(value)
	}
	return entries, rows.Err()
}

// Sync replaces the table contents inside one transaction.
func (b *Backend) Sync(ctx context.Context, entries map[string]json.RawMessage) error {
	return b.conn.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, truncateSQL); err != nil {
			return fmt.Errorf("clear kv_entries: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for k, v := range entries {
			batch.Queue(upsertSQL, k, string(v))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("write kv_entries: %w", err)
		}
		return nil
	})
}

// PutKey upserts a single row.
func (b *Backend) PutKey(ctx context.Context, key string, value json.RawMessage) error {
	if _, err := b.conn.Exec(ctx, upsertSQL, key, string(value)); err != nil {
		return fmt.Errorf("upsert %q: %w", key, err)
	}
	return nil
}

// DeleteKey removes a single row.
func (b *Backend) DeleteKey(ctx context.Context, key string) error {
	if _, err := b.conn.Exec(ctx, deleteSQL, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// Close closes the connection pool.
func (b *Backend) Close() error {
	b.conn.Close()
	return nil
}

// Ping checks the database connection.
func (b *Backend) Ping(ctx context.Context) error {
	return b.conn.Ping(ctx)
}
