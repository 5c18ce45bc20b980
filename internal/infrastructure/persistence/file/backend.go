// Package file implements the JSON document backend of the persistence gateway.
package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// DefaultPath is used when no path is configured.
const DefaultPath = "data/bot_data.json"

// Backend stores every entry in a single JSON object file.
// Writes go to a temp file in the same directory that is then renamed over
// the target, so a crash never leaves a truncated document.
type Backend struct {
	path string
	perm os.FileMode
	mu   sync.Mutex
}

// New creates a backend for path, creating the parent directory if needed.
func New(path string) (*Backend, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &Backend{path: path, perm: 0o644}, nil
}

// Path returns the file location.
func (b *Backend) Path() string {
	return b.path
}

// Load reads the document. A missing or empty file loads as empty.
func (b *Backend) Load(ctx context.Context) (map[string]json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]json.RawMessage{}, nil
	}

	entries := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", b.path, err)
	}
	return entries, nil
}

// Sync rewrites the whole document atomically.
func (b *Backend) Sync(ctx context.Context, entries map[string]json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entries == nil {
		entries = map[string]json.RawMessage{}
	}

	// Map keys are emitted sorted, so identical state gives identical bytes.
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return writeFileAtomic(b.path, data, b.perm)
}

// Close is a no-op; every Sync is already durable.
func (b *Backend) Close() error {
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
