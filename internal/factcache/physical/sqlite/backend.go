// Package sqlite provides a SQLite-backed object store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gezibash/tdcache/internal/factcache/physical"
)

const (
	KeyPath        = "path"
	KeyJournalMode = "journal_mode"
	KeyBusyTimeout = "busy_timeout"
	KeyCacheSize   = "cache_size"
)

func init() {
	physical.Register("sqlite", NewFactory, Defaults)
}

// Defaults returns the default configuration for the SQLite backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyPath:        "~/.tdcache/objects.db",
		KeyJournalMode: "wal",
		KeyBusyTimeout: "5000",
		KeyCacheSize:   "-64000",
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS objects (
    key         TEXT PRIMARY KEY,
    data        BLOB,
    labels      TEXT NOT NULL DEFAULT '{}',
    stored_at   INTEGER NOT NULL,
    expires_at  INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_objects_expires ON objects(expires_at) WHERE expires_at > 0;
`

// NewFactory creates a SQLite backend from a configuration map.
func NewFactory(ctx context.Context, config map[string]string) (physical.Backend, error) {
	s := physical.NewSettings("sqlite", config)

	path := s.Path(KeyPath, "")
	if path == "" {
		return nil, physical.NewConfigError("sqlite", KeyPath, "cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, physical.NewConfigErrorWithCause("sqlite", KeyPath, "failed to create directory", err)
	}

	journalMode := s.String(KeyJournalMode, "wal")
	busyTimeout, err := s.Int(KeyBusyTimeout, 5000)
	if err != nil {
		return nil, err
	}
	cacheSize, err := s.Int(KeyCacheSize, -64000)
	if err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(%d)&_pragma=cache_size(%d)",
		path, journalMode, busyTimeout, cacheSize)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, physical.NewConfigErrorWithCause("sqlite", KeyPath, "failed to open database", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, physical.NewConfigErrorWithCause("sqlite", KeyPath, "failed to initialize schema", err)
	}

	slog.Info("sqlite object store initialized", "path", path, "journal_mode", journalMode)
	return &Backend{db: db}, nil
}

// Backend is a SQLite implementation of physical.Backend. Expired rows stay
// readable until DeleteExpired removes them.
type Backend struct {
	db     *sql.DB
	closed atomic.Bool
}

// Put stores an object, replacing any previous version.
func (b *Backend) Put(ctx context.Context, obj *physical.Object) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	labels, err := json.Marshal(obj.Labels)
	if err != nil {
		return fmt.Errorf("encode labels: %w", err)
	}
	if _, err := b.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO objects (key, data, labels, stored_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		obj.Key, obj.Data, string(labels), obj.StoredAt, obj.ExpiresAt,
	); err != nil {
		return fmt.Errorf("sqlite put: %w", err)
	}
	return nil
}

// Get retrieves an object by key.
func (b *Backend) Get(ctx context.Context, key string) (*physical.Object, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	obj := &physical.Object{Key: key}
	var labels string
	err := b.db.QueryRowContext(ctx,
		`SELECT data, labels, stored_at, expires_at FROM objects WHERE key = ?`, key,
	).Scan(&obj.Data, &labels, &obj.StoredAt, &obj.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, physical.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get: %w", err)
	}
	if err := json.Unmarshal([]byte(labels), &obj.Labels); err != nil {
		return nil, fmt.Errorf("decode labels: %w", err)
	}
	return obj, nil
}

// Delete removes an object. Deleting a missing key is not an error.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}
	if _, err := b.db.ExecContext(ctx, `DELETE FROM objects WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite delete: %w", err)
	}
	return nil
}

// DeleteExpired removes all expired objects and returns their keys.
func (b *Backend) DeleteExpired(ctx context.Context, now time.Time) ([]string, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	rows, err := b.db.QueryContext(ctx,
		`DELETE FROM objects WHERE expires_at > 0 AND expires_at <= ? RETURNING key`, now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("sqlite delete expired: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("sqlite delete expired: scan: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite delete expired: %w", err)
	}
	return keys, nil
}

// Stats returns storage statistics.
func (b *Backend) Stats(ctx context.Context) (*physical.Stats, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	var objects, sizeBytes int64
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM objects`).Scan(&objects); err != nil {
		return nil, fmt.Errorf("sqlite stats: %w", err)
	}
	if err := b.db.QueryRowContext(ctx,
		`SELECT page_count * page_size FROM pragma_page_count, pragma_page_size`).Scan(&sizeBytes); err != nil {
		return nil, fmt.Errorf("sqlite stats: %w", err)
	}

	return &physical.Stats{
		Objects:     objects,
		SizeBytes:   sizeBytes,
		BackendType: "sqlite",
	}, nil
}

// Close closes the database.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.db.Close()
}
