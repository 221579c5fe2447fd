package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/agentdispatch/core"
	"github.com/hupe1980/agentdispatch/logging"
)

// SQLiteStorage is a durable core.Storage backed by a single SQLite table.
// Writes are plain upserts without concurrency tokens, so concurrent writers
// to the same key resolve as last write wins.
type SQLiteStorage struct {
	db     *sql.DB
	logger logging.Logger
}

var _ core.Storage = (*SQLiteStorage)(nil)

// SQLiteOptions configures NewSQLiteStorage.
type SQLiteOptions struct {
	Logger logging.Logger
}

// NewSQLiteStorage opens (or creates) the database at path. The schema is
// created if it doesn't exist and parent directories are created if needed.
func NewSQLiteStorage(path string, optFns ...func(o *SQLiteOptions)) (*SQLiteStorage, error) {
	opts := SQLiteOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStorage{db: db, logger: opts.Logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info("storage.sqlite.initialized", "path", path)
	return s, nil
}

func (s *SQLiteStorage) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS state_items (
			key TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			data BLOB NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_state_items_kind ON state_items(kind);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Read returns the records stored under keys. Missing keys are omitted.
func (s *SQLiteStorage) Read(ctx context.Context, keys []string) (map[string]core.StoreItem, error) {
	out := make(map[string]core.StoreItem, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	query := "SELECT key, kind, data FROM state_items WHERE key IN (" + placeholders(len(keys)) + ")"
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying state items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key, kind string
			data      []byte
		)
		if err := rows.Scan(&key, &kind, &data); err != nil {
			return nil, fmt.Errorf("scanning state item: %w", err)
		}
		out[key] = core.StoreItem{Kind: kind, Data: data}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state items: %w", err)
	}
	return out, nil
}

// Write upserts items in a single transaction.
func (s *SQLiteStorage) Write(ctx context.Context, items map[string]core.StoreItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO state_items (key, kind, data, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET kind = excluded.kind, data = excluded.data, updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for key, item := range items {
		if _, err := stmt.ExecContext(ctx, key, item.Kind, []byte(item.Data), now); err != nil {
			return fmt.Errorf("upserting %q: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing state items: %w", err)
	}
	return nil
}

// Delete removes keys; unknown keys are ignored.
func (s *SQLiteStorage) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM state_items WHERE key IN ("+placeholders(len(keys))+")", args...); err != nil {
		return fmt.Errorf("deleting state items: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
