package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Pure-Go SQLite driver (no CGO), registers as "sqlite".
	_ "modernc.org/sqlite"
)

const (
	sqlGetEntry = `SELECT value FROM entries WHERE key = ?`

	sqlUpsertEntry = `INSERT INTO entries (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
		 value = excluded.value,
		 updated_at = excluded.updated_at`
)

// SQLiteStorage keeps entries in a single-table SQLite database. Each Set is
// its own statement, so writes are atomic per field.
type SQLiteStorage struct {
	db      *sql.DB
	path    string
	logger  *slog.Logger
	nowFunc func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and runs
// migrations. WAL mode with synchronous=FULL keeps writes crash-safe.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStorage, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, DirPerms); err != nil {
			return nil, fmt.Errorf("localstore: creating directory %s: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("localstore: opening database %s: %w", path, err)
	}

	// Sole-writer pattern: one connection, no SQLITE_BUSY between our own writes.
	db.SetMaxOpenConns(1)

	if err := migrateSessionDB(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("sqlite session store opened", slog.String("db_path", path))

	return &SQLiteStorage{
		db:      db,
		path:    path,
		logger:  logger,
		nowFunc: time.Now,
	}, nil
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string {
	return s.path
}

// Get returns the value stored under key. A missing key reports ok=false
// with a nil error.
func (s *SQLiteStorage) Get(ctx context.Context, key string) (string, bool, error) {
	var value string

	err := s.db.QueryRowContext(ctx, sqlGetEntry, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("localstore: reading %q: %w", key, err)
	}

	return value, true, nil
}

// Set upserts key and stamps it with the current time.
func (s *SQLiteStorage) Set(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, sqlUpsertEntry, key, value, s.nowFunc().UnixNano()); err != nil {
		return fmt.Errorf("localstore: writing %q: %w", key, err)
	}

	return nil
}

// Remove deletes keys in one statement. Absent keys are ignored.
func (s *SQLiteStorage) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))

	for i, k := range keys {
		args[i] = k
	}

	query := "DELETE FROM entries WHERE key IN (" + placeholders + ")" //nolint:gosec // placeholders only

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("localstore: removing %d keys: %w", len(keys), err)
	}

	return nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
