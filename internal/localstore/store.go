// Package localstore provides durable client-side key/value storage for the
// filebox session. It is the CLI counterpart of browser localStorage: string
// keys, string values, one field written at a time.
package localstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// ErrCorrupt is returned when the persisted data cannot be decoded.
var ErrCorrupt = errors.New("localstore: corrupt data")

// Storage is a durable string key/value store. Writes are atomic per field,
// not transactional across fields.
type Storage interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error
	// Remove deletes the given keys. Absent keys are ignored.
	Remove(ctx context.Context, keys ...string) error
	Close() error
}

// Open returns the storage backend registered under name. path is ignored
// by the memory backend.
func Open(ctx context.Context, backend, path string, logger *slog.Logger) (Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch backend {
	case BackendFile, "":
		return NewFileStorage(path, logger), nil
	case BackendSQLite:
		return OpenSQLite(ctx, path, logger)
	case BackendMemory:
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("localstore: unknown backend %q (want %s, %s or %s)",
			backend, BackendFile, BackendSQLite, BackendMemory)
	}
}
