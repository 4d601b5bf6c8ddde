package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// FilePerms restricts the session file to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the session directory.
const DirPerms = 0o700

// FileStorage keeps all entries in one JSON object on disk. Every Set or
// Remove rewrites the file atomically (write-to-temp + rename), so a reader
// never observes a half-written file.
type FileStorage struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// NewFileStorage returns a FileStorage backed by path. The file is created
// lazily on the first write.
func NewFileStorage(path string, logger *slog.Logger) *FileStorage {
	return &FileStorage{path: path, logger: logger}
}

// Path returns the backing file path.
func (s *FileStorage) Path() string {
	return s.path
}

// Get returns the value stored under key. A missing file or key reports
// ok=false with a nil error.
func (s *FileStorage) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return "", false, err
	}

	v, ok := entries[key]

	return v, ok, nil
}

// Set stores value under key and rewrites the file.
func (s *FileStorage) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		// A corrupt file is replaced rather than blocking every future write.
		if !errors.Is(err, ErrCorrupt) {
			return err
		}

		s.logger.Warn("replacing corrupt session file", slog.String("path", s.path))
		entries = make(map[string]string)
	}

	entries[key] = value

	return s.save(entries)
}

// Remove deletes keys. The file itself is removed once it holds no entries.
func (s *FileStorage) Remove(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil && !errors.Is(err, ErrCorrupt) {
		return err
	}

	if err != nil || len(entries) == 0 {
		// Nothing salvageable: drop the file entirely.
		return s.removeFile()
	}

	changed := false

	for _, k := range keys {
		if _, ok := entries[k]; ok {
			delete(entries, k)
			changed = true
		}
	}

	if !changed {
		return nil
	}

	if len(entries) == 0 {
		return s.removeFile()
	}

	return s.save(entries)
}

// Close is a no-op; FileStorage holds no open handles.
func (s *FileStorage) Close() error {
	return nil
}

// load reads the entry map. A missing file is an empty map.
func (s *FileStorage) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]string), nil
	}

	if err != nil {
		return nil, fmt.Errorf("localstore: reading %s: %w", s.path, err)
	}

	entries := make(map[string]string)
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("localstore: decoding %s: %w: %w", s.path, ErrCorrupt, err)
	}

	return entries, nil
}

func (s *FileStorage) removeFile() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("localstore: removing %s: %w", s.path, err)
	}

	return nil
}

// save writes entries atomically with 0600 permissions. Never logs values.
func (s *FileStorage) save(entries map[string]string) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("localstore: encoding: %w", err)
	}

	dir := filepath.Dir(s.path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("localstore: creating directory %s: %w", dir, mkErr)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("localstore: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("localstore: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("localstore: writing: %w", err)
	}

	// Flush before rename so a crash cannot leave an empty file at the final path.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("localstore: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("localstore: closing: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("localstore: renaming: %w", err)
	}

	success = true

	s.logger.Debug("session file written",
		slog.String("path", s.path),
		slog.Int("entries", len(entries)),
	)

	return nil
}
