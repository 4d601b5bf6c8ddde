package localstore

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of events produced by one atomic write
// (create temp, chmod, write, rename) into a single notification.
const watchDebounce = 100 * time.Millisecond

// sqliteSidecars are the suffixes SQLite appends for WAL-mode side files.
var sqliteSidecars = []string{"", "-wal", "-journal"}

// Watch calls onChange whenever the store at path is written, created,
// removed or renamed by any process. The parent directory is watched
// rather than the file itself because atomic writes replace the inode.
// Blocks until ctx is canceled or the watcher fails.
func Watch(ctx context.Context, path string, onChange func(), logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("localstore: creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("localstore: watching %s: %w", dir, err)
	}

	logger.Debug("watching session store", slog.String("path", path))

	names := make(map[string]bool, len(sqliteSidecars))
	for _, suffix := range sqliteSidecars {
		names[filepath.Base(path)+suffix] = true
	}

	return watchLoop(ctx, watcher, names, onChange, logger)
}

func watchLoop(
	ctx context.Context, watcher *fsnotify.Watcher, names map[string]bool,
	onChange func(), logger *slog.Logger,
) error {
	debounce := time.NewTimer(watchDebounce)
	debounce.Stop()

	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if !names[filepath.Base(ev.Name)] {
				continue
			}

			// Mode changes alone do not alter the stored session.
			if ev.Op == fsnotify.Chmod {
				continue
			}

			debounce.Reset(watchDebounce)

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("session store watcher error", slog.String("error", watchErr.Error()))

		case <-debounce.C:
			onChange()
		}
	}
}
