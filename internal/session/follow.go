package session

import (
	"context"
	"log/slog"

	"github.com/tonimelisma/filebox/internal/localstore"
)

// Follow watches the durable store at path and re-hydrates the session each
// time another process changes it, reporting the new snapshot to onChange.
// Blocks until ctx is canceled.
func (s *Store) Follow(ctx context.Context, path string, onChange func(Session)) error {
	return localstore.Watch(ctx, path, func() {
		s.Initialize(ctx)

		snap := s.Snapshot()
		s.logger.Debug("session changed on disk", slog.Bool("authenticated", snap.IsAuthenticated))

		onChange(snap)
	}, s.logger)
}
