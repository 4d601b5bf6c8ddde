package localstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrSchemaTooNew means the session database was migrated by a newer filebox
// than the one opening it. Writing to it could lose entries the newer schema
// relies on, so it is refused.
var ErrSchemaTooNew = errors.New("localstore: session database schema is newer than this filebox")

// migrateSessionDB brings the entries schema up to the newest embedded
// version. The database is shared by every filebox process of the user, so
// a schema written by a newer release is rejected rather than downgraded.
func migrateSessionDB(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	sources, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("localstore: loading embedded migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, sources)
	if err != nil {
		return fmt.Errorf("localstore: preparing session schema: %w", err)
	}

	current, err := provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("localstore: reading session schema version: %w", err)
	}

	var latest int64
	for _, src := range provider.ListSources() {
		latest = max(latest, src.Version)
	}

	switch {
	case current > latest:
		return fmt.Errorf("%w (database v%d, supported v%d)", ErrSchemaTooNew, current, latest)
	case current == latest:
		logger.Debug("session schema up to date", slog.Int64("version", current))
		return nil
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("localstore: migrating session schema from v%d: %w", current, err)
	}

	logger.Debug("session schema migrated",
		slog.Int64("from", current),
		slog.Int64("to", latest),
		slog.Int("applied", len(results)),
	)

	return nil
}
