package store

import (
	"context"
	"embed"
	"log/slog"
	"path/filepath"

	"github.com/pkg/errors"
)

// Migration System Overview:
//
// New installations get the full schema from migration/{driver}/LATEST.sql.
// An already initialized database is left untouched.

//go:embed migration
var migrationFS embed.FS

const (
	// LatestSchemaFileName is the name of the latest schema file.
	LatestSchemaFileName = "LATEST.sql"
)

// Migrate applies the latest schema when the database is not initialized yet.
func (s *Store) Migrate(ctx context.Context) error {
	initialized, err := s.driver.IsInitialized(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to check if database is initialized")
	}
	if initialized {
		return nil
	}

	filePath := filepath.ToSlash(filepath.Join("migration", s.profile.Driver, LatestSchemaFileName))
	bytes, err := migrationFS.ReadFile(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to read latest schema %s", filePath)
	}

	tx, err := s.driver.GetDB().BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to start transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(bytes)); err != nil {
		return errors.Wrapf(err, "failed to execute schema %s", filePath)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit schema")
	}

	slog.Info("database schema initialized", slog.String("driver", s.profile.Driver))
	return nil
}
