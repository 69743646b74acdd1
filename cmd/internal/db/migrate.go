package db

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Migration directions.
const (
	Up   = "up"
	Down = "down"
)

// Migrate applies the embedded migrations to dsn. Down rolls back one step. Being
// already at the target version is not an error.
func Migrate(dsn, direction string, log *slog.Logger) error {
	if dsn == "" {
		return errors.New("db: BOOKSHELF_DATABASE_URL is not set")
	}
	if direction != Up && direction != Down {
		return fmt.Errorf("db: direction must be %q or %q, got %q", Up, Down, direction)
	}
	if log == nil {
		log = slog.Default()
	}

	src, err := iofs.New(MigrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("db: migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("db: migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	switch direction {
	case Up:
		err = m.Up()
	case Down:
		err = m.Steps(-1)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		log.Info("db.migrate.no_change", "direction", direction)
		return nil
	}
	if err != nil {
		return fmt.Errorf("db: migrate %s: %w", direction, err)
	}

	version, dirty, verr := m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		return fmt.Errorf("db: version: %w", verr)
	}
	log.Info("db.migrate.ok", "direction", direction, "version", version, "dirty", dirty)
	return nil
}
