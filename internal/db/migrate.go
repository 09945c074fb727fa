package db

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// MigrateUp applies every pending migration from migrationsDir to the
// fit database. An already up-to-date database is not an error. This
// is the schema path for file-backed databases; EnsureSchema covers
// ephemeral ones.
func (db *DB) MigrateUp(migrationsDir string) error {
	m, err := db.migrator(migrationsDir)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply fit migrations: %w", err)
	}
	return nil
}

// MigrateDown rolls back the most recently applied migration.
func (db *DB) MigrateDown(migrationsDir string) error {
	m, err := db.migrator(migrationsDir)
	if err != nil {
		return err
	}
	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("roll back fit migration: %w", err)
	}
	return nil
}

// MigrateVersion reports the schema version and whether a migration
// was left half-applied. A database with no migrations applied yet
// reports version 0, clean.
func (db *DB) MigrateVersion(migrationsDir string) (version uint, dirty bool, err error) {
	m, err := db.migrator(migrationsDir)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	return version, dirty, nil
}

// migrator builds a migrate handle over the open database. The handle
// shares db's connection and is never closed here; closing it would
// tear down the caller's pool.
func (db *DB) migrator(migrationsDir string) (*migrate.Migrate, error) {
	src, err := filepath.Abs(migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("resolve migrations dir %q: %w", migrationsDir, err)
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("wrap sqlite connection for migrations: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("open migration source %q: %w", src, err)
	}
	return m, nil
}
