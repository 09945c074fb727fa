// Package db wraps the SQLite database used to persist PSF-matching
// fit runs and their per-region results. The schema is managed by
// golang-migrate migrations; EnsureSchema offers an inline fallback
// for ephemeral databases (tests, one-shot benchmark runs).
package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB handle to the fit-result database.
type DB struct {
	*sql.DB
}

// NewDB opens (creating if needed) the SQLite database at path. Use
// ":memory:" for an ephemeral database.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// Each pool connection to :memory: would get its own empty
	// database, so pin the pool to one connection.
	if path == ":memory:" {
		sqlDB.SetMaxOpenConns(1)
	}

	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &DB{sqlDB}, nil
}

// EnsureSchema creates the fit tables if they do not exist. Deployed
// databases should use MigrateUp instead so schema changes are
// versioned; this path exists for in-memory and throwaway databases.
func (db *DB) EnsureSchema() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS fit_runs (
			run_id             TEXT PRIMARY KEY,
			started_unix_nanos BIGINT NOT NULL,
			kernel_cols        INTEGER NOT NULL,
			kernel_rows        INTEGER NOT NULL,
			notes              TEXT
		);
		CREATE TABLE IF NOT EXISTS fit_results (
			result_id          INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id             TEXT NOT NULL,
			region_x0          INTEGER NOT NULL,
			region_y0          INTEGER NOT NULL,
			region_x1          INTEGER NOT NULL,
			region_y1          INTEGER NOT NULL,
			npix               INTEGER NOT NULL,
			background         DOUBLE NOT NULL,
			background_err     DOUBLE NOT NULL,
			kernel_sum         DOUBLE NOT NULL,
			rank               INTEGER NOT NULL,
			n_good             INTEGER NOT NULL,
			residual_mean      DOUBLE NOT NULL,
			residual_std       DOUBLE NOT NULL,
			accepted           BOOLEAN NOT NULL,
			ts_unix_nanos      BIGINT NOT NULL,
			FOREIGN KEY(run_id) REFERENCES fit_runs(run_id)
		);
		CREATE INDEX IF NOT EXISTS idx_fit_results_run
			ON fit_results(run_id);
	`)
	if err != nil {
		return fmt.Errorf("ensure fit schema: %w", err)
	}
	return nil
}
