// Package storage opens the local sqlite database that records training runs.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the database at path and ensures
// the schema exists. The path must be on a local filesystem.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}
	if err := ValidateLocalFilesystem(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; the orchestrator and the API share this handle.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
	} {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := Bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Bootstrap creates tables and indexes if missing.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS training_runs (
  id               TEXT PRIMARY KEY,
  trigger          TEXT NOT NULL,
  status           TEXT NOT NULL,
  forced           INTEGER NOT NULL DEFAULT 0,
  fingerprint      TEXT NOT NULL,
  examples         INTEGER NOT NULL,
  resume_from      TEXT,
  last_checkpoint  TEXT,
  last_step        INTEGER,
  last_epoch       REAL,
  started_at       TEXT NOT NULL,
  finished_at      TEXT,
  error            TEXT,
  artifact_dir     TEXT
);`,
		`CREATE INDEX IF NOT EXISTS training_runs_started_at_idx ON training_runs(started_at);`,
		`CREATE INDEX IF NOT EXISTS training_runs_status_idx ON training_runs(status);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
