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

// OpenSQLite opens (and creates if needed) the run-history database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if path != ":memory:" {
		if err := CheckLocal(RunHistory(path)); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The web server runs one command at a time; a single connection keeps
	// :memory: databases coherent and avoids writer contention on disk.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS command_runs (
  id            TEXT PRIMARY KEY,
  action        TEXT NOT NULL,
  argv          JSON NOT NULL,
  weeks_ahead   INTEGER,
  fpl_team_id   TEXT,
  status        TEXT NOT NULL,
  exit_code     INTEGER,
  submitted_by  TEXT NOT NULL,
  created_at    TEXT NOT NULL,
  completed_at  TEXT,
  duration_ms   INTEGER,
  output        TEXT,
  output_digest TEXT,
  last_error    TEXT
);`,
		`CREATE INDEX IF NOT EXISTS command_runs_created_at_idx ON command_runs(created_at);`,
		`CREATE INDEX IF NOT EXISTS command_runs_action_status_idx ON command_runs(action, status);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
