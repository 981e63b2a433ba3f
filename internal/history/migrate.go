package history

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is one schema step. Migrations run in ascending Version order and
// are tracked in the shared _migrations table so reruns skip them.
type migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

const component = "history"

var migrations = []migration{
	{
		Version:     1,
		Description: "create restart_runs and restart_run_packages",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS restart_runs (
					id             TEXT    PRIMARY KEY,
					started_at     TEXT    NOT NULL,
					finished_at    TEXT    NOT NULL DEFAULT '',
					os_family      TEXT    NOT NULL DEFAULT '',
					kernel_restart INTEGER NOT NULL DEFAULT 0,
					stale_files    INTEGER NOT NULL DEFAULT 0,
					restartable    INTEGER NOT NULL DEFAULT 0,
					nonrestartable INTEGER NOT NULL DEFAULT 0
				)`)
			if err != nil {
				return err
			}
			_, err = tx.Exec(`
				CREATE TABLE IF NOT EXISTS restart_run_packages (
					run_id  TEXT NOT NULL REFERENCES restart_runs(id) ON DELETE CASCADE,
					package TEXT NOT NULL,
					bucket  TEXT NOT NULL,
					command TEXT NOT NULL DEFAULT '',
					PRIMARY KEY (run_id, package)
				)`)
			return err
		},
	},
	{
		Version:     2,
		Description: "index restart_runs by start time",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_restart_runs_started_at ON restart_runs(started_at)`)
			return err
		},
	},
}

// migrate runs pending migrations. Already-applied ones (tracked in the
// shared _migrations table) are skipped.
func (s *Store) migrate(ctx context.Context) error {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range migrations {
		applied, err := s.isMigrationApplied(ctx, m.Version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %s/%d (%s): %w", component, m.Version, m.Description, err)
		}
	}

	return nil
}

// ensureMigrationsTable creates the shared _migrations tracking table if it
// doesn't already exist. Safe to call multiple times (uses sync.Once).
func (s *Store) ensureMigrationsTable(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		_, err = s.db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS _migrations (
				component   TEXT    NOT NULL,
				version     INTEGER NOT NULL,
				description TEXT    NOT NULL,
				applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (component, version)
			)
		`)
	})
	return err
}

func (s *Store) isMigrationApplied(ctx context.Context, version int) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM _migrations WHERE component = ? AND version = ?",
		component, version,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check migration %s/%d: %w", component, version, err)
	}
	return count > 0, nil
}

func (s *Store) applyMigration(ctx context.Context, m migration) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		if err := m.Up(tx); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			"INSERT INTO _migrations (component, version, description) VALUES (?, ?, ?)",
			component, m.Version, m.Description,
		)
		return err
	})
}
