// Package history persists analyzer runs in SQLite so operators can audit
// what needed restarting and when. The log is append-only; check runs never
// read it back.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Buckets a flagged package can land in.
const (
	BucketRestartable    = "restartable"
	BucketNonRestartable = "non_restartable"
)

// RunRecord is one recorded analyzer pass.
type RunRecord struct {
	ID             string `json:"id"`
	StartedAt      string `json:"started_at"`
	FinishedAt     string `json:"finished_at"`
	OSFamily       string `json:"os_family"`
	KernelRestart  bool   `json:"kernel_restart"`
	StaleFiles     int    `json:"stale_files"`
	Restartable    int    `json:"restartable"`
	NonRestartable int    `json:"non_restartable"`

	// Packages flagged during the run, written alongside the run row.
	Packages []PackageRecord `json:"packages,omitempty"`
}

// PackageRecord is one package flagged during a run, with the restart command
// chosen for it (empty when none was found).
type PackageRecord struct {
	RunID   string `json:"run_id"`
	Package string `json:"package"`
	Bucket  string `json:"bucket"`
	Command string `json:"command,omitempty"`
}

// Store records runs in a SQLite database.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex // Serialize migrations
	once sync.Once  // Ensure _migrations table created once
}

// Open opens (or creates) the history database at the given path, applies
// recommended pragmas for WAL mode and performance, and runs pending
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// SQLite performs best with a single write connection. WAL enables concurrent readers.
	db.SetMaxOpenConns(1)

	// Verify the connection works.
	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}

	// Apply recommended pragmas (modernc.org/sqlite requires SQL statements, not DSN params).
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA cache_size=-20000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB returns the underlying *sql.DB for direct queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a run and its flagged packages in one transaction. A missing
// run ID or timestamp is filled in.
func (s *Store) Record(ctx context.Context, run *RunRecord) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if run.StartedAt == "" {
		run.StartedAt = now
	}
	if run.FinishedAt == "" {
		run.FinishedAt = now
	}

	return s.tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO restart_runs
				(id, started_at, finished_at, os_family, kernel_restart,
				 stale_files, restartable, nonrestartable)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, run.StartedAt, run.FinishedAt, run.OSFamily,
			run.KernelRestart, run.StaleFiles, run.Restartable, run.NonRestartable,
		)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		for _, p := range run.Packages {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO restart_run_packages (run_id, package, bucket, command)
				VALUES (?, ?, ?, ?)`,
				run.ID, p.Package, p.Bucket, p.Command,
			)
			if err != nil {
				return fmt.Errorf("insert package %s: %w", p.Package, err)
			}
		}
		return nil
	})
}

// List returns the most recent runs, newest first. Package rows are not
// loaded; use Packages for one run's detail.
func (s *Store) List(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, os_family, kernel_restart,
		       stale_files, restartable, nonrestartable
		FROM restart_runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.OSFamily,
			&r.KernelRestart, &r.StaleFiles, &r.Restartable, &r.NonRestartable); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	if runs == nil {
		runs = []RunRecord{}
	}
	return runs, nil
}

// Packages returns the packages flagged during one run.
func (s *Store) Packages(ctx context.Context, runID string) ([]PackageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, package, bucket, command
		FROM restart_run_packages WHERE run_id = ? ORDER BY package`, runID)
	if err != nil {
		return nil, fmt.Errorf("list packages of run %q: %w", runID, err)
	}
	defer rows.Close()

	var pkgs []PackageRecord
	for rows.Next() {
		var p PackageRecord
		if err := rows.Scan(&p.RunID, &p.Package, &p.Bucket, &p.Command); err != nil {
			return nil, fmt.Errorf("scan package row: %w", err)
		}
		pkgs = append(pkgs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate packages: %w", err)
	}
	if pkgs == nil {
		pkgs = []PackageRecord{}
	}
	return pkgs, nil
}

// tx executes fn within a database transaction. The transaction is committed
// if fn returns nil, rolled back otherwise.
func (s *Store) tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original: %w)", rbErr, err)
		}
		return err
	}

	return tx.Commit()
}
