// Package sqlite provides SQLite-based persistent storage for CiviSync.
// It holds the hash memo cache and the sync-run history.
// Uses WAL mode for concurrent reads and crash-safe writes.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/civisync/civisync/internal/domain"
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/state.db.
// Enables WAL mode and a 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		// Hash memo cache: a row is valid only while (size, mtime) match
		// the file on disk. Any change forces recomputation.
		`CREATE TABLE IF NOT EXISTS hash_cache (
			path       TEXT PRIMARY KEY,
			size_bytes INTEGER NOT NULL,
			mtime_ns   INTEGER NOT NULL,
			sha256     TEXT NOT NULL,
			hashed_at  INTEGER NOT NULL
		)`,

		// Sync-run history. Item details are stored as a JSON blob; the
		// counts are denormalized for cheap listing.
		`CREATE TABLE IF NOT EXISTS sync_runs (
			id          TEXT PRIMARY KEY,
			started_at  INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			updated     INTEGER NOT NULL,
			unchanged   INTEGER NOT NULL,
			notfound    INTEGER NOT NULL,
			failed      INTEGER NOT NULL,
			total       INTEGER NOT NULL,
			fatal       TEXT NOT NULL DEFAULT '',
			items_json  TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON sync_runs(started_at)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// ─── Hash Cache ─────────────────────────────────────────────────────────────

// GetHash returns the cached digest for path if the stored (size, mtime)
// still match. A miss returns ("", nil).
func (d *DB) GetHash(path string, sizeBytes, mtimeNS int64) (string, error) {
	var hash string
	err := d.db.QueryRow(
		`SELECT sha256 FROM hash_cache WHERE path = ? AND size_bytes = ? AND mtime_ns = ?`,
		path, sizeBytes, mtimeNS,
	).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query hash cache: %w", err)
	}
	return hash, nil
}

// PutHash stores or replaces the cached digest for path.
func (d *DB) PutHash(path string, sizeBytes, mtimeNS int64, hash string) error {
	_, err := d.db.Exec(
		`INSERT OR REPLACE INTO hash_cache (path, size_bytes, mtime_ns, sha256, hashed_at)
		 VALUES (?, ?, ?, ?, ?)`,
		path, sizeBytes, mtimeNS, hash, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("store hash: %w", err)
	}
	return nil
}

// ForgetHash drops the cache entry for path, forcing recomputation.
func (d *DB) ForgetHash(path string) error {
	_, err := d.db.Exec(`DELETE FROM hash_cache WHERE path = ?`, path)
	return err
}

// ─── Run History ────────────────────────────────────────────────────────────

// SaveRun persists a finished run summary.
func (d *DB) SaveRun(run domain.RunSummary) error {
	items, err := json.Marshal(run.Items)
	if err != nil {
		return fmt.Errorf("marshal run items: %w", err)
	}
	_, err = d.db.Exec(
		`INSERT OR REPLACE INTO sync_runs
		 (id, started_at, finished_at, updated, unchanged, notfound, failed, total, fatal, items_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UnixNano(), run.FinishedAt.UnixNano(),
		run.Updated, run.Unchanged, run.NotFound, run.Failed, run.Total,
		run.Fatal, string(items),
	)
	if err != nil {
		return fmt.Errorf("store run: %w", err)
	}
	return nil
}

// GetRun loads one run by id, including its item reports.
// Returns nil if the run does not exist.
func (d *DB) GetRun(id string) (*domain.RunSummary, error) {
	row := d.db.QueryRow(
		`SELECT id, started_at, finished_at, updated, unchanged, notfound, failed, total, fatal, items_json
		 FROM sync_runs WHERE id = ?`, id)

	run, err := scanRun(row, true)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first, without item details.
func (d *DB) ListRuns(limit int) ([]domain.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.db.Query(
		`SELECT id, started_at, finished_at, updated, unchanged, notfound, failed, total, fatal, '[]'
		 FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.RunSummary
	for rows.Next() {
		run, err := scanRun(rows, false)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner, withItems bool) (*domain.RunSummary, error) {
	var run domain.RunSummary
	var started, finished int64
	var itemsJSON string

	err := row.Scan(&run.ID, &started, &finished,
		&run.Updated, &run.Unchanged, &run.NotFound, &run.Failed, &run.Total,
		&run.Fatal, &itemsJSON)
	if err != nil {
		return nil, err
	}

	run.StartedAt = time.Unix(0, started)
	run.FinishedAt = time.Unix(0, finished)
	if withItems {
		if err := json.Unmarshal([]byte(itemsJSON), &run.Items); err != nil {
			return nil, fmt.Errorf("unmarshal run items: %w", err)
		}
	}
	return &run, nil
}
