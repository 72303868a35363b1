package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Run outcomes recorded in the store.
const (
	OutcomeReady   = "ready"
	OutcomeFailed  = "failed"
	OutcomeStopped = "stopped"
	OutcomeCrashed = "crashed"
)

// Record is one supervised backend run.
type Record struct {
	ID         int64      `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	PID        int        `json:"pid"`
	BackendDir string     `json:"backend_dir"`
	Outcome    string     `json:"outcome"`
	Detail     string     `json:"detail,omitempty"`
}

// Store persists launch history in SQLite so failed startups can be
// inspected after the launcher itself has exited.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at path. An empty path uses
// an in-memory database.
func Open(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	// SQLite works best with a single writer connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure history database: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		pid INTEGER NOT NULL DEFAULT 0,
		backend_dir TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure history schema: %w", err)
	}
	return nil
}

// RecordStart inserts a new run row and returns its id.
func (s *Store) RecordStart(ctx context.Context, startedAt time.Time, pid int, backendDir string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(started_at, pid, backend_dir) VALUES(?, ?, ?)`,
		startedAt.Unix(), pid, backendDir)
	if err != nil {
		return 0, fmt.Errorf("record run start: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record run start: %w", err)
	}
	return id, nil
}

// RecordFinish closes a run row with its outcome and optional detail.
func (s *Store) RecordFinish(ctx context.Context, id int64, finishedAt time.Time, outcome, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, outcome = ?, detail = ? WHERE id = ?`,
		finishedAt.Unix(), outcome, detail, id)
	if err != nil {
		return fmt.Errorf("record run finish: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, pid, backend_dir, outcome, detail
		 FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var r Record
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&r.ID, &started, &finished, &r.PID, &r.BackendDir, &r.Outcome, &r.Detail); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		r.StartedAt = time.Unix(started, 0).UTC()
		if finished.Valid {
			t := time.Unix(finished.Int64, 0).UTC()
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Close() error { return s.db.Close() }
