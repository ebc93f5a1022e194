//go:build sqlite

package runstore

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists run records in a sqlite database file.
type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func newSQLiteStore(path string) (Store, error) {
	return NewSQLiteStore(path), nil
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			model TEXT NOT NULL,
			family TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT '',
			steps INTEGER NOT NULL,
			batch INTEGER NOT NULL,
			reg_error REAL NOT NULL,
			duration_ns INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)
	`); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("run store not initialized")
	}
	return s.db, nil
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run Run) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (id, model, family, kind, steps, batch, reg_error, duration_ns, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			model = excluded.model,
			family = excluded.family,
			kind = excluded.kind,
			steps = excluded.steps,
			batch = excluded.batch,
			reg_error = excluded.reg_error,
			duration_ns = excluded.duration_ns,
			created_at = excluded.created_at
	`, run.ID, run.Model, run.Family, run.Kind, run.Steps, run.Batch,
		run.RegError, int64(run.Duration), run.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (Run, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return Run{}, false, err
	}
	row := db.QueryRowContext(ctx, `
		SELECT id, model, family, kind, steps, batch, reg_error, duration_ns, created_at
		FROM runs WHERE id = ?
	`, id)
	run, err := scanRun(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, false, nil
		}
		return Run{}, false, err
	}
	return run, true, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context) ([]Run, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, model, family, kind, steps, batch, reg_error, duration_ns, created_at
		FROM runs ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func scanRun(scan func(dest ...any) error) (Run, error) {
	var run Run
	var durationNS int64
	var created string
	if err := scan(&run.ID, &run.Model, &run.Family, &run.Kind,
		&run.Steps, &run.Batch, &run.RegError, &durationNS, &created); err != nil {
		return Run{}, err
	}
	run.Duration = time.Duration(durationNS)
	ts, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return Run{}, err
	}
	run.CreatedAt = ts
	return run, nil
}
