// Package jobs persists background work records (scans, fleet command
// dispatches) in SQLite so results survive the request that started them.
package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Job kinds.
const (
	KindScan     = "scan"
	KindDispatch = "dispatch"
)

// Job statuses. Completed, failed, and cancelled are terminal.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// ErrNotFound is returned when no job exists with the requested id.
var ErrNotFound = errors.New("jobs: not found")

// Job is one recorded unit of background work.
type Job struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Status    string          `json:"status"`
	Progress  json.RawMessage `json:"progress,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
}

// Store is a SQLite-backed job record store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the job database at path and bootstraps the
// schema. SQLite performs best with a single write connection; WAL
// enables concurrent readers.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}

	// modernc.org/sqlite requires SQL statements, not DSN params.
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

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id         TEXT PRIMARY KEY,
			kind       TEXT NOT NULL,
			status     TEXT NOT NULL,
			progress   TEXT,
			result     TEXT,
			error      TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL,
			ended_at   TEXT
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create jobs table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a new running job of the given kind and returns it.
func (s *Store) Create(ctx context.Context, kind string) (*Job, error) {
	job := &Job{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO jobs (id, kind, status, started_at) VALUES (?, ?, ?, ?)",
		job.ID, job.Kind, job.Status, job.StartedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// UpdateProgress replaces the job's progress snapshot. progress is
// marshalled to JSON.
func (s *Store) UpdateProgress(ctx context.Context, id string, progress any) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET progress = ? WHERE id = ?", string(data), id)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return checkAffected(res)
}

// UpdateStatus moves the job to a new status, recording the result
// payload and error message. Terminal statuses stamp ended_at.
func (s *Store) UpdateStatus(ctx context.Context, id, status string, result any, errMsg string) error {
	var resultJSON sql.NullString
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		resultJSON = sql.NullString{String: string(data), Valid: true}
	}

	var endedAt sql.NullString
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		endedAt = sql.NullString{String: time.Now().UTC().Format(time.RFC3339Nano), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET status = ?, result = COALESCE(?, result), error = ?, ended_at = COALESCE(?, ended_at) WHERE id = ?",
		status, resultJSON, errMsg, endedAt, id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return checkAffected(res)
}

// Get returns the job with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, status, progress, result, error, started_at, ended_at
		FROM jobs WHERE id = ?`, id)

	job, err := scanJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	return job, nil
}

// List returns jobs newest first, with the total count for pagination.
// limit defaults to 50 when non-positive.
func (s *Store) List(ctx context.Context, limit, offset int) ([]Job, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, status, progress, result, error, started_at, ended_at
		FROM jobs ORDER BY started_at DESC, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var items []Job
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job row: %w", err)
		}
		items = append(items, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate jobs: %w", err)
	}
	return items, total, nil
}

func scanJob(scan func(dest ...any) error) (*Job, error) {
	var (
		job              Job
		progress, result sql.NullString
		startedAt        string
		endedAt          sql.NullString
	)
	err := scan(&job.ID, &job.Kind, &job.Status, &progress, &result, &job.Error, &startedAt, &endedAt)
	if err != nil {
		return nil, err
	}

	if progress.Valid {
		job.Progress = json.RawMessage(progress.String)
	}
	if result.Valid {
		job.Result = json.RawMessage(result.String)
	}
	if job.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if endedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse ended_at: %w", err)
		}
		job.EndedAt = &t
	}
	return &job, nil
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
