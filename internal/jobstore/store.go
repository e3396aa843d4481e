// Package jobstore records an operational timeline for conversion jobs: when
// a job started, what happened to each chunk, and how it finished. It backs
// diagnostics only; the user-facing generation history lives in a separate
// system and is out of scope here.
package jobstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Config controls persistence. RetentionMode "ephemeral" disables the store
// entirely; "persistent" keeps jobs for RetentionDays.
type Config struct {
	Path          string
	RetentionMode string
	RetentionDays int
}

// Job is a recorded conversion job.
type Job struct {
	ID          string
	Kind        string
	InputPath   string
	OutputPath  string
	Device      string
	Successful  int
	Substituted int
	Status      string
	Error       string
	CreatedAt   time.Time
	FinishedAt  time.Time
}

// ChunkEvent is one entry in a job's chunk timeline.
type ChunkEvent struct {
	ID         int64
	JobID      string
	ChunkIndex int
	Type       string
	Detail     string
	CreatedAt  time.Time
}

// Store wraps a SQLite-backed job timeline.
type Store struct {
	db    *sql.DB
	cfg   Config
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config.
func Open(ctx context.Context, cfg Config, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("job store prune on start failed", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS jobs (
    job_id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    input_path TEXT,
    output_path TEXT,
    device TEXT,
    successful INTEGER NOT NULL DEFAULT 0,
    substituted INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    error TEXT,
    created_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS chunk_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id TEXT NOT NULL,
    chunk_index INTEGER NOT NULL,
    event_type TEXT NOT NULL,
    detail TEXT,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(job_id) REFERENCES jobs(job_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_chunk_events_job ON chunk_events(job_id, chunk_index);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// BeginJob records a job in the running state.
func (s *Store) BeginJob(ctx context.Context, id, kind, inputPath, device string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(job_id, kind, input_path, device, status, created_at)
		 VALUES(?, ?, ?, ?, 'running', ?)
		 ON CONFLICT(job_id) DO NOTHING`,
		id, kind, inputPath, device, s.clock().UTC())
	return err
}

// FinishJob records the job outcome. An empty errText marks success.
func (s *Store) FinishJob(ctx context.Context, id, outputPath string, successful, substituted int, errText string) error {
	if s.db == nil {
		return nil
	}
	status := "done"
	if errText != "" {
		status = "failed"
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET output_path=?, successful=?, substituted=?, status=?, error=?, finished_at=?
		 WHERE job_id=?`,
		outputPath, successful, substituted, status, errText, s.clock().UTC(), id)
	return err
}

// AppendChunkEvent writes one chunk-level event.
func (s *Store) AppendChunkEvent(ctx context.Context, evt ChunkEvent) error {
	if s.db == nil {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chunk_events(job_id, chunk_index, event_type, detail, created_at)
		 VALUES(?, ?, ?, ?, ?)`,
		evt.JobID, evt.ChunkIndex, evt.Type, evt.Detail, evt.CreatedAt)
	return err
}

// GetJob fetches a job row by ID.
func (s *Store) GetJob(ctx context.Context, id string) (Job, error) {
	if s.db == nil {
		return Job{}, sql.ErrNoRows
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, kind, input_path, output_path, device, successful, substituted, status, error, created_at, finished_at
		 FROM jobs WHERE job_id = ?`, id)

	var j Job
	var output, errText sql.NullString
	var created string
	var finished sql.NullString
	if err := row.Scan(&j.ID, &j.Kind, &j.InputPath, &output, &j.Device,
		&j.Successful, &j.Substituted, &j.Status, &errText, &created, &finished); err != nil {
		return Job{}, err
	}
	j.OutputPath = output.String
	j.Error = errText.String
	if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
		j.CreatedAt = ts
	}
	if finished.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, finished.String); err == nil {
			j.FinishedAt = ts
		}
	}
	return j, nil
}

// ListChunkEvents retrieves up to limit events for a job ordered by chunk
// index.
func (s *Store) ListChunkEvents(ctx context.Context, jobID string, limit int) ([]ChunkEvent, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, chunk_index, event_type, detail, created_at
		 FROM chunk_events WHERE job_id = ? ORDER BY chunk_index ASC, id ASC LIMIT ?`, jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ChunkEvent
	for rows.Next() {
		var e ChunkEvent
		var detail sql.NullString
		var created string
		if err := rows.Scan(&e.ID, &e.JobID, &e.ChunkIndex, &e.Type, &detail, &created); err != nil {
			return nil, err
		}
		e.Detail = detail.String
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = ts
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies configured retention.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil || s.cfg.RetentionDays <= 0 {
		return nil
	}
	cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC()
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM chunk_events WHERE job_id IN (SELECT job_id FROM jobs WHERE created_at < ?)`, cutoff); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE created_at < ?`, cutoff)
	return err
}
