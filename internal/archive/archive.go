// Package archive persists finished transcripts in a local SQLite database
// so past runs can be listed, re-rendered, and pruned by age.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/wbendinelli/xvoice/internal/config"
	"github.com/wbendinelli/xvoice/internal/observe"
	"github.com/wbendinelli/xvoice/pkg/transcript"
)

// ErrNotFound is returned when no archived job matches the given ID.
var ErrNotFound = errors.New("archive: job not found")

// ErrDisabled is returned by read operations when archiving is turned off
// in the configuration.
var ErrDisabled = errors.New("archive: disabled")

// Job statuses recorded by [Store.SaveTranscript].
const (
	// StatusComplete marks a run whose every chunk transcribed successfully.
	StatusComplete = "complete"

	// StatusPartial marks a run that was cancelled mid-flight or contains
	// gap markers for permanently failed chunks.
	StatusPartial = "partial"
)

// Job describes one archived transcription run.
type Job struct {
	ID        string
	Source    string
	Model     string
	Language  string
	TraceID   string
	Status    string
	Duration  time.Duration
	Segments  int
	CreatedAt time.Time
}

// Store wraps the SQLite-backed transcript archive. Safe for concurrent use;
// database/sql serialises access to the underlying connection pool.
//
// A store opened with archiving disabled accepts writes as no-ops, so the
// pipeline never has to branch on whether the archive exists.
type Store struct {
	db    *sql.DB
	cfg   config.ArchiveConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open creates or opens the archive database at cfg.Path, applies the
// schema, and prunes jobs older than cfg.RetentionDays. When cfg.Enabled is
// false it returns a store whose writes do nothing and whose reads report
// [ErrDisabled].
func Open(ctx context.Context, cfg config.ArchiveConfig, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{cfg: cfg, log: log, clock: time.Now}
	if !cfg.Enabled {
		return s, nil
	}

	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("archive: create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: ping sqlite: %w", err)
	}
	s.db = db

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: init schema: %w", err)
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("archive prune on open failed", "error", err)
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS jobs (
    job_id TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    model TEXT,
    language TEXT,
    trace_id TEXT,
    status TEXT NOT NULL,
    duration_ms INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS segments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id TEXT NOT NULL,
    idx INTEGER NOT NULL,
    start_ms INTEGER NOT NULL,
    end_ms INTEGER NOT NULL,
    text TEXT NOT NULL,
    confidence REAL NOT NULL,
    gap INTEGER NOT NULL,
    FOREIGN KEY(job_id) REFERENCES jobs(job_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_segments_job ON segments(job_id, idx);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Enabled reports whether the store is backed by a database.
func (s *Store) Enabled() bool {
	return s.db != nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveTranscript writes t and its segments as a new job and returns the
// generated job ID. The trace ID, when ctx carries an active span, is stored
// alongside so log lines and archived jobs can be joined. On a disabled
// store it returns an empty ID and no error.
func (s *Store) SaveTranscript(ctx context.Context, t *transcript.Transcript, status string) (string, error) {
	if s.db == nil {
		return "", nil
	}
	jobID := uuid.NewString()

	createdAt := t.Meta.GeneratedAt
	if createdAt.IsZero() {
		createdAt = s.clock()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("archive: begin save: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO jobs(job_id, source, model, language, trace_id, status, duration_ms, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		jobID, t.Meta.Source, t.Meta.Model, t.Meta.Language,
		observe.CorrelationID(ctx), status,
		t.Meta.SourceDuration.Milliseconds(), createdAt.UTC())
	if err != nil {
		return "", fmt.Errorf("archive: insert job: %w", err)
	}

	for i, seg := range t.Segments {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO segments(job_id, idx, start_ms, end_ms, text, confidence, gap)
			 VALUES(?, ?, ?, ?, ?, ?, ?)`,
			jobID, i, seg.Start.Milliseconds(), seg.End.Milliseconds(),
			seg.Text, seg.Confidence, seg.Gap)
		if err != nil {
			return "", fmt.Errorf("archive: insert segment %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("archive: commit save: %w", err)
	}
	return jobID, nil
}

// GetTranscript reconstructs the archived transcript for jobID.
// Returns [ErrNotFound] when no such job exists.
func (s *Store) GetTranscript(ctx context.Context, jobID string) (*transcript.Transcript, error) {
	if s.db == nil {
		return nil, ErrDisabled
	}
	var (
		t          transcript.Transcript
		durationMS int64
		created    string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT source, model, language, duration_ms, created_at FROM jobs WHERE job_id = ?`,
		jobID,
	).Scan(&t.Meta.Source, &t.Meta.Model, &t.Meta.Language, &durationMS, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("archive: load job: %w", err)
	}
	t.Meta.SourceDuration = time.Duration(durationMS) * time.Millisecond
	if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
		t.Meta.GeneratedAt = ts
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT start_ms, end_ms, text, confidence, gap FROM segments WHERE job_id = ? ORDER BY idx ASC`,
		jobID)
	if err != nil {
		return nil, fmt.Errorf("archive: load segments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seg            transcript.Segment
			startMS, endMS int64
		)
		if err := rows.Scan(&startMS, &endMS, &seg.Text, &seg.Confidence, &seg.Gap); err != nil {
			return nil, fmt.Errorf("archive: scan segment: %w", err)
		}
		seg.Start = time.Duration(startMS) * time.Millisecond
		seg.End = time.Duration(endMS) * time.Millisecond
		t.Segments = append(t.Segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: iterate segments: %w", err)
	}

	return &t, nil
}

// ListJobs returns up to limit archived jobs, newest first. A non-positive
// limit defaults to 100.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	if s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT j.job_id, j.source, j.model, j.language, j.trace_id, j.status, j.duration_ms, j.created_at,
		        (SELECT COUNT(*) FROM segments s WHERE s.job_id = j.job_id)
		 FROM jobs j ORDER BY j.created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var (
			j          Job
			durationMS int64
			created    string
		)
		if err := rows.Scan(&j.ID, &j.Source, &j.Model, &j.Language, &j.TraceID, &j.Status, &durationMS, &created, &j.Segments); err != nil {
			return nil, fmt.Errorf("archive: scan job: %w", err)
		}
		j.Duration = time.Duration(durationMS) * time.Millisecond
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			j.CreatedAt = ts
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Prune deletes jobs older than the configured retention. Segment rows
// follow through the foreign key cascade. Called on open; long batch runs
// may call it again.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil || s.cfg.RetentionDays <= 0 {
		return nil
	}
	cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE created_at < ?`, cutoff.UTC())
	return err
}
