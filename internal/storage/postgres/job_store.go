// Package postgres provides the Postgres-backed job history.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/docgen-gateway/internal/job"
	"github.com/JakeFAU/docgen-gateway/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "generation_jobs"

// Config controls the Postgres connection pool used for job records.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// JobStore writes and reads job records.
type JobStore struct {
	pool  pool
	table string
}

// NewJobStore connects to Postgres using cfg.
func NewJobStore(ctx context.Context, cfg Config) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobStore{pool: p, table: table}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(p pool, table string) (*JobStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &JobStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *JobStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the job table when it does not exist yet.
func (s *JobStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	job_id            text PRIMARY KEY,
	state             text NOT NULL,
	original_filename text NOT NULL DEFAULT '',
	input_sha256      text NOT NULL DEFAULT '',
	input_size        bigint NOT NULL DEFAULT 0,
	exit_code         integer NOT NULL DEFAULT 0,
	artifact          text NOT NULL DEFAULT '',
	match             text NOT NULL DEFAULT '',
	artifact_uri      text NOT NULL DEFAULT '',
	error             text NOT NULL DEFAULT '',
	started_at        timestamptz NOT NULL,
	finished_at       timestamptz NOT NULL,
	worker_ms         bigint NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS %[1]s_started_at_idx ON %[1]s (started_at DESC)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// RecordJob upserts rec keyed by job ID.
func (s *JobStore) RecordJob(ctx context.Context, rec job.Record) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("job store is not configured")
	}
	if rec.JobID == "" {
		return fmt.Errorf("job id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	job_id,
	state,
	original_filename,
	input_sha256,
	input_size,
	exit_code,
	artifact,
	match,
	artifact_uri,
	error,
	started_at,
	finished_at,
	worker_ms
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)
ON CONFLICT (job_id) DO UPDATE SET
	state = EXCLUDED.state,
	exit_code = EXCLUDED.exit_code,
	artifact = EXCLUDED.artifact,
	match = EXCLUDED.match,
	artifact_uri = EXCLUDED.artifact_uri,
	error = EXCLUDED.error,
	finished_at = EXCLUDED.finished_at,
	worker_ms = EXCLUDED.worker_ms`, s.table)

	args := []any{
		rec.JobID,
		string(rec.State),
		rec.OriginalName,
		rec.InputSHA256,
		rec.InputSize,
		rec.ExitCode,
		rec.Artifact,
		rec.Match,
		rec.ArtifactURI,
		rec.Error,
		rec.StartedAt,
		rec.FinishedAt,
		rec.WorkerMillis,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert job record: %w", err)
	}
	return nil
}

const selectColumns = `job_id, state, original_filename, input_sha256, input_size, exit_code,
	artifact, match, artifact_uri, error, started_at, finished_at, worker_ms`

// GetJob loads one record or returns store.ErrNotFound.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (job.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE job_id = $1`, selectColumns, s.table)
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.Record{}, store.ErrNotFound
		}
		return job.Record{}, fmt.Errorf("get job: %w", err)
	}
	return rec, nil
}

// ListJobs returns records newest first, optionally filtered by state.
func (s *JobStore) ListJobs(ctx context.Context, state *job.State, limit, offset int) ([]job.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
WHERE ($1::text IS NULL OR state = $1)
ORDER BY started_at DESC, job_id
LIMIT $2 OFFSET $3`, selectColumns, s.table)

	var filter any
	if state != nil {
		filter = string(*state)
	}
	rows, err := s.pool.Query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := []job.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (job.Record, error) {
	var (
		rec   job.Record
		state string
	)
	err := row.Scan(
		&rec.JobID,
		&state,
		&rec.OriginalName,
		&rec.InputSHA256,
		&rec.InputSize,
		&rec.ExitCode,
		&rec.Artifact,
		&rec.Match,
		&rec.ArtifactURI,
		&rec.Error,
		&rec.StartedAt,
		&rec.FinishedAt,
		&rec.WorkerMillis,
	)
	if err != nil {
		return job.Record{}, err //nolint:wrapcheck // callers wrap with context
	}
	rec.State = job.State(state)
	return rec, nil
}
