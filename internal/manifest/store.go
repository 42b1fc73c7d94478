// Package manifest persists jobs and pipeline nodes in SQLite. The manifest
// plus the content-addressed artifact store is what makes crash resumption
// correct: succeeded nodes are recorded here with their artifact keys and
// are never re-run.
package manifest

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema
// changes; existing databases with another version are rejected.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// ErrJobNotFound indicates an unknown job identifier.
var ErrJobNotFound = errors.New("job not found")

// Store manages manifest persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the manifest database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}
	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d",
			ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// CreateJob inserts a new job row in the pending state.
func (s *Store) CreateJob(ctx context.Context, id, configJSON string) (*JobRecord, error) {
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, config_json, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?)`,
		id, configJSON, JobPending, timestamp, timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return s.GetJob(ctx, id)
}

// GetJob fetches a job by identifier.
func (s *Store) GetJob(ctx context.Context, id string) (*JobRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, config_json, status, COALESCE(error_message, ''),
                COALESCE(failed_stage, ''), created_at, updated_at
         FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// ListJobs returns all jobs ordered by creation time, newest first.
func (s *Store) ListJobs(ctx context.Context) ([]*JobRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, config_json, status, COALESCE(error_message, ''),
                COALESCE(failed_stage, ''), created_at, updated_at
         FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*JobRecord
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateJobStatus transitions a job, recording the failing stage and message
// when the new status is failed.
func (s *Store) UpdateJobStatus(ctx context.Context, id string, status JobStatus, failedStage, errorMessage string) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, failed_stage = ?, error_message = ?, updated_at = ?
         WHERE id = ?`,
		status, failedStage, errorMessage, timestamp, id,
	)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// UpsertNode writes a node row, replacing any prior state for (job, node).
func (s *Store) UpsertNode(ctx context.Context, node *NodeRecord) error {
	upstream, err := json.Marshal(node.Upstream)
	if err != nil {
		return fmt.Errorf("marshal upstream: %w", err)
	}
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO nodes (job_id, id, kind, engine, upstream_json, status,
                            attempts, artifact_key, cue_index, error_message, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(job_id, id) DO UPDATE SET
             status = excluded.status,
             attempts = excluded.attempts,
             artifact_key = excluded.artifact_key,
             error_message = excluded.error_message,
             updated_at = excluded.updated_at`,
		node.JobID, node.ID, node.Kind, node.Engine, string(upstream), node.Status,
		node.Attempts, node.ArtifactKey, node.CueIndex, node.ErrorMsg, timestamp,
	)
	if err != nil {
		return fmt.Errorf("upsert node: %w", err)
	}
	return nil
}

// NodesForJob returns every node recorded for a job.
func (s *Store) NodesForJob(ctx context.Context, jobID string) ([]*NodeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, id, kind, engine, upstream_json, status, attempts,
                artifact_key, cue_index, error_message, updated_at
         FROM nodes WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*NodeRecord
	for rows.Next() {
		var (
			node         NodeRecord
			upstreamJSON string
			status       string
			updatedAt    string
		)
		if err := rows.Scan(&node.JobID, &node.ID, &node.Kind, &node.Engine,
			&upstreamJSON, &status, &node.Attempts, &node.ArtifactKey,
			&node.CueIndex, &node.ErrorMsg, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		if err := json.Unmarshal([]byte(upstreamJSON), &node.Upstream); err != nil {
			return nil, fmt.Errorf("unmarshal upstream: %w", err)
		}
		node.Status = NodeStatus(status)
		node.UpdatedAt = parseTimestamp(updatedAt)
		nodes = append(nodes, &node)
	}
	return nodes, rows.Err()
}

// DeleteJob removes the job and its nodes.
func (s *Store) DeleteJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", jobID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrJobNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*JobRecord, error) {
	var (
		job       JobRecord
		status    string
		createdAt string
		updatedAt string
	)
	err := row.Scan(&job.ID, &job.ConfigJSON, &status, &job.ErrorMessage,
		&job.FailedStage, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	parsed, ok := ParseJobStatus(status)
	if !ok {
		return nil, fmt.Errorf("unknown job status %q", status)
	}
	job.Status = parsed
	job.CreatedAt = parseTimestamp(createdAt)
	job.UpdatedAt = parseTimestamp(updatedAt)
	return &job, nil
}

func parseTimestamp(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
