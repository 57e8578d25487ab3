// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/workbench/lib/codec"
	"github.com/bureau-foundation/workbench/lib/schema"
)

const jobColumns = `id, project_id, owner_id, type, status, command, log_path,
	created_at, started_at, finished_at, pid, metadata`

// JobFilter narrows ListJobs. Zero fields match everything.
type JobFilter struct {
	OwnerID   string
	ProjectID string
	Status    schema.JobStatus

	// Limit defaults to 100.
	Limit int
}

// CreateJob inserts a job in the QUEUED state. Status, timestamps
// other than CreatedAt, and PID on the argument are ignored.
func (s *Store) CreateJob(ctx context.Context, job schema.Job) error {
	if !job.Type.Valid() {
		return fmt.Errorf("store: create job %s: unknown type %q", job.ID, job.Type)
	}
	metadata, err := codec.EncodeMetadata(job.Metadata)
	if err != nil {
		return fmt.Errorf("store: create job %s: encoding metadata: %w", job.ID, err)
	}
	createdAt := toNanos(job.CreatedAt)
	if job.CreatedAt.IsZero() {
		createdAt = s.now()
	}
	err = s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO jobs (id, project_id, owner_id, type, status, command, log_path, created_at, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				job.ID, job.ProjectID, job.OwnerID, string(job.Type), string(schema.StatusQueued),
				job.Command, job.LogPath, createdAt, metadata,
			}})
	})
	if err != nil {
		return fmt.Errorf("store: create job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob returns ErrNotFound for an unknown id.
func (s *Store) GetJob(ctx context.Context, jobID string) (schema.Job, error) {
	jobs, err := s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	if err != nil {
		return schema.Job{}, fmt.Errorf("store: get job %s: %w", jobID, err)
	}
	if len(jobs) == 0 {
		return schema.Job{}, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return jobs[0], nil
}

// ListQueued returns up to limit queued jobs, oldest first, skipping
// the ids in exclude.
func (s *Store) ListQueued(ctx context.Context, limit int, exclude []string) ([]schema.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = ?`
	args := []any{string(schema.StatusQueued)}
	if len(exclude) > 0 {
		query += ` AND id NOT IN (` + placeholders(len(exclude)) + `)`
		for _, id := range exclude {
			args = append(args, id)
		}
	}
	query += ` ORDER BY created_at, rowid LIMIT ?`
	args = append(args, limit)

	jobs, err := s.queryJobs(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list queued: %w", err)
	}
	return jobs, nil
}

// ListJobs returns jobs matching filter, newest first.
func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]schema.Job, error) {
	var conditions []string
	var args []any
	if filter.OwnerID != "" {
		conditions = append(conditions, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.ProjectID != "" {
		conditions = append(conditions, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	jobs, err := s.queryJobs(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list jobs: %w", err)
	}
	return jobs, nil
}

// MarkRunning moves a QUEUED job to RUNNING, recording the start time,
// log path, and pid. It reports false when the job was no longer
// queued (cancelled in the meantime).
func (s *Store) MarkRunning(ctx context.Context, jobID, logPath string, pid int) (bool, error) {
	changed, err := s.transition(ctx, `
		UPDATE jobs SET status = ?, started_at = ?, log_path = ?, pid = ?
		WHERE id = ? AND status = ?`,
		string(schema.StatusRunning), s.now(), logPath, pid, jobID, string(schema.StatusQueued))
	if err != nil {
		return false, fmt.Errorf("store: mark running %s: %w", jobID, err)
	}
	return changed, nil
}

// Finish moves a RUNNING job to a terminal status and clears its pid.
// It reports false when the job was not running.
func (s *Store) Finish(ctx context.Context, jobID string, status schema.JobStatus) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("store: finish %s: %q is not a terminal status", jobID, status)
	}
	changed, err := s.transition(ctx, `
		UPDATE jobs SET status = ?, finished_at = ?, pid = NULL
		WHERE id = ? AND status = ?`,
		string(status), s.now(), jobID, string(schema.StatusRunning))
	if err != nil {
		return false, fmt.Errorf("store: finish %s: %w", jobID, err)
	}
	return changed, nil
}

// FailQueued moves a QUEUED job straight to FAILED, for jobs rejected
// before a process was started. logPath records where the rejection
// reason was written.
func (s *Store) FailQueued(ctx context.Context, jobID, logPath string) (bool, error) {
	changed, err := s.transition(ctx, `
		UPDATE jobs SET status = ?, finished_at = ?, log_path = ?, pid = NULL
		WHERE id = ? AND status = ?`,
		string(schema.StatusFailed), s.now(), logPath, jobID, string(schema.StatusQueued))
	if err != nil {
		return false, fmt.Errorf("store: fail queued %s: %w", jobID, err)
	}
	return changed, nil
}

// CancelIfActive moves a QUEUED or RUNNING job to CANCELLED. It
// reports false when the job was already terminal or does not exist.
func (s *Store) CancelIfActive(ctx context.Context, jobID string) (bool, error) {
	changed, err := s.transition(ctx, `
		UPDATE jobs SET status = ?, finished_at = ?, pid = NULL
		WHERE id = ? AND status IN (?, ?)`,
		string(schema.StatusCancelled), s.now(), jobID,
		string(schema.StatusQueued), string(schema.StatusRunning))
	if err != nil {
		return false, fmt.Errorf("store: cancel %s: %w", jobID, err)
	}
	return changed, nil
}

// CancelQueued moves a QUEUED job to CANCELLED. It reports false when
// the job has already started, finished, or does not exist, so a
// caller without the job's process never cancels a running job.
func (s *Store) CancelQueued(ctx context.Context, jobID string) (bool, error) {
	changed, err := s.transition(ctx, `
		UPDATE jobs SET status = ?, finished_at = ?
		WHERE id = ? AND status = ?`,
		string(schema.StatusCancelled), s.now(), jobID, string(schema.StatusQueued))
	if err != nil {
		return false, fmt.Errorf("store: cancel queued %s: %w", jobID, err)
	}
	return changed, nil
}

// FailOrphaned marks every RUNNING job FAILED and returns them as they
// were before the update. Only valid at startup, before any job has
// been launched by this process.
func (s *Store) FailOrphaned(ctx context.Context) ([]schema.Job, error) {
	var orphans []schema.Job
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		var err error
		orphans, err = scanJobs(conn, `SELECT `+jobColumns+` FROM jobs WHERE status = ?`, string(schema.StatusRunning))
		if err != nil {
			return err
		}
		return sqlitex.Execute(conn, `
			UPDATE jobs SET status = ?, finished_at = ?, pid = NULL WHERE status = ?`,
			&sqlitex.ExecOptions{Args: []any{string(schema.StatusFailed), s.now(), string(schema.StatusRunning)}})
	})
	if err != nil {
		return nil, fmt.Errorf("store: fail orphaned: %w", err)
	}
	return orphans, nil
}

// transition runs a conditional update and reports whether a row
// changed.
func (s *Store) transition(ctx context.Context, query string, args ...any) (bool, error) {
	var changed bool
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
			return err
		}
		changed = conn.Changes() > 0
		return nil
	})
	return changed, err
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]schema.Job, error) {
	var jobs []schema.Job
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		var err error
		jobs, err = scanJobs(conn, query, args...)
		return err
	})
	return jobs, err
}

func scanJobs(conn *sqlite.Conn, query string, args ...any) ([]schema.Job, error) {
	var jobs []schema.Job
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			job, err := scanJob(stmt)
			if err != nil {
				return err
			}
			jobs = append(jobs, job)
			return nil
		},
	})
	return jobs, err
}

// scanJob reads one row selected with jobColumns.
func scanJob(stmt *sqlite.Stmt) (schema.Job, error) {
	job := schema.Job{
		ID:         stmt.ColumnText(0),
		ProjectID:  stmt.ColumnText(1),
		OwnerID:    stmt.ColumnText(2),
		Type:       schema.JobType(stmt.ColumnText(3)),
		Status:     schema.JobStatus(stmt.ColumnText(4)),
		Command:    stmt.ColumnText(5),
		LogPath:    stmt.ColumnText(6),
		CreatedAt:  fromNanos(stmt.ColumnInt64(7)),
		StartedAt:  nullableTime(stmt, 8),
		FinishedAt: nullableTime(stmt, 9),
	}
	if !stmt.ColumnIsNull(10) {
		pid := stmt.ColumnInt(10)
		job.PID = &pid
	}
	metadata, err := codec.DecodeMetadata(columnBlob(stmt, 11))
	if err != nil {
		return schema.Job{}, fmt.Errorf("job %s: decoding metadata: %w", job.ID, err)
	}
	job.Metadata = metadata
	return job, nil
}

func placeholders(count int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", count), ", ")
}
