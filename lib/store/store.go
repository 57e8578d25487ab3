// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package store is the SQLite record store for tenants, projects,
// jobs, and artifacts.
//
// Consumers declare the narrow interfaces they need (the scheduler's
// job store, the identity registry's store, capture's artifact sink);
// *Store satisfies all of them. Job status changes are conditional
// updates whose WHERE clause names the statuses the transition may
// leave, so a terminal status never reverts and two racing writers
// cannot both win. Timestamps are stored as Unix nanoseconds and job
// metadata as deterministic CBOR.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"

	"github.com/bureau-foundation/workbench/lib/clock"
	"github.com/bureau-foundation/workbench/lib/sqlitepool"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

const schemaScript = `
	CREATE TABLE IF NOT EXISTS tenants (
		id         TEXT PRIMARY KEY,
		username   TEXT,
		uid        INTEGER,
		gid        INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_tenants_uid ON tenants(uid) WHERE uid IS NOT NULL;

	CREATE TABLE IF NOT EXISTS projects (
		id         TEXT PRIMARY KEY,
		owner_id   TEXT NOT NULL,
		name       TEXT NOT NULL,
		type       TEXT NOT NULL,
		root_path  TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id          TEXT PRIMARY KEY,
		project_id  TEXT NOT NULL,
		owner_id    TEXT NOT NULL,
		type        TEXT NOT NULL,
		status      TEXT NOT NULL,
		command     TEXT NOT NULL DEFAULT '',
		log_path    TEXT NOT NULL DEFAULT '',
		created_at  INTEGER NOT NULL,
		started_at  INTEGER,
		finished_at INTEGER,
		pid         INTEGER,
		metadata    BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_project ON jobs(project_id, created_at);

	CREATE TABLE IF NOT EXISTS artifacts (
		id         TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		owner_id   TEXT NOT NULL,
		job_id     TEXT NOT NULL,
		kind       TEXT NOT NULL,
		label      TEXT NOT NULL,
		file_path  TEXT NOT NULL,
		file_size  INTEGER NOT NULL,
		digest     TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_job ON artifacts(job_id);
`

// Config holds the parameters for opening a store.
type Config struct {
	// Path is the database file. The parent directory must exist.
	Path string

	// PoolSize defaults to 4.
	PoolSize int

	// Clock stamps created, started, and finished times.
	Clock clock.Clock

	Logger *slog.Logger
}

// Store is safe for concurrent use.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// Open opens (creating if needed) the database at cfg.Path.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Clock == nil {
		return nil, fmt.Errorf("store: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("store: Logger is required")
	}
	pool, err := sqlitepool.Open(ctx, sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Schema:   schemaScript,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return &Store{pool: pool, clock: cfg.Clock, logger: cfg.Logger}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

func (s *Store) now() int64 {
	return s.clock.Now().UnixNano()
}

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(nanos int64) time.Time {
	return time.Unix(0, nanos).UTC()
}

// nullableTime reads a nullable timestamp column.
func nullableTime(stmt *sqlite.Stmt, column int) *time.Time {
	if stmt.ColumnIsNull(column) {
		return nil
	}
	t := fromNanos(stmt.ColumnInt64(column))
	return &t
}

// columnBlob copies a BLOB column; NULL and empty read as nil.
func columnBlob(stmt *sqlite.Stmt, column int) []byte {
	length := stmt.ColumnLen(column)
	if stmt.ColumnIsNull(column) || length == 0 {
		return nil
	}
	data := make([]byte, length)
	stmt.ColumnBytes(column, data)
	return data
}
