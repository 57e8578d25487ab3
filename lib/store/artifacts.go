// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/workbench/lib/schema"
)

// InsertArtifact records a captured output. Artifacts are never
// updated.
func (s *Store) InsertArtifact(ctx context.Context, artifact schema.Artifact) error {
	createdAt := toNanos(artifact.CreatedAt)
	if artifact.CreatedAt.IsZero() {
		createdAt = s.now()
	}
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO artifacts (id, project_id, owner_id, job_id, kind, label, file_path, file_size, digest, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				artifact.ID, artifact.ProjectID, artifact.OwnerID, artifact.JobID,
				string(artifact.Kind), artifact.Label, artifact.FilePath, artifact.FileSize,
				artifact.Digest, createdAt,
			}})
	})
	if err != nil {
		return fmt.Errorf("store: insert artifact %s: %w", artifact.ID, err)
	}
	return nil
}

// ListArtifacts returns a job's artifacts in capture order.
func (s *Store) ListArtifacts(ctx context.Context, jobID string) ([]schema.Artifact, error) {
	var artifacts []schema.Artifact
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT id, project_id, owner_id, job_id, kind, label, file_path, file_size, digest, created_at
			FROM artifacts WHERE job_id = ? ORDER BY created_at, rowid`,
			&sqlitex.ExecOptions{
				Args: []any{jobID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					artifacts = append(artifacts, schema.Artifact{
						ID:        stmt.ColumnText(0),
						ProjectID: stmt.ColumnText(1),
						OwnerID:   stmt.ColumnText(2),
						JobID:     stmt.ColumnText(3),
						Kind:      schema.ArtifactKind(stmt.ColumnText(4)),
						Label:     stmt.ColumnText(5),
						FilePath:  stmt.ColumnText(6),
						FileSize:  stmt.ColumnInt64(7),
						Digest:    stmt.ColumnText(8),
						CreatedAt: fromNanos(stmt.ColumnInt64(9)),
					})
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("store: list artifacts for %s: %w", jobID, err)
	}
	return artifacts, nil
}
