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

// CreateProject inserts a project. A zero CreatedAt is stamped from
// the store clock.
func (s *Store) CreateProject(ctx context.Context, project schema.Project) error {
	createdAt := toNanos(project.CreatedAt)
	if project.CreatedAt.IsZero() {
		createdAt = s.now()
	}
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO projects (id, owner_id, name, type, root_path, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				project.ID, project.OwnerID, project.Name, string(project.Type), project.RootPath, createdAt,
			}})
	})
	if err != nil {
		return fmt.Errorf("store: create project %s: %w", project.ID, err)
	}
	return nil
}

// GetProject returns ErrNotFound for an unknown id.
func (s *Store) GetProject(ctx context.Context, projectID string) (schema.Project, error) {
	var project schema.Project
	found := false
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT id, owner_id, name, type, root_path, created_at FROM projects WHERE id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{projectID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					found = true
					project = schema.Project{
						ID:        stmt.ColumnText(0),
						OwnerID:   stmt.ColumnText(1),
						Name:      stmt.ColumnText(2),
						Type:      schema.ProjectType(stmt.ColumnText(3)),
						RootPath:  stmt.ColumnText(4),
						CreatedAt: fromNanos(stmt.ColumnInt64(5)),
					}
					return nil
				},
			})
	})
	if err != nil {
		return schema.Project{}, fmt.Errorf("store: get project %s: %w", projectID, err)
	}
	if !found {
		return schema.Project{}, fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}
	return project, nil
}
