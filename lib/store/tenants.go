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

// CreateTenant records a tenant. Existing tenants are left untouched.
func (s *Store) CreateTenant(ctx context.Context, tenantID string) error {
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT OR IGNORE INTO tenants (id, created_at) VALUES (?, ?)`,
			&sqlitex.ExecOptions{Args: []any{tenantID, s.now()}})
	})
	if err != nil {
		return fmt.Errorf("store: create tenant %s: %w", tenantID, err)
	}
	return nil
}

// Identity returns the tenant's identity, or nil if none is
// allocated. An unknown tenant also returns nil.
func (s *Store) Identity(ctx context.Context, tenantID string) (*schema.Identity, error) {
	var identity *schema.Identity
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT username, uid, gid FROM tenants WHERE id = ? AND uid IS NOT NULL`,
			&sqlitex.ExecOptions{
				Args: []any{tenantID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					identity = &schema.Identity{
						TenantID: tenantID,
						Username: stmt.ColumnText(0),
						UID:      stmt.ColumnInt(1),
						GID:      stmt.ColumnInt(2),
					}
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("store: identity %s: %w", tenantID, err)
	}
	return identity, nil
}

// SetIdentity records an identity, creating the tenant row if needed.
func (s *Store) SetIdentity(ctx context.Context, identity schema.Identity) error {
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO tenants (id, username, uid, gid, created_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET username = excluded.username, uid = excluded.uid, gid = excluded.gid`,
			&sqlitex.ExecOptions{Args: []any{identity.TenantID, identity.Username, identity.UID, identity.GID, s.now()}})
	})
	if err != nil {
		return fmt.Errorf("store: set identity %s: %w", identity.TenantID, err)
	}
	return nil
}

// ClearIdentity removes the tenant's username, uid, and gid.
func (s *Store) ClearIdentity(ctx context.Context, tenantID string) error {
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`UPDATE tenants SET username = NULL, uid = NULL, gid = NULL WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{tenantID}})
	})
	if err != nil {
		return fmt.Errorf("store: clear identity %s: %w", tenantID, err)
	}
	return nil
}

// AllocatedIDs returns every recorded uid.
func (s *Store) AllocatedIDs(ctx context.Context) ([]int, error) {
	var ids []int
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT uid FROM tenants WHERE uid IS NOT NULL ORDER BY uid`,
			&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
				ids = append(ids, stmt.ColumnInt(0))
				return nil
			}})
	})
	if err != nil {
		return nil, fmt.Errorf("store: allocated ids: %w", err)
	}
	return ids, nil
}
