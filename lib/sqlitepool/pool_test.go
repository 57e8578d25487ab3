// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/workbench/lib/sqlitepool"
)

const testSchema = `CREATE TABLE IF NOT EXISTS counters (name TEXT PRIMARY KEY, value INTEGER NOT NULL);`

func openTestPool(t *testing.T) *sqlitepool.Pool {
	t.Helper()
	pool, err := sqlitepool.Open(context.Background(), sqlitepool.Config{
		Path:   filepath.Join(t.TempDir(), "test.db"),
		Schema: testSchema,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func readCounter(t *testing.T, pool *sqlitepool.Pool, name string) (int64, bool) {
	t.Helper()
	var value int64
	var found bool
	err := pool.Read(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT value FROM counters WHERE name = ?", &sqlitex.ExecOptions{
			Args: []any{name},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				value = stmt.ColumnInt64(0)
				found = true
				return nil
			},
		})
	})
	if err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return value, found
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := sqlitepool.Open(context.Background(), sqlitepool.Config{}); err == nil {
		t.Fatal("expected error for empty Path")
	}
}

func TestStandardPragmas(t *testing.T) {
	pool := openTestPool(t)
	var journalMode string
	err := pool.Read(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "PRAGMA journal_mode", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				journalMode = stmt.ColumnText(0)
				return nil
			},
		})
	})
	if err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want wal", journalMode)
	}
}

func TestWriteCommits(t *testing.T) {
	pool := openTestPool(t)
	err := pool.Write(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "INSERT INTO counters (name, value) VALUES (?, ?)", &sqlitex.ExecOptions{
			Args: []any{"jobs", 3},
		})
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if value, found := readCounter(t, pool, "jobs"); !found || value != 3 {
		t.Errorf("counter = %d (found %v), want 3", value, found)
	}
}

func TestWriteRollsBackOnError(t *testing.T) {
	pool := openTestPool(t)
	sentinel := errors.New("abort")
	err := pool.Write(context.Background(), func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "INSERT INTO counters (name, value) VALUES ('x', 1)", nil); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Write error = %v, want sentinel", err)
	}
	if _, found := readCounter(t, pool, "x"); found {
		t.Error("row survived a rolled back transaction")
	}
}

func TestSchemaIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	for i := 0; i < 2; i++ {
		pool, err := sqlitepool.Open(context.Background(), sqlitepool.Config{Path: path, Schema: testSchema})
		if err != nil {
			t.Fatalf("Open #%d: %v", i, err)
		}
		pool.Close()
	}
}
