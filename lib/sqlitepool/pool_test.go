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

	"github.com/webeonic/treegix-sub004/lib/sqlitepool"
)

const testSchema = `
CREATE TABLE IF NOT EXISTS readings (
	itemid INTEGER NOT NULL,
	value  TEXT NOT NULL
);
`

func TestPragmas(t *testing.T) {
	pool := openTestPool(t, "", nil)

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	if mode := queryText(t, conn, "PRAGMA journal_mode"); mode != "wal" {
		t.Errorf("journal_mode = %q, want %q", mode, "wal")
	}
	if synchronous := queryText(t, conn, "PRAGMA synchronous"); synchronous != "1" {
		t.Errorf("synchronous = %s, want 1 (NORMAL)", synchronous)
	}
}

func TestSchemaAndOnConnect(t *testing.T) {
	var called bool
	pool := openTestPool(t, testSchema, func(conn *sqlite.Conn) error {
		called = true
		return nil
	})

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	if !called {
		t.Error("OnConnect was not called")
	}
	if err := sqlitex.Execute(conn, "INSERT INTO readings (itemid, value) VALUES (?, ?)", &sqlitex.ExecOptions{
		Args: []any{28001, "41.500000"},
	}); err != nil {
		t.Fatalf("INSERT into schema table: %v", err)
	}
}

func TestOnConnectErrorFailsTake(t *testing.T) {
	pool := openTestPool(t, "", func(conn *sqlite.Conn) error {
		return errors.New("refused")
	})
	if _, err := pool.Take(context.Background()); err == nil {
		t.Fatal("Take succeeded although OnConnect failed")
	}
}

func TestTransactionCommitsAndRollsBack(t *testing.T) {
	pool := openTestPool(t, testSchema, nil)
	ctx := context.Background()

	err := pool.Transaction(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "INSERT INTO readings (itemid, value) VALUES (1, 'kept')", nil)
	})
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}

	failure := errors.New("abort")
	err = pool.Transaction(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "INSERT INTO readings (itemid, value) VALUES (2, 'dropped')", nil); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("Transaction error = %v, want %v", err, failure)
	}

	conn, err := pool.Take(ctx)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)
	if count := queryText(t, conn, "SELECT count(*) FROM readings"); count != "1" {
		t.Errorf("rows = %s, want only the committed one", count)
	}
}

func TestEmptyPathRejected(t *testing.T) {
	if _, err := sqlitepool.Open(sqlitepool.Config{}); err == nil {
		t.Fatal("expected error for empty Path")
	}
}

func TestContextCancellation(t *testing.T) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     filepath.Join(t.TempDir(), "cancel.db"),
		PoolSize: 1,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Take(ctx); err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if err := pool.Transaction(ctx, func(*sqlite.Conn) error { return nil }); err == nil {
		t.Fatal("expected Transaction to fail with a cancelled context")
	}

	pool.Put(conn)
}

func queryText(t *testing.T, conn *sqlite.Conn, query string) string {
	t.Helper()
	var result string
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			result = stmt.ColumnText(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("%s: %v", query, err)
	}
	return result
}

func openTestPool(t *testing.T, schema string, onConnect func(*sqlite.Conn) error) *sqlitepool.Pool {
	t.Helper()

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:      filepath.Join(t.TempDir(), "test.db"),
		Schema:    schema,
		OnConnect: onConnect,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := pool.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return pool
}
