// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the SQLite connection pool behind the
// history store.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool with the standard
// pragmas every connection gets, applies an optional schema script to
// each new connection, and runs write batches in IMMEDIATE
// transactions. Connections are not safe for concurrent use: each
// goroutine takes its own and puts it back.
//
// # Pragmas
//
//   - journal_mode=WAL: readers never block the writer.
//   - synchronous=NORMAL: survives process crashes without an fsync
//     per commit. Polled values lost to a power failure are re-polled
//     on the next check.
//   - busy_timeout=5000: wait for the write lock instead of failing
//     with SQLITE_BUSY.
//   - cache_size=-4096: 4 MB page cache per connection.
//   - temp_store=MEMORY
//
// # Usage
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   "/var/lib/treegix/history.db",
//	    Schema: schema,
//	    Logger: logger,
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	err = pool.Transaction(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "INSERT INTO ...", &sqlitex.ExecOptions{Args: args})
//	})
package sqlitepool
