// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/webeonic/treegix-sub004/lib/ipmi"
	"github.com/webeonic/treegix-sub004/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS history_text (
	itemid INTEGER NOT NULL,
	clock  INTEGER NOT NULL,
	ns     INTEGER NOT NULL,
	value  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS history_text_item_clock ON history_text (itemid, clock);

CREATE TABLE IF NOT EXISTS item_state (
	itemid    INTEGER PRIMARY KEY,
	state     INTEGER NOT NULL,
	error     TEXT NOT NULL,
	lastclock INTEGER NOT NULL
);
`

// Value is one polled result for an item.
type Value struct {
	ItemID    uint64
	Timestamp time.Time
	State     ipmi.ItemState

	// Value is the reading. Only stored when State is normal.
	Value string

	// Error is the reason an item is not supported.
	Error string
}

// Config holds the parameters for opening a store.
type Config struct {
	// Path is the SQLite database file.
	Path string

	// PoolSize is the number of SQLite connections.
	PoolSize int

	Logger *slog.Logger
}

// Store buffers submitted values and writes them to SQLite on Flush.
// Submit and Flush may be called from different goroutines.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger

	mu      sync.Mutex
	pending []Value
}

// Open creates or opens the history database.
func Open(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
		Schema:   schema,
	})
	if err != nil {
		return nil, fmt.Errorf("history store: %w", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Submit buffers a value for the next Flush.
func (s *Store) Submit(value Value) {
	s.mu.Lock()
	s.pending = append(s.pending, value)
	s.mu.Unlock()
}

// Pending returns the number of buffered values.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Flush writes every buffered value in one transaction. If the write
// fails the values stay buffered for the next Flush.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	err := s.pool.Transaction(ctx, func(conn *sqlite.Conn) error {
		for index := range batch {
			if err := writeValue(conn, &batch[index]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.mu.Lock()
		s.pending = append(batch, s.pending...)
		s.mu.Unlock()
		return fmt.Errorf("history store: flushing %d values: %w", len(batch), err)
	}

	s.logger.Debug("history flushed", "values", len(batch))
	return nil
}

func writeValue(conn *sqlite.Conn, value *Value) error {
	if value.State == ipmi.ItemStateNormal {
		err := sqlitex.Execute(conn,
			"INSERT INTO history_text (itemid, clock, ns, value) VALUES (?, ?, ?, ?)",
			&sqlitex.ExecOptions{
				Args: []any{
					int64(value.ItemID),
					value.Timestamp.Unix(),
					value.Timestamp.Nanosecond(),
					value.Value,
				},
			})
		if err != nil {
			return fmt.Errorf("inserting value of item %d: %w", value.ItemID, err)
		}
	}

	err := sqlitex.Execute(conn, `
		INSERT INTO item_state (itemid, state, error, lastclock) VALUES (?, ?, ?, ?)
		ON CONFLICT (itemid) DO UPDATE SET
			state = excluded.state,
			error = excluded.error,
			lastclock = excluded.lastclock`,
		&sqlitex.ExecOptions{
			Args: []any{
				int64(value.ItemID),
				int(value.State),
				value.Error,
				value.Timestamp.Unix(),
			},
		})
	if err != nil {
		return fmt.Errorf("updating state of item %d: %w", value.ItemID, err)
	}
	return nil
}

// ItemState is the stored state of one item.
type ItemState struct {
	State     ipmi.ItemState
	Error     string
	LastClock time.Time
}

// State returns the stored state of an item.
func (s *Store) State(ctx context.Context, itemID uint64) (ItemState, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return ItemState{}, false, fmt.Errorf("history store: %w", err)
	}
	defer s.pool.Put(conn)

	var (
		state ItemState
		found bool
	)
	err = sqlitex.Execute(conn,
		"SELECT state, error, lastclock FROM item_state WHERE itemid = ?",
		&sqlitex.ExecOptions{
			Args: []any{int64(itemID)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				state = ItemState{
					State:     ipmi.ItemState(stmt.ColumnInt(0)),
					Error:     stmt.ColumnText(1),
					LastClock: time.Unix(stmt.ColumnInt64(2), 0),
				}
				found = true
				return nil
			},
		})
	if err != nil {
		return ItemState{}, false, fmt.Errorf("history store: reading state of item %d: %w", itemID, err)
	}
	return state, found, nil
}

// Values returns up to limit of the most recent readings of an item,
// newest first.
func (s *Store) Values(ctx context.Context, itemID uint64, limit int) ([]Value, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("history store: %w", err)
	}
	defer s.pool.Put(conn)

	var values []Value
	err = sqlitex.Execute(conn,
		"SELECT clock, ns, value FROM history_text WHERE itemid = ? ORDER BY clock DESC, ns DESC LIMIT ?",
		&sqlitex.ExecOptions{
			Args: []any{int64(itemID), limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				values = append(values, Value{
					ItemID:    itemID,
					Timestamp: time.Unix(stmt.ColumnInt64(0), stmt.ColumnInt64(1)),
					State:     ipmi.ItemStateNormal,
					Value:     stmt.ColumnText(2),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("history store: reading values of item %d: %w", itemID, err)
	}
	return values, nil
}

// Close closes the database. Buffered values that were not flushed are
// lost.
func (s *Store) Close() error {
	if pending := s.Pending(); pending > 0 {
		s.logger.Warn("closing history store with unflushed values", "pending", pending)
	}
	return s.pool.Close()
}
