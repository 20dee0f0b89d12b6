// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/webeonic/treegix-sub004/lib/ipmi"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := Open(Config{
		Path:   path,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestFlushWritesValuesAndState(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "history.db"))
	ctx := context.Background()

	store.Submit(Value{ItemID: 28001, Timestamp: epoch.Add(250 * time.Millisecond), Value: "41.500000"})
	store.Submit(Value{ItemID: 28001, Timestamp: epoch.Add(30 * time.Second), Value: "42.000000"})
	store.Submit(Value{
		ItemID:    28003,
		Timestamp: epoch,
		State:     ipmi.ItemStateNotSupported,
		Error:     "sensor or control Fan 9@[10.0.0.5]:623 does not exist",
	})
	if store.Pending() != 3 {
		t.Fatalf("Pending = %d, want 3", store.Pending())
	}

	if err := store.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if store.Pending() != 0 {
		t.Errorf("Pending after Flush = %d", store.Pending())
	}

	values, err := store.Values(ctx, 28001, 10)
	if err != nil {
		t.Fatalf("Values: %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("got %d values, want 2", len(values))
	}
	if values[0].Value != "42.000000" || values[1].Value != "41.500000" {
		t.Errorf("values = %q, %q; want newest first", values[0].Value, values[1].Value)
	}
	if !values[1].Timestamp.Equal(epoch.Add(250 * time.Millisecond)) {
		t.Errorf("timestamp = %v, want nanoseconds preserved", values[1].Timestamp)
	}

	unsupported, err := store.Values(ctx, 28003, 10)
	if err != nil {
		t.Fatalf("Values: %v", err)
	}
	if len(unsupported) != 0 {
		t.Errorf("unsupported item stored %d values", len(unsupported))
	}

	state, found, err := store.State(ctx, 28003)
	if err != nil || !found {
		t.Fatalf("State = %v, %v", found, err)
	}
	if state.State != ipmi.ItemStateNotSupported || state.Error == "" {
		t.Errorf("state = %+v", state)
	}
}

func TestStateFollowsLatestValue(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "history.db"))
	ctx := context.Background()

	store.Submit(Value{ItemID: 7, Timestamp: epoch, State: ipmi.ItemStateNotSupported, Error: "control is not settable"})
	if err := store.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	store.Submit(Value{ItemID: 7, Timestamp: epoch.Add(time.Minute), Value: "1"})
	if err := store.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	state, found, err := store.State(ctx, 7)
	if err != nil || !found {
		t.Fatalf("State = %v, %v", found, err)
	}
	if state.State != ipmi.ItemStateNormal || state.Error != "" {
		t.Errorf("state = %+v, want normal without error", state)
	}
	if !state.LastClock.Equal(epoch.Add(time.Minute)) {
		t.Errorf("last clock = %v", state.LastClock)
	}

	if _, found, err := store.State(ctx, 8); err != nil || found {
		t.Errorf("State(unknown) = %v, %v", found, err)
	}
}

func TestFlushFailureKeepsValues(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "history.db"))

	store.Submit(Value{ItemID: 1, Timestamp: epoch, Value: "1"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Hold every connection so Take has to wait on the cancelled
	// context.
	held, err := store.pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	other, err := store.pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}

	if err := store.Flush(ctx); err == nil {
		t.Fatal("Flush succeeded with a cancelled context")
	}
	store.pool.Put(held)
	store.pool.Put(other)

	if store.Pending() != 1 {
		t.Fatalf("Pending = %d, want the value kept", store.Pending())
	}
	if err := store.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	first, err := Open(Config{Path: path, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	first.Submit(Value{ItemID: 3, Timestamp: epoch, Value: "9"})
	if err := first.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := openTestStore(t, path)
	values, err := second.Values(ctx, 3, 1)
	if err != nil {
		t.Fatalf("Values: %v", err)
	}
	if len(values) != 1 || values[0].Value != "9" {
		t.Errorf("values after reopen = %+v", values)
	}
}
