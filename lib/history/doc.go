// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package history is the sink for polled values. The manager submits
// each classified result with [Store.Submit] and calls [Store.Flush]
// after every scheduling pass and result batch; Flush writes the
// buffered values to SQLite in one transaction.
//
// Two tables are kept: history_text holds every successful reading,
// and item_state holds each item's current state together with the
// error text that made it unsupported.
package history
