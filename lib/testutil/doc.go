// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [SocketDir] creates a short temporary directory in /tmp for Unix
// domain sockets, whose paths are limited to 108 bytes (sun_path) and
// so cannot live under a deeply nested t.TempDir().
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern so individual tests do not call time.After themselves. They
// are the only place tests use wall-clock timeouts.
//
// All helpers call t.Fatalf on failure.
package testutil
