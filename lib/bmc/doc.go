// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bmc drives hardware sessions with baseboard management
// controllers on behalf of one poller process.
//
// The hardware library behind a [Driver] is callback-driven: starting
// an operation returns immediately, and its completion callback runs
// later from inside [Driver.PerformOne]. A [Registry] turns that into
// blocking calls. Each operation's callback writes its outcome to a
// channel, and the registry pumps the driver until the channel is
// ready or the per-operation timeout expires. Only one operation is in
// flight at a time, which is what a BMC session requires.
//
// The Registry owns the session cache: one open session per distinct
// [Target] (address, port, authentication and credentials), created on
// first use, reused while it keeps answering, dropped after a
// host-level failure, and closed by [Registry.CloseInactive] once it has
// been idle long enough.
//
// Errors returned by Registry methods are [*Error] values carrying the
// [ipmi.ErrorCode] to report back to the manager.
package bmc
