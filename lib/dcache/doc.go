// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dcache is the configuration cache the IPMI manager schedules
// from. It holds the host and item inventory loaded from YAML, a
// due-time heap of items waiting to be polled, and each host's
// availability state.
//
// Items leave the schedule when [Cache.DueItems] hands them out and
// return through [Cache.Requeue] or [Cache.RequeueUnreachable] once the
// manager has a result (or has dropped the request). An item that is
// handed out and never requeued is not polled again.
//
// Host availability follows a three-step machine driven by
// [Cache.DeactivateHost]: the first network-level failure starts an
// error period and a short cool-down; failures that persist past the
// unreachable period make the host unavailable with a longer
// cool-down; [Cache.ActivateHost] clears everything. The cool-down end
// is published as Host.DisableUntil, which the manager uses for
// back-pressure.
//
// All methods are safe for concurrent use.
package dcache
