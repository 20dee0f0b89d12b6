// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the time source injected into the manager, pollers
// and collaborators. Production code uses Real(); tests use Fake(),
// whose time moves only when Advance is called, so TTL eviction,
// cleanup intervals and cool-down windows can be exercised without
// sleeping.
//
// A goroutine blocked in FakeClock.Sleep or waiting on FakeClock.After
// registers a waiter. Tests call WaitForTimers before Advance to avoid
// racing that registration:
//
//	go func() { fakeClock.Sleep(time.Second) }()
//	fakeClock.WaitForTimers(1)
//	fakeClock.Advance(time.Second)
package clock
