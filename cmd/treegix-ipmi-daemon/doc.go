// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Treegix-ipmi-daemon is the parent process of the IPMI polling
// service. It starts treegix-ipmi-manager, waits for the manager's
// socket to appear, then starts the configured number of
// treegix-ipmi-poller processes.
//
// Pollers register with the manager by reporting their parent pid, and
// the manager only accepts pollers whose parent is its own parent. The
// daemon is that shared parent, so the manager and pollers must always
// be started through it.
//
// # Supervision
//
// Children are started with a parent-death signal of SIGTERM so they do
// not outlive the daemon. Crashed children are not restarted: if any
// child exits, the daemon sends SIGTERM to the rest, waits for them
// (escalating to SIGKILL after a grace period), and exits with an error
// naming the child that stopped. SIGINT or SIGTERM delivered to the
// daemon shuts every child down the same way and exits cleanly.
package main
