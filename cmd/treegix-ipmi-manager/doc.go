// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Treegix-ipmi-manager dispatches IPMI polling work to a fixed pool of
// poller processes. It pulls due items from the configuration cache,
// routes each request to the poller that owns the item's host, and
// records the results in the history store.
//
// # Pollers
//
// Pollers connect to the manager's Unix socket and register with their
// parent process id. Only processes started by the same parent as the
// manager (the treegix-ipmi-daemon) are accepted. Each accepted poller
// takes the next free pool slot. A poller has at most one request in
// flight because a BMC session cannot be driven concurrently; further
// requests wait in the poller's queue, commands ahead of value polls.
//
// # Host affinity
//
// The first request for a host assigns it to the poller with the fewest
// hosts. Every later request for that host goes to the same poller
// until the host has been idle for the configured TTL, at which point
// the hourly cleanup forgets the assignment and tells every poller to
// close its idle sessions.
//
// # Back-pressure
//
// A value poll for a host that is cooling down after a network-level
// failure is never sent. The item goes straight back to the schedule
// and comes due again once the cool-down ends. Commands are always
// sent.
//
// # Commands
//
// Any local client may send a ScriptRequest. The manager forwards it
// to the host's poller as a CommandRequest and relays the poller's
// CommandResult back as a ScriptResult, provided the client is still
// connected by then.
package main
