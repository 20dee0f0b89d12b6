// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Treegix-ipmi-poller performs IPMI operations for the manager. The
// daemon starts a fixed number of pollers; each connects to the
// manager's socket, registers with its parent process id and then
// serves one request at a time: sensor reads, control writes and
// cleanup broadcasts.
//
// Between requests the poller pumps the hardware library so that
// asynchronous library work (session keepalives, discovery) keeps
// moving while no request is pending. BMC sessions are cached per
// target and closed once unused for the configured idle limit.
//
// Without a hardware library every operation fails with a
// configuration error. Setting simulator.fixtures in the configuration
// runs the poller against simulated controllers instead.
package main
