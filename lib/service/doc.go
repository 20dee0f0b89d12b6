// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service is the local IPC transport between the IPMI manager,
// its pollers and script clients.
//
// The manager owns a [Service]: a Unix socket listener that accepts any
// number of connections and funnels every message they send into a
// single event channel, read with [Service.Recv]. Each accepted
// connection is represented by a [*Client], which the owner uses to
// reply and which can outlive the message that introduced it (a script
// client waiting for a command result). Whether the remote end is still
// there is reported by [Client.Connected].
//
// Pollers and script clients use [Dial] to get a [*Conn]: an
// asynchronous socket with a bounded [Conn.Recv].
//
// Messages on the wire are [ipc.Message] values encoded back to back as
// CBOR data items.
package service
