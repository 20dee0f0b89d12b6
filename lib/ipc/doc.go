// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc defines the messages exchanged between the IPMI manager,
// its pollers, and script clients over the manager's Unix socket.
//
// Every message is a [Message]: a numeric [Code] plus an opaque payload.
// Messages are written back to back on the connection as CBOR data
// items; CBOR is self-delimiting, so no extra framing is needed. The
// payload is itself the CBOR encoding of a fixed positional array whose
// layout is determined by the code:
//
//	Register        poller → manager   parent pid
//	ValueRequest    manager → poller   object id, address, port, auth type,
//	                                   privilege, username, password,
//	                                   sensor, operation
//	ValueResult     poller → manager   seconds, nanoseconds, error code, value
//	CommandRequest  manager → poller   object id, address, port, auth type,
//	                                   privilege, username, password,
//	                                   control, value
//	CommandResult   poller → manager   as ValueResult
//	CleanupRequest  manager → poller   (empty)
//	ScriptRequest   client → manager   host id, embedded CommandRequest
//	ScriptResult    manager → client   as CommandResult
//
// Manager and pollers are built together, so there is no version
// negotiation. Decoding is strict: a payload with the wrong number of
// elements, an element of the wrong type, an integer out of range, or
// trailing bytes is rejected with a [*DecodeError].
package ipc
