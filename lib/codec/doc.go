// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the shared CBOR encoding configuration for
// every internal wire format: manager↔poller IPC messages, script
// requests, and their payloads.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same logical message always produces identical bytes. Two decoders
// are provided:
//
//   - Unmarshal / NewDecoder accept standard CBOR and ignore unknown
//     map keys. Use them for envelopes and configuration-like data.
//   - UnmarshalStrict rejects unknown fields, duplicate map keys and
//     trailing bytes. IPC payloads are positional (the `toarray` struct
//     option), and a payload whose element count or element types do
//     not match the target struct is a hard error rather than a
//     best-effort partial decode.
//
// For stream-oriented operations (sockets):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Payload structs carry `cbor:",toarray"` so field order is the wire
// contract. Reordering fields in such a struct is a protocol change.
package codec
