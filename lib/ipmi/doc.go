// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipmi holds the vocabulary shared by the IPMI manager, its
// pollers and script clients: the error taxonomy reported by a hardware
// operation, item states, the script command grammar ("<control>
// [on|off|<n>]"), sensor name prefixes, and user-macro expansion of
// interface ports.
//
// Nothing in this package performs I/O.
package ipmi
