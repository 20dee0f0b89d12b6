// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint helpers shared by the IPMI
// binaries: the structured logger every process starts with, and the
// fatal-error exit used in main() when run() fails, possibly before the
// logger exists.
package process
