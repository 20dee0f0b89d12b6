// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the YAML configuration shared by the IPMI daemon,
// manager, pollers and script client.
//
// Configuration comes from a single file named by the TREEGIX_CONFIG
// environment variable (via [Load]) or a --config flag (via
// [LoadFile]). There is no search path and environment variables do
// not override individual values.
//
// The file may contain development and production sections that
// override base values when [Config].Environment matches. Durations are
// written the way time.ParseDuration reads them ("1s", "3h", "24h").
//
// After loading, ${HOME}, ${TREEGIX_ROOT} and ${VAR:-default} patterns
// in path fields are expanded.
package config
