// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// DebugEnvVar enables debug logging in every IPMI process when set to a
// non-empty value other than "0".
const DebugEnvVar = "TREEGIX_DEBUG"

// NewLogger returns a JSON logger on stderr tagged with the process
// name and pid, and installs it as the slog default.
func NewLogger(name string) *slog.Logger {
	logger := newLogger(os.Stderr, name, debugEnabled(os.Getenv(DebugEnvVar)))
	slog.SetDefault(logger)
	installed.Store(logger)
	return logger
}

func newLogger(output io.Writer, name string, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("process", name, "pid", os.Getpid())
}

func debugEnabled(value string) bool {
	value = strings.TrimSpace(value)
	return value != "" && value != "0"
}
