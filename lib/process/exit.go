// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// installed is the logger NewLogger set up, if it has run.
var installed atomic.Pointer[slog.Logger]

// Fatal reports err and exits with status 1. After NewLogger the error
// is written as a structured record so the daemon's collected output
// stays JSON; before it, as a plain "error: ..." line.
func Fatal(err error) {
	report(os.Stderr, installed.Load(), err)
	os.Exit(1)
}

func report(plain io.Writer, logger *slog.Logger, err error) {
	if logger != nil {
		logger.Error("exiting", "error", err)
		return
	}
	fmt.Fprintf(plain, "error: %v\n", err)
}
