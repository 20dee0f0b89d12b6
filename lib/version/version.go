// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"
)

// Set with -ldflags -X at build time.
var (
	GitCommit = "unknown"
	GitDirty  = "false"
	BuildTime = "unknown"
	Version   = "0.1.0-dev"
)

// shortCommit is the length a revision is abbreviated to.
const shortCommit = 7

// Info returns "<version> (<commit>[-dirty], <build time>)". Without
// -ldflags the commit and dirty flag come from the VCS stamp the Go
// toolchain embeds in the binary, when there is one.
func Info() string {
	commit, dirty, built := GitCommit, GitDirty == "true", BuildTime
	if commit == "unknown" {
		if info, ok := debug.ReadBuildInfo(); ok {
			commit, dirty, built = fromBuildSettings(info.Settings, commit, dirty, built)
		}
	}
	if dirty {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s (%s, %s)", Version, commit, built)
}

func fromBuildSettings(settings []debug.BuildSetting, commit string, dirty bool, built string) (string, bool, string) {
	for _, setting := range settings {
		switch setting.Key {
		case "vcs.revision":
			commit = setting.Value
			if len(commit) > shortCommit {
				commit = commit[:shortCommit]
			}
		case "vcs.modified":
			dirty = setting.Value == "true"
		case "vcs.time":
			built = setting.Value
		}
	}
	return commit, dirty, built
}

// Print writes the --version output for binary to stdout.
func Print(binary string) {
	fprint(os.Stdout, binary)
}

func fprint(w io.Writer, binary string) {
	fmt.Fprintf(w, "%s %s\n  Go: %s\n  Platform: %s/%s\n",
		binary, Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
