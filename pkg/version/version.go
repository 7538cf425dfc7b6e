// Package version carries build metadata stamped in by -ldflags. Nothing
// else in this module imports it.
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the tradecore kernel version.
	Version = "0.1.0"

	// GitCommit is the commit the binary was built from.
	GitCommit = "unknown"

	// BuildTime is when the binary was built.
	BuildTime = "unknown"

	// GoVersion is the toolchain used to build the binary.
	GoVersion = runtime.Version()
)

// FullVersion renders version, commit, build time, and Go toolchain in one line for startup logs.
func FullVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s, %s)", Version, GitCommit, BuildTime, GoVersion)
}

// Actor returns an actor label for the process itself ("tradecored/"
// followed by Version); no outbox event metadata is stamped with it.
func Actor() string {
	return fmt.Sprintf("tradecored/%s", Version)
}
