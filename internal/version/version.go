// Package version carries build metadata injected through -ldflags.
package version

import "fmt"

// Overridden at build time with -X pumpguard/internal/version.<Name>=...
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String renders the build metadata on one line.
func String() string {
	return fmt.Sprintf("pumpguard %s (commit %s, built %s)", Version, Commit, BuildDate)
}
