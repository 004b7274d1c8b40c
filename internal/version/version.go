// Package version carries build identification set by the linker.
package version

import "fmt"

// Stamped via -ldflags at release time; the defaults mark a development
// build.
var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// String renders the build identification for startup logs.
func String() string {
	return fmt.Sprintf("%s (%s, built %s)", Version, GitSHA, BuildTime)
}
