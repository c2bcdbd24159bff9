package version

import "fmt"

var (
	// Version is the semantic version of the binary. Overridden at build time.
	Version = "dev"
	// Commit is the git commit hash. Overridden at build time.
	Commit = "unknown"
	// BuildDate is the build timestamp. Overridden at build time.
	BuildDate = "unknown"
)

// String returns the single-line build identifier logged at startup.
func String() string {
	return fmt.Sprintf("%s (%s, built %s)", Version, Commit, BuildDate)
}
