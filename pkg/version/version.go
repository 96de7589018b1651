// Package version provides build version information for planforge.
// These variables are set at build time via ldflags.
package version

import (
	commonversion "github.com/prometheus/common/version"
)

// Build information variables.
// Example: go build -ldflags "-X planforge/pkg/version.Version=v1.2.3".
//
//nolint:gochecknoglobals // These must be package-level vars for ldflags injection.
var (
	// Version is the semantic version (e.g., "v1.2.3" or "dev" for development builds).
	Version = "dev"

	// Commit is the git commit SHA of the build.
	Commit = "none"

	// Date is the build date in ISO format.
	Date = "unknown"
)

// Program is the binary name reported in version output and build_info metrics.
const Program = "planforge"

//nolint:gochecknoinits // mirrors ldflags values into the Prometheus build info
func init() {
	commonversion.Version = Version
	commonversion.Revision = Commit
	commonversion.BuildDate = Date
}

// Print returns the multi-line version banner.
func Print() string {
	return commonversion.Print(Program)
}

// Info returns a one-line version summary for logs.
func Info() string {
	return commonversion.Info()
}
