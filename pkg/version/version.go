// Package version exposes build identification injected via ldflags.
package version

import "runtime"

// Set at build time with -ldflags "-X ...".
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GoVersion = runtime.Version()
)
