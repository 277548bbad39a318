// Package version carries build metadata stamped in at link time via
// -ldflags "-X"; the defaults identify a local, untagged build.
package version

import "runtime"

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// GoVersion reports the toolchain the binary was built with.
func GoVersion() string { return runtime.Version() }
