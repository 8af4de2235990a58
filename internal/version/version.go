// Package version exposes the build version stamped into release binaries.
package version

import "strings"

// Set at build time via -ldflags "-X .../internal/version.version=v1.2.3".
var version = "dev"

// String returns the build version for the current binary.
func String() string {
	return version
}

// Display returns a user-facing form: released versions get a "v" prefix,
// special values like "dev" pass through unchanged.
func Display() string {
	v := version
	if v == "" || v == "dev" {
		return v
	}
	if !strings.HasPrefix(v, "v") {
		return "v" + v
	}
	return v
}
