// Package version provides the version string for the uLogger upload client.
package version

import "strings"

// Version is the current release version.
// This is a var (not const) so ldflags -X can override it at build time.
var Version = "dev"

// String returns the version with a single 'v' prefix for display.
// Handles git-tag versions that already carry the prefix as well as
// bare dev builds.
func String() string {
	v := strings.TrimPrefix(Version, "v")
	return "v" + v
}
