// Package version provides build-time version information.
//
// Variables are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/rickgao/marketfeed/internal/version.Version=0.3.0 \
//	                   -X github.com/rickgao/marketfeed/internal/version.Commit=$(git rev-parse --short HEAD)" \
//	         ./cmd/marketfeed
package version

// Build-time variables (set via ldflags)
var (
	// Version is the semantic version (e.g., "0.3.0")
	Version = "dev"

	// Commit is the git commit hash (short form)
	Commit = "unknown"

	// BuildTime is the UTC build timestamp (ISO 8601)
	BuildTime = "unknown"
)

// String returns a formatted version string, e.g. "dev (unknown)".
func String() string {
	if BuildTime == "unknown" {
		return Version + " (" + Commit + ")"
	}
	return Version + " (" + Commit + ") built " + BuildTime
}
