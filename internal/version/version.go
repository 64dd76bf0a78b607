package version

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

var (
	// Version is the semantic version of the build. It can be overridden via ldflags.
	Version = "dev"
	// Commit is the short git SHA embedded at build time (or "none").
	Commit = "none"
	// BuildTime is the UTC build timestamp embedded at build time.
	BuildTime = "unknown"
)

// Short returns only the semantic version string.
func Short() string {
	return Version
}

// Full returns a human-readable version string with commit and build time.
func Full() string {
	return fmt.Sprintf("version: %s, commit: %s, built at: %s", Version, Commit, BuildTime)
}

// Canonical returns v with a leading "v", as golang.org/x/mod/semver expects.
func Canonical(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || strings.HasPrefix(v, "v") {
		return v
	}

	return "v" + v
}

// IsRelease reports whether the running binary carries a real semantic version.
// Local builds ("dev") never self-update.
func IsRelease() bool {
	return semver.IsValid(Canonical(Version))
}

// UserAgent is sent with every outgoing HTTP request.
func UserAgent() string {
	return "xlm/" + Version
}
