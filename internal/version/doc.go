// Package version exposes build metadata for xlm.
//
// Variables Version, Commit, and BuildTime are injected at build time via
// Go ldflags. Local builds report "dev", which also disables self-updates.
package version
