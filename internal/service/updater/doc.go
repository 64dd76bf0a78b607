// Package updater replaces the running xlm executable with a newer published release.
//
// MaybeSelfUpdate compares the embedded version with the latest release of the
// xlm repository using semantic version ordering, downloads the matching
// binary (raw or inside a .tar.gz) and swaps it in place with go-update.
// Failures are reported in the Result and never stop a launch.
package updater
