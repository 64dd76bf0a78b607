// Package installer downloads a runtime release and installs it atomically.
//
// Everything is staged inside a hidden workspace in the install directory so
// the final swap is a pair of renames on one filesystem. Any failure before
// the swap discards the workspace and leaves the live runtime, its record and
// the rest of the install directory exactly as they were.
package installer
