package xlcore

import "path/filepath"

// File and directory names inside an install directory.
const (
	RecordFilename     = "versiondata"
	LockFilename       = "xlm.lock"
	RuntimeDirname     = "runtime"
	PreviousDirname    = "runtime.previous"
	StagingPattern     = ".staging-*"
	ExecutableFilename = "XIVLauncher.Core"
)

// Layout resolves well-known paths under an install directory.
// Only RuntimeDir is ever swapped by an update.
type Layout struct {
	// Root is the install directory itself.
	Root string
}

// NewLayout returns the layout rooted at dir.
func NewLayout(dir string) Layout {
	return Layout{Root: filepath.Clean(dir)}
}

// RuntimeDir is the live extracted runtime tree.
func (l Layout) RuntimeDir() string {
	return filepath.Join(l.Root, RuntimeDirname)
}

// PreviousDir keeps the runtime tree replaced by the last update.
func (l Layout) PreviousDir() string {
	return filepath.Join(l.Root, PreviousDirname)
}

// RecordFile is the persisted install record.
func (l Layout) RecordFile() string {
	return filepath.Join(l.Root, RecordFilename)
}

// LockFile is the launch guard marker.
func (l Layout) LockFile() string {
	return filepath.Join(l.Root, LockFilename)
}

// HooksDir is the directory holding hooks named "<phase>.d".
func (l Layout) HooksDir(phaseDir string) string {
	return filepath.Join(l.Root, phaseDir)
}

// Executable is the runtime binary inside the tree at installPath.
func Executable(installPath string) string {
	return filepath.Join(installPath, ExecutableFilename)
}
