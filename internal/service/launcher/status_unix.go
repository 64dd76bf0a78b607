//go:build unix

package launcher

import (
	"os"
	"syscall"
)

// exitStatus maps a signal death to the shell convention 128+signal.
func exitStatus(state *os.ProcessState) int {
	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}

	return state.ExitCode()
}
