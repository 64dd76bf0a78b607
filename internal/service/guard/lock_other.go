//go:build !unix

package guard

import "os"

const flockSupported = false

func lockExclusive(*os.File) error {
	return errLockUnsupported
}

func unlock(*os.File) {}
