//go:build linux

package installer

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// exchangeDirs atomically swaps two existing paths with renameat2(RENAME_EXCHANGE).
func exchangeDirs(oldPath, newPath string) error {
	err := unix.Renameat2(unix.AT_FDCWD, oldPath, unix.AT_FDCWD, newPath, unix.RENAME_EXCHANGE)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.ENOSYS), errors.Is(err, unix.EINVAL),
		errors.Is(err, unix.ENOTSUP), errors.Is(err, unix.EOPNOTSUPP), errors.Is(err, unix.EXDEV):
		return fmt.Errorf("%w: %w", errExchangeUnsupported, err)
	default:
		return err
	}
}
