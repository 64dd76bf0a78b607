//go:build !linux

package installer

func exchangeDirs(_, _ string) error {
	return errExchangeUnsupported
}
