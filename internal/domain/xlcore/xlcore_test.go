package xlcore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestRecordClone verifies that Clone returns a copy and handles nil safely.
func TestRecordClone(t *testing.T) {
	t.Parallel()
	require.Nil(t, (*Record)(nil).Clone())

	r := &Record{
		InstalledVersion: "1.1.0.9",
		InstallPath:      "/home/o.shokin/.local/share/xlcore/runtime",
	}

	c := r.Clone()
	require.Equal(t, r, c)
	require.NotSame(t, r, c)
}

func TestParseSecretsProvider(t *testing.T) {
	t.Parallel()

	p, err := ParseSecretsProvider("")
	require.NoError(t, err)
	require.Equal(t, SecretsProviderSystem, p)

	p, err = ParseSecretsProvider(" FILE ")
	require.NoError(t, err)
	require.Equal(t, SecretsProviderFile, p)

	_, err = ParseSecretsProvider("kwallet")
	require.ErrorIs(t, err, ErrUnknownSecretsProvider)
}

func TestLayout(t *testing.T) {
	t.Parallel()

	l := NewLayout("/data/xlcore/")
	require.Equal(t, filepath.FromSlash("/data/xlcore/runtime"), l.RuntimeDir())
	require.Equal(t, filepath.FromSlash("/data/xlcore/runtime.previous"), l.PreviousDir())
	require.Equal(t, filepath.FromSlash("/data/xlcore/versiondata"), l.RecordFile())
	require.Equal(t, filepath.FromSlash("/data/xlcore/xlm.lock"), l.LockFile())
	require.Equal(t, filepath.FromSlash("/data/xlcore/prelaunch.d"), l.HooksDir("prelaunch.d"))
	require.Equal(t, filepath.FromSlash("/data/xlcore/runtime/XIVLauncher.Core"), Executable(l.RuntimeDir()))
}
