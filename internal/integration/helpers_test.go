package integration

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/xlm/internal/config"
	"github.com/oshokin/xlm/internal/service/common"
	"github.com/oshokin/xlm/internal/service/guard"
	"github.com/oshokin/xlm/internal/service/launch"
)

// buildArchive returns a tar.gz holding executable files.
func buildArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer

	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for name, contents := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o755,
			Size:     int64(len(contents)),
			Typeflag: tar.TypeReg,
		}))

		_, err := tw.Write([]byte(contents))
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	return buf.Bytes()
}

func skipWithoutShell(t *testing.T) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("runtime stubs are shell scripts")
	}
}

// launchOptions builds options against apiURL with self-updates off and a short guard grace.
func launchOptions(installDir, apiURL, logPath string) *launch.Options {
	cfg := config.Default()
	cfg.InstallDirectory = installDir
	cfg.AriaDownloadURL = ""
	cfg.SelfUpdate.Enabled = false

	return &launch.Options{
		Config: cfg,
		Environ: []string{
			"PATH=" + os.Getenv("PATH"),
			"XLM_TEST_LOG=" + logPath,
		},
		Stdout:        &bytes.Buffer{},
		Stderr:        &bytes.Buffer{},
		ClientOptions: []common.Option{common.WithBaseURL(apiURL)},
		GuardOptions:  []guard.Option{guard.WithGraceDelay(20 * time.Millisecond)},
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()

	contents, err := os.ReadFile(filepath.Clean(path))
	if os.IsNotExist(err) {
		return nil
	}

	require.NoError(t, err)

	return strings.Split(strings.TrimSpace(string(contents)), "\n")
}
