package updater

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/xlm/internal/service/common"
)

type fakeClient struct {
	release   *common.Release
	err       error
	files     map[string][]byte
	downloads int
}

func (c *fakeClient) LatestRelease(context.Context, string, string) (*common.Release, error) {
	return c.release, c.err
}

func (c *fakeClient) Download(_ context.Context, url string) (io.ReadCloser, int64, error) {
	c.downloads++

	data, ok := c.files[url]
	if !ok {
		return nil, 0, errors.New("not found")
	}

	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func digestOf(data []byte) string {
	sum := sha256.Sum256(data)

	return "sha256:" + hex.EncodeToString(sum[:])
}

func tarGz(t *testing.T, name string, body []byte) []byte {
	t.Helper()

	var buf bytes.Buffer

	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o755, Size: int64(len(body)), Typeflag: tar.TypeReg}))
	_, err := tw.Write(body)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	return buf.Bytes()
}

func newTarget(t *testing.T) string {
	t.Helper()

	target := filepath.Join(t.TempDir(), "xlm")
	require.NoError(t, os.WriteFile(target, []byte("old binary"), 0o755))

	return target
}

func newUpdater(client ReleaseClient, target, current string) *Updater {
	u := New(client,
		WithRepo("Blooym", "xlm"),
		WithCurrentVersion(current),
		WithExecutablePath(target),
	)
	u.goos = "linux"
	u.goarch = "amd64"

	return u
}

func TestMaybeSelfUpdate_Skips(t *testing.T) {
	t.Parallel()

	client := &fakeClient{release: &common.Release{TagName: "v1.2.0"}}
	target := newTarget(t)

	result := newUpdater(client, target, "1.2.0").MaybeSelfUpdate(context.Background(), false)
	require.Equal(t, StatusSkipped, result.Status)
	require.Equal(t, "disabled", result.Reason)

	result = newUpdater(client, target, "dev").MaybeSelfUpdate(context.Background(), true)
	require.Equal(t, StatusSkipped, result.Status)
	require.Equal(t, "development build", result.Reason)

	for _, current := range []string{"1.2.0", "v1.2.0", "1.3.0"} {
		result = newUpdater(client, target, current).MaybeSelfUpdate(context.Background(), true)
		require.Equal(t, StatusSkipped, result.Status, current)
	}

	require.Zero(t, client.downloads)

	contents, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "old binary", string(contents))
}

func TestMaybeSelfUpdate_RawBinary(t *testing.T) {
	t.Parallel()

	binary := []byte("new binary")
	client := &fakeClient{
		release: &common.Release{
			TagName: "v1.3.0",
			Assets: []common.Asset{
				{Name: "xlm-linux-amd64", BrowserDownloadURL: "raw", Digest: digestOf(binary)},
				{Name: "xlm", BrowserDownloadURL: "fallback"},
			},
		},
		files: map[string][]byte{"raw": binary},
	}
	target := newTarget(t)

	result := newUpdater(client, target, "1.2.0").MaybeSelfUpdate(context.Background(), true)
	require.Equal(t, StatusUpdated, result.Status, result.Err)
	require.Equal(t, "1.3.0", result.Version)

	contents, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, binary, contents)
}

func TestMaybeSelfUpdate_TarGzWithTargetTriple(t *testing.T) {
	t.Parallel()

	binary := []byte("new binary from archive")
	archive := tarGz(t, "xlm-x86_64-unknown-linux-gnu/xlm", binary)
	client := &fakeClient{
		release: &common.Release{
			TagName: "1.3.0",
			Assets: []common.Asset{
				{Name: "xlm-x86_64-unknown-linux-gnu.tar.gz", BrowserDownloadURL: "archive", Digest: digestOf(archive)},
			},
		},
		files: map[string][]byte{"archive": archive},
	}
	target := newTarget(t)

	result := newUpdater(client, target, "1.2.0").MaybeSelfUpdate(context.Background(), true)
	require.Equal(t, StatusUpdated, result.Status, result.Err)

	contents, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, binary, contents)
}

func TestMaybeSelfUpdate_Failures(t *testing.T) {
	t.Parallel()

	binary := []byte("new binary")

	testCases := map[string]*fakeClient{
		"query error": {err: errors.New("offline")},
		"bad tag":     {release: &common.Release{TagName: "latest"}},
		"no asset": {release: &common.Release{
			TagName: "v1.3.0",
			Assets:  []common.Asset{{Name: "xlm-windows-amd64.exe", BrowserDownloadURL: "raw"}},
		}},
		"checksum mismatch": {
			release: &common.Release{
				TagName: "v1.3.0",
				Assets:  []common.Asset{{Name: "xlm", BrowserDownloadURL: "raw", Digest: digestOf([]byte("other"))}},
			},
			files: map[string][]byte{"raw": binary},
		},
		"archive without binary": {
			release: &common.Release{
				TagName: "v1.3.0",
				Assets:  []common.Asset{{Name: "xlm_linux_amd64.tar.gz", BrowserDownloadURL: "archive"}},
			},
			files: map[string][]byte{"archive": tarGz(t, "README.md", []byte("docs"))},
		},
		"download error": {release: &common.Release{
			TagName: "v1.3.0",
			Assets:  []common.Asset{{Name: "xlm", BrowserDownloadURL: "missing"}},
		}},
	}

	for name, client := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			target := newTarget(t)

			result := newUpdater(client, target, "1.2.0").MaybeSelfUpdate(context.Background(), true)
			require.Equal(t, StatusFailed, result.Status)
			require.Error(t, result.Err)
			require.Equal(t, "1.2.0", result.Version)

			contents, err := os.ReadFile(target)
			require.NoError(t, err)
			require.Equal(t, "old binary", string(contents))
		})
	}
}

func TestAssetCandidates(t *testing.T) {
	t.Parallel()

	u := New(nil)
	u.goos = "linux"
	u.goarch = "arm64"

	require.Equal(t, []string{
		"xlm_linux_arm64.tar.gz",
		"xlm-linux-arm64",
		"xlm-aarch64-unknown-linux-gnu.tar.gz",
		"xlm-aarch64-unknown-linux-gnu",
		"xlm",
	}, u.assetCandidates())

	u.goos = "darwin"
	require.Len(t, u.assetCandidates(), 3)
}
