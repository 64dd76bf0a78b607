package launch

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/xlm/internal/config"
	"github.com/oshokin/xlm/internal/domain/xlcore"
	"github.com/oshokin/xlm/internal/repository/record"
	"github.com/oshokin/xlm/internal/service/common"
	"github.com/oshokin/xlm/internal/service/guard"
	"github.com/oshokin/xlm/internal/service/updater"
)

// runtimeScript records every spawn and exits with the status found in $XLM_TEST_EXIT.
const runtimeScript = `#!/bin/sh
echo "spawn FOO=$FOO SCT=$XL_SCT" >> "$XLM_TEST_SPAWNS"
exit "${XLM_TEST_EXIT:-0}"
`

type releaseServer struct {
	*httptest.Server

	mu      sync.Mutex
	tag     string
	archive []byte

	latestCalls     atomic.Int32
	downloads       atomic.Int32
	selfUpdateCalls atomic.Int32
}

func newReleaseServer(t *testing.T, tag string, archive []byte) *releaseServer {
	t.Helper()

	srv := &releaseServer{tag: tag, archive: archive}

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/goatcorp/XIVLauncher.Core/releases/latest", func(w http.ResponseWriter, _ *http.Request) {
		srv.latestCalls.Add(1)

		srv.mu.Lock()
		tag, size := srv.tag, len(srv.archive)
		srv.mu.Unlock()

		if tag == "" {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)

			return
		}

		assert.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"tag_name": tag,
			"assets": []map[string]any{{
				"name":                 config.DefaultReleaseAsset,
				"browser_download_url": srv.URL + "/download/" + tag + "/" + config.DefaultReleaseAsset,
				"size":                 size,
			}},
		}))
	})
	mux.HandleFunc("/repos/Blooym/xlm/releases/latest", func(w http.ResponseWriter, _ *http.Request) {
		srv.selfUpdateCalls.Add(1)
		http.Error(w, "broken", http.StatusInternalServerError)
	})
	mux.HandleFunc("/download/", func(w http.ResponseWriter, _ *http.Request) {
		srv.downloads.Add(1)

		srv.mu.Lock()
		archive := srv.archive
		srv.mu.Unlock()

		_, err := w.Write(archive)
		assert.NoError(t, err)
	})

	srv.Server = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

func (s *releaseServer) publish(tag string, archive []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tag = tag
	s.archive = archive
}

func runtimeArchive(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer

	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     xlcore.ExecutableFilename,
		Mode:     0o755,
		Size:     int64(len(runtimeScript)),
		Typeflag: tar.TypeReg,
	}))

	_, err := tw.Write([]byte(runtimeScript))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	return buf.Bytes()
}

type fixture struct {
	installDir string
	spawnLog   string
	server     *releaseServer
}

func newFixture(t *testing.T, tag string) *fixture {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("the runtime stub is a shell script")
	}

	return &fixture{
		installDir: t.TempDir(),
		spawnLog:   filepath.Join(t.TempDir(), "spawns.log"),
		server:     newReleaseServer(t, tag, runtimeArchive(t)),
	}
}

func (f *fixture) options(exitCode string) *Options {
	cfg := config.Default()
	cfg.InstallDirectory = f.installDir
	cfg.AriaDownloadURL = ""
	cfg.SelfUpdate.Enabled = false
	cfg.ExtraEnvVars = map[string]string{"FOO": "caller"}

	return &Options{
		Config: cfg,
		Environ: []string{
			"PATH=" + os.Getenv("PATH"),
			"FOO=inherited",
			"XLM_TEST_SPAWNS=" + f.spawnLog,
			"XLM_TEST_EXIT=" + exitCode,
		},
		Stdout:        &bytes.Buffer{},
		Stderr:        &bytes.Buffer{},
		ClientOptions: []common.Option{common.WithBaseURL(f.server.URL)},
		GuardOptions:  []guard.Option{guard.WithGraceDelay(10 * time.Millisecond)},
	}
}

func (f *fixture) spawns(t *testing.T) []string {
	t.Helper()

	contents, err := os.ReadFile(f.spawnLog)
	if os.IsNotExist(err) {
		return nil
	}

	require.NoError(t, err)

	return strings.Split(strings.TrimSpace(string(contents)), "\n")
}

func (f *fixture) record(t *testing.T) *xlcore.Record {
	t.Helper()

	installed, err := record.NewFileRepository(f.installDir).Load(context.Background())
	require.NoError(t, err)

	return installed
}

// TestRun_FirstRunInstallsOnceAndSpawnsOnce covers a fresh install directory.
func TestRun_FirstRunInstallsOnceAndSpawnsOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "1.1.0.0")

	status, err := Run(context.Background(), f.options("3"))
	require.NoError(t, err)
	require.Equal(t, 3, status)

	require.EqualValues(t, 1, f.server.downloads.Load())
	require.Equal(t, []string{"spawn FOO=caller SCT=1"}, f.spawns(t))

	installed := f.record(t)
	require.Equal(t, "1.1.0.0", installed.InstalledVersion)
	require.Equal(t, xlcore.NewLayout(f.installDir).RuntimeDir(), installed.InstallPath)
	require.FileExists(t, xlcore.Executable(installed.InstallPath))

	// The lock is gone once the invocation finished.
	require.NoFileExists(t, xlcore.NewLayout(f.installDir).LockFile())
}

func TestRun_NoNewReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "1.1.0.0")

	_, err := Run(context.Background(), f.options("0"))
	require.NoError(t, err)

	before := f.record(t)

	status, err := Run(context.Background(), f.options("0"))
	require.NoError(t, err)
	require.Zero(t, status)

	require.EqualValues(t, 1, f.server.downloads.Load())
	require.EqualValues(t, 2, f.server.latestCalls.Load())
	require.Len(t, f.spawns(t), 2)
	require.Equal(t, before, f.record(t))
	require.NoDirExists(t, xlcore.NewLayout(f.installDir).PreviousDir())
}

func TestRun_NewReleaseIsInstalled(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "1.1.0.0")

	_, err := Run(context.Background(), f.options("0"))
	require.NoError(t, err)

	f.server.publish("1.1.0.1", runtimeArchive(t))

	_, err = Run(context.Background(), f.options("0"))
	require.NoError(t, err)

	require.EqualValues(t, 2, f.server.downloads.Load())
	require.Equal(t, "1.1.0.1", f.record(t).InstalledVersion)
	require.DirExists(t, xlcore.NewLayout(f.installDir).PreviousDir())
}

func TestRun_FailedUpdateFallsBackToInstalledRuntime(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "1.1.0.0")

	_, err := Run(context.Background(), f.options("0"))
	require.NoError(t, err)

	f.server.publish("1.1.0.1", []byte("not an archive"))

	status, err := Run(context.Background(), f.options("5"))
	require.NoError(t, err)
	require.Equal(t, 5, status)

	require.Equal(t, "1.1.0.0", f.record(t).InstalledVersion)
	require.Len(t, f.spawns(t), 2)
}

func TestRun_UnknownVersionUsesInstalledRuntime(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "1.1.0.0")

	_, err := Run(context.Background(), f.options("0"))
	require.NoError(t, err)

	f.server.publish("", nil)

	status, err := Run(context.Background(), f.options("0"))
	require.NoError(t, err)
	require.Zero(t, status)
	require.Len(t, f.spawns(t), 2)
}

// TestRun_RecoversFromInterruptedSwap launches the runtime a crashed swap left in a staging
// workspace even when no release can be resolved, and sweeps the leftovers.
func TestRun_RecoversFromInterruptedSwap(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "1.1.0.0")

	_, err := Run(context.Background(), f.options("0"))
	require.NoError(t, err)

	layout := xlcore.NewLayout(f.installDir)
	crashed := filepath.Join(f.installDir, ".staging-crash")
	stale := filepath.Join(f.installDir, ".staging-old")

	require.NoError(t, os.Mkdir(crashed, 0o755))
	require.NoError(t, os.Rename(layout.RuntimeDir(), filepath.Join(crashed, "displaced")))
	require.NoError(t, os.Mkdir(stale, 0o755))

	f.server.publish("", nil)

	status, err := Run(context.Background(), f.options("0"))
	require.NoError(t, err)
	require.Zero(t, status)
	require.Len(t, f.spawns(t), 2)

	require.FileExists(t, xlcore.Executable(layout.RuntimeDir()))
	require.Equal(t, "1.1.0.0", f.record(t).InstalledVersion)

	leftovers, err := filepath.Glob(filepath.Join(f.installDir, xlcore.StagingPattern))
	require.NoError(t, err)
	require.Empty(t, leftovers)
}

func TestRun_NothingInstalledAndNoReleaseIsFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")

	status, err := Run(context.Background(), f.options("0"))
	require.ErrorIs(t, err, ErrNoRuntime)
	require.Equal(t, ExitCodeInternal, status)
	require.Empty(t, f.spawns(t))
}

func TestRun_FirstInstallFailureIsFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "1.1.0.0")
	f.server.publish("1.1.0.0", []byte("not an archive"))

	status, err := Run(context.Background(), f.options("0"))
	require.ErrorIs(t, err, ErrNoRuntime)
	require.Equal(t, ExitCodeInternal, status)
	require.Empty(t, f.spawns(t))
	require.NoDirExists(t, xlcore.NewLayout(f.installDir).RuntimeDir())
}

func TestRun_SkipUpdateWithInstalledRuntime(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "1.1.0.0")

	_, err := Run(context.Background(), f.options("0"))
	require.NoError(t, err)

	opts := f.options("0")
	opts.Config.SkipUpdate = true

	_, err = Run(context.Background(), opts)
	require.NoError(t, err)

	require.EqualValues(t, 1, f.server.latestCalls.Load())
	require.Len(t, f.spawns(t), 2)
}

func TestRun_CorruptRecordTriggersReinstall(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "1.1.0.0")

	_, err := Run(context.Background(), f.options("0"))
	require.NoError(t, err)

	layout := xlcore.NewLayout(f.installDir)
	require.NoError(t, os.WriteFile(layout.RecordFile(), []byte("version: [\n"), 0o600))

	_, err = Run(context.Background(), f.options("0"))
	require.NoError(t, err)

	require.EqualValues(t, 2, f.server.downloads.Load())
	require.Equal(t, "1.1.0.0", f.record(t).InstalledVersion)
}

func TestRun_SelfUpdateFailureKeepsExitCode(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "1.1.0.0")

	opts := f.options("4")
	opts.Config.SelfUpdate.Enabled = true
	opts.UpdaterOptions = []updater.Option{
		updater.WithCurrentVersion("0.1.0"),
		updater.WithExecutablePath(filepath.Join(t.TempDir(), "xlm")),
	}

	status, err := Run(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, 4, status)
	require.EqualValues(t, 1, f.server.selfUpdateCalls.Load())
}

func TestRun_HooksSurroundTheRuntime(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "1.1.0.0")
	layout := xlcore.NewLayout(f.installDir)

	for _, dir := range []string{"prelaunch.d", "postlaunch.d"} {
		hookDir := layout.HooksDir(dir)
		require.NoError(t, os.MkdirAll(hookDir, 0o755))

		script := "#!/bin/sh\necho \"" + dir + " FOO=$FOO\" >> \"$XLM_TEST_SPAWNS\"\nexit 1\n"
		require.NoError(t, os.WriteFile(filepath.Join(hookDir, "10-log"), []byte(script), 0o755))
	}

	status, err := Run(context.Background(), f.options("0"))
	require.NoError(t, err)
	require.Zero(t, status)

	require.Equal(t, []string{
		"prelaunch.d FOO=caller",
		"spawn FOO=caller SCT=1",
		"postlaunch.d FOO=caller",
	}, f.spawns(t))
}

func TestRun_RejectedWhileAnotherInvocationRuns(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "1.1.0.0")

	handle, err := guard.New().Admit(context.Background(), f.installDir)
	require.NoError(t, err)

	t.Cleanup(func() { _ = handle.Release() })

	status, err := Run(context.Background(), f.options("0"))
	require.ErrorIs(t, err, guard.ErrAlreadyRunning)
	require.Equal(t, ExitCodeInternal, status)

	require.Zero(t, f.server.latestCalls.Load())
	require.Empty(t, f.spawns(t))
	require.NoFileExists(t, layoutRecord(f.installDir))
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.InstallDirectory = t.TempDir()
	cfg.CustomReleaseURL = "ftp://example.com"

	status, err := Run(context.Background(), &Options{Config: cfg})
	require.Error(t, err)
	require.Equal(t, ExitCodeInternal, status)
}

func layoutRecord(installDir string) string {
	return xlcore.NewLayout(installDir).RecordFile()
}
