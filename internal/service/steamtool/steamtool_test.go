package steamtool

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/xlm/internal/config"
)

// fakeXLM prints every argument on its own line.
const fakeXLM = "#!/bin/sh\nfor arg in \"$@\"; do echo \"$arg\"; done\n"

func newSteamRoot(t *testing.T) (string, string) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("compatibility tools are Linux only")
	}

	root := t.TempDir()
	executable := filepath.Join(t.TempDir(), "xlm")
	require.NoError(t, os.WriteFile(executable, []byte(fakeXLM), 0o755))

	return filepath.Join(root, "compatibilitytools.d"), executable
}

func TestRun_WritesTool(t *testing.T) {
	t.Parallel()

	compatPath, executable := newSteamRoot(t)

	err := Run(context.Background(), &Options{CompatPath: compatPath, ExecutablePath: executable})
	require.NoError(t, err)

	toolDir := filepath.Join(compatPath, ToolDirname)

	contents, err := os.ReadFile(filepath.Join(toolDir, CompatibilityToolFilename))
	require.NoError(t, err)
	require.Contains(t, string(contents), `"display_name" "XLM"`)
	require.Contains(t, string(contents), `"to_oslist" "linux"`)

	contents, err = os.ReadFile(filepath.Join(toolDir, ToolManifestFilename))
	require.NoError(t, err)
	require.Contains(t, string(contents), `"commandline" "/xlm.sh %verb%"`)

	info, err := os.Stat(filepath.Join(toolDir, ShimFilename))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(DefaultExecutableFileMode), info.Mode().Perm())

	copied, err := os.ReadFile(filepath.Join(toolDir, BinaryFilename))
	require.NoError(t, err)
	require.Equal(t, fakeXLM, string(copied))

	require.DirExists(t, filepath.Join(toolDir, InstallDirname, "prelaunch.d"))
	require.DirExists(t, filepath.Join(toolDir, InstallDirname, "postlaunch.d"))
}

func TestRun_Reinstall(t *testing.T) {
	t.Parallel()

	compatPath, executable := newSteamRoot(t)
	opts := &Options{CompatPath: compatPath, ExecutablePath: executable}

	require.NoError(t, Run(context.Background(), opts))

	// Reinstalling from the copy inside the tool directory must not truncate it.
	opts.ExecutablePath = filepath.Join(compatPath, ToolDirname, BinaryFilename)
	require.NoError(t, Run(context.Background(), opts))

	copied, err := os.ReadFile(opts.ExecutablePath)
	require.NoError(t, err)
	require.Equal(t, fakeXLM, string(copied))
}

func TestRun_SteamMissing(t *testing.T) {
	t.Parallel()

	compatPath := filepath.Join(t.TempDir(), "missing", "compatibilitytools.d")

	err := Run(context.Background(), &Options{CompatPath: compatPath, ExecutablePath: "/bin/sh"})
	require.ErrorIs(t, err, ErrSteamNotFound)
	require.NoDirExists(t, filepath.Dir(compatPath))
}

func TestRun_InvalidOptions(t *testing.T) {
	t.Parallel()

	compatPath, executable := newSteamRoot(t)

	err := Run(context.Background(), &Options{CompatPath: "", ExecutablePath: executable})
	require.Error(t, err)

	err = Run(context.Background(), &Options{
		CompatPath:     compatPath,
		ExecutablePath: executable,
		ExtraEnvVars:   "NOT_AN_ASSIGNMENT",
	})
	require.ErrorIs(t, err, config.ErrInvalidEnvVar)

	err = Run(context.Background(), &Options{
		CompatPath:      compatPath,
		ExecutablePath:  executable,
		ExtraLaunchArgs: `--skip-update "unterminated`,
	})
	require.Error(t, err)

	err = Run(context.Background(), &Options{
		CompatPath:      compatPath,
		ExecutablePath:  executable,
		ExtraLaunchArgs: `--skip-update $(id)`,
	})
	require.Error(t, err)
	require.NoDirExists(t, filepath.Join(compatPath, ToolDirname))
}

// TestShim_ExecutesLaunch runs the generated shim against a fake xlm and checks the exact argv.
func TestShim_ExecutesLaunch(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash is not available")
	}

	compatPath, executable := newSteamRoot(t)

	err := Run(context.Background(), &Options{
		CompatPath:      compatPath,
		ExecutablePath:  executable,
		ExtraLaunchArgs: `--skip-update --use-fallback-secret-provider`,
		ExtraEnvVars:    `FOO="bar baz" QUOTE=it\'s EMPTY=`,
	})
	require.NoError(t, err)

	toolDir, err := filepath.EvalSymlinks(filepath.Join(compatPath, ToolDirname))
	require.NoError(t, err)

	// Steam passes its verb and the game executable; none of it reaches xlm.
	output, err := exec.Command("bash", filepath.Join(toolDir, ShimFilename),
		"waitforexitandrun", "/games/FINAL FANTASY XIV Online/boot/ffxivboot.exe", "--extra-launch-args").Output()
	require.NoError(t, err)

	require.Equal(t, []string{
		"launch",
		"--skip-update",
		"--use-fallback-secret-provider",
		"--install-directory",
		filepath.Join(toolDir, InstallDirname),
		"--extra-env-var", "FOO=bar baz",
		"--extra-env-var", "QUOTE=it's",
		"--extra-env-var", "EMPTY=",
	}, strings.Split(strings.TrimSuffix(string(output), "\n"), "\n"))
}

func TestShim_QuotesWords(t *testing.T) {
	t.Parallel()

	shim, err := Shim([]string{"--flag", "two words"}, []string{"A=$(rm -rf /)"})
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(shim, "#!/usr/bin/env bash\n"))
	require.NotContains(t, shim, `"$@"`)
	require.Contains(t, shim, `'two words'`)
	require.NotContains(t, shim, ` A=$(rm -rf /)`)
}
