package steamtool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"

	"github.com/oshokin/xlm/internal/config"
	"github.com/oshokin/xlm/internal/domain/xlcore"
	"github.com/oshokin/xlm/internal/logger"
	"github.com/oshokin/xlm/internal/service/hooks"
)

// Names of everything written into the tool directory.
const (
	ToolDirname                 = "XLM"
	CompatibilityToolFilename   = "compatibilitytool.vdf"
	ToolManifestFilename        = "toolmanifest.vdf"
	ShimFilename                = "xlm.sh"
	BinaryFilename              = "xlm"
	InstallDirname              = config.DefaultInstallDirname
	DefaultFileMode             = 0o644
	DefaultExecutableFileMode   = 0o755
	DefaultDirectoryPermissions = 0o755
)

const compatibilityToolVDF = `"compatibilitytools"
{
  "compat_tools"
  {
    "XLM"
    {
      "install_path" "."
      "display_name" "XLM"
      "from_oslist" "windows"
      "to_oslist" "linux"
    }
  }
}
`

const toolManifestVDF = `"manifest"
{
  "version" "2"
  "commandline" "/xlm.sh %verb%"
}
`

var (
	// ErrSteamNotFound is returned when the parent of the compatibility tools directory is missing.
	ErrSteamNotFound = errors.New("steam directory not found")

	errCompatPathRequired = errors.New("steam compatibility tools path must be provided")
)

// Options contains inputs for the install-steam-tool entry point.
type Options struct {
	// CompatPath is Steam's compatibilitytools.d directory.
	CompatPath string
	// ExtraLaunchArgs are shell words appended to "xlm launch" by the shim.
	ExtraLaunchArgs string
	// ExtraEnvVars are shell words of KEY=VALUE form passed as --extra-env-var by the shim.
	ExtraEnvVars string
	// ExecutablePath is copied into the tool directory, the running executable when empty.
	ExecutablePath string
}

// installer writes the compatibility tool.
// It is unexported: callers should use Run, which validates the options first.
type installer struct {
	toolDir    string
	launchArgs []string
	envVars    []string
	executable string
}

// Run installs or refreshes the compatibility tool.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "install-steam-tool")

	inst, err := newInstaller(opts)
	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Installing XLM compatibility tool",
		"path", inst.toolDir, "extra_launch_args", inst.launchArgs, "extra_env_vars", inst.envVars)

	if err = inst.run(ctx); err != nil {
		return fmt.Errorf("install compatibility tool: %w", err)
	}

	printNextSteps(ctx, inst.toolDir)

	return nil
}

func newInstaller(opts *Options) (*installer, error) {
	if strings.TrimSpace(opts.CompatPath) == "" {
		return nil, errCompatPathRequired
	}

	compatPath, err := filepath.Abs(opts.CompatPath)
	if err != nil {
		return nil, fmt.Errorf("resolve compatibility tools path: %w", err)
	}

	// Steam creates its root on first start; compatibilitytools.d itself may not exist yet.
	if info, statErr := os.Stat(filepath.Dir(compatPath)); statErr != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s does not exist, start Steam once or check the install type",
			ErrSteamNotFound, filepath.Dir(compatPath))
	}

	launchArgs, err := splitWords(opts.ExtraLaunchArgs)
	if err != nil {
		return nil, fmt.Errorf("parse extra launch args: %w", err)
	}

	envVars, err := splitWords(opts.ExtraEnvVars)
	if err != nil {
		return nil, fmt.Errorf("parse extra env vars: %w", err)
	}

	for _, kv := range envVars {
		if _, _, err = config.ParseEnvAssignment(kv); err != nil {
			return nil, err
		}
	}

	executable := opts.ExecutablePath
	if executable == "" {
		if executable, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("locate xlm executable: %w", err)
		}
	}

	return &installer{
		toolDir:    filepath.Join(compatPath, ToolDirname),
		launchArgs: launchArgs,
		envVars:    envVars,
		executable: executable,
	}, nil
}

func (i *installer) run(ctx context.Context) error {
	if err := os.MkdirAll(i.toolDir, DefaultDirectoryPermissions); err != nil {
		return err
	}

	logger.Debug(ctx, "Writing manifests")

	if err := writeFile(filepath.Join(i.toolDir, CompatibilityToolFilename), compatibilityToolVDF, DefaultFileMode); err != nil {
		return err
	}

	if err := writeFile(filepath.Join(i.toolDir, ToolManifestFilename), toolManifestVDF, DefaultFileMode); err != nil {
		return err
	}

	shim, err := Shim(i.launchArgs, i.envVars)
	if err != nil {
		return err
	}

	logger.Debug(ctx, "Writing launch shim")

	if err = writeFile(filepath.Join(i.toolDir, ShimFilename), shim, DefaultExecutableFileMode); err != nil {
		return err
	}

	layout := xlcore.NewLayout(filepath.Join(i.toolDir, InstallDirname))
	for _, phase := range []hooks.Phase{hooks.PhasePreLaunch, hooks.PhasePostLaunch} {
		if err = os.MkdirAll(layout.HooksDir(phase.Dir()), DefaultDirectoryPermissions); err != nil {
			return err
		}
	}

	logger.DebugKV(ctx, "Copying xlm executable", "from", i.executable)

	return copyExecutable(i.executable, filepath.Join(i.toolDir, BinaryFilename))
}

// Shim renders xlm.sh. Every word is quoted, so the script runs the arguments exactly as given.
// Steam calls the shim with a verb and the Windows game executable; neither means anything
// to the native runtime, so the shim does not forward its own arguments.
func Shim(launchArgs, envVars []string) (string, error) {
	var builder strings.Builder

	builder.WriteString("#!/usr/bin/env bash\n")
	builder.WriteString("# Generated by xlm install-steam-tool, rerun it instead of editing.\n")
	builder.WriteString("# Arguments passed by Steam are ignored.\n\n")
	builder.WriteString(`tooldir="$(realpath "$(dirname "$0")")"`)
	builder.WriteString("\n\n")
	builder.WriteString(`exec "$tooldir/` + BinaryFilename + `" launch`)

	for _, arg := range launchArgs {
		quoted, err := syntax.Quote(arg, syntax.LangBash)
		if err != nil {
			return "", fmt.Errorf("quote launch argument %q: %w", arg, err)
		}

		builder.WriteString(" " + quoted)
	}

	builder.WriteString(` --install-directory "$tooldir/` + InstallDirname + `"`)

	for _, kv := range envVars {
		quoted, err := syntax.Quote(kv, syntax.LangBash)
		if err != nil {
			return "", fmt.Errorf("quote environment variable %q: %w", kv, err)
		}

		builder.WriteString(" --extra-env-var " + quoted)
	}

	builder.WriteString("\n")

	return builder.String(), nil
}

// splitWords splits s the way a shell would, expanding variables from the current environment.
// Command substitutions are rejected.
func splitWords(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	var words []*syntax.Word

	err := syntax.NewParser().Words(strings.NewReader(s), func(word *syntax.Word) bool {
		words = append(words, word)

		return true
	})
	if err != nil {
		return nil, err
	}

	return expand.Fields(&expand.Config{Env: expand.ListEnviron(os.Environ()...)}, words...)
}

func writeFile(path, contents string, mode os.FileMode) error {
	if err := os.WriteFile(path, []byte(contents), mode); err != nil {
		return err
	}

	// WriteFile keeps the mode of an existing file.
	return os.Chmod(path, mode)
}

// copyExecutable copies src to dst through a temporary file, leaving dst alone when both are the same file.
func copyExecutable(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}

	if dstInfo, statErr := os.Stat(dst); statErr == nil && os.SameFile(srcInfo, dstInfo) {
		return nil
	}

	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}

	defer func() {
		_ = in.Close()
	}()

	out, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+"-*")
	if err != nil {
		return err
	}

	tmpName := out.Name()

	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()

		return err
	}

	if err = out.Close(); err != nil {
		return err
	}

	if err = os.Chmod(tmpName, DefaultExecutableFileMode); err != nil {
		return err
	}

	return os.Rename(tmpName, dst)
}

// printNextSteps logs human-readable guidance for next actions with the installed tool.
func printNextSteps(ctx context.Context, toolDir string) {
	installDir := filepath.Join(toolDir, InstallDirname)

	var builder strings.Builder

	builder.WriteString("The XLM compatibility tool is installed in ")
	builder.WriteString(toolDir)
	builder.WriteString(".\nRestart Steam, then pick \"XLM\" as the compatibility tool of FINAL FANTASY XIV Online.")
	builder.WriteString("\nThe runtime is downloaded into ")
	builder.WriteString(installDir)
	builder.WriteString(" on first launch.")
	builder.WriteString("\nExecutable scripts placed in ")
	builder.WriteString(filepath.Join(installDir, hooks.PhasePreLaunch.Dir()))
	builder.WriteString(" and ")
	builder.WriteString(filepath.Join(installDir, hooks.PhasePostLaunch.Dir()))
	builder.WriteString(" run before and after every launch, in name order.")

	logger.Info(ctx, builder.String())
}
