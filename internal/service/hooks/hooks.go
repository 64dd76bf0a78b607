package hooks

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"

	"github.com/oshokin/xlm/internal/domain/xlcore"
	"github.com/oshokin/xlm/internal/logger"
)

// Phase is a lifecycle point hooks run at.
type Phase string

const (
	// PhasePreLaunch runs before the runtime is spawned.
	PhasePreLaunch Phase = "prelaunch"
	// PhasePostLaunch runs after the runtime exited.
	PhasePostLaunch Phase = "postlaunch"
)

// Dir returns the directory name holding hooks of the phase.
func (p Phase) Dir() string {
	return string(p) + ".d"
}

// Executable is anything the runner can execute as a hook.
type Executable interface {
	// Name identifies the hook in logs and outcomes.
	Name() string
	// Run executes the hook and returns its exit status.
	// The error is non-nil only when the hook could not be started or waited for.
	Run(ctx context.Context, env []string) (int, error)
}

// Script is a hook backed by an executable file.
type Script struct {
	// Path is the absolute location of the file.
	Path string
	// SortKey is the file name hooks are ordered by.
	SortKey string
	// Stdout and Stderr receive the hook output, the process streams when nil.
	Stdout io.Writer
	Stderr io.Writer
}

// Name returns the script file name.
func (s *Script) Name() string {
	return s.SortKey
}

// Run executes the script with env and its directory as the working directory.
func (s *Script) Run(ctx context.Context, env []string) (int, error) {
	cmd := exec.CommandContext(ctx, s.Path) //nolint:gosec // Hooks are user-provided on purpose.
	cmd.Env = env
	cmd.Dir = filepath.Dir(s.Path)
	cmd.Stdout = writerOr(s.Stdout, os.Stdout)
	cmd.Stderr = writerOr(s.Stderr, os.Stderr)

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}

	return -1, fmt.Errorf("run hook %s: %w", s.SortKey, err)
}

func writerOr(w, fallback io.Writer) io.Writer {
	if w != nil {
		return w
	}

	return fallback
}

// Outcome is the result of a single hook.
type Outcome struct {
	Hook string
	// ExitStatus is -1 when the hook could not be started, or was killed by a signal.
	ExitStatus int
	Err        error
}

// Discover lists the hooks of dir sorted by file name.
// A missing directory holds no hooks. Non-executable files are skipped with a warning.
func Discover(ctx context.Context, dir string) ([]*Script, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("list hooks in %s: %w", dir, err)
	}

	scripts := make([]*Script, 0, len(entries))

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		// Stat follows symlinks so a linked script counts as a regular file.
		info, statErr := os.Stat(path)
		if statErr != nil {
			logger.WarnKV(ctx, "Skipping unreadable hook", "hook", path, "error", statErr)

			continue
		}

		if !info.Mode().IsRegular() {
			continue
		}

		if info.Mode().Perm()&0o111 == 0 {
			logger.WarnKV(ctx, "Skipping hook that is not executable", "hook", path)

			continue
		}

		scripts = append(scripts, &Script{Path: path, SortKey: entry.Name()})
	}

	slices.SortFunc(scripts, func(a, b *Script) int {
		return cmp.Compare(a.SortKey, b.SortKey)
	})

	return scripts, nil
}

// RunAll executes hooks one after another and records every outcome.
func RunAll(ctx context.Context, hooks []Executable, env []string) []Outcome {
	outcomes := make([]Outcome, 0, len(hooks))

	for _, hook := range hooks {
		if ctx.Err() != nil {
			outcomes = append(outcomes, Outcome{Hook: hook.Name(), ExitStatus: -1, Err: ctx.Err()})

			continue
		}

		logger.InfoKV(ctx, "Running hook", "hook", hook.Name())

		status, err := hook.Run(ctx, env)
		outcome := Outcome{Hook: hook.Name(), ExitStatus: status, Err: err}

		switch {
		case err != nil:
			logger.WarnKV(ctx, "Hook could not run", "hook", hook.Name(), "error", err)
		case status != 0:
			logger.WarnKV(ctx, "Hook exited with a non-zero status", "hook", hook.Name(), "status", status)
		default:
			logger.DebugKV(ctx, "Hook finished", "hook", hook.Name())
		}

		outcomes = append(outcomes, outcome)
	}

	return outcomes
}

// Run discovers and executes the hooks of phase in installDir.
func Run(ctx context.Context, installDir string, phase Phase, env []string) []Outcome {
	ctx = logger.WithKV(logger.WithName(ctx, "hooks"), "phase", string(phase))

	scripts, err := Discover(ctx, xlcore.NewLayout(installDir).HooksDir(phase.Dir()))
	if err != nil {
		logger.WarnKV(ctx, "Unable to list hooks", "error", err)

		return nil
	}

	executables := make([]Executable, 0, len(scripts))
	for _, script := range scripts {
		executables = append(executables, script)
	}

	return RunAll(ctx, executables, env)
}
