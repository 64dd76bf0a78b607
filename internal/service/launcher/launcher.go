package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/oshokin/xlm/internal/domain/xlcore"
	"github.com/oshokin/xlm/internal/logger"
)

// ErrSpawnFailed is returned when the runtime executable is missing or cannot be started.
var ErrSpawnFailed = errors.New("unable to start the runtime")

// Spec describes one runtime execution.
type Spec struct {
	// InstallPath is the runtime tree holding the executable.
	InstallPath string
	Args        []string
	Env         []string
	// Stdin, Stdout and Stderr default to the streams of xlm.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Launch runs the runtime, waits for it and returns its exit status.
// SIGINT and SIGTERM received meanwhile are forwarded to the runtime, which
// decides how to wind down; cancelling ctx asks it to terminate the same way.
func Launch(ctx context.Context, spec *Spec) (int, error) {
	ctx = logger.WithName(ctx, "launcher")

	executable := xlcore.Executable(spec.InstallPath)

	info, err := os.Stat(executable)
	if err != nil {
		return -1, fmt.Errorf("%w: %w", ErrSpawnFailed, err)
	}

	if !info.Mode().IsRegular() {
		return -1, fmt.Errorf("%w: %s is not a regular file", ErrSpawnFailed, executable)
	}

	cmd := exec.Command(executable, spec.Args...) //nolint:gosec,noctx // Signals are forwarded instead of killing.
	cmd.Env = spec.Env
	cmd.Dir = spec.InstallPath
	cmd.Stdin = readerOr(spec.Stdin, os.Stdin)
	cmd.Stdout = writerOr(spec.Stdout, os.Stdout)
	cmd.Stderr = writerOr(spec.Stderr, os.Stderr)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	defer signal.Stop(signals)

	if err = cmd.Start(); err != nil {
		return -1, fmt.Errorf("%w: %w", ErrSpawnFailed, err)
	}

	logger.InfoKV(ctx, "Runtime started", "pid", cmd.Process.Pid, "executable", executable)

	done := make(chan struct{})
	defer close(done)

	go forward(ctx, cmd.Process, signals, done)

	err = cmd.Wait()
	if err == nil {
		logger.Info(ctx, "Runtime exited normally")

		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		status := exitStatus(exitErr.ProcessState)
		logger.InfoKV(ctx, "Runtime exited", "status", status)

		return status, nil
	}

	return -1, fmt.Errorf("wait for runtime: %w", err)
}

func forward(ctx context.Context, process *os.Process, signals <-chan os.Signal, done <-chan struct{}) {
	cancelled := ctx.Done()

	for {
		select {
		case <-done:
			return
		case sig := <-signals:
			logger.InfoKV(ctx, "Forwarding signal to the runtime", "signal", sig.String())

			_ = process.Signal(sig) //nolint:errcheck // The runtime may already be gone.
		case <-cancelled:
			cancelled = nil

			_ = process.Signal(syscall.SIGTERM) //nolint:errcheck // The runtime may already be gone.
		}
	}
}

func readerOr(r, fallback io.Reader) io.Reader {
	if r != nil {
		return r
	}

	return fallback
}

func writerOr(w, fallback io.Writer) io.Writer {
	if w != nil {
		return w
	}

	return fallback
}
