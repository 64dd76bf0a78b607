package guard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/go-ps"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/xlm/internal/config"
	"github.com/oshokin/xlm/internal/domain/xlcore"
	"github.com/oshokin/xlm/internal/logger"
)

const (
	// DefaultGraceDelay covers the gap between Steam's back-to-back tool invocations.
	DefaultGraceDelay = time.Second

	// staleMarkerAge is how old an unreadable lock marker must be before it is reclaimed.
	staleMarkerAge = time.Minute
	// maxOpenAttempts bounds retries when the lock file is replaced under us.
	maxOpenAttempts = 3
)

var (
	// ErrAlreadyRunning is returned when another launch holds the install directory.
	ErrAlreadyRunning = errors.New("another launch is already running")

	errLocked          = errors.New("lock is held")
	errLockUnsupported = errors.New("file locking is not supported")
)

// Guard admits at most one launch per install directory.
type Guard struct {
	graceDelay   time.Duration
	isAlive      func(pid int) bool
	invocationID string
	markerOnly   bool
}

// Option configures the guard.
type Option func(*Guard)

// WithGraceDelay sets how long a rejected caller waits before its single retry.
func WithGraceDelay(delay time.Duration) Option {
	return func(g *Guard) {
		if delay >= 0 {
			g.graceDelay = delay
		}
	}
}

// WithLivenessCheck replaces the process liveness probe used for stale markers.
func WithLivenessCheck(isAlive func(pid int) bool) Option {
	return func(g *Guard) {
		if isAlive != nil {
			g.isAlive = isAlive
		}
	}
}

// WithInvocationID sets the identifier recorded in the lock file.
func WithInvocationID(id string) Option {
	return func(g *Guard) {
		if id != "" {
			g.invocationID = id
		}
	}
}

// New creates a guard.
func New(opts ...Option) *Guard {
	g := &Guard{
		graceDelay:   DefaultGraceDelay,
		isAlive:      processAlive,
		invocationID: uuid.NewString(),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// lockBody is what a lock file records about its owner.
type lockBody struct {
	PID          int       `yaml:"pid"`
	InvocationID string    `yaml:"invocation"`
	AcquiredAt   time.Time `yaml:"acquired_at"`
}

// Handle is an acquired launch lock.
type Handle struct {
	path string
	file *os.File
	once sync.Once
	err  error
}

// Path returns the lock file location.
func (h *Handle) Path() string {
	return h.path
}

// Release drops the lock and removes the lock file. Calling it again is a no-op.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}

	h.once.Do(func() {
		// Remove before unlocking so a waiter never locks a file that is about to vanish.
		if err := os.Remove(h.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			h.err = fmt.Errorf("remove lock file: %w", err)
		}

		if h.file != nil {
			unlock(h.file)

			if err := h.file.Close(); err != nil && h.err == nil {
				h.err = fmt.Errorf("close lock file: %w", err)
			}
		}
	})

	return h.err
}

// Admit acquires the launch lock of installDir, creating the directory if needed.
func (g *Guard) Admit(ctx context.Context, installDir string) (*Handle, error) {
	layout := xlcore.NewLayout(installDir)

	if err := os.MkdirAll(layout.Root, 0o755); err != nil { //nolint:gosec // Install directories are user-readable.
		return nil, fmt.Errorf("create install directory: %w", err)
	}

	path := layout.LockFile()

	handle, err := g.tryAcquire(ctx, path)
	if !errors.Is(err, errLocked) {
		return handle, err
	}

	logger.WarnKV(ctx, "Another launch holds the lock, waiting before retrying",
		"lock", path, "grace_delay", g.graceDelay)

	timer := time.NewTimer(g.graceDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	handle, err = g.tryAcquire(ctx, path)
	if errors.Is(err, errLocked) {
		if owner, readErr := readBody(path); readErr == nil && owner.PID > 0 {
			return nil, fmt.Errorf("%w (pid %d, invocation %s)", ErrAlreadyRunning, owner.PID, owner.InvocationID)
		}

		return nil, ErrAlreadyRunning
	}

	return handle, err
}

func (g *Guard) tryAcquire(ctx context.Context, path string) (*Handle, error) {
	if flockSupported && !g.markerOnly {
		handle, err := g.acquireLock(path)
		if !errors.Is(err, errLockUnsupported) {
			return handle, err
		}

		logger.DebugKV(ctx, "File locking unsupported, using an exclusive marker", "lock", path)
	}

	return g.acquireMarker(ctx, path)
}

// acquireLock holds an exclusive lock on the file at path for the lifetime of the handle.
func (g *Guard) acquireLock(path string) (*Handle, error) {
	for range maxOpenAttempts {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, config.DefaultFilePermissions)
		if err != nil {
			return nil, fmt.Errorf("open lock file: %w", err)
		}

		if err = lockExclusive(file); err != nil {
			_ = file.Close()

			if errors.Is(err, errLockUnsupported) {
				removeIfEmpty(path)
			}

			return nil, err
		}

		// The previous owner may have removed the file between our open and lock.
		if !samePath(file, path) {
			unlock(file)
			_ = file.Close()

			continue
		}

		if err = g.writeBody(file); err != nil {
			unlock(file)
			_ = file.Close()

			return nil, err
		}

		return &Handle{path: path, file: file}, nil
	}

	return nil, errLocked
}

// acquireMarker creates the file at path exclusively, reclaiming it once if its owner is gone.
func (g *Guard) acquireMarker(ctx context.Context, path string) (*Handle, error) {
	for attempt := range 2 {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, config.DefaultFilePermissions)
		if err == nil {
			if err = g.writeBody(file); err != nil {
				_ = file.Close()
				_ = os.Remove(path)

				return nil, err
			}

			if err = file.Close(); err != nil {
				_ = os.Remove(path)

				return nil, fmt.Errorf("close lock file: %w", err)
			}

			return &Handle{path: path}, nil
		}

		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		if attempt > 0 || !g.isStale(path) {
			break
		}

		logger.InfoKV(ctx, "Reclaiming stale launch lock", "lock", path)

		if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale lock file: %w", err)
		}
	}

	return nil, errLocked
}

func (g *Guard) isStale(path string) bool {
	body, err := readBody(path)
	if err != nil || body.PID <= 0 {
		info, statErr := os.Stat(path)

		return statErr == nil && time.Since(info.ModTime()) > staleMarkerAge
	}

	if body.PID == os.Getpid() {
		return false
	}

	return !g.isAlive(body.PID)
}

func (g *Guard) writeBody(file *os.File) error {
	data, err := yaml.Marshal(&lockBody{
		PID:          os.Getpid(),
		InvocationID: g.invocationID,
		AcquiredAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode lock file: %w", err)
	}

	if err = file.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}

	if _, err = file.WriteAt(data, 0); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}

	return nil
}

func readBody(path string) (*lockBody, error) {
	contents, err := os.ReadFile(path) //nolint:gosec // Path is derived from the install directory.
	if err != nil {
		return nil, err
	}

	var body lockBody
	if err = yaml.Unmarshal(contents, &body); err != nil {
		return nil, err
	}

	return &body, nil
}

// removeIfEmpty drops a lock file created only to probe lock support.
func removeIfEmpty(path string) {
	if info, err := os.Stat(path); err == nil && info.Size() == 0 {
		_ = os.Remove(path)
	}
}

func samePath(file *os.File, path string) bool {
	opened, err := file.Stat()
	if err != nil {
		return false
	}

	current, err := os.Stat(path)
	if err != nil {
		return false
	}

	return os.SameFile(opened, current)
}

// processAlive reports whether pid belongs to a running process.
// Errors while listing processes count as alive so that a live lock is never stolen.
func processAlive(pid int) bool {
	process, err := ps.FindProcess(pid)
	if err != nil {
		return true
	}

	return process != nil
}
