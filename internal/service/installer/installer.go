package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/oshokin/xlm/internal/domain/xlcore"
	"github.com/oshokin/xlm/internal/logger"
)

const (
	// DefaultMaxExtractedBytes bounds the size of an extracted release.
	DefaultMaxExtractedBytes int64 = 4 << 30

	// displacedDirname holds the live runtime inside a staging workspace while a rename swap is in flight.
	displacedDirname = "displaced"
)

var (
	// ErrDownloadFailed is returned when an archive cannot be fetched or fails verification.
	ErrDownloadFailed = errors.New("download failed")
	// ErrExtractionFailed is returned when an archive cannot be extracted safely.
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrSwapFailed is returned when the staged runtime cannot replace the live one.
	ErrSwapFailed = errors.New("swap failed")
	// ErrRecordFailed is returned when the runtime was swapped but its record could not be saved.
	ErrRecordFailed = errors.New("install record update failed")

	errExchangeUnsupported = errors.New("atomic exchange is not supported")
)

// Stage names the step an install failed at.
type Stage string

// Install stages in execution order.
const (
	StageDownload Stage = "download"
	StageExtract  Stage = "extract"
	StageSwap     Stage = "swap"
	StageRecord   Stage = "record"
)

// InstallError reports the failed stage together with its cause.
// errors.Is matches both the stage sentinel and the cause.
type InstallError struct {
	Stage Stage
	Err   error
}

// Error implements error.
func (e *InstallError) Error() string {
	return fmt.Sprintf("%s: %v", e.sentinel(), e.Err)
}

// Unwrap exposes the stage sentinel and the cause.
func (e *InstallError) Unwrap() []error {
	return []error{e.sentinel(), e.Err}
}

func (e *InstallError) sentinel() error {
	switch e.Stage {
	case StageDownload:
		return ErrDownloadFailed
	case StageExtract:
		return ErrExtractionFailed
	case StageSwap:
		return ErrSwapFailed
	default:
		return ErrRecordFailed
	}
}

func stageError(stage Stage, format string, args ...any) error {
	return &InstallError{Stage: stage, Err: fmt.Errorf(format, args...)}
}

// Downloader streams remote files.
type Downloader interface {
	Download(ctx context.Context, url string) (io.ReadCloser, int64, error)
}

// RecordSaver persists the install record after a successful swap.
type RecordSaver interface {
	Save(ctx context.Context, record *xlcore.Record) error
}

// Installer fetches releases and swaps them into an install directory.
type Installer struct {
	downloader        Downloader
	records           RecordSaver
	supplements       []string
	maxExtractedBytes int64
	rename            func(oldPath, newPath string) error
	exchange          func(oldPath, newPath string) error
}

// Option configures the installer.
type Option func(*Installer)

// WithSupplements adds archives extracted on top of every release, such as a static aria2c build.
func WithSupplements(urls ...string) Option {
	return func(i *Installer) {
		for _, url := range urls {
			if url != "" {
				i.supplements = append(i.supplements, url)
			}
		}
	}
}

// WithMaxExtractedBytes bounds the total size of extracted files.
func WithMaxExtractedBytes(limit int64) Option {
	return func(i *Installer) {
		if limit > 0 {
			i.maxExtractedBytes = limit
		}
	}
}

// New creates an installer.
func New(downloader Downloader, records RecordSaver, opts ...Option) *Installer {
	installer := &Installer{
		downloader:        downloader,
		records:           records,
		maxExtractedBytes: DefaultMaxExtractedBytes,
		rename:            os.Rename,
		exchange:          exchangeDirs,
	}

	for _, opt := range opts {
		opt(installer)
	}

	return installer
}

// Install downloads release, extracts it and swaps it in as the live runtime of installDir.
// The returned record is non-nil whenever the swap happened, even if saving it failed.
func (i *Installer) Install(ctx context.Context, release *xlcore.Release, installDir string) (*xlcore.Record, error) {
	if release == nil || release.Tag == "" || release.AssetURL == "" {
		return nil, stageError(StageDownload, "release is incomplete")
	}

	layout := xlcore.NewLayout(installDir)

	if err := os.MkdirAll(layout.Root, 0o755); err != nil { //nolint:gosec // Install directories are user-readable.
		return nil, stageError(StageDownload, "create install directory: %w", err)
	}

	workspace, err := os.MkdirTemp(layout.Root, xlcore.StagingPattern)
	if err != nil {
		return nil, stageError(StageDownload, "create staging workspace: %w", err)
	}

	defer func() {
		if removeErr := os.RemoveAll(workspace); removeErr != nil {
			logger.WarnKV(ctx, "Unable to remove staging workspace", "path", workspace, "error", removeErr)
		}
	}()

	logger.InfoKV(ctx, "Installing release", "version", release.Tag, "directory", layout.Root)

	staged, err := i.stage(ctx, release, workspace)
	if err != nil {
		return nil, err
	}

	if err = ctx.Err(); err != nil {
		return nil, stageError(StageSwap, "install cancelled before swap: %w", err)
	}

	if err = i.swap(ctx, layout, staged, workspace); err != nil {
		return nil, err
	}

	record := &xlcore.Record{
		InstalledVersion: release.Tag,
		InstallPath:      layout.RuntimeDir(),
	}

	if err = i.records.Save(ctx, record); err != nil {
		return record, &InstallError{Stage: StageRecord, Err: err}
	}

	logger.InfoKV(ctx, "Release installed", "version", release.Tag, "path", record.InstallPath)

	return record, nil
}

// stage downloads and extracts the release and its supplements into workspace
// and returns the extracted tree.
func (i *Installer) stage(ctx context.Context, release *xlcore.Release, workspace string) (string, error) {
	archive, err := i.download(ctx, workspace, release.AssetURL, release.AssetSize, release.Digest)
	if err != nil {
		return "", &InstallError{Stage: StageDownload, Err: err}
	}

	supplements := make([]string, 0, len(i.supplements))

	for _, url := range i.supplements {
		var path string

		path, err = i.download(ctx, workspace, url, 0, "")
		if err != nil {
			return "", &InstallError{Stage: StageDownload, Err: err}
		}

		supplements = append(supplements, path)
	}

	tree := filepath.Join(workspace, xlcore.RuntimeDirname)
	if err = os.Mkdir(tree, 0o755); err != nil { //nolint:gosec // Runtime trees are user-readable.
		return "", stageError(StageExtract, "create staging tree: %w", err)
	}

	budget := i.maxExtractedBytes

	for _, path := range append([]string{archive}, supplements...) {
		var written int64

		written, err = extractArchive(path, tree, budget)
		if err != nil {
			return "", &InstallError{Stage: StageExtract, Err: err}
		}

		budget -= written

		logger.DebugKV(ctx, "Extracted archive", "archive", filepath.Base(path), "bytes", written)
	}

	info, err := os.Stat(xlcore.Executable(tree))
	if err != nil || !info.Mode().IsRegular() {
		return "", stageError(StageExtract, "release archive does not contain %s", xlcore.ExecutableFilename)
	}

	return tree, nil
}

// swap replaces the live runtime with staged and keeps the replaced tree one generation back.
// The replacement is a single atomic exchange where the platform supports it; otherwise the live
// tree is moved into the workspace first and Recover puts it back after a crash.
func (i *Installer) swap(ctx context.Context, layout xlcore.Layout, staged, workspace string) error {
	live := layout.RuntimeDir()

	_, err := os.Lstat(live)
	hadRuntime := err == nil

	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return stageError(StageSwap, "inspect live runtime: %w", err)
	}

	if !hadRuntime {
		if err = i.rename(staged, live); err != nil {
			return stageError(StageSwap, "move staged runtime into place: %w", err)
		}

		return nil
	}

	// After an exchange the staged path holds the replaced tree.
	displaced := staged

	err = i.exchange(staged, live)
	if errors.Is(err, errExchangeUnsupported) {
		logger.DebugKV(ctx, "Atomic exchange is unavailable, swapping by rename", "error", err)

		displaced = filepath.Join(workspace, displacedDirname)
		err = i.renameSwap(live, staged, displaced)
	}

	if err != nil {
		return stageError(StageSwap, "swap runtime: %w", err)
	}

	previous := layout.PreviousDir()

	if err = os.RemoveAll(previous); err != nil {
		logger.WarnKV(ctx, "Unable to remove the older runtime generation", "path", previous, "error", err)

		return nil
	}

	if err = i.rename(displaced, previous); err != nil {
		logger.WarnKV(ctx, "Unable to keep the replaced runtime", "path", previous, "error", err)
	}

	return nil
}

// renameSwap moves live to displaced and staged to live, restoring live when the second step fails.
func (i *Installer) renameSwap(live, staged, displaced string) error {
	if err := i.rename(live, displaced); err != nil {
		return fmt.Errorf("move live runtime aside: %w", err)
	}

	if err := i.rename(staged, live); err != nil {
		if restoreErr := i.rename(displaced, live); restoreErr != nil {
			err = errors.Join(err, fmt.Errorf("restore live runtime: %w", restoreErr))
		}

		return fmt.Errorf("move staged runtime into place: %w", err)
	}

	return nil
}

// Recover repairs installDir after an interrupted install. A runtime left in a staging
// workspace by a swap that never completed is moved back into place, then every leftover
// workspace is removed. Callers must hold the launch lock.
func Recover(ctx context.Context, installDir string) error {
	layout := xlcore.NewLayout(installDir)

	workspaces, err := filepath.Glob(filepath.Join(layout.Root, xlcore.StagingPattern))
	if err != nil {
		return fmt.Errorf("list staging workspaces: %w", err)
	}

	var errs []error

	for _, workspace := range workspaces {
		displaced := filepath.Join(workspace, displacedDirname)

		if _, statErr := os.Lstat(layout.RuntimeDir()); errors.Is(statErr, os.ErrNotExist) {
			if info, dispErr := os.Lstat(displaced); dispErr == nil && info.IsDir() {
				logger.WarnKV(ctx, "Restoring the runtime of an interrupted install", "from", displaced)

				if err = os.Rename(displaced, layout.RuntimeDir()); err != nil {
					errs = append(errs, fmt.Errorf("restore runtime from %s: %w", displaced, err))

					continue
				}
			}
		}

		logger.DebugKV(ctx, "Removing leftover staging workspace", "path", workspace)

		if err = os.RemoveAll(workspace); err != nil {
			errs = append(errs, fmt.Errorf("remove staging workspace: %w", err))
		}
	}

	return errors.Join(errs...)
}
