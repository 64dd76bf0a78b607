package updater

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	goupdate "github.com/doitdistributed/go-update"
	"golang.org/x/mod/semver"

	"github.com/oshokin/xlm/internal/logger"
	"github.com/oshokin/xlm/internal/service/common"
	"github.com/oshokin/xlm/internal/version"
)

const (
	// DefaultBinaryName is the executable name inside release archives.
	DefaultBinaryName = "xlm"

	// DefaultFileMode is applied to the replaced executable.
	DefaultFileMode os.FileMode = 0o755

	// maxBinaryBytes bounds downloaded and extracted executables.
	maxBinaryBytes = 256 << 20
)

var (
	errNoAsset          = errors.New("no release asset for this platform")
	errBinaryNotFound   = errors.New("binary not found in archive")
	errBinaryTooLarge   = errors.New("binary exceeds size limit")
	errInvalidTag       = errors.New("release tag is not a semantic version")
	errChecksumMismatch = errors.New("checksum mismatch")
)

// Status is the outcome of a self-update attempt.
type Status int

const (
	// StatusSkipped means nothing was replaced on purpose.
	StatusSkipped Status = iota
	// StatusUpdated means the executable on disk now holds a newer version.
	StatusUpdated
	// StatusFailed means the attempt failed and the executable was left alone.
	StatusFailed
)

// String returns the status name used in logs.
func (s Status) String() string {
	switch s {
	case StatusUpdated:
		return "updated"
	case StatusFailed:
		return "failed"
	default:
		return "skipped"
	}
}

// Result describes a self-update attempt.
type Result struct {
	Status Status
	// Version is the version now on disk.
	Version string
	// Reason explains a skip.
	Reason string
	// Err is set when Status is StatusFailed.
	Err error
}

// ReleaseClient queries and downloads xlm releases.
type ReleaseClient interface {
	LatestRelease(ctx context.Context, owner, repo string) (*common.Release, error)
	Download(ctx context.Context, url string) (io.ReadCloser, int64, error)
}

// Updater replaces the running executable.
type Updater struct {
	client         ReleaseClient
	owner          string
	repo           string
	currentVersion string
	executablePath string
	binaryName     string
	goos           string
	goarch         string
	apply          func(io.Reader, goupdate.Options) error
}

// Option configures the updater.
type Option func(*Updater)

// WithRepo sets the repository releases are read from.
func WithRepo(owner, repo string) Option {
	return func(u *Updater) {
		u.owner = owner
		u.repo = repo
	}
}

// WithCurrentVersion overrides the embedded version.
func WithCurrentVersion(v string) Option {
	return func(u *Updater) {
		u.currentVersion = v
	}
}

// WithExecutablePath sets the file that gets replaced instead of the running executable.
func WithExecutablePath(path string) Option {
	return func(u *Updater) {
		u.executablePath = path
	}
}

// WithBinaryName sets the executable name searched for in release archives.
func WithBinaryName(name string) Option {
	return func(u *Updater) {
		if name != "" {
			u.binaryName = name
		}
	}
}

// New creates an updater for the running executable.
func New(client ReleaseClient, opts ...Option) *Updater {
	u := &Updater{
		client:         client,
		currentVersion: version.Short(),
		binaryName:     DefaultBinaryName,
		goos:           runtime.GOOS,
		goarch:         runtime.GOARCH,
		apply:          goupdate.Apply,
	}

	for _, opt := range opts {
		opt(u)
	}

	return u
}

// MaybeSelfUpdate installs the latest release when enabled and newer than the running version.
func (u *Updater) MaybeSelfUpdate(ctx context.Context, enabled bool) *Result {
	ctx = logger.WithName(ctx, "self-update")

	result := u.run(ctx, enabled)

	switch result.Status {
	case StatusUpdated:
		logger.InfoKV(ctx, "xlm has been updated, the new version applies from the next launch",
			"version", result.Version)
	case StatusFailed:
		logger.WarnKV(ctx, "xlm failed to update itself", "error", result.Err)
	default:
		logger.DebugKV(ctx, "Self-update skipped", "reason", result.Reason)
	}

	return result
}

func (u *Updater) run(ctx context.Context, enabled bool) *Result {
	current := version.Canonical(u.currentVersion)

	if !enabled {
		return &Result{Status: StatusSkipped, Version: u.currentVersion, Reason: "disabled"}
	}

	if !semver.IsValid(current) {
		return &Result{Status: StatusSkipped, Version: u.currentVersion, Reason: "development build"}
	}

	release, err := u.client.LatestRelease(ctx, u.owner, u.repo)
	if err != nil {
		return failed(u.currentVersion, fmt.Errorf("query latest release: %w", err))
	}

	latest := version.Canonical(release.TagName)
	if !semver.IsValid(latest) {
		return failed(u.currentVersion, fmt.Errorf("%w: %q", errInvalidTag, release.TagName))
	}

	if semver.Compare(latest, current) <= 0 {
		return &Result{Status: StatusSkipped, Version: u.currentVersion, Reason: "already up to date"}
	}

	asset := u.selectAsset(release.Assets)
	if asset == nil {
		return failed(u.currentVersion, fmt.Errorf("%w: %s/%s", errNoAsset, u.goos, u.goarch))
	}

	logger.InfoKV(ctx, "Updating xlm", "from", u.currentVersion, "to", release.TagName, "asset", asset.Name)

	if err = u.replace(ctx, asset); err != nil {
		return failed(u.currentVersion, err)
	}

	return &Result{Status: StatusUpdated, Version: strings.TrimPrefix(latest, "v")}
}

func failed(current string, err error) *Result {
	return &Result{Status: StatusFailed, Version: current, Err: err}
}

// assetCandidates lists accepted asset names for the current platform, most specific first.
func (u *Updater) assetCandidates() []string {
	candidates := []string{
		fmt.Sprintf("%s_%s_%s.tar.gz", u.binaryName, u.goos, u.goarch),
		fmt.Sprintf("%s-%s-%s", u.binaryName, u.goos, u.goarch),
	}

	if triple := targetTriple(u.goos, u.goarch); triple != "" {
		candidates = append(candidates,
			fmt.Sprintf("%s-%s.tar.gz", u.binaryName, triple),
			fmt.Sprintf("%s-%s", u.binaryName, triple),
		)
	}

	return append(candidates, u.binaryName)
}

func (u *Updater) selectAsset(assets []common.Asset) *common.Asset {
	release := common.Release{Assets: assets}

	for _, name := range u.assetCandidates() {
		if asset := release.FindAsset(name); asset != nil {
			return asset
		}
	}

	return nil
}

// targetTriple maps Go platform names to the triples used by older xlm releases.
func targetTriple(goos, goarch string) string {
	if goos != "linux" {
		return ""
	}

	switch goarch {
	case "amd64":
		return "x86_64-unknown-linux-gnu"
	case "arm64":
		return "aarch64-unknown-linux-gnu"
	default:
		return ""
	}
}

func (u *Updater) replace(ctx context.Context, asset *common.Asset) error {
	target := u.executablePath
	if target == "" {
		executable, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate running executable: %w", err)
		}

		if target, err = filepath.EvalSymlinks(executable); err != nil {
			return fmt.Errorf("resolve running executable: %w", err)
		}
	}

	body, _, err := u.client.Download(ctx, asset.BrowserDownloadURL)
	if err != nil {
		return err
	}
	defer body.Close() //nolint:errcheck // Read-only response body.

	data, err := readBounded(body)
	if err != nil {
		return fmt.Errorf("download %s: %w", asset.Name, err)
	}

	expected, err := sha256Digest(asset.Digest)
	if err != nil {
		return err
	}

	options := goupdate.Options{
		TargetPath: target,
		TargetMode: DefaultFileMode,
	}

	if strings.HasSuffix(asset.Name, ".tar.gz") {
		if expected != nil {
			if sum := sha256.Sum256(data); !bytes.Equal(sum[:], expected) {
				return fmt.Errorf("%w: %s", errChecksumMismatch, asset.Name)
			}
		}

		if data, err = u.extractBinary(data); err != nil {
			return err
		}
	} else if expected != nil {
		options.Checksum = expected
		options.Hash = crypto.SHA256
	}

	logger.DebugKV(ctx, "Applying new executable", "path", target, "bytes", len(data))

	if err = u.apply(bytes.NewReader(data), options); err != nil {
		return fmt.Errorf("apply update: %w", err)
	}

	return nil
}

// extractBinary returns the file named like the binary from a tar.gz archive.
func (u *Updater) extractBinary(archive []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close() //nolint:errcheck // In-memory stream.

	reader := tar.NewReader(gz)

	for {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s", errBinaryNotFound, u.binaryName)
		}

		if err != nil {
			return nil, fmt.Errorf("read archive entry: %w", err)
		}

		// Match by base name so both flat and nested archive layouts work.
		if header.Typeflag != tar.TypeReg || filepath.Base(header.Name) != u.binaryName {
			continue
		}

		return readBounded(reader)
	}
}

func readBounded(reader io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(reader, maxBinaryBytes+1))
	if err != nil {
		return nil, err
	}

	if len(data) > maxBinaryBytes {
		return nil, errBinaryTooLarge
	}

	return data, nil
}

// sha256Digest decodes a "sha256:<hex>" digest; other or empty digests yield nil.
func sha256Digest(digest string) ([]byte, error) {
	algorithm, value, ok := strings.Cut(digest, ":")
	if !ok || !strings.EqualFold(algorithm, "sha256") {
		return nil, nil
	}

	sum, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode release digest: %w", err)
	}

	return sum, nil
}
