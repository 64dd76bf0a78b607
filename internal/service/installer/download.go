package installer

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/oshokin/xlm/internal/logger"
)

var (
	errSizeMismatch   = errors.New("size mismatch")
	errDigestMismatch = errors.New("digest mismatch")
)

// download writes the file at url into workspace and verifies its length and digest when known.
func (i *Installer) download(ctx context.Context, workspace, url string, expectedSize int64, digest string) (_ string, err error) {
	logger.InfoKV(ctx, "Downloading", "url", url, "size", expectedSize)

	body, length, err := i.downloader.Download(ctx, url)
	if err != nil {
		return "", err
	}
	defer body.Close() //nolint:errcheck // Read-only response body.

	file, err := os.CreateTemp(workspace, "download-*")
	if err != nil {
		return "", fmt.Errorf("create download file: %w", err)
	}

	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close download file: %w", closeErr)
		}
	}()

	hasher := sha256.New()

	written, err := io.Copy(io.MultiWriter(file, hasher), body)
	if err != nil {
		return "", fmt.Errorf("write %s: %w", url, err)
	}

	if length >= 0 && written != length {
		return "", fmt.Errorf("%w: %s is truncated (%d of %d bytes)", errSizeMismatch, url, written, length)
	}

	if expectedSize > 0 && written != expectedSize {
		return "", fmt.Errorf("%w: %s has %d bytes, release lists %d", errSizeMismatch, url, written, expectedSize)
	}

	if err = verifyDigest(ctx, digest, hasher.Sum(nil)); err != nil {
		return "", fmt.Errorf("verify %s: %w", url, err)
	}

	return file.Name(), nil
}

// verifyDigest compares a "<algorithm>:<hex>" digest with the SHA-256 sum.
// Digests of other algorithms are skipped.
func verifyDigest(ctx context.Context, digest string, sum []byte) error {
	if digest == "" {
		return nil
	}

	algorithm, value, ok := strings.Cut(digest, ":")
	if !ok {
		return fmt.Errorf("%w: malformed digest %q", errDigestMismatch, digest)
	}

	if !strings.EqualFold(algorithm, "sha256") {
		logger.DebugKV(ctx, "Skipping unsupported digest", "algorithm", algorithm)

		return nil
	}

	expected, err := hex.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("%w: %w", errDigestMismatch, err)
	}

	if subtle.ConstantTimeCompare(expected, sum) != 1 {
		return fmt.Errorf("%w: expected %s, got %s", errDigestMismatch, value, hex.EncodeToString(sum))
	}

	return nil
}
