package installer

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	errUnsafePath     = errors.New("unsafe path in archive")
	errArchiveTooLong = errors.New("archive exceeds the extraction limit")
)

// extractArchive unpacks the tar.gz at archivePath into dest, writing at most limit bytes.
// It returns the number of file bytes written.
func extractArchive(archivePath, dest string, limit int64) (int64, error) {
	file, err := os.Open(archivePath) //nolint:gosec // Archive lives in our own workspace.
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer file.Close() //nolint:errcheck // Read-only file handle.

	gz, err := gzip.NewReader(file)
	if err != nil {
		return 0, fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close() //nolint:errcheck // Read-only stream.

	var (
		reader  = tar.NewReader(gz)
		written int64
	)

	for {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return written, nil
		}

		if err != nil {
			return written, fmt.Errorf("read archive entry: %w", err)
		}

		name := filepath.FromSlash(header.Name)
		if !filepath.IsLocal(name) {
			return written, fmt.Errorf("%w: %q", errUnsafePath, header.Name)
		}

		target := filepath.Join(dest, name)

		if err = checkNoSymlinkParents(dest, name, header.Typeflag == tar.TypeDir); err != nil {
			return written, err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err = os.MkdirAll(target, header.FileInfo().Mode().Perm()|0o700); err != nil {
				return written, fmt.Errorf("create directory %s: %w", name, err)
			}
		case tar.TypeReg:
			if header.Size > limit-written {
				return written, fmt.Errorf("%w: %s", errArchiveTooLong, name)
			}

			var n int64

			n, err = writeFile(target, reader, header)
			written += n

			if err != nil {
				return written, err
			}
		case tar.TypeSymlink:
			if err = writeSymlink(dest, name, header.Linkname); err != nil {
				return written, err
			}
		case tar.TypeLink:
			if err = writeHardLink(dest, name, header.Linkname); err != nil {
				return written, err
			}
		default:
			// Devices, FIFOs and PAX headers carry nothing the runtime needs.
		}
	}
}

// checkNoSymlinkParents rejects entries that would be written through a symlink
// extracted earlier, which could otherwise point them outside dest.
func checkNoSymlinkParents(dest, name string, includeSelf bool) error {
	dir := filepath.Dir(name)
	if includeSelf {
		dir = filepath.Clean(name)
	}

	if dir == "." {
		return nil
	}

	current := dest

	for _, part := range strings.Split(dir, string(filepath.Separator)) {
		current = filepath.Join(current, part)

		info, err := os.Lstat(current)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("inspect %s: %w", current, err)
		}

		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("%w: %q is written through a symlink", errUnsafePath, name)
		}
	}

	return nil
}

func writeFile(target string, reader io.Reader, header *tar.Header) (int64, error) {
	if err := prepareTarget(target); err != nil {
		return 0, err
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, header.FileInfo().Mode().Perm())
	if err != nil {
		return 0, fmt.Errorf("create file %s: %w", header.Name, err)
	}

	n, err := io.CopyN(out, reader, header.Size)
	if err != nil {
		_ = out.Close()

		return n, fmt.Errorf("write file %s: %w", header.Name, err)
	}

	if err = out.Close(); err != nil {
		return n, fmt.Errorf("close file %s: %w", header.Name, err)
	}

	return n, nil
}

func writeSymlink(dest, name, linkname string) error {
	link := filepath.FromSlash(linkname)
	if filepath.IsAbs(link) || climbsAfterDescending(link) ||
		!filepath.IsLocal(filepath.Join(filepath.Dir(name), link)) {
		return fmt.Errorf("%w: symlink %q -> %q", errUnsafePath, name, linkname)
	}

	target := filepath.Join(dest, name)
	if err := prepareTarget(target); err != nil {
		return err
	}

	if err := os.Symlink(link, target); err != nil {
		return fmt.Errorf("create symlink %s: %w", name, err)
	}

	if err := checkResolvesInside(dest, target); err != nil {
		_ = os.Remove(target)

		return fmt.Errorf("symlink %q -> %q: %w", name, linkname, err)
	}

	return nil
}

// climbsAfterDescending reports whether link goes up again after entering a directory.
// Where such a link ends depends on what its earlier components resolve to,
// so the lexical bound does not hold for it.
func climbsAfterDescending(link string) bool {
	descended := false

	for _, part := range strings.Split(link, string(filepath.Separator)) {
		switch part {
		case "", ".":
		case "..":
			if descended {
				return true
			}
		default:
			descended = true
		}
	}

	return false
}

// checkResolvesInside fails when target resolves to a path outside dest.
// Dangling links resolve nowhere and pass.
func checkResolvesInside(dest, target string) error {
	resolved, err := filepath.EvalSymlinks(target)
	if err != nil {
		return nil //nolint:nilerr // Dangling links are allowed.
	}

	root, err := filepath.EvalSymlinks(dest)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dest, err)
	}

	rel, err := filepath.Rel(root, resolved)
	if err != nil || !filepath.IsLocal(rel) {
		return fmt.Errorf("%w: resolves to %s", errUnsafePath, resolved)
	}

	return nil
}

func writeHardLink(dest, name, linkname string) error {
	source := filepath.Clean(filepath.FromSlash(linkname))
	if !filepath.IsLocal(source) {
		return fmt.Errorf("%w: hard link %q -> %q", errUnsafePath, name, linkname)
	}

	// The source is looked up through the tree, so it must not cross a symlink either.
	if err := checkNoSymlinkParents(dest, source, false); err != nil {
		return fmt.Errorf("hard link %q -> %q: %w", name, linkname, err)
	}

	target := filepath.Join(dest, name)
	if err := prepareTarget(target); err != nil {
		return err
	}

	if err := os.Link(filepath.Join(dest, source), target); err != nil {
		return fmt.Errorf("create hard link %s: %w", name, err)
	}

	return nil
}

// prepareTarget creates the parent directory and drops an existing non-directory entry,
// so later archives can overlay earlier ones.
func prepareTarget(target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil { //nolint:gosec // Runtime trees are user-readable.
		return fmt.Errorf("create parent of %s: %w", target, err)
	}

	info, err := os.Lstat(target)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("inspect %s: %w", target, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", errUnsafePath, target)
	}

	if err = os.Remove(target); err != nil {
		return fmt.Errorf("replace %s: %w", target, err)
	}

	return nil
}
