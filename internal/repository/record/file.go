package record

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/xlm/internal/config"
	"github.com/oshokin/xlm/internal/domain/xlcore"
)

// Repository defines persistence operations for the install record.
type Repository interface {
	Load(ctx context.Context) (*xlcore.Record, error)
	Save(ctx context.Context, record *xlcore.Record) error
}

// FileRepository persists the install record to a YAML file on disk.
type FileRepository struct {
	// path is the filesystem location of the record file.
	path string
	// mu protects concurrent access to the record file.
	mu sync.Mutex
}

var (
	// ErrNotFound is returned when no record has been written yet.
	ErrNotFound = errors.New("install record not found")
	// ErrCorrupt is returned when the record file exists but cannot be used.
	ErrCorrupt = errors.New("install record is corrupt")
)

// NewFileRepository creates a repository for the record of the given install directory.
func NewFileRepository(installDir string) *FileRepository {
	return &FileRepository{
		path: xlcore.NewLayout(installDir).RecordFile(),
	}
}

// Path returns the location of the record file.
func (r *FileRepository) Path() string {
	return r.path
}

// Load reads the record from disk.
// A record file holding only a bare version tag describes a runtime extracted
// straight into the install directory and is accepted as such.
func (r *FileRepository) Load(_ context.Context) (*xlcore.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read install record: %w", err)
	}

	trimmed := strings.TrimSpace(string(contents))
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty file", ErrCorrupt)
	}

	if !strings.ContainsAny(trimmed, ":\n") {
		return &xlcore.Record{
			InstalledVersion: trimmed,
			InstallPath:      filepath.Dir(r.path),
		}, nil
	}

	var record xlcore.Record
	if err = yaml.Unmarshal(contents, &record); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	if record.InstalledVersion == "" || record.InstallPath == "" {
		return nil, fmt.Errorf("%w: missing version or path", ErrCorrupt)
	}

	return &record, nil
}

// Save atomically replaces the record on disk.
func (r *FileRepository) Save(_ context.Context, record *xlcore.Record) error {
	if record == nil || record.InstalledVersion == "" || record.InstallPath == "" {
		return errors.New("install record is incomplete")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := yaml.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode install record: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), "."+filepath.Base(r.path)+"-*")
	if err != nil {
		return fmt.Errorf("create temporary record: %w", err)
	}

	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck // Already renamed on success.

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("write temporary record: %w", err)
	}

	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("sync temporary record: %w", err)
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temporary record: %w", err)
	}

	if err = os.Chmod(tmpPath, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("chmod temporary record: %w", err)
	}

	if err = os.Rename(tmpPath, r.path); err != nil {
		return fmt.Errorf("replace install record: %w", err)
	}

	return nil
}
