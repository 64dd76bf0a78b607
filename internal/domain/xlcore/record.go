package xlcore

import "time"

// Record describes the runtime tree currently installed on disk.
type Record struct {
	// InstalledVersion is the release tag the tree was extracted from.
	InstalledVersion string `yaml:"version"`
	// InstallPath is the directory holding the extracted runtime.
	InstallPath string `yaml:"path"`
}

// Clone returns a copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}

	cloned := *r

	return &cloned
}

// Release is one published release of the runtime.
type Release struct {
	// Tag is the release identifier compared against Record.InstalledVersion.
	Tag string
	// AssetURL is where the release archive is downloaded from.
	AssetURL string
	// AssetSize is the expected archive length in bytes, zero when unknown.
	AssetSize int64
	// Digest is "<algorithm>:<hex>", empty when the source publishes none.
	Digest string
	// PublishedAt is when the release was published, zero when unknown.
	PublishedAt time.Time
}
