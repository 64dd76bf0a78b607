// Package resolver decides whether the installed runtime matches the latest release.
package resolver

import (
	"context"
	"errors"

	"github.com/oshokin/xlm/internal/domain/xlcore"
	"github.com/oshokin/xlm/internal/logger"
)

// Status is the outcome of a version check.
type Status int

const (
	// StatusUnknown means the latest release could not be determined.
	StatusUnknown Status = iota
	// StatusUpToDate means the installed tag equals the latest tag.
	StatusUpToDate
	// StatusUpdateAvailable means the latest release differs from what is installed.
	StatusUpdateAvailable
)

// String returns the status name used in logs.
func (s Status) String() string {
	switch s {
	case StatusUpToDate:
		return "up-to-date"
	case StatusUpdateAvailable:
		return "update-available"
	default:
		return "unknown"
	}
}

// Source describes the latest published release.
type Source interface {
	Latest(ctx context.Context) (*xlcore.Release, error)
}

// Resolution is the result of comparing an install record with the latest release.
type Resolution struct {
	Status Status
	// Release is the latest release, nil when Status is StatusUnknown.
	Release *xlcore.Release
	// InstalledVersion is empty when nothing is installed.
	InstalledVersion string
	// Err is the reason the status is unknown.
	Err error
}

// Resolver compares install records against a release source.
type Resolver struct {
	source Source
}

var errNoRelease = errors.New("release source returned no release")

// New creates a resolver backed by source.
func New(source Source) *Resolver {
	return &Resolver{source: source}
}

// Resolve compares installed (nil when nothing is installed) with the latest release.
// Tags are compared as opaque strings: any difference is an update, even a downgrade.
// A failed query yields StatusUnknown whether or not anything is installed.
func (r *Resolver) Resolve(ctx context.Context, installed *xlcore.Record) *Resolution {
	resolution := new(Resolution)
	if installed != nil {
		resolution.InstalledVersion = installed.InstalledVersion
	}

	release, err := r.source.Latest(ctx)
	if err == nil && (release == nil || release.Tag == "") {
		err = errNoRelease
	}

	if err != nil {
		resolution.Status = StatusUnknown
		resolution.Err = err

		logger.WarnKV(ctx, "Unable to determine the latest release",
			"installed", resolution.InstalledVersion, "error", err)

		return resolution
	}

	resolution.Release = release

	switch {
	case installed == nil:
		resolution.Status = StatusUpdateAvailable
	case installed.InstalledVersion == release.Tag:
		resolution.Status = StatusUpToDate
	default:
		resolution.Status = StatusUpdateAvailable
	}

	logger.InfoKV(ctx, "Resolved release",
		"installed", resolution.InstalledVersion, "latest", release.Tag, "status", resolution.Status)

	return resolution
}
