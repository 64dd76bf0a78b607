//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/oshokin/xlm/internal/config"
	"github.com/oshokin/xlm/internal/domain/xlcore"
)

// VersionFilename is the document a custom release location serves with the current tag.
const VersionFilename = "version"

// ErrAssetNotFound is returned when the latest release lacks the configured asset.
var ErrAssetNotFound = errors.New("release asset not found")

// ReleaseSource describes the latest published runtime release.
type ReleaseSource interface {
	Latest(ctx context.Context) (*xlcore.Release, error)
}

// GitHubSource reads runtime releases from a GitHub repository.
type GitHubSource struct {
	client *Client
	owner  string
	repo   string
	asset  string
}

// NewGitHubSource creates a source for the asset published in owner/repo releases.
func NewGitHubSource(client *Client, owner, repo, asset string) *GitHubSource {
	return &GitHubSource{
		client: client,
		owner:  owner,
		repo:   repo,
		asset:  asset,
	}
}

// Latest returns the newest release carrying the configured asset.
func (s *GitHubSource) Latest(ctx context.Context) (*xlcore.Release, error) {
	release, err := s.client.LatestRelease(ctx, s.owner, s.repo)
	if err != nil {
		return nil, err
	}

	asset := release.FindAsset(s.asset)
	if asset == nil {
		return nil, fmt.Errorf("%w: %s in %s/%s@%s", ErrAssetNotFound, s.asset, s.owner, s.repo, release.TagName)
	}

	return &xlcore.Release{
		Tag:         release.TagName,
		AssetURL:    asset.BrowserDownloadURL,
		AssetSize:   asset.Size,
		Digest:      asset.Digest,
		PublishedAt: release.PublishedAt,
	}, nil
}

// CustomSource reads runtime releases from a plain HTTP location that serves
// the current tag at <base>/version and the archive at <base>/<asset>.
type CustomSource struct {
	client  *Client
	baseURL string
	asset   string
}

// NewCustomSource creates a source rooted at baseURL.
func NewCustomSource(client *Client, baseURL, asset string) *CustomSource {
	return &CustomSource{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		asset:   asset,
	}
}

// Latest returns the release currently advertised by the custom location.
func (s *CustomSource) Latest(ctx context.Context) (*xlcore.Release, error) {
	tag, err := s.client.FetchText(ctx, s.baseURL+"/"+VersionFilename)
	if err != nil {
		return nil, fmt.Errorf("fetch custom release version: %w", err)
	}

	if tag == "" || strings.ContainsAny(tag, "\r\n") {
		return nil, fmt.Errorf("custom release version %q is malformed", tag)
	}

	return &xlcore.Release{
		Tag:      tag,
		AssetURL: s.baseURL + "/" + url.PathEscape(s.asset),
	}, nil
}

// NewReleaseSource picks the release source configured for the runtime.
//
//nolint:ireturn // Callers only need the capability.
func NewReleaseSource(cfg *config.Launch, client *Client) ReleaseSource {
	if cfg.CustomReleaseURL != "" {
		return NewCustomSource(client, cfg.CustomReleaseURL, cfg.ReleaseAsset)
	}

	return NewGitHubSource(client, cfg.RepoOwner, cfg.RepoName, cfg.ReleaseAsset)
}
