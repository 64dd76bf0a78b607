//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oshokin/xlm/internal/config"
	"github.com/oshokin/xlm/internal/version"
)

const (
	// DefaultBaseURL is the public GitHub API endpoint.
	DefaultBaseURL = "https://api.github.com"

	// maxJSONResponseBytes bounds release metadata responses.
	maxJSONResponseBytes = 10 << 20
	// maxTextResponseBytes bounds plain text responses such as a custom release version file.
	maxTextResponseBytes = 4 << 10
)

var (
	// ErrReleaseNotFound is returned when the repository has no published release.
	ErrReleaseNotFound = errors.New("release not found")
	// errRepoRequired is returned when owner or repository name is missing.
	errRepoRequired = errors.New("repository owner and name must be provided")
)

// RateLimitError is returned when the GitHub API rate limit is exceeded.
type RateLimitError struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Error formats the rate limit details as a human-readable message.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("GitHub API rate limit exceeded (%d remaining, resets at %s)",
		e.Remaining, e.ResetAt.UTC().Format("15:04 UTC"))
}

// StatusError is returned for unexpected HTTP status codes.
type StatusError struct {
	URL        string
	StatusCode int
}

// Error reports the redacted URL and the status code.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.URL, e.StatusCode)
}

// Release is a published GitHub release with its assets.
type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	Draft       bool      `json:"draft"`
	Prerelease  bool      `json:"prerelease"`
	PublishedAt time.Time `json:"published_at"`
	Assets      []Asset   `json:"assets"`
}

// Asset is a single downloadable file attached to a release.
type Asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
	// Digest is "sha256:<hex>" on releases published after GitHub started computing it.
	Digest string `json:"digest"`
}

// FindAsset returns the asset with the exact name or nil.
func (r *Release) FindAsset(name string) *Asset {
	for i := range r.Assets {
		if r.Assets[i].Name == name {
			return &r.Assets[i]
		}
	}

	return nil
}

// Client talks to the GitHub Releases API and downloads release assets.
type Client struct {
	// httpClient executes every request.
	httpClient *http.Client
	// baseURL is the API root, overridable for tests and GitHub Enterprise.
	baseURL string
	// token authenticates API requests to raise the rate limit.
	token string
	// userAgent is sent with every request.
	userAgent string

	// callTimeout is the default timeout for metadata calls. Downloads are bounded by ctx only.
	callTimeout time.Duration
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for metadata calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithBaseURL overrides the GitHub API base URL.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		if base != "" {
			c.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithToken sets a GitHub token for authenticated API requests.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		if userAgent != "" {
			c.userAgent = userAgent
		}
	}
}

// NewClient creates a release client with defaults suitable for api.github.com.
func NewClient(opts ...Option) *Client {
	client := &Client{
		httpClient:  http.DefaultClient,
		baseURL:     DefaultBaseURL,
		userAgent:   version.UserAgent(),
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// LatestRelease fetches the most recent stable release of owner/repo.
func (c *Client) LatestRelease(ctx context.Context, owner, repo string) (*Release, error) {
	if owner == "" || repo == "" {
		return nil, errRepoRequired
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	latestURL := fmt.Sprintf("%s/repos/%s/%s/releases/latest",
		c.baseURL, url.PathEscape(owner), url.PathEscape(repo))

	resp, err := c.do(callCtx, latestURL)
	if err != nil {
		return nil, fmt.Errorf("get latest release of %s/%s: %w", owner, repo, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Read-only response body.

	if err = checkRateLimit(resp); err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s/%s: %w", owner, repo, ErrReleaseNotFound)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: redactURL(latestURL), StatusCode: resp.StatusCode}
	}

	var release Release
	if err = json.NewDecoder(io.LimitReader(resp.Body, maxJSONResponseBytes)).Decode(&release); err != nil {
		return nil, fmt.Errorf("decode latest release of %s/%s: %w", owner, repo, err)
	}

	if release.TagName == "" {
		return nil, fmt.Errorf("latest release of %s/%s has no tag", owner, repo)
	}

	return &release, nil
}

// Download starts streaming the file at assetURL.
// The caller closes the returned body. The reported length is -1 when unknown.
func (c *Client) Download(ctx context.Context, assetURL string) (io.ReadCloser, int64, error) {
	resp, err := c.do(ctx, assetURL)
	if err != nil {
		return nil, 0, fmt.Errorf("download %s: %w", redactURL(assetURL), err)
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()

		return nil, 0, &StatusError{URL: redactURL(assetURL), StatusCode: resp.StatusCode}
	}

	return resp.Body, resp.ContentLength, nil
}

// FetchText returns the trimmed body of a small plain text document.
func (c *Client) FetchText(ctx context.Context, textURL string) (string, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.do(callCtx, textURL)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", redactURL(textURL), err)
	}
	defer resp.Body.Close() //nolint:errcheck // Read-only response body.

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{URL: redactURL(textURL), StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTextResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", redactURL(textURL), err)
	}

	return strings.TrimSpace(string(body)), nil
}

func (c *Client) do(ctx context.Context, reqURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)

	if c.isAPIHost(req.URL) {
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

		// The token never leaves the API host, even when downloads redirect to a CDN.
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	return resp, nil
}

func (c *Client) isAPIHost(reqURL *url.URL) bool {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return false
	}

	return strings.EqualFold(reqURL.Host, base.Host)
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}

// checkRateLimit returns a RateLimitError when the remaining quota reported by
// the X-RateLimit-* headers is zero.
func checkRateLimit(resp *http.Response) error {
	remaining, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining"))
	if err != nil || remaining > 0 {
		return nil //nolint:nilerr // Missing or malformed headers mean no limit information.
	}

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	limit, _ := strconv.Atoi(resp.Header.Get("X-RateLimit-Limit"))                 //nolint:errcheck // Best-effort header parsing.
	resetUnix, _ := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64) //nolint:errcheck // Best-effort header parsing.

	return &RateLimitError{
		Limit:     limit,
		Remaining: 0,
		ResetAt:   time.Unix(resetUnix, 0),
	}
}

// redactURL strips query parameters and fragments for safe inclusion in errors.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}

	u.RawQuery = ""
	u.Fragment = ""

	return u.String()
}
