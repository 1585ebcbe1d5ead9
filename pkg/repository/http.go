package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opsforge/buildsync/pkg/buildref"
)

// HTTPClient talks to an HTTP artifact repository. Listing a prefix returns a
// JSON array of artifact entries; artifacts themselves are plain GETs under
// the prefix.
type HTTPClient struct {
	base     *url.URL
	httpc    *http.Client
	username string
	password string
	logger   *slog.Logger
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithBasicAuth sets credentials sent on every repository request.
func WithBasicAuth(username, password string) HTTPOption {
	return func(c *HTTPClient) {
		c.username = username
		c.password = password
	}
}

// WithTimeout bounds each repository call, downloads included.
func WithTimeout(d time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		c.httpc.Timeout = d
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) HTTPOption {
	return func(c *HTTPClient) {
		c.logger = logger
	}
}

// NewHTTPClient creates a client for the repository at baseURL.
func NewHTTPClient(baseURL string, opts ...HTTPOption) (*HTTPClient, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse repository URL: %w", err)
	}
	c := &HTTPClient{
		base:   base,
		httpc:  &http.Client{Timeout: 5 * time.Minute},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// listingEntry is one artifact in the repository's JSON listing.
type listingEntry struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	SHA256       string    `json:"sha256,omitempty"`
	LastModified time.Time `json:"lastModified"`
}

// ListCandidates fetches the JSON listing under prefix. One repository call
// per invocation. Entries whose names do not embed a build date and number
// fall back to the listing's lastModified date with build number zero.
func (c *HTTPClient) ListCandidates(ctx context.Context, prefix string) ([]Candidate, error) {
	u := c.resolve(prefix) + "/"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build listing request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.setAuth(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, u, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrRepositoryEmpty
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s: auth rejected (status %d)", ErrUnreachable, u, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: %s: status %d", ErrUnreachable, u, resp.StatusCode)
	}

	var entries []listingEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("%w: %s: decode listing: %v", ErrUnreachable, u, err)
	}
	if len(entries) == 0 {
		return nil, ErrRepositoryEmpty
	}

	candidates := make([]Candidate, 0, len(entries))
	for _, e := range entries {
		ref, ok := buildref.ParseArtifactName(e.Name)
		if !ok {
			if e.LastModified.IsZero() {
				c.logger.Warn("skipping artifact with no parsable build reference", "name", e.Name)
				continue
			}
			ref = buildref.New(e.LastModified, 0)
		}
		candidates = append(candidates, Candidate{Ref: ref, Name: e.Name, Size: e.Size, SHA256: e.SHA256})
	}
	if len(candidates) == 0 {
		return nil, ErrRepositoryEmpty
	}
	return candidates, nil
}

// Download streams the artifact to destPath. The stream goes to
// destPath+".partial" and is renamed into place only after size and checksum
// verification, so a prior successful download is never partially
// overwritten.
func (c *HTTPClient) Download(ctx context.Context, prefix string, cand Candidate, destPath string) (int64, error) {
	u := c.resolve(prefix) + "/" + url.PathEscape(cand.Name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("build download request: %w", err)
	}
	c.setAuth(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, c.classifyNetErr(u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: %s: status %d", ErrUnreachable, u, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, fmt.Errorf("create staging directory: %w", err)
	}

	partial := destPath + ".partial"
	f, err := os.Create(partial)
	if err != nil {
		return 0, fmt.Errorf("create staging file: %w", err)
	}

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(f, hasher), resp.Body)
	closeErr := f.Close()
	if err != nil {
		os.Remove(partial)
		return 0, c.classifyNetErr(u, err)
	}
	if closeErr != nil {
		os.Remove(partial)
		return 0, fmt.Errorf("close staging file: %w", closeErr)
	}

	if cand.Size > 0 && written != cand.Size {
		os.Remove(partial)
		return 0, fmt.Errorf("%w: %s: got %d bytes, repository reported %d", ErrDownloadIncomplete, cand.Name, written, cand.Size)
	}
	if cand.SHA256 != "" {
		got := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(got, cand.SHA256) {
			os.Remove(partial)
			return 0, fmt.Errorf("%w: %s: sha256 mismatch", ErrDownloadIncomplete, cand.Name)
		}
	}

	if err := os.Rename(partial, destPath); err != nil {
		os.Remove(partial)
		return 0, fmt.Errorf("finalize staging file: %w", err)
	}
	return written, nil
}

func (c *HTTPClient) resolve(prefix string) string {
	return strings.TrimRight(c.base.String(), "/") + "/" + strings.Trim(prefix, "/")
}

func (c *HTTPClient) setAuth(req *http.Request) {
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
}

// classifyNetErr maps transport errors onto the package taxonomy.
func (c *HTTPClient) classifyNetErr(u string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return fmt.Errorf("%w: %s: %v", ErrDownloadTimeout, u, err)
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %s: %v", ErrDownloadTimeout, u, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnreachable, u, err)
}
