// Package fetch retrieves delimited-text resources by location.
//
// A location is either an http(s) URL or a local path (optionally prefixed
// with file://) resolved against Config.BaseDir. Cancellation is cooperative:
// callers pass a context and an aborted retrieval returns ctx.Err() wrapped.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Retriever returns the text stored at a location.
type Retriever interface {
	Retrieve(ctx context.Context, location string) (string, error)
}

// RetrieverFunc adapts a function to Retriever.
type RetrieverFunc func(ctx context.Context, location string) (string, error)

// Retrieve calls f.
func (f RetrieverFunc) Retrieve(ctx context.Context, location string) (string, error) {
	return f(ctx, location)
}

// Config configures the fetcher.
type Config struct {
	// BaseURL is prepended to locations that start with "/", e.g.
	// "http://localhost:3000". Empty = such locations are files under BaseDir.
	BaseURL string
	// BaseDir resolves relative and rooted file locations. Default: ".".
	BaseDir string
	// Timeout is the HTTP client timeout. Default: 0 (the caller's context
	// is the only boundary).
	Timeout time.Duration
	// MaxBytes caps the response body. Default: 32MB.
	MaxBytes int64
	// UserAgent sent with requests.
	UserAgent string
}

func (c *Config) defaults() {
	if c.BaseDir == "" {
		c.BaseDir = "."
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 32 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "knowdash/1.0"
	}
}

// Fetcher retrieves text over HTTP or from the local filesystem.
type Fetcher struct {
	client *http.Client
	config Config
}

// New creates a Fetcher.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				return nil
			},
		},
		config: cfg,
	}
}

// Retrieve implements Retriever.
func (f *Fetcher) Retrieve(ctx context.Context, location string) (string, error) {
	if location == "" {
		return "", fmt.Errorf("fetch: empty location")
	}
	if isHTTP(location) {
		return f.get(ctx, location)
	}
	if strings.HasPrefix(location, "/") && f.config.BaseURL != "" {
		return f.get(ctx, strings.TrimRight(f.config.BaseURL, "/")+location)
	}
	return f.readFile(ctx, location)
}

// Path resolves a file location to a filesystem path. ok is false for
// locations served over HTTP.
func (f *Fetcher) Path(location string) (path string, ok bool) {
	if location == "" || isHTTP(location) {
		return "", false
	}
	if strings.HasPrefix(location, "/") && f.config.BaseURL != "" {
		return "", false
	}
	p, err := f.resolve(location)
	if err != nil {
		return "", false
	}
	return p, true
}

func (f *Fetcher) get(ctx context.Context, u string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("fetch: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/csv, text/plain, */*")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch: http get %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("fetch: %s: http %d", u, resp.StatusCode)
	}

	body, err := readLimited(resp.Body, f.config.MaxBytes)
	if err != nil {
		return "", fmt.Errorf("fetch: read body %s: %w", u, err)
	}
	return string(body), nil
}

func (f *Fetcher) readFile(ctx context.Context, location string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("fetch: %s: %w", location, err)
	}
	path, err := f.resolve(location)
	if err != nil {
		return "", err
	}
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("fetch: open %s: %w", path, err)
	}
	defer file.Close()

	body, err := readLimited(file, f.config.MaxBytes)
	if err != nil {
		return "", fmt.Errorf("fetch: read %s: %w", path, err)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("fetch: %s: %w", location, err)
	}
	return string(body), nil
}

// resolve maps a location to a path. file:// URLs are taken as given; other
// locations, rooted or not, stay inside BaseDir.
func (f *Fetcher) resolve(location string) (string, error) {
	if strings.HasPrefix(location, "file://") {
		if u, err := url.Parse(location); err == nil && u.Path != "" {
			return filepath.FromSlash(u.Path), nil
		}
		return strings.TrimPrefix(location, "file://"), nil
	}
	// "/views.csv" is relative to the served directory, as on the web.
	return within(f.config.BaseDir, location)
}

func isHTTP(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}
