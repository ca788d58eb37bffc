// Package download fetches remote source videos into a job workspace.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/maauso/mediapipe-api/internal/workspace"
)

// Static errors for downloads.
var (
	// ErrInvalidURL is returned for URLs that are not absolute http(s) URLs.
	ErrInvalidURL = errors.New("download: invalid URL")
	// ErrTooLarge is returned when the body exceeds the configured limit.
	ErrTooLarge = errors.New("download: file exceeds size limit")
	// ErrBadStatus is returned when the server answers with a non-200 status.
	ErrBadStatus = errors.New("download: unexpected status")
)

// Downloader streams HTTP resources to disk under a size and time bound.
type Downloader struct {
	httpClient *http.Client
	timeout    time.Duration
	maxBytes   int64
	logger     *slog.Logger
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Downloader) {
		d.httpClient = c
	}
}

// WithTimeout bounds a whole download. Defaults to 5 minutes.
func WithTimeout(t time.Duration) Option {
	return func(d *Downloader) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Downloader) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New creates a Downloader refusing bodies larger than maxBytes.
// A non-positive maxBytes disables the limit.
func New(maxBytes int64, opts ...Option) *Downloader {
	d := &Downloader{
		httpClient: &http.Client{},
		timeout:    5 * time.Minute,
		maxBytes:   maxBytes,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Fetch downloads rawURL into ws as name and returns the file path and size.
func (d *Downloader) Fetch(ctx context.Context, rawURL string, ws *workspace.Workspace, name string) (string, int64, error) {
	if err := ValidateURL(rawURL); err != nil {
		return "", 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("download: create request: %w", err)
	}

	start := time.Now()
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("download: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}
	if d.maxBytes > 0 && resp.ContentLength > d.maxBytes {
		return "", 0, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, resp.ContentLength, d.maxBytes)
	}

	body := &countingReader{r: resp.Body, limit: d.maxBytes}
	p, err := ws.SaveFile(ctx, name, body)
	if err != nil {
		return "", 0, fmt.Errorf("download: save: %w", err)
	}

	d.logger.Info("source downloaded",
		slog.String("name", name),
		slog.Int64("bytes", body.n),
		slog.Duration("elapsed", time.Since(start)),
	)
	return p, body.n, nil
}

// FilenameFromURL returns the last path element of rawURL, or fallback.
func FilenameFromURL(rawURL, fallback string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fallback
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return fallback
	}
	return base
}

// ValidateURL checks that rawURL is an absolute http or https URL.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	return nil
}

// countingReader counts bytes read and fails once limit is exceeded.
type countingReader struct {
	r     io.Reader
	n     int64
	limit int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if c.limit > 0 && c.n > c.limit {
		return n, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, c.limit)
	}
	return n, err
}
