// Package publish persists produced artifacts to object storage with bounded
// retry. Exhausted uploads degrade to a placeholder URL instead of failing.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maauso/mediapipe-api/internal/retry"
	"github.com/maauso/mediapipe-api/internal/storage"
)

// ErrStorageExhausted is carried by StoredArtifact.Err when every upload
// attempt failed.
var ErrStorageExhausted = errors.New("publish: storage upload exhausted")

// PlaceholderScheme prefixes URLs returned for artifacts that were not stored.
const PlaceholderScheme = "upload-failed://"

// DefaultSignedURLExpiry is the lifetime of signed URLs paired with uploads.
const DefaultSignedURLExpiry = 7 * 24 * time.Hour

// StoredArtifact is the published form of a media artifact. ViewURL and
// DownloadURL reference the same object.
type StoredArtifact struct {
	Filename    string
	MimeType    string
	Key         string
	Bytes       int64
	ViewURL     string
	DownloadURL string
	// Attempts is the number of upload attempts made.
	Attempts int
	// Degraded is set when the URLs are placeholders.
	Degraded bool
	// Err wraps ErrStorageExhausted when Degraded is set.
	Err error
}

// Observer receives the outcome of every publication.
type Observer interface {
	ObserveUpload(attempts int, degraded bool)
}

// Publisher uploads artifacts through a storage.Storage.
type Publisher struct {
	store  storage.Storage
	policy retry.Policy
	expiry time.Duration

	logger   *slog.Logger
	observer Observer
	now      func() time.Time
	newID    func() string
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithRetryPolicy overrides the default three attempt policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(pub *Publisher) {
		pub.policy = p
	}
}

// WithSignedURLExpiry sets the lifetime of paired signed URLs.
func WithSignedURLExpiry(d time.Duration) Option {
	return func(pub *Publisher) {
		if d > 0 {
			pub.expiry = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(pub *Publisher) {
		if logger != nil {
			pub.logger = logger
		}
	}
}

// WithObserver registers an Observer for upload metrics.
func WithObserver(o Observer) Option {
	return func(pub *Publisher) {
		pub.observer = o
	}
}

// New creates a Publisher.
func New(store storage.Storage, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		policy: retry.Default(),
		expiry: DefaultSignedURLExpiry,
		logger: slog.Default(),
		now:    time.Now,
		newID:  func() string { return uuid.NewString()[:8] },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish stores data under a unique key and returns its URL pair. It never
// fails: when every attempt is exhausted the result carries placeholder URLs,
// Degraded set and Err wrapping ErrStorageExhausted.
//
// With forceDownload the object is stored with an attachment disposition, the
// stored URL becomes DownloadURL and a signed inline URL becomes ViewURL.
// Otherwise the stored URL is the ViewURL and a signed attachment URL is the
// DownloadURL. A signing failure falls back to the stored URL.
func (p *Publisher) Publish(ctx context.Context, data []byte, filename, mimeType string, forceDownload bool) StoredArtifact {
	name := SanitizeFilename(filename)
	key := Key(p.now(), p.newID(), name)

	artifact := StoredArtifact{
		Filename: name,
		MimeType: mimeType,
		Key:      key,
		Bytes:    int64(len(data)),
	}

	disposition := ""
	if forceDownload {
		disposition = AttachmentDisposition(name)
	}

	var storedURL string
	attempts, err := retry.Do(ctx, p.policy, func(ctx context.Context, attempt int) error {
		u, err := p.store.Put(ctx, key, data, mimeType, disposition)
		if err != nil {
			p.logger.Warn("upload attempt failed",
				slog.String("key", key),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
			)
			return err
		}
		storedURL = u
		return nil
	})
	artifact.Attempts = attempts

	if p.observer != nil {
		p.observer.ObserveUpload(attempts, err != nil)
	}

	if err != nil {
		placeholder := Placeholder(name)
		artifact.ViewURL = placeholder
		artifact.DownloadURL = placeholder
		artifact.Degraded = true
		artifact.Err = fmt.Errorf("%w: %s: %w", ErrStorageExhausted, name, err)

		p.logger.Error("artifact publication degraded to placeholder",
			slog.String("key", key),
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()),
		)
		return artifact
	}

	if forceDownload {
		artifact.DownloadURL = storedURL
		artifact.ViewURL = p.signOrFallback(ctx, key, "inline", storedURL)
	} else {
		artifact.ViewURL = storedURL
		artifact.DownloadURL = p.signOrFallback(ctx, key, AttachmentDisposition(name), storedURL)
	}

	p.logger.Info("artifact published",
		slog.String("key", key),
		slog.Int64("bytes", artifact.Bytes),
		slog.Int("attempts", attempts),
	)
	return artifact
}

// SignedURL issues a fresh signed URL for key. With download set the response
// is served as an attachment named after the key's filename.
func (p *Publisher) SignedURL(ctx context.Context, key string, download bool) (string, error) {
	disposition := "inline"
	if download {
		disposition = AttachmentDisposition(FilenameFromKey(key))
	}
	return p.store.SignedURL(ctx, key, p.expiry, disposition)
}

// ExtractKey parses a URL previously returned by Publish back into its
// storage key. It reports false for placeholders and foreign or malformed URLs.
func (p *Publisher) ExtractKey(rawURL string) (string, bool) {
	if rawURL == "" || IsPlaceholder(rawURL) {
		return "", false
	}
	return p.store.KeyFromURL(rawURL)
}

func (p *Publisher) signOrFallback(ctx context.Context, key, disposition, fallback string) string {
	signed, err := p.store.SignedURL(ctx, key, p.expiry, disposition)
	if err != nil {
		p.logger.Warn("failed to sign artifact URL, using stored URL",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return fallback
	}
	return signed
}

// Key builds a storage key from a millisecond timestamp, a short random id
// and the filename.
func Key(now time.Time, id, filename string) string {
	return fmt.Sprintf("%d-%s-%s", now.UnixMilli(), id, filename)
}

// FilenameFromKey recovers the filename portion of a key built by Key.
func FilenameFromKey(key string) string {
	base := filepath.Base(key)
	parts := strings.SplitN(base, "-", 3)
	if len(parts) == 3 && parts[2] != "" {
		return parts[2]
	}
	return base
}

// Placeholder returns the marker URL used for an artifact that was not stored.
func Placeholder(filename string) string {
	return PlaceholderScheme + filename
}

// IsPlaceholder reports whether u is a placeholder URL.
func IsPlaceholder(u string) bool {
	return strings.HasPrefix(u, PlaceholderScheme)
}

// AttachmentDisposition returns a Content-Disposition header forcing a download.
func AttachmentDisposition(filename string) string {
	return fmt.Sprintf(`attachment; filename="%s"`, SanitizeFilename(filename))
}

// SanitizeFilename keeps the base name and replaces characters that are unsafe
// in object keys and header values.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" || name == "" {
		return "file"
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
