// Package storage provides the object storage port the publisher writes
// artifacts through, with an S3 adapter and a simulated adapter for
// development.
package storage

import (
	"context"
	"errors"
	"time"
)

// Static errors for storage operations.
var (
	// ErrEmptyKey is returned when an operation is given an empty object key.
	ErrEmptyKey = errors.New("storage: object key is required")
	// ErrBucketRequired is returned when a backend is created without a bucket.
	ErrBucketRequired = errors.New("storage: bucket is required")
)

// MaxSignedURLExpiry is the longest lifetime a SigV4 presigned URL accepts.
const MaxSignedURLExpiry = 7 * 24 * time.Hour

// Storage defines durable object storage for published artifacts.
type Storage interface {
	// Put stores data under key and returns a retrievable URL. A non-empty
	// disposition is stored as the object's Content-Disposition.
	Put(ctx context.Context, key string, data []byte, contentType, disposition string) (url string, err error)

	// SignedURL returns a time-limited GET URL for key. A non-empty
	// disposition overrides the Content-Disposition of the response.
	SignedURL(ctx context.Context, key string, expiry time.Duration, disposition string) (url string, err error)

	// KeyFromURL parses a URL previously issued by this backend back into its
	// object key. It reports false for URLs it did not issue or cannot parse.
	KeyFromURL(rawURL string) (key string, ok bool)
}

// clampExpiry bounds expiry to (0, MaxSignedURLExpiry].
func clampExpiry(expiry time.Duration) time.Duration {
	if expiry <= 0 || expiry > MaxSignedURLExpiry {
		return MaxSignedURLExpiry
	}
	return expiry
}
