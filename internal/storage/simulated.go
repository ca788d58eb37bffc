package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"
)

// simulatedHost is the host of every URL issued by SimulatedStorage.
const simulatedHost = "dev-storage.local"

// Object is an artifact held by SimulatedStorage.
type Object struct {
	Key         string
	Data        []byte
	ContentType string
	Disposition string
}

// SimulatedStorage keeps objects in memory and issues synthetic URLs. It
// backs development mode so the pipeline runs without cloud credentials.
type SimulatedStorage struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string]Object
	logger  *slog.Logger
}

// NewSimulatedStorage creates a SimulatedStorage. An empty bucket defaults to "dev".
func NewSimulatedStorage(bucket string, logger *slog.Logger) *SimulatedStorage {
	if bucket == "" {
		bucket = "dev"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SimulatedStorage{
		bucket:  bucket,
		objects: make(map[string]Object),
		logger:  logger,
	}
}

// Put records the object and returns its synthetic URL.
func (s *SimulatedStorage) Put(ctx context.Context, key string, data []byte, contentType, disposition string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context cancelled: %w", err)
	}

	obj := Object{
		Key:         key,
		Data:        append([]byte(nil), data...),
		ContentType: contentType,
		Disposition: disposition,
	}

	s.mu.Lock()
	s.objects[key] = obj
	s.mu.Unlock()

	s.logger.Info("simulated upload",
		slog.String("key", key),
		slog.Int("bytes", len(data)),
		slog.String("content_type", contentType),
	)

	return s.objectURL(key), nil
}

// SignedURL returns the object URL with synthetic expiry and disposition parameters.
func (s *SimulatedStorage) SignedURL(_ context.Context, key string, expiry time.Duration, disposition string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}

	q := url.Values{}
	q.Set("X-Dev-Expires", fmt.Sprintf("%d", int64(clampExpiry(expiry).Seconds())))
	if disposition != "" {
		q.Set("response-content-disposition", disposition)
	}
	return s.objectURL(key) + "?" + q.Encode(), nil
}

// KeyFromURL parses URLs issued by Put and SignedURL.
func (s *SimulatedStorage) KeyFromURL(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host != simulatedHost {
		return "", false
	}
	key := strings.TrimPrefix(u.Path, "/"+s.bucket+"/")
	if key == "" || key == u.Path {
		return "", false
	}
	return key, true
}

// Get returns a stored object.
func (s *SimulatedStorage) Get(key string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	return obj, ok
}

// Len returns the number of stored objects.
func (s *SimulatedStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

func (s *SimulatedStorage) objectURL(key string) string {
	return fmt.Sprintf("https://%s/%s/%s", simulatedHost, s.bucket, key)
}

// Verify interface implementation at compile time.
var _ Storage = (*SimulatedStorage)(nil)
