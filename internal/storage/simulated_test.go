package storage

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatedStorage_Put(t *testing.T) {
	s := NewSimulatedStorage("", nil)
	data := []byte("video bytes")

	got, err := s.Put(context.Background(), "a/clip.mp4", data, "video/mp4", `attachment; filename="clip.mp4"`)
	require.NoError(t, err)
	assert.Equal(t, "https://dev-storage.local/dev/a/clip.mp4", got)

	data[0] = 'X'
	obj, ok := s.Get("a/clip.mp4")
	require.True(t, ok)
	assert.Equal(t, "video bytes", string(obj.Data), "stored data must be a copy")
	assert.Equal(t, "video/mp4", obj.ContentType)
	assert.Equal(t, `attachment; filename="clip.mp4"`, obj.Disposition)
	assert.Equal(t, 1, s.Len())
}

func TestSimulatedStorage_Errors(t *testing.T) {
	s := NewSimulatedStorage("media", nil)

	_, err := s.Put(context.Background(), "", nil, "", "")
	assert.ErrorIs(t, err, ErrEmptyKey)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Put(ctx, "k", nil, "", "")
	assert.ErrorIs(t, err, context.Canceled)

	_, err = s.SignedURL(context.Background(), "", time.Hour, "")
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestSimulatedStorage_SignedURL(t *testing.T) {
	s := NewSimulatedStorage("media", nil)

	signed, err := s.SignedURL(context.Background(), "k.mp4", time.Hour, "inline")
	require.NoError(t, err)

	u, err := url.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, "3600", u.Query().Get("X-Dev-Expires"))
	assert.Equal(t, "inline", u.Query().Get("response-content-disposition"))

	key, ok := s.KeyFromURL(signed)
	assert.True(t, ok)
	assert.Equal(t, "k.mp4", key)
}

func TestSimulatedStorage_KeyFromURL(t *testing.T) {
	s := NewSimulatedStorage("media", nil)

	tests := []struct {
		url     string
		wantKey string
		wantOK  bool
	}{
		{"https://dev-storage.local/media/a/b.mp4", "a/b.mp4", true},
		{"https://dev-storage.local/other/b.mp4", "", false},
		{"https://dev-storage.local/media/", "", false},
		{"https://example.com/media/b.mp4", "", false},
		{"%%%", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			key, ok := s.KeyFromURL(tt.url)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}
