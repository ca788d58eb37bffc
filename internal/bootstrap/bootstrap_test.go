package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/mediapipe-api/internal/config"
)

func devConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		TempDir:             t.TempDir(),
		FFmpegPath:          "ffmpeg-not-installed-for-tests",
		FFprobePath:         "ffprobe-not-installed-for-tests",
		MaxUploadMB:         500,
		CompressThresholdMB: 50,
		StoryMaxSegmentSec:  60,
		StoryMaxSegmentMB:   100,
		DevMode:             true,
		SignedURLExpiry:     time.Hour,
		WebhookURLField:     "videoUrl",
		WebhookIDField:      "profileId",
	}
}

func TestNewDependencies_DevMode(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	deps, err := NewDependencies(context.Background(), devConfig(t), logger)

	require.NoError(t, err)
	assert.NotNil(t, deps.Service)
	assert.NotNil(t, deps.Publisher)
	assert.NotNil(t, deps.Encoder)
	assert.NotNil(t, deps.Metrics)

	// The simulated store issues URLs the publisher can map back to keys.
	art := deps.Publisher.Publish(context.Background(), []byte("data"), "clip.mp4", "video/mp4", false)
	require.False(t, art.Degraded)
	key, ok := deps.Publisher.ExtractKey(art.ViewURL)
	assert.True(t, ok)
	assert.Equal(t, art.Key, key)
}

func TestNewDependencies_S3RequiresBucket(t *testing.T) {
	cfg := devConfig(t)
	cfg.DevMode = false

	_, err := NewDependencies(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.Error(t, err)
}
