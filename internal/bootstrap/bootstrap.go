// Package bootstrap provides dependency initialization for the media pipeline.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maauso/mediapipe-api/internal/config"
	"github.com/maauso/mediapipe-api/internal/download"
	"github.com/maauso/mediapipe-api/internal/job"
	"github.com/maauso/mediapipe-api/internal/media"
	"github.com/maauso/mediapipe-api/internal/metrics"
	"github.com/maauso/mediapipe-api/internal/notify"
	"github.com/maauso/mediapipe-api/internal/publish"
	"github.com/maauso/mediapipe-api/internal/segment"
	"github.com/maauso/mediapipe-api/internal/storage"
	"github.com/maauso/mediapipe-api/internal/workspace"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Service   *job.Service
	Publisher *publish.Publisher
	Encoder   *media.FFmpegEncoder
	Metrics   *metrics.Metrics
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	m := metrics.New()

	store, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	workspaces, err := workspace.NewManager(cfg.TempDir, logger)
	if err != nil {
		return nil, fmt.Errorf("create workspace manager: %w", err)
	}

	encoder := media.NewFFmpegEncoder(cfg.FFmpegPath,
		media.WithFFprobePath(cfg.FFprobePath),
		media.WithLogger(logger),
		media.WithObserver(m),
	)
	if err := encoder.Available(ctx); err != nil {
		// Jobs fail fast with a failure notification while ffmpeg is missing.
		logger.Warn("encoder not available at startup", slog.String("error", err.Error()))
	}

	segmenter := segment.NewSegmenter(encoder, segment.PlanOpts{
		MaxDuration: float64(cfg.StoryMaxSegmentSec),
		MinDuration: segment.DefaultMinDuration,
		MaxBytes:    cfg.StoryMaxSegmentBytes(),
	}, logger)

	publisher := publish.New(store,
		publish.WithSignedURLExpiry(cfg.SignedURLExpiry),
		publish.WithLogger(logger),
		publish.WithObserver(m),
	)

	notifier := notify.NewWebhookNotifier(cfg.WebhookURL, cfg.ErrorWebhookURL,
		notify.WithLogger(logger),
		notify.WithObserver(m),
	)

	svc := job.NewService(job.Deps{
		Repo:       job.NewMemoryRepository(),
		Workspaces: workspaces,
		Encoder:    encoder,
		Segmenter:  segmenter,
		Downloader: download.New(cfg.MaxUploadBytes(), download.WithLogger(logger)),
		Publisher:  publisher,
		Notifier:   notifier,
		Recorder:   m,
		Logger:     logger,
	},
		job.WithCompressThreshold(cfg.CompressThresholdBytes()),
		job.WithFieldNames(notify.FieldNames{Value: cfg.WebhookURLField, ID: cfg.WebhookIDField}),
	)

	return &Dependencies{
		Service:   svc,
		Publisher: publisher,
		Encoder:   encoder,
		Metrics:   m,
	}, nil
}

// initStorage creates the storage backend: simulated in dev mode, S3 otherwise.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.DevMode {
		logger.Warn("DEV_MODE enabled: artifacts are kept in memory and URLs are simulated")
		return storage.NewSimulatedStorage(cfg.S3Bucket, logger), nil
	}

	s3Store, err := storage.NewS3Storage(ctx, storage.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 storage: %w", err)
	}
	logger.Info("S3 storage configured",
		slog.String("bucket", cfg.S3Bucket),
		slog.String("region", cfg.S3Region),
	)
	return s3Store, nil
}
