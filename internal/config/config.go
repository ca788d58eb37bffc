// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrStorageRequired is returned when S3_BUCKET/S3_REGION are missing outside dev mode.
	ErrStorageRequired = errors.New("config: S3_BUCKET and S3_REGION are required unless DEV_MODE is enabled")
	// ErrInvalidFieldName is returned when a webhook payload field name is blank.
	ErrInvalidFieldName = errors.New("config: webhook field names must not be empty")
	// ErrInvalidLimit is returned when a size or duration limit is not positive.
	ErrInvalidLimit = errors.New("config: limits must be positive")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int      `env:"PORT, default=8080" json:"port"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS, default=*" json:"allowed_origins"`

	// Scratch space for per-job workspaces
	TempDir string `env:"TEMP_DIR, default=/tmp/mediapipe" json:"temp_dir"`

	// Encoder settings
	FFmpegPath  string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// Processing limits
	MaxUploadMB         int `env:"MAX_UPLOAD_MB, default=500" json:"max_upload_mb"`
	CompressThresholdMB int `env:"COMPRESS_THRESHOLD_MB, default=50" json:"compress_threshold_mb"`
	StoryMaxSegmentSec  int `env:"STORY_MAX_SEGMENT_SEC, default=60" json:"story_max_segment_sec"`
	StoryMaxSegmentMB   int `env:"STORY_MAX_SEGMENT_MB, default=100" json:"story_max_segment_mb"`

	// Storage settings
	DevMode            bool          `env:"DEV_MODE, default=false" json:"dev_mode"`
	S3Bucket           string        `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string        `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string        `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string        `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string        `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON
	SignedURLExpiry    time.Duration `env:"SIGNED_URL_EXPIRY, default=168h" json:"signed_url_expiry"`

	// Notification settings
	WebhookURL      string `env:"WEBHOOK_URL" json:"webhook_url,omitempty"`
	ErrorWebhookURL string `env:"ERROR_WEBHOOK_URL" json:"error_webhook_url,omitempty"`
	WebhookURLField string `env:"WEBHOOK_URL_FIELD, default=videoUrl" json:"webhook_url_field"`
	WebhookIDField  string `env:"WEBHOOK_ID_FIELD, default=profileId" json:"webhook_id_field"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// MaxUploadBytes returns the upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// CompressThresholdBytes returns the size above which uploads are recompressed.
func (c *Config) CompressThresholdBytes() int64 {
	return int64(c.CompressThresholdMB) << 20
}

// StoryMaxSegmentBytes returns the per-segment byte budget.
func (c *Config) StoryMaxSegmentBytes() int64 {
	return int64(c.StoryMaxSegmentMB) << 20
}

// Load reads configuration from environment variables using go-envconfig
// and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if !c.DevMode && !c.S3Enabled() {
		return ErrStorageRequired
	}
	if strings.TrimSpace(c.WebhookURLField) == "" || strings.TrimSpace(c.WebhookIDField) == "" {
		return ErrInvalidFieldName
	}
	if c.MaxUploadMB <= 0 || c.CompressThresholdMB <= 0 || c.StoryMaxSegmentSec <= 0 || c.StoryMaxSegmentMB <= 0 {
		return ErrInvalidLimit
	}
	if c.SignedURLExpiry <= 0 {
		return ErrInvalidLimit
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, DevMode: %t, S3Bucket: %s, S3Region: %s, WebhookURL: %s, ErrorWebhookURL: %s, MaxUploadMB: %d, StoryMaxSegmentSec: %d, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.DevMode,
		c.S3Bucket,
		c.S3Region,
		c.WebhookURL,
		c.ErrorWebhookURL,
		c.MaxUploadMB,
		c.StoryMaxSegmentSec,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
