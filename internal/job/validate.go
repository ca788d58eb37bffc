package job

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/maauso/mediapipe-api/internal/download"
)

var videoExtensions = []string{
	".mp4", ".mov", ".m4v", ".webm", ".mkv", ".avi",
	".mpeg", ".mpg", ".3gp", ".wmv", ".flv", ".ts",
}

// IsVideo reports whether the declared MIME type or the filename extension
// looks like video.
func IsVideo(mimeType, filename string) bool {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "video/") {
		return true
	}
	return slices.Contains(videoExtensions, strings.ToLower(filepath.Ext(filename)))
}

// Validate checks a submission before it is accepted. Errors wrap ErrValidation.
func Validate(kind Kind, correlationID string, in Input) error {
	if !kind.IsValid() {
		return fmt.Errorf("%w: unknown job kind %q", ErrValidation, kind)
	}
	if strings.TrimSpace(correlationID) == "" {
		return fmt.Errorf("%w: correlation id is required", ErrValidation)
	}

	switch kind {
	case KindStorySegments:
		if in.URL == "" {
			return fmt.Errorf("%w: video url is required", ErrValidation)
		}
		if err := download.ValidateURL(in.URL); err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
	default:
		if len(in.Data) == 0 {
			return fmt.Errorf("%w: video file is required", ErrValidation)
		}
		if in.Filename == "" {
			return fmt.Errorf("%w: filename is required", ErrValidation)
		}
		if !IsVideo(in.MimeType, in.Filename) {
			return fmt.Errorf("%w: %q (%s) is not a video", ErrValidation, in.Filename, in.MimeType)
		}
	}
	return nil
}
