// Package media wraps the ffmpeg/ffprobe binaries used to derive web and story
// artifacts from uploaded video.
package media

import (
	"context"
	"errors"
	"fmt"
)

// Static errors for encoder operations.
var (
	// ErrEncoderUnavailable is returned when the ffmpeg binary cannot be executed.
	ErrEncoderUnavailable = errors.New("media: encoder unavailable")
	// ErrEncodingTimeout is returned when an invocation exceeds its wall-clock budget.
	ErrEncodingTimeout = errors.New("media: encoding timed out")
	// ErrInvalidWindow is returned when a segment window has a negative start or non-positive duration.
	ErrInvalidWindow = errors.New("media: invalid segment window")
	// ErrEmptyOutput is returned when ffmpeg exits cleanly but produces no file.
	ErrEmptyOutput = errors.New("media: encoder produced no output")
	// ErrFFprobeExecution is returned when ffprobe command fails.
	ErrFFprobeExecution = errors.New("media: ffprobe execution failed")
)

// Tier selects the bitrate pair used when transcoding a story segment.
type Tier string

const (
	// TierNormal encodes at 4000k video / 128k audio.
	TierNormal Tier = "normal"
	// TierReduced encodes at 2500k video / 96k audio.
	TierReduced Tier = "reduced"
)

// Bitrates returns the ffmpeg video and audio bitrate arguments for the tier.
func (t Tier) Bitrates() (video, audio string) {
	if t == TierReduced {
		return "2500k", "96k"
	}
	return "4000k", "128k"
}

// CompressResult describes the outcome of a compression pass.
type CompressResult struct {
	// Path is the file to publish: the compressed output, or the source when
	// UseOriginal is set.
	Path string
	// UseOriginal is true when compression would have inflated the file.
	UseOriginal bool
	// InputBytes is the size of the source file.
	InputBytes int64
	// OutputBytes is the size of the compressed file.
	OutputBytes int64
}

// ProbeInfo holds container metadata reported by ffprobe.
type ProbeInfo struct {
	Duration float64
	Size     int64
	Width    int
	Height   int
	HasAudio bool
}

// Encoder defines the transformations the pipeline performs on media files.
type Encoder interface {
	// Available verifies that the encoding engine can be executed.
	// Returns ErrEncoderUnavailable if it cannot.
	Available(ctx context.Context) error

	// Probe reads duration and size metadata from a media file.
	Probe(ctx context.Context, path string) (ProbeInfo, error)

	// Compress re-encodes src into a web-optimized MP4 at dst. When the
	// result is larger than the source, the result points back at src.
	Compress(ctx context.Context, src, dst string) (CompressResult, error)

	// ExtractAudio writes an MP3 of the audio track of src to dst and returns
	// dst. Audio is optional: on any failure it returns an empty path.
	ExtractAudio(ctx context.Context, src, dst string) string

	// TranscodeSegment writes a 1080x1920 MP4 covering [start, start+duration)
	// of src to dst using the bitrates of tier.
	TranscodeSegment(ctx context.Context, src, dst string, start, duration float64, tier Tier) error
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}
