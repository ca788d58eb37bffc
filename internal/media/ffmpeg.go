package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Story output geometry.
const (
	storyWidth  = 1080
	storyHeight = 1920
)

// Timeouts bounds each kind of encoder invocation.
type Timeouts struct {
	Compress time.Duration
	Extract  time.Duration
	Segment  time.Duration
	Probe    time.Duration
	Version  time.Duration
}

// DefaultTimeouts returns the production invocation budgets.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Compress: 10 * time.Minute,
		Extract:  5 * time.Minute,
		Segment:  5 * time.Minute,
		Probe:    time.Minute,
		Version:  10 * time.Second,
	}
}

// Observer receives the outcome of every encoder invocation.
type Observer interface {
	ObserveEncode(operation string, elapsed time.Duration, err error)
}

// FFmpegEncoder implements Encoder using the ffmpeg and ffprobe CLIs.
type FFmpegEncoder struct {
	ffmpegPath  string
	ffprobePath string
	timeouts    Timeouts
	logger      *slog.Logger
	observer    Observer

	available atomic.Bool
}

// EncoderOption configures an FFmpegEncoder.
type EncoderOption func(*FFmpegEncoder)

// WithFFprobePath sets the ffprobe binary. Defaults to "ffprobe".
func WithFFprobePath(path string) EncoderOption {
	return func(e *FFmpegEncoder) {
		if path != "" {
			e.ffprobePath = path
		}
	}
}

// WithTimeouts overrides the per-invocation budgets.
func WithTimeouts(t Timeouts) EncoderOption {
	return func(e *FFmpegEncoder) {
		e.timeouts = t
	}
}

// WithLogger sets the logger used for absorbed failures.
func WithLogger(logger *slog.Logger) EncoderOption {
	return func(e *FFmpegEncoder) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver registers an Observer for invocation metrics.
func WithObserver(o Observer) EncoderOption {
	return func(e *FFmpegEncoder) {
		e.observer = o
	}
}

// NewFFmpegEncoder creates a new FFmpegEncoder.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegEncoder(ffmpegPath string, opts ...EncoderOption) *FFmpegEncoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	e := &FFmpegEncoder{
		ffmpegPath:  ffmpegPath,
		ffprobePath: "ffprobe",
		timeouts:    DefaultTimeouts(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Available runs a lightweight version probe. A successful probe is cached;
// failures are re-checked on the next call.
func (e *FFmpegEncoder) Available(ctx context.Context) error {
	if e.available.Load() {
		return nil
	}

	if _, err := exec.LookPath(e.ffmpegPath); err != nil {
		return fmt.Errorf("%w: %w", ErrEncoderUnavailable, err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, e.timeouts.Version)
	defer cancel()

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(probeCtx, e.ffmpegPath, "-hide_banner", "-version")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: %w: %s", ErrEncoderUnavailable, err, strings.TrimSpace(string(out)))
	}

	e.available.Store(true)
	return nil
}

// Compress re-encodes src as H.264/AAC with CRF 28 and a fast preset.
func (e *FFmpegEncoder) Compress(ctx context.Context, src, dst string) (CompressResult, error) {
	if err := e.Available(ctx); err != nil {
		return CompressResult{}, err
	}

	// CRF 28 trades some quality for size; +faststart moves the moov atom to
	// the front so players can start before the download finishes.
	args := []string{
		"-y",
		"-i", src,
		"-c:v", "libx264",
		"-crf", "28",
		"-preset", "veryfast",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		dst,
	}
	if err := e.run(ctx, "compress", e.timeouts.Compress, args); err != nil {
		return CompressResult{}, err
	}

	in, err := os.Stat(src)
	if err != nil {
		return CompressResult{}, fmt.Errorf("stat source: %w", err)
	}
	out, err := os.Stat(dst)
	if err != nil {
		return CompressResult{}, fmt.Errorf("%w: %w", ErrEmptyOutput, err)
	}

	result := CompressResult{
		Path:        dst,
		InputBytes:  in.Size(),
		OutputBytes: out.Size(),
	}
	if out.Size() == 0 || out.Size() > in.Size() {
		result.Path = src
		result.UseOriginal = true
	}
	return result, nil
}

// ExtractAudio demuxes the audio track of src into a VBR MP3 at dst.
func (e *FFmpegEncoder) ExtractAudio(ctx context.Context, src, dst string) string {
	if err := e.Available(ctx); err != nil {
		e.logger.Warn("audio extraction skipped", slog.String("error", err.Error()))
		return ""
	}

	args := []string{
		"-y",
		"-i", src,
		"-vn",
		"-c:a", "libmp3lame",
		"-q:a", "2",
		dst,
	}
	if err := e.run(ctx, "extract_audio", e.timeouts.Extract, args); err != nil {
		e.logger.Warn("audio extraction failed",
			slog.String("src", src),
			slog.String("error", err.Error()),
		)
		return ""
	}

	if info, err := os.Stat(dst); err != nil || info.Size() == 0 {
		e.logger.Warn("audio extraction produced no output", slog.String("src", src))
		return ""
	}
	return dst
}

// TranscodeSegment cuts a window out of src and encodes it as a 9:16 story clip.
func (e *FFmpegEncoder) TranscodeSegment(ctx context.Context, src, dst string, start, duration float64, tier Tier) error {
	if start < 0 || duration <= 0 {
		return fmt.Errorf("%w: start=%.3f duration=%.3f", ErrInvalidWindow, start, duration)
	}
	if err := e.Available(ctx); err != nil {
		return err
	}

	videoRate, audioRate := tier.Bitrates()

	// scale: fit within 1080x1920 keeping aspect ratio
	// pad: center on a black 1080x1920 canvas
	filter := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:black,setsar=1",
		storyWidth, storyHeight, storyWidth, storyHeight)

	args := []string{
		"-y",
		"-ss", fmt.Sprintf("%.3f", start),
		"-t", fmt.Sprintf("%.3f", duration),
		"-i", src,
		"-vf", filter,
		"-c:v", "libx264",
		"-preset", "fast",
		"-b:v", videoRate,
		"-maxrate", videoRate,
		"-bufsize", doubleRate(videoRate),
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", audioRate,
		"-movflags", "+faststart",
		dst,
	}
	if err := e.run(ctx, "segment", e.timeouts.Segment, args); err != nil {
		return err
	}

	if info, err := os.Stat(dst); err != nil || info.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyOutput, dst)
	}
	return nil
}

// ffprobeOutput is the subset of `ffprobe -show_format -show_streams -of json` we read.
type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
	} `json:"format"`
}

// Probe returns duration, size and dimensions of a media file.
func (e *FFmpegEncoder) Probe(ctx context.Context, path string) (ProbeInfo, error) {
	probeCtx, cancel := context.WithTimeout(ctx, e.timeouts.Probe)
	defer cancel()

	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(probeCtx, e.ffprobePath,
		"-v", "error",
		"-show_format",
		"-show_streams",
		"-of", "json",
		path,
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(probeCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return ProbeInfo{}, fmt.Errorf("%w: ffprobe after %s", ErrEncodingTimeout, e.timeouts.Probe)
		}
		if ctx.Err() != nil {
			return ProbeInfo{}, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return ProbeInfo{}, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}

	return parseProbeOutput(stdout.Bytes())
}

// parseProbeOutput decodes ffprobe JSON into ProbeInfo.
func parseProbeOutput(data []byte) (ProbeInfo, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return ProbeInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	var info ProbeInfo
	if out.Format.Duration != "" {
		d, err := strconv.ParseFloat(out.Format.Duration, 64)
		if err != nil {
			return ProbeInfo{}, fmt.Errorf("parse duration: %w", err)
		}
		info.Duration = d
	}
	if out.Format.Size != "" {
		if size, err := strconv.ParseInt(out.Format.Size, 10, 64); err == nil {
			info.Size = size
		}
	}

	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if info.Width == 0 {
				info.Width = s.Width
				info.Height = s.Height
			}
			// Some containers only report duration per stream
			if info.Duration == 0 && s.Duration != "" {
				if d, err := strconv.ParseFloat(s.Duration, 64); err == nil {
					info.Duration = d
				}
			}
		case "audio":
			info.HasAudio = true
		}
	}

	return info, nil
}

// run executes ffmpeg with the given arguments under a hard timeout. The
// process is killed when the timeout elapses.
func (e *FFmpegEncoder) run(ctx context.Context, operation string, timeout time.Duration, args []string) (err error) {
	start := time.Now()
	defer func() {
		if e.observer != nil {
			e.observer.ObserveEncode(operation, time.Since(start), err)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(runCtx, e.ffmpegPath, append([]string{"-hide_banner", "-nostdin"}, args...)...)
	cmd.WaitDelay = 5 * time.Second

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if runErr := cmd.Run(); runErr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: %s after %s", ErrEncodingTimeout, operation, timeout)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    runErr,
		}
	}

	return nil
}

// doubleRate turns "4000k" into "8000k" for the rate-control buffer size.
func doubleRate(rate string) string {
	n, err := strconv.Atoi(strings.TrimSuffix(rate, "k"))
	if err != nil {
		return rate
	}
	return strconv.Itoa(n*2) + "k"
}

// Verify interface implementation at compile time.
var _ Encoder = (*FFmpegEncoder)(nil)
