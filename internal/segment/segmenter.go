package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/maauso/mediapipe-api/internal/media"
)

// ErrTooShort is returned when the source yields no viable window.
var ErrTooShort = errors.New("segment: source shorter than minimum segment duration")

// Transcoder is the subset of media.Encoder the segmenter drives.
type Transcoder interface {
	TranscodeSegment(ctx context.Context, src, dst string, start, duration float64, tier media.Tier) error
	Probe(ctx context.Context, path string) (media.ProbeInfo, error)
}

// Segment is a transcoded story clip on disk.
type Segment struct {
	Window   Window
	Filename string
	Path     string
	Bytes    int64
	// Duration is the measured duration, or the planned one when probing fails.
	Duration float64
	Tier     media.Tier
}

// Failure records a window that could not be transcoded.
type Failure struct {
	Window Window
	Err    error
}

// Result lists produced segments in plan order and the windows that failed.
type Result struct {
	Segments []Segment
	Failures []Failure
}

// Segmenter transcodes each planned window and applies the reduced-tier retry.
type Segmenter struct {
	encoder Transcoder
	opts    PlanOpts
	logger  *slog.Logger
}

// NewSegmenter creates a Segmenter. Zero option fields take the defaults.
func NewSegmenter(encoder Transcoder, opts PlanOpts, logger *slog.Logger) *Segmenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Segmenter{
		encoder: encoder,
		opts:    opts.withDefaults(),
		logger:  logger,
	}
}

// Opts returns the effective planner options.
func (s *Segmenter) Opts() PlanOpts {
	return s.opts
}

// Filename returns the published name of the 1-based segment index.
func Filename(index int) string {
	return fmt.Sprintf("story-part-%02d.mp4", index)
}

// Run plans src and writes one MP4 per window into outDir. A window that fails
// to transcode is recorded and skipped; an unavailable encoder or a cancelled
// context aborts the run.
func (s *Segmenter) Run(ctx context.Context, src, outDir string, totalDuration float64, sourceBytes int64) (Result, error) {
	windows := Plan(totalDuration, sourceBytes, s.opts)
	if len(windows) == 0 {
		return Result{}, fmt.Errorf("%w: %.2fs", ErrTooShort, totalDuration)
	}

	s.logger.Info("segment plan computed",
		slog.Float64("total_duration", totalDuration),
		slog.Int64("source_bytes", sourceBytes),
		slog.Int("segments", len(windows)),
	)

	var result Result
	for _, w := range windows {
		seg, err := s.transcode(ctx, src, outDir, w)
		if err != nil {
			if errors.Is(err, media.ErrEncoderUnavailable) || ctx.Err() != nil {
				return result, err
			}
			s.logger.Warn("segment skipped",
				slog.Int("index", w.Index),
				slog.Float64("start", w.Start),
				slog.String("error", err.Error()),
			)
			result.Failures = append(result.Failures, Failure{Window: w, Err: err})
			continue
		}
		result.Segments = append(result.Segments, seg)
	}

	return result, nil
}

func (s *Segmenter) transcode(ctx context.Context, src, outDir string, w Window) (Segment, error) {
	name := Filename(w.Index)
	dst := filepath.Join(outDir, name)

	if err := s.encoder.TranscodeSegment(ctx, src, dst, w.Start, w.Duration, media.TierNormal); err != nil {
		return Segment{}, fmt.Errorf("transcode %s: %w", name, err)
	}

	size, err := fileSize(dst)
	if err != nil {
		return Segment{}, err
	}

	seg := Segment{
		Window:   w,
		Filename: name,
		Path:     dst,
		Bytes:    size,
		Tier:     media.TierNormal,
	}

	if s.opts.NeedsReducedTier(size) {
		seg = s.reduce(ctx, src, seg)
	}

	seg.Duration = seg.Window.Duration
	if info, err := s.encoder.Probe(ctx, seg.Path); err == nil && info.Duration > 0 {
		seg.Duration = info.Duration
	}

	return seg, nil
}

// reduce re-encodes the window once at the reduced tier and keeps that output
// even if it is still over budget. If the reduced pass fails the normal
// output is kept.
func (s *Segmenter) reduce(ctx context.Context, src string, seg Segment) Segment {
	seg.Window.ForceLowerBitrate = true
	tmp := seg.Path + ".reduced.mp4"

	s.logger.Info("segment over size budget, re-encoding at reduced bitrate",
		slog.String("segment", seg.Filename),
		slog.Int64("bytes", seg.Bytes),
		slog.Int64("max_bytes", s.opts.MaxBytes),
	)

	if err := s.encoder.TranscodeSegment(ctx, src, tmp, seg.Window.Start, seg.Window.Duration, media.TierReduced); err != nil {
		_ = os.Remove(tmp)
		s.logger.Warn("reduced bitrate pass failed, keeping normal output",
			slog.String("segment", seg.Filename),
			slog.String("error", err.Error()),
		)
		return seg
	}

	size, err := fileSize(tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return seg
	}
	if err := os.Rename(tmp, seg.Path); err != nil {
		_ = os.Remove(tmp)
		s.logger.Warn("failed to replace segment with reduced output",
			slog.String("segment", seg.Filename),
			slog.String("error", err.Error()),
		)
		return seg
	}

	if size > s.opts.MaxBytes {
		s.logger.Warn("segment still over size budget after reduced pass",
			slog.String("segment", seg.Filename),
			slog.Int64("bytes", size),
		)
	}

	seg.Bytes = size
	seg.Tier = media.TierReduced
	return seg
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat segment: %w", err)
	}
	return info.Size(), nil
}
