package segment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/mediapipe-api/internal/media"
)

type transcodeCall struct {
	dst   string
	start float64
	tier  media.Tier
}

// fakeTranscoder writes files whose size depends on the tier.
type fakeTranscoder struct {
	mu          sync.Mutex
	calls       []transcodeCall
	normalSize  int
	reducedSize int
	failStart   map[float64]error
	failReduced error
	probeErr    error
}

func (f *fakeTranscoder) TranscodeSegment(_ context.Context, _, dst string, start, _ float64, tier media.Tier) error {
	f.mu.Lock()
	f.calls = append(f.calls, transcodeCall{dst: dst, start: start, tier: tier})
	f.mu.Unlock()

	if err, ok := f.failStart[start]; ok {
		return err
	}
	size := f.normalSize
	if tier == media.TierReduced {
		if f.failReduced != nil {
			return f.failReduced
		}
		size = f.reducedSize
	}
	return os.WriteFile(dst, make([]byte, size), 0o600)
}

func (f *fakeTranscoder) Probe(_ context.Context, _ string) (media.ProbeInfo, error) {
	if f.probeErr != nil {
		return media.ProbeInfo{}, f.probeErr
	}
	return media.ProbeInfo{Duration: 59.96}, nil
}

func (f *fakeTranscoder) tiers() []media.Tier {
	f.mu.Lock()
	defer f.mu.Unlock()
	tiers := make([]media.Tier, len(f.calls))
	for i, c := range f.calls {
		tiers[i] = c.tier
	}
	return tiers
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "story-part-01.mp4", Filename(1))
	assert.Equal(t, "story-part-12.mp4", Filename(12))
}

func TestSegmenter_Run(t *testing.T) {
	t.Run("produces one file per window", func(t *testing.T) {
		enc := &fakeTranscoder{normalSize: 100}
		s := NewSegmenter(enc, PlanOpts{MaxBytes: 1000}, nil)
		dir := t.TempDir()

		res, err := s.Run(context.Background(), "src.mp4", dir, 130, 5000)
		require.NoError(t, err)
		require.Len(t, res.Segments, 3)
		assert.Empty(t, res.Failures)

		for i, seg := range res.Segments {
			assert.Equal(t, fmt.Sprintf("story-part-%02d.mp4", i+1), seg.Filename)
			assert.Equal(t, filepath.Join(dir, seg.Filename), seg.Path)
			assert.Equal(t, int64(100), seg.Bytes)
			assert.Equal(t, media.TierNormal, seg.Tier)
			assert.InDelta(t, 59.96, seg.Duration, 1e-9)
			assert.FileExists(t, seg.Path)
		}
		assert.Equal(t, []media.Tier{media.TierNormal, media.TierNormal, media.TierNormal}, enc.tiers())
	})

	t.Run("oversized segment is re-encoded exactly once", func(t *testing.T) {
		enc := &fakeTranscoder{normalSize: 2000, reducedSize: 1500}
		s := NewSegmenter(enc, PlanOpts{MaxBytes: 1000}, nil)
		dir := t.TempDir()

		res, err := s.Run(context.Background(), "src.mp4", dir, 40, 100)
		require.NoError(t, err)
		require.Len(t, res.Segments, 1)

		seg := res.Segments[0]
		assert.Equal(t, []media.Tier{media.TierNormal, media.TierReduced}, enc.tiers())
		assert.True(t, seg.Window.ForceLowerBitrate)
		assert.Equal(t, media.TierReduced, seg.Tier)
		assert.Equal(t, int64(1500), seg.Bytes, "reduced output kept even when still over budget")

		info, err := os.Stat(seg.Path)
		require.NoError(t, err)
		assert.Equal(t, int64(1500), info.Size())
		assert.NoFileExists(t, seg.Path+".reduced.mp4")
	})

	t.Run("failed reduced pass keeps normal output", func(t *testing.T) {
		enc := &fakeTranscoder{normalSize: 2000, failReduced: errors.New("boom")}
		s := NewSegmenter(enc, PlanOpts{MaxBytes: 1000}, nil)

		res, err := s.Run(context.Background(), "src.mp4", t.TempDir(), 40, 100)
		require.NoError(t, err)
		require.Len(t, res.Segments, 1)
		assert.Equal(t, int64(2000), res.Segments[0].Bytes)
		assert.Equal(t, media.TierNormal, res.Segments[0].Tier)
	})

	t.Run("failing window is skipped", func(t *testing.T) {
		enc := &fakeTranscoder{
			normalSize: 10,
			failStart:  map[float64]error{60: &media.FFmpegError{Err: errors.New("exit status 1")}},
		}
		s := NewSegmenter(enc, DefaultPlanOpts(), nil)

		res, err := s.Run(context.Background(), "src.mp4", t.TempDir(), 130, 1)
		require.NoError(t, err)
		require.Len(t, res.Segments, 2)
		require.Len(t, res.Failures, 1)
		assert.Equal(t, 2, res.Failures[0].Window.Index)
		assert.Equal(t, "story-part-01.mp4", res.Segments[0].Filename)
		assert.Equal(t, "story-part-03.mp4", res.Segments[1].Filename)
	})

	t.Run("unavailable encoder aborts", func(t *testing.T) {
		enc := &fakeTranscoder{
			failStart: map[float64]error{0: media.ErrEncoderUnavailable},
		}
		s := NewSegmenter(enc, DefaultPlanOpts(), nil)

		_, err := s.Run(context.Background(), "src.mp4", t.TempDir(), 130, 1)
		assert.ErrorIs(t, err, media.ErrEncoderUnavailable)
		assert.Len(t, enc.tiers(), 1)
	})

	t.Run("too short source", func(t *testing.T) {
		enc := &fakeTranscoder{}
		s := NewSegmenter(enc, DefaultPlanOpts(), nil)

		_, err := s.Run(context.Background(), "src.mp4", t.TempDir(), 1.5, 1)
		assert.ErrorIs(t, err, ErrTooShort)
		assert.Empty(t, enc.tiers())
	})

	t.Run("planned duration when probe fails", func(t *testing.T) {
		enc := &fakeTranscoder{normalSize: 10, probeErr: errors.New("no ffprobe")}
		s := NewSegmenter(enc, DefaultPlanOpts(), nil)

		res, err := s.Run(context.Background(), "src.mp4", t.TempDir(), 130, 1)
		require.NoError(t, err)
		require.Len(t, res.Segments, 3)
		assert.InDelta(t, 10.0, res.Segments[2].Duration, 1e-9)
	})
}
