package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/maauso/mediapipe-api/internal/download"
	"github.com/maauso/mediapipe-api/internal/media"
	"github.com/maauso/mediapipe-api/internal/notify"
	"github.com/maauso/mediapipe-api/internal/publish"
	"github.com/maauso/mediapipe-api/internal/segment"
	"github.com/maauso/mediapipe-api/internal/workspace"
)

// Static errors for the orchestrator.
var (
	// ErrValidation is returned by Submit for bad or missing input.
	ErrValidation = errors.New("job: validation failed")
	// ErrShuttingDown is returned by Submit once Shutdown has started.
	ErrShuttingDown = errors.New("job: service shutting down")
	// ErrPanic wraps a panic recovered inside a background job.
	ErrPanic = errors.New("job: unexpected fault")
	// ErrNoSegments is the failure cause when no story segment was published.
	ErrNoSegments = errors.New("job: no story segment published")
)

// DefaultCompressThreshold is the upload size above which the single-file
// flow re-encodes the video.
const DefaultCompressThreshold int64 = 50 << 20

// Workspaces allocates per-job scratch directories.
type Workspaces interface {
	Acquire(ctx context.Context) (*workspace.Workspace, error)
	Release(w *workspace.Workspace)
}

// Segmenter cuts a probed source into story segments.
type Segmenter interface {
	Run(ctx context.Context, src, outDir string, totalDuration float64, sourceBytes int64) (segment.Result, error)
}

// Downloader fetches remote sources into a workspace.
type Downloader interface {
	Fetch(ctx context.Context, rawURL string, ws *workspace.Workspace, name string) (string, int64, error)
}

// Publisher persists artifacts.
type Publisher interface {
	Publish(ctx context.Context, data []byte, filename, mimeType string, forceDownload bool) publish.StoredArtifact
}

// Recorder observes job lifecycle events.
type Recorder interface {
	JobStarted(kind string)
	JobFinished(kind, status string)
}

// Deps holds the collaborators of a Service.
type Deps struct {
	Repo       Repository
	Workspaces Workspaces
	Encoder    media.Encoder
	Segmenter  Segmenter
	Downloader Downloader
	Publisher  Publisher
	Notifier   notify.Notifier
	Recorder   Recorder
	Logger     *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithCompressThreshold sets the size above which uploads are compressed.
func WithCompressThreshold(n int64) ServiceOption {
	return func(s *Service) {
		if n >= 0 {
			s.compressThreshold = n
		}
	}
}

// WithFieldNames sets the completion payload keys.
func WithFieldNames(f notify.FieldNames) ServiceOption {
	return func(s *Service) {
		s.fields = f
	}
}

// WithRetention sets how long terminal jobs stay in the registry.
func WithRetention(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.retention = d
		}
	}
}

// Service validates submissions, acknowledges them and runs each job in its
// own goroutine. Every job ends with exactly one terminal notification and
// its workspace released.
type Service struct {
	repo       Repository
	workspaces Workspaces
	encoder    media.Encoder
	segmenter  Segmenter
	downloader Downloader
	publisher  Publisher
	notifier   notify.Notifier
	recorder   Recorder
	logger     *slog.Logger

	compressThreshold int64
	fields            notify.FieldNames
	retention         time.Duration

	mu       sync.Mutex
	closing  bool
	inflight sync.WaitGroup
}

// NewService creates a Service.
func NewService(deps Deps, opts ...ServiceOption) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := deps.Recorder
	if recorder == nil {
		recorder = noopRecorder{}
	}

	s := &Service{
		repo:              deps.Repo,
		workspaces:        deps.Workspaces,
		encoder:           deps.Encoder,
		segmenter:         deps.Segmenter,
		downloader:        deps.Downloader,
		publisher:         deps.Publisher,
		notifier:          deps.Notifier,
		recorder:          recorder,
		logger:            logger,
		compressThreshold: DefaultCompressThreshold,
		fields:            notify.DefaultFieldNames(),
		retention:         time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates the request, records the job as acknowledged and starts it
// in the background. It returns before any encoding work begins. The
// background run is detached from ctx cancellation.
func (s *Service) Submit(ctx context.Context, kind Kind, correlationID string, input Input) (*Job, error) {
	if err := Validate(kind, correlationID, input); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	j := New(kind, strings.TrimSpace(correlationID), input)
	if err := s.repo.Save(ctx, j); err != nil {
		s.inflight.Done()
		return nil, fmt.Errorf("save job: %w", err)
	}
	if err := j.Acknowledge(); err != nil {
		s.inflight.Done()
		return nil, err
	}
	s.save(ctx, j)

	s.logger.Info("job acknowledged",
		slog.String("job_id", j.ID),
		slog.String("correlation_id", j.CorrelationID),
		slog.String("kind", string(kind)),
	)

	ack := j.Clone()
	go s.run(context.WithoutCancel(ctx), j)

	return ack, nil
}

// Shutdown stops accepting jobs and waits for in-flight jobs or ctx.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for in-flight jobs: %w", ctx.Err())
	}
}

// GetJob retrieves a job by ID.
func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// Encoder exposes the encoder for health reporting.
func (s *Service) Encoder() media.Encoder {
	return s.encoder
}

// outcome is the result of the processing sequence of one job.
type outcome struct {
	status Status
	err    error
	stage  string
	stack  string
	// value is the completion payload value: the primary URL or URL list.
	value any
	extra map[string]any
	meta  map[string]any
}

func failed(stage string, err error) outcome {
	return outcome{status: StatusFailed, stage: stage, err: err}
}

func (s *Service) run(ctx context.Context, j *Job) {
	defer s.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job conclusion panicked",
				slog.String("job_id", j.ID),
				slog.Any("panic", r),
			)
		}
	}()

	s.recorder.JobStarted(string(j.Kind))
	if err := j.Start(); err != nil {
		s.logger.Error("failed to start job",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
	}
	s.save(ctx, j)

	s.execute(ctx, j)
}

// execute runs the workspace-scoped sequence. Deferred calls run in reverse:
// the terminal notification is sent first, then the workspace is released.
func (s *Service) execute(ctx context.Context, j *Job) {
	var (
		ws  *workspace.Workspace
		res outcome
	)

	defer func() {
		s.workspaces.Release(ws)
	}()
	defer func() {
		if r := recover(); r != nil {
			res = failed("internal", fmt.Errorf("%w: %v", ErrPanic, r))
			res.stack = string(debug.Stack())
		}
		s.conclude(ctx, j, res)
	}()

	var err error
	ws, err = s.workspaces.Acquire(ctx)
	if err != nil {
		res = failed("workspace", err)
		return
	}

	if err := s.encoder.Available(ctx); err != nil {
		res = failed("encoder", err)
		return
	}

	switch j.Kind {
	case KindStorySegments:
		res = s.processStory(ctx, j, ws)
	default:
		res = s.processUpload(ctx, j, ws)
	}
}

// processUpload compresses large uploads, publishes the video and publishes
// the extracted audio when available.
func (s *Service) processUpload(ctx context.Context, j *Job, ws *workspace.Workspace) outcome {
	name := publish.SanitizeFilename(j.Input.Filename)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	inputPath, err := ws.SaveFile(ctx, "input"+ext, bytes.NewReader(j.Input.Data))
	if err != nil {
		return failed("workspace", err)
	}

	videoData := j.Input.Data
	videoName := name
	videoMime := videoMimeType(j.Input.MimeType)
	compressed := false

	if int64(len(j.Input.Data)) > s.compressThreshold {
		result, err := s.encoder.Compress(ctx, inputPath, ws.Path("compressed.mp4"))
		if err != nil {
			return withStderr(failed("compress", err), err)
		}
		s.logger.Info("compression finished",
			slog.String("job_id", j.ID),
			slog.Int64("input_bytes", result.InputBytes),
			slog.Int64("output_bytes", result.OutputBytes),
			slog.Bool("use_original", result.UseOriginal),
		)
		if !result.UseOriginal {
			data, err := os.ReadFile(result.Path)
			if err != nil {
				return failed("compress", fmt.Errorf("read compressed output: %w", err))
			}
			videoData = data
			videoName = stem + ".mp4"
			videoMime = "video/mp4"
			compressed = true
		}
	}

	video := s.publisher.Publish(ctx, videoData, videoName, videoMime, false)
	if video.Degraded {
		res := failed("publish", video.Err)
		res.meta = map[string]any{"videoUrl": video.ViewURL}
		return res
	}
	j.AddArtifact(Artifact{
		Kind:        ArtifactVideo,
		Filename:    video.Filename,
		Bytes:       video.Bytes,
		ViewURL:     video.ViewURL,
		DownloadURL: video.DownloadURL,
	})

	res := outcome{
		status: StatusSucceeded,
		value:  video.ViewURL,
		extra: map[string]any{
			"downloadUrl": video.DownloadURL,
			"fileName":    video.Filename,
			"compressed":  compressed,
		},
	}

	audio, err := s.publishAudio(ctx, inputPath, ws.Path(stem+".mp3"))
	if err != nil {
		s.logger.Warn("audio artifact omitted",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		res.status = StatusPartialFailure
		res.err = err
		return res
	}

	j.AddArtifact(Artifact{
		Kind:        ArtifactAudio,
		Filename:    audio.Filename,
		Bytes:       audio.Bytes,
		ViewURL:     audio.ViewURL,
		DownloadURL: audio.DownloadURL,
	})
	res.extra["audioUrl"] = audio.DownloadURL
	res.extra["audioViewUrl"] = audio.ViewURL
	return res
}

var errAudioUnavailable = errors.New("job: audio extraction produced no output")

func (s *Service) publishAudio(ctx context.Context, src, dst string) (publish.StoredArtifact, error) {
	path := s.encoder.ExtractAudio(ctx, src, dst)
	if path == "" {
		return publish.StoredArtifact{}, errAudioUnavailable
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return publish.StoredArtifact{}, fmt.Errorf("read audio: %w", err)
	}
	audio := s.publisher.Publish(ctx, data, filepath.Base(path), "audio/mpeg", true)
	if audio.Degraded {
		return audio, audio.Err
	}
	return audio, nil
}

// processStory downloads the source, cuts it into segments and publishes each
// one as a forced download.
func (s *Service) processStory(ctx context.Context, j *Job, ws *workspace.Workspace) outcome {
	sourceName := "source" + filepath.Ext(publish.SanitizeFilename(download.FilenameFromURL(j.Input.URL, "source.mp4")))

	src, size, err := s.downloader.Fetch(ctx, j.Input.URL, ws, sourceName)
	if err != nil {
		return failed("download", err)
	}

	info, err := s.encoder.Probe(ctx, src)
	if err != nil {
		return failed("probe", err)
	}

	result, err := s.segmenter.Run(ctx, src, ws.Dir(), info.Duration, size)
	if err != nil {
		return withStderr(failed("segment", err), err)
	}

	urls := make([]string, 0, len(result.Segments))
	details := make([]map[string]any, 0, len(result.Segments))
	var lost []string
	for _, f := range result.Failures {
		lost = append(lost, segment.Filename(f.Window.Index))
	}

	for _, seg := range result.Segments {
		data, err := os.ReadFile(seg.Path)
		if err != nil {
			lost = append(lost, seg.Filename)
			continue
		}
		art := s.publisher.Publish(ctx, data, seg.Filename, "video/mp4", true)
		if art.Degraded {
			lost = append(lost, seg.Filename)
			continue
		}

		j.AddArtifact(Artifact{
			Kind:        ArtifactSegment,
			Filename:    art.Filename,
			Bytes:       art.Bytes,
			Duration:    seg.Duration,
			ViewURL:     art.ViewURL,
			DownloadURL: art.DownloadURL,
		})
		urls = append(urls, art.DownloadURL)
		details = append(details, map[string]any{
			"index":       seg.Window.Index,
			"fileName":    art.Filename,
			"downloadUrl": art.DownloadURL,
			"viewUrl":     art.ViewURL,
			"duration":    seg.Duration,
			"size":        art.Bytes,
			"reduced":     seg.Window.ForceLowerBitrate,
		})
	}

	if len(urls) == 0 {
		res := failed("publish", ErrNoSegments)
		res.meta = map[string]any{"lostSegments": lost}
		return res
	}

	res := outcome{
		status: StatusSucceeded,
		value:  urls,
		extra: map[string]any{
			"segments":      details,
			"segmentCount":  len(urls),
			"totalDuration": info.Duration,
		},
	}
	if len(lost) > 0 {
		res.status = StatusPartialFailure
		res.err = fmt.Errorf("segments not published: %s", strings.Join(lost, ", "))
		res.extra["lostSegments"] = lost
	}
	return res
}

// conclude moves the job to its terminal state and sends its one terminal
// notification.
func (s *Service) conclude(ctx context.Context, j *Job, res outcome) {
	if res.status == "" {
		res = failed("internal", errors.New("job ended without a result"))
	}

	var out notify.Outcome
	switch res.status {
	case StatusFailed:
		msg := res.err.Error()
		if err := j.Fail(msg); err != nil {
			s.logger.Error("invalid terminal transition", slog.String("job_id", j.ID), slog.String("error", err.Error()))
		}
		s.logger.Error("job failed",
			slog.String("job_id", j.ID),
			slog.String("stage", res.stage),
			slog.String("error", msg),
		)
		out = s.notifier.NotifyFailure(ctx, notify.FailureReport{
			ProcessType: processType(j.Kind),
			Error:       msg,
			Stack:       res.stack,
			Metadata:    s.failureMetadata(j, res),
		})
	default:
		var err error
		if res.status == StatusPartialFailure {
			err = j.PartiallyFail(res.err.Error())
		} else {
			err = j.Succeed()
		}
		if err != nil {
			s.logger.Error("invalid terminal transition", slog.String("job_id", j.ID), slog.String("error", err.Error()))
		}
		res.extra["jobId"] = j.ID
		res.extra["status"] = strings.ToLower(string(res.status))
		payload := notify.BuildCompletionPayload(s.fields, res.value, j.CorrelationID, res.extra)
		out = s.notifier.NotifyCompletion(ctx, payload)
	}

	j.SetNotification(string(out.Status))
	s.save(ctx, j)
	s.recorder.JobFinished(string(j.Kind), string(j.GetStatus()))

	attrs := []any{
		slog.String("job_id", j.ID),
		slog.String("status", string(j.GetStatus())),
		slog.String("notification", string(out.Status)),
		slog.Int("notification_attempts", out.Attempts),
	}
	if out.Status == notify.StatusExhausted {
		attrs = append(attrs, slog.String("notification_error", out.Err))
	}
	s.logger.Info("job finished", attrs...)

	if n, err := s.repo.PruneCompleted(ctx, time.Now().Add(-s.retention)); err == nil && n > 0 {
		s.logger.Debug("pruned finished jobs", slog.Int("count", n))
	}
}

func (s *Service) failureMetadata(j *Job, res outcome) map[string]any {
	meta := map[string]any{
		"jobId":         j.ID,
		"correlationId": j.CorrelationID,
		"stage":         res.stage,
	}
	if j.Input.Filename != "" {
		meta["fileName"] = j.Input.Filename
		meta["fileSize"] = len(j.Input.Data)
	}
	if j.Input.URL != "" {
		meta["videoUrl"] = j.Input.URL
	}
	for k, v := range res.meta {
		meta[k] = v
	}
	return meta
}

func (s *Service) save(ctx context.Context, j *Job) {
	if err := s.repo.Save(ctx, j); err != nil {
		s.logger.Warn("failed to record job state",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
	}
}

// withStderr attaches ffmpeg stderr as the failure stack detail.
func withStderr(res outcome, err error) outcome {
	var ffErr *media.FFmpegError
	if errors.As(err, &ffErr) {
		res.stack = ffErr.Stderr
	}
	return res
}

func processType(k Kind) notify.ProcessType {
	if k == KindStorySegments {
		return notify.ProcessStory
	}
	return notify.ProcessUpload
}

func videoMimeType(declared string) string {
	if strings.HasPrefix(declared, "video/") {
		return declared
	}
	return "video/mp4"
}

type noopRecorder struct{}

func (noopRecorder) JobStarted(string)          {}
func (noopRecorder) JobFinished(string, string) {}
