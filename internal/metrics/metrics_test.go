package metrics

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/mediapipe-api/internal/media"
	"github.com/maauso/mediapipe-api/internal/notify"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_Jobs(t *testing.T) {
	m := New()

	m.JobStarted("story-segments")
	m.JobStarted("single-file")
	m.JobFinished("single-file", "SUCCEEDED")

	body := scrape(t, m)
	assert.Contains(t, body, `mediapipe_jobs_accepted_total{kind="story-segments"} 1`)
	assert.Contains(t, body, `mediapipe_jobs_finished_total{kind="single-file",status="SUCCEEDED"} 1`)
	assert.Contains(t, body, "mediapipe_active_jobs 1")
}

func TestMetrics_Observers(t *testing.T) {
	m := New()

	m.ObserveEncode("compress", 2*time.Second, nil)
	m.ObserveEncode("segment", time.Second, media.ErrEncodingTimeout)
	m.ObserveEncode("segment", time.Second, &media.FFmpegError{Err: fmt.Errorf("exit status 1")})
	m.ObserveUpload(3, false)
	m.ObserveUpload(3, true)
	m.ObserveNotification("completion", notify.StatusDelivered)

	body := scrape(t, m)
	assert.Contains(t, body, `mediapipe_encode_duration_seconds_count{operation="compress",result="ok"} 1`)
	assert.Contains(t, body, `mediapipe_encode_duration_seconds_count{operation="segment",result="timeout"} 1`)
	assert.Contains(t, body, `mediapipe_encode_duration_seconds_count{operation="segment",result="failed"} 1`)
	assert.Contains(t, body, `mediapipe_uploads_total{result="stored"} 1`)
	assert.Contains(t, body, `mediapipe_uploads_total{result="degraded"} 1`)
	assert.Contains(t, body, "mediapipe_upload_attempts_count 2")
	assert.Contains(t, body, `mediapipe_notifications_total{kind="completion",status="delivered"} 1`)
}

func TestMetrics_ObserveRequest(t *testing.T) {
	m := New()

	m.ObserveRequest("POST", "POST /upload", 202, 40*time.Millisecond)
	m.ObserveRequest("GET", "", 404, time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, `mediapipe_http_requests_total{code="202",method="POST",route="POST /upload"} 1`)
	assert.Contains(t, body, `mediapipe_http_requests_total{code="404",method="GET",route="unmatched"} 1`)
	assert.Contains(t, body, `mediapipe_http_request_duration_seconds_count{method="POST",route="POST /upload"} 1`)
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	a := New()
	b := New()

	a.JobStarted("single-file")

	assert.NotContains(t, scrape(t, b), `mediapipe_jobs_accepted_total{kind="single-file"}`)
	assert.NotSame(t, a.Registry(), b.Registry())
}

func TestEncodeResult(t *testing.T) {
	assert.Equal(t, "ok", encodeResult(nil))
	assert.Equal(t, "unavailable", encodeResult(media.ErrEncoderUnavailable))
	assert.Equal(t, "error", encodeResult(fmt.Errorf("ffmpeg cancelled")))
}
