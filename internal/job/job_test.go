package job

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func uploadInput() Input {
	return Input{Data: []byte("video-bytes"), Filename: "clip.mp4", MimeType: "video/mp4"}
}

func TestNew(t *testing.T) {
	job := New(KindSingleFile, "profile-1", uploadInput())

	if job.ID == "" {
		t.Error("expected job to have an ID")
	}
	if job.Status != StatusAccepted {
		t.Errorf("expected status %s, got %s", StatusAccepted, job.Status)
	}
	if job.CorrelationID != "profile-1" {
		t.Errorf("expected correlation id profile-1, got %s", job.CorrelationID)
	}
	if job.CreatedAt.IsZero() || job.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
	if job.Artifacts == nil {
		t.Error("expected Artifacts to be initialized")
	}
}

func TestNewWithID(t *testing.T) {
	job := NewWithID("test-job-123", KindStorySegments, "p", Input{URL: "https://example.com/a.mp4"})

	if job.ID != "test-job-123" {
		t.Errorf("expected ID test-job-123, got %s", job.ID)
	}
	if job.Kind != KindStorySegments {
		t.Errorf("expected kind %s, got %s", KindStorySegments, job.Kind)
	}
}

func TestKind_IsValid(t *testing.T) {
	if !KindSingleFile.IsValid() || !KindStorySegments.IsValid() {
		t.Error("expected known kinds to be valid")
	}
	if Kind("batch").IsValid() {
		t.Error("expected unknown kind to be invalid")
	}
}

func TestJob_ValidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr bool
	}{
		{"ACCEPTED to ACKNOWLEDGED", StatusAccepted, StatusAcknowledged, false},
		{"ACKNOWLEDGED to PROCESSING", StatusAcknowledged, StatusProcessing, false},
		{"ACKNOWLEDGED to FAILED", StatusAcknowledged, StatusFailed, false},
		{"PROCESSING to SUCCEEDED", StatusProcessing, StatusSucceeded, false},
		{"PROCESSING to PARTIAL_FAILURE", StatusProcessing, StatusPartialFailure, false},
		{"PROCESSING to FAILED", StatusProcessing, StatusFailed, false},
		{"ACCEPTED to PROCESSING", StatusAccepted, StatusProcessing, true},
		{"ACCEPTED to SUCCEEDED", StatusAccepted, StatusSucceeded, true},
		{"ACKNOWLEDGED to SUCCEEDED", StatusAcknowledged, StatusSucceeded, true},
		{"SUCCEEDED to PROCESSING", StatusSucceeded, StatusProcessing, true},
		{"FAILED to SUCCEEDED", StatusFailed, StatusSucceeded, true},
		{"PARTIAL_FAILURE to FAILED", StatusPartialFailure, StatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewWithID("j", KindSingleFile, "p", Input{})
			job.Status = tt.from

			err := job.TransitionTo(tt.to)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("expected ErrInvalidTransition, got %v", err)
				}
				if job.Status != tt.from {
					t.Errorf("status changed on rejected transition: %s", job.Status)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if job.Status != tt.to {
				t.Errorf("expected status %s, got %s", tt.to, job.Status)
			}
		})
	}
}

func TestJob_Lifecycle(t *testing.T) {
	job := New(KindSingleFile, "p", uploadInput())

	if err := job.Acknowledge(); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if err := job.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if job.StartedAt.IsZero() {
		t.Error("expected StartedAt to be set")
	}
	if job.IsTerminal() {
		t.Error("processing job must not be terminal")
	}
	if err := job.Succeed(); err != nil {
		t.Fatalf("Succeed: %v", err)
	}
	if job.CompletedAt.IsZero() {
		t.Error("expected CompletedAt to be set")
	}
	if !job.IsTerminal() {
		t.Error("expected terminal job")
	}
}

func TestJob_Fail(t *testing.T) {
	job := New(KindSingleFile, "p", uploadInput())
	_ = job.Acknowledge()

	if err := job.Fail("encoder unavailable"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if job.GetStatus() != StatusFailed {
		t.Errorf("expected FAILED, got %s", job.GetStatus())
	}
	if job.Error != "encoder unavailable" {
		t.Errorf("unexpected error message %q", job.Error)
	}
}

func TestJob_PartiallyFail(t *testing.T) {
	job := New(KindSingleFile, "p", uploadInput())
	_ = job.Acknowledge()
	_ = job.Start()

	if err := job.PartiallyFail("audio missing"); err != nil {
		t.Fatalf("PartiallyFail: %v", err)
	}
	if job.GetStatus() != StatusPartialFailure {
		t.Errorf("expected PARTIAL_FAILURE, got %s", job.GetStatus())
	}
	if !job.IsTerminal() {
		t.Error("partial failure is terminal")
	}
}

func TestJob_CannotLeaveTerminalState(t *testing.T) {
	job := New(KindSingleFile, "p", uploadInput())
	_ = job.Acknowledge()
	_ = job.Start()
	_ = job.Succeed()

	for _, s := range []Status{StatusProcessing, StatusFailed, StatusPartialFailure, StatusAcknowledged} {
		if err := job.TransitionTo(s); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("transition to %s: expected ErrInvalidTransition, got %v", s, err)
		}
	}
}

func TestJob_AddArtifactAndNotification(t *testing.T) {
	job := New(KindSingleFile, "p", uploadInput())
	before := job.UpdatedAt
	time.Sleep(time.Millisecond)

	job.AddArtifact(Artifact{Kind: ArtifactVideo, Filename: "clip.mp4", Bytes: 10})
	job.SetNotification("delivered")

	if len(job.Artifacts) != 1 || job.Artifacts[0].Kind != ArtifactVideo {
		t.Errorf("unexpected artifacts %+v", job.Artifacts)
	}
	if job.Notification != "delivered" {
		t.Errorf("unexpected notification %q", job.Notification)
	}
	if !job.UpdatedAt.After(before) {
		t.Error("expected UpdatedAt to advance")
	}
}

func TestJob_Clone(t *testing.T) {
	job := New(KindSingleFile, "p", uploadInput())
	job.AddArtifact(Artifact{Kind: ArtifactVideo, Filename: "clip.mp4"})

	clone := job.Clone()

	if clone.ID != job.ID || clone.Status != job.Status {
		t.Error("clone must carry identity and status")
	}
	if clone.Input.Data != nil {
		t.Error("clone must drop the input buffer")
	}
	if clone.Input.Filename != "clip.mp4" {
		t.Errorf("clone must keep input metadata, got %q", clone.Input.Filename)
	}

	clone.Artifacts[0].Filename = "changed"
	if job.Artifacts[0].Filename != "clip.mp4" {
		t.Error("modifying clone artifacts affected original")
	}
	if job.Input.Data == nil {
		t.Error("cloning must not clear the original buffer")
	}
}

func TestJob_GetStatus_ThreadSafe(t *testing.T) {
	job := New(KindSingleFile, "p", uploadInput())
	_ = job.Acknowledge()
	_ = job.Start()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = job.GetStatus()
		}()
		go func() {
			defer wg.Done()
			job.AddArtifact(Artifact{Kind: ArtifactSegment})
		}()
	}
	wg.Wait()

	if len(job.Clone().Artifacts) != 50 {
		t.Errorf("expected 50 artifacts, got %d", len(job.Artifacts))
	}
}
