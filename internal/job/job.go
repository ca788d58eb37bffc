// Package job provides the Job aggregate for media pipeline jobs, its state
// machine, an in-memory registry and the Service that runs jobs in the
// background.
package job

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/maauso/mediapipe-api/internal/job/id"
)

// Kind selects the pipeline flow a job runs.
type Kind string

const (
	// KindSingleFile compresses an uploaded video and extracts its audio.
	KindSingleFile Kind = "single-file"
	// KindStorySegments downloads a remote video and cuts vertical story segments.
	KindStorySegments Kind = "story-segments"
)

// IsValid returns true if the kind is known.
func (k Kind) IsValid() bool {
	return k == KindSingleFile || k == KindStorySegments
}

// Status represents the current state of a Job.
type Status string

const (
	// StatusAccepted indicates the request passed validation.
	StatusAccepted Status = "ACCEPTED"
	// StatusAcknowledged indicates the caller has been answered.
	StatusAcknowledged Status = "ACKNOWLEDGED"
	// StatusProcessing indicates the background sequence is running.
	StatusProcessing Status = "PROCESSING"
	// StatusSucceeded indicates every artifact was published.
	StatusSucceeded Status = "SUCCEEDED"
	// StatusPartialFailure indicates the primary artifact was published but an
	// optional one was not.
	StatusPartialFailure Status = "PARTIAL_FAILURE"
	// StatusFailed indicates the primary transformation or publication failed.
	StatusFailed Status = "FAILED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusAccepted:       {StatusAcknowledged},
	StatusAcknowledged:   {StatusProcessing, StatusFailed},
	StatusProcessing:     {StatusSucceeded, StatusPartialFailure, StatusFailed},
	StatusSucceeded:      {},
	StatusPartialFailure: {},
	StatusFailed:         {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	return slices.Contains(allowed, to)
}

// Input references the source media of a job: an uploaded buffer or a remote URL.
type Input struct {
	Data     []byte
	Filename string
	MimeType string
	URL      string
}

// ArtifactKind classifies a published artifact.
type ArtifactKind string

const (
	// ArtifactVideo is the compressed (or original) upload.
	ArtifactVideo ArtifactKind = "video"
	// ArtifactAudio is the extracted MP3.
	ArtifactAudio ArtifactKind = "audio"
	// ArtifactSegment is one story clip.
	ArtifactSegment ArtifactKind = "segment"
)

// Artifact records a published output of a job.
type Artifact struct {
	Kind        ArtifactKind
	Filename    string
	Bytes       int64
	Duration    float64
	ViewURL     string
	DownloadURL string
	Degraded    bool
}

// Job represents a media pipeline job aggregate.
type Job struct {
	mu sync.RWMutex

	// ID is the internal identifier for this job.
	ID string
	// CorrelationID is the caller-supplied identifier echoed in notifications.
	CorrelationID string
	// Kind is the pipeline flow.
	Kind Kind
	// Input is the source media.
	Input Input
	// Status is the current job state.
	Status Status
	// Artifacts lists published outputs in production order.
	Artifacts []Artifact
	// Error contains the failure message for FAILED and PARTIAL_FAILURE jobs.
	Error string
	// Notification is the outcome of the terminal notification.
	Notification string
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when the job reached a terminal state.
	CompletedAt time.Time
}

// New creates an ACCEPTED job with a generated ID.
func New(kind Kind, correlationID string, input Input) *Job {
	return NewWithID(id.Generate(), kind, correlationID, input)
}

// NewWithID creates an ACCEPTED job with the specified ID.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(jobID string, kind Kind, correlationID string, input Input) *Job {
	now := time.Now()
	return &Job{
		ID:            jobID,
		CorrelationID: correlationID,
		Kind:          kind,
		Input:         input,
		Status:        StatusAccepted,
		Artifacts:     make([]Artifact, 0),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusProcessing:
		j.StartedAt = j.UpdatedAt
	case StatusSucceeded, StatusPartialFailure, StatusFailed:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Acknowledge transitions the job from ACCEPTED to ACKNOWLEDGED.
func (j *Job) Acknowledge() error {
	return j.TransitionTo(StatusAcknowledged)
}

// Start transitions the job from ACKNOWLEDGED to PROCESSING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusProcessing)
}

// Succeed transitions the job to SUCCEEDED.
func (j *Job) Succeed() error {
	return j.TransitionTo(StatusSucceeded)
}

// PartiallyFail transitions the job to PARTIAL_FAILURE, recording what was lost.
func (j *Job) PartiallyFail(errMsg string) error {
	j.mu.Lock()
	j.Error = errMsg
	j.mu.Unlock()
	return j.TransitionTo(StatusPartialFailure)
}

// Fail transitions the job to FAILED state with an error message.
func (j *Job) Fail(errMsg string) error {
	j.mu.Lock()
	j.Error = errMsg
	j.mu.Unlock()
	return j.TransitionTo(StatusFailed)
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// AddArtifact appends a published artifact.
func (j *Job) AddArtifact(a Artifact) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Artifacts = append(j.Artifacts, a)
	j.UpdatedAt = time.Now()
}

// SetNotification records the terminal notification outcome.
func (j *Job) SetNotification(outcome string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Notification = outcome
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusSucceeded ||
		j.Status == StatusPartialFailure ||
		j.Status == StatusFailed
}

// Clone creates a copy of the job for safe reads. The input buffer is not
// carried over so registries never retain uploaded bytes.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	artifacts := make([]Artifact, len(j.Artifacts))
	copy(artifacts, j.Artifacts)

	input := j.Input
	input.Data = nil

	return &Job{
		ID:            j.ID,
		CorrelationID: j.CorrelationID,
		Kind:          j.Kind,
		Input:         input,
		Status:        j.Status,
		Artifacts:     artifacts,
		Error:         j.Error,
		Notification:  j.Notification,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
		StartedAt:     j.StartedAt,
		CompletedAt:   j.CompletedAt,
	}
}
