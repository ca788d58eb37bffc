// Package server provides the HTTP boundary of the media pipeline: job
// submission, signed URL regeneration, health and metrics.
package server

// UploadRequest holds the validated form fields of POST /upload.
type UploadRequest struct {
	// ProfileID is the caller correlation id echoed in notifications.
	ProfileID string `validate:"required,max=256"`
	// Filename is the client-side name of the uploaded file.
	Filename string `validate:"required,max=512"`
	// MimeType is the declared content type of the file part.
	MimeType string `validate:"max=256"`
	// Size is the number of bytes received.
	Size int64 `validate:"min=1"`
}

// StoryRequest is the HTTP request body for POST /story.
type StoryRequest struct {
	// VideoURL is the remote source video.
	VideoURL string `json:"videoUrl" validate:"required,url,max=2048"`
	// ProfileID is the caller correlation id echoed in notifications.
	ProfileID string `json:"profileId" validate:"required,max=256"`
}

// SignedURLRequest holds the query parameters of GET /signed-url.
type SignedURLRequest struct {
	// URL is a storage URL previously issued by the publisher.
	URL string `validate:"required,url"`
	// Download selects an attachment disposition instead of inline.
	Download bool
}

// AckResponse acknowledges an accepted job. It says nothing about the outcome,
// which is only reported through notifications.
type AckResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId"`
}

// SignedURLResponse carries a freshly signed URL.
type SignedURLResponse struct {
	Success   bool   `json:"success"`
	SignedURL string `json:"signedUrl"`
	Key       string `json:"key"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Success bool `json:"success"`
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// Encoder is "available" or "unavailable".
	Encoder string `json:"encoder"`
}
