package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/mediapipe-api/internal/job"
)

// DefaultMaxUploadBytes bounds POST /upload bodies.
const DefaultMaxUploadBytes int64 = 500 << 20

// multipartMemory is the part of a multipart body kept in memory; the rest
// spills to temporary files.
const multipartMemory = 32 << 20

// Submitter accepts jobs for background processing.
type Submitter interface {
	Submit(ctx context.Context, kind job.Kind, correlationID string, input job.Input) (*job.Job, error)
}

// URLSigner regenerates signed URLs for previously issued storage URLs.
type URLSigner interface {
	ExtractKey(rawURL string) (string, bool)
	SignedURL(ctx context.Context, key string, download bool) (string, error)
}

// HealthChecker reports whether the encoder can run.
type HealthChecker interface {
	Available(ctx context.Context) error
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	jobs           Submitter
	signer         URLSigner
	health         HealthChecker
	validator      *validator.Validate
	logger         *slog.Logger
	maxUploadBytes int64
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithMaxUploadBytes bounds the size of POST /upload bodies.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(jobs Submitter, signer URLSigner, health HealthChecker, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		jobs:           jobs,
		signer:         signer,
		health:         health,
		validator:      validator.New(),
		logger:         logger,
		maxUploadBytes: DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Encoder: "available"}
	if err := h.health.Available(r.Context()); err != nil {
		h.logger.Warn("encoder unavailable", slog.String("error", err.Error()))
		resp.Encoder = "unavailable"
	}
	writeJSON(w, http.StatusOK, resp)
}

// Upload handles POST /upload: a multipart body with the file in field
// "video" and the correlation id in field "profileId".
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if isTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit", "FILE_TOO_LARGE")
			return
		}
		h.logger.Warn("failed to parse multipart body", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid multipart body", "INVALID_MULTIPART")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("video")
	if err != nil {
		writeError(w, http.StatusBadRequest, "video file is required", "MISSING_FILE")
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		h.logger.Error("failed to read upload", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "failed to read upload", "INVALID_MULTIPART")
		return
	}

	req := UploadRequest{
		ProfileID: strings.TrimSpace(r.FormValue("profileId")),
		Filename:  header.Filename,
		MimeType:  header.Header.Get("Content-Type"),
		Size:      int64(len(data)),
	}
	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	h.submit(w, r, job.KindSingleFile, req.ProfileID, job.Input{
		Data:     data,
		Filename: req.Filename,
		MimeType: req.MimeType,
	}, "Video received, processing started")
}

// Story handles POST /story requests.
func (h *Handlers) Story(w http.ResponseWriter, r *http.Request) {
	var req StoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	h.submit(w, r, job.KindStorySegments, req.ProfileID, job.Input{URL: req.VideoURL},
		"Story request received, segments will be delivered by webhook")
}

// SignedURL handles GET /signed-url?url=...&download=true|false.
func (h *Handlers) SignedURL(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := SignedURLRequest{URL: q.Get("url")}
	if d := q.Get("download"); d != "" {
		v, err := strconv.ParseBool(d)
		if err != nil {
			writeError(w, http.StatusBadRequest, "download must be a boolean", "VALIDATION_ERROR")
			return
		}
		req.Download = v
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	key, ok := h.signer.ExtractKey(req.URL)
	if !ok {
		writeError(w, http.StatusBadRequest, "url is not a storage URL issued by this service", "INVALID_STORAGE_URL")
		return
	}

	signed, err := h.signer.SignedURL(r.Context(), key, req.Download)
	if err != nil {
		h.logger.Error("failed to sign url",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to sign url", "SIGNING_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, SignedURLResponse{Success: true, SignedURL: signed, Key: key})
}

// NotFound answers unknown routes.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "route not found: "+r.Method+" "+r.URL.Path, "NOT_FOUND")
}

func (h *Handlers) submit(w http.ResponseWriter, r *http.Request, kind job.Kind, correlationID string, input job.Input, message string) {
	accepted, err := h.jobs.Submit(r.Context(), kind, correlationID, input)
	switch {
	case errors.Is(err, job.ErrValidation):
		h.logger.Warn("job rejected", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	case errors.Is(err, job.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, "service is shutting down", "SHUTTING_DOWN")
		return
	case err != nil:
		h.logger.Error("failed to create job",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		return
	}

	h.logger.Info("job accepted",
		slog.String("job_id", accepted.ID),
		slog.String("correlation_id", accepted.CorrelationID),
		slog.String("kind", string(kind)),
	)

	writeJSON(w, http.StatusAccepted, AckResponse{
		Success:       true,
		Message:       message,
		CorrelationID: accepted.CorrelationID,
	})
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Success: false,
		Error:   message,
		Code:    code,
	})
}
