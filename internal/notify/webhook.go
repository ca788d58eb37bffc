// Package notify delivers completion and failure payloads to webhook
// endpoints. Delivery never returns an error: every call reports an Outcome.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/maauso/mediapipe-api/internal/retry"
)

// Static errors for webhook delivery.
var (
	// ErrServerError is returned when the endpoint answers with a 5xx status code.
	ErrServerError = errors.New("notify: server error")
	// ErrRateLimited is returned when the endpoint answers with 429.
	ErrRateLimited = errors.New("notify: rate limited")
	// ErrRequestFailed is returned for other non-2xx status codes.
	ErrRequestFailed = errors.New("notify: request failed")
)

const userAgent = "mediapipe-api/1.0"

// Status is the terminal state of a delivery.
type Status string

const (
	// StatusSkipped means no endpoint is configured.
	StatusSkipped Status = "skipped"
	// StatusDelivered means the endpoint answered with a 2xx status.
	StatusDelivered Status = "delivered"
	// StatusExhausted means every attempt failed.
	StatusExhausted Status = "exhausted"
)

// Outcome reports how a delivery ended.
type Outcome struct {
	Status   Status
	Attempts int
	// StatusCode is the last HTTP status received, zero if none.
	StatusCode int
	// Err is the last error message when Status is StatusExhausted.
	Err string
}

// Notifier delivers job outcomes.
type Notifier interface {
	// NotifyCompletion posts payload to the completion endpoint.
	NotifyCompletion(ctx context.Context, payload map[string]any) Outcome
	// NotifyFailure posts report to the error endpoint.
	NotifyFailure(ctx context.Context, report FailureReport) Outcome
}

// Observer receives every delivery outcome.
type Observer interface {
	ObserveNotification(kind string, status Status)
}

// WebhookNotifier posts JSON payloads over HTTP.
type WebhookNotifier struct {
	completionURL  string
	failureURL     string
	httpClient     *http.Client
	policy         retry.Policy
	attemptTimeout time.Duration
	logger         *slog.Logger
	observer       Observer
	now            func() time.Time
}

// Option configures a WebhookNotifier.
type Option func(*WebhookNotifier)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(n *WebhookNotifier) {
		n.httpClient = c
	}
}

// WithRetryPolicy overrides the default three attempt policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(n *WebhookNotifier) {
		n.policy = p
	}
}

// WithAttemptTimeout bounds each POST. Defaults to 10 seconds.
func WithAttemptTimeout(d time.Duration) Option {
	return func(n *WebhookNotifier) {
		if d > 0 {
			n.attemptTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *WebhookNotifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithObserver registers an Observer for delivery metrics.
func WithObserver(o Observer) Option {
	return func(n *WebhookNotifier) {
		n.observer = o
	}
}

// NewWebhookNotifier creates a notifier. An empty URL disables that payload
// kind: calls for it return StatusSkipped without touching the network.
func NewWebhookNotifier(completionURL, failureURL string, opts ...Option) *WebhookNotifier {
	n := &WebhookNotifier{
		completionURL:  completionURL,
		failureURL:     failureURL,
		httpClient:     &http.Client{},
		policy:         retry.Default(),
		attemptTimeout: 10 * time.Second,
		logger:         slog.Default(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NotifyCompletion implements Notifier.
func (n *WebhookNotifier) NotifyCompletion(ctx context.Context, payload map[string]any) Outcome {
	return n.deliver(ctx, "completion", n.completionURL, payload)
}

// NotifyFailure implements Notifier.
func (n *WebhookNotifier) NotifyFailure(ctx context.Context, report FailureReport) Outcome {
	return n.deliver(ctx, "failure", n.failureURL, newFailurePayload(report, n.now()))
}

func (n *WebhookNotifier) deliver(ctx context.Context, kind, endpoint string, payload any) (out Outcome) {
	defer func() {
		if n.observer != nil {
			n.observer.ObserveNotification(kind, out.Status)
		}
	}()

	if endpoint == "" {
		n.logger.Debug("notification skipped, no endpoint configured", slog.String("kind", kind))
		return Outcome{Status: StatusSkipped}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("failed to encode notification",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		return Outcome{Status: StatusExhausted, Err: err.Error()}
	}

	attempts, err := retry.Do(ctx, n.policy, func(ctx context.Context, attempt int) error {
		code, err := n.post(ctx, endpoint, body)
		out.StatusCode = code
		if err != nil {
			n.logger.Warn("notification attempt failed",
				slog.String("kind", kind),
				slog.Int("attempt", attempt+1),
				slog.Int("status_code", code),
				slog.String("error", err.Error()),
			)
		}
		return err
	})
	out.Attempts = attempts

	if err != nil {
		out.Status = StatusExhausted
		out.Err = err.Error()
		n.logger.Error("notification exhausted",
			slog.String("kind", kind),
			slog.Int("attempts", attempts),
			slog.String("error", out.Err),
		)
		return out
	}

	out.Status = StatusDelivered
	n.logger.Info("notification delivered",
		slog.String("kind", kind),
		slog.Int("attempts", attempts),
		slog.Int("status_code", out.StatusCode),
	)
	return out
}

// post sends one attempt. Transport errors, 5xx and 429 are retried; other
// non-2xx answers are permanent.
func (n *WebhookNotifier) post(ctx context.Context, endpoint string, body []byte) (int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, n.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, retry.Permanent(fmt.Errorf("notify: create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("notify: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp.StatusCode, nil
	case resp.StatusCode >= 500:
		return resp.StatusCode, fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(respBody))
	case resp.StatusCode == http.StatusTooManyRequests:
		return resp.StatusCode, fmt.Errorf("%w: %s", ErrRateLimited, string(respBody))
	default:
		return resp.StatusCode, retry.Permanent(fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(respBody)))
	}
}

// Verify interface implementation at compile time.
var _ Notifier = (*WebhookNotifier)(nil)
