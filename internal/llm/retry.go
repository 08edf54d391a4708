package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// APIError is a non-2xx answer from a provider's HTTP API
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("API error (%d): %s - %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

const (
	defaultRetryAttempts = 3
	defaultRetryBackoff  = time.Second
)

// retrySleepFunc is overridden in tests
var retrySleepFunc = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryProvider retries transient provider failures with exponential backoff
type RetryProvider struct {
	Provider
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
}

// WithRetry wraps p so that rate limits, 5xx answers and connection errors are retried.
// attempts <= 0 uses 3 attempts in total.
func WithRetry(p Provider, attempts int, logger *slog.Logger) *RetryProvider {
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RetryProvider{
		Provider: p,
		attempts: attempts,
		backoff:  defaultRetryBackoff,
		logger:   logger,
	}
}

// Complete calls the wrapped provider until it succeeds, fails permanently or runs out of attempts
func (r *RetryProvider) Complete(ctx context.Context, req CompleteRequest) (*CompleteResponse, error) {
	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			delay := r.backoff << (attempt - 1)
			r.logger.Debug("retrying provider call",
				"provider", r.Name(),
				"attempt", attempt+1,
				"delay", delay,
				"error", lastErr)
			if err := retrySleepFunc(ctx, delay); err != nil {
				return nil, err
			}
		}

		resp, err := r.Provider.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%s: giving up after %d attempts: %w", r.Name(), r.attempts, lastErr)
}

// IsRetryable reports whether err is a transient provider failure
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrEmptyResponse) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.StatusCode)
	}
	var oaiErr *openai.APIError
	if errors.As(err, &oaiErr) {
		return retryableStatus(oaiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset")
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
