package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
)

type flakyProvider struct {
	errs  []error
	calls atomic.Int32
}

func (f *flakyProvider) Name() string { return "flaky" }

func (f *flakyProvider) IsAvailable(ctx context.Context) bool { return true }

func (f *flakyProvider) Complete(ctx context.Context, req CompleteRequest) (*CompleteResponse, error) {
	n := int(f.calls.Add(1)) - 1
	if n < len(f.errs) && f.errs[n] != nil {
		return nil, f.errs[n]
	}
	return &CompleteResponse{Text: "ok", Model: "m"}, nil
}

func noSleep(t *testing.T) {
	t.Helper()
	orig := retrySleepFunc
	retrySleepFunc = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	t.Cleanup(func() { retrySleepFunc = orig })
}

func TestRetryProvider_TransientThenSuccess(t *testing.T) {
	noSleep(t)

	p := &flakyProvider{errs: []error{
		&APIError{StatusCode: http.StatusServiceUnavailable},
		&APIError{StatusCode: http.StatusTooManyRequests},
	}}
	resp, err := WithRetry(p, 3, nil).Complete(context.Background(), CompleteRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if resp.Text != "ok" {
		t.Errorf("Unexpected text: %q", resp.Text)
	}
	if p.calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", p.calls.Load())
	}
}

func TestRetryProvider_PermanentFailure(t *testing.T) {
	noSleep(t)

	p := &flakyProvider{errs: []error{&APIError{StatusCode: http.StatusUnauthorized, Message: "bad key"}}}
	_, err := WithRetry(p, 3, nil).Complete(context.Background(), CompleteRequest{Prompt: "p"})
	if err == nil {
		t.Fatal("Expected error for 401, got nil")
	}
	if p.calls.Load() != 1 {
		t.Errorf("Expected 1 attempt, got %d", p.calls.Load())
	}
}

func TestRetryProvider_AllRetriesExhausted(t *testing.T) {
	noSleep(t)

	busy := &APIError{StatusCode: http.StatusBadGateway}
	p := &flakyProvider{errs: []error{busy, busy, busy, busy}}
	_, err := WithRetry(p, 0, nil).Complete(context.Background(), CompleteRequest{Prompt: "p"})
	if !errors.Is(err, busy) {
		t.Fatalf("Expected last error to be wrapped, got %v", err)
	}
	if p.calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", p.calls.Load())
	}
}

func TestRetryProvider_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &flakyProvider{errs: []error{&APIError{StatusCode: http.StatusServiceUnavailable}}}
	_, err := WithRetry(p, 3, nil).Complete(ctx, CompleteRequest{Prompt: "p"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if p.calls.Load() != 1 {
		t.Errorf("Expected 1 attempt, got %d", p.calls.Load())
	}
}

func TestRetryProvider_OverHTTP(t *testing.T) {
	noSleep(t)

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error": "busy"}`))
			return
		}
		_, _ = w.Write([]byte(`{"model":"llama3.1","response":"Which river flows through the capital of France?","done":true}`))
	}))
	defer server.Close()

	ollama, err := NewOllamaProvider(Config{BaseURL: server.URL, Model: "llama3.1", Timeout: 5})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	resp, err := WithRetry(ollama, 3, nil).Complete(context.Background(), CompleteRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("Expected success after 429 retry, got %v", err)
	}
	if resp.Text != "Which river flows through the capital of France?" {
		t.Errorf("Unexpected text: %q", resp.Text)
	}
	if attempts.Load() != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts.Load())
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"503", &APIError{StatusCode: 503}, true},
		{"500", &APIError{StatusCode: 500}, true},
		{"429", fmt.Errorf("wrapped: %w", &APIError{StatusCode: 429}), true},
		{"404", &APIError{StatusCode: 404}, false},
		{"400", &APIError{StatusCode: 400}, false},
		{"openai 502", &openai.APIError{HTTPStatusCode: 502}, true},
		{"openai 401", &openai.APIError{HTTPStatusCode: 401}, false},
		{"openai request 429", &openai.RequestError{HTTPStatusCode: 429, Err: errors.New("busy")}, true},
		{"connection refused", errors.New("execute request: dial tcp: connection refused"), true},
		{"connection reset", errors.New("execute request: connection reset by peer"), true},
		{"unexpected EOF", errors.New("read response: unexpected EOF"), false},
		{"cancelled", fmt.Errorf("call: %w", context.Canceled), false},
		{"deadline", context.DeadlineExceeded, false},
		{"empty", ErrEmptyResponse, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.retryable)
			}
		})
	}
}
