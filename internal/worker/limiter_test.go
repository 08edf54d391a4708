package worker

import (
	"context"
	"testing"
	"time"
)

// allow takes a token for key without waiting
func allow(l *Limiter, key string) bool {
	return l.getLimiter(key).Allow()
}

func TestLimiter_New(t *testing.T) {
	limiter := NewLimiter(10, 5)
	if limiter.defaultBurst != 5 {
		t.Errorf("expected burst 5, got %d", limiter.defaultBurst)
	}

	l2 := NewLimiter(10, -1)
	if l2.defaultBurst != 5 {
		t.Errorf("expected default burst 5 for negative input, got %d", l2.defaultBurst)
	}
}

func TestLimiter_Wait(t *testing.T) {
	limiter := NewLimiter(100, 1)
	ctx := context.Background()

	if err := limiter.Wait(ctx, "openai"); err != nil {
		t.Errorf("wait failed: %v", err)
	}

	if err := limiter.Wait(ctx, "ollama"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
}

func TestLimiter_WaitCancelled(t *testing.T) {
	limiter := NewLimiter(0.01, 1)
	if !allow(limiter, "openai") {
		t.Fatal("first request should pass")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx, "openai"); err == nil {
		t.Error("expected wait to fail once the token bucket is empty and ctx expires")
	}
}

func TestLimiter_RateLimit(t *testing.T) {
	limiter := NewLimiter(1, 1)
	ctx := context.Background()

	if err := limiter.Wait(ctx, "openai"); err != nil {
		t.Errorf("first wait failed: %v", err)
	}

	// Burst 1 is consumed
	if allow(limiter, "openai") {
		t.Errorf("expected allow to fail (exhausted tokens)")
	}

	if !allow(limiter, "azure") {
		t.Errorf("expected allow for other key")
	}
}

func TestLimiter_Unlimited(t *testing.T) {
	limiter := NewLimiter(0, 1)
	for i := 0; i < 100; i++ {
		if !allow(limiter, "ollama") {
			t.Fatalf("request %d rejected with limiting disabled", i)
		}
	}
}

func TestLimiter_SetKeyRate(t *testing.T) {
	limiter := NewLimiter(10, 10)
	limiter.SetKeyRate("slow", 0.1, 1)

	if !allow(limiter, "slow") {
		t.Errorf("first request should pass")
	}

	if allow(limiter, "slow") {
		t.Errorf("second request should fail")
	}

	if !allow(limiter, "fast") {
		t.Errorf("other key should pass")
	}
}

func TestLimiter_SetKeyRate_Unlimited(t *testing.T) {
	limiter := NewLimiter(1, 1)
	limiter.SetKeyRate("ollama", 0, 1)

	for i := 0; i < 50; i++ {
		if !allow(limiter, "ollama") {
			t.Fatalf("request %d rejected for an unlimited key", i)
		}
	}
}
