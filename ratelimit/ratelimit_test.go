package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHandleError_NonRateLimit(t *testing.T) {
	l := New(nil)

	retry, wait := l.HandleError(errors.New("connection refused"))
	if retry {
		t.Error("non rate-limit errors should not be retried by the limiter")
	}
	if wait != 0 {
		t.Errorf("wait = %v, want 0", wait)
	}
}

func TestHandleError_BackoffGrows(t *testing.T) {
	l := New(&Config{
		APIDelay:          100 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          10 * time.Second,
		MaxAttempts:       5,
	})

	rateLimited := errors.New("API error 429: too many requests")

	_, wait1 := l.HandleError(rateLimited)
	_, wait2 := l.HandleError(rateLimited)
	if wait2 <= wait1 {
		t.Errorf("backoff should grow: first=%v second=%v", wait1, wait2)
	}
}

func TestHandleError_StopsAtMaxAttempts(t *testing.T) {
	l := New(&Config{
		APIDelay:          time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          time.Second,
		MaxAttempts:       3,
	})

	rateLimited := errors.New("rate limit exceeded")

	retry, _ := l.HandleError(rateLimited)
	if !retry {
		t.Error("first failure should be retryable")
	}
	retry, _ = l.HandleError(rateLimited)
	if !retry {
		t.Error("second failure should be retryable")
	}
	retry, _ = l.HandleError(rateLimited)
	if retry {
		t.Error("failure at MaxAttempts should not be retryable")
	}
}

func TestSuccess_ResetsBackoff(t *testing.T) {
	cfg := &Config{
		APIDelay:          50 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          time.Second,
		MaxAttempts:       5,
	}
	l := New(cfg)

	l.HandleError(errors.New("429"))
	l.HandleError(errors.New("429"))
	l.Success()

	if l.consecutiveErrors != 0 {
		t.Errorf("consecutiveErrors = %d after Success, want 0", l.consecutiveErrors)
	}
	if l.currentDelay != cfg.APIDelay {
		t.Errorf("currentDelay = %v after Success, want %v", l.currentDelay, cfg.APIDelay)
	}
}

func TestExecuteWithRetry_SucceedsAfterRateLimit(t *testing.T) {
	l := New(&Config{
		APIDelay:          time.Millisecond,
		BackoffMultiplier: 1.0,
		MaxDelay:          5 * time.Millisecond,
		MaxAttempts:       3,
	})

	calls := 0
	err := l.ExecuteWithRetry(context.Background(), func() error {
		calls++
		if calls < 2 {
			return errors.New("429")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithRetry returned %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestExecuteWithRetry_FatalErrorPassesThrough(t *testing.T) {
	l := New(nil)
	fatal := errors.New("API error 500: boom")

	err := l.ExecuteWithRetry(context.Background(), func() error { return fatal })
	if !errors.Is(err, fatal) {
		t.Errorf("expected fatal error to pass through, got %v", err)
	}
}
