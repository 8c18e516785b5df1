// Package ratelimit provides rate limiting for external API calls.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces API calls and backs off exponentially when the provider
// starts returning rate-limit errors.
type Limiter struct {
	limiter           *rate.Limiter
	mu                sync.Mutex
	consecutiveErrors int
	currentDelay      time.Duration
	config            *Config
}

// Config holds rate limiter configuration.
type Config struct {
	APIDelay          time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
	MaxAttempts       int
}

// DefaultConfig returns the default pacing configuration.
func DefaultConfig() *Config {
	return &Config{
		APIDelay:          400 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          30 * time.Second,
		MaxAttempts:       5,
	}
}

// New creates a limiter from cfg, falling back to DefaultConfig when nil.
func New(cfg *Config) *Limiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	rps := float64(time.Second) / float64(cfg.APIDelay)

	return &Limiter{
		limiter:      rate.NewLimiter(rate.Limit(rps), 1),
		currentDelay: cfg.APIDelay,
		config:       cfg,
	}
}

// Wait blocks until the limiter allows the next request.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// HandleError inspects an error and reports whether the caller should retry
// and how long to wait first. Only rate-limit errors are retryable here;
// everything else is the caller's problem.
func (l *Limiter) HandleError(err error) (shouldRetry bool, waitTime time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	errStr := strings.ToLower(err.Error())
	if !strings.Contains(errStr, "429") && !strings.Contains(errStr, "rate limit") {
		return false, 0
	}

	l.consecutiveErrors++

	waitTime = time.Duration(math.Min(
		float64(l.currentDelay)*math.Pow(l.config.BackoffMultiplier, float64(l.consecutiveErrors-1)),
		float64(l.config.MaxDelay),
	))

	// Slow the steady-state pace down as well, not just this retry.
	if waitTime > l.currentDelay {
		l.currentDelay = waitTime
		l.limiter.SetLimit(rate.Limit(float64(time.Second) / float64(waitTime)))
	}

	return l.consecutiveErrors < l.config.MaxAttempts, waitTime
}

// Success resets the backoff state after a successful call.
func (l *Limiter) Success() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.consecutiveErrors > 0 {
		l.consecutiveErrors = 0
		l.currentDelay = l.config.APIDelay
		l.limiter.SetLimit(rate.Limit(float64(time.Second) / float64(l.config.APIDelay)))
	}
}

// ExecuteWithRetry runs fn under the limiter, retrying rate-limit failures
// with backoff up to MaxAttempts.
func (l *Limiter) ExecuteWithRetry(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt < l.config.MaxAttempts; attempt++ {
		if err := l.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait: %w", err)
		}

		err := fn()
		if err == nil {
			l.Success()
			return nil
		}

		shouldRetry, waitTime := l.HandleError(err)
		if !shouldRetry {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded", l.config.MaxAttempts)
}
