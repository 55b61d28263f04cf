// Package resilience provides retry primitives used for per-step tool
// retries and transient LLM/API failures.
package resilience

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/concordlabs/concord/core"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
}

// DefaultRetryConfig provides sensible defaults
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// NextDelay computes the backoff delay before the given attempt
// (1-based). Attempt 1 gets the initial delay.
func NextDelay(config *RetryConfig, attempt int) time.Duration {
	if config == nil {
		config = DefaultRetryConfig()
	}
	delay := config.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * config.BackoffFactor)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
			break
		}
	}
	if config.JitterEnabled {
		jitter := time.Duration(float64(delay) * 0.1 * math.Sin(float64(attempt)))
		delay += jitter
	}
	return delay
}

// Sleep waits for the backoff delay before the given attempt, honoring
// context cancellation.
func Sleep(ctx context.Context, config *RetryConfig, attempt int) error {
	timer := time.NewTimer(NextDelay(config, attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry executes a function with retry logic and exponential backoff
func Retry(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == config.MaxAttempts {
			break
		}
		if err := Sleep(ctx, config, attempt); err != nil {
			return err
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded for %v: %w", config.MaxAttempts, lastErr, core.ErrMaxRetriesExceeded)
}
