package lantern

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"
)

// RetryConfig configures retry behavior for export uploads.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	// Default: 3
	MaxAttempts int

	// InitialBackoff is the initial delay before the first retry.
	// Default: 100ms
	InitialBackoff time.Duration

	// MaxBackoff is the maximum delay between retries.
	// Default: 30s
	MaxBackoff time.Duration

	// BackoffMultiplier is multiplied to the backoff after each retry.
	// Default: 2.0
	BackoffMultiplier float64

	// Jitter adds randomness to backoff to prevent thundering herd.
	// Value between 0 and 1, where 0.1 means ±10% jitter.
	// Default: 0.1
	Jitter float64

	// RetryIf determines if an error should be retried.
	// If nil, all errors are retried.
	RetryIf func(error) bool
}

// Retryer performs operations with automatic retry on failure.
type Retryer struct {
	config RetryConfig
}

// NewRetryer creates a new retryer with the given configuration.
func NewRetryer(config RetryConfig) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = 100 * time.Millisecond
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = 2.0
	}
	if config.Jitter < 0 || config.Jitter > 1 {
		config.Jitter = 0.1
	}
	return &Retryer{config: config}
}

// Do executes the operation with retries and returns the last error.
func (r *Retryer) Do(ctx context.Context, op func() error) error {
	var lastErr error
	backoff := r.config.InitialBackoff

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}

		if r.config.RetryIf != nil && !r.config.RetryIf(lastErr) {
			return lastErr
		}

		if attempt == r.config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.addJitter(backoff)):
		}

		backoff = time.Duration(float64(backoff) * r.config.BackoffMultiplier)
		if backoff > r.config.MaxBackoff {
			backoff = r.config.MaxBackoff
		}
	}

	return lastErr
}

func (r *Retryer) addJitter(d time.Duration) time.Duration {
	if r.config.Jitter == 0 {
		return d
	}
	jitterRange := float64(d) * r.config.Jitter
	jitter := (rand.Float64()*2 - 1) * jitterRange
	return time.Duration(float64(d) + jitter)
}

// isRetryable checks if an error is typically transient.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"service unavailable",
		"too many requests",
		"slow down",
		"503",
		"502",
		"504",
		"429",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
