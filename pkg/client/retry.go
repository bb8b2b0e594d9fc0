package client

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int

	// BaseDelay is the backoff before the first retry; it doubles every retry.
	BaseDelay time.Duration
}

// DefaultRetryConfig returns the default retry configuration:
// 3 retries (4 attempts) starting at 1s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
	}
}

// Backoff returns the wait before the retry that follows attempt (0-based).
// A server hint longer than the exponential backoff wins; a shorter one
// never shortens it.
func (c RetryConfig) Backoff(attempt int, retryAfter time.Duration) time.Duration {
	backoff := c.BaseDelay << attempt
	if retryAfter > backoff {
		return retryAfter
	}
	return backoff
}

// parseRetryAfter reads a Retry-After header given as delta-seconds or an
// HTTP date. Invalid or past values yield 0.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
