package ratelimit

import (
	"net/http"
	"time"
)

// Redis key layout for shared tracker state.
const (
	RedisKeyPrefix  = "registry:ratelimit:"
	RedisKeySources = "registry:ratelimit:sources"
)

// State is the observed rate-limit condition of one source.
type State struct {
	Source string `json:"source"`

	// Requests counts physical attempts, RateLimited the 429 answers among them.
	Requests    int64 `json:"requests"`
	RateLimited int64 `json:"rate_limited"`

	// LastStatus is the status of the latest attempt, 0 for a network failure.
	LastStatus int `json:"last_status"`

	// RetryAfter is the hint carried by the latest attempt, zero when absent.
	RetryAfter time.Duration `json:"retry_after"`

	// BackoffUntil is when the latest Retry-After hint expires.
	BackoffUntil time.Time `json:"backoff_until"`

	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is false while the source answers 429, 5xx or not at all.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state is older than maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// TimeUntilReset returns how long the source asked us to back off.
// Returns 0 once the hint has expired.
func (s *State) TimeUntilReset() time.Duration {
	d := time.Until(s.BackoffUntil)
	if d < 0 {
		return 0
	}
	return d
}

// UpdateHealth recomputes IsHealthy from LastStatus.
func (s *State) UpdateHealth() {
	switch {
	case s.LastStatus == 0:
		s.IsHealthy = false
	case s.LastStatus == http.StatusTooManyRequests:
		s.IsHealthy = false
	case s.LastStatus >= 500:
		s.IsHealthy = false
	default:
		s.IsHealthy = true
	}
}

// apply folds one observed attempt into the state.
func (s *State) apply(status int, retryAfter time.Duration, now time.Time) {
	s.Requests++
	if status == http.StatusTooManyRequests {
		s.RateLimited++
	}
	s.LastStatus = status
	s.RetryAfter = retryAfter
	if retryAfter > 0 {
		s.BackoffUntil = now.Add(retryAfter)
	}
	s.LastUpdate = now
	s.UpdateHealth()
}
