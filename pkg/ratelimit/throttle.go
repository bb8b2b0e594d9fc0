// Package ratelimit paces physical requests per registry source and tracks
// the rate-limit signals each source sends back.
package ratelimit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"
)

var throttleWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "registry_throttle_wait_seconds",
	Help:    "Time spent waiting for a throttle slot by source",
	Buckets: []float64{0, 0.1, 0.5, 1, 2, 5, 10, 30},
}, []string{"source"})

// DefaultDelay applies to sources without an entry in DefaultDelays.
const DefaultDelay = 100 * time.Millisecond

// DefaultDelays are the minimum spacings between physical requests,
// derived from each registry's published quota.
var DefaultDelays = map[string]time.Duration{
	"npm":    400 * time.Millisecond,  // ~2.5 req/s
	"pypi":   2200 * time.Millisecond, // 30 req/min with headroom
	"docker": 4000 * time.Millisecond,
	"ghcr":   200 * time.Millisecond,
}

// Limiter gates physical requests to a source.
type Limiter interface {
	Wait(ctx context.Context, source string) error
}

// Throttle serializes requests per source: every Wait reserves the next slot
// of that source's chain, slots are handed out in arrival order and spaced at
// least the source's delay apart. Different sources never block each other.
type Throttle struct {
	delays       map[string]time.Duration
	defaultDelay time.Duration

	// next holds, per source, the earliest instant the following slot may start.
	next   *xsync.Map[string, time.Time]
	logger zerolog.Logger
}

// Option configures a Throttle.
type Option func(*Throttle)

// WithDelay overrides the spacing for one source.
func WithDelay(source string, d time.Duration) Option {
	return func(t *Throttle) { t.delays[source] = d }
}

// WithDefaultDelay overrides the spacing for sources without an explicit delay.
func WithDefaultDelay(d time.Duration) Option {
	return func(t *Throttle) { t.defaultDelay = d }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Throttle) { t.logger = logger }
}

// NewThrottle creates a throttle seeded with DefaultDelays.
func NewThrottle(opts ...Option) *Throttle {
	t := &Throttle{
		delays:       make(map[string]time.Duration, len(DefaultDelays)),
		defaultDelay: DefaultDelay,
		next:         xsync.NewMap[string, time.Time](),
		logger:       zerolog.Nop(),
	}
	for source, d := range DefaultDelays {
		t.delays[source] = d
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Delay returns the minimum spacing enforced for source.
func (t *Throttle) Delay(source string) time.Duration {
	if d, ok := t.delays[source]; ok {
		return d
	}
	return t.defaultDelay
}

// reserve appends a slot to the source's chain and returns its start time.
func (t *Throttle) reserve(source string) time.Time {
	delay := t.Delay(source)

	var slot time.Time
	t.next.Compute(source, func(next time.Time, loaded bool) (time.Time, xsync.ComputeOp) {
		slot = time.Now()
		if loaded && next.After(slot) {
			slot = next
		}
		return slot.Add(delay), xsync.UpdateOp
	})
	return slot
}

// Wait blocks until the caller's slot for source starts.
// A cancelled caller keeps its reserved slot, so later callers stay spaced.
func (t *Throttle) Wait(ctx context.Context, source string) error {
	slot := t.reserve(source)

	wait := time.Until(slot)
	if wait <= 0 {
		throttleWaitSeconds.WithLabelValues(source).Observe(0)
		return nil
	}

	t.logger.Debug().
		Str("source", source).
		Dur("wait", wait).
		Msg("Waiting for throttle slot")

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		throttleWaitSeconds.WithLabelValues(source).Observe(wait.Seconds())
		return nil
	}
}
