package ratelimit

import (
	"context"
	"time"

	"github.com/Sternrassler/registry-stats/pkg/registry"
	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/time/rate"
)

// TokenBucket enforces each source's published quota with a token bucket.
// Unlike Throttle it permits bursts up to the quota size.
type TokenBucket struct {
	descriptors map[string]registry.RateLimit
	fallback    time.Duration
	limiters    *xsync.Map[string, *rate.Limiter]
}

// NewTokenBucket creates a limiter from rate-limit descriptors. A source with
// no descriptor is paced like Throttle paces it: one request per
// DefaultDelays entry, or per fallback when it has none.
func NewTokenBucket(descriptors map[string]registry.RateLimit, fallback time.Duration) *TokenBucket {
	if fallback <= 0 {
		fallback = DefaultDelay
	}
	return &TokenBucket{
		descriptors: descriptors,
		fallback:    fallback,
		limiters:    xsync.NewMap[string, *rate.Limiter](),
	}
}

// Wait blocks until a token for source is available.
func (b *TokenBucket) Wait(ctx context.Context, source string) error {
	return b.limiter(source).Wait(ctx)
}

// limiter returns the bucket for source, creating it on first use.
func (b *TokenBucket) limiter(source string) *rate.Limiter {
	lim, _ := b.limiters.Compute(source, func(old *rate.Limiter, loaded bool) (*rate.Limiter, xsync.ComputeOp) {
		if loaded {
			return old, xsync.UpdateOp
		}
		return b.newLimiter(source), xsync.UpdateOp
	})
	return lim
}

func (b *TokenBucket) newLimiter(source string) *rate.Limiter {
	d, ok := b.descriptors[source]
	if !ok || d.MaxRequests <= 0 || d.Window <= 0 {
		return rate.NewLimiter(rate.Every(b.fallbackDelay(source)), 1)
	}
	return rate.NewLimiter(rate.Every(d.Window/time.Duration(d.MaxRequests)), d.MaxRequests)
}

func (b *TokenBucket) fallbackDelay(source string) time.Duration {
	if d, ok := DefaultDelays[source]; ok {
		return d
	}
	return b.fallback
}
