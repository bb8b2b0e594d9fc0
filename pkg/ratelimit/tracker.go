package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	rateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registry_rate_limited_total",
		Help: "Total number of 429 responses by source",
	}, []string{"source"})

	backoffUntilSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "registry_backoff_until_seconds",
		Help: "Unix time until which the source asked clients to back off",
	}, []string{"source"})
)

// Tracker records the rate-limit signals every source returns.
// Without Redis, state lives in process memory. With Redis, counters are
// shared by every process pointing at the same instance.
type Tracker struct {
	redis  *redis.Client
	local  *xsync.Map[string, State]
	logger zerolog.Logger
}

// NewTracker creates a tracker. redisClient may be nil.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		local:  xsync.NewMap[string, State](),
		logger: logger,
	}
}

// Observe records one physical attempt against source.
// status is 0 when the attempt failed before a response arrived.
func (t *Tracker) Observe(ctx context.Context, source string, status int, retryAfter time.Duration) {
	now := time.Now()

	state, _ := t.local.Compute(source, func(old State, loaded bool) (State, xsync.ComputeOp) {
		old.Source = source
		old.apply(status, retryAfter, now)
		return old, xsync.UpdateOp
	})

	if status == http.StatusTooManyRequests {
		rateLimitedTotal.WithLabelValues(source).Inc()
		t.logger.Warn().
			Str("source", source).
			Dur("retry_after", retryAfter).
			Int64("rate_limited", state.RateLimited).
			Msg("Source rate limited")
	}
	if retryAfter > 0 {
		backoffUntilSeconds.WithLabelValues(source).Set(float64(state.BackoffUntil.Unix()))
	}

	if t.redis == nil {
		return
	}
	if err := t.store(ctx, source, status, retryAfter, now, state.BackoffUntil); err != nil {
		t.logger.Warn().Err(err).Str("source", source).Msg("Failed to store rate limit state")
	}
}

func (t *Tracker) store(ctx context.Context, source string, status int, retryAfter time.Duration, now, backoffUntil time.Time) error {
	key := RedisKeyPrefix + source

	pipe := t.redis.TxPipeline()
	pipe.SAdd(ctx, RedisKeySources, source)
	pipe.HIncrBy(ctx, key, "requests", 1)
	if status == http.StatusTooManyRequests {
		pipe.HIncrBy(ctx, key, "rate_limited", 1)
	}
	pipe.HSet(ctx, key,
		"last_status", status,
		"retry_after", retryAfter.Milliseconds(),
		"last_update", now.UnixMilli(),
		"backoff_until", backoffUntil.UnixMilli(),
	)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}
	return nil
}

// GetState returns the state of one source. A source never observed is
// reported healthy.
func (t *Tracker) GetState(ctx context.Context, source string) (*State, error) {
	if t.redis != nil {
		return t.load(ctx, source)
	}
	state, ok := t.local.Load(source)
	if !ok {
		return &State{Source: source, IsHealthy: true}, nil
	}
	return &state, nil
}

func (t *Tracker) load(ctx context.Context, source string) (*State, error) {
	fields, err := t.redis.HGetAll(ctx, RedisKeyPrefix+source).Result()
	if err != nil {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}
	state := &State{Source: source, IsHealthy: true}
	if len(fields) == 0 {
		return state, nil
	}

	state.Requests = parseInt(fields["requests"])
	state.RateLimited = parseInt(fields["rate_limited"])
	state.LastStatus = int(parseInt(fields["last_status"]))
	state.RetryAfter = time.Duration(parseInt(fields["retry_after"])) * time.Millisecond
	state.LastUpdate = time.UnixMilli(parseInt(fields["last_update"]))
	if ms := parseInt(fields["backoff_until"]); ms > 0 {
		state.BackoffUntil = time.UnixMilli(ms)
	}
	state.UpdateHealth()
	return state, nil
}

// Snapshot returns the state of every observed source, sorted by name.
func (t *Tracker) Snapshot(ctx context.Context) ([]State, error) {
	var sources []string
	if t.redis != nil {
		members, err := t.redis.SMembers(ctx, RedisKeySources).Result()
		if err != nil {
			return nil, fmt.Errorf("list rate limit sources: %w", err)
		}
		sources = members
	} else {
		t.local.Range(func(source string, _ State) bool {
			sources = append(sources, source)
			return true
		})
	}
	sort.Strings(sources)

	states := make([]State, 0, len(sources))
	for _, source := range sources {
		state, err := t.GetState(ctx, source)
		if err != nil {
			return nil, err
		}
		states = append(states, *state)
	}
	return states, nil
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
