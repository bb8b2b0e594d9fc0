//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/Sternrassler/registry-stats/internal/testutil"
	"github.com/Sternrassler/registry-stats/pkg/aggregator"
	"github.com/Sternrassler/registry-stats/pkg/cache"
	"github.com/Sternrassler/registry-stats/pkg/client"
	"github.com/Sternrassler/registry-stats/pkg/providers"
	"github.com/Sternrassler/registry-stats/pkg/ratelimit"
	"github.com/Sternrassler/registry-stats/pkg/registry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "Failed to start Redis container")

	host, err := container.Host(ctx)
	require.NoError(t, err, "Failed to get container host")

	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err, "Failed to get container port")

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	t.Cleanup(func() {
		redisClient.Close()
		container.Terminate(ctx)
	})

	return redisClient
}

// stack is one process worth of wiring: transport, tracker, npm provider
// and aggregator, sharing Redis with any other stack built on the same client.
type stack struct {
	agg     *aggregator.Aggregator
	tracker *ratelimit.Tracker
	opts    aggregator.Options
}

func newStack(t *testing.T, redisClient *redis.Client, mock *testutil.MockRegistry) *stack {
	t.Helper()

	logger := zerolog.Nop()
	tracker := ratelimit.NewTracker(redisClient, logger)
	c, err := client.New(client.Config{
		UserAgent: "registry-stats-integration/1.0",
		Timeout:   5 * time.Second,
		Retry:     client.RetryConfig{MaxRetries: 2, BaseDelay: 10 * time.Millisecond},
		Limiter:   ratelimit.NewThrottle(ratelimit.WithDelay(providers.NPM, 0)),
		Tracker:   tracker,
		Logger:    &logger,
	})
	require.NoError(t, err, "Failed to create client")

	npm, err := providers.New(c, providers.NPM,
		providers.WithBaseURL(mock.URL()+"/downloads"),
		providers.WithSearchURL(mock.URL()))
	require.NoError(t, err, "Failed to create provider")

	agg, err := aggregator.New(aggregator.Config{Providers: []registry.Provider{npm}, Logger: &logger})
	require.NoError(t, err, "Failed to create aggregator")

	return &stack{
		agg:     agg,
		tracker: tracker,
		opts: aggregator.Options{
			Cache:    cache.NewRedis(redisClient),
			CacheTTL: time.Minute,
		},
	}
}

func point(name string, downloads int64) map[string]any {
	return map[string]any{"package": name, "downloads": downloads}
}

// TestStatsFlow_SharedRedisCache tests the full flow: throttle, transport,
// provider, identity check and the Redis cache shared by two processes.
func TestStatsFlow_SharedRedisCache(t *testing.T) {
	redisClient := setupRedis(t)
	mock := testutil.NewMockRegistry()
	defer mock.Close()

	mock.SetJSON("/downloads/point/last-day/express", point("express", 10))
	mock.SetJSON("/downloads/point/last-week/express", point("express", 70))
	mock.SetJSON("/downloads/point/last-month/express", point("express", 300))

	ctx := context.Background()
	first := newStack(t, redisClient, mock)

	record, err := first.agg.Stats(ctx, providers.NPM, "express", first.opts)
	require.NoError(t, err)
	require.NotNil(t, record)
	require.NotNil(t, record.Counts.Month)
	assert.Equal(t, int64(300), *record.Counts.Month)
	assert.Equal(t, 3, mock.RequestCount())

	second := newStack(t, redisClient, mock)
	cached, err := second.agg.Stats(ctx, providers.NPM, "express", second.opts)
	require.NoError(t, err, "Stats() from second stack")
	assert.Equal(t, 3, mock.RequestCount(), "Expected the second stack to hit Redis")
	assert.True(t, cached.FetchedAt.Equal(record.FetchedAt), "FetchedAt = %v, want %v from the cached record", cached.FetchedAt, record.FetchedAt)
}

// TestRetry_TrackerStateShared tests that a 429 is retried and that the
// tracker state lands in Redis where another process can read it.
func TestRetry_TrackerStateShared(t *testing.T) {
	redisClient := setupRedis(t)
	mock := testutil.NewMockRegistry()
	defer mock.Close()

	mock.SetSequence("/downloads/point/last-week/koa",
		testutil.NewRateLimitResponse(""),
		testutil.NewJSONResponse(point("koa", 5)),
	)

	ctx := context.Background()
	s := newStack(t, redisClient, mock)
	s.opts.Cache = nil

	record, err := s.agg.Stats(ctx, providers.NPM, "koa", s.opts)
	require.NoError(t, err)
	require.NotNil(t, record)
	require.NotNil(t, record.Counts.Week)
	assert.Equal(t, int64(5), *record.Counts.Week)

	other := ratelimit.NewTracker(redisClient, zerolog.Nop())
	state, err := other.GetState(ctx, providers.NPM)
	require.NoError(t, err)
	// 3 periods plus one retry.
	assert.Equal(t, int64(4), state.Requests)
	assert.Equal(t, int64(1), state.RateLimited)
}

// TestBulk_PopulatesRedisCache tests that the smart bulk path caches every
// resolved subject for later single lookups.
func TestBulk_PopulatesRedisCache(t *testing.T) {
	redisClient := setupRedis(t)
	mock := testutil.NewMockRegistry()
	defer mock.Close()

	for _, period := range []string{"last-day", "last-week", "last-month"} {
		mock.SetJSON("/downloads/point/"+period+"/express,koa", map[string]any{
			"express": point("express", 100),
			"koa":     point("koa", 20),
		})
	}

	ctx := context.Background()
	s := newStack(t, redisClient, mock)

	records, err := s.agg.Bulk(ctx, providers.NPM, []string{"express", "koa"}, s.opts)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.NotNil(t, records[0])
	require.NotNil(t, records[1])
	requests := mock.RequestCount()
	assert.Equal(t, 3, requests, "Expected one bulk request per period")

	for _, name := range []string{"express", "koa"} {
		_, err := s.agg.Stats(ctx, providers.NPM, name, s.opts)
		require.NoError(t, err, "Stats(%s)", name)
	}
	assert.Equal(t, requests, mock.RequestCount(), "Expected cached lookups")
}

// TestRange_CachedInRedis tests that a range series survives a round trip
// through Redis unchanged.
func TestRange_CachedInRedis(t *testing.T) {
	redisClient := setupRedis(t)
	mock := testutil.NewMockRegistry()
	defer mock.Close()

	mock.SetJSON("/downloads/range/2025-01-01:2025-01-03/express", map[string]any{
		"downloads": []map[string]any{
			{"day": "2025-01-03", "downloads": 3},
			{"day": "2025-01-01", "downloads": 1},
			{"day": "2025-01-02", "downloads": 2},
		},
	})

	ctx := context.Background()
	s := newStack(t, redisClient, mock)

	for i := 0; i < 2; i++ {
		series, err := s.agg.Range(ctx, providers.NPM, "express", "2025-01-01", "2025-01-03", s.opts)
		require.NoError(t, err)
		require.Len(t, series, 3)
		assert.Equal(t, "2025-01-01", series[0].Date)
		assert.Equal(t, int64(3), series[2].Count)
	}
	assert.Equal(t, 1, mock.RequestCount())
}
