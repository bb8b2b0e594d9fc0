package cache

import (
	"context"
	"testing"
	"time"

	"github.com/Sternrassler/registry-stats/pkg/registry"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis starts an in-memory Redis server for unit tests.
// Integration tests use testcontainers-go with a real Redis instance.
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestNewRedis_Panic(t *testing.T) {
	assert.Panics(t, func() { NewRedis(nil) })
}

func TestRedis_SetAndGet(t *testing.T) {
	client, mr := setupTestRedis(t)
	c := NewRedis(client)
	ctx := context.Background()

	fetched := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	record := &registry.Record{
		Source:    "npm",
		Subject:   "express",
		Counts:    registry.Counts{Week: registry.Int64(1200), Month: registry.Int64(5000)},
		Extra:     map[string]any{"version": "4.21.0"},
		FetchedAt: fetched,
	}
	key := StatsKey("npm", "express")

	require.NoError(t, c.Set(ctx, key, NewRecordEntry(record, 5*time.Minute)))

	redisKey := DefaultRedisPrefix + "stats:npm:express"
	require.True(t, mr.Exists(redisKey), "expected prefixed key in redis")
	ttl := mr.TTL(redisKey)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 5*time.Minute)

	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "express", got.Record.Subject)
	assert.Equal(t, int64(5000), *got.Record.Counts.Month)
	assert.True(t, got.Record.FetchedAt.Equal(fetched), "FetchedAt = %v, want %v", got.Record.FetchedAt, fetched)
	assert.Nil(t, got.Record.Counts.Day, "absent counter should stay nil after round trip")
}

func TestRedis_Miss(t *testing.T) {
	client, _ := setupTestRedis(t)
	c := NewRedis(client)

	_, err := c.Get(context.Background(), StatsKey("npm", "nope"))
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedis_Expiry(t *testing.T) {
	client, mr := setupTestRedis(t)
	c := NewRedis(client)
	ctx := context.Background()
	key := RangeKey("pypi", "requests", "2025-01-01", "2025-01-31")

	series := []registry.DailyPoint{{Date: "2025-01-01", Count: 3}}
	require.NoError(t, c.Set(ctx, key, NewSeriesEntry(series, time.Minute)))

	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, series, got.Series)

	mr.FastForward(2 * time.Minute)
	_, err = c.Get(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedis_EmptySeriesStaysNonNil(t *testing.T) {
	client, _ := setupTestRedis(t)
	c := NewRedis(client)
	ctx := context.Background()
	key := RangeKey("npm", "fresh-pkg", "2025-01-01", "2025-01-31")

	require.NoError(t, c.Set(ctx, key, NewSeriesEntry([]registry.DailyPoint{}, time.Minute)))

	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.NotNil(t, got.Series)
	assert.Empty(t, got.Series)
}

func TestRedis_InvalidEntry(t *testing.T) {
	client, mr := setupTestRedis(t)
	c := NewRedis(client).WithPrefix("test:")

	require.NoError(t, mr.Set("test:stats:npm:broken", "not json"))
	_, err := c.Get(context.Background(), StatsKey("npm", "broken"))
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

func TestRedis_Delete(t *testing.T) {
	client, mr := setupTestRedis(t)
	c := NewRedis(client)
	ctx := context.Background()
	key := StatsKey("docker", "library/nginx")

	_ = c.Set(ctx, key, NewRecordEntry(&registry.Record{}, time.Minute))
	require.NoError(t, c.Delete(ctx, key))
	assert.False(t, mr.Exists(DefaultRedisPrefix+key.String()), "key still present after Delete")
}
