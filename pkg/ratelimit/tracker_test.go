package ratelimit

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_GetState_Unobserved(t *testing.T) {
	tracker := NewTracker(nil, zerolog.Nop())

	state, err := tracker.GetState(context.Background(), "npm")
	require.NoError(t, err)
	assert.True(t, state.IsHealthy, "unobserved source should be healthy")
	assert.Zero(t, state.Requests)
}

func TestTracker_Observe_Memory(t *testing.T) {
	tracker := NewTracker(nil, zerolog.Nop())
	ctx := context.Background()

	tracker.Observe(ctx, "pypi", http.StatusOK, 0)
	tracker.Observe(ctx, "pypi", http.StatusTooManyRequests, 3*time.Second)
	tracker.Observe(ctx, "npm", http.StatusOK, 0)

	state, err := tracker.GetState(ctx, "pypi")
	require.NoError(t, err)
	assert.Equal(t, int64(2), state.Requests)
	assert.Equal(t, int64(1), state.RateLimited)
	assert.False(t, state.IsHealthy, "pypi should be unhealthy after a 429")
	assert.Positive(t, state.TimeUntilReset(), "expected pending backoff after Retry-After")

	states, err := tracker.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "npm", states[0].Source)
	assert.Equal(t, "pypi", states[1].Source)
}

func TestTracker_Observe_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	writer := NewTracker(client, zerolog.Nop())
	writer.Observe(ctx, "docker", http.StatusOK, 0)
	writer.Observe(ctx, "docker", http.StatusTooManyRequests, time.Minute)

	// A second tracker on the same Redis sees the shared counters.
	reader := NewTracker(client, zerolog.Nop())
	state, err := reader.GetState(ctx, "docker")
	require.NoError(t, err)
	assert.Equal(t, int64(2), state.Requests)
	assert.Equal(t, int64(1), state.RateLimited)
	assert.Equal(t, http.StatusTooManyRequests, state.LastStatus)
	assert.GreaterOrEqual(t, state.TimeUntilReset(), 50*time.Second)

	states, err := reader.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "docker", states[0].Source)
}
