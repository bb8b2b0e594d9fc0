package providers

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Sternrassler/registry-stats/internal/testutil"
	"github.com/Sternrassler/registry-stats/pkg/client"
	"github.com/Sternrassler/registry-stats/pkg/ratelimit"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// newTestClient returns a transport without pacing and with millisecond backoff.
func newTestClient(t *testing.T) *client.Client {
	t.Helper()

	opts := []ratelimit.Option{ratelimit.WithDefaultDelay(0)}
	for _, name := range []string{NPM, PyPI, NuGet, VSCode, Docker, GHCR} {
		opts = append(opts, ratelimit.WithDelay(name, 0))
	}

	logger := zerolog.Nop()
	c, err := client.New(client.Config{
		UserAgent: "registry-stats-test/1.0",
		Timeout:   5 * time.Second,
		Retry:     client.RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond},
		Limiter:   ratelimit.NewThrottle(opts...),
		Logger:    &logger,
	})
	require.NoError(t, err)
	return c
}

func newMock(t *testing.T) *testutil.MockRegistry {
	t.Helper()
	mock := testutil.NewMockRegistry()
	t.Cleanup(mock.Close)
	return mock
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	if string(b) == "null" {
		return "[]"
	}
	return string(b)
}
