package main

import (
	"context"
	"fmt"

	"github.com/Sternrassler/registry-stats/pkg/aggregator"
	"github.com/Sternrassler/registry-stats/pkg/cache"
	"github.com/Sternrassler/registry-stats/pkg/client"
	"github.com/Sternrassler/registry-stats/pkg/config"
	"github.com/Sternrassler/registry-stats/pkg/logging"
	"github.com/Sternrassler/registry-stats/pkg/providers"
	"github.com/Sternrassler/registry-stats/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// app is the wired object graph shared by every command.
type app struct {
	cfg     *config.Config
	agg     *aggregator.Aggregator
	opts    aggregator.Options
	tracker *ratelimit.Tracker
	close   func() error
}

// newApp connects Redis when configured and builds the transport, the
// providers and the aggregator.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(opt)
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", opt.Addr, err)
		}
		logger.Info().Str("addr", opt.Addr).Msg("Connected to Redis")
	}

	component := func(name string) zerolog.Logger {
		return logger.With().Str("component", name).Logger()
	}
	throttleLogger := component(logging.ComponentThrottle)
	transportLogger := component(logging.ComponentTransport)
	aggregatorLogger := component(logging.ComponentAggregator)

	limiter, err := newLimiter(cfg, throttleLogger)
	if err != nil {
		return nil, err
	}
	tracker := ratelimit.NewTracker(rdb, throttleLogger)

	clientCfg := client.DefaultConfig()
	clientCfg.UserAgent = cfg.UserAgent
	clientCfg.Limiter = limiter
	clientCfg.Tracker = tracker
	clientCfg.Logger = &transportLogger
	c, err := client.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	built, err := providers.Build(c, cfg.Registries, providers.WithLogger(component(logging.ComponentDiscovery)))
	if err != nil {
		return nil, err
	}
	agg, err := aggregator.New(aggregator.Config{Providers: built, Logger: &aggregatorLogger})
	if err != nil {
		return nil, fmt.Errorf("create aggregator: %w", err)
	}

	closeFn := func() error { return nil }
	if rdb != nil {
		closeFn = rdb.Close
	}

	return &app{
		cfg: cfg,
		agg: agg,
		opts: aggregator.Options{
			Cache:       newCache(cfg, rdb),
			CacheTTL:    cfg.CacheTTL(),
			Concurrency: cfg.Concurrency,
			Tokens:      cfg.Tokens,
		},
		tracker: tracker,
		close:   closeFn,
	}, nil
}

func newLimiter(cfg *config.Config, logger zerolog.Logger) (ratelimit.Limiter, error) {
	if cfg.Throttle == config.ThrottleTokenBucket {
		limits, err := providers.RateLimits(cfg.Registries)
		if err != nil {
			return nil, err
		}
		return ratelimit.NewTokenBucket(limits, ratelimit.DefaultDelay), nil
	}
	return ratelimit.NewThrottle(ratelimit.WithLogger(logger)), nil
}

// newCache picks the backend: none, Redis, a bounded LRU or the unbounded map.
func newCache(cfg *config.Config, rdb *redis.Client) cache.Cache {
	switch {
	case !cfg.Cache:
		return nil
	case rdb != nil:
		return cache.NewRedis(rdb)
	case cfg.CacheSize > 0:
		return cache.NewBounded(cfg.CacheSize, cfg.CacheTTL())
	default:
		return cache.NewMemory()
	}
}
