// Package client provides the HTTP transport every registry provider uses:
// per-source pacing, retries with exponential backoff and typed errors.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/registry-stats/pkg/ratelimit"
	"github.com/Sternrassler/registry-stats/pkg/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultUserAgent identifies the client to registries.
const DefaultUserAgent = "registry-stats/1.0 (+https://github.com/Sternrassler/registry-stats)"

// Prometheus metrics for transport operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registry_requests_total",
		Help: "Total physical registry requests by source and status",
	}, []string{"source", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "registry_request_duration_seconds",
		Help:    "Registry request duration in seconds by source",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"source"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registry_errors_total",
		Help: "Total failed attempts by error class",
	}, []string{"class"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registry_retries_total",
		Help: "Total number of retry attempts by source and error class",
	}, []string{"source", "class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "registry_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 4, 8, 30, 60},
	}, []string{"class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registry_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by source",
	}, []string{"source"})
)

// Config holds the client configuration.
type Config struct {
	// UserAgent is sent with every request unless the request sets its own.
	UserAgent string

	// Timeout bounds a single attempt.
	Timeout time.Duration

	Retry RetryConfig

	// Limiter paces throttled requests. Defaults to ratelimit.NewThrottle().
	Limiter ratelimit.Limiter

	// Tracker receives every attempt's outcome. Defaults to an in-memory tracker.
	Tracker *ratelimit.Tracker

	// HTTPClient overrides the underlying client; Timeout is ignored when set.
	HTTPClient *http.Client

	Logger *zerolog.Logger
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		UserAgent: DefaultUserAgent,
		Timeout:   30 * time.Second,
		Retry:     DefaultRetryConfig(),
	}
}

// Client is the registry transport.
type Client struct {
	httpClient *http.Client
	limiter    ratelimit.Limiter
	tracker    *ratelimit.Tracker
	retry      RetryConfig
	userAgent  string
	logger     zerolog.Logger
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Retry.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must be >= 0 (got %d)", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.BaseDelay <= 0 {
		return nil, fmt.Errorf("base delay must be positive (got %s)", cfg.Retry.BaseDelay)
	}

	logger := log.With().Str("component", "transport").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NewThrottle(ratelimit.WithLogger(logger))
	}

	tracker := cfg.Tracker
	if tracker == nil {
		tracker = ratelimit.NewTracker(nil, logger)
	}

	return &Client{
		httpClient: httpClient,
		limiter:    limiter,
		tracker:    tracker,
		retry:      cfg.Retry,
		userAgent:  cfg.UserAgent,
		logger:     logger,
	}, nil
}

// Request describes one logical call. Body is replayed on every attempt.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Get builds a GET request for url.
func Get(url string) Request {
	return Request{Method: http.MethodGet, URL: url}
}

// PostJSON builds a POST request with v encoded as the JSON body.
func PostJSON(url string, v any) (Request, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Request{}, fmt.Errorf("encode request body: %w", err)
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return Request{Method: http.MethodPost, URL: url, Header: header, Body: body}, nil
}

// Do performs req against source, acquiring a throttle slot before every
// physical attempt including retries. On 2xx the JSON body is decoded into
// out (which may be nil) and found is true; on 404 found is false and err is
// nil. Other failures return a *registry.SourceError, joined with
// ErrRetryExhausted once the retry budget is spent.
func (c *Client) Do(ctx context.Context, source string, req Request, out any) (bool, error) {
	return c.do(ctx, source, req, out, true)
}

// DoDirect is Do without throttling. It is meant for callers that already
// amortize rate cost, such as native bulk endpoints and paginated searches.
func (c *Client) DoDirect(ctx context.Context, source string, req Request, out any) (bool, error) {
	return c.do(ctx, source, req, out, false)
}

// Tracker returns the tracker receiving this client's attempt outcomes.
func (c *Client) Tracker() *ratelimit.Tracker {
	return c.tracker
}

func (c *Client) do(ctx context.Context, source string, req Request, out any, throttled bool) (bool, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	var lastErr *registry.SourceError
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if throttled {
			if err := c.limiter.Wait(ctx, source); err != nil {
				return false, fmt.Errorf("%w: %v", ErrContextCancelled, err)
			}
		}

		found, srcErr, err := c.attempt(ctx, source, req, out)
		if err != nil {
			return false, err
		}
		if srcErr == nil {
			if attempt > 0 {
				c.logger.Info().
					Str("source", source).
					Int("attempt", attempt+1).
					Msg("Request succeeded after retry")
			}
			return found, nil
		}

		lastErr = srcErr
		if !IsRetryable(srcErr.StatusCode) {
			return false, srcErr
		}
		if attempt == c.retry.MaxRetries {
			break
		}

		class := Classify(srcErr.StatusCode)
		delay := c.retry.Backoff(attempt, srcErr.RetryAfter)
		retriesTotal.WithLabelValues(source, string(class)).Inc()
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(delay.Seconds())

		c.logger.Warn().
			Str("source", source).
			Int("status", srcErr.StatusCode).
			Str("error_class", string(class)).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Msg("Retrying request after backoff")

		if err := sleep(ctx, delay); err != nil {
			return false, fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}
	}

	retryExhaustedTotal.WithLabelValues(source).Inc()
	c.logger.Error().
		Str("source", source).
		Int("status", lastErr.StatusCode).
		Int("attempts", c.retry.MaxRetries+1).
		Msg("Retry attempts exhausted")

	return false, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, c.retry.MaxRetries+1, lastErr)
}

// attempt issues one physical request. A non-nil *SourceError is a failed
// attempt subject to the retry policy; a non-nil error ends the call.
func (c *Client) attempt(ctx context.Context, source string, req Request, out any) (bool, *registry.SourceError, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return false, nil, fmt.Errorf("create request: %w", err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}

	c.logger.Debug().
		Str("source", source).
		Str("method", req.Method).
		Str("url", req.URL).
		Msg("Executing registry request")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	requestDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			return false, nil, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		}
		c.tracker.Observe(ctx, source, 0, 0)
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(source, "network_error").Inc()
		return false, &registry.SourceError{
			Source:  source,
			Message: "request failed: " + req.URL,
			Err:     err,
		}, nil
	}
	defer resp.Body.Close()

	retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	c.tracker.Observe(ctx, source, resp.StatusCode, retryAfter)
	requestsTotal.WithLabelValues(source, strconv.Itoa(resp.StatusCode)).Inc()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return false, nil, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return true, nil, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, nil, &registry.SourceError{
				Source:     source,
				StatusCode: resp.StatusCode,
				Message:    "decode response: " + req.URL,
				Err:        errors.Join(registry.ErrMalformed, err),
			}
		}
		return true, nil, nil
	}

	io.Copy(io.Discard, resp.Body)
	class := Classify(resp.StatusCode)
	errorsTotal.WithLabelValues(string(class)).Inc()

	c.logger.Debug().
		Str("source", source).
		Int("status", resp.StatusCode).
		Str("error_class", string(class)).
		Msg("Registry request failed")

	return false, &registry.SourceError{
		Source:     source,
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("%s: %s", http.StatusText(resp.StatusCode), req.URL),
		RetryAfter: retryAfter,
	}, nil
}
