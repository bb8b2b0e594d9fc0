// Package server exposes the aggregator over HTTP.
//
// Every route is served both at the root and under /api. Only GET requests
// are accepted; OPTIONS answers the CORS preflight.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/registry-stats/pkg/aggregator"
	"github.com/Sternrassler/registry-stats/pkg/logging"
	"github.com/Sternrassler/registry-stats/pkg/metrics"
	"github.com/Sternrassler/registry-stats/pkg/ratelimit"
	"github.com/Sternrassler/registry-stats/pkg/refresh"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// DefaultAddr is used when Config.Addr is empty.
const DefaultAddr = ":3000"

// SnapshotSource provides the latest refresh snapshot.
type SnapshotSource interface {
	Latest() *refresh.Snapshot
}

// Config holds the server configuration.
type Config struct {
	Addr       string
	Aggregator *aggregator.Aggregator

	// Options apply to every request. Set a cache here to share it
	// between requests.
	Options aggregator.Options

	// Tracker backs /status. Optional.
	Tracker *ratelimit.Tracker

	// Snapshots backs /snapshot. Optional.
	Snapshots SnapshotSource

	// CORSOrigin defaults to "*".
	CORSOrigin string

	// RequestTimeout bounds each request's upstream work. Defaults to 60s.
	RequestTimeout time.Duration

	Logger *zerolog.Logger
}

// Server is the HTTP API.
type Server struct {
	cfg     Config
	agg     *aggregator.Aggregator
	logger  zerolog.Logger
	router  chi.Router
	httpSrv *http.Server
}

// New creates a server.
func New(cfg Config) (*Server, error) {
	if cfg.Aggregator == nil {
		return nil, fmt.Errorf("aggregator is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "*"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	s := &Server{
		cfg:    cfg,
		agg:    cfg.Aggregator,
		logger: logging.OrDefault(cfg.Logger, logging.ComponentServer),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.cors)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	s.routes(r)
	r.Route("/api", s.routes)

	s.router = r
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) routes(r chi.Router) {
	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/status", s.handleStatus)
	r.Get("/snapshot", s.handleSnapshot)
	r.Get("/stats/*", s.handleStats)
	r.Get("/compare/{package}", s.handleCompare)
	r.Get("/range/{registry}/*", s.handleRange)
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address. It returns nil after Shutdown.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("HTTP server listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", s.cfg.CORSOrigin)
		h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")

		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
			return
		case http.MethodGet:
			next.ServeHTTP(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})
}
