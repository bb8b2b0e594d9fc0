package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Sternrassler/registry-stats/pkg/aggregator"
	"github.com/Sternrassler/registry-stats/pkg/calc"
	"github.com/Sternrassler/registry-stats/pkg/client"
	"github.com/Sternrassler/registry-stats/pkg/ratelimit"
	"github.com/Sternrassler/registry-stats/pkg/registry"
	"github.com/go-chi/chi/v5"
)

var endpoints = []string{
	"GET /stats/:package",
	"GET /stats/:registry/:package",
	"GET /compare/:package?registries=npm,pypi",
	"GET /range/:registry/:package?start=YYYY-MM-DD&end=YYYY-MM-DD&format=json|csv|chart",
	"GET /status",
	"GET /snapshot",
	"GET /metrics",
	"GET /health",
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":       "registry-stats",
		"registries": s.agg.Sources(),
		"endpoints":  endpoints,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

type statusResponse struct {
	Sources    []ratelimit.State             `json:"sources"`
	RateLimits map[string]registry.RateLimit `json:"rateLimits"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Sources:    []ratelimit.State{},
		RateLimits: s.agg.RateLimits(),
	}
	if s.cfg.Tracker != nil {
		states, err := s.cfg.Tracker.Snapshot(r.Context())
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to read rate limit state")
			writeError(w, http.StatusInternalServerError, "rate limit state unavailable")
			return
		}
		resp.Sources = states
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Snapshots == nil {
		writeError(w, http.StatusNotFound, "Scheduled refresh is not enabled")
		return
	}
	snap := s.cfg.Snapshots.Latest()
	if snap == nil {
		writeError(w, http.StatusNotFound, "No snapshot yet")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleStats serves /stats/{package} across every registry and
// /stats/{registry}/{package...} for one.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	parts, err := pathParts(chi.URLParam(r, "*"))
	if err != nil || len(parts) == 0 {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	if len(parts) == 1 {
		writeJSON(w, http.StatusOK, s.agg.All(ctx, parts[0], s.cfg.Options))
		return
	}

	source := parts[0]
	pkg := strings.Join(parts[1:], "/")
	record, err := s.agg.Stats(ctx, source, pkg, s.cfg.Options)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Package %q not found on %s", pkg, source))
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	pkg, err := url.PathUnescape(chi.URLParam(r, "package"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid package name")
		return
	}

	var sources []string
	if raw := r.URL.Query().Get("registries"); raw != "" {
		for _, source := range strings.Split(raw, ",") {
			if source = strings.TrimSpace(source); source != "" {
				sources = append(sources, source)
			}
		}
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	writeJSON(w, http.StatusOK, s.agg.Compare(ctx, pkg, sources, s.cfg.Options))
}

func (s *Server) handleRange(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "registry")
	parts, err := pathParts(chi.URLParam(r, "*"))
	if err != nil || len(parts) == 0 {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	pkg := strings.Join(parts, "/")

	query := r.URL.Query()
	start, end, format := query.Get("start"), query.Get("end"), query.Get("format")
	if start == "" || end == "" {
		writeError(w, http.StatusBadRequest, "Missing start and end query parameters")
		return
	}
	if format != "" && format != "json" && format != "csv" && format != "chart" {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown format %q", format))
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	series, err := s.agg.Range(ctx, source, pkg, start, end, s.cfg.Options)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	switch format {
	case "csv":
		body, err := calc.ToCSV(series)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		filename := fileSafe.Replace(fmt.Sprintf("%s-%s-%s.csv", pkg, start, end))
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, body)
	case "chart":
		writeJSON(w, http.StatusOK, calc.ToChartData(series, fmt.Sprintf("%s (%s)", pkg, source)))
	default:
		writeJSON(w, http.StatusOK, series)
	}
}

var fileSafe = strings.NewReplacer("/", "_", `"`, "", `\`, "_")

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
}

// writeFailure maps aggregator errors to status codes.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, registry.ErrUnknownSource),
		errors.Is(err, registry.ErrUnsupported),
		errors.Is(err, aggregator.ErrInvalidRange):
		status = http.StatusBadRequest
	case errors.Is(err, client.ErrContextCancelled),
		errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status >= 500 {
		s.logger.Warn().Err(err).Int("status", status).Msg("Upstream request failed")
	}
	writeError(w, status, err.Error())
}

// pathParts splits a wildcard path and unescapes each segment, so an
// encoded "@scope%2Fname" stays one segment.
func pathParts(wildcard string) ([]string, error) {
	var parts []string
	for _, raw := range strings.Split(wildcard, "/") {
		if raw == "" {
			continue
		}
		part, err := url.PathUnescape(raw)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	return parts, nil
}
