// Package providers implements the registry sources: npm, PyPI, NuGet, the
// VS Code Marketplace, Docker Hub and GitHub Container Registry.
//
// Every provider issues its requests through a shared *client.Client, so
// pacing, retries and rate-limit tracking apply uniformly. Providers only
// translate between a source's JSON and registry.Record.
package providers

import (
	"fmt"
	"strings"

	"github.com/Sternrassler/registry-stats/pkg/client"
	"github.com/Sternrassler/registry-stats/pkg/registry"
	"github.com/rs/zerolog"
)

// Source names.
const (
	NPM    = "npm"
	PyPI   = "pypi"
	NuGet  = "nuget"
	VSCode = "vscode"
	Docker = "docker"
	GHCR   = "ghcr"
)

// DefaultNames are the sources registered when no list is configured.
// GHCR is opt-in because its API needs a token for useful limits.
var DefaultNames = []string{NPM, PyPI, NuGet, VSCode, Docker}

// Option configures a provider.
type Option func(*settings)

type settings struct {
	base   string
	search string
	logger zerolog.Logger
}

// WithBaseURL replaces the provider's primary API root.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.base = strings.TrimRight(url, "/") }
}

// WithSearchURL replaces the provider's search API root (npm discovery).
func WithSearchURL(url string) Option {
	return func(s *settings) { s.search = strings.TrimRight(url, "/") }
}

// WithLogger sets the logger used by multi-request operations such as
// discovery paging.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

func resolve(base, search string, opts []Option) settings {
	s := settings{base: base, search: search, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Build constructs the named providers in the given order. opts apply to
// every provider.
func Build(c *client.Client, names []string, opts ...Option) ([]registry.Provider, error) {
	if len(names) == 0 {
		names = DefaultNames
	}
	out := make([]registry.Provider, 0, len(names))
	for _, name := range names {
		p, err := New(c, name, opts...)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// New constructs one provider by source name.
func New(c *client.Client, name string, opts ...Option) (registry.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NPM:
		return NewNPM(c, opts...), nil
	case PyPI:
		return NewPyPI(c, opts...), nil
	case NuGet:
		return NewNuGet(c, opts...), nil
	case VSCode:
		return NewVSCode(c, opts...), nil
	case Docker:
		return NewDocker(c, opts...), nil
	case GHCR:
		return NewGHCR(c, opts...), nil
	}
	return nil, fmt.Errorf("build providers: %w", registry.UnknownSource(name))
}

// RateLimits returns the published quota of each named source that
// documents one. It is used to size ratelimit.TokenBucket before the
// transport exists; RateLimit never touches the client.
func RateLimits(names []string) (map[string]registry.RateLimit, error) {
	built, err := Build(nil, names)
	if err != nil {
		return nil, err
	}
	out := make(map[string]registry.RateLimit, len(built))
	for _, p := range built {
		if rl := p.RateLimit(); rl != nil {
			out[p.Name()] = *rl
		}
	}
	return out, nil
}
