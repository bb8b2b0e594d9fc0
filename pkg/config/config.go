// Package config loads registry-stats settings from a config file and the
// environment.
//
// The file is looked up as registry-stats.config.yaml, .yml or .json in the
// start directory and each parent. JSON files are read by the YAML decoder.
// Environment variables override file values.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/Sternrassler/registry-stats/pkg/providers"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// FileNames are the config file names searched for, in order.
var FileNames = []string{
	"registry-stats.config.yaml",
	"registry-stats.config.yml",
	"registry-stats.config.json",
}

// Throttle modes.
const (
	ThrottlePacing      = "pacing"
	ThrottleTokenBucket = "token-bucket"
)

// Config is the complete application configuration.
type Config struct {
	// Registries lists the enabled sources in query order.
	Registries []string `yaml:"registries"`

	// Packages maps a display name to the subject on each registry.
	Packages map[string]map[string]string `yaml:"packages"`

	Cache      bool  `yaml:"cache"`
	CacheTTLMs int64 `yaml:"cacheTtlMs"`

	// CacheSize bounds the in-memory cache; 0 keeps it unbounded.
	CacheSize int `yaml:"cacheSize"`

	Concurrency int `yaml:"concurrency"`

	// Throttle is ThrottlePacing or ThrottleTokenBucket.
	Throttle string `yaml:"throttle"`

	// RedisURL switches the cache and rate-limit tracker to Redis.
	RedisURL string `yaml:"redisUrl"`

	UserAgent string `yaml:"userAgent"`
	LogLevel  string `yaml:"logLevel"`
	LogPretty bool   `yaml:"logPretty"`

	Server  ServerConfig  `yaml:"server"`
	Refresh RefreshConfig `yaml:"refresh"`

	// Tokens maps registry names to credentials.
	Tokens map[string]string `yaml:"tokens"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr       string `yaml:"addr"`
	CORSOrigin string `yaml:"corsOrigin"`
}

// RefreshConfig configures the scheduled refresh. An empty schedule disables it.
type RefreshConfig struct {
	Schedule string `yaml:"schedule"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Registries:  slices.Clone(providers.DefaultNames),
		Packages:    map[string]map[string]string{},
		Cache:       true,
		CacheTTLMs:  300000,
		Concurrency: 5,
		Throttle:    ThrottlePacing,
		UserAgent:   "registry-stats/1.0 (+https://github.com/Sternrassler/registry-stats)",
		LogLevel:    "info",
		Server: ServerConfig{
			Addr:       ":3000",
			CORSOrigin: "*",
		},
		Tokens: map[string]string{},
	}
}

// CacheTTL returns the cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMs) * time.Millisecond
}

// Find returns the path of the nearest config file at or above dir, or ""
// when there is none.
func Find(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", dir, err)
	}
	for {
		for _, name := range FileNames {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// Load finds the config file starting at dir, applies environment
// overrides and validates the result. It returns the file path used, empty
// when the defaults were used.
func Load(dir string) (*Config, string, error) {
	path, err := Find(dir)
	if err != nil {
		return nil, "", err
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, path, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, path, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// Parse decodes YAML or JSON config data over the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from environment variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	env := func(key, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}

	c.RedisURL = env("REGISTRY_STATS_REDIS_URL", c.RedisURL)
	c.LogLevel = env("LOG_LEVEL", c.LogLevel)
	c.UserAgent = env("USER_AGENT", c.UserAgent)
	if port := getenv("PORT"); port != "" {
		c.Server.Addr = ":" + strings.TrimPrefix(port, ":")
	}

	if c.Tokens == nil {
		c.Tokens = map[string]string{}
	}
	if token := getenv("DOCKER_TOKEN"); token != "" {
		c.Tokens[providers.Docker] = token
	}
	if token := getenv("GITHUB_TOKEN"); token != "" {
		c.Tokens[providers.GHCR] = token
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	known := map[string]bool{
		providers.NPM: true, providers.PyPI: true, providers.NuGet: true,
		providers.VSCode: true, providers.Docker: true, providers.GHCR: true,
	}

	if len(c.Registries) == 0 {
		errs = append(errs, fmt.Errorf("registries: at least one registry is required"))
	}
	seen := map[string]bool{}
	for _, r := range c.Registries {
		if !known[r] {
			errs = append(errs, fmt.Errorf("registries: unknown registry %q", r))
		}
		if seen[r] {
			errs = append(errs, fmt.Errorf("registries: %q listed twice", r))
		}
		seen[r] = true
	}

	for _, name := range sortedKeys(c.Packages) {
		for _, r := range sortedKeys(c.Packages[name]) {
			if !known[r] {
				errs = append(errs, fmt.Errorf("packages.%s: unknown registry %q", name, r))
			}
		}
	}

	if c.Cache && c.CacheTTLMs <= 0 {
		errs = append(errs, fmt.Errorf("cacheTtlMs must be > 0 when the cache is enabled (got %d)", c.CacheTTLMs))
	}
	if c.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("cacheSize must be >= 0 (got %d)", c.CacheSize))
	}
	if c.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("concurrency must be > 0 (got %d)", c.Concurrency))
	}
	if c.Throttle != ThrottlePacing && c.Throttle != ThrottleTokenBucket {
		errs = append(errs, fmt.Errorf("throttle must be %q or %q (got %q)", ThrottlePacing, ThrottleTokenBucket, c.Throttle))
	}
	if c.UserAgent == "" {
		errs = append(errs, fmt.Errorf("userAgent is required"))
	}
	if c.Refresh.Schedule != "" {
		if _, err := cron.ParseStandard(c.Refresh.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("refresh.schedule: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Subjects returns, for one registry, the configured subjects in package
// name order.
func (c *Config) Subjects(registry string) []string {
	var out []string
	for _, name := range sortedKeys(c.Packages) {
		if subject, ok := c.Packages[name][registry]; ok && subject != "" {
			out = append(out, subject)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

const starter = `# registry-stats configuration
registries: [npm, pypi, nuget, vscode, docker]

packages:
  my-package:
    npm: my-package
    pypi: my-package

cache: true
cacheTtlMs: 300000
concurrency: 5

# pacing keeps a fixed delay between requests per registry;
# token-bucket allows bursts up to each registry's published quota.
throttle: pacing

server:
  addr: ":3000"
  corsOrigin: "*"

# refresh:
#   schedule: "*/15 * * * *"
`

// Starter returns the file written by "registry-stats init".
func Starter() string {
	return starter
}
