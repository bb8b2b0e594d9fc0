package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"npm", "pypi", "nuget", "vscode", "docker"}, cfg.Registries)
	assert.True(t, cfg.Cache)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL())
	assert.Equal(t, 5, cfg.Concurrency)
	assert.Equal(t, ThrottlePacing, cfg.Throttle)
}

func TestStarterParses(t *testing.T) {
	cfg, err := Parse([]byte(Starter()))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"npm": "my-package", "pypi": "my-package"}, cfg.Packages["my-package"])
}

func TestParse_JSON(t *testing.T) {
	cfg, err := Parse([]byte(`{
		"registries": ["npm", "docker"],
		"packages": {"web": {"npm": "express", "docker": "nginx"}},
		"cacheTtlMs": 60000,
		"concurrency": 2
	}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"npm", "docker"}, cfg.Registries)
	assert.Equal(t, time.Minute, cfg.CacheTTL())
	assert.Equal(t, 2, cfg.Concurrency)
	assert.True(t, cfg.Cache, "absent keys keep their defaults")
	assert.Equal(t, []string{"nginx"}, cfg.Subjects("docker"))
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte("registries: [npm]\ncacheTTL: 5\n"))
	assert.Error(t, err)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidate_JoinsErrors(t *testing.T) {
	cfg := Default()
	cfg.Registries = []string{"npm", "cargo", "npm"}
	cfg.Packages = map[string]map[string]string{"x": {"maven": "x"}}
	cfg.Concurrency = 0
	cfg.Throttle = "burst"
	cfg.CacheTTLMs = 0
	cfg.Refresh.Schedule = "every now and then"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown registry "cargo"`,
		`"npm" listed twice`,
		`packages.x: unknown registry "maven"`,
		"concurrency must be > 0",
		"throttle must be",
		"cacheTtlMs must be > 0",
		"refresh.schedule",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"REGISTRY_STATS_REDIS_URL": "redis://localhost:6379/0",
		"LOG_LEVEL":                "debug",
		"PORT":                     "8080",
		"DOCKER_TOKEN":             "dckr",
		"GITHUB_TOKEN":             "ghp",
		"USER_AGENT":               "custom/1.0",
	}
	cfg := Default()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "dckr", cfg.Tokens["docker"])
	assert.Equal(t, "ghp", cfg.Tokens["ghcr"])
	assert.Equal(t, "custom/1.0", cfg.UserAgent)
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	path, err := Find(nested)
	require.NoError(t, err)
	if path != "" {
		t.Skipf("a config file above the temp dir shadows the test: %s", path)
	}

	want := filepath.Join(root, "registry-stats.config.yml")
	require.NoError(t, os.WriteFile(want, []byte("registries: [pypi]\nconcurrency: 3\n"), 0o644))

	path, err = Find(nested)
	require.NoError(t, err)
	assert.Equal(t, want, path)

	t.Setenv("LOG_LEVEL", "warn")
	cfg, used, err := Load(nested)
	require.NoError(t, err)
	assert.Equal(t, want, used)
	assert.Equal(t, []string{"pypi"}, cfg.Registries)
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoad_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "registry-stats.config.json"), []byte(`{"concurrency": -1}`), 0o644))

	_, _, err := Load(dir)
	assert.ErrorContains(t, err, "concurrency must be > 0")
}
