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

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	assert.Equal(t, "https://learn.ideo-cloud.ma", cfg.LMS.Origin)
	assert.Equal(t, "/tenant", cfg.LMS.APIPath)
	assert.Equal(t, 30*time.Second, cfg.LMS.Timeout)
	assert.True(t, cfg.LMS.TrackEnabled)

	assert.Equal(t, "strict", cfg.Player.ResolverPolicy)
	assert.Equal(t, 64, cfg.Player.OutboxSize)

	assert.Equal(t, 5*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, 4, cfg.Sandbox.PoolSize)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("LMS_ORIGIN", "https://lms.example.com")
	t.Setenv("LMS_TIMEOUT", "5s")
	t.Setenv("RESOLVER_POLICY", "first_unit")
	t.Setenv("HEADLESS", "false")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("RATE_LIMIT_ENABLED", "false")
	t.Setenv("CORS_ALLOW_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("TOKEN_SECRET", "shared")
	t.Setenv("TOKEN_ISSUER", "https://lms.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "https://lms.example.com", cfg.LMS.Origin)
	assert.Equal(t, 5*time.Second, cfg.LMS.Timeout)
	assert.Equal(t, "first_unit", cfg.Player.ResolverPolicy)
	assert.False(t, cfg.Player.Headless)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowOrigins)
	assert.Equal(t, "shared", cfg.Auth.TokenSecret)
	assert.Equal(t, "https://lms.example.com", cfg.Auth.TokenIssuer)
}

func TestLoadWithPartialEnvironmentVariables(t *testing.T) {
	t.Setenv("PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "/tenant", cfg.LMS.APIPath)
}

func TestLoadYAMLFileThenEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scormhost.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "7000"
lms:
  origin: https://staging.example.com
  timeout: 10s
player:
  resolver_policy: first_unit
`), 0o644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7100")

	cfg, err := Load()
	require.NoError(t, err)

	// env beats file
	assert.Equal(t, "7100", cfg.Server.Port)
	// file beats defaults
	assert.Equal(t, "https://staging.example.com", cfg.LMS.Origin)
	assert.Equal(t, 10*time.Second, cfg.LMS.Timeout)
	assert.Equal(t, "first_unit", cfg.Player.ResolverPolicy)
	// untouched keys keep defaults
	assert.Equal(t, "/tenant", cfg.LMS.APIPath)
}

func TestLoadTOMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scormhost.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[store]
enabled = false
path = "/var/lib/scormhost/progress.db"

[player]
outbox_size = 8
`), 0o644))

	cfg := Default()
	require.NoError(t, LoadFile(path, cfg))

	assert.False(t, cfg.Store.Enabled)
	assert.Equal(t, "/var/lib/scormhost/progress.db", cfg.Store.Path)
	assert.Equal(t, 8, cfg.Player.OutboxSize)
	assert.Equal(t, "strict", cfg.Player.ResolverPolicy)
}

func TestLoadFileRejectsUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scormhost.ini")
	require.NoError(t, os.WriteFile(path, []byte("port=1"), 0o644))

	err := LoadFile(path, Default())
	assert.Error(t, err)
}

func TestLoadOrDefaultOnBadFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg := LoadOrDefault()
	assert.Equal(t, "8000", cfg.Server.Port)
}

func TestAPIBaseURL(t *testing.T) {
	lms := LMSConfig{Origin: "https://learn.example.com/", APIPath: "/tenant"}
	assert.Equal(t, "https://learn.example.com/tenant", lms.APIBaseURL())
}
