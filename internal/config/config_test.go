package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  host: "0.0.0.0"

rebel:
  test_mode: true
  extra_search_fields: ["owner__username"]
  profiles:
    DEFAULT:
      email: "Rebel <noreply@mg.example.com>"
      api:
        api_key: "key-123"
        domain: "mg.example.com"
    MARKETING:
      email: "news@news.example.com"
      timeout_seconds: 5
      api:
        api_key: "key-456"
        domain: "news.example.com"
        api_url: "https://api.eu.mailgun.net/v3/"

redis:
  addr: "localhost:6379"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.True(t, cfg.Rebel.TestMode)
	assert.Equal(t, []string{"owner__username"}, cfg.Rebel.ExtraSearchFields)

	def, ok := cfg.Rebel.Profile(DefaultProfile)
	require.True(t, ok)
	assert.Equal(t, "Rebel <noreply@mg.example.com>", def.Email)
	assert.Equal(t, DefaultAPIURL, def.API.APIURL)
	assert.Equal(t, 30, def.TimeoutSeconds)

	mkt, ok := cfg.Rebel.Profile("MARKETING")
	require.True(t, ok)
	assert.Equal(t, "https://api.eu.mailgun.net/v3", mkt.API.APIURL)
	assert.Equal(t, 5, mkt.TimeoutSeconds)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 30, cfg.Redis.LockTTLSeconds)
	assert.NoError(t, cfg.Validate())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "rebel: {}\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "rebel_session", cfg.Auth.CookieName)
	assert.Equal(t, "rebel/content/", cfg.Archive.Prefix)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 4, cfg.Database.LockPoolSize())
	assert.Error(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	path := writeConfig(t, `
rebel:
  profiles:
    DEFAULT:
      email: "noreply@mg.example.com"
      api:
        domain: "mg.example.com"
    OWNKEY:
      email: "x@example.com"
      api:
        api_key: "own"
        domain: "example.com"
`)

	t.Setenv("MAILGUN_API_KEY", "env-key")
	t.Setenv("REBEL_TEST_MODE", "true")
	t.Setenv("DATABASE_URL", "postgres://localhost/rebel")
	t.Setenv("REBEL_SUPERUSERS", "ops@example.com, admin@example.com")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.Rebel.Profiles[DefaultProfile].API.APIKey)
	assert.Equal(t, "own", cfg.Rebel.Profiles["OWNKEY"].API.APIKey)
	assert.True(t, cfg.Rebel.TestMode)
	assert.Equal(t, "postgres://localhost/rebel", cfg.Database.URL)
	assert.Equal(t, []string{"ops@example.com", "admin@example.com"}, cfg.Auth.Superusers)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
