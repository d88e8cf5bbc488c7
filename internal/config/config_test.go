package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  api_port: 9000
  autoscraper_port: 9001
auth:
  jwt_secret: file-secret
  token_ttl: 2h
queue:
  backend: redis
  max_size: 50
redis:
  url: redis://localhost:6379/0
engine:
  max_concurrent: 8
  max_retries: 1
  default_query: golang
storage:
  backend: local
  local_dir: /tmp/raw
smtp:
  host: smtp.example.com
  alert_to: [ops@example.com]
logging:
  development: false
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9000, cfg.Server.APIPort)
	require.Equal(t, 9001, cfg.ListenPort("autoscraper"))
	require.Equal(t, "file-secret", cfg.Auth.JWTSecret)
	require.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	require.Equal(t, "redis", cfg.Queue.Backend)
	require.Equal(t, 50, cfg.Queue.MaxSize)
	require.Equal(t, 8, cfg.Engine.MaxConcurrent)
	require.Equal(t, 1, cfg.Engine.MaxRetries)
	require.Equal(t, "golang", cfg.Engine.DefaultQuery)
	require.Equal(t, "Remote", cfg.Engine.DefaultLocation)
	require.Equal(t, "local", cfg.Storage.Backend)
	require.True(t, cfg.SMTP.Enabled())
	require.Equal(t, 587, cfg.SMTP.Port)
	require.False(t, cfg.Logging.Development)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.ListenPort("api"))
	require.Equal(t, 8001, cfg.ListenPort("autoscraper"))
	require.Equal(t, "memory", cfg.Queue.Backend)
	require.Equal(t, 1000, cfg.Queue.MaxSize)
	require.Equal(t, 2*time.Second, cfg.Queue.ControlPoll)
	require.Equal(t, 5, cfg.Engine.MaxConcurrent)
	require.Equal(t, 3, cfg.Engine.MaxRetries)
	require.Equal(t, 3, cfg.Engine.DefaultMaxPages)
	require.Equal(t, 8*time.Hour, cfg.Auth.TokenTTL)
	require.Equal(t, 7*24*time.Hour, cfg.Auth.RememberMeTTL)
	require.Equal(t, "@every 24h", cfg.Beat.DefaultSchedule)
	require.Equal(t, 30*time.Second, cfg.FetchTimeout())
	require.Equal(t, 60*time.Second, cfg.RequestTimeout())
	require.False(t, cfg.SMTP.Enabled())
}

func TestLoadDeploymentEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/remotehive")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("JWT_SECRET_KEY", "env-secret")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("SMTP_HOST", "mail.example")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("PORT", "7777")
	t.Setenv("REMOTEHIVE_ENGINE_MAX_CONCURRENT", "2")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "postgres://u:p@db:5432/remotehive", cfg.Database.DSN)
	require.Equal(t, "redis://cache:6379/1", cfg.Redis.URL)
	require.Equal(t, "redis", cfg.Queue.Backend)
	require.Equal(t, "env-secret", cfg.Auth.JWTSecret)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.Origins)
	require.Equal(t, "mail.example", cfg.SMTP.Host)
	require.Equal(t, 2525, cfg.SMTP.Port)
	require.Equal(t, 7777, cfg.ListenPort("api"))
	require.Equal(t, 7777, cfg.ListenPort("autoscraper"))
	require.Equal(t, 2, cfg.Engine.MaxConcurrent)
}

func TestLoadQueueBackendFollowsRedisURL(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://cache:6379/1")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "redis", cfg.Queue.Backend)

	t.Setenv("REMOTEHIVE_QUEUE_BACKEND", "memory")
	cfg, err = Load("")
	require.NoError(t, err)
	require.Equal(t, "memory", cfg.Queue.Backend)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"concurrency", func(c *Config) { c.Engine.MaxConcurrent = 0 }, "engine.max_concurrent must be > 0"},
		{"queue backend", func(c *Config) { c.Queue.Backend = "kafka" }, `queue.backend must be memory or redis, got "kafka"`},
		{"redis url", func(c *Config) { c.Queue.Backend = "redis"; c.Redis.URL = "" }, "redis.url must be set when queue.backend is redis"},
		{"gcs bucket", func(c *Config) { c.Storage.Backend = "gcs" }, "storage.bucket must be set when storage.backend is gcs"},
		{"headless", func(c *Config) { c.Headless.Enabled = true; c.Headless.MaxParallel = 0 }, "headless.max_parallel must be > 0 when headless is enabled"},
		{"queue size", func(c *Config) { c.Queue.MaxSize = 0 }, "queue.max_size must be > 0"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tc.mutate(&cfg)
			require.EqualError(t, cfg.Validate(), tc.want)
		})
	}
}
