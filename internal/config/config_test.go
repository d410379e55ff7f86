package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"CONFIG_FILE", "DB_DRIVER", "DB_URL", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
		"HTTP_ADDR", "QUEUE_NAME", "WORKER_CONCURRENCY", "EVENT_MAX_RETRIES",
		"EVENT_RETRY_BASE_DELAY", "EVENT_PROCESSING_TIMEOUT", "DISPATCH_TIMEOUT",
		"SWEEP_INTERVAL", "SWEEP_GRACE", "PUBLISH_CHANNEL", "LOG_LEVEL",
		"OTEL_EXPORTER_OTLP_ENDPOINT", "API_KEYS",
	} {
		t.Setenv(name, "")
	}
}

func TestLoad_RequiresDBURL(t *testing.T) {
	clearEnv(t)

	_, err := Load()
	assert.EqualError(t, err, "DB_URL required")
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_URL", "postgres://localhost/events")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, 30*time.Minute, cfg.ProcessingTimeout)
	assert.Equal(t, 10, cfg.WorkerConcurrency)
	assert.Equal(t, map[string]string{"tenant-key-123": "tenant1"}, cfg.APIKeys)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_URL", "file:events.db")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("EVENT_MAX_RETRIES", "5")
	t.Setenv("EVENT_RETRY_BASE_DELAY", "250ms")
	t.Setenv("API_KEYS", "tenant1:k1, tenant2:k2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryBaseDelay)
	assert.Equal(t, map[string]string{"k1": "tenant1", "k2": "tenant2"}, cfg.APIKeys)
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_url: postgres://file/events
queue_name: from-file
worker_concurrency: 4
sweep_interval: 1m
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("QUEUE_NAME", "from-env")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://file/events", cfg.DBURL)
	assert.Equal(t, "from-env", cfg.QueueName)
	assert.Equal(t, 4, cfg.WorkerConcurrency)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"bad api keys": {"API_KEYS": "tenant1"},
		"bad driver":   {"DB_DRIVER": "mysql"},
		"bad int":      {"WORKER_CONCURRENCY": "many"},
		"bad duration": {"SWEEP_GRACE": "10"},
		"neg retries":  {"EVENT_MAX_RETRIES": "-1"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("DB_URL", "postgres://localhost/events")
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
