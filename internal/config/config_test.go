package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gigsync/gigsync-go/pkg/catalog"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// noEnvFile points Load at a .env that does not exist.
func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), ".env")
}

func TestDefaultsWithMemoryTransport(t *testing.T) {
	t.Setenv(EnvTransport, "mem")

	cfg, err := Load("", noEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, TransportMemory, cfg.Transport.Kind)
	assert.Equal(t, catalog.DefaultConfig(), cfg.Catalog)
	assert.Equal(t, 30*time.Second, cfg.Status.Interval)
	assert.Empty(t, cfg.Cache.Path)
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("TEST_FEED_HOST", "feed.example.com")
	path := writeFile(t, "gigsync.yaml", `
transport:
  kind: ws
  url: wss://${TEST_FEED_HOST}/feed
query:
  base_url: https://api.example.com/rest/v1
cache:
  path: /var/lib/gigsync/cache.db
breaker:
  failure_threshold: 3
  cool_down: 45s
catalog:
  requests:
    debounce: 150ms
    watchdog:
      check_interval: 2s
      poor_after: 20s
      stalled_after: 40s
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path, noEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, "wss://feed.example.com/feed", cfg.Transport.URL)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 45*time.Second, cfg.Breaker.CoolDown)
	assert.Equal(t, 150*time.Millisecond, cfg.Catalog.Requests.Debounce)
	assert.Equal(t, 40*time.Second, cfg.Catalog.Requests.Watchdog.StalledAfter)

	// Untouched collections keep their defaults.
	assert.Equal(t, catalog.DefaultConfig().Songs, cfg.Catalog.Songs)
	assert.Equal(t, catalog.DefaultConfig().Requests.Watch, cfg.Catalog.Requests.Watch)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "gigsync.yaml", `
transport:
  kind: nats
  url: nats://file:4222
query:
  base_url: https://file.example.com
`)
	t.Setenv(EnvFeedURL, "nats://env:4222")
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvDiscover, "yes")

	cfg, err := Load(path, noEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, "nats://env:4222", cfg.Transport.URL)
	assert.Equal(t, "https://file.example.com", cfg.Query.BaseURL)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Transport.Discover)
}

func TestDotEnvFile(t *testing.T) {
	envFile := writeFile(t, ".env", "GIGSYNC_TRANSPORT=mem\nGIGSYNC_METRICS_ADDR=:9187\n")
	t.Cleanup(func() {
		os.Unsetenv(EnvTransport)
		os.Unsetenv(EnvMetricsAddr)
	})
	// An explicit environment variable wins over .env.
	t.Setenv(EnvMetricsAddr, ":9999")

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, TransportMemory, cfg.Transport.Kind)
	assert.Equal(t, ":9999", cfg.Metrics.Addr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   error
	}{
		{"memory needs nothing", func(c *Config) { c.Transport.Kind = TransportMemory }, nil},
		{"unknown transport", func(c *Config) { c.Transport.Kind = "carrier-pigeon" }, ErrInvalidTransport},
		{"ws needs url", func(c *Config) { c.Query.BaseURL = "https://api" }, ErrMissingFeedURL},
		{"discover replaces url", func(c *Config) {
			c.Transport.Discover = true
			c.Query.BaseURL = "https://api"
		}, nil},
		{"ws needs query url", func(c *Config) { c.Transport.URL = "ws://feed" }, ErrMissingQueryURL},
		{"breaker threshold", func(c *Config) {
			c.Transport.Kind = TransportMemory
			c.Breaker.FailureThreshold = 0
		}, ErrInvalidBreaker},
		{"log level", func(c *Config) {
			c.Transport.Kind = TransportMemory
			c.Logging.Level = "chatty"
		}, ErrInvalidLogLevel},
		{"log format", func(c *Config) {
			c.Transport.Kind = TransportMemory
			c.Logging.Format = "xml"
		}, ErrInvalidLogFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidateWatchdogThresholds(t *testing.T) {
	cfg := Default()
	cfg.Transport.Kind = TransportMemory
	cfg.Catalog.SetLists.Watchdog.StalledAfter = time.Second
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog set_lists")
}

func TestInvalidDiscoverValue(t *testing.T) {
	t.Setenv(EnvTransport, "mem")
	t.Setenv(EnvDiscover, "maybe")
	_, err := Load("", noEnvFile(t))
	assert.ErrorContains(t, err, EnvDiscover)
}
