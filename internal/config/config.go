// Package config loads the gigsync configuration.
//
// Sources, later ones winning: built-in defaults, the YAML file (with
// ${VAR} expansion), .env files, and GIGSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/gigsync/gigsync-go/pkg/breaker"
	"github.com/gigsync/gigsync-go/pkg/catalog"
	"github.com/gigsync/gigsync-go/pkg/collection"
	"github.com/gigsync/gigsync-go/pkg/connection"
	"github.com/gigsync/gigsync-go/pkg/discovery"
	"github.com/gigsync/gigsync-go/pkg/subscription"
)

// TransportKind selects the push transport.
type TransportKind string

const (
	TransportWebSocket TransportKind = "ws"
	TransportNATS      TransportKind = "nats"
	TransportMemory    TransportKind = "mem"
)

// Config is the complete client configuration.
type Config struct {
	Transport     TransportConfig     `yaml:"transport"`
	Query         QueryConfig         `yaml:"query"`
	Cache         CacheConfig         `yaml:"cache"`
	Breaker       breaker.Config      `yaml:"breaker"`
	Connection    connection.Config   `yaml:"connection"`
	Subscriptions subscription.Config `yaml:"subscriptions"`
	Catalog       catalog.Config      `yaml:"catalog"`
	Discovery     DiscoveryConfig     `yaml:"discovery"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Status        StatusConfig        `yaml:"status"`
}

// TransportConfig configures the push connection.
type TransportConfig struct {
	Kind TransportKind `yaml:"kind"`

	// URL of the feed. Empty with Discover set means browse mDNS.
	URL string `yaml:"url"`

	// Token is sent as a bearer token on WebSocket upgrades.
	Token string `yaml:"token"`

	// SubjectPrefix for NATS subjects.
	SubjectPrefix string `yaml:"subject_prefix"`

	// Discover resolves the feed URL via mDNS when URL is empty.
	Discover bool `yaml:"discover"`
}

// QueryConfig configures the bulk-read API.
type QueryConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
	APIKey  string `yaml:"api_key"`
}

// CacheConfig configures the collection cache.
type CacheConfig struct {
	// Path of the SQLite database. Empty keeps the cache in memory.
	Path string `yaml:"path"`
}

// DiscoveryConfig configures mDNS browsing.
type DiscoveryConfig struct {
	Venue     string        `yaml:"venue"`
	Interface string        `yaml:"interface"`
	Timeout   time.Duration `yaml:"timeout"`
}

// LoggingConfig configures operational and event logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`

	// EventLog is the path of the CBOR sync event log. Empty disables it.
	EventLog string `yaml:"event_log"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr to serve /metrics on. Empty disables the endpoint.
	Addr string `yaml:"addr"`
}

// StatusConfig configures the periodic status report.
type StatusConfig struct {
	// Interval between reports. Zero disables them.
	Interval time.Duration `yaml:"interval"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Transport:     TransportConfig{Kind: TransportWebSocket, SubjectPrefix: "gigsync"},
		Breaker:       breaker.DefaultConfig(),
		Connection:    connection.DefaultConfig(),
		Subscriptions: subscription.DefaultConfig(),
		Catalog:       catalog.DefaultConfig(),
		Discovery:     DiscoveryConfig{Timeout: discovery.BrowseTimeout},
		Logging:       LoggingConfig{Level: "info", Format: "text"},
		Status:        StatusConfig{Interval: 30 * time.Second},
	}
}

// Load reads the configuration. path may be empty to use defaults plus
// environment. envFiles default to ".env"; missing files are skipped.
func Load(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		// Existing environment variables win over .env entries.
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Environment variables.
const (
	EnvTransport   = "GIGSYNC_TRANSPORT"
	EnvFeedURL     = "GIGSYNC_FEED_URL"
	EnvFeedToken   = "GIGSYNC_FEED_TOKEN"
	EnvQueryURL    = "GIGSYNC_QUERY_URL"
	EnvQueryToken  = "GIGSYNC_QUERY_TOKEN"
	EnvAPIKey      = "GIGSYNC_API_KEY"
	EnvCachePath   = "GIGSYNC_CACHE_PATH"
	EnvLogLevel    = "GIGSYNC_LOG_LEVEL"
	EnvEventLog    = "GIGSYNC_EVENT_LOG"
	EnvMetricsAddr = "GIGSYNC_METRICS_ADDR"
	EnvVenue       = "GIGSYNC_VENUE"
	EnvDiscover    = "GIGSYNC_DISCOVER"
)

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	var kind string
	set(EnvTransport, &kind)
	if kind != "" {
		c.Transport.Kind = TransportKind(strings.ToLower(kind))
	}
	set(EnvFeedURL, &c.Transport.URL)
	set(EnvFeedToken, &c.Transport.Token)
	set(EnvQueryURL, &c.Query.BaseURL)
	set(EnvQueryToken, &c.Query.Token)
	set(EnvAPIKey, &c.Query.APIKey)
	set(EnvCachePath, &c.Cache.Path)
	set(EnvLogLevel, &c.Logging.Level)
	set(EnvEventLog, &c.Logging.EventLog)
	set(EnvMetricsAddr, &c.Metrics.Addr)
	set(EnvVenue, &c.Discovery.Venue)

	if v, ok := lookup(EnvDiscover); ok && v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			c.Transport.Discover = true
		case "0", "false", "no", "off":
			c.Transport.Discover = false
		default:
			return fmt.Errorf("%s: invalid boolean %q", EnvDiscover, v)
		}
	}
	return nil
}

// Validation errors.
var (
	ErrInvalidTransport = errors.New("invalid transport kind")
	ErrMissingFeedURL   = errors.New("feed url required")
	ErrMissingQueryURL  = errors.New("query base_url required")
	ErrInvalidLogLevel  = errors.New("invalid log level")
	ErrInvalidLogFormat = errors.New("invalid log format")
	ErrInvalidBreaker   = errors.New("breaker failure_threshold must be positive")
)

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error

	switch c.Transport.Kind {
	case TransportWebSocket, TransportNATS:
		if c.Transport.URL == "" && !c.Transport.Discover {
			errs = append(errs, ErrMissingFeedURL)
		}
		if c.Query.BaseURL == "" {
			errs = append(errs, ErrMissingQueryURL)
		}
	case TransportMemory:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidTransport, c.Transport.Kind))
	}

	if c.Breaker.FailureThreshold <= 0 {
		errs = append(errs, ErrInvalidBreaker)
	}

	for _, coll := range []collection.Config{c.Catalog.Songs, c.Catalog.Requests, c.Catalog.SetLists} {
		if err := coll.Watchdog.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("catalog %s: %w", coll.Name, err))
		}
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Logging.Format))
	}

	return errors.Join(errs...)
}

// SlogLevel parses Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, l.Level)
	}
	return level, nil
}

// NewLogger builds the operational logger writing to w.
func (l LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := l.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
