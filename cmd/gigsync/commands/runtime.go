package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jonboulle/clockwork"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/gigsync/gigsync-go/internal/config"
	"github.com/gigsync/gigsync-go/pkg/breaker"
	"github.com/gigsync/gigsync-go/pkg/cache"
	"github.com/gigsync/gigsync-go/pkg/catalog"
	"github.com/gigsync/gigsync-go/pkg/collection"
	"github.com/gigsync/gigsync-go/pkg/connection"
	"github.com/gigsync/gigsync-go/pkg/discovery"
	"github.com/gigsync/gigsync-go/pkg/log"
	"github.com/gigsync/gigsync-go/pkg/metrics"
	"github.com/gigsync/gigsync-go/pkg/query"
	"github.com/gigsync/gigsync-go/pkg/subscription"
	"github.com/gigsync/gigsync-go/pkg/transport"
	"github.com/gigsync/gigsync-go/pkg/transport/memfeed"
	"github.com/gigsync/gigsync-go/pkg/transport/natsfeed"
	"github.com/gigsync/gigsync-go/pkg/transport/wsfeed"
)

// Runtime is the assembled sync stack.
type Runtime struct {
	Config  *config.Config
	Logger  *slog.Logger
	Clock   clockwork.Clock
	Conn    *connection.Manager
	Subs    *subscription.Registry
	Breaker *breaker.Registry
	Catalog *catalog.Catalog
	Metrics *prom.Registry

	// Demo is set with the in-memory transport.
	Demo *Demo

	// Vacuum compacts the SQLite cache. Nil for the memory cache.
	Vacuum func(context.Context) error

	eventLog log.Logger
	closers  []func() error
}

// RuntimeOption customizes NewRuntime.
type RuntimeOption func(*runtimeOptions)

type runtimeOptions struct {
	clock    clockwork.Clock
	noSeed   bool
	eventLog log.Logger
}

// WithClock replaces the real clock.
func WithClock(c clockwork.Clock) RuntimeOption {
	return func(o *runtimeOptions) { o.clock = c }
}

// WithoutDemoData leaves the in-memory backend empty.
func WithoutDemoData() RuntimeOption {
	return func(o *runtimeOptions) { o.noSeed = true }
}

// WithEventLog adds a sink for sync events.
func WithEventLog(l log.Logger) RuntimeOption {
	return func(o *runtimeOptions) { o.eventLog = l }
}

// NewRuntime wires the stack described by cfg. Nothing is started.
func NewRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...RuntimeOption) (*Runtime, error) {
	var o runtimeOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}

	rt := &Runtime{
		Config:  cfg,
		Logger:  logger,
		Clock:   o.clock,
		Metrics: prom.NewRegistry(),
	}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	metrics.RegisterRuntimeCollectors(rt.Metrics)
	recorder := metrics.NewPrometheusRecorder(rt.Metrics)

	sinks := []log.Logger{log.NewSlogAdapter(logger)}
	if o.eventLog != nil {
		sinks = append(sinks, o.eventLog)
	}
	if cfg.Logging.EventLog != "" {
		fl, err := log.NewFileLogger(cfg.Logging.EventLog)
		if err != nil {
			return nil, fmt.Errorf("event log: %w", err)
		}
		rt.closers = append(rt.closers, fl.Close)
		sinks = append(sinks, fl)
	}
	rt.eventLog = log.NewMultiLogger(sinks...)

	var store cache.Store
	if cfg.Cache.Path != "" {
		s, err := cache.NewSQLiteStore(cfg.Cache.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("cache: %w", err)
		}
		rt.closers = append(rt.closers, s.Close)
		rt.Vacuum = s.Vacuum
		store = s
	} else {
		store = cache.NewMemoryStore()
	}

	dialer, reader, mutator, err := rt.backends(ctx, o)
	if err != nil {
		return nil, err
	}

	rt.Breaker = breaker.NewRegistry(cfg.Breaker, o.clock, logger)
	rt.Breaker.OnStateChange(func(service string, oldState, newState breaker.State) {
		recorder.SetCircuitState(service, newState.String())
		rt.eventLog.Log(log.Event{
			Timestamp: o.clock.Now(),
			Layer:     log.LayerBreaker,
			Category:  log.CategoryState,
			StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityCircuit,
				OldState: oldState.String(),
				NewState: newState.String(),
				Reason:   service,
			},
		})
	})

	connCfg := cfg.Connection
	connCfg.Clock = o.clock
	connCfg.Logger = logger
	connCfg.Metrics = recorder
	connCfg.EventLog = rt.eventLog
	rt.Conn = connection.NewManager(dialer, connCfg)

	subsCfg := cfg.Subscriptions
	subsCfg.Clock = o.clock
	subsCfg.Logger = logger
	subsCfg.Metrics = recorder
	subsCfg.EventLog = rt.eventLog
	rt.Subs = subscription.NewRegistry(rt.Conn, subsCfg)

	rt.Catalog, err = catalog.New(cfg.Catalog, collection.Deps{
		Reader:        reader,
		Cache:         store,
		Circuit:       rt.Breaker,
		Connection:    rt.Conn,
		Subscriptions: rt.Subs,
		Clock:         o.clock,
		Logger:        logger,
		Metrics:       recorder,
		EventLog:      rt.eventLog,
	}, mutator)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	ok = true
	return rt, nil
}

func (rt *Runtime) backends(ctx context.Context, o runtimeOptions) (transport.Dialer, query.Reader, query.Mutator, error) {
	cfg := rt.Config
	if cfg.Transport.Kind == config.TransportMemory {
		rt.Demo = NewDemo()
		if !o.noSeed {
			if err := rt.Demo.Seed(); err != nil {
				return nil, nil, nil, fmt.Errorf("demo data: %w", err)
			}
		}
		return rt.Demo.Hub, rt.Demo.Backend, rt.Demo.Backend, nil
	}

	kind := cfg.Transport.Kind
	url := cfg.Transport.URL
	if url == "" && cfg.Transport.Discover {
		feed, err := rt.resolveFeed(ctx)
		if err != nil {
			return nil, nil, nil, err
		}
		url = feed.URL()
		if feed.Protocol == discovery.ProtocolNATS {
			kind = config.TransportNATS
		} else {
			kind = config.TransportWebSocket
		}
		if feed.Subject != "" {
			cfg.Transport.SubjectPrefix = feed.Subject
		}
		rt.Logger.Info("feed discovered", "instance", feed.Instance, "url", url)
	}

	var dialer transport.Dialer
	switch kind {
	case config.TransportNATS:
		dialer = natsfeed.NewDialer(natsfeed.Config{
			URL:            url,
			SubjectPrefix:  cfg.Transport.SubjectPrefix,
			ConnectTimeout: cfg.Connection.ConnectTimeout,
		}, rt.Logger)
	default:
		header := http.Header{}
		if cfg.Transport.Token != "" {
			header.Set("Authorization", "Bearer "+cfg.Transport.Token)
		}
		dialer = wsfeed.NewDialer(wsfeed.Config{
			URL:              url,
			Header:           header,
			HandshakeTimeout: cfg.Connection.ConnectTimeout,
		}, rt.Logger)
	}

	client := query.NewHTTPClient(query.HTTPConfig{
		BaseURL: cfg.Query.BaseURL,
		Token:   cfg.Query.Token,
		APIKey:  cfg.Query.APIKey,
	}, rt.Logger)
	return dialer, client, client, nil
}

func (rt *Runtime) resolveFeed(ctx context.Context) (*discovery.Feed, error) {
	browser := discovery.NewBrowser(discovery.BrowserConfig{
		Interface: rt.Config.Discovery.Interface,
		Timeout:   rt.Config.Discovery.Timeout,
		Logger:    rt.Logger,
	})
	venue := rt.Config.Discovery.Venue
	if venue != "" {
		name, err := discovery.InstanceName(venue)
		if err != nil {
			return nil, err
		}
		venue = name
	}
	feed, err := browser.Find(ctx, venue)
	if err != nil {
		return nil, fmt.Errorf("discover feed: %w", err)
	}
	return feed, nil
}

// Start connects and starts every collection.
func (rt *Runtime) Start(ctx context.Context) {
	rt.Conn.Init(ctx)
	rt.Catalog.Start(ctx)
}

// Close stops the collections and releases every resource.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.Catalog != nil {
		rt.Catalog.Stop()
	}
	if rt.Subs != nil {
		rt.Subs.Close()
	}
	if rt.Conn != nil {
		errs = append(errs, rt.Conn.Close())
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// MetricsHandler serves the runtime's Prometheus registry.
func (rt *Runtime) MetricsHandler() http.Handler {
	return metrics.HTTPHandler(rt.Metrics)
}
