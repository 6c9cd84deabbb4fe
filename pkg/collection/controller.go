package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gigsync/gigsync-go/pkg/cache"
	"github.com/gigsync/gigsync-go/pkg/connection"
	"github.com/gigsync/gigsync-go/pkg/log"
	"github.com/gigsync/gigsync-go/pkg/metrics"
	"github.com/gigsync/gigsync-go/pkg/query"
	"github.com/gigsync/gigsync-go/pkg/retry"
	"github.com/gigsync/gigsync-go/pkg/subscription"
	"github.com/gigsync/gigsync-go/pkg/syncerr"
	"github.com/gigsync/gigsync-go/pkg/transport"
	"github.com/gigsync/gigsync-go/pkg/watchdog"
)

// Default timings.
const (
	DefaultDebounce    = 300 * time.Millisecond
	DefaultSettleDelay = 500 * time.Millisecond
	DefaultReadTimeout = 10 * time.Second
)

// Controller errors.
var (
	ErrNoName     = errors.New("collection name required")
	ErrNoEntity   = errors.New("collection entity type required")
	ErrNoDecoder  = errors.New("collection decoder required")
	ErrMissingDep = errors.New("missing collection dependency")
)

// Config describes one synchronized collection.
type Config struct {
	// Name namespaces the cache key and circuit ("collection:<name>").
	Name string `yaml:"name"`

	// Entity is the entity type read from the query API.
	Entity string `yaml:"entity"`

	// Watch lists the entity types whose notifications trigger a refresh.
	// Defaults to Entity.
	Watch []string `yaml:"watch"`

	// Filter narrows reads and the subscription on Entity.
	Filter transport.Filter `yaml:"filter"`

	Debounce    time.Duration `yaml:"debounce"`
	SettleDelay time.Duration `yaml:"settle_delay"`
	ReadTimeout time.Duration `yaml:"read_timeout"`

	Retry    retry.Config    `yaml:"retry"`
	Watchdog watchdog.Config `yaml:"watchdog"`

	// ProbeWhenPoor refreshes once when quality degrades to POOR.
	ProbeWhenPoor bool `yaml:"probe_when_poor"`
}

// DefaultConfig returns the default timings for a collection.
func DefaultConfig(name, entity string) Config {
	return Config{
		Name:        name,
		Entity:      entity,
		Debounce:    DefaultDebounce,
		SettleDelay: DefaultSettleDelay,
		ReadTimeout: DefaultReadTimeout,
		Retry:       retry.DefaultConfig(),
		Watchdog:    watchdog.DefaultConfig(),
	}
}

// Service returns the namespaced cache key and circuit name.
func (c Config) Service() string {
	return "collection:" + c.Name
}

// Circuit is the breaker the controller reads through.
type Circuit interface {
	Execute(ctx context.Context, service string, op func(ctx context.Context) error) error
	Reset(service string)
}

// Connection is the part of the connection manager a controller uses.
type Connection interface {
	State() connection.State
	Online() bool
	Reconnect(ctx context.Context) bool
	AddListener(l connection.Listener) connection.ListenerID
	RemoveListener(id connection.ListenerID)
}

// Subscriber registers change subscriptions.
type Subscriber interface {
	Create(entityType string, callback subscription.Callback, filter transport.Filter) (subscription.ID, error)
	Remove(id subscription.ID)
}

// Deps are the shared collaborators of every controller.
type Deps struct {
	Reader        query.Reader
	Cache         cache.Store
	Circuit       Circuit
	Connection    Connection
	Subscriptions Subscriber

	Clock    clockwork.Clock
	Logger   *slog.Logger
	Metrics  metrics.Recorder
	EventLog log.Logger
}

// Decoder converts a row into an item. A failing row is dropped.
type Decoder[T any] func(query.Record) (T, error)

// Overlay post-processes every delivery of confirmed items.
type Overlay[T any] interface {
	Apply(confirmed []T) []T
}

// Source tells where delivered items came from.
type Source uint8

const (
	// SourceNetwork indicates a completed read.
	SourceNetwork Source = iota

	// SourceCache indicates a cache delivery.
	SourceCache

	// SourceOverlay indicates a redelivery after the overlay changed.
	SourceOverlay
)

// String returns the source name.
func (s Source) String() string {
	switch s {
	case SourceNetwork:
		return "NETWORK"
	case SourceCache:
		return "CACHE"
	case SourceOverlay:
		return "OVERLAY"
	default:
		return "UNKNOWN"
	}
}

// Meta describes one delivery.
type Meta struct {
	Source   Source
	Seq      uint64
	StoredAt time.Time
	Dropped  int
}

// Status is the observable state of a controller.
type Status struct {
	IsLoading bool

	// LastError is a circuit-open rejection or retry exhaustion.
	// Transient failures are never surfaced.
	LastError error

	IsOnline          bool
	Quality           watchdog.Quality
	ReconnectAttempts int
	RetryAttempt      int
	LastSuccessAt     time.Time
}

// Degraded reports whether the last error is a circuit-open rejection.
func (s Status) Degraded() bool {
	return syncerr.IsCircuitOpen(s.LastError)
}

// Controller synchronizes one collection.
type Controller[T any] struct {
	cfg      Config
	service  string
	decode   Decoder[T]
	reader   query.Reader
	cached   *cache.Typed[T]
	circuit  Circuit
	conn     Connection
	subs     Subscriber
	wd       *watchdog.Watchdog
	schedule *retry.Schedule
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  metrics.Recorder
	eventLog log.Logger

	mu sync.Mutex

	// Lifecycle
	running     bool
	gen         uint64
	ctx         context.Context
	cancel      context.CancelFunc
	listenerID  connection.ListenerID
	subIDs      []subscription.ID
	connState   connection.State
	connectedAt time.Time

	// Fetch guards
	inFlight       bool
	readCancel     context.CancelFunc
	lastCompletion time.Time
	debounceTmr    clockwork.Timer
	deferredBypass bool
	pendingRefresh bool
	retryTmr       clockwork.Timer
	settleTmr      clockwork.Timer

	// Sequencing
	seq          uint64
	deliveredSeq uint64
	delivered    bool

	// Data
	confirmed []T
	view      []T
	overlay   Overlay[T]

	status      Status
	lastEmitted Status
	onData      []func([]T, Meta)
	onStatus    []func(Status)

	// Observer dispatch. Notifications are queued under mu and drained by
	// one goroutine at a time with no lock held, in queue order.
	queue    []notification[T]
	draining bool

	wg sync.WaitGroup
}

// notification is one queued observer call: data when status is nil.
type notification[T any] struct {
	gen       uint64
	confirmed []T
	meta      Meta
	status    *Status
}

// New creates a controller. It does not start it.
func New[T any](cfg Config, deps Deps, decode Decoder[T]) (*Controller[T], error) {
	if cfg.Name == "" {
		return nil, ErrNoName
	}
	if cfg.Entity == "" {
		return nil, ErrNoEntity
	}
	if decode == nil {
		return nil, ErrNoDecoder
	}
	switch {
	case deps.Reader == nil:
		return nil, fmt.Errorf("%w: reader", ErrMissingDep)
	case deps.Cache == nil:
		return nil, fmt.Errorf("%w: cache", ErrMissingDep)
	case deps.Circuit == nil:
		return nil, fmt.Errorf("%w: circuit", ErrMissingDep)
	case deps.Connection == nil:
		return nil, fmt.Errorf("%w: connection", ErrMissingDep)
	case deps.Subscriptions == nil:
		return nil, fmt.Errorf("%w: subscriptions", ErrMissingDep)
	}

	if len(cfg.Watch) == 0 {
		cfg.Watch = []string{cfg.Entity}
	}
	if cfg.Debounce < 0 {
		cfg.Debounce = 0
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	wd, err := watchdog.New(cfg.Watchdog, deps.Clock)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", cfg.Name, err)
	}

	c := &Controller[T]{
		cfg:      cfg,
		service:  cfg.Service(),
		decode:   decode,
		reader:   deps.Reader,
		cached:   cache.NewTyped[T](deps.Cache, cfg.Service(), deps.Clock),
		circuit:  deps.Circuit,
		conn:     deps.Connection,
		subs:     deps.Subscriptions,
		wd:       wd,
		schedule: retry.NewScheduleWithClock(cfg.Retry, deps.Clock),
		clock:    deps.Clock,
		logger:   deps.Logger.With("collection", cfg.Name),
		metrics:  metrics.OrNoop(deps.Metrics),
		eventLog: log.OrNoop(deps.EventLog),
	}

	// Continue the sequence of a persisted entry so new reads are never
	// rejected as stale.
	if _, e, ok := c.cached.Get(); ok {
		c.seq = e.Seq
	}

	wd.OnQualityChange(c.qualityChanged)
	wd.OnStall(c.stalled)
	return c, nil
}

// Name returns the collection name.
func (c *Controller[T]) Name() string {
	return c.cfg.Name
}

// Config returns the effective configuration.
func (c *Controller[T]) Config() Config {
	return c.cfg
}

// Start performs the initial fetch, starts the watchdog, and subscribes to
// the watched entity types after the settle delay. Starting a running
// controller is a no-op.
func (c *Controller[T]) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.gen++
	gen := c.gen
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.delivered = false
	c.lastCompletion = time.Time{}
	c.schedule.Reset()
	c.connState = c.conn.State()
	c.status = Status{IsOnline: c.conn.Online(), Quality: watchdog.QualityGood}
	c.listenerID = c.conn.AddListener(connection.ListenerFunc(c.connectionStateChanged))
	c.settleTmr = c.clock.AfterFunc(c.cfg.SettleDelay, func() { c.subscribe(gen) })
	c.mu.Unlock()

	c.logger.Debug("collection started", "entity", c.cfg.Entity, "watch", c.cfg.Watch)
	c.wd.Start()
	c.requestFetch(true, false)
}

// Stop cancels timers, aborts the in-flight read, removes subscriptions and
// waits for background work to finish. Completions that arrive later are
// discarded. Stop may be called from an observer; it then returns without
// waiting and the remaining cleanup finishes in the background.
func (c *Controller[T]) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.gen++
	for _, t := range []clockwork.Timer{c.debounceTmr, c.retryTmr, c.settleTmr} {
		if t != nil {
			t.Stop()
		}
	}
	c.debounceTmr, c.retryTmr, c.settleTmr = nil, nil, nil
	if c.readCancel != nil {
		c.readCancel()
		c.readCancel = nil
	}
	c.inFlight = false
	c.pendingRefresh = false
	c.deferredBypass = false
	c.queue = nil
	c.cancel()
	subIDs := c.subIDs
	c.subIDs = nil
	listenerID := c.listenerID
	fromObserver := c.draining
	c.mu.Unlock()

	c.conn.RemoveListener(listenerID)
	for _, id := range subIDs {
		c.subs.Remove(id)
	}

	wait := func() {
		c.wd.Stop()
		c.wg.Wait()
		c.logger.Debug("collection stopped")
	}
	if fromObserver {
		// The observer may be running on the watchdog loop or a read
		// goroutine, both of which wait() waits for.
		go wait()
		return
	}
	wait()
}

// Refetch requests a fetch. With bypassCache false and a cached collection
// it delivers the cache synchronously. A call while a read is in flight is
// a no-op.
func (c *Controller[T]) Refetch(bypassCache bool) {
	c.requestFetch(bypassCache, false)
}

// Reconnect is the manual recovery action: it closes the circuit, resets
// the retry schedule, reconnects the push connection and refreshes.
func (c *Controller[T]) Reconnect(ctx context.Context) bool {
	if !c.resetFailures() {
		return false
	}
	ok := c.conn.Reconnect(ctx)
	c.requestFetch(true, false)
	return ok
}

// Recover is Reconnect without touching the push connection, for callers
// that share one connection between several controllers.
func (c *Controller[T]) Recover() {
	if c.resetFailures() {
		c.requestFetch(true, false)
	}
}

// resetFailures closes the circuit and clears the retry schedule and the
// surfaced error. It reports false when the controller is not running.
func (c *Controller[T]) resetFailures() bool {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return false
	}
	c.schedule.Reset()
	if c.retryTmr != nil {
		c.retryTmr.Stop()
		c.retryTmr = nil
	}
	c.status.LastError = nil
	c.status.RetryAttempt = 0
	c.mu.Unlock()

	c.circuit.Reset(c.service)
	c.emitStatus()
	return true
}

// SetVisible delivers the visibility signal. Hidden controllers pause the
// watchdog; becoming visible resumes it and refreshes.
func (c *Controller[T]) SetVisible(visible bool) {
	if !visible {
		c.wd.Pause()
		return
	}
	c.wd.Resume()
	c.requestFetch(true, false)
}

// SetOverlay installs the post-processor for confirmed deliveries.
func (c *Controller[T]) SetOverlay(o Overlay[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overlay = o
}

// OnData registers a data observer. Observers are called in delivery order
// with no lock held and each gets its own copy of the items. A delivery made
// while another goroutine is dispatching is handed to that goroutine.
func (c *Controller[T]) OnData(fn func(items []T, meta Meta)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onData = append(c.onData, fn)
}

// OnStatus registers a status observer.
func (c *Controller[T]) OnStatus(fn func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = append(c.onStatus, fn)
}

// Status returns the current status.
func (c *Controller[T]) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Running reports whether the collection is started.
func (c *Controller[T]) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Items returns the last delivered items, overlay applied.
func (c *Controller[T]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.view)
}

// Confirmed returns the last delivered items as read, without overlay.
func (c *Controller[T]) Confirmed() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.confirmed)
}

// Republish redelivers the confirmed items through the overlay.
func (c *Controller[T]) Republish() {
	c.mu.Lock()
	if !c.running || !c.delivered {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, notification[T]{
		gen:       c.gen,
		confirmed: c.confirmed,
		meta:      Meta{Source: SourceOverlay, Seq: c.deliveredSeq},
	})
	c.mu.Unlock()

	c.drain()
}

// deliver publishes items from read or cache if they belong to the current
// generation and are not older than what was delivered.
func (c *Controller[T]) deliver(gen uint64, items []T, meta Meta) bool {
	c.mu.Lock()
	if gen != c.gen || !c.running || (c.delivered && meta.Seq < c.deliveredSeq) {
		c.mu.Unlock()
		return false
	}
	c.deliveredSeq = meta.Seq
	c.delivered = true
	c.confirmed = items
	c.queue = append(c.queue, notification[T]{gen: gen, confirmed: items, meta: meta})
	c.mu.Unlock()

	c.drain()
	return true
}

// drain calls the observers for every queued notification. If another
// goroutine is already draining, it picks up the new entries instead.
func (c *Controller[T]) drain() {
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	defer func() {
		c.draining = false
		c.mu.Unlock()
	}()

	for len(c.queue) > 0 {
		n := c.queue[0]
		c.queue = c.queue[1:]
		if n.gen != c.gen || !c.running {
			continue
		}

		if n.status != nil {
			fns := slices.Clone(c.onStatus)
			c.mu.Unlock()
			c.fanOut(n.gen, len(fns), func(i int) { fns[i](*n.status) })
			c.mu.Lock()
			continue
		}

		overlay := c.overlay
		fns := slices.Clone(c.onData)
		c.mu.Unlock()
		out := n.confirmed
		if overlay != nil {
			out = overlay.Apply(n.confirmed)
		}
		c.mu.Lock()
		if n.gen != c.gen || !c.running {
			continue
		}
		c.view = out
		c.mu.Unlock()

		c.fanOut(n.gen, len(fns), func(i int) { fns[i](slices.Clone(out), n.meta) })
		c.mu.Lock()
	}
}

// fanOut runs call for each of n observers, stopping early once gen is
// no longer current. Caller does not hold mu.
func (c *Controller[T]) fanOut(gen uint64, n int, call func(i int)) {
	for i := 0; i < n; i++ {
		c.mu.Lock()
		live := gen == c.gen && c.running
		c.mu.Unlock()
		if !live {
			return
		}
		call(i)
	}
}

// emitStatus broadcasts the current status if it changed since the last
// broadcast.
func (c *Controller[T]) emitStatus() {
	c.mu.Lock()
	st := c.status
	if !c.running || st == c.lastEmitted {
		c.mu.Unlock()
		return
	}
	c.lastEmitted = st
	c.queue = append(c.queue, notification[T]{gen: c.gen, status: &st})
	c.mu.Unlock()

	c.drain()
}
