package breaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gigsync/gigsync-go/pkg/syncerr"
)

// Breaker defaults.
const (
	// DefaultFailureThreshold is the number of consecutive failures that
	// opens a circuit.
	DefaultFailureThreshold = 5

	// DefaultCoolDown is how long an open circuit rejects calls.
	DefaultCoolDown = 30 * time.Second
)

// State represents a circuit state.
type State uint8

const (
	// StateClosed allows calls.
	StateClosed State = iota

	// StateOpen rejects calls.
	StateOpen

	// StateHalfOpen allows a single trial call.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config holds breaker configuration.
type Config struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	CoolDown         time.Duration `yaml:"cool_down"`
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: DefaultFailureThreshold,
		CoolDown:         DefaultCoolDown,
	}
}

// CircuitState is a snapshot of one circuit.
type CircuitState struct {
	Service             string
	State               State
	ConsecutiveFailures int

	// OpenedAt is set while the circuit is open or half-open.
	OpenedAt time.Time
}

// circuit is the mutable state of one service.
type circuit struct {
	state    State
	failures int
	openedAt time.Time
	trial    bool // a half-open trial is in flight
}

// Registry holds the circuits of all services.
type Registry struct {
	mu sync.Mutex

	cfg      Config
	clock    clockwork.Clock
	logger   *slog.Logger
	circuits map[string]*circuit

	onStateChange func(service string, oldState, newState State)
}

// NewRegistry creates a breaker registry.
func NewRegistry(cfg Config, clock clockwork.Clock, logger *slog.Logger) *Registry {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = DefaultCoolDown
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
		circuits: make(map[string]*circuit),
	}
}

// OnStateChange sets a callback for circuit state changes.
// The callback runs outside the registry lock.
func (r *Registry) OnStateChange(fn func(service string, oldState, newState State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStateChange = fn
}

// Execute runs op through the named circuit.
// When the circuit is open, op is not invoked and a
// *syncerr.CircuitOpenError is returned.
func (r *Registry) Execute(ctx context.Context, service string, op func(ctx context.Context) error) error {
	if err := r.admit(service); err != nil {
		return err
	}
	err := op(ctx)
	r.record(service, err)
	return err
}

// admit decides whether a call may proceed.
func (r *Registry) admit(service string) error {
	r.mu.Lock()
	c := r.get(service)
	now := r.clock.Now()

	var transition func()
	switch c.state {
	case StateOpen:
		elapsed := now.Sub(c.openedAt)
		if elapsed < r.cfg.CoolDown {
			r.mu.Unlock()
			return &syncerr.CircuitOpenError{Service: service, RetryAfter: r.cfg.CoolDown - elapsed}
		}
		transition = r.setState(service, c, StateHalfOpen)
		c.trial = true

	case StateHalfOpen:
		if c.trial {
			r.mu.Unlock()
			return &syncerr.CircuitOpenError{Service: service}
		}
		c.trial = true
	}
	r.mu.Unlock()

	if transition != nil {
		transition()
	}
	return nil
}

// record applies the outcome of an admitted call.
func (r *Registry) record(service string, err error) {
	r.mu.Lock()
	c := r.get(service)
	wasTrial := c.state == StateHalfOpen && c.trial

	var transition func()
	switch {
	case err == nil:
		c.failures = 0
		c.trial = false
		if c.state != StateClosed {
			c.openedAt = time.Time{}
			transition = r.setState(service, c, StateClosed)
		}

	case syncerr.IsAbort(err):
		// Not a verdict on the service; let another trial through.
		if wasTrial {
			c.trial = false
		}

	default:
		c.failures++
		c.trial = false
		switch {
		case c.state == StateHalfOpen:
			c.openedAt = r.clock.Now()
			transition = r.setState(service, c, StateOpen)
		case c.state == StateClosed && c.failures >= r.cfg.FailureThreshold:
			c.openedAt = r.clock.Now()
			transition = r.setState(service, c, StateOpen)
		}
	}
	r.mu.Unlock()

	if transition != nil {
		transition()
	}
}

// Reset forces the named circuit closed and clears its failure count.
// Used after a manual reconnect.
func (r *Registry) Reset(service string) {
	r.mu.Lock()
	c := r.get(service)
	c.failures = 0
	c.trial = false
	c.openedAt = time.Time{}
	var transition func()
	if c.state != StateClosed {
		transition = r.setState(service, c, StateClosed)
	}
	r.mu.Unlock()

	if transition != nil {
		transition()
	}
}

// State returns a snapshot of the named circuit.
// An open circuit whose cool-down has elapsed still reports OPEN until the
// next call promotes it.
func (r *Registry) State(service string) CircuitState {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.get(service)
	return CircuitState{
		Service:             service,
		State:               c.state,
		ConsecutiveFailures: c.failures,
		OpenedAt:            c.openedAt,
	}
}

// get returns the circuit for service, creating it closed. Caller holds mu.
func (r *Registry) get(service string) *circuit {
	c, ok := r.circuits[service]
	if !ok {
		c = &circuit{state: StateClosed}
		r.circuits[service] = c
	}
	return c
}

// setState changes state and returns the notification to run after
// unlocking. Caller holds mu.
func (r *Registry) setState(service string, c *circuit, next State) func() {
	old := c.state
	c.state = next
	failures := c.failures
	cb := r.onStateChange
	return func() {
		r.logger.Info("circuit state changed",
			"service", service,
			"from", old.String(),
			"to", next.String(),
			"consecutive_failures", failures)
		if cb != nil {
			cb(service, old, next)
		}
	}
}
