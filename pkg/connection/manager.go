package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gigsync/gigsync-go/pkg/log"
	"github.com/gigsync/gigsync-go/pkg/metrics"
	"github.com/gigsync/gigsync-go/pkg/retry"
	"github.com/gigsync/gigsync-go/pkg/syncerr"
	"github.com/gigsync/gigsync-go/pkg/transport"
)

// DefaultConnectTimeout is the ceiling of one dial attempt.
const DefaultConnectTimeout = 10 * time.Second

// Reconnect reasons, exported as metric labels.
const (
	ReasonManual = "manual"
	ReasonAuto   = "auto"
	ReasonOnline = "online"
)

// State represents the connection state.
type State uint8

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected State = iota

	// StateConnecting indicates a dial is in progress.
	StateConnecting

	// StateConnected indicates an active connection.
	StateConnected

	// StateError indicates the last dial failed.
	StateError
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Listener observes connection state transitions.
type Listener interface {
	// ConnectionStateChanged is called after every transition. err is set
	// for StateError and for drops that carried a cause.
	ConnectionStateChanged(state State, err error)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(state State, err error)

// ConnectionStateChanged calls f(state, err).
func (f ListenerFunc) ConnectionStateChanged(state State, err error) {
	f(state, err)
}

// ListenerID identifies a registered listener.
type ListenerID uint64

// Config configures a Manager.
type Config struct {
	// ConnectTimeout bounds each dial attempt.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// AutoReconnect schedules new attempts after drops and failed dials.
	AutoReconnect bool `yaml:"auto_reconnect"`

	// Retry paces automatic reconnection. MaxAttempts <= 0 retries forever.
	Retry retry.Config `yaml:"retry"`

	// Clock for retry timers (optional, defaults to the real clock).
	Clock clockwork.Clock `yaml:"-"`

	// Logger for operational output (optional).
	Logger *slog.Logger `yaml:"-"`

	// Metrics recorder (optional).
	Metrics metrics.Recorder `yaml:"-"`

	// EventLog receives state change events (optional).
	EventLog log.Logger `yaml:"-"`
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: DefaultConnectTimeout,
		AutoReconnect:  true,
		Retry: retry.Config{
			Initial:    retry.DefaultInitial,
			Max:        retry.DefaultMax,
			Multiplier: retry.DefaultMultiplier,
			JitterMax:  retry.DefaultJitterMax,
		},
	}
}

// Manager manages the push connection lifecycle.
type Manager struct {
	dialer   transport.Dialer
	cfg      Config
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  metrics.Recorder
	eventLog log.Logger
	schedule *retry.Schedule

	// notifyMu serializes transition+broadcast pairs. Always taken before mu.
	notifyMu sync.Mutex

	mu       sync.Mutex
	state    State
	lastErr  error
	conn     transport.Conn
	online   bool
	closed   bool
	gen      uint64
	cancel   context.CancelFunc
	retryTmr clockwork.Timer

	listeners []registeredListener
	nextID    ListenerID

	wg sync.WaitGroup
}

type registeredListener struct {
	id ListenerID
	l  Listener
}

// NewManager creates a connection manager for dialer.
func NewManager(dialer transport.Dialer, cfg Config) *Manager {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		dialer:   dialer,
		cfg:      cfg,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		metrics:  metrics.OrNoop(cfg.Metrics),
		eventLog: log.OrNoop(cfg.EventLog),
		schedule: retry.NewScheduleWithClock(cfg.Retry, cfg.Clock),
		state:    StateDisconnected,
		online:   true,
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the error of the last failed dial or drop.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Online reports the last host online signal.
func (m *Manager) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Conn returns the live connection, or nil when not connected.
func (m *Manager) Conn() transport.Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected {
		return nil
	}
	return m.conn
}

// RetryAttempts returns the number of consecutive failed automatic attempts.
func (m *Manager) RetryAttempts() int {
	return m.schedule.Attempt()
}

// AddListener registers l and returns its ID.
func (m *Manager) AddListener(l Listener) ListenerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.listeners = append(m.listeners, registeredListener{id: m.nextID, l: l})
	return m.nextID
}

// RemoveListener unregisters a listener. Unknown IDs are ignored.
func (m *Manager) RemoveListener(id ListenerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, rl := range m.listeners {
		if rl.id == id {
			m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
			return
		}
	}
}

// Init connects if not already connected or connecting.
// It returns whether the manager is connected when it returns.
func (m *Manager) Init(ctx context.Context) bool {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	switch state {
	case StateConnected:
		return true
	case StateConnecting:
		return false
	}
	return m.connect(ctx, "")
}

// Reconnect drops the current connection (if any), aborts an outstanding
// dial, and connects again. It returns whether the new attempt succeeded.
func (m *Manager) Reconnect(ctx context.Context) bool {
	return m.connect(ctx, ReasonManual)
}

// SetOnline delivers the host connectivity signal. Going offline forces
// DISCONNECTED and aborts everything in flight; coming back online starts
// a reconnect in the background.
func (m *Manager) SetOnline(online bool) {
	if !online {
		m.notifyMu.Lock()
		m.mu.Lock()
		m.online = false
		m.gen++
		m.abortLocked()
		old := m.detachLocked()
		m.mu.Unlock()
		if old != nil {
			_ = old.Close()
		}
		// Broadcast even without a state change so listeners learn about
		// the offline signal.
		m.setState(StateDisconnected, nil, true, "host offline")
		m.notifyMu.Unlock()
		return
	}

	m.mu.Lock()
	wasOnline := m.online
	m.online = true
	closed := m.closed
	m.mu.Unlock()
	if wasOnline || closed {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.connect(context.Background(), ReasonOnline)
	}()
}

// Close tears the manager down. The connection is closed and no further
// attempts are made.
func (m *Manager) Close() error {
	m.notifyMu.Lock()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.notifyMu.Unlock()
		return nil
	}
	m.closed = true
	m.gen++
	m.abortLocked()
	old := m.detachLocked()
	m.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	m.setState(StateDisconnected, nil, false, "closed")
	m.notifyMu.Unlock()

	m.wg.Wait()
	return nil
}

// connect runs one dial attempt. reason is empty for Init.
func (m *Manager) connect(ctx context.Context, reason string) bool {
	m.notifyMu.Lock()
	m.mu.Lock()
	if m.closed || !m.online {
		m.mu.Unlock()
		m.notifyMu.Unlock()
		return false
	}
	m.gen++
	gen := m.gen
	m.abortLocked()
	attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	m.cancel = cancel
	old := m.detachLocked()
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	if reason != "" {
		m.metrics.IncReconnect(reason)
	}
	m.setState(StateConnecting, nil, false, reason)
	m.notifyMu.Unlock()

	conn, err := m.dialer.Dial(attemptCtx)
	cancel()

	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if gen != m.gen {
		// Superseded by Reconnect, SetOnline(false) or Close.
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return false
	}
	m.cancel = nil

	if err != nil && (ctx.Err() != nil || syncerr.IsAbort(err)) {
		// The caller gave up; that is not a connection failure.
		m.mu.Unlock()
		m.logger.Debug("push connection attempt aborted", "reason", reason)
		m.setState(StateDisconnected, nil, false, "dial aborted")
		return false
	}
	if err != nil {
		terr := &syncerr.TransportError{Op: "dial", Err: err}
		m.lastErr = terr
		m.scheduleRetryLocked(gen)
		m.mu.Unlock()
		m.logger.Warn("push connection failed", "error", err, "attempt", m.schedule.Attempt())
		m.setState(StateError, terr, false, err.Error())
		return false
	}

	m.conn = conn
	m.lastErr = nil
	m.schedule.Reset()
	m.wg.Add(1)
	go m.watch(conn, gen)
	m.mu.Unlock()

	m.logger.Info("push connection established", "conn_id", conn.ID())
	m.setState(StateConnected, nil, false, "")
	return true
}

// watch waits for conn to end and reports the drop.
func (m *Manager) watch(conn transport.Conn, gen uint64) {
	defer m.wg.Done()
	<-conn.Done()

	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.conn != conn || gen != m.gen {
		// Replaced or closed locally.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	cause := conn.Err()
	var terr error
	if cause != nil && !errors.Is(cause, transport.ErrConnClosed) {
		terr = &syncerr.TransportError{Op: "receive", Err: cause}
	}
	m.lastErr = terr
	m.scheduleRetryLocked(gen)
	m.mu.Unlock()

	m.logger.Info("push connection lost", "conn_id", conn.ID(), "error", cause)
	reason := "transport drop"
	if cause != nil {
		reason = cause.Error()
	}
	m.setState(StateDisconnected, terr, false, reason)
}

// scheduleRetryLocked arms the automatic reconnect timer. Caller holds mu.
func (m *Manager) scheduleRetryLocked(gen uint64) {
	if !m.cfg.AutoReconnect || m.closed || !m.online {
		return
	}
	delay, ok := m.schedule.Failure()
	if !ok {
		m.logger.Error("giving up automatic reconnection", "attempts", m.schedule.Attempt())
		return
	}
	if m.retryTmr != nil {
		m.retryTmr.Stop()
	}
	m.retryTmr = m.clock.AfterFunc(delay, func() {
		m.mu.Lock()
		current := gen == m.gen && !m.closed && m.online
		m.mu.Unlock()
		if current {
			m.connect(context.Background(), ReasonAuto)
		}
	})
	m.logger.Debug("reconnect scheduled", "delay", delay, "attempt", m.schedule.Attempt())
}

// abortLocked cancels the outstanding dial and the pending retry timer.
// Caller holds mu.
func (m *Manager) abortLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.retryTmr != nil {
		m.retryTmr.Stop()
		m.retryTmr = nil
	}
}

// detachLocked forgets the current connection and returns it for closing
// outside the lock. Caller holds mu.
func (m *Manager) detachLocked() transport.Conn {
	old := m.conn
	m.conn = nil
	return old
}

// setState records a transition and broadcasts it. Caller holds notifyMu
// but not mu. Unchanged states are broadcast only when force is set.
func (m *Manager) setState(state State, err error, force bool, reason string) {
	m.mu.Lock()
	old := m.state
	m.state = state
	if state == StateConnected || state == StateConnecting {
		m.lastErr = nil
	}
	connID := ""
	if m.conn != nil {
		connID = m.conn.ID()
	}
	listeners := make([]Listener, len(m.listeners))
	for i, rl := range m.listeners {
		listeners[i] = rl.l
	}
	m.mu.Unlock()

	if old == state && !force {
		return
	}

	m.metrics.SetConnectionState(state.String())
	m.eventLog.Log(log.Event{
		Timestamp:    m.clock.Now(),
		ConnectionID: connID,
		Layer:        log.LayerConnection,
		Category:     log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: old.String(),
			NewState: state.String(),
			Reason:   reason,
		},
	})

	for _, l := range listeners {
		l.ConnectionStateChanged(state, err)
	}
}
