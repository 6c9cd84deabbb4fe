package subscription

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/gigsync/gigsync-go/pkg/connection"
	"github.com/gigsync/gigsync-go/pkg/log"
	"github.com/gigsync/gigsync-go/pkg/metrics"
	"github.com/gigsync/gigsync-go/pkg/transport"
)

// Subscription errors.
var (
	ErrInvalidEntityType = errors.New("invalid entity type")
	ErrNilCallback       = errors.New("nil subscription callback")
	ErrResourceExhausted = errors.New("maximum subscriptions reached")
	ErrRegistryClosed    = errors.New("subscription registry closed")
)

// DefaultMaxSubscriptions bounds the number of live subscriptions.
const DefaultMaxSubscriptions = 256

// ID identifies a subscription.
type ID string

// Callback receives change notifications. It runs on the transport's
// delivery goroutine and must not block.
type Callback func(transport.Event)

// Subscription is one registered interest.
type Subscription struct {
	ID         ID
	EntityType string
	Filter     transport.Filter
	Callback   Callback
}

// Connection is the part of the connection manager the registry uses.
type Connection interface {
	Conn() transport.Conn
	AddListener(l connection.Listener) connection.ListenerID
	RemoveListener(id connection.ListenerID)
}

// Config holds registry configuration.
type Config struct {
	// MaxSubscriptions is the maximum number of subscriptions allowed.
	MaxSubscriptions int `yaml:"max_subscriptions"`

	Clock    clockwork.Clock  `yaml:"-"`
	Logger   *slog.Logger     `yaml:"-"`
	Metrics  metrics.Recorder `yaml:"-"`
	EventLog log.Logger       `yaml:"-"`
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() Config {
	return Config{MaxSubscriptions: DefaultMaxSubscriptions}
}

// channelKey identifies one multiplexed channel.
type channelKey struct {
	entityType string
	filter     string
}

// pair is the shared channel state of one (entityType, filter).
type pair struct {
	key    channelKey
	filter transport.Filter
	subs   []*Subscription

	ch     transport.Channel
	connID string
	active bool

	// epoch invalidates handlers of replaced or closed channels
	epoch uint64
}

// Registry manages subscriptions on top of a connection manager.
type Registry struct {
	conn     Connection
	cfg      Config
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  metrics.Recorder
	eventLog log.Logger

	listenerID connection.ListenerID

	mu     sync.Mutex
	subs   map[ID]*Subscription
	pairs  map[channelKey]*pair
	closed bool
}

// NewRegistry creates a registry and attaches it to conn.
func NewRegistry(conn Connection, cfg Config) *Registry {
	if cfg.MaxSubscriptions <= 0 {
		cfg.MaxSubscriptions = DefaultMaxSubscriptions
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := &Registry{
		conn:     conn,
		cfg:      cfg,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		metrics:  metrics.OrNoop(cfg.Metrics),
		eventLog: log.OrNoop(cfg.EventLog),
		subs:     make(map[ID]*Subscription),
		pairs:    make(map[channelKey]*pair),
	}
	r.listenerID = conn.AddListener(connection.ListenerFunc(r.connectionStateChanged))
	return r
}

// Create registers callback for changes to entityType, narrowed by filter
// (the zero Filter matches all rows). The shared channel is opened now if
// the connection is up, otherwise on the next CONNECTED transition.
func (r *Registry) Create(entityType string, callback Callback, filter transport.Filter) (ID, error) {
	if entityType == "" {
		return "", ErrInvalidEntityType
	}
	if callback == nil {
		return "", ErrNilCallback
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", ErrRegistryClosed
	}
	if len(r.subs) >= r.cfg.MaxSubscriptions {
		return "", ErrResourceExhausted
	}

	sub := &Subscription{
		ID:         ID(uuid.New().String()),
		EntityType: entityType,
		Filter:     filter,
		Callback:   callback,
	}
	r.subs[sub.ID] = sub

	key := channelKey{entityType: entityType, filter: filter.String()}
	p, ok := r.pairs[key]
	if !ok {
		p = &pair{key: key, filter: filter}
		r.pairs[key] = p
	}
	p.subs = append(p.subs, sub)

	if !p.active {
		if c := r.conn.Conn(); c != nil {
			r.openLocked(p, c)
		}
	}

	r.logger.Debug("subscription created", "id", sub.ID, "entity", entityType, "filter", key.filter)
	return sub.ID, nil
}

// Remove unregisters a subscription. Unknown and already-removed IDs are
// ignored. Removing the last subscriber of a pair closes its channel.
func (r *Registry) Remove(id ID) {
	r.mu.Lock()
	sub, ok := r.subs[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.subs, id)

	key := channelKey{entityType: sub.EntityType, filter: sub.Filter.String()}
	p := r.pairs[key]
	var toClose transport.Channel
	if p != nil {
		for i, s := range p.subs {
			if s.ID == id {
				p.subs = append(p.subs[:i:i], p.subs[i+1:]...)
				break
			}
		}
		if len(p.subs) == 0 {
			delete(r.pairs, key)
			toClose = r.deactivateLocked(p, "last subscriber removed")
		}
	}
	active := r.activeCountLocked()
	r.mu.Unlock()

	r.metrics.SetActiveChannels(active)
	if toClose != nil {
		_ = toClose.Close()
	}
}

// Close detaches the registry from the connection manager and closes every
// channel. Subsequent Create calls fail.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	var toClose []transport.Channel
	for _, p := range r.pairs {
		if ch := r.deactivateLocked(p, "registry closed"); ch != nil {
			toClose = append(toClose, ch)
		}
	}
	r.pairs = make(map[channelKey]*pair)
	r.subs = make(map[ID]*Subscription)
	r.mu.Unlock()

	r.conn.RemoveListener(r.listenerID)
	for _, ch := range toClose {
		_ = ch.Close()
	}
	r.metrics.SetActiveChannels(0)
}

// Active reports whether the channel for (entityType, filter) is live.
func (r *Registry) Active(entityType string, filter transport.Filter) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pairs[channelKey{entityType: entityType, filter: filter.String()}]
	return ok && p.active
}

// Count returns the number of registered subscriptions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Channels returns the number of registered (entityType, filter) pairs.
func (r *Registry) Channels() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pairs)
}

// connectionStateChanged re-opens every pair on CONNECTED and marks all
// pairs inactive otherwise.
func (r *Registry) connectionStateChanged(state connection.State, _ error) {
	var c transport.Conn
	if state == connection.StateConnected {
		c = r.conn.Conn()
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	var stale []transport.Channel
	for _, p := range r.pairs {
		if ch := r.deactivateLocked(p, "connection "+state.String()); ch != nil {
			stale = append(stale, ch)
		}
		if c != nil {
			r.openLocked(p, c)
		}
	}
	active := r.activeCountLocked()
	r.mu.Unlock()

	for _, ch := range stale {
		_ = ch.Close()
	}
	r.metrics.SetActiveChannels(active)
}

// openLocked opens the channel of p on c. Caller holds mu.
func (r *Registry) openLocked(p *pair, c transport.Conn) {
	p.epoch++
	epoch := p.epoch

	ch, err := c.Subscribe(p.key.entityType, p.filter, transport.Handler{
		OnEvent: func(ev transport.Event) { r.dispatch(p, epoch, ev) },
		OnClose: func(err error) { r.channelClosed(p, epoch, err) },
	})
	if err != nil {
		r.logger.Warn("subscribe failed", "entity", p.key.entityType, "filter", p.key.filter, "error", err)
		r.logChannel(p, c.ID(), "INACTIVE", err.Error())
		return
	}
	p.ch = ch
	p.connID = c.ID()
	p.active = true
	r.logChannel(p, p.connID, "ACTIVE", "")
}

// deactivateLocked marks p inactive and returns its channel for closing
// outside the lock. Caller holds mu.
func (r *Registry) deactivateLocked(p *pair, reason string) transport.Channel {
	p.epoch++
	ch := p.ch
	wasActive := p.active
	p.ch = nil
	p.active = false
	if wasActive {
		r.logChannel(p, p.connID, "INACTIVE", reason)
	}
	return ch
}

func (r *Registry) activeCountLocked() int {
	n := 0
	for _, p := range r.pairs {
		if p.active {
			n++
		}
	}
	return n
}

// dispatch fans one notification out to the pair's subscribers.
func (r *Registry) dispatch(p *pair, epoch uint64, ev transport.Event) {
	r.mu.Lock()
	if p.epoch != epoch || !p.active {
		r.mu.Unlock()
		return
	}
	callbacks := make([]Callback, len(p.subs))
	for i, s := range p.subs {
		callbacks[i] = s.Callback
	}
	connID := p.connID
	r.mu.Unlock()

	r.metrics.IncNotification(ev.EntityType, ev.Op.String())
	r.eventLog.Log(log.Event{
		Timestamp:    r.clock.Now(),
		ConnectionID: connID,
		Layer:        log.LayerSubscription,
		Category:     log.CategoryNotification,
		EntityType:   ev.EntityType,
		Notification: &log.NotificationEvent{
			Op:          ev.Op.String(),
			Key:         ev.Key,
			Subscribers: len(callbacks),
		},
	})

	for _, cb := range callbacks {
		cb(ev)
	}
}

// channelClosed marks a remotely closed channel inactive. It is not retried
// until the next CONNECTED transition.
func (r *Registry) channelClosed(p *pair, epoch uint64, err error) {
	r.mu.Lock()
	if p.epoch != epoch {
		r.mu.Unlock()
		return
	}
	reason := "channel closed"
	if err != nil {
		reason = err.Error()
	}
	r.deactivateLocked(p, reason)
	active := r.activeCountLocked()
	r.mu.Unlock()

	r.logger.Warn("subscription channel closed", "entity", p.key.entityType, "filter", p.key.filter, "error", err)
	r.metrics.SetActiveChannels(active)
}

func (r *Registry) logChannel(p *pair, connID, newState, reason string) {
	r.eventLog.Log(log.Event{
		Timestamp:    r.clock.Now(),
		ConnectionID: connID,
		Layer:        log.LayerSubscription,
		Category:     log.CategoryState,
		EntityType:   p.key.entityType,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityChannel,
			NewState: newState,
			Reason:   reason,
		},
	})
}

// Compile-time interface satisfaction check.
var _ Connection = (*connection.Manager)(nil)
