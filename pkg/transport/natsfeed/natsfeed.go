// Package natsfeed implements the push transport over NATS.
//
// Change events are published by the backend as CBOR-encoded
// transport.Event payloads on subjects "<prefix>.<entityType>". Filters are
// applied on the client. The client's own reconnect logic is disabled: a
// lost NATS connection closes the transport.Conn and the connection
// manager decides when to dial again.
package natsfeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/gigsync/gigsync-go/pkg/transport"
)

// DefaultSubjectPrefix is the subject namespace of change events.
const DefaultSubjectPrefix = "gigsync.changes"

// DefaultConnectTimeout bounds the NATS handshake when ctx has no deadline.
const DefaultConnectTimeout = 5 * time.Second

// Config configures the NATS dialer.
type Config struct {
	// URL is the NATS server URL (e.g. nats://127.0.0.1:4222).
	URL string

	// SubjectPrefix prefixes every entity subject.
	SubjectPrefix string

	// Name is reported to the server as the client name.
	Name string

	ConnectTimeout time.Duration
}

// Subject returns the subject carrying changes for entityType.
func (c Config) Subject(entityType string) string {
	prefix := c.SubjectPrefix
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return prefix + "." + entityType
}

// Dialer dials NATS feed connections.
type Dialer struct {
	cfg    Config
	logger *slog.Logger
}

// NewDialer creates a NATS dialer.
func NewDialer(cfg Config, logger *slog.Logger) *Dialer {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Name == "" {
		cfg.Name = "gigsync"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{cfg: cfg, logger: logger}
}

// Dial connects to the NATS server. nats.Connect has no context variant,
// so the handshake runs in its own goroutine and a connection that arrives
// after ctx ended is closed.
func (d *Dialer) Dial(ctx context.Context) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timeout := d.cfg.ConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	c := &conn{
		id:       uuid.New().String(),
		cfg:      d.cfg,
		logger:   d.logger,
		channels: make(map[*channel]struct{}),
		done:     make(chan struct{}),
	}

	type result struct {
		nc  *nats.Conn
		err error
	}
	results := make(chan result, 1)
	go func() {
		nc, err := nats.Connect(d.cfg.URL,
			nats.Name(d.cfg.Name),
			nats.Timeout(timeout),
			nats.NoReconnect(),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				c.shutdown(err)
			}),
			nats.ClosedHandler(func(*nats.Conn) {
				c.shutdown(transport.ErrConnClosed)
			}),
		)
		results <- result{nc, err}
	}()

	select {
	case r := <-results:
		if r.err != nil {
			return nil, fmt.Errorf("nats connect %s: %w", d.cfg.URL, r.err)
		}
		c.mu.Lock()
		c.nc = r.nc
		c.mu.Unlock()
		d.logger.Debug("nats feed connected", "conn_id", c.id, "url", d.cfg.URL)
		return c, nil
	case <-ctx.Done():
		go func() {
			if r := <-results; r.nc != nil {
				r.nc.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// conn is one NATS feed connection.
type conn struct {
	nc     *nats.Conn
	id     string
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	channels map[*channel]struct{}
	closed   bool
	err      error
	done     chan struct{}
}

func (c *conn) ID() string { return c.id }

func (c *conn) Done() <-chan struct{} { return c.done }

func (c *conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *conn) Subscribe(entityType string, filter transport.Filter, h transport.Handler) (transport.Channel, error) {
	if entityType == "" || strings.ContainsAny(entityType, ".*> ") {
		return nil, transport.ErrInvalidEntity
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, transport.ErrConnClosed
	}

	ch := &channel{conn: c, entityType: entityType, filter: filter, handler: h}
	sub, err := c.nc.Subscribe(c.cfg.Subject(entityType), ch.handleMsg)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", entityType, err)
	}
	ch.sub = sub
	c.channels[ch] = struct{}{}
	return ch, nil
}

func (c *conn) Close() error {
	c.shutdown(transport.ErrConnClosed)
	return nil
}

func (c *conn) shutdown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if err == nil {
		err = transport.ErrConnClosed
	}
	c.err = err
	c.channels = make(map[*channel]struct{})
	close(c.done)
	nc := c.nc
	c.mu.Unlock()

	if !errors.Is(err, transport.ErrConnClosed) {
		c.logger.Info("nats feed lost", "conn_id", c.id, "error", err)
	}
	if nc != nil {
		nc.Close()
	}
}

// channel is one subject subscription.
type channel struct {
	conn       *conn
	entityType string
	filter     transport.Filter
	handler    transport.Handler
	sub        *nats.Subscription
	once       sync.Once
}

// handleMsg decodes and filters one NATS message.
func (ch *channel) handleMsg(msg *nats.Msg) {
	ev, err := transport.DecodeEvent(msg.Data)
	if err != nil {
		ch.conn.logger.Warn("dropping undecodable change event",
			"conn_id", ch.conn.id, "subject", msg.Subject, "error", err)
		return
	}
	if ev.EntityType == "" {
		ev.EntityType = ch.entityType
	}
	if ev.EntityType != ch.entityType || !ch.filter.Matches(ev) {
		return
	}
	if ch.handler.OnEvent != nil {
		ch.handler.OnEvent(ev)
	}
}

func (ch *channel) Close() error {
	var err error
	ch.once.Do(func() {
		c := ch.conn
		c.mu.Lock()
		delete(c.channels, ch)
		closed := c.closed
		c.mu.Unlock()

		if !closed && ch.sub != nil {
			err = ch.sub.Unsubscribe()
		}
	})
	return err
}

// Compile-time interface satisfaction checks.
var (
	_ transport.Dialer = (*Dialer)(nil)
	_ transport.Conn   = (*conn)(nil)
)
