// Package memfeed provides an in-process push transport.
//
// A Hub plays the role of the remote change-feed service: connections
// dialed from it receive the events published to it. Tests use it to
// drop connections, fail dials, and fail individual channels on demand.
package memfeed

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/gigsync/gigsync-go/pkg/transport"
)

// Hub is an in-process change feed.
type Hub struct {
	mu sync.Mutex

	conns   map[*conn]struct{}
	dialErr error
	gate    chan struct{}
	dials   int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[*conn]struct{})}
}

// Dial connects to the hub.
func (h *Hub) Dial(ctx context.Context) (transport.Conn, error) {
	h.mu.Lock()
	h.dials++
	gate := h.gate
	dialErr := h.dialErr
	h.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if dialErr != nil {
		return nil, dialErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := &conn{
		hub:      h,
		id:       uuid.New().String(),
		done:     make(chan struct{}),
		channels: make(map[*channel]struct{}),
	}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	return c, nil
}

// SetDialError makes subsequent dials fail with err (nil restores).
func (h *Hub) SetDialError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dialErr = err
}

// HoldDials blocks subsequent dials until the returned release function
// is called or the dial context ends.
func (h *Hub) HoldDials() (release func()) {
	gate := make(chan struct{})
	h.mu.Lock()
	h.gate = gate
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			if h.gate == gate {
				h.gate = nil
			}
			h.mu.Unlock()
			close(gate)
		})
	}
}

// Dials returns the number of dial attempts so far.
func (h *Hub) Dials() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dials
}

// Conns returns the number of live connections.
func (h *Hub) Conns() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Channels returns the number of live channels for entityType across all
// connections.
func (h *Hub) Channels(entityType string) int {
	h.mu.Lock()
	conns := h.snapshotConns()
	h.mu.Unlock()

	n := 0
	for _, c := range conns {
		c.mu.Lock()
		for ch := range c.channels {
			if ch.entityType == entityType {
				n++
			}
		}
		c.mu.Unlock()
	}
	return n
}

// Publish delivers ev synchronously to every matching channel.
func (h *Hub) Publish(ev transport.Event) {
	h.mu.Lock()
	conns := h.snapshotConns()
	h.mu.Unlock()

	for _, c := range conns {
		for _, ch := range c.matching(ev) {
			if ch.handler.OnEvent != nil {
				ch.handler.OnEvent(ev)
			}
		}
	}
}

// DropAll simulates a transport drop on every live connection.
func (h *Hub) DropAll(err error) {
	h.mu.Lock()
	conns := h.snapshotConns()
	h.mu.Unlock()

	for _, c := range conns {
		c.shutdown(err)
	}
}

// FailChannels closes every channel for entityType with err, invoking
// the channel's OnClose handler. The connections stay up.
func (h *Hub) FailChannels(entityType string, err error) {
	h.mu.Lock()
	conns := h.snapshotConns()
	h.mu.Unlock()

	for _, c := range conns {
		var failed []*channel
		c.mu.Lock()
		for ch := range c.channels {
			if ch.entityType == entityType {
				failed = append(failed, ch)
				delete(c.channels, ch)
			}
		}
		c.mu.Unlock()

		for _, ch := range failed {
			if ch.handler.OnClose != nil {
				ch.handler.OnClose(err)
			}
		}
	}
}

// snapshotConns copies the connection set. Caller holds mu.
func (h *Hub) snapshotConns() []*conn {
	out := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		out = append(out, c)
	}
	return out
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c)
}

// conn is one hub connection.
type conn struct {
	hub *Hub
	id  string

	mu       sync.Mutex
	channels map[*channel]struct{}
	closed   bool
	err      error
	done     chan struct{}
}

func (c *conn) ID() string { return c.id }

func (c *conn) Subscribe(entityType string, filter transport.Filter, h transport.Handler) (transport.Channel, error) {
	if entityType == "" {
		return nil, transport.ErrInvalidEntity
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, transport.ErrConnClosed
	}
	ch := &channel{conn: c, entityType: entityType, filter: filter, handler: h}
	c.channels[ch] = struct{}{}
	return ch, nil
}

func (c *conn) Done() <-chan struct{} { return c.done }

func (c *conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
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
	c.err = err
	c.channels = make(map[*channel]struct{})
	close(c.done)
	c.mu.Unlock()

	c.hub.remove(c)
}

func (c *conn) matching(ev transport.Event) []*channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*channel
	for ch := range c.channels {
		if ch.entityType == ev.EntityType && ch.filter.Matches(ev) {
			out = append(out, ch)
		}
	}
	return out
}

// channel is one subscription on a hub connection.
type channel struct {
	conn       *conn
	entityType string
	filter     transport.Filter
	handler    transport.Handler
}

func (ch *channel) Close() error {
	ch.conn.mu.Lock()
	defer ch.conn.mu.Unlock()
	delete(ch.conn.channels, ch)
	return nil
}

// Compile-time interface satisfaction checks.
var (
	_ transport.Dialer = (*Hub)(nil)
	_ transport.Conn   = (*conn)(nil)
)
