// Package wsfeed implements the push transport over WebSocket.
//
// Every WebSocket message carries one CBOR-encoded transport.Frame.
// Liveness uses WebSocket ping/pong control frames: a ping is written every
// PingInterval and the read deadline is extended on every pong, so a silent
// peer is detected within PingInterval + PongTimeout.
package wsfeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gigsync/gigsync-go/pkg/transport"
)

// Default connection parameters.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultPingInterval     = 25 * time.Second
	DefaultPongTimeout      = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
)

// Config configures the WebSocket dialer.
type Config struct {
	// URL is the feed endpoint (ws:// or wss://).
	URL string

	// Header is sent with the upgrade request (e.g. Authorization).
	Header http.Header

	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration
	WriteTimeout     time.Duration
}

// Dialer dials WebSocket feed connections.
type Dialer struct {
	cfg    Config
	ws     *websocket.Dialer
	logger *slog.Logger
}

// NewDialer creates a WebSocket dialer.
func NewDialer(cfg Config, logger *slog.Logger) *Dialer {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = DefaultPongTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{
		cfg: cfg,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: logger,
	}
}

// Dial opens a feed connection.
func (d *Dialer) Dial(ctx context.Context) (transport.Conn, error) {
	ws, resp, err := d.ws.DialContext(ctx, d.cfg.URL, d.cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s: status %d: %w", d.cfg.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", d.cfg.URL, err)
	}

	c := &conn{
		ws:       ws,
		id:       uuid.New().String(),
		cfg:      d.cfg,
		logger:   d.logger,
		channels: make(map[uint32]*channel),
		done:     make(chan struct{}),
	}

	readWindow := d.cfg.PingInterval + d.cfg.PongTimeout
	_ = ws.SetReadDeadline(time.Now().Add(readWindow))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readWindow))
	})

	go c.readLoop()
	go c.pingLoop()

	d.logger.Debug("websocket feed connected", "conn_id", c.id, "url", d.cfg.URL)
	return c, nil
}

// conn is one WebSocket feed connection.
type conn struct {
	ws     *websocket.Conn
	id     string
	cfg    Config
	logger *slog.Logger

	// gorilla/websocket allows one concurrent writer
	writeMu sync.Mutex

	mu          sync.Mutex
	channels    map[uint32]*channel
	nextChannel uint32
	closed      bool
	err         error
	done        chan struct{}
}

func (c *conn) ID() string { return c.id }

func (c *conn) Done() <-chan struct{} { return c.done }

func (c *conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Subscribe registers the channel locally, then sends the subscribe frame,
// so events racing the acknowledgement are not lost.
func (c *conn) Subscribe(entityType string, filter transport.Filter, h transport.Handler) (transport.Channel, error) {
	if entityType == "" {
		return nil, transport.ErrInvalidEntity
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, transport.ErrConnClosed
	}
	c.nextChannel++
	ch := &channel{conn: c, id: c.nextChannel, handler: h}
	c.channels[ch.id] = ch
	c.mu.Unlock()

	err := c.write(transport.Frame{
		Type:       transport.FrameSubscribe,
		Channel:    ch.id,
		EntityType: entityType,
		Filter:     filter.String(),
	})
	if err != nil {
		c.mu.Lock()
		delete(c.channels, ch.id)
		c.mu.Unlock()
		return nil, err
	}
	return ch, nil
}

func (c *conn) Close() error {
	c.shutdown(transport.ErrConnClosed)
	return nil
}

func (c *conn) write(f transport.Frame) error {
	data, err := transport.EncodeFrame(f)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		c.shutdown(err)
		return err
	}
	return nil
}

func (c *conn) readLoop() {
	for {
		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}
		if messageType != websocket.BinaryMessage {
			c.logger.Debug("ignoring non-binary websocket message", "conn_id", c.id, "type", messageType)
			continue
		}

		f, err := transport.DecodeFrame(message)
		if err != nil {
			c.logger.Warn("dropping undecodable frame", "conn_id", c.id, "error", err)
			continue
		}
		c.dispatch(f)
	}
}

func (c *conn) dispatch(f transport.Frame) {
	c.mu.Lock()
	ch := c.channels[f.Channel]
	if ch != nil && f.Type == transport.FrameChannelError {
		delete(c.channels, f.Channel)
	}
	c.mu.Unlock()

	if ch == nil {
		return
	}

	switch f.Type {
	case transport.FrameEvent:
		if f.Event != nil && ch.handler.OnEvent != nil {
			ch.handler.OnEvent(*f.Event)
		}
	case transport.FrameChannelError:
		if ch.handler.OnClose != nil {
			ch.handler.OnClose(fmt.Errorf("%w: %s", transport.ErrChannelClosed, f.Error))
		}
	default:
		c.logger.Debug("ignoring frame", "conn_id", c.id, "type", f.Type)
	}
}

func (c *conn) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.shutdown(err)
				return
			}
		}
	}
}

func (c *conn) shutdown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		err = transport.ErrConnClosed
	}
	c.err = err
	c.channels = make(map[uint32]*channel)
	close(c.done)
	c.mu.Unlock()

	if !errors.Is(err, transport.ErrConnClosed) {
		c.logger.Info("websocket feed lost", "conn_id", c.id, "error", err)
	}
	_ = c.ws.Close()
}

// channel is one subscription on a WebSocket connection.
type channel struct {
	conn    *conn
	id      uint32
	handler transport.Handler
	once    sync.Once
}

func (ch *channel) Close() error {
	var err error
	ch.once.Do(func() {
		c := ch.conn
		c.mu.Lock()
		_, live := c.channels[ch.id]
		delete(c.channels, ch.id)
		closed := c.closed
		c.mu.Unlock()

		if live && !closed {
			err = c.write(transport.Frame{Type: transport.FrameUnsubscribe, Channel: ch.id})
		}
	})
	return err
}

// Compile-time interface satisfaction checks.
var (
	_ transport.Dialer = (*Dialer)(nil)
	_ transport.Conn   = (*conn)(nil)
)
