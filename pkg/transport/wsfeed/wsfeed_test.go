package wsfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gigsync/gigsync-go/pkg/transport"
)

// feedServer accepts one connection and hands its frames to the test.
type feedServer struct {
	*httptest.Server
	conns  chan *websocket.Conn
	frames chan transport.Frame
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()
	fs := &feedServer{
		conns:  make(chan *websocket.Conn, 1),
		frames: make(chan transport.Frame, 16),
	}
	upgrader := websocket.Upgrader{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.conns <- ws
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			f, err := transport.DecodeFrame(data)
			if err != nil {
				continue
			}
			fs.frames <- f
		}
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *feedServer) url() string {
	return "ws" + strings.TrimPrefix(fs.URL, "http")
}

func (fs *feedServer) send(t *testing.T, ws *websocket.Conn, f transport.Frame) {
	t.Helper()
	data, err := transport.EncodeFrame(f)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, data))
}

func nextFrame(t *testing.T, frames <-chan transport.Frame) transport.Frame {
	t.Helper()
	select {
	case f := <-frames:
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frame")
		return transport.Frame{}
	}
}

func TestSubscribeAndReceive(t *testing.T) {
	fs := newFeedServer(t)
	conn, err := NewDialer(Config{URL: fs.url()}, nil).Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()
	ws := <-fs.conns

	events := make(chan transport.Event, 1)
	ch, err := conn.Subscribe("requests", transport.Filter{Field: "gig_id", Value: "g1"}, transport.Handler{
		OnEvent: func(ev transport.Event) { events <- ev },
	})
	require.NoError(t, err)

	sub := nextFrame(t, fs.frames)
	assert.Equal(t, transport.FrameSubscribe, sub.Type)
	assert.Equal(t, "requests", sub.EntityType)
	assert.Equal(t, "gig_id=eq.g1", sub.Filter)

	fs.send(t, ws, transport.Frame{
		Type:    transport.FrameEvent,
		Channel: sub.Channel,
		Event:   &transport.Event{Op: transport.OpInsert, EntityType: "requests", Key: "r1"},
	})

	select {
	case ev := <-events:
		assert.Equal(t, transport.OpInsert, ev.Op)
		assert.Equal(t, "r1", ev.Key)
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}

	require.NoError(t, ch.Close())
	unsub := nextFrame(t, fs.frames)
	assert.Equal(t, transport.FrameUnsubscribe, unsub.Type)
	assert.Equal(t, sub.Channel, unsub.Channel)

	// Second close is a no-op.
	assert.NoError(t, ch.Close())
}

func TestChannelErrorInvokesOnClose(t *testing.T) {
	fs := newFeedServer(t)
	conn, err := NewDialer(Config{URL: fs.url()}, nil).Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()
	ws := <-fs.conns

	closed := make(chan error, 1)
	_, err = conn.Subscribe("songs", transport.Filter{}, transport.Handler{
		OnClose: func(err error) { closed <- err },
	})
	require.NoError(t, err)
	sub := nextFrame(t, fs.frames)

	fs.send(t, ws, transport.Frame{Type: transport.FrameChannelError, Channel: sub.Channel, Error: "permission denied"})

	select {
	case err := <-closed:
		assert.ErrorIs(t, err, transport.ErrChannelClosed)
		assert.Contains(t, err.Error(), "permission denied")
	case <-time.After(5 * time.Second):
		t.Fatal("OnClose not called")
	}
}

func TestServerDropClosesConn(t *testing.T) {
	fs := newFeedServer(t)
	conn, err := NewDialer(Config{URL: fs.url()}, nil).Dial(context.Background())
	require.NoError(t, err)
	ws := <-fs.conns

	require.NoError(t, ws.Close())

	select {
	case <-conn.Done():
		assert.Error(t, conn.Err())
	case <-time.After(5 * time.Second):
		t.Fatal("connection not marked done")
	}

	_, err = conn.Subscribe("songs", transport.Filter{}, transport.Handler{})
	assert.ErrorIs(t, err, transport.ErrConnClosed)
}

func TestDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewDialer(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}, nil).Dial(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestSubscribeRejectsEmptyEntity(t *testing.T) {
	fs := newFeedServer(t)
	conn, err := NewDialer(Config{URL: fs.url()}, nil).Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Subscribe("", transport.Filter{}, transport.Handler{})
	assert.ErrorIs(t, err, transport.ErrInvalidEntity)
}
