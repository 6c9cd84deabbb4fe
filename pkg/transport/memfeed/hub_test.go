package memfeed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gigsync/gigsync-go/pkg/transport"
)

func TestPublishRespectsEntityAndFilter(t *testing.T) {
	hub := NewHub()
	conn, err := hub.Dial(context.Background())
	require.NoError(t, err)

	var all, filtered []string
	_, err = conn.Subscribe("requests", transport.Filter{}, transport.Handler{
		OnEvent: func(ev transport.Event) { all = append(all, ev.Key) },
	})
	require.NoError(t, err)
	_, err = conn.Subscribe("requests", transport.Filter{Field: "gig_id", Value: "g1"}, transport.Handler{
		OnEvent: func(ev transport.Event) { filtered = append(filtered, ev.Key) },
	})
	require.NoError(t, err)

	hub.Publish(transport.Event{Op: transport.OpInsert, EntityType: "requests", Key: "r1", Payload: map[string]any{"gig_id": "g1"}})
	hub.Publish(transport.Event{Op: transport.OpInsert, EntityType: "requests", Key: "r2", Payload: map[string]any{"gig_id": "g2"}})
	hub.Publish(transport.Event{Op: transport.OpInsert, EntityType: "songs", Key: "s1"})

	assert.Equal(t, []string{"r1", "r2"}, all)
	assert.Equal(t, []string{"r1"}, filtered)
	assert.Equal(t, 2, hub.Channels("requests"))
}

func TestDropAll(t *testing.T) {
	hub := NewHub()
	conn, err := hub.Dial(context.Background())
	require.NoError(t, err)

	dropped := errors.New("network unreachable")
	hub.DropAll(dropped)

	select {
	case <-conn.Done():
	default:
		t.Fatal("conn not done after drop")
	}
	assert.ErrorIs(t, conn.Err(), dropped)
	assert.Equal(t, 0, hub.Conns())

	_, err = conn.Subscribe("songs", transport.Filter{}, transport.Handler{})
	assert.ErrorIs(t, err, transport.ErrConnClosed)
}

func TestFailChannels(t *testing.T) {
	hub := NewHub()
	conn, err := hub.Dial(context.Background())
	require.NoError(t, err)

	var closedWith error
	_, err = conn.Subscribe("songs", transport.Filter{}, transport.Handler{
		OnClose: func(err error) { closedWith = err },
	})
	require.NoError(t, err)

	hub.FailChannels("songs", transport.ErrChannelClosed)

	assert.ErrorIs(t, closedWith, transport.ErrChannelClosed)
	assert.Equal(t, 0, hub.Channels("songs"))
	assert.Equal(t, 1, hub.Conns())
}

func TestDialControls(t *testing.T) {
	t.Run("DialError", func(t *testing.T) {
		hub := NewHub()
		hub.SetDialError(errors.New("refused"))
		_, err := hub.Dial(context.Background())
		assert.Error(t, err)

		hub.SetDialError(nil)
		_, err = hub.Dial(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, 2, hub.Dials())
	})

	t.Run("HeldDialHonorsContext", func(t *testing.T) {
		hub := NewHub()
		release := hub.HoldDials()
		defer release()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := hub.Dial(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("ReleaseUnblocks", func(t *testing.T) {
		hub := NewHub()
		release := hub.HoldDials()

		done := make(chan error, 1)
		go func() {
			_, err := hub.Dial(context.Background())
			done <- err
		}()
		release()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("dial still held")
		}
	})
}
