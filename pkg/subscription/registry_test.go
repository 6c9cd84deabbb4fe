package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gigsync/gigsync-go/pkg/connection"
	"github.com/gigsync/gigsync-go/pkg/transport"
	"github.com/gigsync/gigsync-go/pkg/transport/memfeed"
)

type collector struct {
	mu     sync.Mutex
	events []transport.Event
}

func (c *collector) add(ev transport.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Key
	}
	return out
}

func setup(t *testing.T) (*memfeed.Hub, *connection.Manager, *Registry) {
	t.Helper()
	hub := memfeed.NewHub()
	cfg := connection.DefaultConfig()
	cfg.AutoReconnect = false
	mgr := connection.NewManager(hub, cfg)
	reg := NewRegistry(mgr, DefaultConfig())
	t.Cleanup(func() {
		reg.Close()
		_ = mgr.Close()
	})
	return hub, mgr, reg
}

func songEvent(key string) transport.Event {
	return transport.Event{Op: transport.OpUpdate, EntityType: "songs", Key: key}
}

func TestCreateValidation(t *testing.T) {
	_, _, reg := setup(t)

	_, err := reg.Create("", func(transport.Event) {}, transport.Filter{})
	assert.ErrorIs(t, err, ErrInvalidEntityType)

	_, err = reg.Create("songs", nil, transport.Filter{})
	assert.ErrorIs(t, err, ErrNilCallback)

	reg.Close()
	_, err = reg.Create("songs", func(transport.Event) {}, transport.Filter{})
	assert.ErrorIs(t, err, ErrRegistryClosed)
}

func TestMaxSubscriptions(t *testing.T) {
	mgr := connection.NewManager(memfeed.NewHub(), connection.DefaultConfig())
	defer mgr.Close()
	reg := NewRegistry(mgr, Config{MaxSubscriptions: 2})
	defer reg.Close()

	for i := 0; i < 2; i++ {
		_, err := reg.Create("songs", func(transport.Event) {}, transport.Filter{})
		require.NoError(t, err)
	}
	_, err := reg.Create("songs", func(transport.Event) {}, transport.Filter{})
	assert.ErrorIs(t, err, ErrResourceExhausted)
}

func TestChannelSharing(t *testing.T) {
	hub, mgr, reg := setup(t)
	require.True(t, mgr.Init(context.Background()))

	var a, b, c collector
	_, err := reg.Create("songs", a.add, transport.Filter{})
	require.NoError(t, err)
	_, err = reg.Create("songs", b.add, transport.Filter{})
	require.NoError(t, err)
	_, err = reg.Create("songs", c.add, transport.Filter{Field: "band_id", Value: "7"})
	require.NoError(t, err)

	assert.Equal(t, 2, hub.Channels("songs"))
	assert.Equal(t, 2, reg.Channels())
	assert.Equal(t, 3, reg.Count())

	hub.Publish(songEvent("s1"))
	assert.Equal(t, []string{"s1"}, a.keys())
	assert.Equal(t, []string{"s1"}, b.keys())
	assert.Empty(t, c.keys())

	hub.Publish(transport.Event{
		Op:         transport.OpInsert,
		EntityType: "songs",
		Key:        "s2",
		Payload:    map[string]any{"band_id": "7"},
	})
	assert.Equal(t, []string{"s2"}, c.keys())
}

func TestLazyOpenOnConnect(t *testing.T) {
	hub, mgr, reg := setup(t)

	var got collector
	_, err := reg.Create("songs", got.add, transport.Filter{})
	require.NoError(t, err)
	assert.False(t, reg.Active("songs", transport.Filter{}))
	assert.Equal(t, 0, hub.Channels("songs"))

	require.True(t, mgr.Init(context.Background()))
	assert.True(t, reg.Active("songs", transport.Filter{}))

	hub.Publish(songEvent("s1"))
	assert.Equal(t, []string{"s1"}, got.keys())
}

func TestRemove(t *testing.T) {
	hub, mgr, reg := setup(t)
	require.True(t, mgr.Init(context.Background()))

	var a, b collector
	idA, err := reg.Create("songs", a.add, transport.Filter{})
	require.NoError(t, err)
	idB, err := reg.Create("songs", b.add, transport.Filter{})
	require.NoError(t, err)

	reg.Remove(idA)
	assert.Equal(t, 1, hub.Channels("songs"), "channel stays while a subscriber remains")
	hub.Publish(songEvent("s1"))
	assert.Empty(t, a.keys())
	assert.Equal(t, []string{"s1"}, b.keys())

	reg.Remove(idB)
	assert.Equal(t, 0, hub.Channels("songs"))
	assert.Equal(t, 0, reg.Count())

	reg.Remove(idB)
	reg.Remove("unknown")
}

func TestDeliveryOrder(t *testing.T) {
	hub, mgr, reg := setup(t)
	require.True(t, mgr.Init(context.Background()))

	var got collector
	_, err := reg.Create("songs", got.add, transport.Filter{})
	require.NoError(t, err)

	var want []string
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("s%03d", i)
		want = append(want, key)
		hub.Publish(songEvent(key))
	}
	assert.Equal(t, want, got.keys())
}

func TestReopenAfterReconnect(t *testing.T) {
	hub, mgr, reg := setup(t)
	require.True(t, mgr.Init(context.Background()))

	var got collector
	_, err := reg.Create("songs", got.add, transport.Filter{})
	require.NoError(t, err)
	_, err = reg.Create("requests", got.add, transport.Filter{Field: "set_id", Value: "1"})
	require.NoError(t, err)

	hub.DropAll(errors.New("reset by peer"))
	require.Eventually(t, func() bool {
		return mgr.State() == connection.StateDisconnected
	}, 5*time.Second, time.Millisecond)
	assert.False(t, reg.Active("songs", transport.Filter{}))
	assert.False(t, reg.Active("requests", transport.Filter{Field: "set_id", Value: "1"}))

	require.True(t, mgr.Reconnect(context.Background()))
	assert.True(t, reg.Active("songs", transport.Filter{}))
	assert.True(t, reg.Active("requests", transport.Filter{Field: "set_id", Value: "1"}))
	assert.Equal(t, 1, hub.Channels("songs"))

	hub.Publish(songEvent("after"))
	assert.Equal(t, []string{"after"}, got.keys(), "delivered exactly once")
}

func TestReconnectWhileConnectedReplacesChannels(t *testing.T) {
	hub, mgr, reg := setup(t)
	require.True(t, mgr.Init(context.Background()))

	var got collector
	_, err := reg.Create("songs", got.add, transport.Filter{})
	require.NoError(t, err)

	require.True(t, mgr.Reconnect(context.Background()))
	assert.Equal(t, 1, hub.Conns())
	assert.Equal(t, 1, hub.Channels("songs"))

	hub.Publish(songEvent("s1"))
	assert.Equal(t, []string{"s1"}, got.keys())
}

func TestChannelFailureNotRetried(t *testing.T) {
	hub, mgr, reg := setup(t)
	require.True(t, mgr.Init(context.Background()))

	var got collector
	_, err := reg.Create("songs", got.add, transport.Filter{})
	require.NoError(t, err)

	hub.FailChannels("songs", errors.New("permission denied"))
	assert.False(t, reg.Active("songs", transport.Filter{}))
	assert.Equal(t, 0, hub.Channels("songs"))
	assert.Equal(t, connection.StateConnected, mgr.State())

	// Only the next CONNECTED transition re-opens it.
	require.True(t, mgr.Reconnect(context.Background()))
	assert.True(t, reg.Active("songs", transport.Filter{}))
}

func TestOfflineMarksInactive(t *testing.T) {
	_, mgr, reg := setup(t)
	require.True(t, mgr.Init(context.Background()))

	_, err := reg.Create("songs", func(transport.Event) {}, transport.Filter{})
	require.NoError(t, err)

	mgr.SetOnline(false)
	assert.False(t, reg.Active("songs", transport.Filter{}))
}

func TestCloseReleasesChannels(t *testing.T) {
	hub, mgr, reg := setup(t)
	require.True(t, mgr.Init(context.Background()))

	_, err := reg.Create("songs", func(transport.Event) {}, transport.Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, hub.Channels("songs"))

	reg.Close()
	assert.Equal(t, 0, hub.Channels("songs"))
	assert.Equal(t, 0, reg.Count())

	// Detached: a reconnect must not re-open anything.
	require.True(t, mgr.Reconnect(context.Background()))
	assert.Equal(t, 0, hub.Channels("songs"))
}
