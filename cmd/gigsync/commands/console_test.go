package commands

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gigsync/gigsync-go/pkg/catalog"
	"github.com/gigsync/gigsync-go/pkg/connection"
)

func newTestConsole(t *testing.T) (*Console, *bytes.Buffer) {
	t.Helper()
	rt := startRuntime(t, testConfig())
	var buf bytes.Buffer
	return &Console{rt: rt, out: &buf}, &buf
}

func lockedID(rt *Runtime) string {
	r, ok := catalog.LockedRequest(rt.Catalog.Requests.Items())
	if !ok {
		return ""
	}
	return r.ID
}

func TestConsoleListings(t *testing.T) {
	c, buf := newTestConsole(t)
	ctx := context.Background()

	tests := []struct {
		line string
		want []string
	}{
		{"status", []string{"Connection: CONNECTED", "songs", "requests", "set_lists"}},
		{"songs", []string{"Superstition", "Stevie Wonder", "4:05"}},
		{"r", []string{"September", "table 4", "Valerie", "table 5"}},
		{"sets", []string{"First set (3 songs)", " 1. Superstition", " 2. Uptown Funk"}},
		{"help", []string{"Commands:", "refetch [cache]"}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			buf.Reset()
			assert.True(t, c.Exec(ctx, tt.line))
			for _, want := range tt.want {
				assert.Contains(t, buf.String(), want)
			}
		})
	}
}

func TestConsoleLock(t *testing.T) {
	c, buf := newTestConsole(t)
	ctx := context.Background()

	t.Run("lock", func(t *testing.T) {
		buf.Reset()
		c.Exec(ctx, "lock r1")
		assert.Equal(t, "Request r1 locked\n", buf.String())
		// Wait for the confirmed snapshot, not just the override.
		require.Eventually(t, func() bool {
			_, pending := c.rt.Catalog.RequestLock.Pending()
			return !pending && lockedID(c.rt) == "r1"
		}, eventually, time.Millisecond)

		buf.Reset()
		c.Exec(ctx, "status")
		assert.Contains(t, buf.String(), "Playing: request r1")
	})

	t.Run("rejected", func(t *testing.T) {
		c.rt.Demo.Backend.SetMutationError(errors.New("backend rejected"))
		defer c.rt.Demo.Backend.SetMutationError(nil)

		buf.Reset()
		c.Exec(ctx, "lock r2")
		assert.Equal(t, "Rejected: backend rejected\n", buf.String())
		require.Eventually(t, func() bool { return lockedID(c.rt) == "r1" }, eventually, time.Millisecond)
	})

	t.Run("unlock", func(t *testing.T) {
		buf.Reset()
		c.Exec(ctx, "unlock r1")
		assert.Equal(t, "Request r1 unlocked\n", buf.String())
		require.Eventually(t, func() bool { return lockedID(c.rt) == "" }, eventually, time.Millisecond)
	})

	t.Run("usage", func(t *testing.T) {
		buf.Reset()
		c.Exec(ctx, "lock")
		assert.Contains(t, buf.String(), "Usage:")
	})
}

func TestConsoleDemoCommands(t *testing.T) {
	c, buf := newTestConsole(t)
	ctx := context.Background()

	t.Run("request", func(t *testing.T) {
		buf.Reset()
		c.Exec(ctx, "request s1 the bar")
		assert.Contains(t, buf.String(), "added")
		require.Eventually(t, func() bool {
			return len(c.rt.Catalog.Requests.Items()) == 3
		}, eventually, time.Millisecond)

		buf.Reset()
		c.Exec(ctx, "requests")
		assert.Contains(t, buf.String(), "the bar")
	})

	t.Run("drop", func(t *testing.T) {
		buf.Reset()
		c.Exec(ctx, "drop")
		assert.Equal(t, "Push connection dropped\n", buf.String())
	})
}

func TestConsoleControlCommands(t *testing.T) {
	c, buf := newTestConsole(t)
	ctx := context.Background()

	buf.Reset()
	c.Exec(ctx, "refetch cache")
	assert.Equal(t, "Refetch requested (bypass cache: false)\n", buf.String())

	buf.Reset()
	c.Exec(ctx, "f")
	assert.Equal(t, "Refetch requested (bypass cache: true)\n", buf.String())

	buf.Reset()
	c.Exec(ctx, "offline")
	assert.Equal(t, "Network offline\n", buf.String())
	assert.False(t, c.rt.Conn.Online())

	buf.Reset()
	c.Exec(ctx, "online")
	assert.Equal(t, "Network online\n", buf.String())
	assert.True(t, c.rt.Conn.Online())

	buf.Reset()
	c.Exec(ctx, "hide")
	assert.Equal(t, "Visibility: hide\n", buf.String())
}

func TestConsoleUnknownAndQuit(t *testing.T) {
	c, buf := newTestConsole(t)
	ctx := context.Background()

	assert.True(t, c.Exec(ctx, ""))
	assert.Empty(t, buf.String())

	assert.True(t, c.Exec(ctx, "dance"))
	assert.Equal(t, "Unknown command: dance (type 'help' for commands)\n", buf.String())

	for _, line := range []string{"quit", "EXIT", "q"} {
		assert.False(t, c.Exec(ctx, line), line)
	}
	assert.Equal(t, connection.StateConnected, c.rt.Conn.State())
}

func TestResolveRequestID(t *testing.T) {
	c, _ := newTestConsole(t)

	assert.Equal(t, "r1", c.resolveRequestID("r1"))
	// "r" matches both seeded requests.
	assert.Equal(t, "r", c.resolveRequestID("r"))
	assert.Equal(t, "zz", c.resolveRequestID("zz"))
}

func TestFormatSeconds(t *testing.T) {
	assert.Equal(t, "", formatSeconds(0))
	assert.Equal(t, "0:59", formatSeconds(59))
	assert.Equal(t, "4:05", formatSeconds(245))
}
