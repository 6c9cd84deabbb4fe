package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gigsync/gigsync-go/pkg/breaker"
	"github.com/gigsync/gigsync-go/pkg/cache"
	"github.com/gigsync/gigsync-go/pkg/collection"
	"github.com/gigsync/gigsync-go/pkg/connection"
	"github.com/gigsync/gigsync-go/pkg/query"
	"github.com/gigsync/gigsync-go/pkg/subscription"
	"github.com/gigsync/gigsync-go/pkg/syncerr"
	"github.com/gigsync/gigsync-go/pkg/transport/memfeed"
)

const eventually = 2 * time.Second

type env struct {
	hub     *memfeed.Hub
	mgr     *connection.Manager
	backend *query.MemoryBackend
	catalog *Catalog
}

func testCatalogConfig() Config {
	cfg := DefaultConfig()
	for _, c := range []*collection.Config{&cfg.Songs, &cfg.Requests, &cfg.SetLists} {
		c.Debounce = 0
		c.SettleDelay = 0
	}
	return cfg
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock := clockwork.NewFakeClock()
	hub := memfeed.NewHub()

	connCfg := connection.DefaultConfig()
	connCfg.AutoReconnect = false
	mgr := connection.NewManager(hub, connCfg)
	reg := subscription.NewRegistry(mgr, subscription.DefaultConfig())
	backend := query.NewMemoryBackend(hub)

	seed(t, backend)

	cat, err := New(testCatalogConfig(), collection.Deps{
		Reader:        backend,
		Cache:         cache.NewMemoryStore(),
		Circuit:       breaker.NewRegistry(breaker.DefaultConfig(), clock, nil),
		Connection:    mgr,
		Subscriptions: reg,
		Clock:         clock,
	}, backend)
	require.NoError(t, err)

	t.Cleanup(func() {
		cat.Stop()
		reg.Close()
		_ = mgr.Close()
	})
	return &env{hub: hub, mgr: mgr, backend: backend, catalog: cat}
}

func seed(t *testing.T, b *query.MemoryBackend) {
	t.Helper()
	rows := []struct {
		entity string
		rec    query.Record
	}{
		{EntitySongs, query.Record{"id": "s1", "title": "Jolene"}},
		{EntitySongs, query.Record{"id": "s2", "title": "Wagon Wheel"}},
		{EntityRequests, query.Record{"id": "r1", "song_id": "s1", "is_locked": false}},
		{EntityRequests, query.Record{"id": "r2", "song_id": "s2", "is_locked": false}},
		{EntitySetLists, query.Record{"id": "l1", "name": "Friday", "song_ids": []any{"s2", "s1"}}},
	}
	for _, r := range rows {
		require.NoError(t, b.Put(r.entity, r.rec))
	}
}

// start connects and waits until every collection delivered and subscribed.
func (e *env) start(t *testing.T) {
	t.Helper()
	require.True(t, e.mgr.Init(context.Background()))
	e.catalog.Start(context.Background())

	require.Eventually(t, func() bool {
		return len(e.catalog.Songs.Items()) == 2 &&
			len(e.catalog.Requests.Items()) == 2 &&
			len(e.catalog.SetLists.Items()) == 1
	}, eventually, time.Millisecond)
	require.Eventually(t, func() bool {
		return e.hub.Channels(EntitySongs) == 1 &&
			e.hub.Channels(EntityRequests) == 1 &&
			e.hub.Channels(EntitySetLists) == 1
	}, eventually, time.Millisecond)
}

func lockedID(items []Request) string {
	r, ok := LockedRequest(items)
	if !ok {
		return ""
	}
	return r.ID
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, EntitySongs, cfg.Songs.Entity)
	assert.Equal(t, []string{EntityRequests, EntitySongs}, cfg.Requests.Watch)
	assert.Equal(t, []string{EntitySetLists, EntitySongs}, cfg.SetLists.Watch)
	assert.Equal(t, collection.DefaultDebounce, cfg.Songs.Debounce)
	for _, c := range []collection.Config{cfg.Songs, cfg.Requests, cfg.SetLists} {
		assert.True(t, c.ProbeWhenPoor, c.Name)
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New(DefaultConfig(), collection.Deps{}, nil)
	assert.ErrorIs(t, err, ErrNoMutator)

	_, err = New(DefaultConfig(), collection.Deps{}, query.NewMemoryBackend(nil))
	assert.ErrorIs(t, err, collection.ErrMissingDep)
}

func TestInitialSync(t *testing.T) {
	e := newEnv(t)
	e.start(t)

	songs := e.catalog.Songs.Items()
	assert.Equal(t, "Jolene", songs[0].Title)
	assert.Equal(t, []string{"s2", "s1"}, e.catalog.SetLists.Items()[0].SongIDs)

	for name, s := range e.catalog.Statuses() {
		assert.False(t, s.IsLoading, name)
		assert.True(t, s.IsOnline, name)
		assert.NoError(t, s.LastError, name)
	}
	assert.Equal(t, []string{EntitySongs, EntityRequests, EntitySetLists}, e.catalog.Names())
}

func TestChangeNotificationRefreshes(t *testing.T) {
	e := newEnv(t)
	e.start(t)
	before := e.backend.Reads()

	require.NoError(t, e.backend.Put(EntitySongs, query.Record{"id": "s3", "title": "Tennessee Whiskey"}))

	require.Eventually(t, func() bool { return len(e.catalog.Songs.Items()) == 3 }, eventually, time.Millisecond)
	// Requests and set lists watch songs too.
	require.Eventually(t, func() bool { return e.backend.Reads() >= before+3 }, eventually, time.Millisecond)
}

func TestLockRequest(t *testing.T) {
	e := newEnv(t)
	e.start(t)

	require.NoError(t, e.catalog.LockRequest(context.Background(), "r2"))
	require.Eventually(t, func() bool {
		_, pending := e.catalog.RequestLock.Pending()
		return !pending && lockedID(e.catalog.Requests.Confirmed()) == "r2"
	}, eventually, time.Millisecond)
	assert.Equal(t, "r2", lockedID(e.catalog.Requests.Items()))

	// Claiming another request moves the lock.
	require.NoError(t, e.catalog.LockRequest(context.Background(), "r1"))
	require.Eventually(t, func() bool { return lockedID(e.catalog.Requests.Confirmed()) == "r1" }, eventually, time.Millisecond)
	assert.Equal(t, "r1", lockedID(e.catalog.Requests.Items()))

	require.NoError(t, e.catalog.UnlockRequest(context.Background(), "r1"))
	require.Eventually(t, func() bool { return lockedID(e.catalog.Requests.Confirmed()) == "" }, eventually, time.Millisecond)
	assert.Equal(t, "", lockedID(e.catalog.Requests.Items()))
}

func TestLockRequestRejected(t *testing.T) {
	e := newEnv(t)
	e.start(t)
	e.backend.SetMutationError(errors.New("permission denied"))

	var failures []error
	e.catalog.RequestLock.OnFailure(func(err error) { failures = append(failures, err) })

	err := e.catalog.LockRequest(context.Background(), "r1")
	var merr *syncerr.MutationError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "r1", merr.ItemID)
	assert.Len(t, failures, 1)

	_, pending := e.catalog.RequestLock.Pending()
	assert.False(t, pending)
	require.Eventually(t, func() bool { return lockedID(e.catalog.Requests.Items()) == "" }, eventually, time.Millisecond)
}

func TestReconnectDialsOnce(t *testing.T) {
	e := newEnv(t)
	e.start(t)
	dials := e.hub.Dials()

	require.True(t, e.catalog.Reconnect(context.Background()))
	assert.Equal(t, dials+1, e.hub.Dials())

	// Channels come back on the new connection.
	require.Eventually(t, func() bool {
		return e.hub.Channels(EntitySongs) == 1 && e.hub.Channels(EntityRequests) == 1
	}, eventually, time.Millisecond)
	require.NoError(t, e.backend.Put(EntitySongs, query.Record{"id": "s3", "title": "Tennessee Whiskey"}))
	require.Eventually(t, func() bool { return len(e.catalog.Songs.Items()) == 3 }, eventually, time.Millisecond)
}
