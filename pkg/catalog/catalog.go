package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gigsync/gigsync-go/pkg/collection"
	"github.com/gigsync/gigsync-go/pkg/optimistic"
	"github.com/gigsync/gigsync-go/pkg/query"
)

// ErrNoMutator is returned when the catalog is built without a mutator.
var ErrNoMutator = errors.New("catalog mutator required")

// Config configures the three collections.
type Config struct {
	Songs    collection.Config `yaml:"songs"`
	Requests collection.Config `yaml:"requests"`
	SetLists collection.Config `yaml:"set_lists"`
}

// DefaultConfig returns the default catalog configuration. Requests and
// set lists also refresh on song changes because both reference songs.
// All three probe when POOR so a quiet feed refreshes instead of stalling
// the shared connection.
func DefaultConfig() Config {
	songs := collection.DefaultConfig(EntitySongs, EntitySongs)
	songs.ProbeWhenPoor = true

	requests := collection.DefaultConfig(EntityRequests, EntityRequests)
	requests.Watch = []string{EntityRequests, EntitySongs}
	requests.ProbeWhenPoor = true

	setLists := collection.DefaultConfig(EntitySetLists, EntitySetLists)
	setLists.Watch = []string{EntitySetLists, EntitySongs}
	setLists.ProbeWhenPoor = true

	return Config{
		Songs:    songs,
		Requests: requests,
		SetLists: setLists,
	}
}

// RequestAccessor addresses Request.IsLocked for the coordinator.
var RequestAccessor = optimistic.Accessor[Request]{
	ID:   func(r Request) string { return r.ID },
	Flag: func(r Request) bool { return r.IsLocked },
	SetFlag: func(r Request, locked bool) Request {
		r.IsLocked = locked
		return r
	},
}

// Catalog holds the synchronized gig collections.
type Catalog struct {
	Songs    *collection.Controller[Song]
	Requests *collection.Controller[Request]
	SetLists *collection.Controller[SetList]

	// RequestLock owns the optimistic "locked" override of Requests.
	RequestLock *optimistic.Coordinator[Request]

	logger *slog.Logger
}

// New builds the controllers on shared dependencies. Nothing is started.
func New(cfg Config, deps collection.Deps, mutator query.Mutator) (*Catalog, error) {
	if mutator == nil {
		return nil, ErrNoMutator
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	songs, err := collection.New(cfg.Songs, deps, DecodeSong)
	if err != nil {
		return nil, fmt.Errorf("songs: %w", err)
	}
	requests, err := collection.New(cfg.Requests, deps, DecodeRequest)
	if err != nil {
		return nil, fmt.Errorf("requests: %w", err)
	}
	setLists, err := collection.New(cfg.SetLists, deps, DecodeSetList)
	if err != nil {
		return nil, fmt.Errorf("set lists: %w", err)
	}

	lock, err := optimistic.New(optimistic.Config{
		Collection: requests.Name(),
		Entity:     requests.Config().Entity,
		Field:      LockField,
		Clock:      deps.Clock,
		Logger:     deps.Logger,
		Metrics:    deps.Metrics,
		EventLog:   deps.EventLog,
	}, RequestAccessor, requests, mutator)
	if err != nil {
		return nil, fmt.Errorf("request lock: %w", err)
	}
	requests.SetOverlay(lock)

	return &Catalog{
		Songs:       songs,
		Requests:    requests,
		SetLists:    setLists,
		RequestLock: lock,
		logger:      deps.Logger,
	}, nil
}

// Start starts every collection.
func (c *Catalog) Start(ctx context.Context) {
	c.Songs.Start(ctx)
	c.Requests.Start(ctx)
	c.SetLists.Start(ctx)
}

// Stop stops every collection.
func (c *Catalog) Stop() {
	c.SetLists.Stop()
	c.Requests.Stop()
	c.Songs.Stop()
}

// Refetch refreshes every collection.
func (c *Catalog) Refetch(bypassCache bool) {
	c.Songs.Refetch(bypassCache)
	c.Requests.Refetch(bypassCache)
	c.SetLists.Refetch(bypassCache)
}

// Reconnect runs the manual recovery action on every collection and
// redials the shared push connection once.
func (c *Catalog) Reconnect(ctx context.Context) bool {
	c.Requests.Recover()
	c.SetLists.Recover()
	return c.Songs.Reconnect(ctx)
}

// SetVisible forwards the visibility signal.
func (c *Catalog) SetVisible(visible bool) {
	c.Songs.SetVisible(visible)
	c.Requests.SetVisible(visible)
	c.SetLists.SetVisible(visible)
}

// LockRequest marks id as the request being played.
func (c *Catalog) LockRequest(ctx context.Context, id string) error {
	return c.RequestLock.Toggle(ctx, id, true)
}

// UnlockRequest clears the lock on id.
func (c *Catalog) UnlockRequest(ctx context.Context, id string) error {
	return c.RequestLock.Toggle(ctx, id, false)
}

// Statuses returns the status of each collection keyed by name.
func (c *Catalog) Statuses() map[string]collection.Status {
	return map[string]collection.Status{
		c.Songs.Name():    c.Songs.Status(),
		c.Requests.Name(): c.Requests.Status(),
		c.SetLists.Name(): c.SetLists.Status(),
	}
}

// Names returns the collection names in a stable order.
func (c *Catalog) Names() []string {
	return []string{c.Songs.Name(), c.Requests.Name(), c.SetLists.Name()}
}
