package optimistic

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"

	"github.com/gigsync/gigsync-go/pkg/log"
	"github.com/gigsync/gigsync-go/pkg/metrics"
	"github.com/gigsync/gigsync-go/pkg/query"
	"github.com/gigsync/gigsync-go/pkg/syncerr"
)

// Coordinator errors.
var (
	ErrNoAccessor = errors.New("incomplete item accessor")
	ErrNoTarget   = errors.New("nil target")
	ErrNoMutator  = errors.New("nil mutator")
	ErrEmptyID    = errors.New("empty item id")
)

// Resolution says which side of the merge wins.
type Resolution uint8

const (
	// FromNone: there is no override; the confirmed snapshot is shown.
	FromNone Resolution = iota

	// FromConfirmed: the server acknowledged the override and the confirmed
	// snapshot agrees with it; the override is dropped.
	FromConfirmed

	// FromOverride: the override is applied on top of the snapshot.
	FromOverride
)

// String returns the resolution name.
func (r Resolution) String() string {
	switch r {
	case FromNone:
		return "NONE"
	case FromConfirmed:
		return "CONFIRMED"
	case FromOverride:
		return "OVERRIDE"
	default:
		return "UNKNOWN"
	}
}

// Accessor reads and writes the exclusive flag of an item.
type Accessor[T any] struct {
	ID      func(T) string
	Flag    func(T) bool
	SetFlag func(T, bool) T
}

func (a Accessor[T]) valid() bool {
	return a.ID != nil && a.Flag != nil && a.SetFlag != nil
}

// Override is the pending local state of one toggle.
type Override struct {
	MutationID   ulid.ULID
	ItemID       string
	Desired      bool
	Acknowledged bool
	AppliedAt    time.Time
}

// Resolve merges a confirmed snapshot with the pending override.
//
// The rule: no override resolves FromNone; an acknowledged override whose
// flag layout matches the snapshot resolves FromConfirmed; anything else
// resolves FromOverride.
func Resolve[T any](acc Accessor[T], confirmed []T, o *Override) Resolution {
	if o == nil {
		return FromNone
	}
	if o.Acknowledged && consistent(acc, confirmed, o) {
		return FromConfirmed
	}
	return FromOverride
}

func consistent[T any](acc Accessor[T], items []T, o *Override) bool {
	for _, item := range items {
		want := o.Desired && acc.ID(item) == o.ItemID
		if acc.Flag(item) != want {
			return false
		}
	}
	return true
}

func apply[T any](acc Accessor[T], items []T, o *Override) []T {
	out := make([]T, len(items))
	for i, item := range items {
		out[i] = acc.SetFlag(item, o.Desired && acc.ID(item) == o.ItemID)
	}
	return out
}

// Target is the collection the coordinator overlays.
type Target[T any] interface {
	Confirmed() []T
	Republish()
}

// Config configures a Coordinator.
type Config struct {
	// Collection names the collection in errors, logs and metrics.
	Collection string `yaml:"collection"`

	// Entity and Field address the flag for the mutator.
	Entity string `yaml:"entity"`
	Field  string `yaml:"field"`

	Clock    clockwork.Clock  `yaml:"-"`
	Logger   *slog.Logger     `yaml:"-"`
	Metrics  metrics.Recorder `yaml:"-"`
	EventLog log.Logger       `yaml:"-"`
}

// Coordinator owns the override of one collection.
type Coordinator[T any] struct {
	cfg      Config
	acc      Accessor[T]
	target   Target[T]
	mutator  query.Mutator
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  metrics.Recorder
	eventLog log.Logger

	mu        sync.Mutex
	override  *Override
	entropy   io.Reader
	onFailure []func(error)
}

// New creates a coordinator. Install it on the target with
// Controller.SetOverlay.
func New[T any](cfg Config, acc Accessor[T], target Target[T], mutator query.Mutator) (*Coordinator[T], error) {
	if !acc.valid() {
		return nil, ErrNoAccessor
	}
	if target == nil {
		return nil, ErrNoTarget
	}
	if mutator == nil {
		return nil, ErrNoMutator
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Coordinator[T]{
		cfg:      cfg,
		acc:      acc,
		target:   target,
		mutator:  mutator,
		clock:    cfg.Clock,
		logger:   cfg.Logger.With("collection", cfg.Collection),
		metrics:  metrics.OrNoop(cfg.Metrics),
		eventLog: log.OrNoop(cfg.EventLog),
		entropy:  ulid.Monotonic(rand.Reader, 0),
	}, nil
}

// OnFailure registers a handler for rejected mutations.
func (c *Coordinator[T]) OnFailure(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFailure = append(c.onFailure, fn)
}

// Pending returns a copy of the current override.
func (c *Coordinator[T]) Pending() (Override, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.override == nil {
		return Override{}, false
	}
	return *c.override, true
}

// Toggle sets (desired) or clears the exclusive flag on itemID. The
// override is visible before Toggle issues the mutation. A rejected
// mutation returns a *syncerr.MutationError.
func (c *Coordinator[T]) Toggle(ctx context.Context, itemID string, desired bool) error {
	if itemID == "" {
		return ErrEmptyID
	}

	c.mu.Lock()
	id, err := ulid.New(ulid.Timestamp(c.clock.Now()), c.entropy)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	replaced := c.override != nil
	c.override = &Override{
		MutationID: id,
		ItemID:     itemID,
		Desired:    desired,
		AppliedAt:  c.clock.Now(),
	}
	c.mu.Unlock()

	c.logOverride("", "PENDING", itemID)
	c.logger.Debug("override applied", "item", itemID, "desired", desired, "mutation", id, "replaced", replaced)
	c.target.Republish()

	if desired {
		err = c.mutator.ClaimExclusive(ctx, c.cfg.Entity, c.cfg.Field, itemID)
	} else {
		err = c.mutator.ReleaseExclusive(ctx, c.cfg.Entity, c.cfg.Field, itemID)
	}

	c.mu.Lock()
	if c.override == nil || c.override.MutationID != id {
		// Replaced by a newer toggle; its outcome decides.
		c.mu.Unlock()
		if err != nil {
			return &syncerr.MutationError{Collection: c.cfg.Collection, ItemID: itemID, Err: err}
		}
		return nil
	}

	if err != nil {
		c.override = nil
		handlers := append([]func(error){}, c.onFailure...)
		c.mu.Unlock()

		c.logOverride("PENDING", "REVERTED", itemID)
		c.target.Republish()
		if syncerr.IsAbort(err) {
			return err
		}

		merr := &syncerr.MutationError{Collection: c.cfg.Collection, ItemID: itemID, Err: err}
		c.metrics.IncMutation(c.cfg.Collection, false)
		c.logger.Warn("mutation rejected", "item", itemID, "error", err)
		for _, fn := range handlers {
			fn(merr)
		}
		return merr
	}

	c.override.Acknowledged = true
	c.mu.Unlock()

	c.metrics.IncMutation(c.cfg.Collection, true)
	// The snapshot may already agree (the change notification can beat the
	// mutation response).
	c.target.Republish()
	return nil
}

// Confirm resolves a confirmed snapshot against the override, dropping an
// acknowledged override the snapshot agrees with.
func (c *Coordinator[T]) Confirm(confirmed []T) Resolution {
	c.mu.Lock()
	res := Resolve(c.acc, confirmed, c.override)
	var itemID string
	if res == FromConfirmed {
		itemID = c.override.ItemID
		c.override = nil
	}
	c.mu.Unlock()

	if res == FromConfirmed {
		c.logOverride("PENDING", "CONFIRMED", itemID)
	}
	return res
}

// Apply implements the collection overlay.
func (c *Coordinator[T]) Apply(confirmed []T) []T {
	if c.Confirm(confirmed) != FromOverride {
		return confirmed
	}

	c.mu.Lock()
	o := c.override
	c.mu.Unlock()
	if o == nil {
		return confirmed
	}
	return apply(c.acc, confirmed, o)
}

// Items returns the target's confirmed snapshot with the override applied.
func (c *Coordinator[T]) Items() []T {
	confirmed := c.target.Confirmed()
	c.mu.Lock()
	o := c.override
	c.mu.Unlock()
	if o == nil {
		return confirmed
	}
	return apply(c.acc, confirmed, o)
}

func (c *Coordinator[T]) logOverride(oldState, newState, itemID string) {
	c.eventLog.Log(log.Event{
		Timestamp:  c.clock.Now(),
		Layer:      log.LayerOptimistic,
		Category:   log.CategoryState,
		Collection: c.cfg.Collection,
		EntityType: c.cfg.Entity,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityOverride,
			OldState: oldState,
			NewState: newState,
			Reason:   itemID,
		},
	})
}
