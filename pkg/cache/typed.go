package cache

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/jonboulle/clockwork"
)

// Typed is a view of one Store key holding a collection of T.
// Values are CBOR-encoded.
type Typed[T any] struct {
	store Store
	key   string
	clock clockwork.Clock
}

// NewTyped creates a typed view of key in store.
func NewTyped[T any](store Store, key string, clock clockwork.Clock) *Typed[T] {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Typed[T]{store: store, key: key, clock: clock}
}

// Key returns the namespaced key.
func (t *Typed[T]) Key() string {
	return t.key
}

// Get returns the cached collection. A missing or corrupt entry is a miss.
// A hit always returns a non-nil slice.
func (t *Typed[T]) Get() ([]T, Entry, bool) {
	e, ok := t.store.Get(t.key)
	if !ok {
		return nil, Entry{}, false
	}
	var items []T
	if err := cbor.Unmarshal(e.Value, &items); err != nil {
		return nil, Entry{}, false
	}
	if items == nil {
		items = []T{}
	}
	return items, e, true
}

// Set overwrites the cached collection, stamped with seq.
// It reports false when a newer entry is already stored or encoding fails.
func (t *Typed[T]) Set(items []T, seq uint64) bool {
	if items == nil {
		items = []T{}
	}
	data, err := cbor.Marshal(items)
	if err != nil {
		return false
	}
	return t.store.Set(Entry{
		Key:      t.key,
		Value:    data,
		StoredAt: t.clock.Now(),
		Seq:      seq,
	})
}

// Delete removes the cached collection.
func (t *Typed[T]) Delete() {
	t.store.Delete(t.key)
}
