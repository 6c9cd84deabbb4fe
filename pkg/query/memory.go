package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gigsync/gigsync-go/pkg/transport"
)

// ErrNotFound is returned by mutations on unknown rows.
var ErrNotFound = errors.New("row not found")

// Publisher receives the change events of a MemoryBackend.
// memfeed.Hub satisfies it.
type Publisher interface {
	Publish(ev transport.Event)
}

// MemoryBackend is an in-process query service. Rows are keyed by their
// "id" field and returned sorted by id.
type MemoryBackend struct {
	mu sync.Mutex

	tables    map[string]map[string]Record
	publisher Publisher

	reads       int
	failReads   int
	readErr     error
	mutationErr error
}

// NewMemoryBackend creates an empty backend. publisher may be nil.
func NewMemoryBackend(publisher Publisher) *MemoryBackend {
	return &MemoryBackend{
		tables:    make(map[string]map[string]Record),
		publisher: publisher,
	}
}

// Put inserts or replaces a row and publishes the change.
func (b *MemoryBackend) Put(entityType string, rec Record) error {
	id, ok := rec["id"].(string)
	if !ok || id == "" {
		return fmt.Errorf("put %s: missing string id", entityType)
	}

	b.mu.Lock()
	table := b.table(entityType)
	_, existed := table[id]
	table[id] = cloneRecord(rec)
	b.mu.Unlock()

	op := transport.OpInsert
	if existed {
		op = transport.OpUpdate
	}
	b.publish(op, entityType, id, rec)
	return nil
}

// Delete removes a row and publishes the change.
func (b *MemoryBackend) Delete(entityType, id string) {
	b.mu.Lock()
	old, ok := b.table(entityType)[id]
	delete(b.table(entityType), id)
	b.mu.Unlock()

	if ok {
		b.publish(transport.OpDelete, entityType, id, old)
	}
}

// FailReads makes the next n reads fail with err.
func (b *MemoryBackend) FailReads(n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failReads = n
	b.readErr = err
}

// SetMutationError makes every mutation fail with err (nil restores).
func (b *MemoryBackend) SetMutationError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mutationErr = err
}

// Reads returns the number of Read calls so far.
func (b *MemoryBackend) Reads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads
}

// Read returns a copy of every matching row.
func (b *MemoryBackend) Read(ctx context.Context, entityType string, filter transport.Filter) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.reads++

	if b.failReads > 0 {
		b.failReads--
		return nil, b.readErr
	}

	table := b.tables[entityType]
	ids := make([]string, 0, len(table))
	for id := range table {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec := table[id]
		if !filter.IsZero() && fmt.Sprint(rec[filter.Field]) != filter.Value {
			continue
		}
		rows = append(rows, cloneRecord(rec))
	}
	return rows, nil
}

// ClaimExclusive sets field on id and clears it on every other row.
func (b *MemoryBackend) ClaimExclusive(ctx context.Context, entityType, field, id string) error {
	return b.setExclusive(ctx, entityType, field, id, true)
}

// ReleaseExclusive clears field on id.
func (b *MemoryBackend) ReleaseExclusive(ctx context.Context, entityType, field, id string) error {
	return b.setExclusive(ctx, entityType, field, id, false)
}

func (b *MemoryBackend) setExclusive(ctx context.Context, entityType, field, id string, claim bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	if b.mutationErr != nil {
		err := b.mutationErr
		b.mu.Unlock()
		return err
	}
	table := b.table(entityType)
	if _, ok := table[id]; !ok {
		b.mu.Unlock()
		return fmt.Errorf("%s/%s: %w", entityType, id, ErrNotFound)
	}

	var changed []Record
	for rowID, rec := range table {
		want := claim && rowID == id
		if rowID != id && !claim {
			continue
		}
		if held, _ := rec[field].(bool); held == want {
			continue
		}
		rec[field] = want
		changed = append(changed, cloneRecord(rec))
	}
	b.mu.Unlock()

	for _, rec := range changed {
		b.publish(transport.OpUpdate, entityType, rec["id"].(string), rec)
	}
	return nil
}

// table returns the rows of entityType, creating the table. Caller holds mu.
func (b *MemoryBackend) table(entityType string) map[string]Record {
	t, ok := b.tables[entityType]
	if !ok {
		t = make(map[string]Record)
		b.tables[entityType] = t
	}
	return t
}

func (b *MemoryBackend) publish(op transport.Op, entityType, id string, rec Record) {
	if b.publisher == nil {
		return
	}
	b.publisher.Publish(transport.Event{
		Op:         op,
		EntityType: entityType,
		Key:        id,
		Payload:    map[string]any(cloneRecord(rec)),
		CommitTime: time.Now(),
	})
}

func cloneRecord(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

// Compile-time interface satisfaction checks.
var (
	_ Reader  = (*MemoryBackend)(nil)
	_ Mutator = (*MemoryBackend)(nil)
)
