package cache

import (
	"path/filepath"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	ID    string `cbor:"id"`
	Title string `cbor:"title"`
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sq,
	}
}

func TestStoreContract(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("MissingKeyIsMiss", func(t *testing.T) {
				_, ok := store.Get("collection:none")
				assert.False(t, ok)
			})

			t.Run("LastWriteWins", func(t *testing.T) {
				require.True(t, store.Set(Entry{Key: "k", Value: []byte("a"), Seq: 1}))
				require.True(t, store.Set(Entry{Key: "k", Value: []byte("b"), Seq: 2}))
				e, ok := store.Get("k")
				require.True(t, ok)
				assert.Equal(t, []byte("b"), e.Value)
				assert.Equal(t, uint64(2), e.Seq)
			})

			t.Run("StaleWriteRejected", func(t *testing.T) {
				require.True(t, store.Set(Entry{Key: "s", Value: []byte("fresh"), Seq: 10}))
				assert.False(t, store.Set(Entry{Key: "s", Value: []byte("stale"), Seq: 9}))
				e, ok := store.Get("s")
				require.True(t, ok)
				assert.Equal(t, []byte("fresh"), e.Value)
			})

			t.Run("EqualSeqOverwrites", func(t *testing.T) {
				require.True(t, store.Set(Entry{Key: "eq", Value: []byte("x"), Seq: 3}))
				assert.True(t, store.Set(Entry{Key: "eq", Value: []byte("y"), Seq: 3}))
			})

			t.Run("NilValueStoredAsEmpty", func(t *testing.T) {
				require.True(t, store.Set(Entry{Key: "nil", Seq: 1}))
				e, ok := store.Get("nil")
				require.True(t, ok)
				assert.NotNil(t, e.Value)
			})

			t.Run("Delete", func(t *testing.T) {
				store.Set(Entry{Key: "d", Value: []byte("v"), Seq: 1})
				store.Delete("d")
				_, ok := store.Get("d")
				assert.False(t, ok)
				store.Delete("d")
			})
		})
	}
}

func TestTyped(t *testing.T) {
	clock := clockwork.NewFakeClock()

	t.Run("RoundTripVerbatim", func(t *testing.T) {
		typed := NewTyped[row](NewMemoryStore(), "collection:songs", clock)
		in := []row{{ID: "1", Title: "Jolene"}, {ID: "2", Title: "Vienna"}, {ID: "3", Title: "Hurt"}}
		require.True(t, typed.Set(in, 1))

		// Cache-only reads return the same value until the next overwrite.
		for i := 0; i < 3; i++ {
			got, e, ok := typed.Get()
			require.True(t, ok)
			assert.Equal(t, in, got)
			assert.Equal(t, clock.Now(), e.StoredAt)
		}

		next := []row{{ID: "4", Title: "Creep"}}
		require.True(t, typed.Set(next, 2))
		got, _, ok := typed.Get()
		require.True(t, ok)
		assert.Equal(t, next, got)
	})

	t.Run("EmptyCollectionIsHitNotNil", func(t *testing.T) {
		typed := NewTyped[row](NewMemoryStore(), "collection:empty", clock)
		require.True(t, typed.Set(nil, 1))
		got, _, ok := typed.Get()
		require.True(t, ok)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("CorruptEntryIsMiss", func(t *testing.T) {
		store := NewMemoryStore()
		store.Set(Entry{Key: "collection:bad", Value: []byte{0xff, 0x00, 0x13}, Seq: 1})
		typed := NewTyped[row](store, "collection:bad", clock)

		assert.NotPanics(t, func() {
			_, _, ok := typed.Get()
			assert.False(t, ok)
		})
	})

	t.Run("SurvivesReopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cache.db")
		first, err := NewSQLiteStore(path, nil)
		require.NoError(t, err)
		NewTyped[row](first, "collection:songs", clock).Set([]row{{ID: "1", Title: "Jolene"}}, 5)
		require.NoError(t, first.Close())

		second, err := NewSQLiteStore(path, nil)
		require.NoError(t, err)
		defer second.Close()

		got, e, ok := NewTyped[row](second, "collection:songs", clock).Get()
		require.True(t, ok)
		assert.Equal(t, []row{{ID: "1", Title: "Jolene"}}, got)
		assert.Equal(t, uint64(5), e.Seq)
	})
}
