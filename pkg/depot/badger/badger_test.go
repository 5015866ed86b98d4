package badger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depotfs/depot/pkg/depot"
	"github.com/depotfs/depot/pkg/depot/depottest"
)

// newTestStore opens an on-disk store; the in-memory mode caps payloads at
// 1 MiB and could not hold the conformance suite's larger fixtures.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := New(Config{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func TestConformance(t *testing.T) {
	depottest.RunConformanceSuite(t, func(t *testing.T) depot.Storage {
		return newTestStore(t)
	})
}

func TestFactoryRegistered(t *testing.T) {
	store, err := depot.Open(t.Context(), Backend, map[string]any{"in_memory": true})
	require.NoError(t, err)
	assert.IsType(t, &Store{}, store)
	require.NoError(t, store.(*Store).Close())
}

func TestNewRequiresDir(t *testing.T) {
	_, err := New(Config{Dir: ""})
	assert.Error(t, err)
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := New(Config{Dir: dir})
	require.NoError(t, err)

	content := depot.NewContent([]byte("durable"))
	content.Filename = "durable.txt"
	id, err := store.Create(t.Context(), content)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := New(Config{Dir: dir})
	require.NoError(t, err)
	defer reopened.Close()

	f, err := reopened.Get(t.Context(), id)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, "durable.txt", f.Filename)
}

func TestInMemoryRejectsLargePayload(t *testing.T) {
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Create(t.Context(), depot.NewContent(bytes.Repeat([]byte("x"), 2<<20)))
	assert.Error(t, err, "in-memory badger caps values at 1 MiB")
}

func TestNewWithDBNotOwned(t *testing.T) {
	owner, err := New(Config{InMemory: true})
	require.NoError(t, err)
	defer owner.Close()

	borrowed := NewWithDB(owner.db)

	id, err := borrowed.Create(t.Context(), depot.NewContent([]byte("shared")))
	require.NoError(t, err)

	// Closing the borrowing store must leave the database usable.
	require.NoError(t, borrowed.Close())

	exists, err := owner.Exists(t.Context(), id)
	require.NoError(t, err)
	assert.True(t, exists)
}
