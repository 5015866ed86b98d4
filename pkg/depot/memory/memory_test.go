package memory

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depotfs/depot/pkg/depot"
	"github.com/depotfs/depot/pkg/depot/depottest"
)

func TestConformance(t *testing.T) {
	depottest.RunConformanceSuite(t, func(t *testing.T) depot.Storage {
		return New()
	})
}

func TestFactoryRegistered(t *testing.T) {
	store, err := depot.Open(t.Context(), Backend, nil)
	require.NoError(t, err)
	assert.IsType(t, &Store{}, store)
}

func TestCallerCannotMutateStoredData(t *testing.T) {
	store := New()

	payload := []byte("immutable")
	id, err := store.Create(t.Context(), depot.NewContent(payload))
	require.NoError(t, err)

	payload[0] = 'X'

	data, _ := readBack(t, store, id)
	assert.Equal(t, "immutable", string(data))
}

func TestLen(t *testing.T) {
	store := New()
	assert.Equal(t, 0, store.Len())

	id, err := store.Create(t.Context(), depot.NewContent([]byte("x")))
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())

	require.NoError(t, store.Delete(t.Context(), id))
	assert.Equal(t, 0, store.Len())
}

func readBack(t *testing.T, store *Store, id string) ([]byte, depot.FileInfo) {
	t.Helper()

	f, err := store.Get(t.Context(), id)
	require.NoError(t, err)
	defer f.Close()

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	return data, f.Info()
}
