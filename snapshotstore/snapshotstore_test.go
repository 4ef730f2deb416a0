package snapshotstore_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evtcore.dev/kvblob"
	"evtcore.dev/snapshotstore"
	"evtcore.dev/widetable"
)

func testSetGetListDelete(t *testing.T, store snapshotstore.Store) {
	ctx := context.Background()

	for v := 0; v < 3; v++ {
		require.NoError(t, store.Set(ctx, snapshotstore.Snapshot{
			StreamID:      "stream-1",
			Version:       v,
			AggregateType: "Item",
			Data:          json.RawMessage(`{"v":1}`),
			CreatedTs:     time.Now().UTC(),
		}))
	}

	snap, ok, err := store.Get(ctx, "stream-1", 1, "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, snap.Version)

	_, ok, err = store.Get(ctx, "stream-1", 99, "")
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := store.List(ctx, "stream-1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, 2, list[0].Version, "list must be sorted by version descending")
	assert.Equal(t, 0, list[2].Version)

	deleted, err := store.Delete(ctx, "stream-1", 1, "")
	require.NoError(t, err)
	assert.True(t, deleted)

	deletedAgain, err := store.Delete(ctx, "stream-1", 1, "")
	require.NoError(t, err)
	assert.False(t, deletedAgain)
}

func TestBlobStoreSetGetListDelete(t *testing.T) {
	testSetGetListDelete(t, snapshotstore.NewBlobStore(kvblob.NewMock(), "snapshots"))
}

func TestTableStoreSetGetListDelete(t *testing.T) {
	testSetGetListDelete(t, snapshotstore.NewTableStore(widetable.NewMock(), "Item"))
}

func TestBlobStoreSetIsUpsert(t *testing.T) {
	ctx := context.Background()
	store := snapshotstore.NewBlobStore(kvblob.NewMock(), "snapshots")

	snap := snapshotstore.Snapshot{StreamID: "stream-1", Version: 0, AggregateType: "Item", Data: json.RawMessage(`{"v":1}`)}
	require.NoError(t, store.Set(ctx, snap))

	snap.Data = json.RawMessage(`{"v":2}`)
	require.NoError(t, store.Set(ctx, snap))

	loaded, ok, err := store.Get(ctx, "stream-1", 0, "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"v":2}`, string(loaded.Data))
}
