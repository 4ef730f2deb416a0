package kvblob_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evtcore.dev/errs"
	"evtcore.dev/kvblob"
	"evtcore.dev/precondition"
)

func newBoltStore(t *testing.T) *kvblob.BoltStore {
	t.Helper()
	dir := t.TempDir()
	store, err := kvblob.OpenBoltStore(filepath.Join(dir, "blob.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.EnsureContainer(context.Background()))
	return store
}

func testBlobCreateAndConditionalUpdate(t *testing.T, store kvblob.Blob) {
	ctx := context.Background()

	_, err := store.Write(ctx, "a", []byte("v1"), precondition.IfAbsent())
	require.NoError(t, err)

	_, err = store.Write(ctx, "a", []byte("v2"), precondition.IfAbsent())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ConcurrencyConflict))

	props, err := store.GetProperties(ctx, "a")
	require.NoError(t, err)

	_, err = store.Write(ctx, "a", []byte("v2"), precondition.IfMatch(props.ETag))
	require.NoError(t, err)

	_, err = store.Write(ctx, "a", []byte("v3"), precondition.IfMatch(props.ETag))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ConcurrencyConflict))

	data, err := store.Read(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)
}

func TestBoltStoreConditionalWrites(t *testing.T) {
	testBlobCreateAndConditionalUpdate(t, newBoltStore(t))
}

func TestMockConditionalWrites(t *testing.T) {
	testBlobCreateAndConditionalUpdate(t, kvblob.NewMock())
}

func TestBoltStoreReadMissingIsNotFound(t *testing.T) {
	store := newBoltStore(t)
	_, err := store.Read(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestBoltStoreListPrefixAndPagination(t *testing.T) {
	store := newBoltStore(t)
	ctx := context.Background()
	for _, k := range []string{"items/a", "items/b", "items/c", "other/z"} {
		_, err := store.Write(ctx, k, []byte("x"), precondition.Unconditional())
		require.NoError(t, err)
	}

	page, err := store.List(ctx, "items/", "", 2)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.NotEmpty(t, page.NextToken)

	page2, err := store.List(ctx, "items/", page.NextToken, 2)
	require.NoError(t, err)
	assert.Len(t, page2.Items, 1)
	assert.Empty(t, page2.NextToken)
}

func TestBoltStoreMissingContainerIsContainerNotFound(t *testing.T) {
	dir := t.TempDir()
	store, err := kvblob.OpenBoltStore(filepath.Join(dir, "blob.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Read(context.Background(), "a")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ContainerNotFound))
}
