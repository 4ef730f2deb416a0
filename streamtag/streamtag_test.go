package streamtag_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evtcore.dev/errs"
	"evtcore.dev/kvblob"
	"evtcore.dev/streamtag"
	"evtcore.dev/widetable"
)

func TestBlobStoreTagIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := streamtag.NewBlobStore(kvblob.NewMock(), "streams")

	require.NoError(t, store.Tag(ctx, "urgent", "stream-1"))
	require.NoError(t, store.Tag(ctx, "urgent", "stream-2"))
	require.NoError(t, store.Tag(ctx, "urgent", "stream-1"))
}

func TestBlobStoreStreamIDsForTagIsUnimplemented(t *testing.T) {
	store := streamtag.NewBlobStore(kvblob.NewMock(), "streams")
	_, err := store.StreamIDsForTag(context.Background(), "urgent")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidArgument))
}

func TestTableStoreTagAndResolve(t *testing.T) {
	ctx := context.Background()
	store := streamtag.NewTableStore(widetable.NewMock(), "Item")

	require.NoError(t, store.Tag(ctx, "urgent", "stream-1"))
	require.NoError(t, store.Tag(ctx, "urgent", "stream-2"))
	require.NoError(t, store.Tag(ctx, "urgent", "stream-1"))

	ids, err := store.StreamIDsForTag(ctx, "urgent")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"stream-1", "stream-2"}, ids)

	none, err := store.StreamIDsForTag(ctx, "never-used")
	require.NoError(t, err)
	assert.Empty(t, none)
}
