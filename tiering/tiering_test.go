package tiering_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evtcore.dev/document"
	"evtcore.dev/errs"
	"evtcore.dev/kvblob"
	"evtcore.dev/tiering"
)

func TestBlobProviderSetTierAndRehydrate(t *testing.T) {
	ctx := context.Background()
	provider := tiering.NewBlobProvider(kvblob.NewMock())

	require.NoError(t, provider.SetTier(ctx, "Item", "obj-1", tiering.TierArchive, false))
	require.NoError(t, provider.Rehydrate(ctx, "Item", "obj-1"))
}

func TestBlobProviderStreamMetricsReflectsDocument(t *testing.T) {
	provider := tiering.NewBlobProvider(kvblob.NewMock())
	doc := document.NewDocument("Item", "A", true, 500)

	metrics := provider.StreamMetrics(context.Background(), doc)
	assert.Equal(t, doc.Active.StreamID, metrics.StreamID)
	assert.True(t, metrics.ChunkingOn)
	assert.Equal(t, 1, metrics.ChunkCount)
}

func TestTableProviderRejectsTiering(t *testing.T) {
	provider := tiering.NewTableProvider()
	err := provider.SetTier(context.Background(), "Item", "obj-1", tiering.TierArchive, false)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidArgument))
}
