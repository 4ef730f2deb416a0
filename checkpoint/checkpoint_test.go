package checkpoint_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evtcore.dev/checkpoint"
	"evtcore.dev/payloadcodec"
	"evtcore.dev/precondition"
	"evtcore.dev/widetable"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	table := widetable.NewMock()
	store := checkpoint.NewTableStore(table, payloadcodec.Options{})

	require.NoError(t, store.Save(ctx, "orders-projection", []byte(`{"lastEventVersion":41}`)))

	data, ok, err := store.Load(ctx, "orders-projection")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"lastEventVersion":41}`, string(data))
}

func TestLoadMissingProjectionReturnsNotOk(t *testing.T) {
	store := checkpoint.NewTableStore(widetable.NewMock(), payloadcodec.Options{})
	_, ok, err := store.Load(context.Background(), "never-saved")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveAdvancesFingerprintAndLoadFromFingerprintStillWorks(t *testing.T) {
	ctx := context.Background()
	table := widetable.NewMock()
	store := checkpoint.NewTableStore(table, payloadcodec.Options{})

	require.NoError(t, store.Save(ctx, "p", []byte(`{"v":1}`)))
	firstFingerprint := checkpoint.Fingerprint([]byte(`{"v":1}`))

	require.NoError(t, store.Save(ctx, "p", []byte(`{"v":2}`)))

	current, ok, err := store.Load(ctx, "p")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"v":2}`, string(current))

	historical, ok, err := store.LoadFromFingerprint(ctx, "p", firstFingerprint)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"v":1}`, string(historical))
}

func TestLargeCheckpointRoundTripsAcrossChunks(t *testing.T) {
	ctx := context.Background()
	table := widetable.NewMock()
	store := checkpoint.NewTableStore(table, payloadcodec.Options{DisableCompress: true, MaxChunkBytes: 1024})

	large := make([]byte, 10*1024)
	for i := range large {
		large[i] = byte(i % 251)
	}
	require.NoError(t, store.Save(ctx, "big", large))

	loaded, ok, err := store.Load(ctx, "big")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, large, loaded)
}

func TestLegacyRowIsReadWhenNoPointerExists(t *testing.T) {
	ctx := context.Background()
	table := widetable.NewMock()
	_, err := table.Upsert(ctx, widetable.Row{
		PartitionKey: "legacy-proj",
		RowKey:       "legacy-proj",
		Columns:      map[string]interface{}{"checkpointJson": `{"v":"legacy"}`},
	}, precondition.Unconditional())
	require.NoError(t, err)

	store := checkpoint.NewTableStore(table, payloadcodec.Options{})
	data, ok, err := store.Load(ctx, "legacy-proj")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"v":"legacy"}`, string(data))
}

func TestDeleteAllRemovesPointerAndChunks(t *testing.T) {
	ctx := context.Background()
	table := widetable.NewMock()
	store := checkpoint.NewTableStore(table, payloadcodec.Options{})

	require.NoError(t, store.Save(ctx, "p", []byte(`{"v":1}`)))
	require.NoError(t, store.DeleteAll(ctx, "p"))

	_, ok, err := store.Load(ctx, "p")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPruneKeepsCurrentFingerprint(t *testing.T) {
	ctx := context.Background()
	table := widetable.NewMock()
	store := checkpoint.NewTableStore(table, payloadcodec.Options{})

	require.NoError(t, store.Save(ctx, "p", []byte(`{"v":1}`)))
	require.NoError(t, store.Save(ctx, "p", []byte(`{"v":2}`)))

	pruned, err := store.Prune(ctx, "p", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, pruned, "only the superseded fingerprint should be pruned")

	current, ok, err := store.Load(ctx, "p")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"v":2}`, string(current))
}
