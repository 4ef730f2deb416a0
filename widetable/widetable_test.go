package widetable_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evtcore.dev/errs"
	"evtcore.dev/precondition"
	"evtcore.dev/widetable"
)

func newBoltStore(t *testing.T) *widetable.BoltStore {
	t.Helper()
	dir := t.TempDir()
	store, err := widetable.OpenBoltStore(filepath.Join(dir, "table.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.EnsureTable(context.Background()))
	return store
}

func testConditionalUpsert(t *testing.T, table widetable.Table) {
	ctx := context.Background()
	row := widetable.Row{PartitionKey: "stream-1", RowKey: "e0001", Columns: map[string]interface{}{"type": "Created"}}

	etag, err := table.Upsert(ctx, row, precondition.IfAbsent())
	require.NoError(t, err)
	assert.NotEmpty(t, etag)

	_, err = table.Upsert(ctx, row, precondition.IfAbsent())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ConcurrencyConflict))

	row.Columns["type"] = "Updated"
	etag2, err := table.Upsert(ctx, row, precondition.IfMatch(etag))
	require.NoError(t, err)
	assert.NotEqual(t, etag, etag2)

	_, err = table.Upsert(ctx, row, precondition.IfMatch(etag))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ConcurrencyConflict))

	got, err := table.Get(ctx, "stream-1", "e0001")
	require.NoError(t, err)
	assert.Equal(t, "Updated", got.Columns["type"])
	assert.Equal(t, etag2, got.ETag)
}

func TestBoltStoreConditionalUpsert(t *testing.T) {
	testConditionalUpsert(t, newBoltStore(t))
}

func TestMockConditionalUpsert(t *testing.T) {
	testConditionalUpsert(t, widetable.NewMock())
}

func testQueryRangeAndPagination(t *testing.T, table widetable.Table) {
	ctx := context.Background()
	for _, rk := range []string{"e0001", "e0002", "e0003", "e0004"} {
		_, err := table.Upsert(ctx, widetable.Row{PartitionKey: "stream-1", RowKey: rk, Columns: map[string]interface{}{}}, precondition.IfAbsent())
		require.NoError(t, err)
	}

	page, err := table.Query(ctx, "stream-1", "", "", 2, "")
	require.NoError(t, err)
	require.Len(t, page.Rows, 2)
	assert.Equal(t, "e0001", page.Rows[0].RowKey)
	assert.Equal(t, "e0002", page.Rows[1].RowKey)
	assert.NotEmpty(t, page.NextToken)

	page2, err := table.Query(ctx, "stream-1", "", "", 2, page.NextToken)
	require.NoError(t, err)
	require.Len(t, page2.Rows, 2)
	assert.Equal(t, "e0003", page2.Rows[0].RowKey)
	assert.Equal(t, "e0004", page2.Rows[1].RowKey)
	assert.Empty(t, page2.NextToken)
}

func TestBoltStoreQueryRangeAndPagination(t *testing.T) {
	testQueryRangeAndPagination(t, newBoltStore(t))
}

func TestMockQueryRangeAndPagination(t *testing.T) {
	testQueryRangeAndPagination(t, widetable.NewMock())
}

func testSubmitBatchAtomicity(t *testing.T, table widetable.Table) {
	ctx := context.Background()
	_, err := table.Upsert(ctx, widetable.Row{PartitionKey: "stream-2", RowKey: "e0001", Columns: map[string]interface{}{}}, precondition.IfAbsent())
	require.NoError(t, err)

	err = table.SubmitBatch(ctx, []widetable.BatchOp{
		{Kind: widetable.BatchInsert, Row: widetable.Row{PartitionKey: "stream-2", RowKey: "e0002", Columns: map[string]interface{}{}}, Cond: precondition.IfAbsent()},
		{Kind: widetable.BatchInsert, Row: widetable.Row{PartitionKey: "stream-2", RowKey: "e0001", Columns: map[string]interface{}{}}, Cond: precondition.IfAbsent()},
	})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ConcurrencyConflict))

	_, err = table.Get(ctx, "stream-2", "e0002")
	require.Error(t, err, "partial batch effects must not be visible after a rollback")
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestBoltStoreSubmitBatchAtomicity(t *testing.T) {
	testSubmitBatchAtomicity(t, newBoltStore(t))
}

func TestMockSubmitBatchAtomicity(t *testing.T) {
	testSubmitBatchAtomicity(t, widetable.NewMock())
}

func testSubmitBatchRejectsMixedPartitions(t *testing.T, table widetable.Table) {
	err := table.SubmitBatch(context.Background(), []widetable.BatchOp{
		{Kind: widetable.BatchInsert, Row: widetable.Row{PartitionKey: "a", RowKey: "e1"}, Cond: precondition.IfAbsent()},
		{Kind: widetable.BatchInsert, Row: widetable.Row{PartitionKey: "b", RowKey: "e2"}, Cond: precondition.IfAbsent()},
	})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidArgument))
}

func TestBoltStoreSubmitBatchRejectsMixedPartitions(t *testing.T) {
	testSubmitBatchRejectsMixedPartitions(t, newBoltStore(t))
}

func TestMockSubmitBatchRejectsMixedPartitions(t *testing.T) {
	testSubmitBatchRejectsMixedPartitions(t, widetable.NewMock())
}

// testBinaryColumnRoundTrip guards against a real, JSON-backed Table
// silently losing a []byte column: encoding/json marshals []byte as a
// base64 string, so a naive unmarshal into map[string]interface{} hands
// callers a string back, not the original bytes. widetable.Mock stores
// Columns by reference and never exercises this path.
func testBinaryColumnRoundTrip(t *testing.T, table widetable.Table) {
	ctx := context.Background()
	payload := []byte{0x00, 0xFF, 0x10, 0x42, 'h', 'i'}
	row := widetable.Row{PartitionKey: "bin-1", RowKey: "r1", Columns: map[string]interface{}{"data": payload}}

	_, err := table.Upsert(ctx, row, precondition.IfAbsent())
	require.NoError(t, err)

	got, err := table.Get(ctx, "bin-1", "r1")
	require.NoError(t, err)
	raw, ok := got.Columns["data"].([]byte)
	require.True(t, ok, "data column must decode back to []byte, got %T", got.Columns["data"])
	assert.Equal(t, payload, raw)
}

func TestBoltStoreBinaryColumnRoundTrip(t *testing.T) {
	testBinaryColumnRoundTrip(t, newBoltStore(t))
}

func TestBoltStoreMissingTableIsTableNotFound(t *testing.T) {
	dir := t.TempDir()
	store, err := widetable.OpenBoltStore(filepath.Join(dir, "table.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Get(context.Background(), "stream-1", "e0001")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.TableNotFound))
}
