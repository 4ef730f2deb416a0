package objectpager_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evtcore.dev/errs"
	"evtcore.dev/kvblob"
	"evtcore.dev/objectpager"
	"evtcore.dev/precondition"
	"evtcore.dev/widetable"
)

func seedBlob(t *testing.T, blob kvblob.Blob, objectName string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		path := fmt.Sprintf("%s/obj-%03d.json", objectName, i)
		_, err := blob.Write(context.Background(), path, []byte(`{}`), precondition.Unconditional())
		require.NoError(t, err)
	}
}

func seedTable(t *testing.T, table widetable.Table, objectName string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		row := widetable.Row{PartitionKey: objectName, RowKey: fmt.Sprintf("obj-%03d", i), Columns: map[string]interface{}{"body": "{}"}}
		_, err := table.Upsert(context.Background(), row, precondition.Unconditional())
		require.NoError(t, err)
	}
}

func TestBlobPagerPaginatesAndCounts(t *testing.T) {
	ctx := context.Background()
	blob := kvblob.NewMock()
	seedBlob(t, blob, "item", 5)
	pager := objectpager.NewBlobPager(blob)

	var all []string
	require.NoError(t, objectpager.ForEach(ctx, pager, "item", 2, func(id string) error {
		all = append(all, id)
		return nil
	}))
	assert.Len(t, all, 5)

	count, err := pager.Count(ctx, "item")
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	exists, err := pager.Exists(ctx, "item", "obj-002")
	require.NoError(t, err)
	assert.True(t, exists)

	missing, err := pager.Exists(ctx, "item", "obj-999")
	require.NoError(t, err)
	assert.False(t, missing)
}

func TestBlobPagerMissingContainerCountsZero(t *testing.T) {
	blob := kvblob.NewMock()
	blob.Err = errs.New(errs.ContainerNotFound, "container missing")
	pager := objectpager.NewBlobPager(blob)
	count, err := pager.Count(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestTablePagerPaginatesAndCounts(t *testing.T) {
	ctx := context.Background()
	table := widetable.NewMock()
	seedTable(t, table, "item", 5)
	pager := objectpager.NewTablePager(table)

	var all []string
	require.NoError(t, objectpager.ForEach(ctx, pager, "item", 2, func(id string) error {
		all = append(all, id)
		return nil
	}))
	assert.Equal(t, []string{"obj-000", "obj-001", "obj-002", "obj-003", "obj-004"}, all)

	count, err := pager.Count(ctx, "item")
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	exists, err := pager.Exists(ctx, "item", "obj-004")
	require.NoError(t, err)
	assert.True(t, exists)

	missing, err := pager.Exists(ctx, "item", "obj-999")
	require.NoError(t, err)
	assert.False(t, missing)
}
