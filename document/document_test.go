package document_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evtcore.dev/document"
	"evtcore.dev/errs"
	"evtcore.dev/kvblob"
	"evtcore.dev/widetable"
)

func TestNewStreamIDStripsDashes(t *testing.T) {
	assert.Equal(t, "abcdef-0000000000", document.NewStreamID("abc-def"))
}

func TestComputeHashIsStableForEquivalentContent(t *testing.T) {
	doc := document.NewDocument("Item", "A", false, 0)
	h1, err := document.ComputeHash(doc)
	require.NoError(t, err)
	h2, err := document.ComputeHash(doc)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestComputeHashChangesWithContent(t *testing.T) {
	doc := document.NewDocument("Item", "A", false, 0)
	h1, _ := document.ComputeHash(doc)
	doc.Active.CurrentVersion = 0
	h2, _ := document.ComputeHash(doc)
	assert.NotEqual(t, h1, h2)
}

func testCreateGetSetRoundTrip(t *testing.T, store document.Store) {
	ctx := context.Background()

	doc, err := store.Create(ctx, "Item", "A", false, 0)
	require.NoError(t, err)
	assert.Equal(t, -1, doc.Active.CurrentVersion)
	assert.NotEmpty(t, doc.Hash)

	again, err := store.Create(ctx, "Item", "A", false, 0)
	require.NoError(t, err)
	assert.Equal(t, doc.Hash, again.Hash, "create must be idempotent")

	loaded, err := store.Get(ctx, "Item", "A")
	require.NoError(t, err)
	assert.Equal(t, doc.Hash, loaded.Hash)

	loaded.Active.CurrentVersion = 0
	updated, err := store.Set(ctx, loaded)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.Active.CurrentVersion)
	assert.Equal(t, loaded.Hash, updated.PrevHash)

	// stale models a second writer that loaded the document before the
	// Set above landed; its Hash still points at the pre-update content,
	// so it must lose even though it never touched PrevHash itself.
	stale := loaded
	stale.Active.CurrentVersion = 1
	_, err = store.Set(ctx, stale)
	require.Error(t, err, "a second writer racing on the same previously loaded hash must lose")
	assert.True(t, errs.Is(err, errs.ConcurrencyConflict))
}

func TestBlobStoreCreateGetSetRoundTrip(t *testing.T) {
	testCreateGetSetRoundTrip(t, document.NewBlobStore(kvblob.NewMock(), "documents"))
}

func TestTableStoreCreateGetSetRoundTrip(t *testing.T) {
	testCreateGetSetRoundTrip(t, document.NewTableStore(widetable.NewMock()))
}

func TestBlobStoreGetMissingIsDocumentNotFound(t *testing.T) {
	store := document.NewBlobStore(kvblob.NewMock(), "documents")
	_, err := store.Get(context.Background(), "Item", "missing")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.DocumentNotFound))
}

func TestBlobTagStoreTagAndResolve(t *testing.T) {
	ctx := context.Background()
	blobStore := document.NewBlobStore(kvblob.NewMock(), "documents")
	tagStore := document.NewBlobTagStore(kvblob.NewMock(), "documents")

	doc, err := blobStore.Create(ctx, "Item", "A", false, 0)
	require.NoError(t, err)

	require.NoError(t, tagStore.Tag(ctx, "featured", doc.ObjectID))
	require.NoError(t, tagStore.Tag(ctx, "featured", doc.ObjectID), "tagging twice must be idempotent")

	docs, err := document.GetByTag(ctx, blobStore, tagStore, "Item", "featured")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "A", docs[0].ObjectID)

	first, err := document.GetFirstByTag(ctx, blobStore, tagStore, "Item", "featured")
	require.NoError(t, err)
	assert.Equal(t, "A", first.ObjectID)

	_, err = document.GetFirstByTag(ctx, blobStore, tagStore, "Item", "missing-tag")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.DocumentNotFound))
}
