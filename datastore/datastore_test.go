package datastore_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evtcore.dev/datastore"
	"evtcore.dev/document"
	"evtcore.dev/errs"
	"evtcore.dev/eventmodel"
	"evtcore.dev/kvblob"
	"evtcore.dev/payloadcodec"
	"evtcore.dev/widetable"
)

func newDoc(streamID string) document.Document {
	doc := document.NewDocument("Item", "A", false, 0)
	doc.Active.StreamID = streamID
	return doc
}

func evt(version int, eventType string, payload string) eventmodel.Event {
	return eventmodel.Event{EventVersion: version, EventType: eventType, SchemaVersion: "1.0.0", Payload: json.RawMessage(payload)}
}

func TestBlobDataStoreAppendBootstrap(t *testing.T) {
	ctx := context.Background()
	blob := kvblob.NewMock()
	store := datastore.NewBlobDataStore(blob, "events", nil)
	doc := newDoc("A-0000000000")

	require.NoError(t, store.Append(ctx, doc, false, []eventmodel.Event{evt(0, "Created", `{"x":1}`)}))

	events, err := store.Read(ctx, doc, 0, datastore.UnboundedVersion)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 0, events[0].EventVersion)
	assert.Equal(t, "Created", events[0].EventType)
}

func TestBlobDataStoreOptimisticConflict(t *testing.T) {
	ctx := context.Background()
	blob := kvblob.NewMock()
	store := datastore.NewBlobDataStore(blob, "events", nil)
	doc := newDoc("A-0000000000")

	// Give the first append a concrete document hash so the container
	// records it as lastObjectDocumentHash instead of the "*" placeholder,
	// which would accept any prevHash.
	doc.Hash = "hash-after-first-append"
	require.NoError(t, store.Append(ctx, doc, false, []eventmodel.Event{evt(0, "Created", `{}`)}))

	// Simulate a racing writer whose document carries a stale prevHash
	// that does not match the stored container's lastObjectDocumentHash.
	doc.PrevHash = "stale-hash-that-never-matched"
	err := store.Append(ctx, doc, false, []eventmodel.Event{evt(1, "Updated", `{}`)})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ConcurrencyConflict))

	events, _ := store.Read(ctx, doc, 0, datastore.UnboundedVersion)
	assert.Len(t, events, 1, "the losing append's events must not be observable")
}

func TestBlobDataStoreStreamClosedRejectsFurtherAppends(t *testing.T) {
	ctx := context.Background()
	blob := kvblob.NewMock()
	store := datastore.NewBlobDataStore(blob, "events", nil)
	doc := newDoc("A-0000000000")

	require.NoError(t, store.Append(ctx, doc, false, []eventmodel.Event{evt(0, eventmodel.StreamClosedEventType, `{}`)}))

	err := store.Append(ctx, doc, false, []eventmodel.Event{evt(1, "Created", `{}`)})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.StreamClosed))
}

func TestTableDataStoreAppendAndReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	table := widetable.NewMock()
	store := datastore.NewTableDataStore(table, payloadcodec.Options{}, true, nil)
	doc := newDoc("A-0000000000")

	require.NoError(t, store.Append(ctx, doc, false, []eventmodel.Event{
		evt(0, "Created", `{"x":1}`),
		evt(1, "Updated", `{"x":2}`),
	}))

	events, err := store.Read(ctx, doc, 0, datastore.UnboundedVersion)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 0, events[0].EventVersion)
	assert.Equal(t, 1, events[1].EventVersion)
	assert.JSONEq(t, `{"x":2}`, string(events[1].Payload))
}

func TestTableDataStoreLargePayloadChunkedRoundTrip(t *testing.T) {
	ctx := context.Background()
	table := widetable.NewMock()
	store := datastore.NewTableDataStore(table, payloadcodec.Options{DisableCompress: true, ThresholdBytes: 1024, MaxChunkBytes: 60 * 1024}, true, nil)
	doc := newDoc("A-0000000000")

	raw := make([]byte, 200*1024)
	_, err := rand.Read(raw)
	require.NoError(t, err)
	payload, err := json.Marshal(struct {
		Blob []byte `json:"blob"`
	}{Blob: raw})
	require.NoError(t, err)

	require.NoError(t, store.Append(ctx, doc, false, []eventmodel.Event{evt(0, "LargeUploaded", string(payload))}))

	events, err := store.Read(ctx, doc, 0, datastore.UnboundedVersion)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, bytes.Equal([]byte(payload), events[0].Payload), "reassembled payload must round-trip byte for byte")

	removed, err := store.RemoveEventsForFailedCommit(ctx, doc, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	afterRemoval, err := store.Read(ctx, doc, 0, datastore.UnboundedVersion)
	require.NoError(t, err)
	assert.Empty(t, afterRemoval)
}

func TestTableDataStoreStreamClosedRejectsFurtherAppends(t *testing.T) {
	ctx := context.Background()
	table := widetable.NewMock()
	store := datastore.NewTableDataStore(table, payloadcodec.Options{}, false, nil)
	doc := newDoc("A-0000000000")

	require.NoError(t, store.Append(ctx, doc, false, []eventmodel.Event{evt(0, eventmodel.StreamClosedEventType, `{}`)}))
	doc.Active.CurrentVersion = 0

	err := store.Append(ctx, doc, false, []eventmodel.Event{evt(1, "Created", `{}`)})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.StreamClosed))
}

func TestTableDataStoreAppendRejectsEmptyEvents(t *testing.T) {
	store := datastore.NewTableDataStore(widetable.NewMock(), payloadcodec.Options{}, false, nil)
	err := store.Append(context.Background(), newDoc("A-0000000000"), false, nil)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidArgument))
}
