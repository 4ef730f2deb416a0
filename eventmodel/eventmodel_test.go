package eventmodel_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evtcore.dev/eventmodel"
)

func TestEventIsStreamClosed(t *testing.T) {
	e := eventmodel.Event{EventType: eventmodel.StreamClosedEventType}
	assert.True(t, e.IsStreamClosed())
	assert.False(t, eventmodel.Event{EventType: "Created"}.IsStreamClosed())
}

func TestValidateChunksAcceptsContiguousSortedChunks(t *testing.T) {
	chunks := []eventmodel.StreamChunk{
		{ChunkID: 0, FirstEventVersion: 0, LastEventVersion: 9},
		{ChunkID: 1, FirstEventVersion: 10, LastEventVersion: 19},
	}
	require.NoError(t, eventmodel.ValidateChunks(chunks, 19))
}

func TestValidateChunksRejectsGap(t *testing.T) {
	chunks := []eventmodel.StreamChunk{
		{ChunkID: 0, FirstEventVersion: 0, LastEventVersion: 9},
		{ChunkID: 1, FirstEventVersion: 11, LastEventVersion: 19},
	}
	err := eventmodel.ValidateChunks(chunks, 19)
	require.Error(t, err)
}

func TestValidateChunksRejectsMismatchedTailVersion(t *testing.T) {
	chunks := []eventmodel.StreamChunk{{ChunkID: 0, FirstEventVersion: 0, LastEventVersion: 9}}
	err := eventmodel.ValidateChunks(chunks, 10)
	require.Error(t, err)
}

func TestStoreRoutingResolvesModernOverLegacy(t *testing.T) {
	r := eventmodel.StoreRouting{DataStore: "primary", ConnectionName: "legacy"}
	assert.Equal(t, "primary", r.Resolve(r.DataStore))

	r2 := eventmodel.StoreRouting{ConnectionName: "legacy"}
	assert.Equal(t, "legacy", r2.Resolve(r2.DataStore))
}

func TestActiveChunkWithoutChunking(t *testing.T) {
	s := eventmodel.StreamInformation{CurrentVersion: 5}
	assert.Equal(t, eventmodel.StreamChunk{ChunkID: 0, FirstEventVersion: 0, LastEventVersion: 5}, s.ActiveChunk())
}

func TestBlobContainerRoundTrip(t *testing.T) {
	c := eventmodel.BlobContainer{
		ObjectID:               "A",
		ObjectName:             "Item",
		LastObjectDocumentHash: eventmodel.UnresolvedHash,
		Events: []eventmodel.Event{
			{EventVersion: 0, EventType: "Created", SchemaVersion: "1.0.0", Payload: []byte(`{"x":1}`), Timestamp: time.Now().UTC()},
		},
	}
	data, err := eventmodel.MarshalBlobContainer(c)
	require.NoError(t, err)

	decoded, err := eventmodel.UnmarshalBlobContainer(data)
	require.NoError(t, err)
	require.Len(t, decoded.Events, 1)
	tail, ok := decoded.Tail()
	require.True(t, ok)
	assert.Equal(t, "Created", tail.EventType)
}

func TestEventRowIsPrimary(t *testing.T) {
	primary := eventmodel.EventRow{PayloadChunkIndex: 0}
	continuation := eventmodel.EventRow{PayloadChunkIndex: 1}
	assert.True(t, primary.IsPrimary())
	assert.False(t, continuation.IsPrimary())
}
