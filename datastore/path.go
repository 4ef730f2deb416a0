// Package datastore implements the event stream data plane (§4.G): the
// hard core that appends and reads events against either substrate,
// guarded by the stream-closed state machine and the document's
// optimistic-concurrency hash chain.
package datastore

import "fmt"

// BlobObjectName returns the logical object name for a stream, per §4.G
// path derivation: `{streamId}` without chunking, or
// `{streamId}-{chunkId:10}` with chunking enabled.
func BlobObjectName(streamID string, chunkingEnabled bool, chunkID int) string {
	if !chunkingEnabled {
		return streamID
	}
	return fmt.Sprintf("%s-%010d", streamID, chunkID)
}

// TablePartitionKey returns the table partition key for a stream's
// active chunk, per §4.G.
func TablePartitionKey(streamID string, chunkingEnabled bool, chunkID int) string {
	if !chunkingEnabled {
		return streamID
	}
	return fmt.Sprintf("%s_%010d", streamID, chunkID)
}

// RowKeyForVersion returns the 20-digit zero-padded row key for an
// event version, per §4.G.
func RowKeyForVersion(version int) string {
	return fmt.Sprintf("%020d", version)
}
