package eventmodel

import (
	"encoding/json"
	"time"

	"evtcore.dev/errs"
)

// BlobContainer is the bit-level-stable JSON document the blob substrate
// stores at one event-stream path (§6 "Blob event container").
type BlobContainer struct {
	ObjectID               string  `json:"objectId"`
	ObjectName             string  `json:"objectName"`
	LastObjectDocumentHash string  `json:"lastObjectDocumentHash"`
	Events                 []Event `json:"events"`
}

// UnresolvedHash is the sentinel lastObjectDocumentHash a blob container
// carries before any document hash has ever been recorded against it.
const UnresolvedHash = "*"

// Tail returns the last event in the container, or ok=false if empty.
func (c BlobContainer) Tail() (Event, bool) {
	if len(c.Events) == 0 {
		return Event{}, false
	}
	return c.Events[len(c.Events)-1], true
}

// MarshalBlobContainer serializes c to the wire-stable JSON layout.
func MarshalBlobContainer(c BlobContainer) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, err, "marshaling blob event container")
	}
	return data, nil
}

// UnmarshalBlobContainer parses the wire-stable JSON layout.
func UnmarshalBlobContainer(data []byte) (BlobContainer, error) {
	var c BlobContainer
	if err := json.Unmarshal(data, &c); err != nil {
		return BlobContainer{}, errs.Wrap(errs.CorruptPayload, err, "decoding blob event container")
	}
	return c, nil
}

// EventRow is the flattened representation of one table-substrate event
// row (§6 "Table event row columns"), split across a primary row and,
// for large payloads, continuation rows carrying only the Payload*
// fields.
type EventRow struct {
	ObjectID                string            `json:"objectId"`
	StreamIdentifier        string            `json:"streamIdentifier"`
	EventVersion            int               `json:"eventVersion"`
	EventType               string            `json:"eventType"`
	SchemaVersion           string            `json:"schemaVersion"`
	ChunkIdentifier         string            `json:"chunkIdentifier,omitempty"`
	LastObjectDocumentHash  string            `json:"lastObjectDocumentHash,omitempty"`
	Payload                 string            `json:"payload"`
	PayloadData             []byte            `json:"payloadData,omitempty"`
	PayloadChunked          bool              `json:"payloadChunked,omitempty"`
	PayloadTotalChunks      int               `json:"payloadTotalChunks,omitempty"`
	PayloadChunkIndex       int               `json:"payloadChunkIndex,omitempty"`
	PayloadCompressed       bool              `json:"payloadCompressed,omitempty"`
	Timestamp               time.Time         `json:"timestamp"`
	Metadata                map[string]string `json:"metadata,omitempty"`
}

// payloadSentinel replaces the textual payload column once the payload
// has been routed into PayloadData, per §4.C step 2.
const payloadSentinel = "{}"

// IsPrimary reports whether row is a primary event row rather than a
// payload continuation row (§6: "Primary row has PayloadChunkIndex null
// or 0").
func (r EventRow) IsPrimary() bool {
	return r.PayloadChunkIndex == 0
}

// ToEvent reconstructs an Event from a primary row plus its fully
// reassembled, decompressed payload bytes.
func (r EventRow) ToEvent(payload []byte) Event {
	return Event{
		EventVersion:  r.EventVersion,
		EventType:     r.EventType,
		SchemaVersion: r.SchemaVersion,
		Payload:       json.RawMessage(payload),
		Timestamp:     r.Timestamp,
		Metadata:      r.Metadata,
	}
}

// NewPrimaryRow builds the primary EventRow for e. When chunked is set,
// or primaryChunk is non-nil and the payload was compressed or split into
// more than one chunk, the textual Payload column is replaced by the
// sentinel and PayloadData holds the primary chunk; otherwise Payload
// carries the raw JSON text and PayloadData is left empty.
func NewPrimaryRow(objectID, streamID, chunkIdentifier, lastObjectDocumentHash string, e Event, chunked bool, compressed bool, totalChunks int, primaryChunk []byte) EventRow {
	row := EventRow{
		ObjectID:               objectID,
		StreamIdentifier:       streamID,
		EventVersion:           e.EventVersion,
		EventType:              e.EventType,
		SchemaVersion:          e.SchemaVersion,
		ChunkIdentifier:        chunkIdentifier,
		LastObjectDocumentHash: lastObjectDocumentHash,
		Timestamp:              e.Timestamp,
		Metadata:               e.Metadata,
	}
	if chunked || primaryChunk != nil && (compressed || totalChunks > 1) {
		row.Payload = payloadSentinel
		row.PayloadData = primaryChunk
		row.PayloadChunked = totalChunks > 1
		row.PayloadTotalChunks = totalChunks
		row.PayloadCompressed = compressed
	} else {
		row.Payload = string(e.Payload)
	}
	return row
}

// NewContinuationRow builds one sibling row holding continuation chunk
// index i (1 <= i < totalChunks) of a large payload.
func NewContinuationRow(objectID, streamID, chunkIdentifier string, eventVersion, index, totalChunks int, compressed bool, chunk []byte) EventRow {
	return EventRow{
		ObjectID:           objectID,
		StreamIdentifier:   streamID,
		EventVersion:       eventVersion,
		ChunkIdentifier:    chunkIdentifier,
		Payload:            payloadSentinel,
		PayloadData:        chunk,
		PayloadChunked:     true,
		PayloadTotalChunks: totalChunks,
		PayloadChunkIndex:  index,
		PayloadCompressed:  compressed,
	}
}
