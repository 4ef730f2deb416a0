// Package eventmodel defines the wire-stable shapes this module persists
// for one stream: the immutable Event record, the StreamChunk partition
// descriptor, the StreamInformation pointer, and TerminatedStream
// history, plus their JSON/row serialization (component D).
package eventmodel

import (
	"encoding/json"
	"time"

	"evtcore.dev/errs"
)

// StreamClosedEventType is the sentinel event type that terminates a
// stream when it becomes the tail event.
const StreamClosedEventType = "EventStream.Closed"

// Event is one immutable, append-only record in a stream.
// EventVersion is monotonically increasing per stream, starting at 0.
type Event struct {
	EventVersion  int               `json:"eventVersion"`
	EventType     string            `json:"eventType"`
	SchemaVersion string            `json:"schemaVersion"`
	Payload       json.RawMessage   `json:"payload"`
	Timestamp     time.Time         `json:"timestamp"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// IsStreamClosed reports whether e terminates its stream.
func (e Event) IsStreamClosed() bool {
	return e.EventType == StreamClosedEventType
}

// Validate rejects events a writer must never persist.
func (e Event) Validate() error {
	if e.EventType == "" {
		return errs.New(errs.InvalidArgument, "event type must not be empty")
	}
	if e.EventVersion < 0 {
		return errs.New(errs.InvalidArgument, "event version must not be negative")
	}
	return nil
}

// StreamChunk describes one contiguous version range of a stream stored
// as a single logical object or partition. LastEventVersion is -1 for an
// empty tail chunk.
type StreamChunk struct {
	ChunkID           int `json:"chunkId"`
	FirstEventVersion int `json:"firstEventVersion"`
	LastEventVersion  int `json:"lastEventVersion"`
}

// ValidateChunks checks the gap-free, sorted, contiguous invariant from
// §3: chunks sorted by ChunkID, each chunk's LastEventVersion+1 equal to
// the next chunk's FirstEventVersion, and the last chunk's
// LastEventVersion equal to currentVersion.
func ValidateChunks(chunks []StreamChunk, currentVersion int) error {
	if len(chunks) == 0 {
		return errs.New(errs.InvalidArgument, "chunked stream must have at least one chunk")
	}
	for i, c := range chunks {
		if i > 0 {
			prev := chunks[i-1]
			if c.ChunkID != prev.ChunkID+1 {
				return errs.Newf(errs.InvalidArgument, "chunk ids must be contiguous: %d followed by %d", prev.ChunkID, c.ChunkID)
			}
			if prev.LastEventVersion+1 != c.FirstEventVersion {
				return errs.Newf(errs.InvalidArgument, "chunk %d does not continue from chunk %d", c.ChunkID, prev.ChunkID)
			}
		}
	}
	last := chunks[len(chunks)-1]
	if last.LastEventVersion != currentVersion {
		return errs.Newf(errs.InvalidArgument, "last chunk version %d does not match current version %d", last.LastEventVersion, currentVersion)
	}
	return nil
}

// StoreRouting names the substrates and stream tags a stream resolves
// against. Modern fields are resolved first; ConnectionName is the
// legacy, input-only fallback (§9 deprecated routing fallback) and is
// never written by this module.
type StoreRouting struct {
	DataStore        string `json:"dataStore,omitempty"`
	DocumentStore    string `json:"documentStore,omitempty"`
	DocumentTagStore string `json:"documentTagStore,omitempty"`
	StreamTagStore   string `json:"streamTagStore,omitempty"`
	SnapshotStore    string `json:"snapShotStore,omitempty"`
	ConnectionName   string `json:"connectionName,omitempty"`
}

// Resolve returns the modern field if set, else ConnectionName.
func (r StoreRouting) Resolve(modern string) string {
	if modern != "" {
		return modern
	}
	return r.ConnectionName
}

// TypeRouting names the substrate-specific type/table identifiers a
// stream resolves against, mirroring StoreRouting's modern/legacy split.
type TypeRouting struct {
	Stream        string `json:"stream,omitempty"`
	Document      string `json:"document,omitempty"`
	DocumentTag   string `json:"documentTag,omitempty"`
	EventStreamTag string `json:"eventStreamTag,omitempty"`
	DocumentRef   string `json:"documentRef,omitempty"`
}

// StreamInformation is the active stream pointer embedded in an
// ObjectDocument.
type StreamInformation struct {
	StreamID        string        `json:"streamId"`
	CurrentVersion  int           `json:"currentVersion"`
	ChunkingEnabled bool          `json:"chunkingEnabled"`
	ChunkSize       int           `json:"chunkSize,omitempty"`
	Chunks          []StreamChunk `json:"chunks,omitempty"`
	Stores          StoreRouting  `json:"stores"`
	Types           TypeRouting   `json:"types"`
}

// ActiveChunk returns the chunk currently accepting appends: the last
// element of Chunks when chunking is enabled, or a synthetic single
// chunk covering the whole stream otherwise.
func (s StreamInformation) ActiveChunk() StreamChunk {
	if s.ChunkingEnabled && len(s.Chunks) > 0 {
		return s.Chunks[len(s.Chunks)-1]
	}
	return StreamChunk{ChunkID: 0, FirstEventVersion: 0, LastEventVersion: s.CurrentVersion}
}

// TerminatedStream records the history of a stream that was closed and,
// optionally, continued under a new stream id.
type TerminatedStream struct {
	StreamID             string     `json:"streamId"`
	Reason               string     `json:"reason"`
	ContinuationStreamID string     `json:"continuationStreamId,omitempty"`
	TerminationTs        time.Time  `json:"terminationTs"`
	Version              int        `json:"version"`
	Deleted              bool       `json:"deleted,omitempty"`
	DeletionTs           *time.Time `json:"deletionTs,omitempty"`
}
