// Package document implements the object-document control plane (§4.E,
// §4.F, §4.I document-tag half): the per-aggregate descriptor, its
// hash-chained persistence, and the document-tag secondary index.
package document

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"evtcore.dev/errs"
	"evtcore.dev/eventmodel"
)

// Document is the per-aggregate descriptor: a stream pointer, its
// termination history, and the hash chain guarding against lost
// updates (§3 "ObjectDocument").
type Document struct {
	ObjectID          string                        `json:"objectId"`
	ObjectName        string                        `json:"objectName"`
	Active            eventmodel.StreamInformation  `json:"active"`
	TerminatedStreams []eventmodel.TerminatedStream `json:"terminatedStreams,omitempty"`
	SchemaVersion     string                        `json:"schemaVersion"`
	Hash              string                        `json:"hash,omitempty"`
	// PrevHash is the document's own hash as of the write before this
	// one. Store.Set sets it from the document's current Hash before
	// computing and assigning the new one; callers never need to
	// maintain it themselves, and a loaded Document should be mutated
	// and passed straight to Set without touching either field.
	PrevHash string `json:"prevHash,omitempty"`
}

// contentForHash is the subset of Document fields the hash chain covers;
// Hash and PrevHash are excluded so the digest does not reference
// itself.
type contentForHash struct {
	ObjectID          string                        `json:"objectId"`
	ObjectName        string                        `json:"objectName"`
	Active            eventmodel.StreamInformation  `json:"active"`
	TerminatedStreams []eventmodel.TerminatedStream `json:"terminatedStreams,omitempty"`
	SchemaVersion     string                        `json:"schemaVersion"`
}

// canonicalize round-trips v through interface{} so that map keys sort
// lexically and struct field order and insignificant whitespace carry no
// weight in the resulting bytes, per §9 "canonicalize JSON before
// hashing".
func canonicalize(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// ComputeHash returns the SHA-256 hex digest of d's canonicalized
// content, per §4.F.
func ComputeHash(d Document) (string, error) {
	canon, err := canonicalize(contentForHash{
		ObjectID:          d.ObjectID,
		ObjectName:        d.ObjectName,
		Active:            d.Active,
		TerminatedStreams: d.TerminatedStreams,
		SchemaVersion:     d.SchemaVersion,
	})
	if err != nil {
		return "", errs.Wrap(errs.InvalidArgument, err, "canonicalizing document for hashing")
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// DefaultSchemaVersion is stamped on freshly created documents and tag
// records.
const DefaultSchemaVersion = "1.0.0"

// NewStreamID derives the initial stream id for a freshly created
// document: the object id with dashes stripped, suffixed with a
// 10-digit zero-padded chunk-0 marker, per §4.E Create.
func NewStreamID(objectID string) string {
	stripped := strings.ReplaceAll(objectID, "-", "")
	return stripped + "-0000000000"
}

// NewDocument builds the freshly initialized document Create produces
// when none existed: currentVersion = -1, an optional initial empty
// chunk {0,0,-1} when chunking is requested.
func NewDocument(objectName, objectID string, chunkingEnabled bool, chunkSize int) Document {
	active := eventmodel.StreamInformation{
		StreamID:        NewStreamID(objectID),
		CurrentVersion:  -1,
		ChunkingEnabled: chunkingEnabled,
		ChunkSize:       chunkSize,
	}
	if chunkingEnabled {
		active.Chunks = []eventmodel.StreamChunk{{ChunkID: 0, FirstEventVersion: 0, LastEventVersion: -1}}
	}
	return Document{
		ObjectID:      objectID,
		ObjectName:    objectName,
		Active:        active,
		SchemaVersion: DefaultSchemaVersion,
	}
}

// ValidateForSet enforces the §4.E Set invariants: currentVersion floor,
// chunk contiguity when chunking is enabled, and that the document the
// caller is writing still carries the hash it was loaded with (the
// document's own optimistic-concurrency gate above and beyond the
// substrate ETag). A caller that did Get, mutated Active, and is now
// calling Set sees d.Hash unchanged since load, so this compares that
// hash directly rather than requiring the caller to juggle PrevHash
// itself; Set is responsible for advancing PrevHash/Hash afterward.
func ValidateForSet(d Document, previouslyLoadedHash string) error {
	if d.Active.CurrentVersion < -1 {
		return errs.New(errs.InvalidArgument, "active.currentVersion must be >= -1")
	}
	if d.Active.ChunkingEnabled {
		if err := eventmodel.ValidateChunks(d.Active.Chunks, d.Active.CurrentVersion); err != nil {
			return err
		}
	}
	if d.Hash != previouslyLoadedHash {
		return errs.New(errs.ConcurrencyConflict, "document hash does not match previously loaded hash")
	}
	return nil
}

// sanitizeTag strips characters forbidden in a blob tag document path,
// per §6: `[\/*?<>|"\r\n]`.
func sanitizeTag(tag string) string {
	var b strings.Builder
	for _, r := range tag {
		switch r {
		case '\\', '/', '*', '?', '<', '>', '|', '"', '\r', '\n':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
