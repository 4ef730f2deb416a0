package document

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"evtcore.dev/common"
	"evtcore.dev/errs"
	"evtcore.dev/kvblob"
	"evtcore.dev/precondition"
)

// Store is the document control-plane contract (§4.E public contract).
type Store interface {
	Create(ctx context.Context, name, objectID string, chunkingEnabled bool, chunkSize int) (Document, error)
	Get(ctx context.Context, name, objectID string) (Document, error)
	Set(ctx context.Context, doc Document) (Document, error)
}

// blobEnvelope is the JSON wrapper a document is stored in. It holds only
// the document; Set takes the ETag for its conditional write from
// GetProperties.
type blobEnvelope struct {
	Document Document `json:"document"`
}

// BlobStore implements Store on the KvBlob capability, addressing each
// document at `{objectName_lc}/{objectId}.json` within the configured
// container, per §4.F.
type BlobStore struct {
	blob      kvblob.Blob
	container string
	log       *common.ContextLogger
}

// NewBlobStore returns a document Store backed by blob.
func NewBlobStore(blob kvblob.Blob, container string) *BlobStore {
	return &BlobStore{
		blob:      blob,
		container: container,
		log:       common.NewContextLogger(common.Logger, map[string]interface{}{"component": "document.BlobStore"}),
	}
}

func documentPath(objectName, objectID string) string {
	return fmt.Sprintf("%s/%s.json", strings.ToLower(objectName), objectID)
}

func (s *BlobStore) Create(ctx context.Context, name, objectID string, chunkingEnabled bool, chunkSize int) (Document, error) {
	if err := s.blob.EnsureContainer(ctx); err != nil {
		return Document{}, err
	}
	existing, err := s.Get(ctx, name, objectID)
	if err == nil {
		return existing, nil
	}
	if !errs.Is(err, errs.DocumentNotFound) {
		return Document{}, err
	}

	doc := NewDocument(name, objectID, chunkingEnabled, chunkSize)
	hash, herr := ComputeHash(doc)
	if herr != nil {
		return Document{}, herr
	}
	doc.Hash = hash

	data, merr := json.Marshal(blobEnvelope{Document: doc})
	if merr != nil {
		return Document{}, errs.Wrap(errs.InvalidArgument, merr, "marshaling new document")
	}

	path := documentPath(name, objectID)
	if _, err := s.blob.Write(ctx, path, data, precondition.IfAbsent()); err != nil {
		if errs.Is(err, errs.ConcurrencyConflict) {
			return s.Get(ctx, name, objectID)
		}
		return Document{}, err
	}
	return doc, nil
}

func (s *BlobStore) Get(ctx context.Context, name, objectID string) (Document, error) {
	path := documentPath(name, objectID)
	data, err := s.blob.Read(ctx, path)
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			return Document{}, errs.Newf(errs.DocumentNotFound, "document %s/%s", name, objectID)
		}
		return Document{}, err
	}
	var env blobEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Document{}, errs.Wrap(errs.CorruptPayload, err, "decoding document")
	}
	return env.Document, nil
}

// Set persists doc, computing a fresh hash from its canonicalized
// content and writing with the substrate's ETag precondition so a
// stale caller's write is refused as ConcurrencyConflict rather than
// silently clobbering a newer version, per §4.E.
func (s *BlobStore) Set(ctx context.Context, doc Document) (Document, error) {
	path := documentPath(doc.ObjectName, doc.ObjectID)

	props, err := s.blob.GetProperties(ctx, path)
	cond := precondition.IfAbsent()
	if err == nil {
		cond = precondition.IfMatch(props.ETag)
	} else if !errs.Is(err, errs.NotFound) {
		return Document{}, err
	}

	if cond.Kind() == precondition.MatchVersion {
		current, gerr := s.Get(ctx, doc.ObjectName, doc.ObjectID)
		if gerr != nil {
			return Document{}, gerr
		}
		if err := ValidateForSet(doc, current.Hash); err != nil {
			return Document{}, err
		}
	}

	newHash, herr := ComputeHash(doc)
	if herr != nil {
		return Document{}, herr
	}
	doc.PrevHash = doc.Hash
	doc.Hash = newHash

	data, merr := json.Marshal(blobEnvelope{Document: doc})
	if merr != nil {
		return Document{}, errs.Wrap(errs.InvalidArgument, merr, "marshaling document")
	}

	if _, err := s.blob.Write(ctx, path, data, cond); err != nil {
		return Document{}, err
	}
	return doc, nil
}

var _ Store = (*BlobStore)(nil)
