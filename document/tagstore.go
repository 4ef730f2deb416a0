package document

import (
	"context"
	"encoding/json"
	"fmt"

	"evtcore.dev/common"
	"evtcore.dev/errs"
	"evtcore.dev/kvblob"
	"evtcore.dev/precondition"
)

// TagRecord is the blob tag document's content, per §6 "Blob tag
// document path".
type TagRecord struct {
	Tag           string   `json:"tag"`
	ObjectIDs     []string `json:"objectIds"`
	SchemaVersion string   `json:"schemaVersion"`
}

// TagStore is the document-tag secondary index (§4.I, document half):
// a reverse map from tag to the object ids carrying it.
type TagStore interface {
	Tag(ctx context.Context, tag, objectID string) error
	ObjectIDsForTag(ctx context.Context, tag string) ([]string, error)
}

// BlobTagStore implements TagStore at
// `{container}/tags/document/{sanitized(tag)}.json`.
type BlobTagStore struct {
	blob      kvblob.Blob
	container string
	log       *common.ContextLogger
}

// NewBlobTagStore returns a document TagStore backed by blob.
func NewBlobTagStore(blob kvblob.Blob, container string) *BlobTagStore {
	return &BlobTagStore{
		blob:      blob,
		container: container,
		log:       common.NewContextLogger(common.Logger, map[string]interface{}{"component": "document.BlobTagStore"}),
	}
}

func tagPath(tag string) string {
	return fmt.Sprintf("tags/document/%s.json", sanitizeTag(tag))
}

// Tag records objectID against tag, idempotently. Creation races use
// If-None-Match:"*"; a loser falls through to the ETag-matched update
// path, covering the race between Exists and Create (§4.F, §7
// propagation policy item c).
func (s *BlobTagStore) Tag(ctx context.Context, tag, objectID string) error {
	if err := s.blob.EnsureContainer(ctx); err != nil {
		return err
	}
	path := tagPath(tag)

	for attempt := 0; attempt < 2; attempt++ {
		props, err := s.blob.GetProperties(ctx, path)
		if err != nil {
			if !errs.Is(err, errs.NotFound) {
				return err
			}
			record := TagRecord{Tag: tag, ObjectIDs: []string{objectID}, SchemaVersion: DefaultSchemaVersion}
			data, merr := json.Marshal(record)
			if merr != nil {
				return errs.Wrap(errs.InvalidArgument, merr, "marshaling tag record")
			}
			if _, werr := s.blob.Write(ctx, path, data, precondition.IfAbsent()); werr != nil {
				if errs.Is(werr, errs.ConcurrencyConflict) {
					continue
				}
				return werr
			}
			return nil
		}

		data, rerr := s.blob.Read(ctx, path)
		if rerr != nil {
			return rerr
		}
		var record TagRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return errs.Wrap(errs.CorruptPayload, err, "decoding tag record")
		}
		if containsString(record.ObjectIDs, objectID) {
			return nil
		}
		record.ObjectIDs = append(record.ObjectIDs, objectID)
		updated, merr := json.Marshal(record)
		if merr != nil {
			return errs.Wrap(errs.InvalidArgument, merr, "marshaling tag record")
		}
		if _, werr := s.blob.Write(ctx, path, updated, precondition.IfMatch(props.ETag)); werr != nil {
			if errs.Is(werr, errs.ConcurrencyConflict) {
				continue
			}
			return werr
		}
		return nil
	}
	return errs.Newf(errs.ConcurrencyConflict, "tag %s kept conflicting across retries", tag)
}

func (s *BlobTagStore) ObjectIDsForTag(ctx context.Context, tag string) ([]string, error) {
	data, err := s.blob.Read(ctx, tagPath(tag))
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			return nil, nil
		}
		return nil, err
	}
	var record TagRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errs.Wrap(errs.CorruptPayload, err, "decoding tag record")
	}
	return record.ObjectIDs, nil
}

func containsString(items []string, target string) bool {
	for _, v := range items {
		if v == target {
			return true
		}
	}
	return false
}

var _ TagStore = (*BlobTagStore)(nil)

// GetByTag resolves IDs via tags, then loads each document (§4.E).
func GetByTag(ctx context.Context, store Store, tags TagStore, objectName, tag string) ([]Document, error) {
	ids, err := tags.ObjectIDsForTag(ctx, tag)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(ids))
	for _, id := range ids {
		doc, err := store.Get(ctx, objectName, id)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// GetFirstByTag resolves the first id tagged with tag and loads it,
// returning DocumentNotFound when no id carries the tag.
func GetFirstByTag(ctx context.Context, store Store, tags TagStore, objectName, tag string) (Document, error) {
	ids, err := tags.ObjectIDsForTag(ctx, tag)
	if err != nil {
		return Document{}, err
	}
	if len(ids) == 0 {
		return Document{}, errs.Newf(errs.DocumentNotFound, "no document tagged %q", tag)
	}
	return store.Get(ctx, objectName, ids[0])
}
