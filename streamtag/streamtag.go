// Package streamtag implements the stream-tag secondary index (§4.I,
// stream half): a reverse map from tag to the stream ids carrying it,
// parallel to document's tag store but keyed on stream id instead of
// object id.
package streamtag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"evtcore.dev/common"
	"evtcore.dev/errs"
	"evtcore.dev/kvblob"
	"evtcore.dev/precondition"
	"evtcore.dev/widetable"
)

// Store is the stream-tag index contract.
type Store interface {
	Tag(ctx context.Context, tag, streamID string) error
	StreamIDsForTag(ctx context.Context, tag string) ([]string, error)
}

// TagRecord is the blob stream-tag document's content, mirroring the
// document-tag record shape.
type TagRecord struct {
	Tag           string   `json:"tag"`
	StreamIDs     []string `json:"streamIds"`
	SchemaVersion string   `json:"schemaVersion"`
}

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

func streamTagPath(tag string) string {
	return fmt.Sprintf("tags/stream/%s.json", sanitizeTag(tag))
}

// BlobStore implements Store's write path at
// `{container}/tags/stream/{sanitized(tag)}.json`. Its read path,
// StreamIDsForTag, is intentionally left unimplemented: the behaviour
// of the corresponding lookup was never pinned down in the prior
// implementation this index is modeled on, and guessing one risks
// committing callers to semantics nobody asked for. Callers needing a
// queryable stream-tag index should use TableStore, whose read path is
// fully specified.
type BlobStore struct {
	blob      kvblob.Blob
	container string
	log       *common.ContextLogger
}

// NewBlobStore returns a stream-tag Store backed by blob.
func NewBlobStore(blob kvblob.Blob, container string) *BlobStore {
	return &BlobStore{
		blob:      blob,
		container: container,
		log:       common.NewContextLogger(common.Logger, map[string]interface{}{"component": "streamtag.BlobStore"}),
	}
}

func (s *BlobStore) Tag(ctx context.Context, tag, streamID string) error {
	if err := s.blob.EnsureContainer(ctx); err != nil {
		return err
	}
	path := streamTagPath(tag)

	for attempt := 0; attempt < 2; attempt++ {
		props, err := s.blob.GetProperties(ctx, path)
		if err != nil {
			if !errs.Is(err, errs.NotFound) {
				return err
			}
			record := TagRecord{Tag: tag, StreamIDs: []string{streamID}, SchemaVersion: "1.0.0"}
			data, merr := json.Marshal(record)
			if merr != nil {
				return errs.Wrap(errs.InvalidArgument, merr, "marshaling stream tag record")
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
			return errs.Wrap(errs.CorruptPayload, err, "decoding stream tag record")
		}
		if containsString(record.StreamIDs, streamID) {
			return nil
		}
		record.StreamIDs = append(record.StreamIDs, streamID)
		updated, merr := json.Marshal(record)
		if merr != nil {
			return errs.Wrap(errs.InvalidArgument, merr, "marshaling stream tag record")
		}
		if _, werr := s.blob.Write(ctx, path, updated, precondition.IfMatch(props.ETag)); werr != nil {
			if errs.Is(werr, errs.ConcurrencyConflict) {
				continue
			}
			return werr
		}
		return nil
	}
	return errs.Newf(errs.ConcurrencyConflict, "stream tag %s kept conflicting across retries", tag)
}

// StreamIDsForTag is unimplemented; see BlobStore's doc comment.
func (s *BlobStore) StreamIDsForTag(ctx context.Context, tag string) ([]string, error) {
	return nil, errs.New(errs.InvalidArgument, "BlobStore.StreamIDsForTag is intentionally unimplemented; use TableStore")
}

func containsString(items []string, target string) bool {
	for _, v := range items {
		if v == target {
			return true
		}
	}
	return false
}

var _ Store = (*BlobStore)(nil)

// TableStore implements Store fully over the WideTable capability:
// `PK={typeName_lc}_{sanitized(tag)}, RK={streamId}` (§6 "Table tag
// row"), with sanitization removing `[/\#? --]`.
type TableStore struct {
	table    widetable.Table
	typeName string
	log      *common.ContextLogger
}

// NewTableStore returns a stream-tag Store backed by table, scoped to
// typeName (used as the partition-key prefix).
func NewTableStore(table widetable.Table, typeName string) *TableStore {
	return &TableStore{
		table:    table,
		typeName: strings.ToLower(typeName),
		log:      common.NewContextLogger(common.Logger, map[string]interface{}{"component": "streamtag.TableStore"}),
	}
}

// sanitizeTableTag removes the table-tag-row-forbidden character classes
// per §6: `[/\#? --]`.
func sanitizeTableTag(tag string) string {
	var b strings.Builder
	for _, r := range tag {
		switch {
		case r == '/' || r == '\\' || r == '#' || r == '?':
			continue
		case r <= 0x1F || (r >= 0x7F && r <= 0x9F):
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (s *TableStore) partitionKey(tag string) string {
	return s.typeName + "_" + sanitizeTableTag(tag)
}

func (s *TableStore) Tag(ctx context.Context, tag, streamID string) error {
	if err := s.table.EnsureTable(ctx); err != nil {
		return err
	}
	row := widetable.Row{
		PartitionKey: s.partitionKey(tag),
		RowKey:       streamID,
		Columns: map[string]interface{}{
			"tag":      tag,
			"typeName": s.typeName,
			"streamId": streamID,
		},
	}
	_, err := s.table.Upsert(ctx, row, precondition.Unconditional())
	return err
}

func (s *TableStore) StreamIDsForTag(ctx context.Context, tag string) ([]string, error) {
	partitionKey := s.partitionKey(tag)
	var ids []string
	token := ""
	for {
		page, err := s.table.Query(ctx, partitionKey, "", "", 1000, token)
		if err != nil {
			if errs.Is(err, errs.TableNotFound) {
				return nil, nil
			}
			return nil, err
		}
		for _, row := range page.Rows {
			ids = append(ids, row.RowKey)
		}
		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}
	return ids, nil
}

var _ Store = (*TableStore)(nil)
