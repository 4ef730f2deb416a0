package document

import (
	"context"
	"encoding/json"
	"strings"

	"evtcore.dev/common"
	"evtcore.dev/errs"
	"evtcore.dev/precondition"
	"evtcore.dev/widetable"
)

// TableStore implements Store on the WideTable capability: partition
// key `{objectName_lc}`, row key `{objectId}`, one JSON-encoded column
// holding the document body (§6 "Table document columns").
type TableStore struct {
	table widetable.Table
	log   *common.ContextLogger
}

// NewTableStore returns a document Store backed by table.
func NewTableStore(table widetable.Table) *TableStore {
	return &TableStore{
		table: table,
		log:   common.NewContextLogger(common.Logger, map[string]interface{}{"component": "document.TableStore"}),
	}
}

func decodeTableDocument(row widetable.Row) (Document, error) {
	raw, _ := row.Columns["body"].(string)
	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return Document{}, errs.Wrap(errs.CorruptPayload, err, "decoding table document")
	}
	return doc, nil
}

func (s *TableStore) Create(ctx context.Context, name, objectID string, chunkingEnabled bool, chunkSize int) (Document, error) {
	if err := s.table.EnsureTable(ctx); err != nil {
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

	body, merr := json.Marshal(doc)
	if merr != nil {
		return Document{}, errs.Wrap(errs.InvalidArgument, merr, "marshaling new document")
	}

	row := widetable.Row{PartitionKey: strings.ToLower(name), RowKey: objectID, Columns: map[string]interface{}{"body": string(body)}}
	if _, err := s.table.Upsert(ctx, row, precondition.IfAbsent()); err != nil {
		if errs.Is(err, errs.ConcurrencyConflict) {
			return s.Get(ctx, name, objectID)
		}
		return Document{}, err
	}
	return doc, nil
}

func (s *TableStore) Get(ctx context.Context, name, objectID string) (Document, error) {
	row, err := s.table.Get(ctx, strings.ToLower(name), objectID)
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			return Document{}, errs.Newf(errs.DocumentNotFound, "document %s/%s", name, objectID)
		}
		return Document{}, err
	}
	return decodeTableDocument(row)
}

func (s *TableStore) Set(ctx context.Context, doc Document) (Document, error) {
	partitionKey := strings.ToLower(doc.ObjectName)

	existingRow, err := s.table.Get(ctx, partitionKey, doc.ObjectID)
	cond := precondition.IfAbsent()
	if err == nil {
		cond = precondition.IfMatch(existingRow.ETag)
		current, derr := decodeTableDocument(existingRow)
		if derr != nil {
			return Document{}, derr
		}
		if err := ValidateForSet(doc, current.Hash); err != nil {
			return Document{}, err
		}
	} else if !errs.Is(err, errs.NotFound) {
		return Document{}, err
	}

	newHash, herr := ComputeHash(doc)
	if herr != nil {
		return Document{}, herr
	}
	doc.PrevHash = doc.Hash
	doc.Hash = newHash

	body, merr := json.Marshal(doc)
	if merr != nil {
		return Document{}, errs.Wrap(errs.InvalidArgument, merr, "marshaling document")
	}

	row := widetable.Row{PartitionKey: partitionKey, RowKey: doc.ObjectID, Columns: map[string]interface{}{"body": string(body)}}
	if _, err := s.table.Upsert(ctx, row, cond); err != nil {
		return Document{}, err
	}
	return doc, nil
}

var _ Store = (*TableStore)(nil)
