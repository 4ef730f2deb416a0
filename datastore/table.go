package datastore

import (
	"context"

	"evtcore.dev/common"
	"evtcore.dev/document"
	"evtcore.dev/errs"
	"evtcore.dev/eventmodel"
	"evtcore.dev/internal/clock"
	"evtcore.dev/payloadcodec"
	"evtcore.dev/precondition"
	"evtcore.dev/widetable"
)

// TableDataStore implements DataStore over the WideTable capability: one
// partition per logical stream/chunk, one row per event version, large
// payloads routed through payloadcodec across continuation rows
// (§4.G table append protocol).
type TableDataStore struct {
	table widetable.Table
	codec payloadcodec.Options
	// PayloadChunkingEnabled gates payloadcodec's chunking trigger
	// independently of stream chunking (§4.C).
	PayloadChunkingEnabled bool
	clock                  clock.Clock
	log                    *common.ContextLogger
}

// NewTableDataStore returns a DataStore backed by table.
func NewTableDataStore(table widetable.Table, codec payloadcodec.Options, payloadChunkingEnabled bool, clk clock.Clock) *TableDataStore {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &TableDataStore{
		table:                  table,
		codec:                  codec,
		PayloadChunkingEnabled: payloadChunkingEnabled,
		clock:                  clk,
		log:                    common.NewContextLogger(common.Logger, map[string]interface{}{"component": "datastore.TableDataStore"}),
	}
}

func (s *TableDataStore) partitionKey(doc document.Document) string {
	chunk := doc.Active.ActiveChunk()
	return TablePartitionKey(doc.Active.StreamID, doc.Active.ChunkingEnabled, chunk.ChunkID)
}

func (s *TableDataStore) stampTimestamps(events []eventmodel.Event, preserveTs bool) []eventmodel.Event {
	if preserveTs {
		return events
	}
	now := s.clock.Now()
	stamped := make([]eventmodel.Event, len(events))
	for i, e := range events {
		e.Timestamp = now
		stamped[i] = e
	}
	return stamped
}

// eventToOps converts one event into a primary BatchOp and zero or more
// continuation BatchOps, routing the payload through payloadcodec when
// it exceeds the configured threshold (§4.C).
func (s *TableDataStore) eventToOps(doc document.Document, partitionKey string, e eventmodel.Event) ([]widetable.BatchOp, error) {
	chunk := doc.Active.ActiveChunk()
	rowKey := RowKeyForVersion(e.EventVersion)

	shouldChunk := payloadcodec.ShouldChunk(len(e.Payload), s.PayloadChunkingEnabled, s.codec)
	var encoded payloadcodec.Encoded
	if shouldChunk || s.codec.Compress() {
		enc, err := payloadcodec.Encode(e.Payload, s.codec)
		if err != nil {
			return nil, err
		}
		encoded = enc
	} else {
		encoded = payloadcodec.Encoded{Chunked: false, Compressed: false, Chunks: [][]byte{e.Payload}}
	}

	usesPayloadData := encoded.Chunked || encoded.Compressed
	chunkIdentifier := ""
	if doc.Active.ChunkingEnabled {
		chunkIdentifier = BlobObjectName(doc.Active.StreamID, true, chunk.ChunkID)
	}

	primary := eventmodel.NewPrimaryRow(doc.ObjectID, doc.Active.StreamID, chunkIdentifier, valueOrUnresolved(doc.Hash), e,
		usesPayloadData, encoded.Compressed, encoded.TotalChunks(), encoded.Chunks[0])

	ops := []widetable.BatchOp{{
		Kind: widetable.BatchInsert,
		Row:  rowFromEventRow(partitionKey, rowKey, primary),
		Cond: precondition.IfAbsent(),
	}}

	for i := 1; i < len(encoded.Chunks); i++ {
		continuation := eventmodel.NewContinuationRow(doc.ObjectID, doc.Active.StreamID, chunkIdentifier, e.EventVersion, i, encoded.TotalChunks(), encoded.Compressed, encoded.Chunks[i])
		ops = append(ops, widetable.BatchOp{
			Kind: widetable.BatchInsert,
			Row:  rowFromEventRow(partitionKey, payloadcodec.ContinuationRowKey(rowKey, i), continuation),
			Cond: precondition.IfAbsent(),
		})
	}
	return ops, nil
}

func valueOrUnresolved(hash string) string {
	if hash == "" {
		return eventmodel.UnresolvedHash
	}
	return hash
}

func rowFromEventRow(partitionKey, rowKey string, r eventmodel.EventRow) widetable.Row {
	return widetable.Row{
		PartitionKey: partitionKey,
		RowKey:       rowKey,
		Columns: map[string]interface{}{
			"objectId":               r.ObjectID,
			"streamIdentifier":       r.StreamIdentifier,
			"eventVersion":           r.EventVersion,
			"eventType":              r.EventType,
			"schemaVersion":          r.SchemaVersion,
			"chunkIdentifier":        r.ChunkIdentifier,
			"lastObjectDocumentHash": r.LastObjectDocumentHash,
			"payload":                r.Payload,
			"payloadData":            r.PayloadData,
			"payloadChunked":         r.PayloadChunked,
			"payloadTotalChunks":     r.PayloadTotalChunks,
			"payloadChunkIndex":      r.PayloadChunkIndex,
			"payloadCompressed":      r.PayloadCompressed,
			"timestamp":              r.Timestamp,
			"metadata":               r.Metadata,
		},
	}
}

func eventRowFromRow(row widetable.Row) eventmodel.EventRow {
	get := func(k string) interface{} { return row.Columns[k] }
	asString := func(k string) string { s, _ := get(k).(string); return s }
	asInt := func(k string) int {
		switch v := get(k).(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		default:
			return 0
		}
	}
	asBool := func(k string) bool { b, _ := get(k).(bool); return b }
	var payloadData []byte
	if b, ok := get("payloadData").([]byte); ok {
		payloadData = b
	}
	return eventmodel.EventRow{
		ObjectID:               asString("objectId"),
		StreamIdentifier:       asString("streamIdentifier"),
		EventVersion:           asInt("eventVersion"),
		EventType:              asString("eventType"),
		SchemaVersion:          asString("schemaVersion"),
		ChunkIdentifier:        asString("chunkIdentifier"),
		LastObjectDocumentHash: asString("lastObjectDocumentHash"),
		Payload:                asString("payload"),
		PayloadData:            payloadData,
		PayloadChunked:         asBool("payloadChunked"),
		PayloadTotalChunks:     asInt("payloadTotalChunks"),
		PayloadChunkIndex:      asInt("payloadChunkIndex"),
		PayloadCompressed:      asBool("payloadCompressed"),
	}
}

func (s *TableDataStore) Append(ctx context.Context, doc document.Document, preserveTs bool, events []eventmodel.Event) error {
	if err := validateAppendArgs(doc, events); err != nil {
		return err
	}
	events = s.stampTimestamps(events, preserveTs)
	partitionKey := s.partitionKey(doc)

	if doc.Active.CurrentVersion >= 0 {
		tailRow, err := s.table.Get(ctx, partitionKey, RowKeyForVersion(doc.Active.CurrentVersion))
		if err != nil && !errs.Is(err, errs.NotFound) {
			return err
		}
		if err == nil {
			tail := eventRowFromRow(tailRow)
			if tail.EventType == eventmodel.StreamClosedEventType {
				return errs.New(errs.StreamClosed, "stream tail is EventStream.Closed")
			}
		}
	}

	var ops []widetable.BatchOp
	for _, e := range events {
		eventOps, err := s.eventToOps(doc, partitionKey, e)
		if err != nil {
			return err
		}
		ops = append(ops, eventOps...)
	}

	const maxBatch = 100
	for i := 0; i < len(ops); i += maxBatch {
		end := i + maxBatch
		if end > len(ops) {
			end = len(ops)
		}
		if err := s.table.SubmitBatch(ctx, ops[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *TableDataStore) Read(ctx context.Context, doc document.Document, startVersion, untilVersion int) ([]eventmodel.Event, error) {
	partitionKey := s.partitionKey(doc)
	from := RowKeyForVersion(startVersion)
	to := ""
	if untilVersion != UnboundedVersion {
		to = RowKeyForVersion(untilVersion)
	}

	var out []eventmodel.Event
	token := ""
	for {
		page, err := s.table.Query(ctx, partitionKey, from, to, 1000, token)
		if err != nil {
			return nil, err
		}
		for _, row := range page.Rows {
			r := eventRowFromRow(row)
			if !r.IsPrimary() {
				continue
			}
			payload, err := s.reassemblePayload(ctx, partitionKey, row.RowKey, r)
			if err != nil {
				return nil, err
			}
			out = append(out, r.ToEvent(payload))
		}
		if page.NextToken == "" {
			break
		}
		token = page.NextToken
		if err := ctx.Err(); err != nil {
			break
		}
	}
	return out, nil
}

func (s *TableDataStore) reassemblePayload(ctx context.Context, partitionKey, primaryRowKey string, r eventmodel.EventRow) ([]byte, error) {
	if !r.PayloadChunked && r.PayloadData == nil {
		return []byte(r.Payload), nil
	}
	chunks := make([][]byte, r.PayloadTotalChunks)
	if r.PayloadTotalChunks <= 1 {
		chunks = [][]byte{r.PayloadData}
	} else {
		chunks[0] = r.PayloadData
		for i := 1; i < r.PayloadTotalChunks; i++ {
			row, err := s.table.Get(ctx, partitionKey, payloadcodec.ContinuationRowKey(primaryRowKey, i))
			if err != nil {
				if errs.Is(err, errs.NotFound) {
					return nil, errs.Newf(errs.CorruptPayload, "missing continuation chunk %d for row %s", i, primaryRowKey)
				}
				return nil, err
			}
			cr := eventRowFromRow(row)
			chunks[i] = cr.PayloadData
		}
	}
	return payloadcodec.Decode(chunks, r.PayloadCompressed)
}

func (s *TableDataStore) ReadStream(ctx context.Context, doc document.Document, startVersion, untilVersion int) (EventSequence, error) {
	events, err := s.Read(ctx, doc, startVersion, untilVersion)
	if err != nil {
		return nil, err
	}
	return &sliceSequence{events: events}, nil
}

// RemoveEventsForFailedCommit deletes the primary row and any
// continuation rows for each version in [fromVersion, toVersion]. 404s
// on individual rows are tolerated as already-absent (§4.G).
func (s *TableDataStore) RemoveEventsForFailedCommit(ctx context.Context, doc document.Document, fromVersion, toVersion int) (int, error) {
	partitionKey := s.partitionKey(doc)
	removed := 0
	for v := fromVersion; v <= toVersion; v++ {
		rowKey := RowKeyForVersion(v)
		row, err := s.table.Get(ctx, partitionKey, rowKey)
		if err != nil {
			if errs.Is(err, errs.NotFound) {
				continue
			}
			return removed, err
		}
		r := eventRowFromRow(row)
		if r.PayloadChunked && r.PayloadTotalChunks > 1 {
			for i := 1; i < r.PayloadTotalChunks; i++ {
				ck := payloadcodec.ContinuationRowKey(rowKey, i)
				if err := s.table.Delete(ctx, partitionKey, ck, precondition.Unconditional()); err != nil && !errs.Is(err, errs.NotFound) {
					return removed, err
				}
			}
		}
		if err := s.table.Delete(ctx, partitionKey, rowKey, precondition.Unconditional()); err != nil && !errs.Is(err, errs.NotFound) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

var _ DataStore = (*TableDataStore)(nil)
