// Package checkpoint implements the projection checkpoint store (§4.K):
// durable storage for a projection's resume point, laid out as
// fingerprinted, chunked rows with a legacy single-row fallback for
// checkpoints written before chunking existed.
package checkpoint

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"evtcore.dev/common"
	"evtcore.dev/errs"
	"evtcore.dev/payloadcodec"
	"evtcore.dev/precondition"
	"evtcore.dev/widetable"
)

const partitionKey = "checkpoint"

// Pointer is the small row recording which fingerprint is current for a
// projection.
type Pointer struct {
	Fingerprint string    `json:"fingerprint"`
	LastUpdated time.Time `json:"lastUpdated"`
	Status      string    `json:"status"`
}

// Store is the checkpoint-store public contract (§4.K).
type Store interface {
	Save(ctx context.Context, projection string, data []byte) error
	Load(ctx context.Context, projection string) ([]byte, bool, error)
	LoadFromFingerprint(ctx context.Context, projection, fingerprint string) ([]byte, bool, error)
	DeleteAll(ctx context.Context, projection string) error
	// Prune removes chunk rows for fingerprints that are not the
	// projection's current pointer and were last written before cutoff.
	// The current fingerprint's chunks are never pruned.
	Prune(ctx context.Context, projection string, cutoff time.Time) (int, error)
}

// TableStore implements Store over the WideTable capability, using the
// chunked-current layout with a legacy single-row fallback on Load (§4.K).
type TableStore struct {
	table widetable.Table
	codec payloadcodec.Options
	log   *common.ContextLogger
}

// NewTableStore returns a Store backed by table.
func NewTableStore(table widetable.Table, codec payloadcodec.Options) *TableStore {
	return &TableStore{
		table: table,
		codec: codec,
		log:   common.NewContextLogger(common.Logger, map[string]interface{}{"component": "checkpoint.TableStore"}),
	}
}

func pointerRowKey(projection string) string {
	return projection + "_current"
}

func chunkRowKey(fingerprint string, index int) string {
	return fmt.Sprintf("%s_%d", fingerprint, index)
}

func legacyRowKey(projection string) string {
	return projection
}

// Fingerprint derives the content-addressable fingerprint a checkpoint's
// chunks are grouped under, using blake2b to keep this digest space
// distinct from the SHA-256 content hash the document store chains on.
func Fingerprint(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])[:32]
}

// Save compresses and splits data, upserts every chunk row under the
// fingerprint (idempotent: re-saving identical content re-upserts the
// same rows), then upserts the pointer row. Historical chunks from
// earlier fingerprints are left in place; call Prune to reclaim them.
func (s *TableStore) Save(ctx context.Context, projection string, data []byte) error {
	if err := s.table.EnsureTable(ctx); err != nil {
		return err
	}
	fingerprint := Fingerprint(data)
	encoded, err := payloadcodec.Encode(data, s.codec)
	if err != nil {
		return err
	}

	savedAt := s.now()
	for i, chunk := range encoded.Chunks {
		row := widetable.Row{
			PartitionKey: partitionKey,
			RowKey:       chunkRowKey(fingerprint, i),
			Columns: map[string]interface{}{
				"projection":  projection,
				"fingerprint": fingerprint,
				"index":       i,
				"total":       encoded.TotalChunks(),
				"compressed":  encoded.Compressed,
				"data":        chunk,
				"savedAt":     savedAt,
			},
		}
		if _, err := s.table.Upsert(ctx, row, precondition.Unconditional()); err != nil {
			return err
		}
	}

	pointer := Pointer{Fingerprint: fingerprint, LastUpdated: s.now(), Status: "current"}
	pointerRow := widetable.Row{
		PartitionKey: partitionKey,
		RowKey:       pointerRowKey(projection),
		Columns: map[string]interface{}{
			"projection":  projection,
			"fingerprint": pointer.Fingerprint,
			"lastUpdated": pointer.LastUpdated,
			"status":      pointer.Status,
		},
	}
	_, err = s.table.Upsert(ctx, pointerRow, precondition.Unconditional())
	return err
}

func (s *TableStore) now() time.Time {
	return time.Now().UTC()
}

// Load reads the pointer row, then reassembles its fingerprint's chunks.
// If the pointer is absent it falls back to the legacy single-row
// layout. A projection with no checkpoint at all returns ok=false.
func (s *TableStore) Load(ctx context.Context, projection string) ([]byte, bool, error) {
	pointerRow, err := s.table.Get(ctx, partitionKey, pointerRowKey(projection))
	if err != nil {
		if errs.Is(err, errs.NotFound) || errs.Is(err, errs.TableNotFound) {
			return s.loadLegacy(ctx, projection)
		}
		return nil, false, err
	}
	fingerprint, _ := pointerRow.Columns["fingerprint"].(string)
	return s.LoadFromFingerprint(ctx, projection, fingerprint)
}

// LoadFromFingerprint reassembles the checkpoint stored under a specific
// fingerprint, bypassing the pointer row. Used for historical reads.
func (s *TableStore) LoadFromFingerprint(ctx context.Context, projection, fingerprint string) ([]byte, bool, error) {
	var chunks [][]byte
	compressed := false
	token := ""
	seen := 0
	for {
		page, err := s.table.Query(ctx, partitionKey, fingerprint+"_", fingerprint+"_~", 1000, token)
		if err != nil {
			if errs.Is(err, errs.TableNotFound) {
				return nil, false, nil
			}
			return nil, false, err
		}
		for _, row := range page.Rows {
			idx, _ := toInt(row.Columns["index"])
			for len(chunks) <= idx {
				chunks = append(chunks, nil)
			}
			data, _ := row.Columns["data"].([]byte)
			chunks[idx] = data
			if c, ok := row.Columns["compressed"].(bool); ok {
				compressed = c
			}
			seen++
		}
		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}
	if seen == 0 {
		return nil, false, nil
	}
	data, err := payloadcodec.Decode(chunks, compressed)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *TableStore) loadLegacy(ctx context.Context, projection string) ([]byte, bool, error) {
	row, err := s.table.Get(ctx, projection, legacyRowKey(projection))
	if err != nil {
		if errs.Is(err, errs.NotFound) || errs.Is(err, errs.TableNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if text, ok := row.Columns["checkpointJson"].(string); ok && text != "" {
		return []byte(text), true, nil
	}
	if raw, ok := row.Columns["checkpointData"].([]byte); ok && len(raw) > 0 {
		data, err := payloadcodec.Decompress(raw)
		if err != nil {
			return nil, false, err
		}
		return data, true, nil
	}
	return nil, false, errs.New(errs.CorruptPayload, "legacy checkpoint row has neither checkpointJson nor checkpointData")
}

// DeleteAll enumerates the pointer and every fingerprint's chunk rows for
// the projection and removes them.
func (s *TableStore) DeleteAll(ctx context.Context, projection string) error {
	seenFingerprints, err := s.allFingerprints(ctx, projection)
	if err != nil {
		return err
	}
	for fp := range seenFingerprints {
		if err := s.deleteChunks(ctx, fp); err != nil {
			return err
		}
	}
	if err := s.table.Delete(ctx, partitionKey, pointerRowKey(projection), precondition.Unconditional()); err != nil {
		if !errs.Is(err, errs.NotFound) {
			return err
		}
	}
	if err := s.table.Delete(ctx, projection, legacyRowKey(projection), precondition.Unconditional()); err != nil {
		if !errs.Is(err, errs.NotFound) && !errs.Is(err, errs.TableNotFound) {
			return err
		}
	}
	return nil
}

// Prune deletes chunk rows belonging to fingerprints other than the
// projection's current one whose rows were last written before cutoff.
func (s *TableStore) Prune(ctx context.Context, projection string, cutoff time.Time) (int, error) {
	pointerRow, err := s.table.Get(ctx, partitionKey, pointerRowKey(projection))
	current := ""
	if err == nil {
		current, _ = pointerRow.Columns["fingerprint"].(string)
	} else if !errs.Is(err, errs.NotFound) && !errs.Is(err, errs.TableNotFound) {
		return 0, err
	}

	fingerprints, err := s.allFingerprints(ctx, projection)
	if err != nil {
		return 0, err
	}
	pruned := 0
	for fp, lastWritten := range fingerprints {
		if fp == current {
			continue
		}
		if lastWritten.After(cutoff) {
			continue
		}
		if err := s.deleteChunks(ctx, fp); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}

// allFingerprints scans every chunk row for projection's pointer history
// and returns each distinct fingerprint mapped to its newest chunk's
// write time, as tracked in the row's own savedAt column.
func (s *TableStore) allFingerprints(ctx context.Context, projection string) (map[string]time.Time, error) {
	result := make(map[string]time.Time)
	token := ""
	for {
		page, err := s.table.Query(ctx, partitionKey, "", "", 1000, token)
		if err != nil {
			if errs.Is(err, errs.TableNotFound) {
				return result, nil
			}
			return nil, err
		}
		for _, row := range page.Rows {
			rowProjection, _ := row.Columns["projection"].(string)
			if rowProjection != projection {
				continue
			}
			if _, isChunk := row.Columns["index"]; !isChunk {
				continue // pointer row, not a chunk
			}
			fp, ok := row.Columns["fingerprint"].(string)
			if !ok || fp == "" {
				continue
			}
			savedAt, _ := row.Columns["savedAt"].(time.Time)
			if savedAt.After(result[fp]) {
				result[fp] = savedAt
			}
		}
		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}
	return result, nil
}

func (s *TableStore) deleteChunks(ctx context.Context, fingerprint string) error {
	token := ""
	for {
		page, err := s.table.Query(ctx, partitionKey, fingerprint+"_", fingerprint+"_~", 1000, token)
		if err != nil {
			if errs.Is(err, errs.TableNotFound) {
				return nil
			}
			return err
		}
		for _, row := range page.Rows {
			if err := s.table.Delete(ctx, partitionKey, row.RowKey, precondition.Unconditional()); err != nil {
				if !errs.Is(err, errs.NotFound) {
					return err
				}
			}
		}
		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}
	return nil
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

var _ Store = (*TableStore)(nil)
