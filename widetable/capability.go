// Package widetable implements the WideTable capability surface (§6):
// partition/row-keyed rows with get/query/upsert/delete and an atomic,
// single-partition batch transaction, the substrate the table-oriented
// event store, document store, snapshot store, checkpoint store, and
// projection-status coordinator all build on.
package widetable

import (
	"context"

	"evtcore.dev/precondition"
)

// Row is one entity: a partition/row key pair, an opaque version token
// used as this substrate's ETag, and a flexible column bag. Columns are
// the per-component payload (event fields, document fields, checkpoint
// chunk bytes, ...); this package never interprets their contents.
type Row struct {
	PartitionKey string
	RowKey       string
	ETag         string
	Columns      map[string]interface{}
}

// QueryPage is one page of a range Query.
type QueryPage struct {
	Rows      []Row
	NextToken string
}

// BatchOpKind discriminates the three operations SubmitBatch accepts.
type BatchOpKind int

const (
	BatchInsert BatchOpKind = iota
	BatchReplace
	BatchDelete
)

// BatchOp is one action inside an atomic SubmitBatch call.
type BatchOp struct {
	Kind BatchOpKind
	Row  Row
	Cond precondition.Precondition
}

// Table is the WideTable capability this module depends on (§6). All
// operations within a single SubmitBatch call must share one
// PartitionKey and the batch commits atomically (≤100 ops, §4.G).
type Table interface {
	// Get returns the row at (pk, rk), or NotFound.
	Get(ctx context.Context, partitionKey, rowKey string) (Row, error)

	// Query range-scans a partition for rowKey in [fromRowKey, toRowKey]
	// (inclusive; empty bounds are open-ended), paginated via the
	// substrate's native continuation token.
	Query(ctx context.Context, partitionKey, fromRowKey, toRowKey string, pageSize int, token string) (QueryPage, error)

	// SubmitBatch atomically applies ops, which must all share one
	// PartitionKey and number at most 100. A failed precondition on any
	// op aborts the whole batch with ConcurrencyConflict.
	SubmitBatch(ctx context.Context, ops []BatchOp) error

	// Upsert writes row under cond, returning the new ETag.
	Upsert(ctx context.Context, row Row, cond precondition.Precondition) (string, error)

	// Delete removes the row at (pk, rk) under cond.
	Delete(ctx context.Context, partitionKey, rowKey string, cond precondition.Precondition) error

	// EnsureTable creates the backing table if absent, consulting and
	// updating the store's own verified-table set (§5) the same way
	// KvBlob.EnsureContainer does; the set is kept per store instance.
	EnsureTable(ctx context.Context) error

	// Healthy performs a minimal round-trip to confirm the substrate is
	// reachable.
	Healthy(ctx context.Context) error
}
