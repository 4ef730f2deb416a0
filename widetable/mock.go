package widetable

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"evtcore.dev/errs"
	"evtcore.dev/precondition"
)

type mockRow struct {
	version int64
	columns map[string]interface{}
}

// Mock is an in-memory Table for unit tests, in the style of
// kvblob.Mock and the teacher's storage.MockS3Client call-tracking.
type Mock struct {
	mu sync.Mutex

	rows map[string]map[string]mockRow

	Err error

	GetCalled         bool
	QueryCalled       bool
	UpsertCalled      bool
	DeleteCalled      bool
	SubmitBatchCalled bool

	LastPartitionKey string
}

// NewMock returns an empty Mock.
func NewMock() *Mock {
	return &Mock{rows: make(map[string]map[string]mockRow)}
}

func (m *Mock) partition(partitionKey string, create bool) map[string]mockRow {
	p, ok := m.rows[partitionKey]
	if !ok && create {
		p = make(map[string]mockRow)
		m.rows[partitionKey] = p
	}
	return p
}

func (m *Mock) Get(_ context.Context, partitionKey, rowKey string) (Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetCalled = true
	m.LastPartitionKey = partitionKey
	if m.Err != nil {
		return Row{}, m.Err
	}
	p := m.partition(partitionKey, false)
	r, ok := p[rowKey]
	if !ok {
		return Row{}, errs.Newf(errs.NotFound, "row %s/%s", partitionKey, rowKey)
	}
	return Row{PartitionKey: partitionKey, RowKey: rowKey, ETag: strconv.FormatInt(r.version, 10), Columns: r.columns}, nil
}

func (m *Mock) Query(_ context.Context, partitionKey, fromRowKey, toRowKey string, pageSize int, token string) (QueryPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QueryCalled = true
	m.LastPartitionKey = partitionKey
	if m.Err != nil {
		return QueryPage{}, m.Err
	}
	p := m.partition(partitionKey, false)
	var keys []string
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := fromRowKey
	exclusive := false
	if token != "" {
		start = token
		exclusive = true
	}

	limit := pageSize
	if limit <= 0 {
		limit = 1000
	}

	var page QueryPage
	for i, k := range keys {
		if start != "" && k < start {
			continue
		}
		if exclusive && k == start {
			continue
		}
		if toRowKey != "" && k > toRowKey {
			break
		}
		r := p[k]
		page.Rows = append(page.Rows, Row{PartitionKey: partitionKey, RowKey: k, ETag: strconv.FormatInt(r.version, 10), Columns: r.columns})
		if len(page.Rows) == limit {
			if i+1 < len(keys) && (toRowKey == "" || keys[i+1] <= toRowKey) {
				page.NextToken = k
			}
			break
		}
	}
	return page, nil
}

func (m *Mock) Upsert(_ context.Context, row Row, cond precondition.Precondition) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertCalled = true
	m.LastPartitionKey = row.PartitionKey
	if m.Err != nil {
		return "", m.Err
	}
	p := m.partition(row.PartitionKey, true)
	existing, exists := p[row.RowKey]

	switch cond.Kind() {
	case precondition.CreateOnly:
		if exists {
			return "", errs.Newf(errs.ConcurrencyConflict, "row %s/%s already exists", row.PartitionKey, row.RowKey)
		}
	case precondition.MatchVersion:
		wantVersion, err := strconv.ParseInt(cond.Version(), 10, 64)
		if err != nil {
			return "", errs.Wrap(errs.InvalidArgument, err, "parsing precondition version")
		}
		if !exists || existing.version != wantVersion {
			return "", errs.Newf(errs.ConcurrencyConflict, "version mismatch for %s/%s", row.PartitionKey, row.RowKey)
		}
	}

	newVersion := existing.version + 1
	p[row.RowKey] = mockRow{version: newVersion, columns: row.Columns}
	return strconv.FormatInt(newVersion, 10), nil
}

func (m *Mock) Delete(_ context.Context, partitionKey, rowKey string, cond precondition.Precondition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalled = true
	m.LastPartitionKey = partitionKey
	if m.Err != nil {
		return m.Err
	}
	p := m.partition(partitionKey, false)
	existing, exists := p[rowKey]
	if !exists {
		return errs.Newf(errs.NotFound, "row %s/%s", partitionKey, rowKey)
	}
	if cond.Kind() == precondition.MatchVersion {
		wantVersion, err := strconv.ParseInt(cond.Version(), 10, 64)
		if err != nil {
			return errs.Wrap(errs.InvalidArgument, err, "parsing precondition version")
		}
		if existing.version != wantVersion {
			return errs.Newf(errs.ConcurrencyConflict, "version mismatch deleting %s/%s", partitionKey, rowKey)
		}
	}
	delete(p, rowKey)
	return nil
}

func (m *Mock) SubmitBatch(_ context.Context, ops []BatchOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SubmitBatchCalled = true
	if m.Err != nil {
		return m.Err
	}
	if len(ops) == 0 {
		return nil
	}
	if len(ops) > 100 {
		return errs.Newf(errs.InvalidArgument, "batch of %d ops exceeds the 100-op limit", len(ops))
	}
	partitionKey := ops[0].Row.PartitionKey
	for _, op := range ops {
		if op.Row.PartitionKey != partitionKey {
			return errs.New(errs.InvalidArgument, "batch ops must share one partition key")
		}
	}

	p := m.partition(partitionKey, true)
	for _, op := range ops {
		existing, exists := p[op.Row.RowKey]
		switch op.Kind {
		case BatchInsert:
			if exists {
				return errs.Newf(errs.ConcurrencyConflict, "batch insert conflict on %s/%s", op.Row.PartitionKey, op.Row.RowKey)
			}
			p[op.Row.RowKey] = mockRow{version: 1, columns: op.Row.Columns}

		case BatchReplace:
			if op.Cond.Kind() == precondition.MatchVersion {
				wantVersion, err := strconv.ParseInt(op.Cond.Version(), 10, 64)
				if err != nil {
					return errs.Wrap(errs.InvalidArgument, err, "parsing precondition version")
				}
				if !exists || existing.version != wantVersion {
					return errs.Newf(errs.ConcurrencyConflict, "batch version mismatch on %s/%s", op.Row.PartitionKey, op.Row.RowKey)
				}
			}
			p[op.Row.RowKey] = mockRow{version: existing.version + 1, columns: op.Row.Columns}

		case BatchDelete:
			if !exists {
				return errs.Newf(errs.ConcurrencyConflict, "batch delete conflict on %s/%s", op.Row.PartitionKey, op.Row.RowKey)
			}
			if op.Cond.Kind() == precondition.MatchVersion {
				wantVersion, err := strconv.ParseInt(op.Cond.Version(), 10, 64)
				if err != nil {
					return errs.Wrap(errs.InvalidArgument, err, "parsing precondition version")
				}
				if existing.version != wantVersion {
					return errs.Newf(errs.ConcurrencyConflict, "batch version mismatch deleting %s/%s", op.Row.PartitionKey, op.Row.RowKey)
				}
			}
			delete(p, op.Row.RowKey)

		default:
			return errs.Newf(errs.InvalidArgument, "unknown batch op kind %d", op.Kind)
		}
	}
	return nil
}

func (m *Mock) EnsureTable(_ context.Context) error {
	return m.Err
}

func (m *Mock) Healthy(_ context.Context) error {
	return m.Err
}

var _ Table = (*Mock)(nil)
