package snapshotstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"evtcore.dev/common"
	"evtcore.dev/errs"
	"evtcore.dev/precondition"
	"evtcore.dev/widetable"
)

// TableStore implements Store over the WideTable capability:
// `partitionKey={name_lc}_{streamId}`, `rowKey={version:20}[_name]`
// (§6 "Projection checkpoint rows" sibling layout for snapshots).
type TableStore struct {
	table widetable.Table
	name  string
	log   *common.ContextLogger
}

// NewTableStore returns a Store backed by table, scoped to aggregateType
// name (used as the partition-key prefix).
func NewTableStore(table widetable.Table, name string) *TableStore {
	return &TableStore{
		table: table,
		name:  strings.ToLower(name),
		log:   common.NewContextLogger(common.Logger, map[string]interface{}{"component": "snapshotstore.TableStore"}),
	}
}

func (s *TableStore) partitionKey(streamID string) string {
	return s.name + "_" + streamID
}

func snapshotRowKey(version int, name string) string {
	if name == "" {
		return fmt.Sprintf("%020d", version)
	}
	return fmt.Sprintf("%020d_%s", version, name)
}

func (s *TableStore) Set(ctx context.Context, snap Snapshot) error {
	if err := s.table.EnsureTable(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, err, "marshaling snapshot")
	}
	row := widetable.Row{
		PartitionKey: s.partitionKey(snap.StreamID),
		RowKey:       snapshotRowKey(snap.Version, snap.Name),
		Columns:      map[string]interface{}{"body": string(body)},
	}
	_, err = s.table.Upsert(ctx, row, precondition.Unconditional())
	return err
}

func (s *TableStore) Get(ctx context.Context, streamID string, version int, name string) (Snapshot, bool, error) {
	row, err := s.table.Get(ctx, s.partitionKey(streamID), snapshotRowKey(version, name))
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, err
	}
	snap, err := decodeSnapshotRow(row)
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

func (s *TableStore) List(ctx context.Context, streamID string) ([]Snapshot, error) {
	var snapshots []Snapshot
	token := ""
	partitionKey := s.partitionKey(streamID)
	for {
		page, err := s.table.Query(ctx, partitionKey, "", "", 1000, token)
		if err != nil {
			if errs.Is(err, errs.TableNotFound) {
				return nil, nil
			}
			return nil, err
		}
		for _, row := range page.Rows {
			snap, err := decodeSnapshotRow(row)
			if err != nil {
				return nil, err
			}
			snapshots = append(snapshots, snap)
		}
		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Version > snapshots[j].Version })
	return snapshots, nil
}

func (s *TableStore) Delete(ctx context.Context, streamID string, version int, name string) (bool, error) {
	partitionKey := s.partitionKey(streamID)
	rowKey := snapshotRowKey(version, name)
	if _, err := s.table.Get(ctx, partitionKey, rowKey); err != nil {
		if errs.Is(err, errs.NotFound) {
			return false, nil
		}
		return false, err
	}
	if err := s.table.Delete(ctx, partitionKey, rowKey, precondition.Unconditional()); err != nil {
		if errs.Is(err, errs.NotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func decodeSnapshotRow(row widetable.Row) (Snapshot, error) {
	raw, _ := row.Columns["body"].(string)
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return Snapshot{}, errs.Wrap(errs.CorruptPayload, err, "decoding snapshot row")
	}
	return snap, nil
}

var _ Store = (*TableStore)(nil)
