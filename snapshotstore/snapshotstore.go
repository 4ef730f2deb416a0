// Package snapshotstore implements the versioned aggregate snapshot
// store (§4.H): upsert by (stream, version, name), point lookup,
// per-stream listing sorted by version descending, and deletion.
package snapshotstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"evtcore.dev/common"
	"evtcore.dev/errs"
	"evtcore.dev/kvblob"
	"evtcore.dev/precondition"
)

// Snapshot is a versioned aggregate snapshot, addressed by
// (streamId, version[, name]).
type Snapshot struct {
	StreamID      string          `json:"streamId"`
	Version       int             `json:"version"`
	Name          string          `json:"name,omitempty"`
	AggregateType string          `json:"aggregateType"`
	Data          json.RawMessage `json:"data"`
	CreatedTs     time.Time       `json:"createdTs"`
}

// Store is the snapshot-store public contract (§4.H).
type Store interface {
	Set(ctx context.Context, snap Snapshot) error
	Get(ctx context.Context, streamID string, version int, name string) (Snapshot, bool, error)
	List(ctx context.Context, streamID string) ([]Snapshot, error)
	Delete(ctx context.Context, streamID string, version int, name string) (bool, error)
}

// BlobStore implements Store over the KvBlob capability at
// `{container}/snapshot/{streamId}-{version:20}[_name].json` (§4.H / §6).
type BlobStore struct {
	blob      kvblob.Blob
	container string
	log       *common.ContextLogger
}

// NewBlobStore returns a Store backed by blob.
func NewBlobStore(blob kvblob.Blob, container string) *BlobStore {
	return &BlobStore{
		blob:      blob,
		container: container,
		log:       common.NewContextLogger(common.Logger, map[string]interface{}{"component": "snapshotstore.BlobStore"}),
	}
}

func snapshotPath(streamID string, version int, name string) string {
	if name == "" {
		return fmt.Sprintf("snapshot/%s-%020d.json", streamID, version)
	}
	return fmt.Sprintf("snapshot/%s-%020d_%s.json", streamID, version, name)
}

// snapshotPrefix returns the common prefix every snapshot object for
// streamID shares, for List's enumeration.
func snapshotPrefix(streamID string) string {
	return fmt.Sprintf("snapshot/%s-", streamID)
}

// Set is an unconditional upsert (§4.H).
func (s *BlobStore) Set(ctx context.Context, snap Snapshot) error {
	if err := s.blob.EnsureContainer(ctx); err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, err, "marshaling snapshot")
	}
	path := snapshotPath(snap.StreamID, snap.Version, snap.Name)
	_, err = s.blob.Write(ctx, path, data, precondition.Unconditional())
	return err
}

// Get returns ok=false, not an error, when the snapshot is absent
// (§4.H "Get returns None on 404").
func (s *BlobStore) Get(ctx context.Context, streamID string, version int, name string) (Snapshot, bool, error) {
	data, err := s.blob.Read(ctx, snapshotPath(streamID, version, name))
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, errs.Wrap(errs.CorruptPayload, err, "decoding snapshot")
	}
	return snap, true, nil
}

// List returns every snapshot for streamID, sorted by version descending
// (§4.H).
func (s *BlobStore) List(ctx context.Context, streamID string) ([]Snapshot, error) {
	var snapshots []Snapshot
	token := ""
	prefix := snapshotPrefix(streamID)
	for {
		page, err := s.blob.List(ctx, prefix, token, 1000)
		if err != nil {
			if errs.Is(err, errs.ContainerNotFound) {
				return nil, nil
			}
			return nil, err
		}
		for _, path := range page.Items {
			data, err := s.blob.Read(ctx, path)
			if err != nil {
				if errs.Is(err, errs.NotFound) {
					continue
				}
				return nil, err
			}
			var snap Snapshot
			if err := json.Unmarshal(data, &snap); err != nil {
				return nil, errs.Wrap(errs.CorruptPayload, err, "decoding snapshot")
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

// Delete returns true iff a blob existed and was removed (§4.H).
func (s *BlobStore) Delete(ctx context.Context, streamID string, version int, name string) (bool, error) {
	path := snapshotPath(streamID, version, name)
	if _, err := s.blob.GetProperties(ctx, path); err != nil {
		if errs.Is(err, errs.NotFound) {
			return false, nil
		}
		return false, err
	}
	if err := s.blob.Delete(ctx, path, precondition.Unconditional()); err != nil {
		if errs.Is(err, errs.NotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

var _ Store = (*BlobStore)(nil)
