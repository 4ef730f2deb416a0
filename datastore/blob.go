package datastore

import (
	"context"

	"evtcore.dev/common"
	"evtcore.dev/document"
	"evtcore.dev/errs"
	"evtcore.dev/eventmodel"
	"evtcore.dev/internal/clock"
	"evtcore.dev/kvblob"
	"evtcore.dev/precondition"
)

// BlobDataStore implements DataStore over the KvBlob capability: one
// JSON container object per logical stream/chunk (§4.G blob append
// protocol).
type BlobDataStore struct {
	blob      kvblob.Blob
	container string
	clock     clock.Clock
	log       *common.ContextLogger
}

// NewBlobDataStore returns a DataStore backed by blob.
func NewBlobDataStore(blob kvblob.Blob, container string, clk clock.Clock) *BlobDataStore {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &BlobDataStore{
		blob:      blob,
		container: container,
		clock:     clk,
		log:       common.NewContextLogger(common.Logger, map[string]interface{}{"component": "datastore.BlobDataStore"}),
	}
}

func validateAppendArgs(doc document.Document, events []eventmodel.Event) error {
	if len(events) == 0 {
		return errs.New(errs.InvalidArgument, "events must not be empty")
	}
	if doc.Active.StreamID == "" {
		return errs.New(errs.InvalidArgument, "document active streamId must be set")
	}
	return nil
}

func (s *BlobDataStore) stampTimestamps(events []eventmodel.Event, preserveTs bool) []eventmodel.Event {
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

func (s *BlobDataStore) objectPath(doc document.Document) string {
	chunk := doc.Active.ActiveChunk()
	return BlobObjectName(doc.Active.StreamID, doc.Active.ChunkingEnabled, chunk.ChunkID)
}

func (s *BlobDataStore) Append(ctx context.Context, doc document.Document, preserveTs bool, events []eventmodel.Event) error {
	if err := validateAppendArgs(doc, events); err != nil {
		return err
	}
	events = s.stampTimestamps(events, preserveTs)
	path := s.objectPath(doc)

	props, err := s.blob.GetProperties(ctx, path)
	if err != nil {
		if errs.Is(err, errs.ContainerNotFound) {
			return err
		}
		if !errs.Is(err, errs.NotFound) {
			return err
		}
		hash := doc.Hash
		if hash == "" {
			hash = eventmodel.UnresolvedHash
		}
		container := eventmodel.BlobContainer{
			ObjectID:               doc.ObjectID,
			ObjectName:             doc.ObjectName,
			LastObjectDocumentHash: hash,
			Events:                 events,
		}
		data, merr := eventmodel.MarshalBlobContainer(container)
		if merr != nil {
			return merr
		}
		_, werr := s.blob.Write(ctx, path, data, precondition.IfAbsent())
		return werr
	}

	data, rerr := s.blob.Read(ctx, path)
	if rerr != nil {
		return rerr
	}
	stored, perr := eventmodel.UnmarshalBlobContainer(data)
	if perr != nil {
		return perr
	}

	if tail, ok := stored.Tail(); ok && tail.IsStreamClosed() {
		return errs.New(errs.StreamClosed, "stream tail is EventStream.Closed")
	}

	expected := doc.PrevHash
	if stored.LastObjectDocumentHash != eventmodel.UnresolvedHash && stored.LastObjectDocumentHash != expected {
		return errs.New(errs.ConcurrencyConflict, "stored lastObjectDocumentHash does not match document prevHash")
	}

	stored.Events = append(stored.Events, events...)
	newHash := doc.Hash
	if newHash == "" {
		newHash = eventmodel.UnresolvedHash
	}
	stored.LastObjectDocumentHash = newHash

	out, merr := eventmodel.MarshalBlobContainer(stored)
	if merr != nil {
		return merr
	}
	_, werr := s.blob.Write(ctx, path, out, precondition.IfMatch(props.ETag))
	return werr
}

func (s *BlobDataStore) Read(ctx context.Context, doc document.Document, startVersion, untilVersion int) ([]eventmodel.Event, error) {
	path := s.objectPath(doc)
	data, err := s.blob.Read(ctx, path)
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			return nil, nil
		}
		return nil, err
	}
	container, perr := eventmodel.UnmarshalBlobContainer(data)
	if perr != nil {
		return nil, perr
	}
	var out []eventmodel.Event
	for _, e := range container.Events {
		if inRange(e.EventVersion, startVersion, untilVersion) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *BlobDataStore) ReadStream(ctx context.Context, doc document.Document, startVersion, untilVersion int) (EventSequence, error) {
	events, err := s.Read(ctx, doc, startVersion, untilVersion)
	if err != nil {
		return nil, err
	}
	return &sliceSequence{events: events}, nil
}

// RemoveEventsForFailedCommit loads the container conditionally, filters
// out [fromVersion, toVersion], and rewrites conditionally. A missing
// object is treated as already-absent (§4.G), returning 0.
func (s *BlobDataStore) RemoveEventsForFailedCommit(ctx context.Context, doc document.Document, fromVersion, toVersion int) (int, error) {
	path := s.objectPath(doc)
	props, err := s.blob.GetProperties(ctx, path)
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			return 0, nil
		}
		return 0, err
	}
	data, rerr := s.blob.Read(ctx, path)
	if rerr != nil {
		if errs.Is(rerr, errs.NotFound) {
			return 0, nil
		}
		return 0, rerr
	}
	container, perr := eventmodel.UnmarshalBlobContainer(data)
	if perr != nil {
		return 0, perr
	}

	var kept []eventmodel.Event
	removed := 0
	for _, e := range container.Events {
		if e.EventVersion >= fromVersion && e.EventVersion <= toVersion {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	if removed == 0 {
		return 0, nil
	}
	container.Events = kept

	out, merr := eventmodel.MarshalBlobContainer(container)
	if merr != nil {
		return 0, merr
	}
	if _, werr := s.blob.Write(ctx, path, out, precondition.IfMatch(props.ETag)); werr != nil {
		return 0, werr
	}
	return removed, nil
}

var _ DataStore = (*BlobDataStore)(nil)
