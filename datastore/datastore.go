package datastore

import (
	"context"

	"evtcore.dev/document"
	"evtcore.dev/errs"
	"evtcore.dev/eventmodel"
)

// DataStore is the event stream data plane this module persists against
// a single substrate (§4.G). Both the blob and table implementations
// satisfy it identically from the caller's perspective; only the wire
// shape differs.
type DataStore interface {
	// Append validates and writes events to doc's active stream,
	// starting at doc.Active.CurrentVersion+1. Timestamps are set to now
	// unless preserveTs is true.
	Append(ctx context.Context, doc document.Document, preserveTs bool, events []eventmodel.Event) error

	// Read returns committed events with eventVersion in
	// [startVersion, untilVersion] inclusive; untilVersion < 0 means
	// unbounded.
	Read(ctx context.Context, doc document.Document, startVersion, untilVersion int) ([]eventmodel.Event, error)

	// ReadStream returns a single-pass, cancellation-aware EventSequence
	// over the same range as Read.
	ReadStream(ctx context.Context, doc document.Document, startVersion, untilVersion int) (EventSequence, error)

	// RemoveEventsForFailedCommit deletes events in [fromVersion,
	// toVersion] from doc's active chunk after a downstream failure.
	// Idempotent; a fully absent range returns 0, not an error.
	RemoveEventsForFailedCommit(ctx context.Context, doc document.Document, fromVersion, toVersion int) (int, error)
}

// EventSequence is a lazy, single-pass, cancellation-aware sequence of
// events, per §9 "Streaming reads".
type EventSequence interface {
	// Next returns the next event, or ok=false when the sequence is
	// exhausted or ctx was cancelled.
	Next(ctx context.Context) (eventmodel.Event, bool, error)
}

// sliceSequence adapts an already-materialized slice to EventSequence,
// used by the blob implementation which buffers its single object fetch
// then yields per event (§9).
type sliceSequence struct {
	events []eventmodel.Event
	pos    int
}

func (s *sliceSequence) Next(ctx context.Context) (eventmodel.Event, bool, error) {
	if err := ctx.Err(); err != nil {
		return eventmodel.Event{}, false, nil
	}
	if s.pos >= len(s.events) {
		return eventmodel.Event{}, false, nil
	}
	e := s.events[s.pos]
	s.pos++
	return e, true, nil
}

// UnboundedVersion is passed as untilVersion to mean "no upper bound".
const UnboundedVersion = -1

func inRange(version, start, until int) bool {
	if version < start {
		return false
	}
	if until != UnboundedVersion && version > until {
		return false
	}
	return true
}

// Router resolves a stream's configured data-store name (§9 "modern
// first, then legacy fallback" routing) to a concrete DataStore.
type Router struct {
	stores map[string]DataStore
}

// NewRouter builds a Router over the named substrates a deployment
// configures.
func NewRouter(stores map[string]DataStore) *Router {
	return &Router{stores: stores}
}

// Resolve returns the DataStore doc.Active routes to, preferring the
// modern DataStore field and falling back to the legacy ConnectionName
// (§9 "Deprecated routing fallback").
func (r *Router) Resolve(doc document.Document) (DataStore, error) {
	name := doc.Active.Stores.Resolve(doc.Active.Stores.DataStore)
	store, ok := r.stores[name]
	if !ok {
		return nil, errs.Newf(errs.InvalidArgument, "no data store configured for %q", name)
	}
	return store, nil
}
