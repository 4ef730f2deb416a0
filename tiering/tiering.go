// Package tiering implements the cold-tier / rehydrate / stream-metrics
// collaborator (§2 component M): a thin wrapper over the KvBlob
// capability's SetTier hook plus read-only metrics derived from the
// stores that already track a stream's shape, supplemented per the
// original system's tiering/metadata providers.
package tiering

import (
	"context"

	"evtcore.dev/common"
	"evtcore.dev/document"
	"evtcore.dev/errs"
	"evtcore.dev/kvblob"
)

// Tiers are the cold-storage classes SetTier understands; the substrate
// adapter maps these onto its own vocabulary (e.g. S3 Glacier classes).
const (
	TierHot     = "hot"
	TierCool    = "cool"
	TierArchive = "archive"
)

// Metrics summarizes a stream's shape for capacity planning and tiering
// decisions.
type Metrics struct {
	StreamID       string
	CurrentVersion int
	ChunkCount     int
	ChunkingOn     bool
}

// Provider is the tiering public contract (§2.M).
type Provider interface {
	SetTier(ctx context.Context, objectName, objectID, tier string, highPriority bool) error
	Rehydrate(ctx context.Context, objectName, objectID string) error
	StreamMetrics(ctx context.Context, doc document.Document) Metrics
}

// BlobProvider implements Provider over the KvBlob capability. SetTier
// and Rehydrate act on the single object at `{objectName}/{objectID}.json`;
// the stream's event chunks are not tiered.
type BlobProvider struct {
	blob kvblob.Blob
	log  *common.ContextLogger
}

// NewBlobProvider returns a Provider backed by blob.
func NewBlobProvider(blob kvblob.Blob) *BlobProvider {
	return &BlobProvider{
		blob: blob,
		log:  common.NewContextLogger(common.Logger, map[string]interface{}{"component": "tiering.BlobProvider"}),
	}
}

func objectPath(objectName, objectID string) string {
	return objectName + "/" + objectID + ".json"
}

// SetTier requests the substrate move the object to tier. highPriority
// requests expedited tiering where the substrate supports it (§6).
func (p *BlobProvider) SetTier(ctx context.Context, objectName, objectID, tier string, highPriority bool) error {
	return p.blob.SetTier(ctx, objectPath(objectName, objectID), tier, highPriority)
}

// Rehydrate is SetTier back to hot, expedited.
func (p *BlobProvider) Rehydrate(ctx context.Context, objectName, objectID string) error {
	return p.SetTier(ctx, objectName, objectID, TierHot, true)
}

// StreamMetrics reports the current document's shape. It never touches
// the substrate: everything it reports already lives on the document
// loaded by the caller.
func (p *BlobProvider) StreamMetrics(ctx context.Context, doc document.Document) Metrics {
	return Metrics{
		StreamID:       doc.Active.StreamID,
		CurrentVersion: doc.Active.CurrentVersion,
		ChunkCount:     len(doc.Active.Chunks),
		ChunkingOn:     doc.Active.ChunkingEnabled,
	}
}

var _ Provider = (*BlobProvider)(nil)

// TableProvider implements Provider's read side for a table-backed
// datastore; table substrates have no notion of storage tiers, so
// SetTier/Rehydrate report InvalidArgument rather than silently no-op,
// matching §7's "surface a typed error rather than pretend to succeed"
// posture.
type TableProvider struct {
	log *common.ContextLogger
}

// NewTableProvider returns a Provider over the WideTable capability,
// which has no tiering hook.
func NewTableProvider() *TableProvider {
	return &TableProvider{
		log: common.NewContextLogger(common.Logger, map[string]interface{}{"component": "tiering.TableProvider"}),
	}
}

func (p *TableProvider) SetTier(ctx context.Context, objectName, objectID, tier string, highPriority bool) error {
	return errs.New(errs.InvalidArgument, "the table substrate has no storage-tier concept")
}

func (p *TableProvider) Rehydrate(ctx context.Context, objectName, objectID string) error {
	return errs.New(errs.InvalidArgument, "the table substrate has no storage-tier concept")
}

func (p *TableProvider) StreamMetrics(ctx context.Context, doc document.Document) Metrics {
	return Metrics{
		StreamID:       doc.Active.StreamID,
		CurrentVersion: doc.Active.CurrentVersion,
		ChunkCount:     len(doc.Active.Chunks),
		ChunkingOn:     doc.Active.ChunkingEnabled,
	}
}

var _ Provider = (*TableProvider)(nil)
