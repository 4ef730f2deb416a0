// Package kvblob implements the KvBlob capability surface (§6): object
// get/put with ETag preconditions, list pagination, and tiering, plus the
// "verified container" set described in §5, kept per store instance.
package kvblob

import (
	"context"

	"evtcore.dev/precondition"
)

// Properties describes a blob's metadata as returned by GetProperties or
// a successful Write.
type Properties struct {
	ETag string
	Size int64
}

// Page is one page of a List enumeration.
type Page struct {
	Items     []string
	NextToken string
}

// Blob is the KvBlob capability this module depends on (§6). Every
// method takes a context and must observe cancellation between network
// round-trips (§5).
type Blob interface {
	// Exists reports whether path has an object.
	Exists(ctx context.Context, path string) (bool, error)

	// GetProperties returns the object's ETag/size, or NotFound.
	GetProperties(ctx context.Context, path string) (Properties, error)

	// Read returns the object's bytes, or NotFound if absent.
	// ContainerNotFound is returned if the container itself is missing.
	Read(ctx context.Context, path string) ([]byte, error)

	// Write stores data at path under the given precondition. On success
	// it returns the object's new ETag. A failed CreateOnly/MatchVersion
	// precondition surfaces as ConcurrencyConflict.
	Write(ctx context.Context, path string, data []byte, cond precondition.Precondition) (Properties, error)

	// Delete removes the object at path under the given precondition.
	// Deleting an absent object reports NotFound (§7: 404 on
	// recovery-delete is treated as already-absent by callers, not by
	// this capability itself, so callers can choose to tolerate it).
	Delete(ctx context.Context, path string, cond precondition.Precondition) error

	// List enumerates objects with the given prefix, paginated via the
	// substrate's native continuation token.
	List(ctx context.Context, prefix, token string, pageSize int) (Page, error)

	// SetTier requests a storage-tier change for path (component M).
	SetTier(ctx context.Context, path, tier string, highPriority bool) error

	// EnsureContainer creates the backing container/bucket if absent,
	// consulting and updating the store's own verified-container set so
	// repeat calls on the same store instance are free (§5). The set is
	// not shared between store instances: a second store for the same
	// container checks it again on its first call.
	EnsureContainer(ctx context.Context) error

	// Healthy performs a minimal round-trip to confirm the substrate is
	// reachable, for an external health-check collaborator (§1 out of
	// scope, exposed here only as a hook).
	Healthy(ctx context.Context) error
}
