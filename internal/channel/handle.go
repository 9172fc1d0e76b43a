package channel

import (
	"context"

	"github.com/wezm/node-simperium/internal/jsondiff"
)

// RemoteInfo accompanies an inbound update so the application can see what
// changed and why (§4.3 step 3, §4.4).
type RemoteInfo struct {
	// Original is the local-known value just before this change was
	// applied, as returned by the installed beforeNetworkChange resolver
	// (or the store's own value if no resolver returned one).
	Original jsondiff.Value
	// Patch is the operation set the server sent.
	Patch jsondiff.ObjectOperationSet
	// IsIndexing is true when the update was applied while the channel
	// was indexing: index entries, and change frames applied during
	// INDEXING.
	IsIndexing bool
}

// BucketHandle is the narrow interface a Channel holds back to its owning
// Bucket (Design Note 9.2): Channels never touch the local store directly,
// they call through this handle, which the Bucket implements against its
// own bucketstore.Store and event bus.
type BucketHandle interface {
	StoreGet(ctx context.Context, id string) (jsondiff.Value, bool, error)
	StoreWrite(ctx context.Context, id string, data jsondiff.Value, isIndexing bool) error
	StoreRemove(ctx context.Context, id string) error

	// BeforeNetworkChange invokes the installed resolver, if any, falling
	// back to storeValue when the resolver is unset or returns the zero
	// Value (§4.4's "or the store's value if it returns null").
	BeforeNetworkChange(id string, storeValue jsondiff.Value) jsondiff.Value

	EmitIndexing()
	EmitIndex()
	EmitUpdate(id string, data jsondiff.Value, info RemoteInfo)
	EmitRemove(id string)
	EmitError(err error)
}
