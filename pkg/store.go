package dirpin

import (
	"context"

	"github.com/ipfs/go-cid"
)

// Store is the content-addressed store the publish pipeline is a client of.
// Implementations must be safe for concurrent use.
type Store interface {
	// Put packs the entries into a directory DAG and returns its root. Every entry's
	// Content is closed before Put returns.
	Put(ctx context.Context, entries DirectoryContentMap) (cid.Cid, error)
	// Get fetches the tree addressed by root. It returns ErrNotFound if the store has no
	// object for root.
	Get(ctx context.Context, root cid.Cid) (Content, error)
	// PinAdd recursively pins c. Pinning a pinned CID succeeds.
	PinAdd(ctx context.Context, c cid.Cid) error
	// PinLs lists the recursively pinned CIDs
	PinLs(ctx context.Context) ([]cid.Cid, error)
	// PinRm removes the pin on c. Unpinning an unpinned CID succeeds.
	PinRm(ctx context.Context, c cid.Cid) error
}
