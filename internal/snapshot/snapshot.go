// Package snapshot is the durable whole-value store the registry writes its
// active-layer list through after every mutation. Values are opaque JSON
// blobs; there is no partial patching, so a crash can never leave a
// half-written collection behind.
package snapshot

import "context"

// Store is a key-value blob store with whole-value semantics.
type Store interface {
	// Get returns the stored value, or ok=false when the key is absent.
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	Set(ctx context.Context, key string, val []byte) error
	Remove(ctx context.Context, key string) error
}
