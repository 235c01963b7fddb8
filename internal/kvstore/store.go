// Package kvstore implements the key-value-backed filesystem engine: path
// resolution, root bootstrap, file/directory creation, removal, rename, and
// the file-to-store sync path, per spec 4.G. The engine is generic over any
// KeyValueStore (memkv's in-memory map, s3kv's S3-backed store), so the same
// engine serves both the "sync" in-memory mount and the "async" network
// backend the spec describes as two variants of one algorithm.
package kvstore

import "context"

// KeyValueStore is the storage primitive the engine builds a filesystem on
// top of: a namespaced map from opaque keys to byte blobs, with
// transactional get/put/delete.
type KeyValueStore interface {
	Name() string
	Clear(ctx context.Context) error
	BeginTransaction(ctx context.Context, readOnly bool) (Transaction, error)
}

// Transaction is a single read or read-write pass over a KeyValueStore.
type Transaction interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Put writes key=data. When overwrite is false and the key already
	// exists, it returns (false, nil) rather than an error, matching spec
	// 4.G's addNewNode collision-retry contract.
	Put(ctx context.Context, key string, data []byte, overwrite bool) (bool, error)
	Delete(ctx context.Context, key string) error
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
}
