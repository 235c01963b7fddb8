// Package memkv is the in-memory KeyValueStore backend (spec 4.H): a plain
// map guarded by a mutex, with a SimpleRWTransaction that stashes pre-images
// for rollback on abort. Shaped after the teacher's internal/cache/lru.go
// map+mutex storage, minus eviction (this store is unbounded, matching the
// spec's in-memory backend).
package memkv

import (
	"context"
	"sync"

	"github.com/objectfs/vfscore/internal/kvstore"
	"github.com/objectfs/vfscore/pkg/vfserr"
)

// Store is the in-memory KeyValueStore.
type Store struct {
	mu   sync.Mutex
	name string
	data map[string][]byte
}

// New creates a named, empty in-memory store.
func New(name string) *Store {
	return &Store{name: name, data: make(map[string][]byte)}
}

func (s *Store) Name() string { return s.name }

// Clear removes all keys.
func (s *Store) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string][]byte)
	return nil
}

// BeginTransaction starts a SimpleRWTransaction. Read-only transactions
// still use the same stash mechanism; since they never Put/Delete, their
// stash stays empty and commit/abort are equivalent.
func (s *Store) BeginTransaction(_ context.Context, readOnly bool) (kvstore.Transaction, error) {
	return &simpleRWTransaction{store: s, readOnly: readOnly, modifiedKeys: map[string]struct{}{}, originalData: map[string][]byte{}}, nil
}

// simpleRWTransaction implements spec 4.G's "simple-store adapter": on first
// touch of a key it stashes the pre-image (nil if the key was absent) into
// originalData and records the key in modifiedKeys; abort restores or
// deletes per stash; commit is a no-op, since every mutation already landed
// directly in the backing map (an intentional simplification the spec
// itself notes — see Open Questions in DESIGN.md).
type simpleRWTransaction struct {
	store        *Store
	readOnly     bool
	modifiedKeys map[string]struct{}
	originalData map[string][]byte
	done         bool
}

func (tx *simpleRWTransaction) stash(key string) {
	if _, seen := tx.modifiedKeys[key]; seen {
		return
	}
	tx.modifiedKeys[key] = struct{}{}
	if v, ok := tx.store.data[key]; ok {
		cp := make([]byte, len(v))
		copy(cp, v)
		tx.originalData[key] = cp
	} else {
		tx.originalData[key] = nil
	}
}

func (tx *simpleRWTransaction) Get(_ context.Context, key string) ([]byte, error) {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	v, ok := tx.store.data[key]
	if !ok {
		return nil, vfserr.New(vfserr.ENOENT, "key not found").WithPath(key)
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (tx *simpleRWTransaction) Put(_ context.Context, key string, data []byte, overwrite bool) (bool, error) {
	if tx.readOnly {
		return false, vfserr.New(vfserr.EROFS, "put on read-only transaction").WithPath(key)
	}
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if _, exists := tx.store.data[key]; exists && !overwrite {
		return false, nil
	}
	tx.stash(key)
	cp := make([]byte, len(data))
	copy(cp, data)
	tx.store.data[key] = cp
	return true, nil
}

func (tx *simpleRWTransaction) Delete(_ context.Context, key string) error {
	if tx.readOnly {
		return vfserr.New(vfserr.EROFS, "delete on read-only transaction").WithPath(key)
	}
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	tx.stash(key)
	delete(tx.store.data, key)
	return nil
}

// Commit is a no-op: every Put/Delete already mutated the backing map, so
// there is nothing left to flush. Its only remaining job is to make the
// transaction inert against a late Abort.
func (tx *simpleRWTransaction) Commit(context.Context) error {
	tx.done = true
	return nil
}

// Abort restores every stashed key to its pre-transaction value (or deletes
// it, if it didn't exist before).
func (tx *simpleRWTransaction) Abort(context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	for key := range tx.modifiedKeys {
		if orig, ok := tx.originalData[key]; ok && orig != nil {
			tx.store.data[key] = orig
		} else {
			delete(tx.store.data, key)
		}
	}
	return nil
}
