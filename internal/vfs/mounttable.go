// Package vfs implements the process-wide mount table and top-level
// dispatch (spec 4.M): path normalization, longest-prefix mount resolution,
// the file descriptor table, and realpath. Grounded on the teacher's
// internal/fuse.FileSystem's openFiles map/mutex/nextHandle counter pattern
// for the fd table, and its MountManager for the shape of a manager struct
// holding mount configuration — the prefix-resolution and cross-mount
// rename-emulation logic itself has no teacher analogue (the teacher mounts
// exactly one backend at a time via the OS's FUSE layer) and follows
// spec.md directly.
package vfs

import (
	"sort"
	"strings"
	"sync"

	"github.com/objectfs/vfscore/internal/vfsbackend"
	"github.com/objectfs/vfscore/pkg/vfserr"
)

// Availabler is implemented by backends that can report a liveness check
// failure at mount time. No backend in this module implements it (s3kv's
// HeadBucket probe is exposed as HealthCheck instead, for
// StartHealthPolling). A backend that doesn't implement it is assumed
// available.
type Availabler interface {
	IsAvailable() bool
}

// MountTable maps absolute normalized prefixes to backends.
type MountTable struct {
	mu      sync.RWMutex
	mounts  map[string]vfsbackend.FileSystem
	ordered []string // prefixes sorted by descending length, rebuilt on mutation
}

// NewMountTable builds an empty mount table.
func NewMountTable() *MountTable {
	return &MountTable{mounts: make(map[string]vfsbackend.FileSystem)}
}

// Mount adds or replaces the backend at prefix.
func (t *MountTable) Mount(prefix string, fs vfsbackend.FileSystem) error {
	if a, ok := fs.(Availabler); ok && !a.IsAvailable() {
		return vfserr.New(vfserr.EINVAL, "backend is not available").WithPath(prefix)
	}
	prefix = normalizeMountPrefix(prefix)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mounts[prefix] = fs
	t.rebuildOrdered()
	return nil
}

// Unmount removes the backend at prefix, if any.
func (t *MountTable) Unmount(prefix string) {
	prefix = normalizeMountPrefix(prefix)
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.mounts, prefix)
	t.rebuildOrdered()
}

func (t *MountTable) rebuildOrdered() {
	prefixes := make([]string, 0, len(t.mounts))
	for p := range t.mounts {
		prefixes = append(prefixes, p)
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	t.ordered = prefixes
}

func normalizeMountPrefix(prefix string) string {
	if prefix == "" {
		return "/"
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if prefix != "/" {
		prefix = strings.TrimSuffix(prefix, "/")
	}
	return prefix
}

// Initialize unmounts "/" if present, then mounts every entry in mounts.
func (t *MountTable) Initialize(mounts map[string]vfsbackend.FileSystem) error {
	t.Unmount("/")
	for prefix, fs := range mounts {
		if err := t.Mount(prefix, fs); err != nil {
			return err
		}
	}
	return nil
}

// Resolve finds the longest mounted prefix of which path is a prefix,
// returning the backend and the intra-FS remainder (or "/" for an exact
// match), per spec 4.M.
func (t *MountTable) Resolve(path string) (vfsbackend.FileSystem, string, string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, prefix := range t.ordered {
		if isPrefixOf(prefix, path) {
			rel := path
			if prefix != "/" {
				rel = strings.TrimPrefix(path, prefix)
			}
			if rel == "" {
				rel = "/"
			}
			return t.mounts[prefix], prefix, rel, nil
		}
	}
	return nil, "", "", vfserr.New(vfserr.ENOENT, "no backend mounted for path").WithPath(path)
}

func isPrefixOf(prefix, path string) bool {
	if prefix == "/" {
		return true
	}
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}

// Count returns the number of backends currently mounted.
func (t *MountTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.mounts)
}

// Snapshot returns a copy of the current prefix->backend mounts, safe for
// the caller to range over without holding the table's lock.
func (t *MountTable) Snapshot() map[string]vfsbackend.FileSystem {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]vfsbackend.FileSystem, len(t.mounts))
	for prefix, fs := range t.mounts {
		out[prefix] = fs
	}
	return out
}

// MountsUnder returns the single path segment of every mount point that
// lives directly under dir (one segment deeper, no further separator), per
// spec 4.M's readdir augmentation.
func (t *MountTable) MountsUnder(dir string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	dir = normalizeMountPrefix(dir)
	prefixForJoin := dir
	if prefixForJoin != "/" {
		prefixForJoin += "/"
	}
	var names []string
	for p := range t.mounts {
		if p == "/" || p == dir {
			continue
		}
		if !strings.HasPrefix(p, prefixForJoin) {
			continue
		}
		rest := strings.TrimPrefix(p, prefixForJoin)
		if rest == "" || strings.Contains(rest, "/") {
			continue
		}
		names = append(names, rest)
	}
	return names
}
