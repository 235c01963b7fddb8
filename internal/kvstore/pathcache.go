package kvstore

import "sync"

// pathCache memoizes fullPath -> resolved node id, the optional LRU
// described in spec 4.G ("async engine only"). It is deliberately unbounded
// here (a single VFS mount rarely holds enough distinct paths to matter);
// what the spec actually requires — disable-and-clear around rename — is
// the behavior callers rely on, not eviction.
type pathCache struct {
	mu        sync.Mutex
	supported bool // set at construction: whether this engine variant caches at all
	enabled   bool
	entries   map[string]string
}

func newPathCache(supported bool) *pathCache {
	return &pathCache{supported: supported, enabled: supported, entries: make(map[string]string)}
}

func (c *pathCache) get(path string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return "", false
	}
	id, ok := c.entries[path]
	return id, ok
}

func (c *pathCache) put(path, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.entries[path] = id
}

// disable turns off lookups/inserts and drops everything cached, for the
// duration of a rename.
func (c *pathCache) disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = false
	c.entries = make(map[string]string)
}

// enable restores caching after a rename, but only if this engine variant
// supports caching in the first place.
func (c *pathCache) enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = c.supported
}

// invalidate drops a single cached path, e.g. after removeEntry deletes it.
func (c *pathCache) invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}
